package core

import (
	"database/sql/driver"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/volatiletech/null/v8"
)

// DateOfBirthLayout is the DD-MM-YYYY layout students' dates of birth are stored with.
const DateOfBirthLayout = "02-01-2006"

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	ddmmyyyyTag  = "ddmmyyyy"
	ddmmyyyyText = "invalid date, expected DD-MM-YYYY"

	batchYearTag   = "batchyear"
	batchYearText  = "invalid batch year, expected a 4 digit year"
	batchYearRegex = regexp.MustCompile(`^\d{4}$`)

	academicYearTag   = "academicyear"
	academicYearText  = "invalid academic year, expected YYYY-YYYY"
	academicYearRegex = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// validate the underlying values of nullable types
	validate.RegisterCustomTypeFunc(nullValue, null.Float64{}, null.String{}, null.Int{})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(ddmmyyyyTag, ddmmyyyyValidation)
	RegisterCustomTranslation(validate, translator, ddmmyyyyTag, ddmmyyyyText)

	_ = validate.RegisterValidation(batchYearTag, batchYearValidation)
	RegisterCustomTranslation(validate, translator, batchYearTag, batchYearText)

	_ = validate.RegisterValidation(academicYearTag, academicYearValidation)
	RegisterCustomTranslation(validate, translator, academicYearTag, academicYearText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// TranslateFieldErrors converts validator errors into FieldErrors with human readable messages.
func TranslateFieldErrors(errs validator.ValidationErrors, translator ut.Translator) []FieldError {
	flds := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		flds = append(flds, FieldError{Field: fe.Field(), Error: fe.Translate(translator)})
	}
	return flds
}

// ParseDateOfBirth parses a DD-MM-YYYY date, tolerating single digit days and months,
// and returns it normalized to DateOfBirthLayout.
func ParseDateOfBirth(s string) (string, error) {
	t, err := time.Parse("2-1-2006", CleanString(s))
	if err != nil {
		return "", err
	}
	return t.Format(DateOfBirthLayout), nil
}

// AcademicYear derives the "{year}-{year+1}" academic year of a batch year.
func AcademicYear(batchYear string) string {
	year, err := strconv.Atoi(batchYear)
	if err != nil {
		return ""
	}
	return strconv.Itoa(year) + "-" + strconv.Itoa(year+1)
}

func nullValue(field reflect.Value) interface{} {
	if valuer, ok := field.Interface().(driver.Valuer); ok {
		if val, err := valuer.Value(); err == nil {
			return val
		}
	}
	return nil
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func ddmmyyyyValidation(fl validator.FieldLevel) bool {
	_, err := ParseDateOfBirth(fl.Field().String())
	return err == nil
}

func batchYearValidation(fl validator.FieldLevel) bool {
	return batchYearRegex.MatchString(fl.Field().String())
}

// academicYearValidation expects two consecutive years, e.g. 2023-2024.
func academicYearValidation(fl validator.FieldLevel) bool {
	m := academicYearRegex.FindStringSubmatch(fl.Field().String())
	if m == nil {
		return false
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	return to == from+1
}
