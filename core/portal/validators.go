package portal

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduanalytics/core"
)

var (
	taskStatusTag  = "taskstatus"
	taskStatusText = "invalid status, expected one of: " + strings.Join(TaskStatuses, ", ")

	priorityTag  = "priority"
	priorityText = "invalid priority, expected one of: " + strings.Join(TaskPriorities, ", ")

	submissionStatusTag  = "submissionstatus"
	submissionStatusText = "invalid status, expected one of: " + strings.Join(SubmissionStatuses, ", ")
)

// InitValidators registers the portal validations on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(taskStatusTag, oneOf(TaskStatuses))
	core.RegisterCustomTranslation(validate, translator, taskStatusTag, taskStatusText)

	_ = validate.RegisterValidation(priorityTag, oneOf(TaskPriorities))
	core.RegisterCustomTranslation(validate, translator, priorityTag, priorityText)

	_ = validate.RegisterValidation(submissionStatusTag, oneOf(SubmissionStatuses))
	core.RegisterCustomTranslation(validate, translator, submissionStatusTag, submissionStatusText)
}

func oneOf(choices []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		val := fl.Field().String()
		for _, c := range choices {
			if c == val {
				return true
			}
		}
		return false
	}
}
