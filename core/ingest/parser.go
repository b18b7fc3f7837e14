package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/grading"
)

// Columns, matched case-insensitively.
const (
	ColRegisterNo    = "register_no"
	ColStudentName   = "student_name"
	ColEmail         = "email"
	ColBatchYear     = "batch_year"
	ColSemester      = "semester"
	ColSubjectName   = "subject_name"
	ColSubjectCode   = "subject_code"
	ColAcademicYear  = "academic_year"
	ColCA1           = "ca1"
	ColCA2           = "ca2"
	ColCA3           = "ca3"
	ColSemesterMarks = "semester_marks"
	ColSemGrade      = "sem_grade"
	ColDateOfBirth   = "date_of_birth"
)

// DefaultSemester is used when the file has no Semester column.
const DefaultSemester = 1

var (
	// RequiredColumns must be present in the header and filled in on every row.
	RequiredColumns = []string{ColRegisterNo, ColStudentName, ColEmail, ColBatchYear, ColSubjectName, ColDateOfBirth}

	ErrInvalidFile    = errors.New("invalid CSV file")
	ErrMissingColumns = errors.New("missing required columns")

	utf8BOM = []byte{0xEF, 0xBB, 0xBF}
)

// Row is a parsed data row of an upload.
type Row struct {
	Line     int // line number in the file, the header being line 1
	Identity academics.StudentIdentity
	Key      academics.HierarchyKey
	Patch    academics.MarkPatch
}

// Parser reads the rows of an upload. The header is read by NewParser.
type Parser struct {
	r      *csv.Reader
	header map[string]int
}

// NewParser reads the header of r. A missing or incomplete header is an ErrInvalidFile validation error.
func NewParser(r io.Reader) (*Parser, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	fields, err := cr.Read()
	if err == io.EOF {
		return nil, core.NewValidationError(ErrInvalidFile, core.FieldError{Field: "file", Error: "file is empty"})
	} else if err != nil {
		return nil, core.NewValidationError(ErrInvalidFile, core.FieldError{Field: "file", Error: err.Error()})
	}

	header := make(map[string]int, len(fields))
	for i, f := range fields {
		col := core.CleanString(f, true /* lower */)
		if _, dup := header[col]; !dup && col != "" {
			header[col] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, core.NewValidationError(ErrMissingColumns, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("%s: %s", ErrMissingColumns, strings.Join(missing, ", ")),
		})
	}
	return &Parser{r: cr, header: header}, nil
}

// HasColumn reports whether the header holds col.
func (p *Parser) HasColumn(col string) bool {
	_, ok := p.header[col]
	return ok
}

// Next returns the next row, io.EOF after the last one.
// A malformed row is returned as a *RowError; reading can go on after it.
func (p *Parser) Next() (Row, error) {
	record, err := p.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return Row{}, &RowError{Row: perr.StartLine, Kind: RowValidation, Err: perr.Err}
		}
		return Row{}, err
	}
	line, _ := p.r.FieldPos(0)
	row, err := p.parse(record)
	row.Line = line
	if err != nil {
		return row, &RowError{Row: line, Kind: RowValidation, Err: err}
	}
	return row, nil
}

// cell returns the trimmed value of col and whether the column exists.
// Short records read as empty cells.
func (p *Parser) cell(record []string, col string) (string, bool) {
	idx, ok := p.header[col]
	if !ok {
		return "", false
	}
	if idx >= len(record) {
		return "", true
	}
	return strings.TrimSpace(record[idx]), true
}

func (p *Parser) parse(record []string) (Row, error) {
	var row Row
	get := func(col string) string {
		v, _ := p.cell(record, col)
		return v
	}

	var missing []string
	for _, col := range RequiredColumns {
		if get(col) == "" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return row, errors.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	dob, err := core.ParseDateOfBirth(get(ColDateOfBirth))
	if err != nil {
		return row, errors.Errorf("invalid date of birth %q, expected DD-MM-YYYY (e.g. 15-03-2005)", get(ColDateOfBirth))
	}
	row.Identity = academics.StudentIdentity{
		RegisterNo:  get(ColRegisterNo),
		Name:        get(ColStudentName),
		Email:       get(ColEmail),
		DateOfBirth: dob,
	}

	semester := DefaultSemester
	if v, ok := p.cell(record, ColSemester); ok {
		if semester, err = strconv.Atoi(v); err != nil {
			return row, errors.Errorf("invalid semester %q", v)
		}
	}
	row.Key = academics.HierarchyKey{
		BatchYear:      get(ColBatchYear),
		SemesterNumber: semester,
		AcademicYear:   get(ColAcademicYear),
		SubjectName:    get(ColSubjectName),
		SubjectCode:    get(ColSubjectCode),
	}

	for _, ca := range []struct {
		col string
		dst **null.Float64
	}{
		{ColCA1, &row.Patch.CA1},
		{ColCA2, &row.Patch.CA2},
		{ColCA3, &row.Patch.CA3},
	} {
		v, ok := p.cell(record, ca.col)
		if !ok {
			continue
		}
		score := null.Float64{}
		if v != "" {
			f, err := parseScore(v)
			if err != nil {
				return row, errors.Errorf("invalid %s %q, expected a number", strings.ToUpper(ca.col), v)
			}
			score = null.Float64From(f)
		}
		*ca.dst = &score
	}

	// unreadable semester marks are not published yet
	if v, ok := p.cell(record, ColSemesterMarks); ok {
		score := null.Float64{}
		if f, err := parseScore(v); err == nil {
			score = null.Float64From(f)
		}
		row.Patch.SemesterMarks = &score
	}

	if v := get(ColSemGrade); v != "" {
		g, ok := grading.ParseGrade(v)
		if !ok {
			return row, errors.Errorf("invalid SEM_Grade %q, expected one of: %s", v, gradesList())
		}
		row.Patch.SemGrade = &g
	}
	return row, nil
}

func parseScore(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Errorf("invalid score %q", s)
	}
	return f, nil
}

func gradesList() string {
	names := make([]string, 0, len(grading.Grades))
	for _, g := range grading.Grades {
		names = append(names, g.String())
	}
	return strings.Join(names, ", ")
}
