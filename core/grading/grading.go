// Package grading holds the pure derivations of continuous assessment (CA) and semester results.
// Undefined values are represented with null types, never zeros.
package grading

import (
	"strings"

	"github.com/volatiletech/null/v8"
)

type Grade string

const (
	GradeO      Grade = "O"
	GradeAPlus  Grade = "A+"
	GradeA      Grade = "A"
	GradeBPlus  Grade = "B+"
	GradeB      Grade = "B"
	GradeC      Grade = "C"
	GradeReAppr Grade = "RA"
)

const (
	// PassMark is the minimal CA average needed to pass.
	PassMark = 30.0

	StatusPassed = "Passed"
	StatusFailed = "Failed"
)

var (
	// Grades are ordered from the highest band to the lowest.
	Grades = []Grade{GradeO, GradeAPlus, GradeA, GradeBPlus, GradeB, GradeC, GradeReAppr}

	// lower bounds, inclusive
	bands = []struct {
		min   float64
		grade Grade
	}{
		{91, GradeO},
		{81, GradeAPlus},
		{71, GradeA},
		{61, GradeBPlus},
		{56, GradeB},
		{50, GradeC},
	}

	midpoints = map[Grade]float64{
		GradeO:      95.5,
		GradeAPlus:  85.5,
		GradeA:      75.5,
		GradeBPlus:  65.5,
		GradeB:      58,
		GradeC:      52.5,
		GradeReAppr: 24.5,
	}

	descriptions = map[Grade]string{
		GradeO:      "Outstanding (91-100)",
		GradeAPlus:  "Excellent (81-90)",
		GradeA:      "Very Good (71-80)",
		GradeBPlus:  "Good (61-70)",
		GradeB:      "Average (56-60)",
		GradeC:      "Satisfactory (50-55)",
		GradeReAppr: "Re-Appear (<50)",
	}
)

func (g Grade) String() string { return string(g) }

func (g Grade) IsValid() bool {
	_, ok := midpoints[g]
	return ok
}

// IsPass reports whether g is a passing semester grade (anything but RA).
func (g Grade) IsPass() bool {
	return g.IsValid() && g != GradeReAppr
}

// Midpoint approximates the marks a grade stands for, e.g. to average letter grades.
func (g Grade) Midpoint() float64 {
	return midpoints[g]
}

func (g Grade) Description() string {
	return descriptions[g]
}

// ParseGrade parses a grade token case-insensitively ("a+" -> A+).
func ParseGrade(s string) (Grade, bool) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", false
	}
	return g, true
}

// Scores are the raw, optional marks of one subject in one semester.
type Scores struct {
	CA1      null.Float64
	CA2      null.Float64
	CA3      null.Float64
	Semester null.Float64
}

// CAAverage is the mean of the defined CA components; undefined unless at least 2 are defined.
func CAAverage(ca1, ca2, ca3 null.Float64) null.Float64 {
	var sum float64
	var count int
	for _, ca := range []null.Float64{ca1, ca2, ca3} {
		if ca.Valid {
			sum += ca.Float64
			count++
		}
	}
	if count < 2 {
		return null.Float64{}
	}
	return null.Float64From(sum / float64(count))
}

// CATotal sums the defined CA components.
func CATotal(ca1, ca2, ca3 null.Float64) float64 {
	var total float64
	for _, ca := range []null.Float64{ca1, ca2, ca3} {
		if ca.Valid {
			total += ca.Float64
		}
	}
	return total
}

func CAPassed(avg null.Float64) bool {
	return avg.Valid && avg.Float64 >= PassMark
}

func CAStatus(avg null.Float64) string {
	if CAPassed(avg) {
		return StatusPassed
	}
	return StatusFailed
}

// SemesterGrade maps semester marks onto their grade band. Undefined for null or non-positive marks.
func SemesterGrade(marks null.Float64) (Grade, bool) {
	if !IsPublished(marks) {
		return "", false
	}
	for _, band := range bands {
		if marks.Float64 >= band.min {
			return band.grade, true
		}
	}
	return GradeReAppr, true
}

// SemesterStatus is "Passed" or "Failed" for published marks, empty otherwise.
func SemesterStatus(marks null.Float64) string {
	grade, ok := SemesterGrade(marks)
	if !ok {
		return ""
	}
	if grade.IsPass() {
		return StatusPassed
	}
	return StatusFailed
}

// IsPublished reports whether semester results are released, i.e. marks are present and > 0.
func IsPublished(marks null.Float64) bool {
	return marks.Valid && marks.Float64 > 0
}

func (s Scores) CAAverage() null.Float64 { return CAAverage(s.CA1, s.CA2, s.CA3) }
func (s Scores) CATotal() float64        { return CATotal(s.CA1, s.CA2, s.CA3) }
func (s Scores) CAStatus() string        { return CAStatus(s.CAAverage()) }
func (s Scores) IsPublished() bool       { return IsPublished(s.Semester) }

// IsPassed applies the derived semester grade.
func (s Scores) IsPassed() bool {
	return IsPassed(s, "")
}

// IsPassed reports whether a subject is passed: the CA average must reach PassMark and,
// once semester results are published, the semester grade must not be RA.
// A non-empty explicit grade takes precedence over the one derived from the semester marks.
func IsPassed(s Scores, explicit Grade) bool {
	if !CAPassed(s.CAAverage()) {
		return false
	}
	if !s.IsPublished() {
		return true
	}
	return EffectiveGrade(s.Semester, explicit).IsPass()
}

// EffectiveGrade returns explicit when it is a valid grade, else the grade derived from marks.
// The result is empty when neither is defined.
func EffectiveGrade(marks null.Float64, explicit Grade) Grade {
	if explicit.IsValid() {
		return explicit
	}
	grade, _ := SemesterGrade(marks)
	return grade
}

// Distribution counts occurrences of every grade; all grades are present in the result.
func Distribution(grades []Grade) map[Grade]int {
	dist := make(map[Grade]int, len(Grades))
	for _, g := range Grades {
		dist[g] = 0
	}
	for _, g := range grades {
		if g.IsValid() {
			dist[g]++
		}
	}
	return dist
}
