package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

var none = null.Float64{}

func f(v float64) null.Float64 { return null.Float64From(v) }

func TestCAAverage(t *testing.T) {
	tests := []struct {
		name       string
		ca1        null.Float64
		ca2        null.Float64
		ca3        null.Float64
		want       null.Float64
		wantStatus string
	}{
		{name: "all null", ca1: none, ca2: none, ca3: none, want: none, wantStatus: StatusFailed},
		{name: "only ca1", ca1: f(60), ca2: none, ca3: none, want: none, wantStatus: StatusFailed},
		{name: "only ca2", ca1: none, ca2: f(45), ca3: none, want: none, wantStatus: StatusFailed},
		{name: "only ca3", ca1: none, ca2: none, ca3: f(100), want: none, wantStatus: StatusFailed},
		{name: "30 & 30", ca1: f(30), ca2: f(30), ca3: none, want: f(30), wantStatus: StatusPassed},
		{name: "25 & 20", ca1: f(25), ca2: f(20), ca3: none, want: f(22.5), wantStatus: StatusFailed},
		{name: "ca1 & ca3", ca1: f(40), ca2: none, ca3: f(50), want: f(45), wantStatus: StatusPassed},
		{name: "all three", ca1: f(30), ca2: f(40), ca3: f(50), want: f(40), wantStatus: StatusPassed},
		{name: "zeros count", ca1: f(0), ca2: f(0), ca3: none, want: f(0), wantStatus: StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CAAverage(tt.ca1, tt.ca2, tt.ca3)
			assert.Equal(t, tt.want.Valid, got.Valid)
			if tt.want.Valid {
				assert.InDelta(t, tt.want.Float64, got.Float64, 1e-9)
			}
			assert.Equal(t, tt.wantStatus, CAStatus(got))
		})
	}
}

func TestCATotal(t *testing.T) {
	assert.Equal(t, 0.0, CATotal(none, none, none))
	assert.Equal(t, 90.0, CATotal(f(40), none, f(50)))
}

func TestSemesterGrade(t *testing.T) {
	tests := []struct {
		marks  null.Float64
		want   Grade
		wantOk bool
	}{
		{marks: none},
		{marks: f(0)},
		{marks: f(-5)},
		{marks: f(100), want: GradeO, wantOk: true},
		{marks: f(91), want: GradeO, wantOk: true},
		{marks: f(90.99), want: GradeAPlus, wantOk: true},
		{marks: f(90), want: GradeAPlus, wantOk: true},
		{marks: f(81), want: GradeAPlus, wantOk: true},
		{marks: f(80), want: GradeA, wantOk: true},
		{marks: f(71), want: GradeA, wantOk: true},
		{marks: f(70), want: GradeBPlus, wantOk: true},
		{marks: f(61), want: GradeBPlus, wantOk: true},
		{marks: f(60), want: GradeB, wantOk: true},
		{marks: f(56), want: GradeB, wantOk: true},
		{marks: f(55.5), want: GradeC, wantOk: true},
		{marks: f(50), want: GradeC, wantOk: true},
		{marks: f(49), want: GradeReAppr, wantOk: true},
		{marks: f(0.5), want: GradeReAppr, wantOk: true},
	}
	for _, tt := range tests {
		name := "null"
		if tt.marks.Valid {
			name = tt.want.String()
		}
		t.Run(name, func(t *testing.T) {
			got, ok := SemesterGrade(tt.marks)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSemesterGrade_monotone(t *testing.T) {
	rank := make(map[Grade]int, len(Grades))
	for i, g := range Grades {
		rank[g] = len(Grades) - i
	}
	prev := 0
	for m := 1; m <= 100; m++ {
		g, ok := SemesterGrade(f(float64(m)))
		if !assert.True(t, ok, "marks %d", m) {
			return
		}
		assert.GreaterOrEqual(t, rank[g], prev, "marks %d", m)
		prev = rank[g]
	}
}

func TestIsPassed(t *testing.T) {
	tests := []struct {
		name     string
		scores   Scores
		explicit Grade
		want     bool
	}{
		{name: "ca 35, no semester", scores: Scores{CA1: f(35), CA2: f(35)}, want: true},
		{name: "ca 35, semester B+", scores: Scores{CA1: f(35), CA2: f(35), Semester: f(60)}, want: true},
		{name: "ca 35, semester RA", scores: Scores{CA1: f(35), CA2: f(35), Semester: f(10)}, want: false},
		{name: "ca 20, no semester", scores: Scores{CA1: f(20), CA2: f(20)}, want: false},
		{name: "ca 20, semester O", scores: Scores{CA1: f(20), CA2: f(20), Semester: f(95)}, want: false},
		{name: "ca undefined", scores: Scores{CA1: f(90), Semester: f(95)}, want: false},
		{name: "semester zero is unpublished", scores: Scores{CA1: f(35), CA2: f(35), Semester: f(0)}, want: true},
		{name: "explicit grade wins", scores: Scores{CA1: f(35), CA2: f(35), Semester: f(10)}, explicit: GradeA, want: true},
		{name: "explicit RA", scores: Scores{CA1: f(35), CA2: f(35), Semester: f(95)}, explicit: GradeReAppr, want: false},
		{name: "explicit grade ignored when unpublished", scores: Scores{CA1: f(35), CA2: f(35)}, explicit: GradeReAppr, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPassed(tt.scores, tt.explicit))
		})
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		in     string
		want   Grade
		wantOk bool
	}{
		{in: "O", want: GradeO, wantOk: true},
		{in: "a+", want: GradeAPlus, wantOk: true},
		{in: " b+ ", want: GradeBPlus, wantOk: true},
		{in: "ra", want: GradeReAppr, wantOk: true},
		{in: "F"},
		{in: "A++"},
		{in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseGrade(tt.in)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGradeMetadata(t *testing.T) {
	assert.Equal(t, 95.5, GradeO.Midpoint())
	assert.Equal(t, 58.0, GradeB.Midpoint())
	assert.Equal(t, "Re-Appear (<50)", GradeReAppr.Description())
	assert.True(t, GradeC.IsPass())
	assert.False(t, GradeReAppr.IsPass())
	assert.False(t, Grade("Z").IsPass())
}

func TestDistribution(t *testing.T) {
	got := Distribution([]Grade{GradeO, GradeO, GradeReAppr, "", "Z", GradeB})
	assert.Len(t, got, len(Grades))
	assert.Equal(t, 2, got[GradeO])
	assert.Equal(t, 1, got[GradeReAppr])
	assert.Equal(t, 1, got[GradeB])
	assert.Equal(t, 0, got[GradeAPlus])
}
