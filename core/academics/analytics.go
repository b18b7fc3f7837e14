package academics

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
)

type (
	CAAverages struct {
		CA1 null.Float64 `json:"ca1"`
		CA2 null.Float64 `json:"ca2"`
		CA3 null.Float64 `json:"ca3"`
	}

	Dashboard struct {
		Student         Student      `json:"student"`
		TotalSubjects   int          `json:"total_subjects"`
		SubjectsPassed  int          `json:"subjects_passed"`
		SubjectsFailed  int          `json:"subjects_failed"`
		CAAverages      CAAverages   `json:"ca_averages"`
		SemesterAverage null.Float64 `json:"semester_average"`
		OverallAverage  null.Float64 `json:"overall_average"`
		Rank            null.Int     `json:"rank"`
		BatchSize       int          `json:"batch_size"`
		SemPublished    bool         `json:"sem_published"`
	}

	ClassPerformance struct {
		StudentID    int          `json:"student_id"`
		MyAverage    null.Float64 `json:"my_average"`
		ClassAverage null.Float64 `json:"class_average"`
		Percentile   null.Float64 `json:"percentile"`
		BatchSize    int          `json:"batch_size"`
	}

	StudentStats struct {
		Student     Student      `json:"student"`
		AvgCA       null.Float64 `json:"avg_ca"`
		AvgSemester null.Float64 `json:"avg_sem"`
		Passed      int          `json:"passed"`
		Total       int          `json:"total"`
	}

	StudentComparison struct {
		Student1         StudentStats `json:"student1"`
		Student2         StudentStats `json:"student2"`
		CADifference     null.Float64 `json:"ca_difference"`
		SemDifference    null.Float64 `json:"sem_difference"`
		PassedDifference int          `json:"passed_difference"`
		// Winner is the id of the student with the higher CA average, null on a tie.
		Winner null.Int `json:"winner"`
	}

	BatchStats struct {
		Batch       Batch        `json:"batch"`
		Students    int          `json:"students"`
		AvgCA       null.Float64 `json:"avg_ca"`
		AvgSemester null.Float64 `json:"avg_sem"`
		Passed      int          `json:"passed"`
		Total       int          `json:"total"`
	}

	BatchComparison struct {
		Batch1           BatchStats   `json:"batch1"`
		Batch2           BatchStats   `json:"batch2"`
		CADifference     null.Float64 `json:"ca_difference"`
		SemDifference    null.Float64 `json:"sem_difference"`
		PassedDifference int          `json:"passed_difference"`
		// BetterBatch is the id of the batch with the higher CA average, null on a tie.
		BetterBatch null.Int `json:"better_batch"`
	}
)

// mean averages the defined values; undefined when none is.
type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v null.Float64) {
	if v.Valid {
		m.sum += v.Float64
		m.count++
	}
}

func (m mean) value() null.Float64 {
	if m.count == 0 {
		return null.Float64{}
	}
	return null.Float64From(m.sum / float64(m.count))
}

func round(v null.Float64) null.Float64 {
	if v.Valid {
		v.Float64 = core.Round2(v.Float64)
	}
	return v
}

func diff(a, b null.Float64) null.Float64 {
	if !a.Valid || !b.Valid {
		return null.Float64{}
	}
	return null.Float64From(core.Round2(a.Float64 - b.Float64))
}

// higher returns the id holding the strictly higher value, null when equal or undefined.
func higher(id1 int, v1 null.Float64, id2 int, v2 null.Float64) null.Int {
	switch {
	case !v1.Valid && !v2.Valid:
		return null.Int{}
	case !v2.Valid || (v1.Valid && v1.Float64 > v2.Float64):
		return null.IntFrom(id1)
	case !v1.Valid || v2.Float64 > v1.Float64:
		return null.IntFrom(id2)
	}
	return null.Int{}
}

// caAverage is the mean of the defined CA averages of marks.
func caAverage(marks []Mark) null.Float64 {
	var avg mean
	for _, m := range marks {
		avg.add(m.Scores().CAAverage())
	}
	return avg.value()
}

// semesterAverage is the mean of the published semester marks.
func semesterAverage(marks []Mark) null.Float64 {
	var avg mean
	for _, m := range marks {
		if m.SemPublished {
			avg.add(m.SemesterMarks)
		}
	}
	return avg.value()
}

// overallAverage weighs CA and semester results equally; a missing side counts as 0.
func overallAverage(marks []Mark) null.Float64 {
	var ca mean
	for _, m := range marks {
		ca.add(m.CA1)
		ca.add(m.CA2)
		ca.add(m.CA3)
	}
	caAvg, semAvg := ca.value(), semesterAverage(marks)
	if !caAvg.Valid && !semAvg.Valid {
		return null.Float64{}
	}
	return null.Float64From(.5*caAvg.Float64 + .5*semAvg.Float64)
}

func passedCount(marks []Mark) int {
	var passed int
	for _, m := range marks {
		if m.IsPassed() {
			passed++
		}
	}
	return passed
}

func groupByStudent(marks []Mark) map[int][]Mark {
	grouped := make(map[int][]Mark)
	for _, m := range marks {
		grouped[m.StudentID] = append(grouped[m.StudentID], m)
	}
	return grouped
}

func (svc *Service) batchMarks(ctx context.Context, batchID int) (map[int][]Mark, error) {
	marks, err := svc.store.QueryMarks(ctx, MarkFilter{BatchID: batchID})
	if err != nil {
		return nil, errors.Wrap(err, "querying batch marks")
	}
	return groupByStudent(marks), nil
}

// StudentDashboard summarizes the results of a student and ranks them within their batch.
func (svc *Service) StudentDashboard(ctx context.Context, studentID int) (Dashboard, error) {
	st, err := svc.store.GetStudentByID(ctx, studentID)
	if err != nil {
		return Dashboard{}, err
	}
	byStudent, err := svc.batchMarks(ctx, st.BatchID)
	if err != nil {
		return Dashboard{}, err
	}
	marks := byStudent[st.ID]

	var ca1, ca2, ca3 mean
	for _, m := range marks {
		ca1.add(m.CA1)
		ca2.add(m.CA2)
		ca3.add(m.CA3)
	}

	dash := Dashboard{
		Student:         st,
		TotalSubjects:   len(marks),
		SubjectsPassed:  passedCount(marks),
		CAAverages:      CAAverages{CA1: round(ca1.value()), CA2: round(ca2.value()), CA3: round(ca3.value())},
		SemesterAverage: round(semesterAverage(marks)),
		BatchSize:       len(byStudent),
	}
	dash.SubjectsFailed = dash.TotalSubjects - dash.SubjectsPassed
	for _, m := range marks {
		if m.SemPublished {
			dash.SemPublished = true
			break
		}
	}

	overall := overallAverage(marks)
	dash.OverallAverage = round(overall)
	if overall.Valid {
		rank := 1
		for id, peerMarks := range byStudent {
			if id == st.ID {
				continue
			}
			if peer := overallAverage(peerMarks); peer.Valid && peer.Float64 > overall.Float64 {
				rank++
			}
		}
		dash.Rank = null.IntFrom(rank)
	}
	return dash, nil
}

// StudentClassPerformance compares the CA average of a student with their batch.
func (svc *Service) StudentClassPerformance(ctx context.Context, studentID int) (ClassPerformance, error) {
	st, err := svc.store.GetStudentByID(ctx, studentID)
	if err != nil {
		return ClassPerformance{}, err
	}
	byStudent, err := svc.batchMarks(ctx, st.BatchID)
	if err != nil {
		return ClassPerformance{}, err
	}

	perf := ClassPerformance{StudentID: st.ID, BatchSize: len(byStudent)}
	mine := caAverage(byStudent[st.ID])
	perf.MyAverage = round(mine)

	var class mean
	var defined, below int
	for _, marks := range byStudent {
		avg := caAverage(marks)
		if !avg.Valid {
			continue
		}
		class.add(avg)
		defined++
		if mine.Valid && avg.Float64 <= mine.Float64 {
			below++
		}
	}
	perf.ClassAverage = round(class.value())
	if mine.Valid && defined > 0 {
		perf.Percentile = null.Float64From(core.Round2(float64(below) / float64(defined) * 100))
	}
	return perf, nil
}

func (svc *Service) studentStats(ctx context.Context, studentID int) (StudentStats, error) {
	st, err := svc.store.GetStudentByID(ctx, studentID)
	if err != nil {
		return StudentStats{}, err
	}
	marks, err := svc.store.QueryMarks(ctx, MarkFilter{StudentIDs: []int{st.ID}})
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "querying marks")
	}
	return StudentStats{
		Student:     st,
		AvgCA:       round(caAverage(marks)),
		AvgSemester: round(semesterAverage(marks)),
		Passed:      passedCount(marks),
		Total:       len(marks),
	}, nil
}

func (svc *Service) CompareStudents(ctx context.Context, id1, id2 int) (StudentComparison, error) {
	s1, err := svc.studentStats(ctx, id1)
	if err != nil {
		return StudentComparison{}, err
	}
	s2, err := svc.studentStats(ctx, id2)
	if err != nil {
		return StudentComparison{}, err
	}
	return StudentComparison{
		Student1:         s1,
		Student2:         s2,
		CADifference:     diff(s1.AvgCA, s2.AvgCA),
		SemDifference:    diff(s1.AvgSemester, s2.AvgSemester),
		PassedDifference: s1.Passed - s2.Passed,
		Winner:           higher(s1.Student.ID, s1.AvgCA, s2.Student.ID, s2.AvgCA),
	}, nil
}

func (svc *Service) batchStats(ctx context.Context, batchID int) (BatchStats, error) {
	batch, err := svc.store.GetBatchByID(ctx, batchID)
	if err != nil {
		return BatchStats{}, err
	}
	marks, err := svc.store.QueryMarks(ctx, MarkFilter{BatchID: batch.ID})
	if err != nil {
		return BatchStats{}, errors.Wrap(err, "querying marks")
	}
	counts, err := svc.store.CountStudentsByBatch(ctx)
	if err != nil {
		return BatchStats{}, errors.Wrap(err, "counting students")
	}
	return BatchStats{
		Batch:       batch,
		Students:    counts[batch.ID],
		AvgCA:       round(caAverage(marks)),
		AvgSemester: round(semesterAverage(marks)),
		Passed:      passedCount(marks),
		Total:       len(marks),
	}, nil
}

func (svc *Service) CompareBatches(ctx context.Context, id1, id2 int) (BatchComparison, error) {
	b1, err := svc.batchStats(ctx, id1)
	if err != nil {
		return BatchComparison{}, err
	}
	b2, err := svc.batchStats(ctx, id2)
	if err != nil {
		return BatchComparison{}, err
	}
	return BatchComparison{
		Batch1:           b1,
		Batch2:           b2,
		CADifference:     diff(b1.AvgCA, b2.AvgCA),
		SemDifference:    diff(b1.AvgSemester, b2.AvgSemester),
		PassedDifference: b1.Passed - b2.Passed,
		BetterBatch:      higher(b1.Batch.ID, b1.AvgCA, b2.Batch.ID, b2.AvgCA),
	}, nil
}
