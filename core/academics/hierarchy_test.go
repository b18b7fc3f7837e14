package academics_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	inmemdb "github.com/trezcool/eduanalytics/storage/database/inmem"
	testutil "github.com/trezcool/eduanalytics/tests"
)

func newResolver() (*academics.Resolver, *inmemdb.AcademicsStore) {
	validate, _ := testutil.NewValidator()
	return academics.NewResolver(validate), inmemdb.NewAcademicsStore(inmemdb.New())
}

func TestDeriveSubjectCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "Maths", want: "MATHS"},
		{name: "  data structures ", want: "DATA STRUC"},
		{name: "Computer Networks", want: "COMPUTER N"},
		{name: "Théorie des graphes", want: "THÉORIE DE"},
		{name: "Big Data X", want: "BIG DATA X"},
		{name: "Operating Systems", want: "OPERATING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, academics.DeriveSubjectCode(tt.name))
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()
	key := academics.HierarchyKey{BatchYear: " 2021 ", SemesterNumber: 3, SubjectName: " Data Structures"}

	h, err := r.Resolve(ctx, store, key)
	require.NoError(t, err)
	assert.Equal(t, "2021", h.Batch.Year)
	assert.Equal(t, 3, h.Semester.Number)
	assert.Equal(t, "2021-2022", h.Semester.AcademicYear)
	assert.Equal(t, "Data Structures", h.Subject.Name)
	assert.Equal(t, "DATA STRUC", h.Subject.Code)
	assert.Equal(t, null.IntFrom(h.Semester.ID), h.BatchSubject.SemesterID)

	t.Run("idempotent", func(t *testing.T) {
		again, err := r.Resolve(ctx, store, key)
		require.NoError(t, err)
		assert.Equal(t, h.Batch.ID, again.Batch.ID)
		assert.Equal(t, h.Semester.ID, again.Semester.ID)
		assert.Equal(t, h.Subject.ID, again.Subject.ID)
		assert.Equal(t, h.BatchSubject.ID, again.BatchSubject.ID)

		batches, err := store.QueryBatches(ctx)
		require.NoError(t, err)
		assert.Len(t, batches, 1)
	})

	t.Run("derived code taken", func(t *testing.T) {
		other, err := r.Resolve(ctx, store, academics.HierarchyKey{BatchYear: "2021", SemesterNumber: 3, SubjectName: "Data Structures II"})
		require.NoError(t, err)
		assert.Equal(t, "DATA STRUC-2", other.Subject.Code)
		assert.NotEqual(t, h.Subject.ID, other.Subject.ID)
	})

	t.Run("explicit code taken", func(t *testing.T) {
		_, err := r.Resolve(ctx, store, academics.HierarchyKey{
			BatchYear: "2021", SemesterNumber: 3, SubjectName: "Algorithms", SubjectCode: "data struc",
		})
		require.True(t, core.IsValidationError(err), err)
		assert.Equal(t, academics.ErrSubjectCodeExists.Error(), errors.Cause(err).Error())
	})

	t.Run("explicit academic year", func(t *testing.T) {
		other, err := r.Resolve(ctx, store, academics.HierarchyKey{
			BatchYear: "2021", SemesterNumber: 4, AcademicYear: "2022-2023", SubjectName: "Data Structures",
		})
		require.NoError(t, err)
		assert.Equal(t, "2022-2023", other.Semester.AcademicYear)
		assert.Equal(t, h.Subject.ID, other.Subject.ID)
		assert.NotEqual(t, h.BatchSubject.ID, other.BatchSubject.ID)
	})

	t.Run("malformed key writes nothing", func(t *testing.T) {
		_, err := r.Resolve(ctx, store, academics.HierarchyKey{BatchYear: "21", SemesterNumber: 1, SubjectName: "Compilers"})
		require.Error(t, err)
		_, err = r.Resolve(ctx, store, academics.HierarchyKey{BatchYear: "2030", SemesterNumber: 13, SubjectName: "Compilers"})
		require.Error(t, err)

		_, err = store.GetSubjectByName(ctx, "Compilers")
		assert.True(t, core.IsNotFound(err))
		_, err = store.GetBatchByYear(ctx, "2030")
		assert.True(t, core.IsNotFound(err))
	})
}

func TestResolver_Resolve_batchWideMapping(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()
	batch := testutil.CreateBatch(t, store, "2022")
	subj := testutil.CreateSubject(t, store, "Physics", "PHY")
	wide, err := store.CreateBatchSubject(ctx, academics.BatchSubject{BatchID: batch.ID, SubjectID: subj.ID})
	require.NoError(t, err)

	h, err := r.Resolve(ctx, store, academics.HierarchyKey{BatchYear: "2022", SemesterNumber: 2, SubjectName: "Physics"})
	require.NoError(t, err)
	assert.Equal(t, wide.ID, h.BatchSubject.ID)
	assert.False(t, h.BatchSubject.SemesterID.Valid)

	mappings, err := store.QueryBatchSubjects(ctx, academics.BatchSubjectFilter{BatchID: batch.ID})
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestResolver_ResolveStudent(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()
	b21 := testutil.CreateBatch(t, store, "2021")
	b22 := testutil.CreateBatch(t, store, "2022")
	testutil.CreateStudent(t, store, "21CS002", "Bob", "bob@test.edu", b21.ID)

	ident := academics.StudentIdentity{RegisterNo: "21CS001", Name: " Alice ", Email: "Alice@Test.edu", DateOfBirth: "5-3-2003"}
	st, err := r.ResolveStudent(ctx, store, ident, b21)
	require.NoError(t, err)
	assert.Equal(t, "Alice", st.Name)
	assert.Equal(t, "alice@test.edu", st.Email)
	assert.Equal(t, "05-03-2003", st.DateOfBirth)
	assert.True(t, st.IsActive)

	tests := []struct {
		name    string
		ident   academics.StudentIdentity
		batch   academics.Batch
		check   func(t *testing.T, got academics.Student)
		wantErr error
	}{
		{
			name:  "unchanged",
			ident: ident,
			batch: b21,
			check: func(t *testing.T, got academics.Student) {
				assert.Equal(t, st.ID, got.ID)
				assert.Equal(t, st.UpdatedAt, got.UpdatedAt)
			},
		},
		{
			name:  "moved and renamed, email kept",
			ident: academics.StudentIdentity{RegisterNo: "21CS001", Name: "Alice B", Email: "other@test.edu", DateOfBirth: "06-03-2003"},
			batch: b22,
			check: func(t *testing.T, got academics.Student) {
				assert.Equal(t, st.ID, got.ID)
				assert.Equal(t, "Alice B", got.Name)
				assert.Equal(t, b22.ID, got.BatchID)
				assert.Equal(t, "06-03-2003", got.DateOfBirth)
				assert.Equal(t, "alice@test.edu", got.Email)
			},
		},
		{
			name:    "new student with a taken email",
			ident:   academics.StudentIdentity{RegisterNo: "21CS003", Name: "Eve", Email: "bob@test.edu", DateOfBirth: "01-01-2003"},
			batch:   b21,
			wantErr: academics.ErrStudentEmailExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveStudent(ctx, store, tt.ident, tt.batch)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr.Error(), err.Error())
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}

	t.Run("invalid date of birth", func(t *testing.T) {
		_, err := r.ResolveStudent(ctx, store, academics.StudentIdentity{
			RegisterNo: "21CS004", Name: "Dan", Email: "dan@test.edu", DateOfBirth: "2003-01-01",
		}, b21)
		require.Error(t, err)
		_, err = store.GetStudentByRegisterNo(ctx, "21CS004")
		assert.True(t, core.IsNotFound(err))
	})
}
