package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riseschools/results-api/internal/models"
)

func newEnrollmentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentExists(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "sub-1", "sess-1", models.TermFirst).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	ok, err := repo.Exists(context.Background(), "stu-1", "sub-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments")).
		WithArgs("stu-1", "sub-2", "sess-1", models.TermFirst).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	ok, err = repo.Exists(context.Background(), "stu-1", "sub-2", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentReplaceSetSwapsInOneTransaction(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments")).
		WithArgs("stu-1", "sess-1", models.TermSecond).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ReplaceSet(context.Background(), "stu-1", "sess-1", models.TermSecond, []string{"sub-1", "sub-2"}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentListSubjectIDs(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT subject_id FROM enrollments")).
		WithArgs("stu-1", "sess-1", models.TermFirst).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}).AddRow("sub-1").AddRow("sub-2"))

	ids, err := repo.ListSubjectIDs(context.Background(), "stu-1", "sess-1", models.TermFirst)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "sub-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
