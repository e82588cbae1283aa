package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "jobs", nil)
	require.NoError(t, err)
	return store, mock
}

func sampleDoc(t *testing.T, status scraper.JobStatus) []byte {
	t.Helper()
	doc, err := json.Marshal(scraper.Job{
		ID:        "job-1",
		Location:  "Springfield",
		Radius:    5,
		Type:      scraper.FilterBoth,
		Status:    status,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	return doc
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "jobs; DROP TABLE x", nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, "jobs", nil)
	require.Error(t, err)
	store, err := NewWithPool(mock, "", nil)
	require.NoError(t, err)
	require.Equal(t, "jobs", store.table)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	job := scraper.Job{ID: "job-1", Status: scraper.JobStatusPending, CreatedAt: created}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "pending", created, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.Create(context.Background(), scraper.Job{ID: "job-1", Status: scraper.JobStatusPending})
	require.ErrorIs(t, err, scraper.ErrDuplicateID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecodesDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM jobs WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"document"}).AddRow(sampleDoc(t, scraper.JobStatusPending)))

	job, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "Springfield", job.Location)
	require.NotNil(t, job.Results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT document FROM jobs").
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "nonexistent-id")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestGetCorrupt(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT document FROM jobs").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"document"}).AddRow([]byte("{oops")))

	_, err := store.Get(context.Background(), "job-1")
	require.ErrorIs(t, err, scraper.ErrCorruptRecord)
}

func TestUpdateLocksAndWrites(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"document"}).AddRow(sampleDoc(t, scraper.JobStatusPending)))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	job, err := store.Update(context.Background(), "job-1", func(j *scraper.Job) error {
		return j.Transition(scraper.JobStatusRunning, time.Now())
	})
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMutatorErrorRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM jobs").
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"document"}).AddRow(sampleDoc(t, scraper.JobStatusCompleted)))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), "job-1", func(j *scraper.Job) error {
		return j.Transition(scraper.JobStatusRunning, time.Now())
	})
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), "missing", func(*scraper.Job) error { return nil })
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSkipsCorruptRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, document FROM jobs ORDER BY created_at").
		WillReturnRows(mock.NewRows([]string{"id", "document"}).
			AddRow("job-1", sampleDoc(t, scraper.JobStatusPending)).
			AddRow("job-2", []byte("not json")))

	jobs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, document FROM jobs").WillReturnError(errors.New("connection reset"))

	_, err := store.List(context.Background())
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.Error(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
