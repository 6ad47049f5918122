package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fleet-import/internal/domain"
)

func TestEnsureTableSkipsWhenNotRequested(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	m := domain.VehicleMapping() // create_table=false
	require.NoError(t, repo.EnsureTable(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableBuildsColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	m := &domain.MappingConfig{
		TargetTable: "assets",
		CreateTable: true,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "tag", DBColumn: "tag", Type: domain.FieldString, Unique: true},
			{SourceColumn: "bought", DBColumn: "bought_at", Type: domain.FieldDate},
			{SourceColumn: "price", DBColumn: "price", Type: domain.FieldDecimal},
		},
	}
	mock.ExpectExec(regexp.QuoteMeta(
		`CREATE TABLE IF NOT EXISTS "assets" (id UUID PRIMARY KEY, job_id UUID, "tag" TEXT UNIQUE, "bought_at" DATE, "price" NUMERIC(14,2), created_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
	)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureTable(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingProbesOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "placa" FROM "imported_vehicles" WHERE "placa" = ANY($1)`)).
		WithArgs(pq.Array([]string{"ABC1D23", "DEF4E56"})).
		WillReturnRows(sqlmock.NewRows([]string{"placa"}).AddRow("ABC1D23"))

	got, err := repo.Existing(context.Background(), "imported_vehicles", "placa", []string{"ABC1D23", "DEF4E56"})
	require.NoError(t, err)
	assert.True(t, got["ABC1D23"])
	assert.False(t, got["DEF4E56"])
}

func TestExistingEmptyInput(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	got, err := repo.Existing(context.Background(), "imported_vehicles", "placa", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsBulkPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT bulk_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "imported_vehicles"`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	inserted, failed, err := repo.InsertRows(context.Background(), "imported_vehicles", "job-1",
		[]string{"modelo", "placa"},
		[][]any{{"Gol", "ABC1D23"}, {"Uno", "DEF4E56"}})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Empty(t, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsFallbackIsolatesBadRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	uniqueErr := &pq.Error{Code: "23505"}

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT bulk_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "imported_vehicles"`).WillReturnError(uniqueErr)
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT bulk_insert`).WillReturnResult(sqlmock.NewResult(0, 0))

	// row 0 inserts, row 1 hits the unique constraint
	mock.ExpectExec(`SAVEPOINT row_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "imported_vehicles"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`RELEASE SAVEPOINT row_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SAVEPOINT row_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "imported_vehicles"`).WillReturnError(uniqueErr)
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT row_insert`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, failed, err := repo.InsertRows(context.Background(), "imported_vehicles", "job-1",
		[]string{"modelo", "placa"},
		[][]any{{"Gol", "ABC1D23"}, {"Uno", "ABC1D23"}})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.True(t, IsUniqueViolation(failed[0].Err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	inserted, failed, err := repo.InsertRows(context.Background(), "t", "job-1", []string{"a"}, nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Empty(t, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}

func TestResolveFKFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	fk := &domain.ForeignKey{Table: "owners", LookupColumn: "document", OnMissing: domain.FKError}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "owners" WHERE "document" = $1`)).
		WithArgs("123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("owner-1"))

	id, err := repo.ResolveFK(context.Background(), fk, "123")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "owner-1", *id)
}

func TestResolveFKMissingBehaviors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTargetRepo(db)

	empty := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"id"}) }

	// ignore → NULL
	fk := &domain.ForeignKey{Table: "owners", LookupColumn: "document", OnMissing: domain.FKIgnore}
	mock.ExpectQuery(`SELECT id FROM "owners"`).WithArgs("1").WillReturnRows(empty())
	id, err := repo.ResolveFK(context.Background(), fk, "1")
	require.NoError(t, err)
	assert.Nil(t, id)

	// create → placeholder insert returning id
	fk.OnMissing = domain.FKCreate
	mock.ExpectQuery(`SELECT id FROM "owners"`).WithArgs("2").WillReturnRows(empty())
	mock.ExpectQuery(`INSERT INTO "owners"`).
		WithArgs(sqlmock.AnyArg(), "2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("owner-new"))
	id, err = repo.ResolveFK(context.Background(), fk, "2")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "owner-new", *id)

	// error → sentinel
	fk.OnMissing = domain.FKError
	mock.ExpectQuery(`SELECT id FROM "owners"`).WithArgs("3").WillReturnRows(empty())
	_, err = repo.ResolveFK(context.Background(), fk, "3")
	assert.ErrorIs(t, err, ErrFKMissing)
}
