package postgres

import (
	"context"
	"testing"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outletColumns() []string {
	return []string{"id", "name", "business_type", "address", "tax_id", "active", "created_at"}
}

func newTestOutlet() *domain.Outlet {
	return &domain.Outlet{
		ID:           uuid.New(),
		Name:         "Campus Cafe",
		BusinessType: domain.BusinessTypeCafe,
		Address:      "1 Main St",
		TaxID:        "TX-9",
		Active:       true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestOutletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutletRepo(mock)
	o := newTestOutlet()

	mock.ExpectExec("INSERT INTO outlets").
		WithArgs(o.ID, o.Name, "cafe", o.Address, o.TaxID, o.Active, o.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutletRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutletRepo(mock)
	o := newTestOutlet()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM outlets WHERE id .+ FOR UPDATE").
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows(outletColumns()).
			AddRow(o.ID, o.Name, o.BusinessType, o.Address, o.TaxID, o.Active, o.CreatedAt))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), tx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.BusinessTypeCafe, result.BusinessType)
}

func TestOutletRepo_List_ActiveOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutletRepo(mock)
	o := newTestOutlet()

	mock.ExpectQuery("SELECT .+ FROM outlets WHERE NOT \\$1 OR active").
		WithArgs(true).
		WillReturnRows(pgxmock.NewRows(outletColumns()).
			AddRow(o.ID, o.Name, o.BusinessType, o.Address, o.TaxID, o.Active, o.CreatedAt))

	outlets, err := repo.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, outlets, 1)
	assert.Equal(t, o.ID, outlets[0].ID)
}

func TestOutletRepo_Count(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOutletRepo(mock)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM outlets").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
