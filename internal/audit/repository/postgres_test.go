package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"orphan-recovery/internal/audit/domain"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	a := &domain.AuditLog{
		ID: "a-1", Action: domain.ActionOrphanDeleted, EmailHash: "hash", IdentityID: "id-1",
		CorrelationID: "corr-1", Metadata: "", CreatedAt: now,
	}
	mock.ExpectExec(regexp.QuoteMeta(createSQL)).
		WithArgs("a-1", domain.ActionOrphanDeleted, "hash", "id-1", "corr-1", "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresRepository(mock).Create(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListByEmailHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "action", "email_hash", "identity_id", "correlation_id", "metadata", "created_at"}).
		AddRow("a-2", domain.ActionOrphanDeleted, "hash", "id-1", "corr-2", "", now).
		AddRow("a-1", domain.ActionCleanupCodeIssued, "hash", "id-1", "corr-1", "", now.Add(-time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta(listByEmailHashSQL)).WithArgs("hash", int32(10)).WillReturnRows(rows)

	list, err := NewPostgresRepository(mock).ListByEmailHash(context.Background(), "hash", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-2", list[0].ID)
	assert.Equal(t, domain.ActionCleanupCodeIssued, list[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}
