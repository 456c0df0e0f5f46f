package catalog

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-escrow/internal/adapter/storage"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/port"
)

var (
	_ port.EventCatalog = (*Memory)(nil)
	_ port.EventCatalog = (*MySQL)(nil)
)

func sampleEvent(id string) *domain.Event {
	return &domain.Event{
		ID:     id,
		Status: domain.ApprovalStatusPending,
		Dates: []domain.EventDate{
			{ID: id + "-d1", StartsAt: time.Date(2026, 7, 1, 19, 0, 0, 0, time.UTC), Status: domain.ApprovalStatusPending},
		},
	}
}

type countingHandler struct {
	notices []domain.ApprovalNotice
}

func (c *countingHandler) HandleApproval(ctx context.Context, n domain.ApprovalNotice) (int, error) {
	c.notices = append(c.notices, n)
	return 1, nil
}

func TestMemory_RecordingFollowsNotices(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(sampleEvent("e1"))
	next := &countingHandler{}
	h := m.Recording(next)

	_, err := h.HandleApproval(ctx, domain.ApprovalNotice{Kind: domain.ApprovalKindEvent, EventID: "e1", Status: domain.ApprovalStatusApproved})
	require.NoError(t, err)
	_, err = h.HandleApproval(ctx, domain.ApprovalNotice{Kind: domain.ApprovalKindDate, EventID: "e1", DateID: "e1-d1", Status: domain.ApprovalStatusApproved})
	require.NoError(t, err)

	e, err := m.GetEventByID(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, e.Approved("e1-d1"))
	assert.Len(t, next.notices, 2)

	_, err = h.HandleApproval(ctx, domain.ApprovalNotice{Kind: domain.ApprovalKindDate, Status: domain.ApprovalStatusApproved})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, next.notices, 2)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(sampleEvent("e1"))

	e, err := m.GetEventByID(ctx, "e1")
	require.NoError(t, err)
	e.Dates[0].Status = domain.ApprovalStatusApproved

	again, err := m.GetEventByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, again.Dates[0].Status)

	missing, err := m.GetEventByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/ticket_escrow?parseTime=true"
	}

	db, err := storage.OpenMySQL(dsn, 5, 5)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	require.NoError(t, storage.EnsureSchema(context.Background(), db))
	return db
}

func TestMySQL_SaveAndGet(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	c := NewMySQL(db)
	e := sampleEvent("test-event-" + uuid.NewString())

	require.NoError(t, c.Save(ctx, e))
	got, err := c.GetEventByID(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Dates, 1)
	assert.True(t, got.Dates[0].StartsAt.Equal(e.Dates[0].StartsAt))

	missing, err := c.GetEventByID(ctx, "missing-event")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
