package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	cases := []struct {
		name                      string
		page, perPage, total      int
		wantPage, wantPer, wantTP int
	}{
		{"defaults", 0, 0, 120, 1, 50, 3},
		{"exact pages", 2, 20, 40, 2, 20, 2},
		{"empty", 1, 10, 0, 1, 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPagination(tc.page, tc.perPage, tc.total)
			assert.Equal(t, tc.wantPage, p.Page)
			assert.Equal(t, tc.wantPer, p.PerPage)
			assert.Equal(t, tc.wantTP, p.TotalPages)
		})
	}
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, SystemActor, ActorFromContext(ContextWithActor(context.Background(), "")))
	assert.Equal(t, "ops@example.com", ActorFromContext(ContextWithActor(context.Background(), "ops@example.com")))
}

func TestAuditLogValidate(t *testing.T) {
	require.NoError(t, AuditLog{Action: "customer.create", Entity: "customer", EntityID: "1"}.Validate())
	assert.Error(t, AuditLog{Action: "customer.create", Entity: "customer"}.Validate())
}

func TestUninitialisedStores(t *testing.T) {
	var audit *AuditLogger
	assert.Error(t, audit.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))

	store := NewIdempotencyStore(nil)
	assert.Error(t, store.CheckAndInsert(context.Background(), "k", "m"))
	assert.NoError(t, store.Delete(context.Background(), "k", "m"))
	removed, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStatusRecomputeLockKey(t *testing.T) {
	assert.Equal(t, "customers:status:recompute:all:lock", StatusRecomputeLockKey(""))
	assert.Equal(t, "customers:status:recompute:batch-7:lock", StatusRecomputeLockKey("batch-7"))
}
