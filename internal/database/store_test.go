package database

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"restaurant-orders/internal/models"
)

func TestBuildListOrdersQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    models.OrderFilter
		lock      bool
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no filter",
			wantQuery: "SELECT " + orderColumns + " FROM orders ORDER BY created_at DESC, id DESC",
		},
		{
			name:      "open orders of a table, oldest first, locked",
			filter:    models.OrderFilter{TableID: 3, OpenOnly: true, OldestFirst: true},
			lock:      true,
			wantQuery: "SELECT " + orderColumns + " FROM orders WHERE table_id = $1 AND status NOT IN ('completed', 'cancelled') ORDER BY created_at ASC, id ASC FOR UPDATE",
			wantArgs:  []any{int64(3)},
		},
		{
			name:      "statuses",
			filter:    models.OrderFilter{Statuses: []models.OrderStatus{models.StatusReady}},
			wantQuery: "SELECT " + orderColumns + " FROM orders WHERE status = ANY($1) ORDER BY created_at DESC, id DESC",
			wantArgs:  []any{[]string{"ready"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListOrdersQuery(tt.filter, tt.lock)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.Kind
	}{
		{"no rows", pgx.ErrNoRows, models.KindNotFound},
		{"unique violation", &pgconn.PgError{Code: uniqueViolation, Detail: "Key (table_number)=(3) already exists."}, models.KindInvalidArgument},
		{"driver failure", errors.New("connection refused"), models.KindPersistence},
		{"already classified", models.ErrInvalidState, models.KindInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.KindOf(wrap(tt.err, "op")))
		})
	}
	assert.NoError(t, wrap(nil, "op"))
}
