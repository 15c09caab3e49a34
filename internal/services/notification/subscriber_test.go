package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		name string
		ev   lifecycle.Event
		want string
	}{
		{
			name: "new order",
			ev:   lifecycle.Event{Type: lifecycle.EventOrderCreated, OrderID: 5, TableID: 3, Timestamp: ts},
			want: "[2024-05-01 12:00:00] New order #5 for table 3",
		},
		{
			name: "order ready",
			ev:   lifecycle.Event{Type: lifecycle.EventOrderStatus, OrderID: 5, TableID: 3, FromStatus: "preparing", ToStatus: "ready", Timestamp: ts},
			want: "[2024-05-01 12:00:00] Order #5 for table 3 is ready to serve",
		},
		{
			name: "order preparing",
			ev:   lifecycle.Event{Type: lifecycle.EventOrderStatus, OrderID: 5, FromStatus: "pending", ToStatus: "preparing", Timestamp: ts},
			want: "[2024-05-01 12:00:00] Order #5 status changed from 'pending' to 'preparing'",
		},
		{
			name: "item delivered",
			ev:   lifecycle.Event{Type: lifecycle.EventItemStatus, ID: 9, OrderID: 5, FromStatus: "ready", ToStatus: "delivered", Timestamp: ts},
			want: "[2024-05-01 12:00:00] Item #9 of order #5 changed from 'ready' to 'delivered'",
		},
		{
			name: "table freed",
			ev:   lifecycle.Event{Type: lifecycle.EventTableStatus, TableID: 3, ToStatus: "available", Timestamp: ts},
			want: "[2024-05-01 12:00:00] Table 3 is now available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatNotification(tt.ev))
		})
	}
}

type fakeSource struct {
	bodies [][]byte
	errs   []error
	closed bool
}

func (f *fakeSource) StartConsuming(ctx context.Context, handler messaging.MessageHandler) error {
	for _, b := range f.bodies {
		f.errs = append(f.errs, handler(ctx, b))
	}
	return context.Canceled
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestSubscriber_Start(t *testing.T) {
	good, err := json.Marshal(messaging.EventMessage{
		Source: "order-service",
		Event:  lifecycle.Event{Type: lifecycle.EventOrderCreated, OrderID: 1, TableID: 2, Timestamp: ts},
	})
	require.NoError(t, err)

	src := &fakeSource{bodies: [][]byte{good, []byte("not json"), []byte(`{"source":"x"}`)}}
	var out bytes.Buffer
	sub := NewSubscriber(src, logger.Nop()).WithOutput(&out)

	require.NoError(t, sub.Start(context.Background()))

	assert.True(t, src.closed)
	require.Len(t, src.errs, 3)
	assert.NoError(t, src.errs[0])
	assert.Error(t, src.errs[1])
	assert.Error(t, src.errs[2])
	assert.Equal(t, "[2024-05-01 12:00:00] New order #1 for table 2\n", out.String())
}
