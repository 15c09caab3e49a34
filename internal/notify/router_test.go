package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

type fakeClient struct {
	id   string
	open bool
	fail error

	mu       sync.Mutex
	received [][]byte
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, open: true}
}

func (c *fakeClient) ID() string   { return c.id }
func (c *fakeClient) IsOpen() bool { return c.open }

func (c *fakeClient) Send(data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, data)
	return nil
}

func (c *fakeClient) messages(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.received))
	for _, raw := range c.received {
		var m Message
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

type countingRecorder struct {
	mu        sync.Mutex
	connected map[string]int
	ok, fail  int
}

func (r *countingRecorder) ClientConnected(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[role]++
}

func (r *countingRecorder) ClientDisconnected(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[role]--
}

func (r *countingRecorder) Delivery(_ string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.fail++
	}
}

func TestRouter_NewOrderReachesKitchenAndOwner(t *testing.T) {
	r := NewRouter(logger.Nop())

	kitchen := newFakeClient("k1")
	stale := newFakeClient("k2")
	owner := newFakeClient("o1")
	waiter := newFakeClient("w1")
	public := newFakeClient("p1")

	require.NoError(t, r.Subscribe(kitchen, RoleKitchen))
	require.NoError(t, r.Subscribe(stale, RoleKitchen))
	require.NoError(t, r.Subscribe(owner, RoleOwner))
	require.NoError(t, r.Subscribe(waiter, RoleWaiter))
	require.NoError(t, r.Subscribe(public, RolePublic))
	stale.open = false

	d := r.Notify(lifecycle.Event{
		Type:     lifecycle.EventOrderCreated,
		Entity:   lifecycle.EntityOrder,
		ID:       9,
		OrderID:  9,
		TableID:  3,
		ToStatus: string(models.StatusPending),
	})

	assert.Equal(t, Delivery{Sent: 2, Skipped: 1}, d)
	require.Len(t, kitchen.messages(t), 1)
	assert.Equal(t, TypeNewOrder, kitchen.messages(t)[0].Type)
	assert.Equal(t, int64(9), kitchen.messages(t)[0].OrderID)
	assert.Len(t, owner.messages(t), 1)
	assert.Empty(t, stale.messages(t))
	assert.Empty(t, waiter.messages(t))
	assert.Empty(t, public.messages(t))
}

func TestRouter_FailingClientDoesNotAffectOthers(t *testing.T) {
	rec := &countingRecorder{connected: map[string]int{}}
	r := NewRouter(logger.Nop(), WithRecorder(rec))

	broken := newFakeClient("w1")
	broken.fail = errors.New("pipe closed")
	healthy := newFakeClient("w2")
	require.NoError(t, r.Subscribe(broken, RoleWaiter))
	require.NoError(t, r.Subscribe(healthy, RoleWaiter))

	d := r.Broadcast([]Role{RoleWaiter}, Message{Type: TypeOrderReady, OrderID: 1})
	assert.Equal(t, Delivery{Sent: 1, Failed: 1}, d)
	assert.Len(t, healthy.messages(t), 1)
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.fail)
	assert.Equal(t, 2, rec.connected["waiter"])
}

func TestRouter_SubscribeUnsubscribe(t *testing.T) {
	r := NewRouter(logger.Nop())
	c := newFakeClient("c1")

	assert.ErrorIs(t, r.Subscribe(c, "chef"), models.ErrInvalidArgument)

	require.NoError(t, r.Subscribe(c, RoleKitchen))
	assert.Equal(t, 1, r.Count(RoleKitchen))

	// resubscribing moves the client
	require.NoError(t, r.Subscribe(c, RoleOwner))
	assert.Equal(t, 0, r.Count(RoleKitchen))
	assert.Equal(t, 1, r.Count(RoleOwner))

	assert.True(t, r.Unsubscribe(c))
	assert.False(t, r.Unsubscribe(c))
	assert.Equal(t, 0, r.Count(RoleOwner))

	d := r.Broadcast([]Role{RoleOwner}, Message{Type: TypeStatusUpdate})
	assert.Equal(t, Delivery{}, d)
	assert.Empty(t, c.messages(t))
}

func TestRouter_SubscribeNormalizesRole(t *testing.T) {
	r := NewRouter(logger.Nop())
	kitchen := newFakeClient("k1")

	require.NoError(t, r.Subscribe(kitchen, Role(" kitchen ")))
	assert.Equal(t, 1, r.Count(RoleKitchen))
	assert.Error(t, r.Subscribe(newFakeClient("x1"), Role("chef")))

	d := r.Broadcast([]Role{RoleKitchen, RoleOwner}, Message{Type: TypeNewOrder, OrderID: 2})
	assert.Equal(t, Delivery{Sent: 1}, d)
	require.Len(t, kitchen.messages(t), 1)

	assert.True(t, r.Unsubscribe(kitchen))
	assert.Zero(t, r.Count(RoleKitchen))
}

func TestRouter_ClientInSeveralTargetRolesGetsOneCopy(t *testing.T) {
	r := NewRouter(logger.Nop())
	owner := newFakeClient("o1")
	require.NoError(t, r.Subscribe(owner, RoleOwner))

	r.Broadcast([]Role{RoleOwner, RoleOwner, RoleWaiter}, Message{Type: TypeTableStatus})
	assert.Len(t, owner.messages(t), 1)
}

func TestRouter_ConcurrentMembershipAndBroadcast(t *testing.T) {
	r := NewRouter(logger.Nop())
	steady := newFakeClient("steady")
	require.NoError(t, r.Subscribe(steady, RoleOwner))

	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				c := newFakeClient(fmt.Sprintf("c-%d-%d", i, j))
				_ = r.Subscribe(c, Roles[j%len(Roles)])
				r.Unsubscribe(c)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				r.Broadcast([]Role{RoleOwner}, Message{Type: TypeStatusUpdate})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, steady.messages(t), 4*rounds)
	for _, role := range []Role{RoleKitchen, RoleWaiter, RolePublic} {
		assert.Equal(t, 0, r.Count(role))
	}
	assert.Equal(t, 1, r.Count(RoleOwner))
}
