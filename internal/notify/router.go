package notify

import (
	"encoding/json"
	"fmt"
	"sync"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/logger"
)

// Client is a connected consumer of notifications
type Client interface {
	ID() string
	// Send queues data for delivery. It must not block.
	Send(data []byte) error
	IsOpen() bool
}

// Recorder observes router activity, e.g. for metrics
type Recorder interface {
	ClientConnected(role string)
	ClientDisconnected(role string)
	Delivery(role string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected(string)    {}
func (nopRecorder) ClientDisconnected(string) {}
func (nopRecorder) Delivery(string, bool)     {}

// Delivery summarizes one broadcast
type Delivery struct {
	Sent    int
	Skipped int
	Failed  int
}

// Router keeps the role membership of connected clients
type Router struct {
	mu      sync.RWMutex
	clients map[Role]map[string]Client
	roleOf  map[string]Role

	logger   *logger.Logger
	recorder Recorder
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRecorder attaches a Recorder
func WithRecorder(rec Recorder) RouterOption {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRouter creates an empty router
func NewRouter(log *logger.Logger, opts ...RouterOption) *Router {
	r := &Router{
		clients:  make(map[Role]map[string]Client, len(Roles)),
		roleOf:   make(map[string]Role),
		logger:   log,
		recorder: nopRecorder{},
	}
	for _, role := range Roles {
		r.clients[role] = make(map[string]Client)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers c under role. A client belongs to exactly one role;
// subscribing again moves it.
func (r *Router) Subscribe(c Client, role Role) error {
	role, err := ParseRole(string(role))
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev, existed := r.roleOf[c.ID()]
	if existed {
		delete(r.clients[prev], c.ID())
	}
	r.clients[role][c.ID()] = c
	r.roleOf[c.ID()] = role
	r.mu.Unlock()

	if existed {
		r.recorder.ClientDisconnected(string(prev))
	}
	r.recorder.ClientConnected(string(role))
	r.logger.Debug("client_subscribed", "Client subscribed", "", map[string]interface{}{
		"client_id": c.ID(),
		"role":      role,
	})
	return nil
}

// Unsubscribe removes c. It reports whether c was subscribed.
func (r *Router) Unsubscribe(c Client) bool {
	r.mu.Lock()
	role, ok := r.roleOf[c.ID()]
	if ok {
		delete(r.clients[role], c.ID())
		delete(r.roleOf, c.ID())
	}
	r.mu.Unlock()

	if ok {
		r.recorder.ClientDisconnected(string(role))
		r.logger.Debug("client_unsubscribed", "Client unsubscribed", "", map[string]interface{}{
			"client_id": c.ID(),
			"role":      role,
		})
	}
	return ok
}

// Count returns the number of clients subscribed as role
func (r *Router) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[role])
}

type target struct {
	client Client
	role   Role
}

// Broadcast delivers msg to every open client of the given roles. Membership is
// snapshotted first; delivery happens outside the lock. Failures are logged and
// counted, never returned.
func (r *Router) Broadcast(roles []Role, msg Message) Delivery {
	var d Delivery
	if len(roles) == 0 {
		return d
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("broadcast_failed", "Failed to encode message", "", err, map[string]interface{}{
			"type": msg.Type,
		})
		return d
	}

	for _, t := range r.snapshot(roles) {
		if !t.client.IsOpen() {
			d.Skipped++
			continue
		}
		if err := t.client.Send(data); err != nil {
			d.Failed++
			r.recorder.Delivery(string(t.role), false)
			r.logger.Warn("delivery_failed", fmt.Sprintf("Failed to deliver %s", msg.Type), "", map[string]interface{}{
				"client_id": t.client.ID(),
				"role":      t.role,
				"error":     err.Error(),
			})
			continue
		}
		d.Sent++
		r.recorder.Delivery(string(t.role), true)
	}
	return d
}

// Notify routes a committed lifecycle event to its audience
func (r *Router) Notify(ev lifecycle.Event) Delivery {
	roles := RolesFor(ev)
	if len(roles) == 0 {
		return Delivery{}
	}
	return r.Broadcast(roles, MessageFor(ev))
}

func (r *Router) snapshot(roles []Role) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []target
	for _, role := range roles {
		for id, c := range r.clients[role] {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, target{client: c, role: role})
		}
	}
	return out
}

