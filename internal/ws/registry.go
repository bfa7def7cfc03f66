// Package ws owns the live websocket connections: the registry that
// tracks and addresses them, and the handler that upgrades requests and
// dispatches inbound events into the coordinator.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pairquiz-backend/api"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lithammer/shortuuid/v3"
	"golang.org/x/sync/errgroup"
)

var ErrConnNotFound = errors.New("connection not found")

const defaultWriteTimeout = 5 * time.Second

// Registry tracks live connections keyed by their generated connection
// id. It is the coordinator's addressed transport.
//
// Multiple goroutines may invoke methods on a Registry simultaneously.
type Registry struct {
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewRegistry() *Registry {
	return &Registry{
		writeTimeout: defaultWriteTimeout,
		conns:        map[string]*websocket.Conn{},
	}
}

// Add registers a connection and returns its generated id.
func (r *Registry) Add(conn *websocket.Conn) string {
	id := shortuuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
	return id
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers one event to one connection.
func (r *Registry) Send(ctx context.Context, connID string, event api.Event) error {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

// Broadcast sends an event to every live connection.
func (r *Registry) Broadcast(ctx context.Context, event api.Event) error {
	r.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	errs := errgroup.Group{}
	for _, conn := range conns {
		errs.Go(func() error {
			return wsjson.Write(ctx, conn, event)
		})
	}
	return errs.Wait()
}

// BroadcastOnlineCount publishes the current connection count to every
// live connection.
func (r *Registry) BroadcastOnlineCount(ctx context.Context) error {
	event, err := api.NewEvent(api.EventOnlineCount, api.OnlineCountData{Count: r.Count()})
	if err != nil {
		return err
	}
	return r.Broadcast(ctx, event)
}
