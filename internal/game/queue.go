package game

import (
	"context"
	"log/slog"

	"pairquiz-backend/api"
)

// FindMatch records the caller's claimed identity and appends it to the
// quick-match queue. Whenever two entries are waiting, the two oldest are
// dequeued and handed to session creation in arrival order; first come,
// first served is the only ordering guarantee.
func (c *Coordinator) FindMatch(ctx context.Context, connID string, user api.UserData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.UpsertUserSession(ctx, connID, user.Name, user.Anonymous); err != nil {
		c.log.Error("upsert user session",
			slog.String("conn_id", connID),
			slog.Any("error", err))
	}

	c.queue = append(c.queue, Participant{ConnID: connID, User: user})
	c.log.Info("participant queued",
		slog.String("conn_id", connID),
		slog.Int("queue_len", len(c.queue)))

	for len(c.queue) >= 2 {
		first, second := c.queue[0], c.queue[1]
		if first.ConnID == second.ConnID {
			// Rapid re-click enqueued the same connection twice. Keep the
			// oldest entry, discard the duplicate, form no pair.
			c.queue = append(c.queue[:1], c.queue[2:]...)
			c.log.Warn("duplicate queue entry discarded",
				slog.String("conn_id", connID))
			continue
		}
		c.queue = c.queue[2:]
		c.startSession(ctx, first, second)
	}
}

func (c *Coordinator) removeFromQueue(connID string) bool {
	for i, p := range c.queue {
		if p.ConnID == connID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}
