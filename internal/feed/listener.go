package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Channel is the Postgres NOTIFY channel the row triggers publish to.
const Channel = "support_changes"

// Listener pumps NOTIFY payloads from Postgres into a Hub. Reconnection
// after a dropped connection is handled here; subscribers see a gap, not
// an error.
type Listener struct {
	Pool *pgxpool.Pool
	Hub  *Hub
	Log  zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.Log.Warn().Err(err).Msg("change feed disconnected, reconnecting")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			l.Log.Warn().Err(err).Str("payload", n.Payload).Msg("malformed change notification")
			continue
		}
		if ev.Table == "" || ev.Type == "" {
			l.Log.Warn().Str("payload", n.Payload).Msg("incomplete change notification")
			continue
		}
		l.Hub.Publish(ev)
	}
}
