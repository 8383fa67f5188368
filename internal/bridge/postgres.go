package bridge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/cohortly/cohortly/internal/chat"
)

// PostgresDial returns a DialFunc that opens a dedicated pgx connection and
// issues LISTEN on the shared chat channel. A plain connection (not a pool)
// is used on purpose: LISTEN state is per-session, and the bridge owns the
// session for the life of the process.
func PostgresDial(databaseURL string) DialFunc {
	return func(ctx context.Context) (ListenConn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect for listen: %w", err)
		}
		if _, err := conn.Exec(ctx, "listen "+pq.QuoteIdentifier(chat.Channel)); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("listen %s: %w", chat.Channel, err)
		}
		return &pgxListenConn{conn: conn}, nil
	}
}

type pgxListenConn struct {
	conn *pgx.Conn
}

func (c *pgxListenConn) WaitForNotification(ctx context.Context) (string, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (c *pgxListenConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
