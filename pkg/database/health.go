package database

import (
	"context"
	"time"
)

// PoolHealth is the snapshot reported by the health endpoint: database
// reachability plus connection pool pressure.
type PoolHealth struct {
	Reachable  bool  `json:"reachable"`
	PingMillis int64 `json:"ping_ms"`

	OpenConns    int   `json:"open_conns"`
	InUseConns   int   `json:"in_use_conns"`
	IdleConns    int   `json:"idle_conns"`
	MaxOpenConns int   `json:"max_open_conns"`
	WaitCount    int64 `json:"wait_count"`
	WaitMillis   int64 `json:"wait_ms"`
}

// Health pings the database and snapshots pool statistics. On ping
// failure the snapshot carries Reachable=false alongside the error so
// the endpoint can still report how long the attempt took.
func (c *Client) Health(ctx context.Context) (*PoolHealth, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &PoolHealth{PingMillis: time.Since(start).Milliseconds()}, err
	}

	st := c.db.Stats()
	return &PoolHealth{
		Reachable:    true,
		PingMillis:   time.Since(start).Milliseconds(),
		OpenConns:    st.OpenConnections,
		InUseConns:   st.InUse,
		IdleConns:    st.Idle,
		MaxOpenConns: st.MaxOpenConnections,
		WaitCount:    st.WaitCount,
		WaitMillis:   st.WaitDuration.Milliseconds(),
	}, nil
}
