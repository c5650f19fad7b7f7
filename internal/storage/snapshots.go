package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/boardsync/internal/types"
)

// Snapshots persists the latest snapshot per room in Postgres so operators
// can inspect or recover board state. The relay never reads it on the hot
// path; rooms always bootstrap from the in-memory cache.
type Snapshots struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// SnapshotsOption configures the store.
type SnapshotsOption func(*Snapshots)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) SnapshotsOption {
	return func(s *Snapshots) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) SnapshotsOption {
	return func(s *Snapshots) {
		s.retryDelay = d
	}
}

// NewSnapshots constructs a snapshot store using the provided Postgres pool.
func NewSnapshots(pool *pgxpool.Pool, opts ...SnapshotsOption) *Snapshots {
	s := &Snapshots{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the latest snapshot for a room. Transient failures are
// retried with backoff.
func (s *Snapshots) Save(ctx context.Context, room types.RoomName, data []byte) error {
	ctx, span := storageTracer.Start(ctx, "snapshots.save")
	defer span.End()

	start := time.Now()
	err := s.retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
INSERT INTO room_snapshots (room, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (room)
DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			string(room), data,
		)
		return err
	})
	if err == nil {
		snapshotSaveLatency.WithLabelValues(string(room)).Observe(time.Since(start).Seconds())
		snapshotBytes.WithLabelValues(string(room)).Set(float64(len(data)))
	}
	return err
}

// Delete removes the persisted snapshot once a room has been destroyed.
func (s *Snapshots) Delete(ctx context.Context, room types.RoomName) error {
	err := s.retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE room = $1`, string(room))
		return err
	})
	if err == nil {
		snapshotBytes.DeleteLabelValues(string(room))
	}
	return err
}

func (s *Snapshots) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == s.maxRetries {
				return err
			}
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
