package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/relay"
	"github.com/example/boardsync/internal/types"
)

const (
	defaultInterval      = 15 * time.Second
	defaultMinObjectSize = 64
)

// ObjectStore is the slice of the minio client the worker uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Worker periodically copies live room snapshots into object storage so
// boards survive a relay restart and can be inspected offline. Each upload
// lands under archives/<room>/<unix-nano>.bin; older archives are never
// overwritten.
type Worker struct {
	registry *relay.Registry
	object   ObjectStore
	bucket   string

	interval      time.Duration
	minObjectSize int

	// digest of the last uploaded snapshot per room, to skip idle rooms.
	uploaded map[types.RoomName][sha256.Size]byte

	logger zerolog.Logger
	now    func() time.Time
}

// NewWorker constructs an archive worker with sane defaults.
func NewWorker(registry *relay.Registry, object ObjectStore, bucket string, logger zerolog.Logger) *Worker {
	return &Worker{
		registry:      registry,
		object:        object,
		bucket:        bucket,
		interval:      defaultInterval,
		minObjectSize: defaultMinObjectSize,
		uploaded:      map[types.RoomName][sha256.Size]byte{},
		logger:        logger.With().Str("component", "archive").Logger(),
		now:           time.Now,
	}
}

// SetInterval overrides the archive cadence. Call before Start.
func (w *Worker) SetInterval(d time.Duration) { w.interval = d }

// SetMinObjectSize overrides the smallest snapshot worth archiving.
func (w *Worker) SetMinObjectSize(n int) { w.minObjectSize = n }

// Start begins the periodic archive loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	snapshots := w.registry.Snapshots()
	for room, data := range snapshots {
		if err := w.archiveRoom(ctx, room, data); err != nil {
			w.logger.Error().Err(err).Str("room", string(room)).Msg("archive upload failed")
		}
	}
	// Forget digests for rooms that were destroyed so a re-created room
	// always archives its first snapshot.
	for room := range w.uploaded {
		if _, ok := snapshots[room]; !ok {
			delete(w.uploaded, room)
		}
	}
}

func (w *Worker) archiveRoom(ctx context.Context, room types.RoomName, data []byte) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}
	if len(data) < w.minObjectSize {
		return nil
	}

	digest := sha256.Sum256(data)
	if prev, ok := w.uploaded[room]; ok && prev == digest {
		return nil
	}

	objectPath := fmt.Sprintf("archives/%s/%d.bin", room, w.now().UTC().UnixNano())
	_, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	w.uploaded[room] = digest
	archivesTotal.WithLabelValues(string(room)).Inc()
	w.logger.Info().Str("room", string(room)).Str("object", objectPath).Int("bytes", len(data)).Msg("room archived")
	return nil
}
