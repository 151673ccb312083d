package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/infrastructure/database"
)

// ErrUnknownEncoding is returned when a stored payload uses an encoding this build cannot read.
var ErrUnknownEncoding = errors.New("persist: unknown snapshot encoding")

// SQLiteStore implements device.Persister on a migrated database.
type SQLiteStore struct {
	db       *database.DB
	compress bool
}

var _ device.Persister = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store on db. The mailbox_snapshots migration
// must already have been applied.
func NewSQLiteStore(db *database.DB, compress bool) *SQLiteStore {
	return &SQLiteStore{db: db, compress: compress}
}

// Persist replaces the stored snapshot with snap.
func (s *SQLiteStore) Persist(ctx context.Context, snap device.Snapshot) error {
	payload, encoding, err := encodeSnapshot(snap, s.compress)
	if err != nil {
		return err
	}

	pending := 0
	for _, d := range snap.Devices {
		pending += len(d.Mailbox.Pending)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mailbox_snapshots (id, taken_at, encoding, device_count, pending, payload)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			taken_at     = excluded.taken_at,
			encoding     = excluded.encoding,
			device_count = excluded.device_count,
			pending      = excluded.pending,
			payload      = excluded.payload`,
		snap.TakenAt.UTC().Format(time.RFC3339Nano), encoding, len(snap.Devices), pending, payload,
	)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. found is false when nothing has been stored yet.
func (s *SQLiteStore) Load(ctx context.Context) (snap device.Snapshot, found bool, err error) {
	var (
		encoding string
		payload  []byte
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT encoding, payload FROM mailbox_snapshots WHERE id = 1",
	).Scan(&encoding, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Snapshot{}, false, nil
	}
	if err != nil {
		return device.Snapshot{}, false, fmt.Errorf("reading snapshot: %w", err)
	}

	snap, err = decodeSnapshot(payload, encoding)
	if err != nil {
		return device.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Info summarises the stored snapshot without decoding it.
type Info struct {
	TakenAt     time.Time `json:"taken_at"`
	Encoding    string    `json:"encoding"`
	DeviceCount int       `json:"device_count"`
	Pending     int       `json:"pending"`
	Bytes       int       `json:"bytes"`
}

// Stat returns metadata about the stored snapshot.
func (s *SQLiteStore) Stat(ctx context.Context) (Info, bool, error) {
	var (
		info    Info
		takenAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT taken_at, encoding, device_count, pending, length(payload)
		FROM mailbox_snapshots WHERE id = 1`,
	).Scan(&takenAt, &info.Encoding, &info.DeviceCount, &info.Pending, &info.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("reading snapshot info: %w", err)
	}
	info.TakenAt, _ = time.Parse(time.RFC3339Nano, takenAt) //nolint:errcheck // written by Persist
	return info, true, nil
}

// HealthCheck verifies the underlying database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
