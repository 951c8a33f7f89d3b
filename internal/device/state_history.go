package device

import (
	"context"
	"time"
)

// Values of StateHistoryEntry.Source.
const (
	StateHistorySourceRefresh    = "refresh"    // reported by the device
	StateHistorySourceCommand    = "command"    // written to the device
	StateHistorySourceAnticipate = "anticipate" // injected without device I/O
)

// History query bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// StateHistoryEntry is one recorded state snapshot.
//
// History is an audit trail. A session never restores its cache from it;
// after a restart the first refresh fetches from the device.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery selects entries for GetHistory. A zero Limit means
// DefaultHistoryLimit; a zero Since means no lower bound.
type HistoryQuery struct {
	Limit int
	Since time.Time // exclusive
}

// StateHistoryRepository stores device state snapshots.
type StateHistoryRepository interface {
	// RecordStateChange stores a snapshot. An empty source means
	// StateHistorySourceRefresh.
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns matching entries, newest first.
	GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns how many.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
