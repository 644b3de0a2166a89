// Package store declares the document store contracts used by the registry
// and the queue manager. Implementations live in internal/database (postgres)
// and internal/mongostore (MongoDB).
package store

import (
	"context"
	"errors"
	"time"

	"dockqueue-backend/internal/models"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicateTaxID    = errors.New("store: duplicate tax id")
	ErrDuplicateKey      = errors.New("store: duplicate identification key")
	ErrActiveEntryExists = errors.New("store: driver already has an active queue entry")
	ErrStatusConflict    = errors.New("store: entry status changed")
)

// DriverStore persists driver enrollments.
type DriverStore interface {
	CreateDriver(ctx context.Context, driver *models.DriverEnrollment) error
	GetDriverByTaxID(ctx context.Context, taxID string) (*models.DriverEnrollment, error)
	IdentificationKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	ListDrivers(ctx context.Context) ([]models.DriverEnrollment, error)
}

// QueueStore persists queue entries. Every mutation touches a single entry.
type QueueStore interface {
	InsertEntry(ctx context.Context, entry *models.QueueEntry) error
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	FindActiveEntry(ctx context.Context, taxID string) (*models.QueueEntry, error)
	ListEntries(ctx context.Context, filter QueueFilter) ([]models.QueueEntry, error)
	SetDock(ctx context.Context, id, dock string, at time.Time) (*models.QueueEntry, error)
	// TransitionEntry applies t only when the stored status equals t.From.
	// It returns ErrStatusConflict when the status differs.
	TransitionEntry(ctx context.Context, id string, t models.QueueTransition) (*models.QueueEntry, error)
}

// WaypointStore reads the destination reference table.
type WaypointStore interface {
	GetWaypointByCode(ctx context.Context, code string) (*models.Waypoint, error)
	ListWaypoints(ctx context.Context) ([]models.Waypoint, error)
}

// TokenStore keeps drivers' push tokens.
type TokenStore interface {
	UpsertToken(ctx context.Context, token *models.FCMToken) error
	TokensForDriver(ctx context.Context, taxID string) ([]string, error)
}

// QueueFilter narrows a queue listing with simple equality predicates.
// Zero values mean "any"; Limit 0 means no limit.
type QueueFilter struct {
	Status      models.QueueStatus
	Destination string
	Facility    string
	Limit       int
	Offset      int
}

// Store bundles every collection the server needs.
type Store interface {
	DriverStore
	QueueStore
	WaypointStore
	TokenStore
	Ping(ctx context.Context) error
	Close() error
}
