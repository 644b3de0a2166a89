package models

import "time"

// QueueStatus represents where a queue entry is in the unloading pipeline
type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"   // Admitted, waiting for a dock
	QueueStatusUnloading QueueStatus = "unloading" // At the dock
	QueueStatusFinished  QueueStatus = "finished"  // Terminal
)

// Valid reports whether s is one of the known statuses.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusWaiting, QueueStatusUnloading, QueueStatusFinished:
		return true
	}
	return false
}

// Active reports whether an entry in this status blocks a new admission.
func (s QueueStatus) Active() bool {
	return s == QueueStatusWaiting || s == QueueStatusUnloading
}

// Next returns the only status reachable from s.
func (s QueueStatus) Next() (QueueStatus, bool) {
	switch s {
	case QueueStatusWaiting:
		return QueueStatusUnloading, true
	case QueueStatusUnloading:
		return QueueStatusFinished, true
	}
	return "", false
}

// QueueEntry is one pass of a driver through waiting → unloading → finished.
// Driver name, key and routing are copied at admission time.
type QueueEntry struct {
	ID                string      `json:"id" db:"id" bson:"_id"`
	TaxID             string      `json:"tax_id" db:"tax_id" bson:"tax_id"`
	DriverName        string      `json:"driver_name" db:"driver_name" bson:"driver_name"`
	IdentificationKey string      `json:"identification_key" db:"identification_key" bson:"identification_key"`
	Origin            string      `json:"origin" db:"origin" bson:"origin"`
	Destination       string      `json:"destination" db:"destination" bson:"destination"`
	Status            QueueStatus `json:"status" db:"status" bson:"status"`

	ArrivedAt       time.Time  `json:"arrived_at" db:"arrived_at" bson:"arrived_at"`
	UnloadStartedAt *time.Time `json:"unload_started_at" db:"unload_started_at" bson:"unload_started_at"`
	UnloadEndedAt   *time.Time `json:"unload_ended_at" db:"unload_ended_at" bson:"unload_ended_at"`
	WaitSeconds     int64      `json:"wait_seconds" db:"wait_seconds" bson:"wait_seconds"`
	UnloadSeconds   int64      `json:"unload_seconds" db:"unload_seconds" bson:"unload_seconds"`

	Dock           *string    `json:"dock" db:"dock" bson:"dock"`
	DockNotifiedAt *time.Time `json:"dock_notified_at" db:"dock_notified_at" bson:"dock_notified_at"`

	CageCount   *int `json:"cage_count" db:"cage_count" bson:"cage_count"`
	PalletCount *int `json:"pallet_count" db:"pallet_count" bson:"pallet_count"`
	SleeveCount *int `json:"sleeve_count" db:"sleeve_count" bson:"sleeve_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// LoadReturn holds the equipment counts handed back when unloading ends.
type LoadReturn struct {
	Cages   int `json:"cage_count"`
	Pallets int `json:"pallet_count"`
	Sleeves int `json:"sleeve_count"`
}

// QueueTransition describes a compare-and-set status change applied by a store.
// Nil fields are left untouched.
type QueueTransition struct {
	From QueueStatus
	To   QueueStatus
	At   time.Time

	UnloadStartedAt *time.Time
	WaitSeconds     *int64
	UnloadEndedAt   *time.Time
	UnloadSeconds   *int64
	Load            *LoadReturn
}

// QueueStats summarizes a queue snapshot
type QueueStats struct {
	Total              int                 `json:"total"`
	ByStatus           map[QueueStatus]int `json:"by_status"`
	AvgWaitSeconds     float64             `json:"avg_wait_seconds"`
	AvgUnloadSeconds   float64             `json:"avg_unload_seconds"`
	LongestWaitSeconds int64               `json:"longest_current_wait_seconds"`
}
