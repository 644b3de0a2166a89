package models

import "time"

// DockNotification is pushed to a single driver when a dock is assigned.
// ResponseDeadline is advisory; nothing expires server-side.
type DockNotification struct {
	EntryID          string    `json:"entry_id"`
	TaxID            string    `json:"tax_id"`
	Dock             string    `json:"dock"`
	NotifiedAt       time.Time `json:"notified_at"`
	ResponseDeadline time.Time `json:"response_deadline"`
}
