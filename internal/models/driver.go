package models

import "time"

// DriverEnrollment authorizes a driver to enter destination queues.
// It is created once per physical driver and never changes afterwards.
type DriverEnrollment struct {
	ID                string    `json:"id" db:"id" bson:"_id"`
	Name              string    `json:"name" db:"name" bson:"name"`
	TaxID             string    `json:"tax_id" db:"tax_id" bson:"tax_id"`
	Phone             string    `json:"phone" db:"phone" bson:"phone"`
	Email             string    `json:"email" db:"email" bson:"email"`
	Origin            string    `json:"origin" db:"origin" bson:"origin"`
	Destination       string    `json:"destination" db:"destination" bson:"destination"`
	IdentificationKey string    `json:"identification_key" db:"identification_key" bson:"identification_key"`
	CreatedAt         time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// FCMToken represents a Firebase Cloud Messaging token for a driver's device
type FCMToken struct {
	TaxID      string    `json:"tax_id" db:"tax_id" bson:"tax_id"`
	Token      string    `json:"token" db:"token" bson:"_id"`
	DeviceType string    `json:"device_type" db:"device_type" bson:"device_type"` // "ios" or "android"
	CreatedAt  time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}
