package models

import "math"

// Waypoint is a destination point ("XPT") with a geofence radius.
type Waypoint struct {
	ID           string  `json:"id" db:"id" bson:"_id"`
	City         string  `json:"city" db:"city" bson:"city"`
	Code         string  `json:"code" db:"code" bson:"code"`
	Latitude     float64 `json:"latitude" db:"latitude" bson:"latitude"`
	Longitude    float64 `json:"longitude" db:"longitude" bson:"longitude"`
	RadiusMeters float64 `json:"radius_meters" db:"radius_meters" bson:"radius_meters"`
	Origin       *string `json:"origin" db:"origin" bson:"origin,omitempty"`
}

// Coordinates is a GPS position reported by a driver
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Contains reports whether c lies inside the waypoint's geofence.
// A waypoint without a radius accepts any position.
func (w *Waypoint) Contains(c Coordinates) bool {
	if w.RadiusMeters <= 0 {
		return true
	}
	return DistanceMeters(w.Latitude, w.Longitude, c.Latitude, c.Longitude) <= w.RadiusMeters
}

// DistanceMeters calculates the haversine distance between two GPS coordinates
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
