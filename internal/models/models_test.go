package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueStatus_Next(t *testing.T) {
	next, ok := QueueStatusWaiting.Next()
	assert.True(t, ok)
	assert.Equal(t, QueueStatusUnloading, next)

	next, ok = QueueStatusUnloading.Next()
	assert.True(t, ok)
	assert.Equal(t, QueueStatusFinished, next)

	_, ok = QueueStatusFinished.Next()
	assert.False(t, ok)
}

func TestQueueStatus_Active(t *testing.T) {
	assert.True(t, QueueStatusWaiting.Active())
	assert.True(t, QueueStatusUnloading.Active())
	assert.False(t, QueueStatusFinished.Active())
	assert.False(t, QueueStatus("parked").Valid())
}

func TestWaypoint_Contains(t *testing.T) {
	wp := Waypoint{Code: "XPT01", Latitude: -33.4489, Longitude: -70.6693, RadiusMeters: 500}

	assert.True(t, wp.Contains(Coordinates{Latitude: -33.4489, Longitude: -70.6693}))
	// roughly 1.1 km north
	assert.False(t, wp.Contains(Coordinates{Latitude: -33.4389, Longitude: -70.6693}))

	wp.RadiusMeters = 0
	assert.True(t, wp.Contains(Coordinates{Latitude: 10, Longitude: 10}))
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(1, 1, 1, 1), 0.001)
	// one degree of latitude is ~111.2 km
	assert.InDelta(t, 111195, DistanceMeters(0, 0, 1, 0), 100)
}
