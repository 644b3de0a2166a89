package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestListFilter(t *testing.T) {
	assert.Equal(t, bson.D{}, listFilter(store.QueueFilter{}))

	got := listFilter(store.QueueFilter{
		Status:      models.QueueStatusWaiting,
		Destination: "XPT01",
		Facility:    "SCL",
	})
	assert.Equal(t, bson.D{
		{Key: "status", Value: "waiting"},
		{Key: "destination", Value: "XPT01"},
		{Key: "origin", Value: "SCL"},
	}, got)
}

func TestListOptions(t *testing.T) {
	opts := listOptions(store.QueueFilter{})
	assert.Nil(t, opts.Limit)
	assert.Nil(t, opts.Skip)
	assert.Equal(t, bson.D{{Key: "arrived_at", Value: -1}, {Key: "_id", Value: -1}}, opts.Sort)

	opts = listOptions(store.QueueFilter{Limit: 10, Offset: 20})
	require.NotNil(t, opts.Limit)
	require.NotNil(t, opts.Skip)
	assert.EqualValues(t, 10, *opts.Limit)
	assert.EqualValues(t, 20, *opts.Skip)
}

func TestTransitionUpdate(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	wait := int64(1800)

	got := transitionUpdate(models.QueueTransition{
		From:            models.QueueStatusWaiting,
		To:              models.QueueStatusUnloading,
		At:              at,
		UnloadStartedAt: &at,
		WaitSeconds:     &wait,
	})
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: "unloading"},
		{Key: "active", Value: true},
		{Key: "updated_at", Value: at},
		{Key: "unload_started_at", Value: at},
		{Key: "wait_seconds", Value: wait},
	}}}, got)

	got = transitionUpdate(models.QueueTransition{
		From: models.QueueStatusUnloading,
		To:   models.QueueStatusFinished,
		At:   at,
		Load: &models.LoadReturn{Cages: 1, Pallets: 2, Sleeves: 3},
	})
	set := got[0].Value.(bson.D)
	assert.Contains(t, set, bson.E{Key: "active", Value: false})
	assert.Contains(t, set, bson.E{Key: "pallet_count", Value: 2})
}

func TestDuplicateIndex(t *testing.T) {
	assert.Equal(t, "", duplicateIndex(nil))
	assert.Equal(t, "", duplicateIndex(errors.New("boom")))

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: dockqueue.drivers index: drivers_identification_key dup key",
	}}}
	assert.Equal(t, indexDriverKey, duplicateIndex(dup))

	dup.WriteErrors[0].Message = "E11000 duplicate key error collection: dockqueue.drivers index: _id_ dup key"
	assert.Equal(t, "_id", duplicateIndex(dup))
}

// Runs against a disposable server, e.g. TEST_MONGO_URI=mongodb://localhost:27017
func TestStoreContract_Mongo(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, uri, "dockqueue_test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, func(t *testing.T, waypoints []models.Waypoint) store.Store {
		require.NoError(t, s.db.Drop(ctx))
		require.NoError(t, s.EnsureIndexes(ctx))
		require.NoError(t, s.SeedWaypoints(ctx, waypoints))
		return &Store{client: s.client, db: s.db}
	})
}
