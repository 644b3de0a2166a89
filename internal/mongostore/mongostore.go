// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collDrivers   = "drivers"
	collEntries   = "queue_entries"
	collWaypoints = "waypoints"
	collTokens    = "fcm_tokens"

	indexDriverTaxID  = "drivers_tax_id"
	indexDriverKey    = "drivers_identification_key"
	indexActiveEntry  = "queue_entries_active_tax_id"
	indexWaypointCode = "waypoints_code"
)

// entryDoc adds the flag the partial unique index keys on.
type entryDoc struct {
	models.QueueEntry `bson:",inline"`
	Active            bool `bson:"active"`
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials uri and returns a store on database name.
func Connect(ctx context.Context, uri, name string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	log.Info().Str("database", name).Msg("✅ MongoDB connection successful")
	return &Store{client: client, db: client.Database(name)}, nil
}

// EnsureIndexes creates the unique indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexSets := map[string][]mongo.IndexModel{
		collDrivers: {
			{Keys: bson.D{{Key: "tax_id", Value: 1}}, Options: options.Index().SetName(indexDriverTaxID).SetUnique(true)},
			{Keys: bson.D{{Key: "identification_key", Value: 1}}, Options: options.Index().SetName(indexDriverKey).SetUnique(true)},
		},
		collEntries: {
			{
				Keys: bson.D{{Key: "tax_id", Value: 1}},
				Options: options.Index().
					SetName(indexActiveEntry).
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "active", Value: true}}),
			},
			{Keys: bson.D{{Key: "arrived_at", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "destination", Value: 1}}},
			{Keys: bson.D{{Key: "origin", Value: 1}}},
		},
		collWaypoints: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetName(indexWaypointCode).SetUnique(true)},
		},
		collTokens: {
			{Keys: bson.D{{Key: "tax_id", Value: 1}}},
		},
	}
	for coll, indexes := range indexSets {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	log.Info().Msg("✓ MongoDB indexes ensured")
	return nil
}

// SeedWaypoints inserts waypoints when the collection is empty.
func (s *Store) SeedWaypoints(ctx context.Context, waypoints []models.Waypoint) error {
	coll := s.db.Collection(collWaypoints)
	count, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("count waypoints: %w", err)
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("✓ Waypoints already seeded, skipping...")
		return nil
	}
	if len(waypoints) == 0 {
		return nil
	}

	docs := make([]interface{}, len(waypoints))
	for i, wp := range waypoints {
		docs[i] = wp
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("seed waypoints: %w", err)
	}
	log.Info().Int("count", len(waypoints)).Msg("🌱 Seeded waypoints")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// duplicateIndex names the unique index a write collided with, or "".
func duplicateIndex(err error) string {
	if !mongo.IsDuplicateKeyError(err) {
		return ""
	}
	for _, name := range []string{indexDriverTaxID, indexDriverKey, indexActiveEntry, indexWaypointCode} {
		if strings.Contains(err.Error(), name) {
			return name
		}
	}
	return "_id"
}

func notFound(err error, action string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (s *Store) CreateDriver(ctx context.Context, driver *models.DriverEnrollment) error {
	_, err := s.db.Collection(collDrivers).InsertOne(ctx, driver)
	switch duplicateIndex(err) {
	case "":
	case indexDriverTaxID:
		return store.ErrDuplicateTaxID
	case indexDriverKey:
		return store.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert driver: %w", err)
	}
	return nil
}

func (s *Store) GetDriverByTaxID(ctx context.Context, taxID string) (*models.DriverEnrollment, error) {
	var driver models.DriverEnrollment
	err := s.db.Collection(collDrivers).FindOne(ctx, bson.D{{Key: "tax_id", Value: taxID}}).Decode(&driver)
	if err != nil {
		return nil, notFound(err, "get driver")
	}
	return &driver, nil
}

func (s *Store) IdentificationKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "identification_key", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	opts := options.Find().SetProjection(bson.D{{Key: "identification_key", Value: 1}})

	cursor, err := s.db.Collection(collDrivers).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list identification keys: %w", err)
	}
	var rows []struct {
		Key string `bson:"identification_key"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode identification keys: %w", err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

func (s *Store) ListDrivers(ctx context.Context) ([]models.DriverEnrollment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "tax_id", Value: 1}})
	cursor, err := s.db.Collection(collDrivers).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	drivers := []models.DriverEnrollment{}
	if err := cursor.All(ctx, &drivers); err != nil {
		return nil, fmt.Errorf("decode drivers: %w", err)
	}
	return drivers, nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *models.QueueEntry) error {
	doc := entryDoc{QueueEntry: *entry, Active: entry.Status.Active()}
	_, err := s.db.Collection(collEntries).InsertOne(ctx, doc)
	if duplicateIndex(err) == indexActiveEntry {
		return store.ErrActiveEntryExists
	}
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *Store) findEntry(ctx context.Context, filter bson.D, action string) (*models.QueueEntry, error) {
	var doc entryDoc
	if err := s.db.Collection(collEntries).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err, action)
	}
	return &doc.QueueEntry, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	return s.findEntry(ctx, bson.D{{Key: "_id", Value: id}}, "get queue entry")
}

func (s *Store) FindActiveEntry(ctx context.Context, taxID string) (*models.QueueEntry, error) {
	return s.findEntry(ctx, bson.D{{Key: "tax_id", Value: taxID}, {Key: "active", Value: true}}, "find active entry")
}

func (s *Store) ListEntries(ctx context.Context, filter store.QueueFilter) ([]models.QueueEntry, error) {
	cursor, err := s.db.Collection(collEntries).Find(ctx, listFilter(filter), listOptions(filter))
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode queue entries: %w", err)
	}
	entries := make([]models.QueueEntry, len(docs))
	for i, d := range docs {
		entries[i] = d.QueueEntry
	}
	return entries, nil
}

func listFilter(filter store.QueueFilter) bson.D {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: string(filter.Status)})
	}
	if filter.Destination != "" {
		query = append(query, bson.E{Key: "destination", Value: filter.Destination})
	}
	if filter.Facility != "" {
		query = append(query, bson.E{Key: "origin", Value: filter.Facility})
	}
	return query
}

func listOptions(filter store.QueueFilter) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "arrived_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	return opts
}

func (s *Store) updateEntry(ctx context.Context, filter, update bson.D) (*models.QueueEntry, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc entryDoc
	if err := s.db.Collection(collEntries).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc.QueueEntry, nil
}

func (s *Store) SetDock(ctx context.Context, id, dock string, at time.Time) (*models.QueueEntry, error) {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "dock", Value: dock},
		{Key: "dock_notified_at", Value: at},
		{Key: "updated_at", Value: at},
	}}}
	entry, err := s.updateEntry(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return nil, notFound(err, "set dock")
	}
	return entry, nil
}

// TransitionEntry matches on the expected status so a concurrent change
// makes the update miss.
func (s *Store) TransitionEntry(ctx context.Context, id string, t models.QueueTransition) (*models.QueueEntry, error) {
	filter := bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(t.From)}}
	entry, err := s.updateEntry(ctx, filter, transitionUpdate(t))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("transition queue entry: %w", err)
	}

	count, err := s.db.Collection(collEntries).CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("check queue entry: %w", err)
	}
	if count == 0 {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrStatusConflict
}

func transitionUpdate(t models.QueueTransition) bson.D {
	set := bson.D{
		{Key: "status", Value: string(t.To)},
		{Key: "active", Value: t.To.Active()},
		{Key: "updated_at", Value: t.At},
	}
	if t.UnloadStartedAt != nil {
		set = append(set, bson.E{Key: "unload_started_at", Value: *t.UnloadStartedAt})
	}
	if t.WaitSeconds != nil {
		set = append(set, bson.E{Key: "wait_seconds", Value: *t.WaitSeconds})
	}
	if t.UnloadEndedAt != nil {
		set = append(set, bson.E{Key: "unload_ended_at", Value: *t.UnloadEndedAt})
	}
	if t.UnloadSeconds != nil {
		set = append(set, bson.E{Key: "unload_seconds", Value: *t.UnloadSeconds})
	}
	if t.Load != nil {
		set = append(set,
			bson.E{Key: "cage_count", Value: t.Load.Cages},
			bson.E{Key: "pallet_count", Value: t.Load.Pallets},
			bson.E{Key: "sleeve_count", Value: t.Load.Sleeves},
		)
	}
	return bson.D{{Key: "$set", Value: set}}
}

func (s *Store) GetWaypointByCode(ctx context.Context, code string) (*models.Waypoint, error) {
	var wp models.Waypoint
	if err := s.db.Collection(collWaypoints).FindOne(ctx, bson.D{{Key: "code", Value: code}}).Decode(&wp); err != nil {
		return nil, notFound(err, "get waypoint")
	}
	return &wp, nil
}

func (s *Store) ListWaypoints(ctx context.Context) ([]models.Waypoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	cursor, err := s.db.Collection(collWaypoints).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list waypoints: %w", err)
	}
	waypoints := []models.Waypoint{}
	if err := cursor.All(ctx, &waypoints); err != nil {
		return nil, fmt.Errorf("decode waypoints: %w", err)
	}
	return waypoints, nil
}

func (s *Store) UpsertToken(ctx context.Context, token *models.FCMToken) error {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "tax_id", Value: token.TaxID},
			{Key: "device_type", Value: token.DeviceType},
			{Key: "updated_at", Value: token.UpdatedAt},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: token.CreatedAt}}},
	}
	_, err := s.db.Collection(collTokens).UpdateByID(ctx, token.Token, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert fcm token: %w", err)
	}
	return nil
}

func (s *Store) TokensForDriver(ctx context.Context, taxID string) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collTokens).Find(ctx, bson.D{{Key: "tax_id", Value: taxID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list fcm tokens: %w", err)
	}
	var docs []models.FCMToken
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode fcm tokens: %w", err)
	}
	tokens := make([]string, len(docs))
	for i, d := range docs {
		tokens[i] = d.Token
	}
	return tokens, nil
}
