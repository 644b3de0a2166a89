package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store is the postgres implementation of store.Store.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// mapError turns missing rows and constraint violations into store
// sentinels. ok is false when err has no sentinel.
func mapError(err error) (mapped error, ok bool) {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		switch pqErr.Constraint {
		case constraintDriverTaxID:
			return store.ErrDuplicateTaxID, true
		case constraintDriverKey:
			return store.ErrDuplicateKey, true
		case indexActiveQueueEntry:
			return store.ErrActiveEntryExists, true
		}
	}
	return nil, false
}

func (s *Store) CreateDriver(ctx context.Context, driver *models.DriverEnrollment) error {
	query := `
		INSERT INTO drivers (id, name, tax_id, phone, email, origin, destination, identification_key, created_at)
		VALUES (:id, :name, :tax_id, :phone, :email, :origin, :destination, :identification_key, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, driver); err != nil {
		return wrap(err, "insert driver")
	}
	return nil
}

func (s *Store) GetDriverByTaxID(ctx context.Context, taxID string) (*models.DriverEnrollment, error) {
	var driver models.DriverEnrollment
	if err := s.db.GetContext(ctx, &driver, `SELECT * FROM drivers WHERE tax_id = $1`, taxID); err != nil {
		return nil, wrap(err, "get driver")
	}
	return &driver, nil
}

func (s *Store) IdentificationKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	query := `SELECT identification_key FROM drivers WHERE identification_key LIKE $1 ESCAPE '\' ORDER BY identification_key`
	if err := s.db.SelectContext(ctx, &keys, query, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("list identification keys: %w", err)
	}
	return keys, nil
}

func (s *Store) ListDrivers(ctx context.Context) ([]models.DriverEnrollment, error) {
	drivers := []models.DriverEnrollment{}
	if err := s.db.SelectContext(ctx, &drivers, `SELECT * FROM drivers ORDER BY name, tax_id`); err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return drivers, nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *models.QueueEntry) error {
	query := `
		INSERT INTO queue_entries (
			id, tax_id, driver_name, identification_key, origin, destination, status,
			arrived_at, wait_seconds, unload_seconds, created_at, updated_at
		) VALUES (
			:id, :tax_id, :driver_name, :identification_key, :origin, :destination, :status,
			:arrived_at, :wait_seconds, :unload_seconds, :created_at, :updated_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return wrap(err, "insert queue entry")
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := s.db.GetContext(ctx, &entry, `SELECT * FROM queue_entries WHERE id = $1`, id); err != nil {
		return nil, wrap(err, "get queue entry")
	}
	return &entry, nil
}

func (s *Store) FindActiveEntry(ctx context.Context, taxID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	query := `SELECT * FROM queue_entries WHERE tax_id = $1 AND status IN ` + activeStatusesSQLArray + ` LIMIT 1`
	if err := s.db.GetContext(ctx, &entry, query, taxID); err != nil {
		return nil, wrap(err, "find active entry")
	}
	return &entry, nil
}

func (s *Store) ListEntries(ctx context.Context, filter store.QueueFilter) ([]models.QueueEntry, error) {
	query, args := buildListQuery(filter)
	entries := []models.QueueEntry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	return entries, nil
}

func buildListQuery(filter store.QueueFilter) (string, []any) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Destination != "" {
		add("destination = $%d", filter.Destination)
	}
	if filter.Facility != "" {
		add("origin = $%d", filter.Facility)
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM queue_entries")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY arrived_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (s *Store) SetDock(ctx context.Context, id, dock string, at time.Time) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	query := `
		UPDATE queue_entries
		SET dock = $2, dock_notified_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING *
	`
	if err := s.db.GetContext(ctx, &entry, query, id, dock, at); err != nil {
		return nil, wrap(err, "set dock")
	}
	return &entry, nil
}

// TransitionEntry updates the row only while it still has status t.From.
func (s *Store) TransitionEntry(ctx context.Context, id string, t models.QueueTransition) (*models.QueueEntry, error) {
	var cages, pallets, sleeves *int
	if t.Load != nil {
		cages, pallets, sleeves = &t.Load.Cages, &t.Load.Pallets, &t.Load.Sleeves
	}

	query := `
		UPDATE queue_entries SET
			status = $3,
			updated_at = $4,
			unload_started_at = COALESCE($5, unload_started_at),
			wait_seconds = COALESCE($6, wait_seconds),
			unload_ended_at = COALESCE($7, unload_ended_at),
			unload_seconds = COALESCE($8, unload_seconds),
			cage_count = COALESCE($9, cage_count),
			pallet_count = COALESCE($10, pallet_count),
			sleeve_count = COALESCE($11, sleeve_count)
		WHERE id = $1 AND status = $2
		RETURNING *
	`
	var entry models.QueueEntry
	err := s.db.GetContext(ctx, &entry, query,
		id, string(t.From), string(t.To), t.At,
		t.UnloadStartedAt, t.WaitSeconds,
		t.UnloadEndedAt, t.UnloadSeconds,
		cages, pallets, sleeves,
	)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition queue entry: %w", err)
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM queue_entries WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("check queue entry: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrStatusConflict
}

func (s *Store) GetWaypointByCode(ctx context.Context, code string) (*models.Waypoint, error) {
	var wp models.Waypoint
	if err := s.db.GetContext(ctx, &wp, `SELECT * FROM waypoints WHERE code = $1`, code); err != nil {
		return nil, wrap(err, "get waypoint")
	}
	return &wp, nil
}

func (s *Store) ListWaypoints(ctx context.Context) ([]models.Waypoint, error) {
	waypoints := []models.Waypoint{}
	if err := s.db.SelectContext(ctx, &waypoints, `SELECT * FROM waypoints ORDER BY code`); err != nil {
		return nil, fmt.Errorf("list waypoints: %w", err)
	}
	return waypoints, nil
}

func (s *Store) UpsertToken(ctx context.Context, token *models.FCMToken) error {
	query := `
		INSERT INTO fcm_tokens (token, tax_id, device_type, created_at, updated_at)
		VALUES (:token, :tax_id, :device_type, :created_at, :updated_at)
		ON CONFLICT (token) DO UPDATE SET
			tax_id = EXCLUDED.tax_id,
			device_type = EXCLUDED.device_type,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("upsert fcm token: %w", err)
	}
	return nil
}

func (s *Store) TokensForDriver(ctx context.Context, taxID string) ([]string, error) {
	tokens := []string{}
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE tax_id = $1 ORDER BY token`, taxID); err != nil {
		return nil, fmt.Errorf("list fcm tokens: %w", err)
	}
	return tokens, nil
}

func wrap(err error, action string) error {
	if mapped, ok := mapError(err); ok {
		return mapped
	}
	return fmt.Errorf("%s: %w", action, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
