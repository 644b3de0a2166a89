// Package memory is an in-process Store used for local development and tests.
// It enforces the same uniqueness and compare-and-set rules as the database stores.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	drivers   map[string]models.DriverEnrollment // by tax id
	entries   map[string]models.QueueEntry       // by id
	waypoints map[string]models.Waypoint         // by code
	tokens    map[string]models.FCMToken         // by token
}

var _ store.Store = (*Store)(nil)

func New(waypoints ...models.Waypoint) *Store {
	s := &Store{
		drivers:   make(map[string]models.DriverEnrollment),
		entries:   make(map[string]models.QueueEntry),
		waypoints: make(map[string]models.Waypoint),
		tokens:    make(map[string]models.FCMToken),
	}
	for _, wp := range waypoints {
		s.waypoints[wp.Code] = wp
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateDriver(ctx context.Context, driver *models.DriverEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drivers[driver.TaxID]; ok {
		return store.ErrDuplicateTaxID
	}
	for _, d := range s.drivers {
		if d.IdentificationKey == driver.IdentificationKey {
			return store.ErrDuplicateKey
		}
	}
	s.drivers[driver.TaxID] = *driver
	return nil
}

func (s *Store) GetDriverByTaxID(ctx context.Context, taxID string) (*models.DriverEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drivers[taxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) IdentificationKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []string{}
	for _, d := range s.drivers {
		if strings.HasPrefix(d.IdentificationKey, prefix) {
			keys = append(keys, d.IdentificationKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) ListDrivers(ctx context.Context) ([]models.DriverEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drivers := make([]models.DriverEnrollment, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].Name < drivers[j].Name })
	return drivers, nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.TaxID == entry.TaxID && e.Status.Active() {
			return store.ErrActiveEntryExists
		}
	}
	s.entries[entry.ID] = *entry
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) FindActiveEntry(ctx context.Context, taxID string) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.TaxID == taxID && e.Status.Active() {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListEntries(ctx context.Context, filter store.QueueFilter) ([]models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []models.QueueEntry{}
	for _, e := range s.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Destination != "" && e.Destination != filter.Destination {
			continue
		}
		if filter.Facility != "" && e.Origin != filter.Facility {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ArrivedAt.Equal(entries[j].ArrivedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].ArrivedAt.After(entries[j].ArrivedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return []models.QueueEntry{}, nil
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(entries) {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (s *Store) SetDock(ctx context.Context, id, dock string, at time.Time) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Dock = &dock
	e.DockNotifiedAt = &at
	e.UpdatedAt = at
	s.entries[id] = e
	return &e, nil
}

func (s *Store) TransitionEntry(ctx context.Context, id string, t models.QueueTransition) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.Status != t.From {
		return nil, store.ErrStatusConflict
	}

	e.Status = t.To
	e.UpdatedAt = t.At
	if t.UnloadStartedAt != nil {
		e.UnloadStartedAt = t.UnloadStartedAt
	}
	if t.WaitSeconds != nil {
		e.WaitSeconds = *t.WaitSeconds
	}
	if t.UnloadEndedAt != nil {
		e.UnloadEndedAt = t.UnloadEndedAt
	}
	if t.UnloadSeconds != nil {
		e.UnloadSeconds = *t.UnloadSeconds
	}
	if t.Load != nil {
		cages, pallets, sleeves := t.Load.Cages, t.Load.Pallets, t.Load.Sleeves
		e.CageCount = &cages
		e.PalletCount = &pallets
		e.SleeveCount = &sleeves
	}
	s.entries[id] = e
	return &e, nil
}

func (s *Store) GetWaypointByCode(ctx context.Context, code string) (*models.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wp, ok := s.waypoints[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &wp, nil
}

func (s *Store) ListWaypoints(ctx context.Context) ([]models.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	waypoints := make([]models.Waypoint, 0, len(s.waypoints))
	for _, wp := range s.waypoints {
		waypoints = append(waypoints, wp)
	}
	sort.Slice(waypoints, func(i, j int) bool { return waypoints[i].Code < waypoints[j].Code })
	return waypoints, nil
}

func (s *Store) UpsertToken(ctx context.Context, token *models.FCMToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[token.Token]; ok {
		token.CreatedAt = existing.CreatedAt
	}
	s.tokens[token.Token] = *token
	return nil
}

func (s *Store) TokensForDriver(ctx context.Context, taxID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := []string{}
	for _, t := range s.tokens {
		if t.TaxID == taxID {
			tokens = append(tokens, t.Token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}
