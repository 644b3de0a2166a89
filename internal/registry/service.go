package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxKeyAttempts bounds retries when a concurrent registration grabs the
// identification key we picked.
const maxKeyAttempts = 5

// RegisterParams carries the enrollment form.
type RegisterParams struct {
	Name            string
	TaxID           string
	Phone           string
	Email           string
	Origin          string
	DestinationCode string
}

// Service maintains driver enrollments.
type Service struct {
	drivers   store.DriverStore
	waypoints store.WaypointStore
	tokens    store.TokenStore
	now       func() time.Time
}

func NewService(drivers store.DriverStore, waypoints store.WaypointStore, tokens store.TokenStore) *Service {
	return &Service{
		drivers:   drivers,
		waypoints: waypoints,
		tokens:    tokens,
		now:       time.Now,
	}
}

// Register enrolls a new driver. The tax id must be unused; the
// identification key gets a numeric suffix when the slug is taken.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.DriverEnrollment, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.TaxID = strings.TrimSpace(p.TaxID)
	p.Origin = strings.TrimSpace(p.Origin)
	p.DestinationCode = strings.TrimSpace(p.DestinationCode)

	if fields := validateRegister(p); len(fields) > 0 {
		return nil, apperrors.InvalidInput(fields)
	}

	if _, err := s.waypoints.GetWaypointByCode(ctx, p.DestinationCode); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.InvalidInput(map[string]string{"destination_code": "unknown destination waypoint"})
		}
		return nil, apperrors.Internal(err, "load destination waypoint")
	}

	if _, err := s.drivers.GetDriverByTaxID(ctx, p.TaxID); err == nil {
		return nil, duplicateTaxID(p.TaxID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Internal(err, "check tax id")
	}

	base := Slug(p.Name, p.Origin, p.DestinationCode)
	driver := &models.DriverEnrollment{
		ID:          uuid.New().String(),
		Name:        p.Name,
		TaxID:       p.TaxID,
		Phone:       strings.TrimSpace(p.Phone),
		Email:       strings.TrimSpace(p.Email),
		Origin:      p.Origin,
		Destination: p.DestinationCode,
		CreatedAt:   s.now().UTC(),
	}

	for attempt := 1; attempt <= maxKeyAttempts; attempt++ {
		taken, err := s.drivers.IdentificationKeysWithPrefix(ctx, base)
		if err != nil {
			return nil, apperrors.Internal(err, "load identification keys")
		}
		driver.IdentificationKey = nextKey(base, taken)

		err = s.drivers.CreateDriver(ctx, driver)
		switch {
		case err == nil:
			log.Info().
				Str("tax_id", driver.TaxID).
				Str("identification_key", driver.IdentificationKey).
				Str("destination", driver.Destination).
				Msg("✅ Driver enrolled")
			return driver, nil
		case errors.Is(err, store.ErrDuplicateTaxID):
			return nil, duplicateTaxID(p.TaxID)
		case errors.Is(err, store.ErrDuplicateKey):
			log.Debug().Str("key", driver.IdentificationKey).Int("attempt", attempt).Msg("🔁 Identification key taken concurrently, retrying")
			continue
		default:
			return nil, apperrors.Internal(err, "create driver")
		}
	}
	return nil, apperrors.Internal(store.ErrDuplicateKey, "could not allocate identification key")
}

// Lookup returns the enrollment for taxID or a NOT_FOUND error.
func (s *Service) Lookup(ctx context.Context, taxID string) (*models.DriverEnrollment, error) {
	driver, err := s.drivers.GetDriverByTaxID(ctx, strings.TrimSpace(taxID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "driver not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err, "load driver")
	}
	return driver, nil
}

func (s *Service) List(ctx context.Context) ([]models.DriverEnrollment, error) {
	drivers, err := s.drivers.ListDrivers(ctx)
	if err != nil {
		return nil, apperrors.Internal(err, "list drivers")
	}
	return drivers, nil
}

// RegisterPushToken stores a device token used for dock notices.
func (s *Service) RegisterPushToken(ctx context.Context, taxID, token, deviceType string) error {
	if _, err := s.Lookup(ctx, taxID); err != nil {
		return err
	}
	fields := map[string]string{}
	if strings.TrimSpace(token) == "" {
		fields["token"] = "is required"
	}
	if deviceType != "ios" && deviceType != "android" {
		fields["device_type"] = "must be ios or android"
	}
	if len(fields) > 0 {
		return apperrors.InvalidInput(fields)
	}

	now := s.now().UTC()
	err := s.tokens.UpsertToken(ctx, &models.FCMToken{
		TaxID:      strings.TrimSpace(taxID),
		Token:      strings.TrimSpace(token),
		DeviceType: deviceType,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return apperrors.Internal(err, "save push token")
	}
	return nil
}

func validateRegister(p RegisterParams) map[string]string {
	fields := map[string]string{}
	if p.Name == "" {
		fields["name"] = "is required"
	}
	if p.TaxID == "" {
		fields["tax_id"] = "is required"
	}
	if p.Origin == "" {
		fields["origin"] = "is required"
	}
	if p.DestinationCode == "" {
		fields["destination_code"] = "is required"
	}
	return fields
}

func duplicateTaxID(taxID string) error {
	return apperrors.New(apperrors.CodeDuplicateTaxID, "a driver with this tax id is already enrolled").
		WithDetails(map[string]any{"tax_id": taxID})
}
