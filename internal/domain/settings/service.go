package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clinic/clinic/internal/platform/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the clinic settings, or Defaults when none are stored.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	st, err := s.repo.Get(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	fillDefaults(st)
	return st, nil
}

// fillDefaults covers documents saved before a field existed.
func fillDefaults(st *Settings) {
	d := Defaults()
	if len(st.PaymentMethods) == 0 {
		st.PaymentMethods = d.PaymentMethods
	}
	if len(st.DocumentTypes) == 0 {
		st.DocumentTypes = d.DocumentTypes
	}
	if st.DefaultAppointmentMinutes == 0 {
		st.DefaultAppointmentMinutes = d.DefaultAppointmentMinutes
	}
	if st.TimeZone == "" {
		st.TimeZone = d.TimeZone
	}
	if st.Currency == "" {
		st.Currency = d.Currency
	}
}

func (s *Service) Update(ctx context.Context, st *Settings) error {
	normalize(st)
	if err := Validate(st); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, st)
}

func normalize(st *Settings) {
	st.ClinicName = strings.TrimSpace(st.ClinicName)
	st.Currency = strings.ToUpper(strings.TrimSpace(st.Currency))
	st.TimeZone = strings.TrimSpace(st.TimeZone)
	for i, m := range st.PaymentMethods {
		st.PaymentMethods[i] = strings.ToLower(strings.TrimSpace(m))
	}
	for i, d := range st.DocumentTypes {
		st.DocumentTypes[i] = strings.ToUpper(strings.TrimSpace(d))
	}
}

// Validate checks a settings document before it is stored.
func Validate(st *Settings) error {
	if st.ClinicName == "" {
		return apperr.Validation("clinic_name is required")
	}
	if len(st.Currency) != 3 {
		return apperr.Validation("currency must be a 3-letter code")
	}
	for _, r := range st.Currency {
		if r < 'A' || r > 'Z' {
			return apperr.Validation("currency must be a 3-letter code")
		}
	}
	if st.TimeZone == "" {
		return apperr.Validation("time_zone is required")
	}
	if _, err := time.LoadLocation(st.TimeZone); err != nil {
		return apperr.Validation("unknown time_zone %q", st.TimeZone)
	}
	if len(st.PaymentMethods) == 0 {
		return apperr.Validation("at least one payment method is required")
	}
	seen := map[string]bool{}
	for _, m := range st.PaymentMethods {
		if m == "" {
			return apperr.Validation("payment methods must not be empty")
		}
		if seen[m] {
			return apperr.Validation("duplicate payment method %q", m)
		}
		seen[m] = true
	}
	if len(st.DocumentTypes) == 0 {
		return apperr.Validation("at least one document type is required")
	}
	known := map[string]bool{}
	for _, d := range KnownDocumentTypes {
		known[d] = true
	}
	for _, d := range st.DocumentTypes {
		if !known[d] {
			return apperr.Validation("unknown document type %q", d)
		}
	}
	if st.LowStockThreshold < 0 {
		return apperr.Validation("low_stock_threshold must not be negative")
	}
	if st.DefaultAppointmentMinutes < 5 || st.DefaultAppointmentMinutes > 480 {
		return apperr.Validation("default_appointment_minutes must be between 5 and 480")
	}
	return nil
}

// PaymentMethods returns the configured payment methods.
func (s *Service) PaymentMethods(ctx context.Context) ([]string, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return st.PaymentMethods, nil
}

// DocumentTypes returns the enabled patient document types.
func (s *Service) DocumentTypes(ctx context.Context) ([]string, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return st.DocumentTypes, nil
}

// DefaultAppointmentMinutes returns the default appointment length.
func (s *Service) DefaultAppointmentMinutes(ctx context.Context) (int, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return st.DefaultAppointmentMinutes, nil
}

// LowStockThreshold returns the default minimum stock for new products.
func (s *Service) LowStockThreshold(ctx context.Context) (int, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return st.LowStockThreshold, nil
}
