package worker

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

// dummyHash keeps unknown-username logins as slow as wrong-password ones.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5M0dPqY8pYp6f8pZxFvL8tC"

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "worker").Logger()}
}

func (s *Service) Create(ctx context.Context, w *Worker) error {
	normalize(w)
	if w.Role == "" {
		w.Role = auth.RolePractitioner
	}
	w.Active = true
	if err := validate(w); err != nil {
		return err
	}
	if err := applyCredentials(w, ""); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return err
	}
	w.Password = ""
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Worker, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces a worker's profile. An empty password keeps the current
// one; revoking system access clears the credentials.
func (s *Service) Update(ctx context.Context, w *Worker) error {
	existing, err := s.repo.GetByID(ctx, w.ID)
	if err != nil {
		return err
	}
	normalize(w)
	if w.Role == "" {
		w.Role = existing.Role
	}
	if err := validate(w); err != nil {
		return err
	}
	if err := applyCredentials(w, existing.PasswordHash); err != nil {
		return err
	}
	w.LastLoginAt = existing.LastLoginAt
	if err := s.repo.Update(ctx, w); err != nil {
		return err
	}
	w.Password = ""
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Worker, int, error) {
	return s.repo.Search(ctx, params, sort, limit, offset)
}

// Exists reports whether the worker is present.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) error {
	_, err := s.repo.GetByID(ctx, id)
	return err
}

// Authenticate checks a username and password. Inactive workers and workers
// without system access are rejected like a wrong password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Worker, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	w, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		auth.CheckPassword(dummyHash, password)
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(w.PasswordHash, password) || !w.Active || !w.HasSystemAccess {
		s.logger.Warn().Str("username", username).Msg("login rejected")
		return nil, apperr.ErrUnauthorized
	}
	if err := s.repo.TouchLogin(ctx, w.ID); err != nil {
		s.logger.Error().Err(err).Str("worker_id", w.ID.String()).Msg("record last login")
	}
	return w, nil
}

// Bootstrap creates the first administrator of a clinic. It refuses to run
// once any worker has system access.
func (s *Service) Bootstrap(ctx context.Context, firstName, lastName, username, password string) (*Worker, error) {
	n, err := s.repo.CountWithAccess(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, apperr.InvalidState("clinic already has %d worker(s) with system access", n)
	}
	w := &Worker{
		FirstName:       firstName,
		LastName:        lastName,
		Role:            auth.RoleAdmin,
		HasSystemAccess: true,
		Username:        &username,
		Password:        password,
	}
	if err := s.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func normalize(w *Worker) {
	w.FirstName = strings.TrimSpace(w.FirstName)
	w.LastName = strings.TrimSpace(w.LastName)
	w.Role = strings.ToLower(strings.TrimSpace(w.Role))
	w.DocumentType = trimOptional(w.DocumentType)
	w.DocumentNumber = trimOptional(w.DocumentNumber)
	w.Phone = trimOptional(w.Phone)
	w.Email = trimOptional(w.Email)
	w.Specialization = trimOptional(w.Specialization)
	w.Username = trimOptional(w.Username)
	if w.Username != nil {
		lower := strings.ToLower(*w.Username)
		w.Username = &lower
	}
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func validate(w *Worker) error {
	if w.FirstName == "" || w.LastName == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if !auth.ValidRole(w.Role) {
		return apperr.Validation("invalid role: %s", w.Role)
	}
	if w.Email != nil {
		if _, err := mail.ParseAddress(*w.Email); err != nil {
			return apperr.Validation("invalid email: %s", *w.Email)
		}
	}
	return nil
}

// applyCredentials sets PasswordHash from the access flag, the submitted
// password and the currently stored hash.
func applyCredentials(w *Worker, currentHash string) error {
	if !w.HasSystemAccess {
		w.Username = nil
		w.Password = ""
		w.PasswordHash = ""
		return nil
	}
	if w.Username == nil {
		return apperr.Validation("username is required for system access")
	}
	if w.Password == "" {
		if currentHash == "" {
			return apperr.Validation("password is required for system access")
		}
		w.PasswordHash = currentHash
		return nil
	}
	hash, err := auth.HashPassword(w.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return apperr.Validation("%v", err)
	}
	if err != nil {
		return err
	}
	w.PasswordHash = hash
	w.Password = ""
	return nil
}
