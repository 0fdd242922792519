package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

type mockRepo struct {
	store map[uuid.UUID]*Worker
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Worker)}
}

func (m *mockRepo) Create(_ context.Context, w *Worker) error {
	if w.Username != nil {
		if _, err := m.GetByUsername(context.Background(), *w.Username); err == nil {
			return apperr.Conflict("worker already exists")
		}
	}
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	cp := *w
	m.store[w.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Worker, error) {
	w, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("worker")
	}
	cp := *w
	return &cp, nil
}

func (m *mockRepo) GetByUsername(_ context.Context, username string) (*Worker, error) {
	for _, w := range m.store {
		if w.Username != nil && *w.Username == username {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("worker")
}

func (m *mockRepo) Update(_ context.Context, w *Worker) error {
	if _, ok := m.store[w.ID]; !ok {
		return apperr.NotFound("worker")
	}
	cp := *w
	m.store[w.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("worker")
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) TouchLogin(_ context.Context, id uuid.UUID) error {
	now := time.Now()
	m.store[id].LastLoginAt = &now
	return nil
}

func (m *mockRepo) CountWithAccess(_ context.Context) (int, error) {
	n := 0
	for _, w := range m.store {
		if w.HasSystemAccess {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, _ string, _, _ int) ([]*Worker, int, error) {
	var out []*Worker
	for _, w := range m.store {
		if r := params["role"]; r != "" && w.Role != r {
			continue
		}
		out = append(out, w)
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.New(io.Discard)), repo
}

func strPtr(s string) *string { return &s }

func TestService_CreateWithoutAccess(t *testing.T) {
	svc, _ := newTestService()
	w := &Worker{FirstName: "Rosa", LastName: "Huamán", Specialization: strPtr("Fisioterapia"),
		Username: strPtr("rosa"), Password: "ignored-secret"}
	if err := svc.Create(context.Background(), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Role != auth.RolePractitioner {
		t.Errorf("expected default role practitioner, got %s", w.Role)
	}
	if w.Username != nil || w.PasswordHash != "" || w.Password != "" {
		t.Errorf("expected no credentials without system access, got %+v", w)
	}
}

func TestService_CreateWithAccess(t *testing.T) {
	svc, repo := newTestService()
	w := &Worker{FirstName: "Jorge", LastName: "Salas", Role: "Receptionist", HasSystemAccess: true,
		Username: strPtr(" JSalas "), Password: "s3cret-pass"}
	if err := svc.Create(context.Background(), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.store[w.ID]
	if *stored.Username != "jsalas" {
		t.Errorf("expected normalized username, got %q", *stored.Username)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "s3cret-pass" {
		t.Error("expected password to be hashed")
	}
	if w.Password != "" {
		t.Error("expected plaintext password to be cleared")
	}
}

func TestService_CreateAccessValidation(t *testing.T) {
	tests := []struct {
		name string
		w    *Worker
	}{
		{"missing username", &Worker{FirstName: "A", LastName: "B", HasSystemAccess: true, Password: "longenough"}},
		{"missing password", &Worker{FirstName: "A", LastName: "B", HasSystemAccess: true, Username: strPtr("ab")}},
		{"short password", &Worker{FirstName: "A", LastName: "B", HasSystemAccess: true, Username: strPtr("ab"), Password: "short"}},
		{"bad role", &Worker{FirstName: "A", LastName: "B", Role: "janitor"}},
		{"missing name", &Worker{LastName: "B"}},
		{"bad email", &Worker{FirstName: "A", LastName: "B", Email: strPtr("nope")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			if err := svc.Create(context.Background(), tt.w); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_UpdateKeepsAndRevokesCredentials(t *testing.T) {
	svc, repo := newTestService()
	w := &Worker{FirstName: "Jorge", LastName: "Salas", HasSystemAccess: true, Username: strPtr("jsalas"), Password: "s3cret-pass"}
	svc.Create(context.Background(), w)
	hash := repo.store[w.ID].PasswordHash

	upd := &Worker{ID: w.ID, FirstName: "Jorge", LastName: "Salas Ruiz", HasSystemAccess: true, Username: strPtr("jsalas"), Active: true}
	if err := svc.Update(context.Background(), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.store[w.ID].PasswordHash != hash {
		t.Error("expected password hash to be kept when no password is sent")
	}
	if upd.Role != auth.RolePractitioner {
		t.Errorf("expected role to be kept, got %s", upd.Role)
	}

	upd.Password = "another-pass"
	svc.Update(context.Background(), upd)
	if repo.store[w.ID].PasswordHash == hash {
		t.Error("expected password change to rehash")
	}

	revoke := &Worker{ID: w.ID, FirstName: "Jorge", LastName: "Salas Ruiz", Active: true}
	if err := svc.Update(context.Background(), revoke); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := repo.store[w.ID]; s.Username != nil || s.PasswordHash != "" {
		t.Errorf("expected credentials cleared, got %+v", s)
	}
}

func TestService_Authenticate(t *testing.T) {
	svc, repo := newTestService()
	w := &Worker{FirstName: "Jorge", LastName: "Salas", HasSystemAccess: true, Username: strPtr("jsalas"), Password: "s3cret-pass"}
	svc.Create(context.Background(), w)

	got, err := svc.Authenticate(context.Background(), "JSALAS", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != w.ID {
		t.Errorf("expected worker %s, got %s", w.ID, got.ID)
	}
	if repo.store[w.ID].LastLoginAt == nil {
		t.Error("expected last login to be recorded")
	}

	if _, err := svc.Authenticate(context.Background(), "jsalas", "wrong-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "ghost", "whatever1"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized for unknown user, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	repo.store[w.ID].Active = false
	if _, err := svc.Authenticate(context.Background(), "jsalas", "s3cret-pass"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected inactive worker to be rejected, got %v", err)
	}
}

func TestService_Bootstrap(t *testing.T) {
	svc, _ := newTestService()
	w, err := svc.Bootstrap(context.Background(), "Admin", "Clinic", "admin", "change-me-now")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Role != auth.RoleAdmin || !w.HasSystemAccess {
		t.Errorf("unexpected bootstrap worker %+v", w)
	}
	if _, err := svc.Bootstrap(context.Background(), "Other", "Admin", "admin2", "change-me-now"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected second bootstrap to fail, got %v", err)
	}
}
