package patient

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// DocumentTypes returns the document types the clinic accepts.
type DocumentTypes interface {
	DocumentTypes(ctx context.Context) ([]string, error)
}

type Service struct {
	repo      Repository
	docTypes  DocumentTypes
	publisher websocket.Publisher
	now       func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, publisher: websocket.NopPublisher{}, now: time.Now}
}

// SetDocumentTypes restricts document types to the clinic's configuration.
func (s *Service) SetDocumentTypes(d DocumentTypes) { s.docTypes = d }

func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

var validDocumentTypes = map[string]bool{
	"DNI": true, "CE": true, "PASSPORT": true, "RUC": true, "OTHER": true,
}

var validGenders = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	normalize(p)
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	p.Active = true
	if err := s.validate(ctx, p); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	_ = s.publisher.Publish(ctx, websocket.NewEvent("patient.created", websocket.PatientTopic(p.ID.String()), "patient", p.ID.String(), p))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces the editable fields of an existing patient.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	if _, err := s.repo.GetByID(ctx, p.ID); err != nil {
		return err
	}
	normalize(p)
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	if err := s.validate(ctx, p); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	updated, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *updated
	_ = s.publisher.Publish(ctx, websocket.NewEvent("patient.updated", websocket.PatientTopic(p.ID.String()), "patient", p.ID.String(), p))
	return nil
}

// Delete removes a patient. Patients with appointments, packages, abonos or
// payments cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, sort, limit, offset)
}

// Exists reports whether the patient is present; it is used by other
// modules before referencing a patient.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) error {
	_, err := s.repo.GetByID(ctx, id)
	return err
}

func normalize(p *Patient) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.DocumentType = strings.ToUpper(strings.TrimSpace(p.DocumentType))
	p.DocumentNumber = strings.TrimSpace(p.DocumentNumber)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	p.Phone = trimOptional(p.Phone)
	p.Email = trimOptional(p.Email)
	p.Address = trimOptional(p.Address)
	p.Notes = trimOptional(p.Notes)
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

func (s *Service) validate(ctx context.Context, p *Patient) error {
	if p.FirstName == "" {
		return apperr.Validation("first_name is required")
	}
	if p.LastName == "" {
		return apperr.Validation("last_name is required")
	}
	if p.DocumentType == "" || p.DocumentNumber == "" {
		return apperr.Validation("document_type and document_number are required")
	}
	if !validDocumentTypes[p.DocumentType] {
		return apperr.Validation("invalid document_type: %s", p.DocumentType)
	}
	if s.docTypes != nil {
		enabled, err := s.docTypes.DocumentTypes(ctx)
		if err != nil {
			return err
		}
		if !contains(enabled, p.DocumentType) {
			return apperr.Validation("document_type %s is not enabled for this clinic", p.DocumentType)
		}
	}
	if !validGenders[p.Gender] {
		return apperr.Validation("invalid gender: %s", p.Gender)
	}
	if p.Email != nil {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return apperr.Validation("invalid email: %s", *p.Email)
		}
	}
	if p.BirthDate != nil && p.BirthDate.After(s.now()) {
		return apperr.Validation("birth_date must not be in the future")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
