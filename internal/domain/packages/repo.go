package packages

import (
	"context"

	"github.com/google/uuid"
)

type PackageRepository interface {
	Create(ctx context.Context, p *Package) error
	GetByID(ctx context.Context, id uuid.UUID) (*Package, error)
	Update(ctx context.Context, p *Package) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Package, int, error)
}

type PatientPackageRepository interface {
	Create(ctx context.Context, pp *PatientPackage) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientPackage, error)
	// GetForUpdate reads the row and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PatientPackage, error)
	// Save writes the balance fields: remaining sessions, paid, debt and status.
	Save(ctx context.Context, pp *PatientPackage) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*PatientPackage, error)
	// FindOpen returns the patient's oldest active instance of the package
	// with sessions left, or nil.
	FindOpen(ctx context.Context, patientID, packageID uuid.UUID) (*PatientPackage, error)
}
