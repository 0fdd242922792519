package worker

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Worker is a clinic staff member. Workers with system access can log in.
type Worker struct {
	ID              uuid.UUID  `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	DocumentType    *string    `json:"document_type,omitempty"`
	DocumentNumber  *string    `json:"document_number,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Specialization  *string    `json:"specialization,omitempty"`
	Role            string     `json:"role"`
	Active          bool       `json:"active"`
	HasSystemAccess bool       `json:"has_system_access"`
	Username        *string    `json:"username,omitempty"`
	Password        string     `json:"password,omitempty"`
	PasswordHash    string     `json:"-"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (w *Worker) FullName() string {
	return strings.TrimSpace(w.FirstName + " " + w.LastName)
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Worker    *Worker   `json:"worker"`
}
