// Package directory resolves patient and doctor display data from the external
// patient and staff directory services.
package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the directory answered and the id is unknown.
	ErrNotFound = errors.New("directory: not found")
	// ErrUnavailable covers transport failures, timeouts and unexpected statuses.
	ErrUnavailable = errors.New("directory: unavailable")
)

// Patient is the subset of the patient record the scheduler snapshots.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// Doctor is the subset of the staff record the scheduler snapshots.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Specialty string    `json:"specialty,omitempty"`
}

func (p Patient) DisplayName() string {
	return displayName(p.Name, p.FirstName, p.LastName)
}

func (d Doctor) DisplayName() string {
	return displayName(d.Name, d.FirstName, d.LastName)
}

func displayName(full, first, last string) string {
	if s := strings.TrimSpace(full); s != "" {
		return s
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// Resolver is implemented by Client and CachedResolver.
type Resolver interface {
	ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ResolveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}
