package tenant

import (
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
	ErrInvalidName    = errors.New("invalid tenant name")
)

// Tenant represents an isolated customer account. Name and SchemaKey are
// globally unique; SchemaKey is the storage-namespace identifier derived
// from Name at signup and immutable afterwards.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SchemaKey string    `json:"schema_key"`
	CreatedAt time.Time `json:"created_at"`
}

// DeriveSchemaKey maps a tenant name to its storage-namespace identifier.
// The transform is deterministic: the same name always yields the same key,
// and names differing only in case collide.
func DeriveSchemaKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateName rejects names that would derive an empty schema key.
func ValidateName(name string) error {
	if DeriveSchemaKey(name) == "" {
		return ErrInvalidName
	}
	return nil
}
