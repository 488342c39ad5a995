// Copyright 2026 The OrcaPro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/orcapro/identity/internal/tenant"
)

// Domain errors
var (
	// ErrUserNotFound is an internal signal only. The login boundary
	// translates it to ErrInvalidCredentials before anything is surfaced.
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered for tenant")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// Roles a user can hold within its tenant.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// User represents a user identity. TenantID is required, set at creation,
// and never reassigned; Email is unique within the tenant, not globally.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CredentialStore is the tenant-scoped persistence boundary for tenants
// and users. Tenant-scoped operations (CreateUser, FindUserByEmail) read
// the tenant from tenantctx and fail with tenantctx.ErrNotBound when no
// tenant is bound, so no call site can reach an unscoped view.
//
// Uniqueness is guaranteed by storage-level constraints; the existence
// checks exist so callers can fail early, not as the source of truth.
type CredentialStore interface {
	TenantExistsByName(ctx context.Context, name string) (bool, error)
	TenantExistsBySchemaKey(ctx context.Context, key string) (bool, error)

	// CreateTenant inserts a tenant. Duplicate name or schema key fails
	// with tenant.ErrTenantExists.
	CreateTenant(ctx context.Context, t *tenant.Tenant) error

	// CreateUser inserts a user under the tenant bound in ctx. A duplicate
	// email within that tenant fails with ErrEmailTaken.
	CreateUser(ctx context.Context, u *User) error

	// FindUserByEmail searches only within the tenant bound in ctx.
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// Transact runs fn against a store whose operations share one
	// transaction; fn returning an error rolls everything back.
	Transact(ctx context.Context, fn func(CredentialStore) error) error
}
