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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orcapro/identity/internal/identity"
	"github.com/orcapro/identity/internal/tenant"
	"github.com/orcapro/identity/internal/tenantctx"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// statements run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CredentialStore implements identity.CredentialStore on PostgreSQL.
// Tenant-scoped statements filter on the tenant bound in tenantctx and
// fail closed when it is absent. Uniqueness invariants live in the schema;
// violations are translated to domain conflict errors here.
type CredentialStore struct {
	db *DB
	q  querier
}

var _ identity.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store backed by the pool.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db, q: db.pool}
}

// TenantExistsByName reports whether a tenant with this exact name exists.
func (s *CredentialStore) TenantExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tenants WHERE name = $1)
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant name: %w", err)
	}
	return exists, nil
}

// TenantExistsBySchemaKey reports whether the schema key is taken.
func (s *CredentialStore) TenantExistsBySchemaKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tenants WHERE schema_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema key: %w", err)
	}
	return exists, nil
}

// CreateTenant inserts a tenant row. A duplicate name or schema key is
// reported as tenant.ErrTenantExists.
func (s *CredentialStore) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	now := time.Now()
	_, err := s.q.Exec(ctx, `
		INSERT INTO tenants (id, name, schema_key, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.Name, t.SchemaKey, now)
	if err != nil {
		if isUniqueViolation(err) {
			return tenant.ErrTenantExists
		}
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	t.CreatedAt = now
	return nil
}

// CreateUser inserts a user under the tenant bound in ctx. The bound
// tenant must match the user's TenantID; a duplicate email within the
// tenant is reported as identity.ErrEmailTaken.
func (s *CredentialStore) CreateUser(ctx context.Context, u *identity.User) error {
	bound, err := tenantctx.From(ctx)
	if err != nil {
		return err
	}
	if bound != u.TenantID {
		return tenantctx.ErrNotBound
	}

	now := time.Now()
	_, err = s.q.Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.TenantID, u.Email, u.PasswordHash, u.Role, now)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.CreatedAt = now
	return nil
}

// FindUserByEmail searches only within the tenant bound in ctx.
func (s *CredentialStore) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	bound, err := tenantctx.From(ctx)
	if err != nil {
		return nil, err
	}

	var u identity.User
	err = s.q.QueryRow(ctx, `
		SELECT id, tenant_id, email, password_hash, role, created_at
		FROM users
		WHERE tenant_id = $1 AND email = $2
	`, bound, email).Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

// Transact runs fn against a store bound to a single transaction. fn
// returning an error rolls everything back, including constraint
// violations surfaced as domain errors.
func (s *CredentialStore) Transact(ctx context.Context, fn func(identity.CredentialStore) error) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&CredentialStore{db: s.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
