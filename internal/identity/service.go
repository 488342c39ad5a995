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
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orcapro/identity/internal/observability/logger"
	"github.com/orcapro/identity/internal/tenant"
	"github.com/orcapro/identity/internal/tenantctx"
	"github.com/orcapro/identity/internal/token"
)

// Service orchestrates tenant provisioning and authentication. It is the
// only component with business logic; storage scoping lives in the
// CredentialStore and tenant binding in tenantctx.
type Service struct {
	store  CredentialStore
	hasher *PasswordHasher
	issuer *token.Issuer

	// dummyHash is verified against on unknown-email logins so the missing
	// user and wrong password paths cost the same.
	dummyHash string
}

// NewService creates a new identity service.
func NewService(store CredentialStore, hasher *PasswordHasher, issuer *token.Issuer) (*Service, error) {
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare hasher: %w", err)
	}
	return &Service{
		store:     store,
		hasher:    hasher,
		issuer:    issuer,
		dummyHash: dummy,
	}, nil
}

// Signup provisions a tenant and its first administrator in one atomic
// step: either both records exist afterwards or neither does. No token is
// issued at signup.
func (s *Service) Signup(ctx context.Context, tenantName, email, password string) (*tenant.Tenant, error) {
	if err := tenant.ValidateName(tenantName); err != nil {
		return nil, err
	}
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	schemaKey := tenant.DeriveSchemaKey(tenantName)

	// Pre-checks let duplicate signups fail before hashing. The database
	// unique constraints remain the source of truth for races.
	if exists, err := s.store.TenantExistsByName(ctx, tenantName); err != nil {
		return nil, fmt.Errorf("failed to check tenant name: %w", err)
	} else if exists {
		return nil, tenant.ErrTenantExists
	}
	if exists, err := s.store.TenantExistsBySchemaKey(ctx, schemaKey); err != nil {
		return nil, fmt.Errorf("failed to check schema key: %w", err)
	} else if exists {
		return nil, tenant.ErrTenantExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	t := &tenant.Tenant{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      tenantName,
		SchemaKey: schemaKey,
	}

	err = s.store.Transact(ctx, func(tx CredentialStore) error {
		if err := tx.CreateTenant(ctx, t); err != nil {
			return err
		}
		admin := &User{
			ID:           uuid.Must(uuid.NewV7()).String(),
			TenantID:     t.ID,
			Email:        email,
			PasswordHash: passwordHash,
			Role:         RoleAdmin,
		}
		return tx.CreateUser(tenantctx.Bind(ctx, t.ID), admin)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "tenant provisioned",
		logger.TenantID(t.ID),
		logger.String("schema_key", t.SchemaKey),
	)

	return t, nil
}

// Login authenticates a user within the given tenant and returns a signed
// session token. The tenant identifier arrives already resolved; it is
// bound to a context derived here, so the binding cannot outlive the call.
// A missing user and a wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, tenantID, email, password string) (string, error) {
	if tenantID == "" {
		return "", tenantctx.ErrNotBound
	}
	ctx = tenantctx.Bind(ctx, tenantID)

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn a verification anyway to keep timing level.
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		slog.InfoContext(ctx, "login rejected",
			logger.TenantID(tenantID),
			logger.String("reason", "credential_mismatch"),
		)
		return "", ErrInvalidCredentials
	}

	signed, err := s.issuer.Issue(user.ID, user.TenantID, user.Role)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}

	slog.InfoContext(ctx, "login succeeded",
		logger.TenantID(user.TenantID),
		logger.UserID(user.ID),
	)

	return signed, nil
}

// Helper functions
func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	at := -1
	for i, c := range email {
		if c == '@' {
			if at != -1 {
				return false
			}
			at = i
		}
	}
	return at > 0 && at < len(email)-1
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}
