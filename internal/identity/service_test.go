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
	"sync"
	"testing"
	"time"

	"github.com/orcapro/identity/internal/tenant"
	"github.com/orcapro/identity/internal/tenantctx"
	"github.com/orcapro/identity/internal/token"
)

// MockCredentialStore is an in-memory CredentialStore enforcing the same
// uniqueness constraints as the database schema, so constraint races and
// rollback behavior can be exercised without PostgreSQL.
type MockCredentialStore struct {
	mu      sync.Mutex                // guards the maps
	txMu    sync.Mutex                // serializes transactions, like competing INSERTs
	tenants map[string]*tenant.Tenant // by ID
	users   map[string]*User          // by ID
}

func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{
		tenants: make(map[string]*tenant.Tenant),
		users:   make(map[string]*User),
	}
}

func (m *MockCredentialStore) TenantExistsByName(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantExistsLocked(name, ""), nil
}

func (m *MockCredentialStore) TenantExistsBySchemaKey(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantExistsLocked("", key), nil
}

func (m *MockCredentialStore) tenantExistsLocked(name, key string) bool {
	for _, t := range m.tenants {
		if (name != "" && t.Name == name) || (key != "" && t.SchemaKey == key) {
			return true
		}
	}
	return false
}

func (m *MockCredentialStore) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tenantExistsLocked(t.Name, t.SchemaKey) {
		return tenant.ErrTenantExists
	}
	t.CreatedAt = time.Now()
	m.tenants[t.ID] = t
	return nil
}

func (m *MockCredentialStore) CreateUser(ctx context.Context, u *User) error {
	bound, err := tenantctx.From(ctx)
	if err != nil {
		return err
	}
	if bound != u.TenantID {
		return tenantctx.ErrNotBound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *MockCredentialStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	bound, err := tenantctx.From(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == bound && u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

// Transact snapshots state and restores it when fn fails, mirroring a
// database rollback. txMu serializes transactions so concurrent signups
// resolve the way competing INSERTs against a unique constraint would.
func (m *MockCredentialStore) Transact(ctx context.Context, fn func(CredentialStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	tenantsSnap := make(map[string]*tenant.Tenant, len(m.tenants))
	for k, v := range m.tenants {
		tenantsSnap[k] = v
	}
	usersSnap := make(map[string]*User, len(m.users))
	for k, v := range m.users {
		usersSnap[k] = v
	}
	m.mu.Unlock()

	if err := fn(&txStore{m}); err != nil {
		m.mu.Lock()
		m.tenants = tenantsSnap
		m.users = usersSnap
		m.mu.Unlock()
		return err
	}
	return nil
}

// txStore delegates to the backing mock; it exists so code under test
// goes through the same CredentialStore interface inside transactions.
type txStore struct{ *MockCredentialStore }

func (t *txStore) Transact(ctx context.Context, fn func(CredentialStore) error) error {
	return fn(t)
}

func newTestService(t *testing.T, store CredentialStore) *Service {
	t.Helper()
	// Cheap Argon2 parameters keep the suite fast.
	hasher := NewPasswordHasher(8, 1, 1, 16, 32)
	issuer, err := token.NewIssuer([]byte("test-signing-key-test-signing-ke"), time.Hour)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	s, err := NewService(store, hasher, issuer)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return s
}

// TestPurpose: Validates the full signup then login flow, including the
// tenant and role claims inside the issued token.
// Scope: Unit Test
// Security: Tenant-scoped authentication and token binding
// Expected: Login succeeds with signup credentials; decoded token carries
// the created tenant and the ADMIN role.
func TestIdentity_Service_SignupThenLogin(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	created, err := s.Signup(ctx, "Acme", "admin@acme.com", "Secr3t!pass")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if created.SchemaKey != "acme" {
		t.Errorf("schema key = %q, want %q", created.SchemaKey, "acme")
	}

	signed, err := s.Login(ctx, created.ID, "admin@acme.com", "Secr3t!pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	claims, err := s.issuer.Verify(signed)
	if err != nil {
		t.Fatalf("issued token failed verification: %v", err)
	}
	if claims.TenantID != created.ID {
		t.Errorf("token tenant = %q, want %q", claims.TenantID, created.ID)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("token role = %q, want %q", claims.Role, RoleAdmin)
	}
}

// TestPurpose: Validates that duplicate tenant names, including
// case-insensitive variants colliding on schema key, fail with
// ErrTenantExists and leave no partial records behind.
// Scope: Unit Test
// Security: Global tenant uniqueness invariant
// Expected: Second signup fails; exactly one tenant and one user exist.
func TestIdentity_Service_SignupDuplicateTenant(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	if _, err := s.Signup(ctx, "Acme", "admin@acme.com", "Secr3t!pass"); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}

	for _, name := range []string{"Acme", "acme", "ACME"} {
		_, err := s.Signup(ctx, name, "other@acme.com", "Secr3t!pass")
		if !errors.Is(err, tenant.ErrTenantExists) {
			t.Errorf("signup(%q) err = %v, want ErrTenantExists", name, err)
		}
	}

	if len(store.tenants) != 1 || len(store.users) != 1 {
		t.Errorf("store has %d tenants, %d users; want 1 and 1", len(store.tenants), len(store.users))
	}
}

// TestPurpose: Validates that a failure after tenant creation rolls the
// tenant back, so a tenant never exists without its admin user.
// Scope: Unit Test
// Security: Signup atomicity
// Expected: Conflicting user insert inside the transaction leaves zero rows.
func TestIdentity_Service_SignupRollback(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	created, err := s.Signup(ctx, "Acme", "admin@acme.com", "Secr3t!pass")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	// The next signup's admin insert fails, as a constraint race would.
	s2 := newTestService(t, &failUserInsert{store})

	_, err = s2.Signup(ctx, "Globex", "admin@globex.com", "Secr3t!pass")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("signup err = %v, want ErrEmailTaken", err)
	}

	// Only the original Acme tenant survives; Globex was rolled back.
	if len(store.tenants) != 1 {
		t.Errorf("store has %d tenants, want 1 (rollback)", len(store.tenants))
	}
	if _, ok := store.tenants[created.ID]; !ok {
		t.Error("pre-existing tenant lost during rollback")
	}
}

// failUserInsert rejects every user insert inside a transaction,
// simulating a duplicate-email constraint violation after the tenant
// row was already written.
type failUserInsert struct {
	*MockCredentialStore
}

func (f *failUserInsert) Transact(ctx context.Context, fn func(CredentialStore) error) error {
	return f.MockCredentialStore.Transact(ctx, func(tx CredentialStore) error {
		return fn(&failUserTx{tx})
	})
}

type failUserTx struct{ CredentialStore }

func (f *failUserTx) CreateUser(ctx context.Context, u *User) error {
	return ErrEmailTaken
}

// TestPurpose: Validates that a missing user and a wrong password are
// externally indistinguishable.
// Scope: Unit Test
// Security: User-enumeration prevention
// Expected: Both paths return exactly ErrInvalidCredentials.
func TestIdentity_Service_LoginUniformFailure(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	created, err := s.Signup(ctx, "Acme", "admin@acme.com", "Secr3t!pass")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	_, err = s.Login(ctx, created.ID, "admin@acme.com", "WrongPassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}

	_, err = s.Login(ctx, created.ID, "nobody@acme.com", "Secr3t!pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

// TestPurpose: Validates that credentials created under one tenant are
// invisible when the lookup is bound to another tenant, even with an
// identical email string.
// Scope: Unit Test
// Security: Cross-tenant credential isolation
// Expected: Login under tenant B with tenant A's email fails.
func TestIdentity_Service_CrossTenantIsolation(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	a, err := s.Signup(ctx, "Acme", "admin@example.com", "Secr3t!pass")
	if err != nil {
		t.Fatalf("signup A failed: %v", err)
	}
	b, err := s.Signup(ctx, "Globex", "other@example.com", "An0ther!pass")
	if err != nil {
		t.Fatalf("signup B failed: %v", err)
	}

	// Tenant A's credentials do not work under tenant B.
	_, err = s.Login(ctx, b.ID, "admin@example.com", "Secr3t!pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("cross-tenant login err = %v, want ErrInvalidCredentials", err)
	}

	// The scoped lookup itself returns nothing across the boundary.
	_, err = store.FindUserByEmail(tenantctx.Bind(ctx, b.ID), "admin@example.com")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("scoped lookup err = %v, want ErrUserNotFound", err)
	}

	// And a lookup with no binding at all fails closed.
	_, err = store.FindUserByEmail(ctx, "admin@example.com")
	if !errors.Is(err, tenantctx.ErrNotBound) {
		t.Errorf("unbound lookup err = %v, want ErrNotBound", err)
	}

	// Positive control: the same credentials work under their own tenant.
	if _, err := s.Login(ctx, a.ID, "admin@example.com", "Secr3t!pass"); err != nil {
		t.Errorf("same-tenant login failed: %v", err)
	}
}

// TestPurpose: Validates that concurrent signups racing on one tenant name
// resolve to exactly one winner via the storage constraint.
// Scope: Unit Test
// Security: Check-then-insert race safety
// Expected: One success, one ErrTenantExists, one tenant + one user stored.
func TestIdentity_Service_ConcurrentSignup(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Signup(ctx, "Acme", "admin@acme.com", "Secr3t!pass")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, tenant.ErrTenantExists):
			lost++
		default:
			t.Errorf("unexpected signup error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Errorf("got %d winners, %d conflicts; want 1 and 1", won, lost)
	}
	if len(store.tenants) != 1 || len(store.users) != 1 {
		t.Errorf("store has %d tenants, %d users; want 1 and 1", len(store.tenants), len(store.users))
	}
}

func TestIdentity_Service_SignupValidation(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)
	ctx := context.Background()

	if _, err := s.Signup(ctx, "", "admin@acme.com", "Secr3t!pass"); !errors.Is(err, tenant.ErrInvalidName) {
		t.Errorf("empty name err = %v, want ErrInvalidName", err)
	}
	if _, err := s.Signup(ctx, "Acme", "not-an-email", "Secr3t!pass"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("bad email err = %v, want ErrInvalidEmail", err)
	}
	if _, err := s.Signup(ctx, "Acme", "admin@acme.com", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password err = %v, want ErrWeakPassword", err)
	}
}

// TestPurpose: Validates that Login refuses to run without a resolved
// tenant instead of defaulting to an unscoped search.
// Scope: Unit Test
// Security: Fail-closed tenant scoping
// Expected: ErrNotBound for an empty tenant identifier.
func TestIdentity_Service_LoginRequiresTenant(t *testing.T) {
	store := NewMockCredentialStore()
	s := newTestService(t, store)

	_, err := s.Login(context.Background(), "", "admin@acme.com", "Secr3t!pass")
	if !errors.Is(err, tenantctx.ErrNotBound) {
		t.Errorf("err = %v, want ErrNotBound", err)
	}
}
