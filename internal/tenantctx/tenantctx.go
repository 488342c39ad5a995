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

// Package tenantctx binds the tenant of the current request to its
// context.Context. Storage code reads the binding on every tenant-scoped
// operation and fails closed when it is absent, so business-logic bugs
// cannot widen a query beyond the caller's tenant.
//
// Bindings live on derived contexts: they are invisible to concurrent
// requests and vanish when the request context ends, so a pooled execution
// can never observe a previous request's tenant.
package tenantctx

import (
	"context"
	"errors"
)

// ErrNotBound is returned when a tenant-scoped operation runs without a
// tenant bound to its context.
var ErrNotBound = errors.New("no tenant bound to context")

// key is a private type so no other package can collide with or forge
// the binding.
type key struct{}

// Bind derives a context carrying the tenant identifier.
func Bind(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, key{}, tenantID)
}

// From returns the tenant bound to ctx, or ErrNotBound.
func From(ctx context.Context) (string, error) {
	if v, ok := ctx.Value(key{}).(string); ok && v != "" {
		return v, nil
	}
	return "", ErrNotBound
}

// Clear derives a context with the tenant binding removed. Parent contexts
// keep their own binding untouched.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, key{}, "")
}
