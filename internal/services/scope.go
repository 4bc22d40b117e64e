package services

import "context"

type scopeKey struct{}

// Scope identifies the tenant and actor a request acts for
type Scope struct {
	CompanyRef  string
	EmployeeRef string
	Name        string
}

// WithScope attaches the caller's scope to ctx
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, if any
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// companyScope returns the company every store query must be restricted to.
// An empty result means unrestricted, which only happens for system callers.
func companyScope(ctx context.Context) string {
	if s, ok := ScopeFrom(ctx); ok {
		return s.CompanyRef
	}
	return ""
}

// scopedCompany lets an authenticated scope override a requested company
func scopedCompany(ctx context.Context, requested string) string {
	if scope := companyScope(ctx); scope != "" {
		return scope
	}
	return requested
}
