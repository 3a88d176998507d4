package sessions

import (
	"context"

	"github.com/goliatone/go-router"
)

var admissionCtxKey = &contextKey{"admission"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithAdmissionContext sets the Admission in the given context
func WithAdmissionContext(r context.Context, admission *Admission) context.Context {
	return context.WithValue(r, admissionCtxKey, admission)
}

// AdmissionFromContext finds the admission from the context.
func AdmissionFromContext(ctx context.Context) (*Admission, bool) {
	raw, ok := ctx.Value(admissionCtxKey).(*Admission)
	return raw, ok
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// GetRouterAdmission extracts the Admission from the router context
func GetRouterAdmission(ctx router.Context, key string) (*Admission, bool) {
	if key == "" {
		key = "admission" // Default key used by the gate middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	admission, ok := raw.(*Admission)
	return admission, ok
}
