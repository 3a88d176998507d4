package sessions

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced in structured errors. Handlers can branch on these
// without parsing messages; clients only ever see the generic message.
const (
	TextCodeUnauthenticated   = "UNAUTHENTICATED"
	TextCodeWrongRole         = "WRONG_ROLE"
	TextCodeNotEnrolled       = "NOT_ENROLLED"
	TextCodeInvalidToken      = "INVALID_REFRESH_TOKEN"
	TextCodeAccountIneligible = "ACCOUNT_INELIGIBLE"
	TextCodeTokenConflict     = "TOKEN_VALUE_CONFLICT"
	TextCodeSessionNotFound   = "SESSION_NOT_FOUND"
	TextCodeSessionNotLive    = "SESSION_NOT_LIVE"
	TextCodeInvalidCredential = "INVALID_CREDENTIALS"
)

// ErrUnauthenticated is returned by the gate when the bearer credential is
// missing, malformed, expired, or carries a bad signature.
var ErrUnauthenticated = goerrors.New("authorization denied", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrWrongRole is returned when the credential's role claim does not match the
// role the endpoint requires.
var ErrWrongRole = goerrors.New("authorization denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeWrongRole).
	WithCode(goerrors.CodeForbidden)

// ErrNotEnrolled is returned when the claimed role has no effective membership
// for the identity, or the identity itself is no longer eligible.
var ErrNotEnrolled = goerrors.New("authorization denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotEnrolled).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken covers every refresh-token rejection: unknown value, already
// rotated, revoked, expired, or owned by a dead session. The cases are
// deliberately undifferentiated so callers cannot probe token state.
var ErrInvalidToken = goerrors.New("invalid refresh token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountIneligible is returned when the owning identity is deactivated or
// deleted at rotation time.
var ErrAccountIneligible = goerrors.New("account is not eligible", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountIneligible).
	WithCode(goerrors.CodeForbidden)

// ErrTokenConflict signals a collision while generating an opaque refresh
// value. Generation retries a bounded number of times before surfacing this.
var ErrTokenConflict = goerrors.New("refresh value collision", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenConflict).
	WithCode(goerrors.CodeConflict)

// ErrSessionNotFound is the uniform answer for absent, revoked, and expired
// sessions; external callers never learn which.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSessionNotLive is returned by Touch when the target session is revoked or
// past expiry.
var ErrSessionNotLive = goerrors.New("session is not live", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionNotLive).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is the uniform login failure: unknown identifier, bad
// password, and ineligible account all look the same to the caller.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString guards hashing helpers against empty input.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput)

// ErrMismatchedHashAndPassword is returned when a cleartext credential does not
// match the stored hash.
var ErrMismatchedHashAndPassword = goerrors.New("credential does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential)

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

// IsInvalidToken reports whether err is the uniform refresh-token rejection.
func IsInvalidToken(err error) bool {
	return hasTextCode(err, TextCodeInvalidToken)
}

// IsAccountIneligible reports whether err is an identity-eligibility rejection.
func IsAccountIneligible(err error) bool {
	return hasTextCode(err, TextCodeAccountIneligible)
}

// IsUnauthenticated reports whether err is a credential-parse rejection.
func IsUnauthenticated(err error) bool {
	return hasTextCode(err, TextCodeUnauthenticated)
}

// IsWrongRole reports whether err is a role-claim mismatch.
func IsWrongRole(err error) bool {
	return hasTextCode(err, TextCodeWrongRole)
}

// IsNotEnrolled reports whether err is a membership rejection.
func IsNotEnrolled(err error) bool {
	return hasTextCode(err, TextCodeNotEnrolled)
}

// IsTokenConflict reports whether err is a refresh-value collision.
func IsTokenConflict(err error) bool {
	return hasTextCode(err, TextCodeTokenConflict)
}

// IsSessionNotFound reports whether err is the uniform session miss.
func IsSessionNotFound(err error) bool {
	return hasTextCode(err, TextCodeSessionNotFound)
}

// IsInvalidCredentials reports whether err is the uniform login failure.
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredential)
}
