package gateware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-router"
	sessions "github.com/goliatone/go-sessions"
)

// ErrTokenMissingOrMalformed is returned when no extractor finds a credential.
var ErrTokenMissingOrMalformed = errors.New("missing or malformed token")

const defaultTokenLookup = "header:Authorization"

// Config controls the admission middleware.
type Config struct {
	// Gate performs the actual admission pipeline. Required.
	Gate *sessions.Gate

	// Role is the exact role this route requires. Required.
	Role sessions.Role

	// Filter skips the middleware when it returns true.
	Filter func(router.Context) bool

	// SuccessHandler runs after admission. Defaults to ctx.Next().
	SuccessHandler router.HandlerFunc

	// ErrorHandler turns a denial into a response.
	ErrorHandler func(router.Context, error) error

	// ContextKey is where the Admission is stored in router locals.
	// Defaults to "admission".
	ContextKey string

	// TokenLookup is a comma-separated list of sources in
	// "<source>:<name>" form, e.g. "header:Authorization,cookie:session".
	TokenLookup string

	// AuthScheme is the expected header scheme. Defaults to "Bearer".
	AuthScheme string

	// ContextEnricher propagates the admission into the request's standard
	// context so handlers below router level can read it.
	ContextEnricher func(context.Context, *sessions.Admission) context.Context
}

// New builds the admission middleware. Every request through it re-runs the
// full gate pipeline; there is no per-request caching on purpose.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			admission, err := cfg.Gate.Admit(ctx.Context(), raw, cfg.Role)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, admission)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), admission))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Gate == nil {
		panic("SESSIONS: gate middleware configuration: Gate is required.")
	}

	if !cfg.Role.IsValid() {
		panic("SESSIONS: gate middleware configuration: a valid Role is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if err.Error() == ErrTokenMissingOrMalformed.Error() {
				return c.Status(router.StatusBadRequest).SendString(ErrTokenMissingOrMalformed.Error())
			}
			if sessions.IsWrongRole(err) || sessions.IsNotEnrolled(err) {
				return c.Status(router.StatusForbidden).SendString("access denied")
			}
			return c.Status(router.StatusUnauthorized).SendString("authorization denied")
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "admission"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = sessions.WithAdmissionContext
	}

	return cfg
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// ExtractRawTokenFromContext returns the first credential any extractor finds.
func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

// GetExtractors parses a lookup spec like
// "header:Authorization,cookie:session,query:access_token".
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts the token from a header.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			fmt.Println("[WARNING] Missing auth scheme in config definition")
			return "", ErrTokenMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

// tokenFromQuery returns a function that extracts the token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts the token from a url param.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts the token from a cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}
