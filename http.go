package sessions

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteGate wires the gate and authenticator into go-router: cookie handling
// for the access credential, the RequireRole middleware hook, and shared
// error handling for denials.
type RouteGate struct {
	gate           *Gate
	auth           *Authenticator
	chain          *ChainEngine
	cfg            Config
	cookieName     string
	cookieDuration time.Duration
	Logger         Logger
	ErrorHandler   func(c router.Context, err error) error
}

func NewRouteGate(gate *Gate, auth *Authenticator, chain *ChainEngine, cfg Config) *RouteGate {
	cookieDuration := cfg.GetAccessTTL()
	if cookieDuration <= 0 {
		cookieDuration = 24 * time.Hour
	}

	g := &RouteGate{
		gate:           gate,
		auth:           auth,
		chain:          chain,
		cfg:            cfg,
		cookieName:     "access_token",
		cookieDuration: cookieDuration,
		Logger:         defLogger{},
	}

	g.ErrorHandler = g.defaultErrHandler

	return g
}

// WithCookieName overrides the cookie used for the access credential.
func (g *RouteGate) WithCookieName(name string) *RouteGate {
	if name != "" {
		g.cookieName = name
	}
	return g
}

// CookieName returns the cookie the access credential travels in.
func (g *RouteGate) CookieName() string {
	return g.cookieName
}

// TokenLookup is the extractor spec handed to the gate middleware: bearer
// header first, cookie fallback.
func (g *RouteGate) TokenLookup() string {
	return "header:Authorization,cookie:" + g.cookieName
}

// Login authenticates the payload and plants the access credential cookie.
// The refresh value is returned in the result body only, never in a cookie.
func (g *RouteGate) Login(ctx router.Context, email, password string, role Role) (*LoginResult, error) {
	meta := ClientMeta{
		IP:        ctx.IP(),
		UserAgent: ctx.GetString("User-Agent", ""),
	}

	result, err := g.auth.Login(ctx.Context(), email, password, role, meta)
	if err != nil {
		g.Logger.Error("Login error: %v", err)
		return nil, err
	}

	g.setCookieToken(ctx, result.Tokens.AccessToken, g.cookieDuration)
	return result, nil
}

// Logout revokes the admitted session and clears the credential cookie.
func (g *RouteGate) Logout(ctx router.Context, admission *Admission) error {
	g.cookieDel(ctx, g.cookieName)

	if admission == nil {
		return nil
	}

	return g.auth.Logout(ctx.Context(), admission.SessionID)
}

// Refresh rotates the presented refresh value and re-plants the cookie.
func (g *RouteGate) Refresh(ctx router.Context, presented string) (*TokenPair, error) {
	pair, err := g.chain.Rotate(ctx.Context(), presented)
	if err != nil {
		return nil, err
	}

	g.setCookieToken(ctx, pair.AccessToken, g.cookieDuration)
	return pair, nil
}

func (g *RouteGate) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     g.cookieName,
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (g *RouteGate) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (g *RouteGate) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	g.Logger.Info(
		"route error handler: %s (category=%s text_code=%s)",
		richErr.Message,
		richErr.Category,
		richErr.TextCode,
	)

	status := richErr.Code
	if status == 0 {
		status = router.StatusInternalServerError
	}

	return c.JSON(status, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
