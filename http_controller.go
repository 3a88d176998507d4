package sessions

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// SessionController exposes the lifecycle over JSON routes: login, logout,
// refresh, live-session listing, and the password reset flow.
type SessionController struct {
	Logger       Logger
	Repo         RepositoryManager
	Route        *RouteGate
	Sessions     *SessionManager
	Revoker      *Revoker
	ErrorHandler func(c router.Context, err error) error
}

type SessionControllerOption func(*SessionController) *SessionController

func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in session controller...")
	}

	if c.Route == nil {
		panic("Missing RouteGate in session controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Route.ErrorHandler
	}

	return c
}

// WithControllerRepo sets the repository manager.
func WithControllerRepo(repo RepositoryManager) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Repo = repo
		return c
	}
}

// WithControllerRouteGate sets the route gate.
func WithControllerRouteGate(route *RouteGate) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Route = route
		return c
	}
}

// WithControllerSessionManager sets the session manager used for listings.
func WithControllerSessionManager(sessions *SessionManager) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Sessions = sessions
		return c
	}
}

// WithControllerRevoker sets the revoker used for bulk sign-out.
func WithControllerRevoker(revoker *Revoker) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Revoker = revoker
		return c
	}
}

// RegisterRoutes registers the public lifecycle routes. Protected routes take
// the admission middleware for the role they serve.
func (a *SessionController) RegisterRoutes(group RouteRegistrar, protect func(Role) router.MiddlewareFunc) {
	group.Post("/login", a.LoginPost)
	group.Post("/refresh", a.RefreshPost)
	group.Post("/password-reset", a.PasswordResetPost)
	group.Post("/password-reset/:uuid", a.PasswordResetExecute)

	group.Post("/logout", a.LogoutPost, protect(RoleMember))
	group.Get("/sessions", a.SessionsList, protect(RoleMember))
	group.Post("/sessions/revoke-others", a.RevokeOthersPost, protect(RoleMember))
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Role     string `form:"role" json:"role"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *SessionController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid login payload",
			"validation": err.Error(),
		})
	}

	role := RoleMember
	if payload.Role != "" {
		parsed, ok := ParseRole(payload.Role)
		if !ok {
			return ctx.JSON(router.StatusBadRequest, map[string]any{
				"error": "unknown role",
			})
		}
		role = parsed
	}

	result, err := a.Route.Login(ctx, payload.Email, payload.Password, role)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

func (a *SessionController) LogoutPost(ctx router.Context) error {
	admission, _ := GetRouterAdmission(ctx, "")

	if err := a.Route.Logout(ctx, admission); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (a *SessionController) RefreshPost(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	pair, err := a.Route.Refresh(ctx, payload.RefreshToken)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, pair)
}

func (a *SessionController) SessionsList(ctx router.Context) error {
	admission, ok := GetRouterAdmission(ctx, "")
	if !ok {
		return a.ErrorHandler(ctx, ErrUnauthenticated)
	}

	live, err := a.Sessions.ListLive(ctx.Context(), admission.IdentityID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"sessions": live,
		"current":  admission.SessionID,
	})
}

func (a *SessionController) RevokeOthersPost(ctx router.Context) error {
	admission, ok := GetRouterAdmission(ctx, "")
	if !ok {
		return a.ErrorHandler(ctx, ErrUnauthenticated)
	}

	actor := ActorRef{ID: admission.IdentityID.String(), Type: "identity"}
	result, err := a.Revoker.Revoke(
		ctx.Context(),
		admission.IdentityID,
		ScopeAllExcept(admission.SessionID),
		"user-requested",
		actor,
	)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"sessions_revoked": result.SessionsRevoked,
		"tokens_revoked":   result.TokensRevoked,
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

func (a *SessionController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	handler := NewInitializePasswordResetHandler(a.Repo).WithLogger(a.Logger)

	req := InitializePasswordResetMessage{
		Email: payload.Email,
	}

	if err := handler.Execute(ctx.Context(), req); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	// Same answer whether or not the account exists.
	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// PasswordResetVerifyPayload holds values for password reset
type PasswordResetVerifyPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(10, 100),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *SessionController) PasswordResetExecute(ctx router.Context) error {
	sessionID := ctx.Param("uuid")

	payload := new(PasswordResetVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid password reset payload",
			"validation": err.Error(),
		})
	}

	input := FinalizePasswordResetMessage{
		Session:  sessionID,
		Password: payload.Password,
	}

	handler := NewFinalizePasswordResetHandler(a.Repo, a.Revoker).WithLogger(a.Logger)

	if err := handler.Execute(ctx.Context(), input); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}
