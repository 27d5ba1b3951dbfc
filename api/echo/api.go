// Package echo exposes the broker over HTTP: login initiation, the provider
// callback, credential validation and lifecycle, and the telemetry
// reconfiguration endpoint.
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/audit"
	"github.com/arcadelab/identity/internal/flow"
	"github.com/arcadelab/identity/internal/identity"
	"github.com/arcadelab/identity/internal/provider"
	"github.com/arcadelab/identity/internal/session"
	"github.com/arcadelab/identity/tracing"
)

// SessionCookieName carries the session id between browser and broker.
const SessionCookieName = "identity_session"

// BrokerAPI holds the handler dependencies.
type BrokerAPI struct {
	engine   *flow.Engine
	sessions *session.Manager
	resolver *identity.Resolver
	registry *provider.Registry
	gate     *tracing.Gate
}

func NewBrokerAPI(engine *flow.Engine, sessions *session.Manager, resolver *identity.Resolver, registry *provider.Registry, gate *tracing.Gate) *BrokerAPI {
	return &BrokerAPI{
		engine:   engine,
		sessions: sessions,
		resolver: resolver,
		registry: registry,
		gate:     gate,
	}
}

// RegisterRoutes registers the broker routes.
func (a *BrokerAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/providers", a.ProvidersHandler)
	e.GET("/auth/:provider/login", a.LoginHandler)
	e.GET("/auth/:provider/callback", a.CallbackHandler)

	e.GET("/auth/userinfo", a.UserInfoHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.POST("/auth/token/refresh", a.TokenRefreshHandler)
	e.POST("/auth/token/revoke", a.TokenRevokeHandler)

	e.PUT("/auth/user/name", a.RegenerateNameHandler)
	e.DELETE("/auth/link/:provider", a.UnlinkHandler)
	e.DELETE("/auth/user", a.DeleteUserHandler)

	e.PUT("/admin/telemetry", a.TelemetryHandler)
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpError maps the broker error taxonomy onto response codes.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrProviderNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown provider"})
	case errors.Is(err, domain.ErrProviderUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "provider unavailable"})
	case errors.Is(err, domain.ErrInvalidState):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid state"})
	case errors.Is(err, domain.ErrInvalidIdentityToken):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "identity token rejected"})
	case errors.Is(err, domain.ErrProviderExchange):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "provider exchange failed"})
	case errors.Is(err, domain.ErrExpired):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "credential expired"})
	case errors.Is(err, domain.ErrRevoked):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "credential revoked"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "credential not found"})
	case errors.Is(err, domain.ErrIdentityNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "identity not found"})
	case errors.Is(err, domain.ErrLinkConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "already linked"})
	default:
		log.Error().Err(err).Msg("unhandled broker error")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// ProvidersHandler lists the configured provider keys.
func (a *BrokerAPI) ProvidersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"providers": a.registry.Keys()})
}

// LoginHandler starts the authorization flow and redirects to the provider.
func (a *BrokerAPI) LoginHandler(c echo.Context) error {
	init, err := a.engine.Initiate(c.Request().Context(), c.Param("provider"), c.QueryParam("redirectUrl"))
	if err != nil {
		return httpError(c, err)
	}
	return c.Redirect(http.StatusFound, init.RedirectURL)
}

type loginResponse struct {
	User      *domain.Identity `json:"user"`
	Token     *domain.Token    `json:"token"`
	ReturnURL string           `json:"return_url,omitempty"`
}

// CallbackHandler completes the flow: it consumes the state, performs the
// exchange and hands out the session cookie plus the token payload.
func (a *BrokerAPI) CallbackHandler(c echo.Context) error {
	login, err := a.engine.Callback(
		c.Request().Context(),
		c.QueryParam("state"),
		c.QueryParam("code"),
		c.QueryParam("error"),
	)
	if err != nil {
		audit.Record(audit.Event{Action: "login", Provider: c.Param("provider"), Err: err})
		return httpError(c, err)
	}
	audit.Record(audit.Event{Action: "login", User: login.Identity.ID, Provider: c.Param("provider"), Success: true})

	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    login.Session.ID,
		Path:     "/",
		Expires:  login.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, loginResponse{
		User:      login.Identity,
		Token:     login.Token,
		ReturnURL: login.ReturnURL,
	})
}

// currentSession validates the session cookie on the request.
func (a *BrokerAPI) currentSession(c echo.Context) (*domain.Session, error) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return a.sessions.ValidateSession(c.Request().Context(), cookie.Value)
}

type userInfoResponse struct {
	User  *domain.Identity       `json:"user"`
	Links []*domain.ExternalLink `json:"links"`
}

// UserInfoHandler returns the identity behind the current session.
func (a *BrokerAPI) UserInfoHandler(c echo.Context) error {
	sess, err := a.currentSession(c)
	if err != nil {
		return httpError(c, err)
	}

	ctx := c.Request().Context()
	user, err := a.resolver.Get(ctx, sess.UserID)
	if err != nil {
		return httpError(c, err)
	}
	links, err := a.resolver.Links(ctx, sess.UserID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, userInfoResponse{User: user, Links: links})
}

// LogoutHandler ends the current session and clears the cookie.
func (a *BrokerAPI) LogoutHandler(c echo.Context) error {
	cookie, err := c.Cookie(SessionCookieName)
	if err == nil {
		if endErr := a.sessions.EndSession(c.Request().Context(), cookie.Value); endErr != nil {
			return httpError(c, endErr)
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	return c.NoContent(http.StatusNoContent)
}

type tokenRequest struct {
	Token string `json:"token" form:"token"`
}

// TokenRefreshHandler rotates a token and returns the replacement.
func (a *BrokerAPI) TokenRefreshHandler(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing token"})
	}

	refreshed, err := a.sessions.RefreshToken(c.Request().Context(), req.Token)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]*domain.Token{"token": refreshed})
}

// TokenRevokeHandler revokes a token. Revocation is idempotent, so the
// response does not reveal whether the token existed.
func (a *BrokerAPI) TokenRevokeHandler(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing token"})
	}

	if err := a.sessions.RevokeToken(c.Request().Context(), req.Token); err != nil {
		return httpError(c, err)
	}
	audit.Record(audit.Event{Action: "token.revoke", Success: true})
	return c.NoContent(http.StatusNoContent)
}

// RegenerateNameHandler replaces the current user's generated display name
// with a fresh draw. The user id never changes.
func (a *BrokerAPI) RegenerateNameHandler(c echo.Context) error {
	sess, err := a.currentSession(c)
	if err != nil {
		return httpError(c, err)
	}

	name, err := a.resolver.RegenerateName(c.Request().Context(), sess.UserID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"display_name": name})
}

// UnlinkHandler removes one external login from the current user.
func (a *BrokerAPI) UnlinkHandler(c echo.Context) error {
	sess, err := a.currentSession(c)
	if err != nil {
		return httpError(c, err)
	}

	subject := c.QueryParam("subject")
	if subject == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing subject"})
	}

	if err := a.resolver.Unlink(c.Request().Context(), sess.UserID, c.Param("provider"), subject); err != nil {
		return httpError(c, err)
	}
	audit.Record(audit.Event{Action: "link.remove", User: sess.UserID, Provider: c.Param("provider"), Target: subject, Success: true})
	return c.NoContent(http.StatusNoContent)
}

// DeleteUserHandler removes the current user and ends the session.
func (a *BrokerAPI) DeleteUserHandler(c echo.Context) error {
	sess, err := a.currentSession(c)
	if err != nil {
		return httpError(c, err)
	}

	ctx := c.Request().Context()
	if err := a.resolver.Delete(ctx, sess.UserID); err != nil {
		return httpError(c, err)
	}
	if err := a.sessions.EndSession(ctx, sess.ID); err != nil {
		return httpError(c, err)
	}

	audit.Record(audit.Event{Action: "user.delete", User: sess.UserID, Success: true})
	log.Info().Str("user_id", sess.UserID).Msg("user deleted")
	return c.NoContent(http.StatusNoContent)
}

type telemetryRequest struct {
	Level string `json:"level"`
}

// TelemetryHandler reconfigures the telemetry gate at runtime. Requests in
// flight observe the new level on their next gate check.
func (a *BrokerAPI) TelemetryHandler(c echo.Context) error {
	var req telemetryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request"})
	}

	level, err := tracing.ParseLevel(req.Level)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	a.gate.SetLevel(level)
	audit.Record(audit.Event{Action: "telemetry.reconfigure", Target: level.String(), Success: true})
	log.Info().Str("level", level.String()).Msg("telemetry level reconfigured")
	return c.JSON(http.StatusOK, map[string]string{"level": level.String()})
}
