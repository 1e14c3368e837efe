// Package handlers implements the HTTP surface of the OAuth manager: platform
// listing, authorization flow start, callback completion, status, and
// revocation. Handlers translate the auth package's typed errors into HTTP
// status codes; token values never appear in responses.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blush-labs/socialauth/internal/auth"
	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/util"
)

// Handler exposes the OAuth manager over HTTP.
type Handler struct {
	manager  *auth.Manager
	registry *registry.Registry
}

// NewHandler creates an OAuth API handler.
func NewHandler(manager *auth.Manager, reg *registry.Registry) *Handler {
	return &Handler{manager: manager, registry: reg}
}

// RegisterRoutes attaches the OAuth endpoints under /v1/oauth.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group("/v1/oauth")
	group.GET("/platforms", h.ListPlatforms)
	group.GET("/:platform/authorize", h.Authorize)
	group.GET("/:platform/callback", h.Callback)
	group.GET("/:platform/status", h.Status)
	group.POST("/:platform/revoke", h.Revoke)
}

// ListPlatforms reports every known platform and whether it carries client
// credentials.
func (h *Handler) ListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": h.registry.List()})
}

// Authorize starts the authorization flow and returns the URL to redirect the
// user to. An optional scopes query parameter (comma separated) overrides the
// platform's default scope set.
func (h *Handler) Authorize(c *gin.Context) {
	platform := c.Param("platform")

	var scopes []string
	if raw := strings.TrimSpace(c.Query("scopes")); raw != "" {
		for _, scope := range strings.Split(raw, ",") {
			if scope = strings.TrimSpace(scope); scope != "" {
				scopes = append(scopes, scope)
			}
		}
	}

	authz, err := h.manager.AuthorizationURL(c.Request.Context(), platform, scopes)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, authz)
}

// Callback completes the authorization flow. The platform redirects the user
// here with code and state (or an error) in the query string.
func (h *Handler) Callback(c *gin.Context) {
	platform := c.Param("platform")
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "state is required"})
		return
	}

	rec, err := h.manager.HandleCallback(c.Request.Context(), platform, c.Request.URL.String(), state)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "authorized",
		"platform":   rec.Platform,
		"expires_at": expiresField(rec.ExpiresAt),
	})
}

// Status reports whether the platform holds a usable credential, with masked
// token details for operator diagnosis.
func (h *Handler) Status(c *gin.Context) {
	platform := c.Param("platform")
	ctx := c.Request.Context()

	if _, err := h.registry.Get(platform); err != nil {
		h.renderError(c, &auth.ConfigurationError{Platform: platform, Err: err})
		return
	}

	rec, err := h.manager.ActiveToken(ctx, platform)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load token"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{
			"platform":      platform,
			"authenticated": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"platform":          platform,
		"authenticated":     h.manager.IsAuthenticated(ctx, platform),
		"access_token":      util.HideSecret(rec.AccessToken),
		"has_refresh_token": rec.RefreshToken != "",
		"expires_at":        expiresField(rec.ExpiresAt),
		"last_refreshed_at": rec.LastRefreshedAt,
		"created_at":        rec.CreatedAt,
	})
}

// Revoke permanently deactivates the platform's active token.
func (h *Handler) Revoke(c *gin.Context) {
	platform := c.Param("platform")
	if err := h.manager.Revoke(c.Request.Context(), platform); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "platform": platform})
}

// renderError maps the auth package's typed errors onto HTTP statuses.
func (h *Handler) renderError(c *gin.Context, err error) {
	var (
		confErr    *auth.ConfigurationError
		stateErr   *auth.StateError
		exchErr    *auth.ExchangeError
		refreshErr *auth.RefreshError
		authErr    *auth.AuthenticationError
	)
	switch {
	case errors.As(err, &confErr):
		status := http.StatusNotFound
		if errors.Is(confErr.Err, registry.ErrNotConfigured) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"status": "error", "error": confErr.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": stateErr.Error()})
	case errors.As(err, &exchErr):
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": exchErr.Error()})
	case errors.As(err, &refreshErr):
		status := http.StatusBadGateway
		if !refreshErr.Recoverable {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"status": "error", "error": refreshErr.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": authErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}

func expiresField(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
