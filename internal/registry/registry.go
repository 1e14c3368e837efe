// Package registry holds the static per-platform OAuth2 configuration table.
// Each supported platform is described by endpoints, default scopes, and a set
// of "quirks" capturing where the vendor diverges from the OAuth2 standard
// (parameter names, PKCE challenge encoding, scope delimiters, refresh shape).
// Operator credentials are merged in from the application configuration, so
// adding a platform means adding one table entry here plus a config block.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blush-labs/socialauth/internal/config"
)

var (
	// ErrUnknownPlatform indicates the platform id has no table entry.
	ErrUnknownPlatform = errors.New("registry: unknown platform")
	// ErrNotConfigured indicates the platform exists but has no usable client credentials.
	ErrNotConfigured = errors.New("registry: platform not configured")
)

// Challenge encodings understood by the PKCE generator.
const (
	ChallengeBase64URL = "base64url"
	ChallengeHex       = "hex"
)

// Token request body formats understood by the exchanger.
const (
	RequestFormatForm = "form"
	RequestFormatJSON = "json"
)

// Quirks captures the ways a platform deviates from the OAuth2 standard.
// Zero values mean standards-compliant behavior.
type Quirks struct {
	// IDParamName is the query/body parameter carrying the client id.
	// Defaults to "client_id"; TikTok uses "client_key".
	IDParamName string
	// SecretParamName is the body parameter carrying the client secret.
	// Defaults to "client_secret".
	SecretParamName string
	// ScopeDelimiter joins requested scopes. Defaults to a single space.
	ScopeDelimiter string
	// PKCEChallengeEncoding selects how the SHA-256 challenge is encoded:
	// ChallengeBase64URL (RFC 7636) or ChallengeHex for vendors that require
	// a raw lowercase hex digest.
	PKCEChallengeEncoding string
	// TokenRequestFormat selects the token request body encoding:
	// RequestFormatForm (standard) or RequestFormatJSON for vendors that only
	// accept JSON bodies on their token endpoint.
	TokenRequestFormat string
	// BasicAuthHeader sends client credentials as an Authorization: Basic
	// header on token requests instead of body parameters.
	BasicAuthHeader bool
	// ExtraAuthParams are appended verbatim to the authorization URL
	// (e.g. access_type=offline, prompt=consent for Google refresh tokens).
	ExtraAuthParams map[string]string
	// RefreshEndpoint overrides the token endpoint for refresh requests when
	// the vendor hosts refresh on a different path.
	RefreshEndpoint string
	// ManualRefresh routes refresh through the quirk-driven form adapter
	// instead of the generic oauth2 refresh-token grant.
	ManualRefresh bool
}

// PlatformConfig is the immutable merged view of one platform: builtin
// endpoints and quirks plus operator-supplied credentials.
type PlatformConfig struct {
	ID                    string
	AuthorizationEndpoint string
	TokenEndpoint         string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	Scopes                []string
	UsesPKCE              bool
	// FallbackTokenTTL is the assumed access-token lifetime applied when the
	// vendor omits an expiry from its token response.
	FallbackTokenTTL time.Duration
	Quirks           Quirks
}

// RefreshURL returns the endpoint refresh requests should target.
func (p *PlatformConfig) RefreshURL() string {
	if p.Quirks.RefreshEndpoint != "" {
		return p.Quirks.RefreshEndpoint
	}
	return p.TokenEndpoint
}

// IDParam returns the effective client-id parameter name.
func (p *PlatformConfig) IDParam() string {
	if p.Quirks.IDParamName != "" {
		return p.Quirks.IDParamName
	}
	return "client_id"
}

// SecretParam returns the effective client-secret parameter name.
func (p *PlatformConfig) SecretParam() string {
	if p.Quirks.SecretParamName != "" {
		return p.Quirks.SecretParamName
	}
	return "client_secret"
}

// ScopeString joins the given scopes (or the platform defaults when empty)
// using the platform's delimiter.
func (p *PlatformConfig) ScopeString(override []string) string {
	scopes := override
	if len(scopes) == 0 {
		scopes = p.Scopes
	}
	delim := p.Quirks.ScopeDelimiter
	if delim == "" {
		delim = " "
	}
	return strings.Join(scopes, delim)
}

// ChallengeEncoding returns the effective PKCE challenge encoding.
func (p *PlatformConfig) ChallengeEncoding() string {
	if p.Quirks.PKCEChallengeEncoding != "" {
		return p.Quirks.PKCEChallengeEncoding
	}
	return ChallengeBase64URL
}

// RequestFormat returns the effective token request body format.
func (p *PlatformConfig) RequestFormat() string {
	if p.Quirks.TokenRequestFormat != "" {
		return p.Quirks.TokenRequestFormat
	}
	return RequestFormatForm
}

// platformDefaults is the builtin table of supported platforms. Credentials
// are intentionally absent; they come from configuration.
var platformDefaults = map[string]PlatformConfig{
	"youtube": {
		ID:                    "youtube",
		AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		Scopes: []string{
			"https://www.googleapis.com/auth/youtube.upload",
			"https://www.googleapis.com/auth/youtube.readonly",
		},
		FallbackTokenTTL: time.Hour,
		Quirks: Quirks{
			// Google only issues a refresh token when offline access is
			// requested and consent is re-prompted.
			ExtraAuthParams: map[string]string{
				"access_type": "offline",
				"prompt":      "consent",
			},
		},
	},
	"tiktok": {
		ID:                    "tiktok",
		AuthorizationEndpoint: "https://www.tiktok.com/v2/auth/authorize/",
		TokenEndpoint:         "https://open.tiktokapis.com/v2/oauth/token/",
		Scopes:                []string{"user.info.basic", "video.publish"},
		UsesPKCE:              true,
		FallbackTokenTTL:      24 * time.Hour,
		Quirks: Quirks{
			IDParamName:           "client_key",
			ScopeDelimiter:        ",",
			PKCEChallengeEncoding: ChallengeHex,
			RefreshEndpoint:       "https://open.tiktokapis.com/v2/oauth/token/",
			ManualRefresh:         true,
		},
	},
	"instagram": {
		ID:                    "instagram",
		AuthorizationEndpoint: "https://api.instagram.com/oauth/authorize",
		TokenEndpoint:         "https://api.instagram.com/oauth/access_token",
		Scopes:                []string{"instagram_basic", "instagram_content_publish"},
		// Long-lived Instagram tokens are valid for roughly 60 days; the
		// token response regularly omits expires_in, so assume that window.
		FallbackTokenTTL: 60 * 24 * time.Hour,
		Quirks: Quirks{
			RefreshEndpoint: "https://graph.instagram.com/refresh_access_token",
			ManualRefresh:   true,
		},
	},
	"twitter": {
		ID:                    "twitter",
		AuthorizationEndpoint: "https://twitter.com/i/oauth2/authorize",
		TokenEndpoint:         "https://api.twitter.com/2/oauth2/token",
		Scopes:                []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
		UsesPKCE:              true,
		FallbackTokenTTL:      2 * time.Hour,
		Quirks: Quirks{
			BasicAuthHeader: true,
		},
	},
	"linkedin": {
		ID:                    "linkedin",
		AuthorizationEndpoint: "https://www.linkedin.com/oauth/v2/authorization",
		TokenEndpoint:         "https://www.linkedin.com/oauth/v2/accessToken",
		Scopes:                []string{"w_member_social", "r_liteprofile"},
		FallbackTokenTTL:      time.Hour,
	},
}

// PlatformStatus reports the availability of one platform for listings.
type PlatformStatus struct {
	ID         string `json:"id"`
	Configured bool   `json:"configured"`
}

// Registry resolves platform ids to merged platform configurations. It is
// safe for concurrent use; Reload swaps the whole table atomically.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]*PlatformConfig
}

// New builds a registry from the builtin platform table merged with the
// credentials found in cfg. Platforms missing a client id stay listed but
// resolve to ErrNotConfigured.
func New(cfg *config.Config) *Registry {
	r := &Registry{}
	r.Reload(cfg)
	return r
}

// NewStatic builds a registry directly from explicit platform
// configurations, bypassing the builtin table. Useful for tests and for
// embedders that manage their own platform definitions.
func NewStatic(platforms ...PlatformConfig) *Registry {
	table := make(map[string]*PlatformConfig, len(platforms))
	for i := range platforms {
		p := platforms[i]
		table[p.ID] = &p
	}
	return &Registry{platforms: table}
}

// Reload rebuilds the platform table from the provided configuration.
func (r *Registry) Reload(cfg *config.Config) {
	platforms := make(map[string]*PlatformConfig, len(platformDefaults))
	for id, def := range platformDefaults {
		merged := def
		if cfg != nil {
			if creds, ok := cfg.Platforms[id]; ok {
				merged.ClientID = strings.TrimSpace(creds.ClientID)
				merged.ClientSecret = creds.ClientSecret
				merged.RedirectURI = creds.RedirectURI
				if len(creds.Scopes) > 0 {
					merged.Scopes = creds.Scopes
				}
				if creds.FallbackTokenTTLHours > 0 {
					merged.FallbackTokenTTL = time.Duration(creds.FallbackTokenTTLHours) * time.Hour
				}
			}
		}
		platforms[id] = &merged
	}
	r.mu.Lock()
	r.platforms = platforms
	r.mu.Unlock()
}

// Get returns the configuration for a platform id. It fails with
// ErrUnknownPlatform for ids outside the builtin table and ErrNotConfigured
// for platforms without a client id.
func (r *Registry) Get(id string) (*PlatformConfig, error) {
	r.mu.RLock()
	p, ok := r.platforms[strings.ToLower(strings.TrimSpace(id))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, id)
	}
	if p.ClientID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, id)
	}
	return p, nil
}

// List reports all known platforms and whether each one is usable.
func (r *Registry) List() []PlatformStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]PlatformStatus, 0, len(r.platforms))
	for id, p := range r.platforms {
		statuses = append(statuses, PlatformStatus{ID: id, Configured: p.ClientID != ""})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
