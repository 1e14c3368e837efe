package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/blush-labs/socialauth/internal/auth"
	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
)

func newTestAPI(t *testing.T, platforms ...registry.PlatformConfig) (*gin.Engine, *store.MemoryTokenStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := store.NewMemoryTokenStore()
	states := auth.NewMemoryStateStore(time.Minute)
	t.Cleanup(states.Close)

	reg := registry.NewStatic(platforms...)
	manager := auth.NewManager(reg, states, tokens, nil)

	engine := gin.New()
	NewHandler(manager, reg).RegisterRoutes(engine)
	return engine, tokens
}

func apiPlatform(id, tokenEndpoint string) registry.PlatformConfig {
	return registry.PlatformConfig{
		ID:                    id,
		AuthorizationEndpoint: "https://auth.example.com/oauth",
		TokenEndpoint:         tokenEndpoint,
		ClientID:              id + "-client",
		ClientSecret:          id + "-secret",
		RedirectURI:           "https://app.example.com/cb/" + id,
		Scopes:                []string{"scope1"},
	}
}

func doRequest(engine *gin.Engine, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func TestListPlatforms(t *testing.T) {
	engine, _ := newTestAPI(t,
		apiPlatform("platforma", "https://token.example.com"),
		registry.PlatformConfig{ID: "platformb", AuthorizationEndpoint: "https://a", TokenEndpoint: "https://t"},
	)

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforms")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	body := gjson.Parse(recorder.Body.String())
	platforms := body.Get("platforms").Array()
	if len(platforms) != 2 {
		t.Fatalf("platforms = %s", recorder.Body.String())
	}
	for _, p := range platforms {
		id := p.Get("id").String()
		configured := p.Get("configured").Bool()
		if id == "platforma" && !configured {
			t.Error("platforma should be configured")
		}
		if id == "platformb" && configured {
			t.Error("platformb has no client id and should not be configured")
		}
	}
}

func TestAuthorizeEndpoint(t *testing.T) {
	engine, _ := newTestAPI(t, apiPlatform("platforma", "https://token.example.com"))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforma/authorize?scopes=custom.read,custom.write")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var authz auth.Authorization
	if err := json.Unmarshal(recorder.Body.Bytes(), &authz); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if authz.State == "" {
		t.Error("response missing state")
	}
	if !strings.Contains(authz.AuthorizationURL, "custom.read+custom.write") &&
		!strings.Contains(authz.AuthorizationURL, "custom.read%20custom.write") {
		t.Errorf("scope override missing from URL: %s", authz.AuthorizationURL)
	}
}

func TestAuthorizeUnknownPlatform(t *testing.T) {
	engine, _ := newTestAPI(t, apiPlatform("platforma", "https://token.example.com"))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/nonesuch/authorize")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", recorder.Code)
	}
}

func TestAuthorizeUnconfiguredPlatform(t *testing.T) {
	engine, _ := newTestAPI(t, registry.PlatformConfig{ID: "platformb", AuthorizationEndpoint: "https://a", TokenEndpoint: "https://t"})

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platformb/authorize")
	if recorder.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", recorder.Code)
	}
}

func TestCallbackEndpoint(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer vendor.Close()

	engine, tokens := newTestAPI(t, apiPlatform("platforma", vendor.URL))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforma/authorize")
	state := gjson.Parse(recorder.Body.String()).Get("state").String()
	if state == "" {
		t.Fatalf("authorize response missing state: %s", recorder.Body.String())
	}

	recorder = doRequest(engine, http.MethodGet, "/v1/oauth/platforma/callback?code=the-code&state="+state)
	if recorder.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	body := gjson.Parse(recorder.Body.String())
	if body.Get("status").String() != "authorized" {
		t.Errorf("callback body = %s", recorder.Body.String())
	}
	if strings.Contains(recorder.Body.String(), `"at"`) {
		t.Error("callback response must not leak the access token")
	}

	rec, err := tokens.GetActive(context.Background(), "platforma")
	if err != nil || rec == nil || rec.AccessToken != "at" {
		t.Errorf("token not persisted: %+v, %v", rec, err)
	}
}

func TestCallbackMissingState(t *testing.T) {
	engine, _ := newTestAPI(t, apiPlatform("platforma", "https://token.example.com"))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforma/callback?code=c")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", recorder.Code)
	}
}

func TestCallbackReplayedState(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","expires_in":3600}`))
	}))
	defer vendor.Close()

	engine, _ := newTestAPI(t, apiPlatform("platforma", vendor.URL))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforma/authorize")
	state := gjson.Parse(recorder.Body.String()).Get("state").String()

	target := "/v1/oauth/platforma/callback?code=c&state=" + state
	if recorder = doRequest(engine, http.MethodGet, target); recorder.Code != http.StatusOK {
		t.Fatalf("first callback status = %d", recorder.Code)
	}
	if recorder = doRequest(engine, http.MethodGet, target); recorder.Code != http.StatusBadRequest {
		t.Errorf("replayed callback status = %d, want 400", recorder.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	engine, tokens := newTestAPI(t, apiPlatform("platforma", "https://token.example.com"))

	recorder := doRequest(engine, http.MethodGet, "/v1/oauth/platforma/status")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if gjson.Parse(recorder.Body.String()).Get("authenticated").Bool() {
		t.Error("unauthorized platform reported authenticated")
	}

	future := time.Now().Add(time.Hour)
	if _, err := tokens.Save(context.Background(), "platforma", store.TokenUpdate{
		AccessToken:  "super-secret-access-token",
		RefreshToken: "rt",
		ExpiresAt:    &future,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	recorder = doRequest(engine, http.MethodGet, "/v1/oauth/platforma/status")
	body := gjson.Parse(recorder.Body.String())
	if !body.Get("authenticated").Bool() {
		t.Error("authorized platform reported unauthenticated")
	}
	if !body.Get("has_refresh_token").Bool() {
		t.Error("has_refresh_token = false")
	}
	if strings.Contains(recorder.Body.String(), "super-secret-access-token") {
		t.Error("status response must mask the access token")
	}
}

func TestRevokeEndpoint(t *testing.T) {
	engine, tokens := newTestAPI(t, apiPlatform("platforma", "https://token.example.com"))

	if _, err := tokens.Save(context.Background(), "platforma", store.TokenUpdate{AccessToken: "at"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	recorder := doRequest(engine, http.MethodPost, "/v1/oauth/platforma/revoke")
	if recorder.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", recorder.Code)
	}

	if rec, _ := tokens.GetActive(context.Background(), "platforma"); rec != nil {
		t.Error("token still active after revoke")
	}

	// Revoking again reports the platform as unauthenticated.
	if recorder = doRequest(engine, http.MethodPost, "/v1/oauth/platforma/revoke"); recorder.Code != http.StatusUnauthorized {
		t.Errorf("second revoke status = %d, want 401", recorder.Code)
	}
}
