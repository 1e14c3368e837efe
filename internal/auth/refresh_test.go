package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
)

// seedToken stores an active token for the platform and returns its record.
func seedToken(t *testing.T, tokens *store.MemoryTokenStore, platform string, update store.TokenUpdate) *store.TokenRecord {
	t.Helper()
	rec, err := tokens.Save(context.Background(), platform, update)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return rec
}

func TestRefreshStandard(t *testing.T) {
	t.Parallel()
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600,"token_type":"bearer"}`))
	}))
	defer srv.Close()

	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", srv.URL))
	past := time.Now().Add(-time.Minute)
	seeded := seedToken(t, tokens, "platforma", store.TokenUpdate{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    &past,
		Metadata:     map[string]any{"account_id": "acct-1"},
	})

	rec, err := m.Refresh(context.Background(), "platforma")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if gotForm["grant_type"] != "refresh_token" || gotForm["refresh_token"] != "rt-old" {
		t.Errorf("refresh form = %v", gotForm)
	}
	if gotForm["client_id"] != "platforma-client" || gotForm["client_secret"] != "platforma-secret" {
		t.Errorf("client credentials missing from form: %v", gotForm)
	}

	if rec.ID != seeded.ID {
		t.Error("refresh must mutate the record in place, not create a new one")
	}
	if rec.AccessToken != "at-new" || rec.RefreshToken != "rt-new" {
		t.Errorf("tokens = %q/%q", rec.AccessToken, rec.RefreshToken)
	}
	if rec.Metadata["account_id"] != "acct-1" {
		t.Error("refresh must preserve prior metadata")
	}
	if rec.LastRefreshedAt.IsZero() {
		t.Error("LastRefreshedAt not stamped")
	}
	if rec.ExpiresAt == nil || time.Until(*rec.ExpiresAt) < 50*time.Minute {
		t.Errorf("expiry not advanced: %v", rec.ExpiresAt)
	}
}

func TestRefreshKeepsRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","expires_in":3600}`))
	}))
	defer srv.Close()

	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", srv.URL))
	seedToken(t, tokens, "platforma", store.TokenUpdate{AccessToken: "at-old", RefreshToken: "rt-keep"})

	rec, err := m.Refresh(context.Background(), "platforma")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rec.RefreshToken != "rt-keep" {
		t.Errorf("RefreshToken = %q, want the prior token kept", rec.RefreshToken)
	}
}

func TestRefreshManual(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"access_token":"at-new","refresh_token":"rt-new","expires_in":86400}}`))
	}))
	defer srv.Close()

	p := testPlatform("platformb", "https://auth.example.com", "https://token.example.com")
	p.Quirks = registry.Quirks{
		IDParamName:     "client_key",
		SecretParamName: "client_secret",
		ManualRefresh:   true,
		RefreshEndpoint: srv.URL + "/v2/oauth/token/",
	}
	m, tokens := newTestManager(t, p)
	seedToken(t, tokens, "platformb", store.TokenUpdate{AccessToken: "at-old", RefreshToken: "rt-old"})

	rec, err := m.Refresh(context.Background(), "platformb")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if gotPath != "/v2/oauth/token/" {
		t.Errorf("refresh hit %q, want the quirk refresh endpoint", gotPath)
	}
	if gotForm["client_key"] != "platformb-client" {
		t.Errorf("manual refresh form = %v, want client id under quirk name", gotForm)
	}
	if gotForm["grant_type"] != "refresh_token" || gotForm["refresh_token"] != "rt-old" {
		t.Errorf("manual refresh form = %v", gotForm)
	}
	if rec.AccessToken != "at-new" || rec.RefreshToken != "rt-new" {
		t.Errorf("nested refresh response not normalized: %q/%q", rec.AccessToken, rec.RefreshToken)
	}
}

func TestRefreshInvalidGrantNotRecoverable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", srv.URL))
	seedToken(t, tokens, "platforma", store.TokenUpdate{AccessToken: "at", RefreshToken: "rt"})

	_, err := m.Refresh(context.Background(), "platforma")
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if refreshErr.Recoverable {
		t.Error("invalid_grant must not be recoverable")
	}
}

func TestRefreshServerErrorRecoverable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", srv.URL))
	seedToken(t, tokens, "platforma", store.TokenUpdate{AccessToken: "at", RefreshToken: "rt"})

	_, err := m.Refresh(context.Background(), "platforma")
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if !refreshErr.Recoverable {
		t.Error("5xx should be recoverable")
	}
	if rec, _ := tokens.GetActive(context.Background(), "platforma"); rec == nil || rec.AccessToken != "at" {
		t.Error("failed refresh must leave the stored token untouched")
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	t.Parallel()
	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", "https://token.example.com"))
	seedToken(t, tokens, "platforma", store.TokenUpdate{AccessToken: "at"})

	_, err := m.Refresh(context.Background(), "platforma")
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if refreshErr.Recoverable {
		t.Error("missing refresh token must not be recoverable")
	}
}

func TestRefreshNotAuthenticated(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, testPlatform("platforma", "https://auth.example.com", "https://token.example.com"))

	_, err := m.Refresh(context.Background(), "platforma")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Errorf("error = %v, want AuthenticationError", err)
	}
}

func TestRefreshConcurrentSingleFlight(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600}`))
	}))
	defer srv.Close()

	m, tokens := newTestManager(t, testPlatform("platforma", "https://auth.example.com", srv.URL))
	seedToken(t, tokens, "platforma", store.TokenUpdate{AccessToken: "at-old", RefreshToken: "rt-old"})

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*store.TokenRecord, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background(), "platforma")
		}(i)
	}
	wg.Wait()

	if n := requests.Load(); n != 1 {
		t.Errorf("vendor saw %d refresh requests, want 1", n)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: Refresh() error = %v", i, errs[i])
		}
		if results[i].AccessToken != "at-new" {
			t.Errorf("worker %d got token %q", i, results[i].AccessToken)
		}
	}
}
