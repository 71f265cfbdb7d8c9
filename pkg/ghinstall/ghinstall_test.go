// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghinstall

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v75/github"
)

func installations(logins ...string) []github.Installation {
	var out []github.Installation
	for i, l := range logins {
		out = append(out, github.Installation{
			ID:      github.Ptr(int64(i + 1)),
			Account: &github.User{Login: github.Ptr(l)},
		})
	}
	return out
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	atr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "missing app assertion", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(installations("other-org", "my-org"))
	}))

	mgr, err := New(atr)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	gotID, err := mgr.Get(ctx, "My-Org")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if gotID != 2 {
		t.Errorf("install ID: got = %d, wanted = %d", gotID, 2)
	}
}

func TestGetCached(t *testing.T) {
	ctx := context.Background()
	calls := 0

	atr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(installations("cached-org"))
	}))

	mgr, err := New(atr)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	// First call populates the cache.
	if _, err := mgr.Get(ctx, "cached-org"); err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if calls != 1 {
		t.Fatalf("API calls after first Get: got = %d, wanted = 1", calls)
	}

	// Second call should come from cache.
	gotID, err := mgr.Get(ctx, "cached-org")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if gotID != 1 {
		t.Errorf("install ID: got = %d, wanted = %d", gotID, 1)
	}
	if calls != 1 {
		t.Errorf("API calls after second Get: got = %d, wanted = 1", calls)
	}
}

func TestGetPaginated(t *testing.T) {
	ctx := context.Background()

	var srvURL string
	atr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode(installations("a", "b", "late-org"))
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/app/installations?page=2&per_page=100>; rel="next"`, srvURL))
		json.NewEncoder(w).Encode(installations("x", "y"))
	}))
	srvURL = atr.BaseURL

	mgr, err := New(atr)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	gotID, err := mgr.Get(ctx, "late-org")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if gotID != 3 {
		t.Errorf("install ID: got = %d, wanted = %d", gotID, 3)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()

	atr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(installations("other-org"))
	}))

	mgr, err := New(atr)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	_, err = mgr.Get(ctx, "missing-org")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Get() = %v, wanted ErrNotInstalled", err)
	}
}

func TestGetAPIError(t *testing.T) {
	atr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	mgr, err := New(atr)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if _, err := mgr.Get(context.Background(), "my-org"); err == nil || errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Get() = %v, wanted an API error", err)
	}
}

// newTestTransport serves h at GET /api/v3/app/installations.
func newTestTransport(t *testing.T, h http.Handler) *ghinstallation.AppsTransport {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle("GET /api/v3/app/installations", h)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
		fmt.Fprintf(w, "%s %s not implemented\n", r.Method, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(srv.Client().Transport, 12345678, ghinstallation.WithSigner(ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key)))
	if err != nil {
		t.Fatalf("NewAppsTransportWithOptions failed: %v", err)
	}
	atr.BaseURL = srv.URL

	return atr
}
