package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type jwksServer struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	mu       sync.Mutex
	requests int
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &jwksServer{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *jwksServer) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "https://orders.example.com",
		"sub":   "scheduler",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	srv := newJWKSServer(t)
	cache := NewJWKSCache(srv.server.URL, nil, func() time.Time { return time.Unix(1_000_000, 0) })

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}
	if srv.requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", srv.requests)
	}
}

func TestJWKSCache_UnknownKid(t *testing.T) {
	srv := newJWKSServer(t)
	cache := NewJWKSCache(srv.server.URL, nil, nil)
	if _, err := cache.Key(context.Background(), "other"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestRequireOIDC(t *testing.T) {
	srv := newJWKSServer(t)
	verifier := NewOIDCVerifier(NewJWKSCache(srv.server.URL, nil, nil), "https://orders.example.com", []string{"https://accounts.google.com"})

	tests := []struct {
		name   string
		header func() string
		want   int
	}{
		{name: "valid", header: func() string { return "Bearer " + srv.sign(t, nil) }, want: http.StatusNoContent},
		{name: "missing", header: func() string { return "" }, want: http.StatusUnauthorized},
		{name: "wrong audience", header: func() string {
			return "Bearer " + srv.sign(t, func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" })
		}, want: http.StatusUnauthorized},
		{name: "wrong issuer", header: func() string {
			return "Bearer " + srv.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" })
		}, want: http.StatusUnauthorized},
		{name: "expired", header: func() string {
			return "Bearer " + srv.sign(t, func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() })
		}, want: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var identity *ServiceIdentity
			handler := verifier.RequireOIDC(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, _ = ServiceIdentityFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/export-stats", nil)
			if h := tc.header(); h != "" {
				req.Header.Set("Authorization", h)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want == http.StatusNoContent && (identity == nil || identity.Subject != "scheduler") {
				t.Fatalf("expected scheduler identity, got %+v", identity)
			}
		})
	}
}
