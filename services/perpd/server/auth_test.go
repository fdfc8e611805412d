package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return auth
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(AuthConfig{HMACSecret: "  "}, nil); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestAuthenticatorAuthenticateTokens(t *testing.T) {
	auth := newTestAuthenticator(t)
	exp := time.Now().Add(time.Hour).Unix()
	secret := []byte(testSecret)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		key    []byte
		want   bool
	}{
		{name: "valid token", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": testIssuer, "aud": testAudience, "exp": exp}, key: secret, want: true},
		{name: "audience list", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": testIssuer, "aud": []string{"other", testAudience}, "exp": exp}, key: secret, want: true},
		{name: "wrong secret", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": testIssuer, "aud": testAudience, "exp": exp}, key: []byte("other"), want: false},
		{name: "wrong issuer", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": "mallory", "aud": testAudience, "exp": exp}, key: secret, want: false},
		{name: "wrong audience", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": testIssuer, "aud": "other", "exp": exp}, key: secret, want: false},
		{name: "missing expiry", claims: jwt.MapClaims{"sub": alice.Hex(), "iss": testIssuer, "aud": testAudience}, key: secret, want: false},
		{name: "subject not address", claims: jwt.MapClaims{"sub": "alice", "iss": testIssuer, "aud": testAudience, "exp": exp}, key: secret, want: false},
		{name: "zero subject", claims: jwt.MapClaims{"sub": "0x0000000000000000000000000000000000000000", "iss": testIssuer, "aud": testAudience, "exp": exp}, key: secret, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := sign(t, jwt.SigningMethodHS256, tt.key, tt.claims)
			caller, err := auth.authenticate(token)
			if got := err == nil; got != tt.want {
				t.Fatalf("authenticate() ok = %v, want %v (err %v)", got, tt.want, err)
			}
			if tt.want && caller != alice {
				t.Fatalf("unexpected caller %s", caller.Hex())
			}
		})
	}
}

func TestAuthenticatorRejectsNoneAlgorithm(t *testing.T) {
	auth := newTestAuthenticator(t)
	token := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{
		"sub": alice.Hex(), "iss": testIssuer, "aud": testAudience, "exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := auth.authenticate(token); err == nil {
		t.Fatalf("expected unsigned token to be rejected")
	}
}

func TestAuthenticatorMiddlewareSetsCaller(t *testing.T) {
	auth := newTestAuthenticator(t)
	var seen string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller missing from context")
		}
		seen = caller.Hex()
		w.WriteHeader(http.StatusNoContent)
	}))

	request := httptest.NewRequest(http.MethodPost, "/v1/perpetuals", nil)
	request.Header.Set("Authorization", "bearer "+signToken(t, bob.Hex(), time.Minute))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if seen != bob.Hex() {
		t.Fatalf("unexpected caller %s", seen)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer  abc  ":   "abc",
		"Basic abc":       "",
		"Bearerabc":       "",
		"  Bearer x.y.z ": "x.y.z",
	}
	for header, want := range cases {
		if got := extractBearer(header); got != want {
			t.Fatalf("extractBearer(%q) = %q, want %q", header, got, want)
		}
	}
}
