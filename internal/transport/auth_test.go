package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/drill/internal/config"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "drill",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":        "participant-1",
		"jti":        "session-abc",
		"access_id":  "acc-1",
		"team_no":    3,
		"outline_id": "ol-1",
		"iss":        "https://auth.example.com",
		"aud":        "drill",
		"exp":        jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":        jwt.NewNumericDate(time.Now()),
	}
}

func authenticate(handler http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// --- JWKS keyfunc tests ---

func newJWKSKeyfunc(t *testing.T, url string) jwt.Keyfunc {
	t.Helper()
	kf, err := NewJWKSKeyfunc(t.Context(), url, time.Hour, nil)
	require.NoError(t, err)
	return kf
}

func TestNewJWKSKeyfunc_resolvesByKid(t *testing.T) {
	rsaKey := generateRSAKey(t)
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t,
		rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey),
		ecKeyToJWK("ec-key-1", &ecKey.PublicKey),
	)
	kf := newJWKSKeyfunc(t, jwks.URL)

	parsed, err := jwt.Parse(signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-key-1", validClaims()), kf)
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	parsed, err = jwt.Parse(signJWT(t, ecKey, jwt.SigningMethodES256, "ec-key-1", validClaims()), kf)
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestNewJWKSKeyfunc_unknownKid(t *testing.T) {
	rsaKey := generateRSAKey(t)
	kf := newJWKSKeyfunc(t, startJWKSServer(t).URL)

	_, err := jwt.Parse(signJWT(t, rsaKey, jwt.SigningMethodRS256, "nonexistent", validClaims()), kf)
	assert.ErrorIs(t, err, jwt.ErrTokenUnverifiable)
}

func TestNewJWKSKeyfunc_fetchesOnceUpFront(t *testing.T) {
	rsaKey := generateRSAKey(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		keys := []map[string]any{rsaKeyToJWK("cached-key", &rsaKey.PublicKey)}
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	defer srv.Close()

	kf := newJWKSKeyfunc(t, srv.URL)
	for range 3 {
		_, err := jwt.Parse(signJWT(t, rsaKey, jwt.SigningMethodRS256, "cached-key", validClaims()), kf)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewJWKSKeyfunc_unreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	kf, err := NewJWKSKeyfunc(t.Context(), srv.URL, time.Hour, nil)
	require.NoError(t, err, "startup must not depend on the identity provider")

	rsaKey := generateRSAKey(t)
	_, err = jwt.Parse(signJWT(t, rsaKey, jwt.SigningMethodRS256, "k1", validClaims()), kf)
	assert.Error(t, err)
}

// --- JWTAuthenticator tests ---

func TestJWTAuthenticator_validTokens(t *testing.T) {
	rsaKey := generateRSAKey(t)
	ecKey := generateECKey(t)
	jwksSrv := startJWKSServer(t,
		rsaKeyToJWK("rsa", &rsaKey.PublicKey),
		ecKeyToJWK("ec", &ecKey.PublicKey),
	)
	kf := newJWKSKeyfunc(t, jwksSrv.URL)

	var got map[string]any
	handler := JWTAuthenticator(testIdentityCfg(), kf)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFrom(r.Context())
		w.WriteHeader(200)
	}))

	w := authenticate(handler, signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa", validClaims()))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "acc-1", got["access_id"])

	w = authenticate(handler, signJWT(t, ecKey, jwt.SigningMethodES256, "ec", validClaims()))
	assert.Equal(t, 200, w.Code)
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))
	kf := newJWKSKeyfunc(t, jwksSrv.URL)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		kid    string
		algs   []string
	}{
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "wrong-audience" }},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "unknown kid", kid: "unknown-key"},
		{name: "disallowed algorithm", algs: []string{"ES256"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testIdentityCfg()
			if tc.algs != nil {
				cfg.Algorithms = tc.algs
			}
			handler := JWTAuthenticator(cfg, kf)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			claims := validClaims()
			if tc.mutate != nil {
				tc.mutate(claims)
			}
			kid := tc.kid
			if kid == "" {
				kid = "test-key"
			}
			w := authenticate(handler, signJWT(t, rsaKey, jwt.SigningMethodRS256, kid, claims))
			assert.Equal(t, 401, w.Code)
		})
	}
}

func TestJWTAuthenticator_headerProblems(t *testing.T) {
	handler := JWTAuthenticator(testIdentityCfg(), HMACKeyfunc([]byte("unused")))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := authenticate(handler, "")
	assert.Equal(t, 401, w.Code)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
}

func TestJWTAuthenticator_clockSkewTolerance(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))
	handler := JWTAuthenticator(testIdentityCfg(), newJWKSKeyfunc(t, jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	w := authenticate(handler, signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims))
	assert.Equal(t, 200, w.Code)
}

func TestJWTAuthenticator_HMAC(t *testing.T) {
	secret := []byte("shared-secret")
	cfg := testIdentityCfg()
	cfg.Algorithms = []string{"HS256"}
	handler := JWTAuthenticator(cfg, HMACKeyfunc(secret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	w := authenticate(handler, signJWT(t, secret, jwt.SigningMethodHS256, "", validClaims()))
	assert.Equal(t, 200, w.Code)

	w = authenticate(handler, signJWT(t, []byte("other-secret"), jwt.SigningMethodHS256, "", validClaims()))
	assert.Equal(t, 401, w.Code)
}

func TestClassifyJWTError(t *testing.T) {
	assert.Equal(t, "Token expired", classifyJWTError(jwt.ErrTokenExpired))
	assert.Equal(t, "Invalid token signature", classifyJWTError(jwt.ErrTokenSignatureInvalid))
	assert.Equal(t, "Invalid token", classifyJWTError(jwt.ErrTokenMalformed))
}
