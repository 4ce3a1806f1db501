package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"maps"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
)

const (
	signingKID    = "drill-it-1"
	tokenIssuerID = "https://auth.test.drill.dev"
	tokenAudience = "drill-test"
)

// TestClaims describes the team a generated token speaks for.
type TestClaims struct {
	SubjectID string
	SessionID string
	AccessID  string
	TeamNo    int
	OutlineID string
	Extra     map[string]any
}

func (c TestClaims) mapClaims(issuedAt, expires time.Time) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss":       tokenIssuerID,
		"aud":       tokenAudience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(expires),
		"sub":       c.SubjectID,
		"access_id": c.AccessID,
		"team_no":   c.TeamNo,
	}
	if c.SessionID != "" {
		claims["jti"] = c.SessionID
	}
	if c.OutlineID != "" {
		claims["outline_id"] = c.OutlineID
	}
	maps.Copy(claims, c.Extra)
	return claims
}

// tokenIssuer signs RS256 tokens and publishes the public half as a JWKS.
type tokenIssuer struct {
	key  *rsa.PrivateKey
	jwks *httptest.Server
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	jwk, err := jwkset.NewJWKFromKey(key.Public(), jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{KID: signingKID, ALG: jwkset.AlgRS256, USE: jwkset.UseSig},
	})
	if err != nil {
		t.Fatalf("build JWK: %v", err)
	}
	set := jwkset.NewMemoryStorage()
	if err := set.KeyWrite(context.Background(), jwk); err != nil {
		t.Fatalf("store JWK: %v", err)
	}
	body, err := set.JSONPublic(context.Background())
	if err != nil {
		t.Fatalf("marshal JWKS: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return &tokenIssuer{key: key, jwks: srv}
}

func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims.mapClaims(now, now.Add(time.Hour)))
}

func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims.mapClaims(now.Add(-2*time.Hour), now.Add(-time.Hour)))
}

func (ti *tokenIssuer) sign(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKID
	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwks.URL }
func (ti *tokenIssuer) Issuer() string   { return tokenIssuerID }
func (ti *tokenIssuer) Audience() string { return tokenAudience }
