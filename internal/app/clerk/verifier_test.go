package clerk

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/brightlane/portal/internal/app/ds"

	"github.com/golang-jwt/jwt"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, claims ds.SessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func claimsAt(now time.Time, ttl time.Duration, azp string) ds.SessionClaims {
	return ds.SessionClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   "user_123",
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
		SessionID:       "sess_abc",
		AuthorizedParty: azp,
	}
}

func TestVerifier(t *testing.T) {
	key, pub := newKeyPair(t)
	otherKey, _ := newKeyPair(t)
	now := time.Now()

	v, err := NewVerifier(pub, []string{"https://brightlane.example"}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", sign(t, key, claimsAt(now, time.Minute, "https://brightlane.example")), nil},
		{"no azp", sign(t, key, claimsAt(now, time.Minute, "")), nil},
		{"within leeway", sign(t, key, claimsAt(now.Add(-62*time.Second), time.Minute, "")), nil},
		{"expired", sign(t, key, claimsAt(now.Add(-10*time.Minute), time.Minute, "")), ErrTokenExpired},
		{"foreign party", sign(t, key, claimsAt(now, time.Minute, "https://evil.example")), ErrUnauthorizedParty},
		{"wrong key", sign(t, otherKey, claimsAt(now, time.Minute, "")), ErrTokenInvalid},
		{"garbage", "not-a-token", ErrTokenInvalid},
		{"empty", "", ErrTokenMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.Subject != "user_123" || claims.SessionID != "sess_abc" {
				t.Fatalf("unexpected claims: %+v", claims)
			}
		})
	}
}

func TestVerifierRejectsHS256(t *testing.T) {
	_, pub := newKeyPair(t)
	v, err := NewVerifier(pub, nil, 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsAt(time.Now(), time.Minute, "")).SignedString([]byte(pub))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestNewVerifierWithoutKey(t *testing.T) {
	if _, err := NewVerifier("  ", nil, 0); !errors.Is(err, ErrNoVerificationKey) {
		t.Fatalf("expected ErrNoVerificationKey, got %v", err)
	}
}
