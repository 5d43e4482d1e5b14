// Package clerk проверяет сессионные токены Clerk и синхронизирует пользователей по вебхукам.
package clerk

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brightlane/portal/internal/app/ds"

	"github.com/golang-jwt/jwt"
)

var (
	ErrTokenMissing       = errors.New("токен не передан")
	ErrTokenInvalid       = errors.New("токен недействителен")
	ErrTokenExpired       = errors.New("срок действия токена истёк")
	ErrUnauthorizedParty  = errors.New("токен выпущен для другого источника")
	ErrNoVerificationKey  = errors.New("не задан публичный ключ Clerk")
	ErrSessionRevoked     = errors.New("сессия отозвана")
	ErrMissingSessionInfo = errors.New("в токене нет sub или sid")
)

// Verifier проверяет RS256-токены сессий Clerk офлайн по публичному ключу инстанса.
type Verifier struct {
	key     *rsa.PublicKey
	parties []string
	leeway  time.Duration
	now     func() time.Time
}

func NewVerifier(pemKey string, authorizedParties []string, leeway time.Duration) (*Verifier, error) {
	if strings.TrimSpace(pemKey) == "" {
		return nil, ErrNoVerificationKey
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse clerk public key: %w", err)
	}
	return &Verifier{
		key:     key,
		parties: authorizedParties,
		leeway:  leeway,
		now:     time.Now,
	}, nil
}

func (v *Verifier) Verify(tokenString string) (*ds.SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	// сроки проверяем сами, с допуском на рассинхрон часов
	parser := &jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodRS256.Alg()},
		SkipClaimsValidation: true,
	}
	claims := &ds.SessionClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now.Add(-v.leeway).Unix(), true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(v.leeway).Unix(), false) {
		return nil, fmt.Errorf("%w: nbf", ErrTokenInvalid)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrMissingSessionInfo
	}
	if len(v.parties) > 0 && claims.AuthorizedParty != "" && !v.partyAllowed(claims.AuthorizedParty) {
		return nil, ErrUnauthorizedParty
	}

	return claims, nil
}

func (v *Verifier) partyAllowed(azp string) bool {
	for _, p := range v.parties {
		if p == azp {
			return true
		}
	}
	return false
}

// TTL - сколько ещё живёт токен; нужно, чтобы не держать отзыв в Redis дольше токена
func TTL(claims *ds.SessionClaims, now time.Time) time.Duration {
	if claims == nil || claims.ExpiresAt == 0 {
		return 0
	}
	return time.Unix(claims.ExpiresAt, 0).Sub(now)
}
