// Package auth turns bearer tokens on incoming requests into the caller
// identity the rules validator sees.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/abduss/storage-emulator/internal/config"
	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier decodes ID tokens. Without a signing secret tokens are decoded
// without signature checks, the way client SDKs talk to a local emulator.
type Verifier struct {
	secret     []byte
	ownerToken string
	nowFunc    func() time.Time
	parser     *jwt.Parser
}

// NewVerifier builds a verifier from the auth configuration.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret:     []byte(cfg.JWTSecret),
		ownerToken: cfg.OwnerToken,
		nowFunc:    time.Now,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})),
	}
}

// Verify returns the caller identity carried by tokenString.
func (v *Verifier) Verify(tokenString string) (*rules.AuthContext, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrUnauthorized
	}
	if v.ownerToken != "" && tokenString == v.ownerToken {
		return &rules.AuthContext{UID: "owner", Admin: true}, nil
	}

	claims := jwt.MapClaims{}
	if len(v.secret) == 0 {
		if _, _, err := v.parser.ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	} else {
		parsed, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		})
		if err != nil || !parsed.Valid {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}

	if exp, err := claims.GetExpirationTime(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	} else if exp != nil && exp.Before(v.nowFunc()) {
		return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	uid, _ := claims["user_id"].(string)
	if uid == "" {
		uid, _ = claims["sub"].(string)
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	admin, _ := claims["admin"].(bool)
	return &rules.AuthContext{
		UID:   uid,
		Token: map[string]any(claims),
		Admin: admin,
	}, nil
}
