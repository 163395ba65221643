package solana

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

const (
	jwtIssuer   = "atxp.ai"
	jwtAudience = "https://auth.atxp.ai"
	jwtTTL      = 2 * time.Minute
)

type solanaClaims struct {
	jwt.RegisteredClaims
	PaymentRequestID string `json:"payment_request_id,omitempty"`
	CodeChallenge     string `json:"code_challenge,omitempty"`
}

// GenerateJWT signs a short-lived EdDSA JWT whose subject is the maker's
// base58 public address.
func (m *Maker) GenerateJWT(ctx context.Context, req paymentmaker.JWTRequest) (string, error) {
	now := time.Now()
	claims := solanaClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtAudience},
			Subject:   m.keypair.PublicKey().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtTTL)),
		},
		PaymentRequestID: req.PaymentRequestID,
		CodeChallenge:    req.CodeChallenge,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signingKey := ed25519.PrivateKey(m.keypair)
	return token.SignedString(signingKey)
}
