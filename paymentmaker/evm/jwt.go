package evm

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

const (
	jwtIssuer   = "atxp.ai"
	jwtAudience = "https://auth.atxp.ai"
	jwtTTL      = 2 * time.Minute
)

type evmClaims struct {
	jwt.RegisteredClaims
	PaymentRequestID string `json:"payment_request_id,omitempty"`
	CodeChallenge     string `json:"code_challenge,omitempty"`
}

// GenerateJWT signs a short-lived ES256K JWT whose subject is this EOA's
// checksummed address. The smart-wallet variant reuses this signing with
// its wallet address as the subject.
func (m *Maker) GenerateJWT(ctx context.Context, req paymentmaker.JWTRequest) (string, error) {
	now := time.Now()
	claims := evmClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtAudience},
			Subject:   m.addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtTTL)),
		},
		PaymentRequestID: req.PaymentRequestID,
		CodeChallenge:    req.CodeChallenge,
	}

	token := jwt.NewWithClaims(SigningMethodES256K, claims)
	return token.SignedString(m.priv)
}
