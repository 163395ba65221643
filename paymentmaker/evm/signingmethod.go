package evm

import (
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethodES256K implements jwt.SigningMethod over the secp256k1 curve
// used by Ethereum accounts, since golang-jwt ships only the NIST curves
// out of the box. The signature is the 64-byte (r, s) pair go-ethereum's
// crypto package produces, matching the convention used by Ethereum
// signature verification libraries rather than ASN.1 DER encoding.
type signingMethodES256K struct{}

var (
	// SigningMethodES256K is registered once under "ES256K" so
	// jwt.Parse(..., jwt.WithValidMethods([]string{"ES256K"})) resolves it.
	SigningMethodES256K = &signingMethodES256K{}
	registerOnce        sync.Once
)

func init() {
	registerOnce.Do(func() {
		jwt.RegisterSigningMethod("ES256K", func() jwt.SigningMethod {
			return SigningMethodES256K
		})
	})
}

func (m *signingMethodES256K) Alg() string { return "ES256K" }

func (m *signingMethodES256K) Sign(signingString string, key any) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("evm: ES256K signing key must be *ecdsa.PrivateKey")
	}
	hash := crypto.Keccak256([]byte(signingString))
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return nil, err
	}
	// Drop the recovery id; JWT verifiers for this scheme recover the
	// address out-of-band from the `sub` claim, not from the signature.
	return sig[:64], nil
}

func (m *signingMethodES256K) Verify(signingString string, sig []byte, key any) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("evm: ES256K verification key must be *ecdsa.PublicKey")
	}
	if len(sig) != 64 {
		return errors.New("evm: ES256K signature must be 64 bytes")
	}
	hash := crypto.Keccak256([]byte(signingString))
	pubBytes := crypto.FromECDSAPub(pub)
	if !crypto.VerifySignature(pubBytes, hash, sig) {
		return errors.New("evm: ES256K signature verification failed")
	}
	return nil
}
