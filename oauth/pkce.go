package oauth

import (
	"golang.org/x/oauth2"
)

// newPKCE generates a fresh code verifier/challenge pair using the S256
// method, the only challenge method this client supports.
func newPKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	challenge = oauth2.S256ChallengeFromVerifier(verifier)
	return verifier, challenge
}
