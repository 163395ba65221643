package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/store"
)

type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// ensureClientCredentials returns this client's registered credentials for
// issuer, registering a fresh client via DCR if none are cached yet. Only
// one registration request is ever in flight per issuer at a time.
func (c *Client) ensureClientCredentials(ctx context.Context, meta AuthorizationServerMetadata) (*store.ClientCredentials, error) {
	if creds, err := c.db.GetClientCredentials(ctx, meta.Issuer); err == nil && creds != nil {
		return creds, nil
	}

	return c.registerOnce(ctx, meta.Issuer, func(ctx context.Context) (*store.ClientCredentials, error) {
		// Re-check under the lock: another goroutine may have just finished
		// registering for this issuer before we acquired the single-flight slot.
		if creds, err := c.db.GetClientCredentials(ctx, meta.Issuer); err == nil && creds != nil {
			return creds, nil
		}

		if meta.RegistrationEndpoint == "" {
			return nil, &atxperrors.OAuthSubflowError{Stage: "registration", Cause: fmt.Errorf("authorization server %q does not advertise a registration_endpoint", meta.Issuer)}
		}

		creds, err := c.registerClient(ctx, meta)
		if err != nil {
			return nil, &atxperrors.OAuthSubflowError{Stage: "registration", Cause: err}
		}

		if err := c.db.SaveClientCredentials(ctx, meta.Issuer, *creds); err != nil {
			return nil, &atxperrors.OAuthSubflowError{Stage: "registration", Cause: err}
		}
		return creds, nil
	})
}

func (c *Client) registerClient(ctx context.Context, meta AuthorizationServerMetadata) (*store.ClientCredentials, error) {
	reqBody := registrationRequest{
		ClientName:              c.cfg.ClientName,
		RedirectURIs:            []string{c.cfg.RedirectURI},
		GrantTypes:              []string{"authorization_code", "client_credentials"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registration endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var regResp registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, err
	}
	if regResp.ClientID == "" {
		return nil, fmt.Errorf("registration response carried no client_id")
	}

	return &store.ClientCredentials{
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
		RedirectURI:  c.cfg.RedirectURI,
	}, nil
}
