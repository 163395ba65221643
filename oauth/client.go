package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/store"
)

// MakeAuthorizationURL begins an authorization-code + PKCE flow for
// resourceURL on behalf of accountID. It discovers the governing
// authorization server, registers a client with it if needed, generates and
// persists a PKCE pair, and performs the non-standard "redirect=false"
// authorize call (authenticated by a JWT from the configured JWTSigner). It
// returns the redirect URL that call answered with, which already carries
// the authorization `code` and `state` and can be passed to HandleCallback.
//
// carryThrough carries any additional authorize query parameters the caller
// wants forwarded verbatim (e.g. scope, audience).
func (c *Client) MakeAuthorizationURL(ctx context.Context, accountID, resourceURL string, carryThrough url.Values) (string, error) {
	meta, err := c.discover(ctx, resourceURL)
	if err != nil {
		return "", err
	}

	creds, err := c.ensureClientCredentials(ctx, meta)
	if err != nil {
		return "", err
	}

	verifier, challenge := newPKCE()
	state := uuid.NewString()

	jwt, err := c.signer.GenerateJWT(ctx, JWTSignRequest{CodeChallenge: challenge})
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: fmt.Errorf("signing authorize JWT: %w", err)}
	}

	authorizeURL, err := c.performAuthorize(ctx, meta, creds, resourceURL, state, challenge, jwt, carryThrough)
	if err != nil {
		return "", err
	}

	if err := c.db.SavePKCE(ctx, accountID, state, store.PKCEValues{
		CodeVerifier:     verifier,
		CodeChallenge:    challenge,
		ResourceURL:      resourceURL,
		AuthorizationURL: authorizeURL,
		CreatedAt:        time.Now(),
	}); err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: err}
	}

	return authorizeURL, nil
}

// manualRedirectClient never follows redirects; it's used for the authorize
// call so a 3xx response can be inspected directly instead of consumed by
// following the chain.
func (c *Client) manualRedirectClient() *http.Client {
	return &http.Client{
		Transport: c.cfg.HTTPClient.Transport,
		Timeout:   c.cfg.HTTPClient.Timeout,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (c *Client) performAuthorize(ctx context.Context, meta AuthorizationServerMetadata, creds *store.ClientCredentials, resourceURL, state, challenge, jwt string, carryThrough url.Values) (string, error) {
	q := url.Values{}
	for k, vs := range carryThrough {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("response_type", "code")
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("resource", resourceURL)
	q.Set("redirect", "false")

	authorizeURL := strings.TrimRight(meta.AuthorizationEndpoint, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL, nil)
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+jwt)

	resp, err := c.manualRedirectClient().Do(req)
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: err}
	}
	defer resp.Body.Close()

	redirectURL, err := extractRedirect(resp)
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: err}
	}

	if err := checkNoError(redirectURL); err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "authorize", Cause: err}
	}

	return redirectURL, nil
}

// extractRedirect supports both the standard 3xx/Location shape and the
// "redirect=false" resource servers' 200/JSON {"redirect": "..."} shape.
func extractRedirect(resp *http.Response) (string, error) {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", fmt.Errorf("redirect response %d carried no Location header", resp.StatusCode)
		}
		return loc, nil
	}

	if resp.StatusCode == http.StatusOK {
		var payload struct {
			Redirect string `json:"redirect"`
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 16384))
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("200 authorize response was not the expected {redirect} shape: %w", err)
		}
		if payload.Redirect == "" {
			return "", fmt.Errorf("200 authorize response carried an empty redirect")
		}
		return payload.Redirect, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return "", fmt.Errorf("unexpected authorize response status %d: %s", resp.StatusCode, string(body))
}

func checkNoError(redirectURL string) error {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return fmt.Errorf("malformed redirect URL: %w", err)
	}
	if errParam := u.Query().Get("error"); errParam != "" {
		desc := u.Query().Get("error_description")
		return fmt.Errorf("authorization server returned error=%s: %s", errParam, desc)
	}
	return nil
}

// HandleCallback completes an authorization-code flow given the redirect
// URL the end user's browser landed on (or its query alone). It looks up the
// PKCE record by state, exchanges the code for tokens, persists the access
// token, and deletes the PKCE record.
func (c *Client) HandleCallback(ctx context.Context, accountID, callbackURL string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: fmt.Errorf("malformed callback URL: %w", err)}
	}
	q := u.Query()
	if errParam := q.Get("error"); errParam != "" {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: fmt.Errorf("authorization server returned error=%s: %s", errParam, q.Get("error_description"))}
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: fmt.Errorf("callback URL carried no code/state")}
	}

	pkce, err := c.db.GetPKCE(ctx, accountID, state)
	if err != nil {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: err}
	}
	if pkce == nil {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: atxperrors.ErrPKCENotFound}
	}

	meta, err := c.discover(ctx, pkce.ResourceURL)
	if err != nil {
		return err
	}
	creds, err := c.ensureClientCredentials(ctx, meta)
	if err != nil {
		return err
	}

	token, err := c.exchangeCode(ctx, meta, creds, code, pkce.CodeVerifier)
	if err != nil {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: err}
	}
	token.ResourceURL = pkce.ResourceURL

	if err := c.db.SaveAccessToken(ctx, accountID, *token); err != nil {
		return &atxperrors.OAuthSubflowError{Stage: "token_exchange", Cause: err}
	}
	return c.db.DeletePKCE(ctx, accountID, state)
}

func (c *Client) exchangeCode(ctx context.Context, meta AuthorizationServerMetadata, creds *store.ClientCredentials, code, verifier string) (*store.AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    any    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access_token")
	}

	token := &store.AccessToken{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if secs, ok := expiresInSeconds(payload.ExpiresIn); ok {
		exp := time.Now().Add(time.Duration(secs) * time.Second)
		token.ExpiresAt = &exp
	}
	return token, nil
}

func expiresInSeconds(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
