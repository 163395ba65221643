package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/atxp-dev/atxp-go/atxperrors"
)

// prmWellKnownPath is the fixed path segment of an OAuth2 Protected
// Resource Metadata document (RFC 9728). Some resource servers publish it
// at a path-specific location (e.g. ".../oauth-protected-resource/mcp")
// rather than at the bare origin, and advertise that exact document URL in
// a 401's WWW-Authenticate resource_metadata hint.
const prmWellKnownPath = "/.well-known/oauth-protected-resource"

// discover resolves the authorization server metadata that governs
// resourceURL, following this fallback chain:
//  1. GET the protected-resource metadata document: resourceURL itself if
//     it already names a ".well-known/oauth-protected-resource" document
//     (the common case when resourceURL came from a 401's WWW-Authenticate
//     hint), otherwise <resource origin>/.well-known/oauth-protected-resource
//  2. if that 404s and strict discovery is off, treat the resource's own
//     origin as the authorization server
//  3. GET <issuer>/.well-known/oauth-authorization-server
//
// The resolved issuer is checked against the configured allow-list before
// any network call is made against it for registration or token exchange.
func (c *Client) discover(ctx context.Context, resourceURL string) (AuthorizationServerMetadata, error) {
	origin, err := originOf(resourceURL)
	if err != nil {
		return AuthorizationServerMetadata{}, &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: err}
	}

	issuer, err := c.resolveIssuer(ctx, origin, resourceURL)
	if err != nil {
		return AuthorizationServerMetadata{}, err
	}

	if len(c.cfg.AllowedIssuers) > 0 && !slices.Contains(c.cfg.AllowedIssuers, issuer) {
		return AuthorizationServerMetadata{}, &atxperrors.UnknownAuthorizationServerError{
			Issuer:    issuer,
			AllowList: c.cfg.AllowedIssuers,
		}
	}

	meta, err := c.fetchASMetadata(ctx, issuer)
	if err != nil {
		return AuthorizationServerMetadata{}, &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: err}
	}
	return meta, nil
}

// resolveIssuer fetches the protected-resource metadata document and
// returns the first authorization server it names. resourceURL is used
// directly as the document URL when it already points at a
// ".well-known/oauth-protected-resource" path (path-specific PRM); a bare
// resource-server URL (e.g. the one passed to the public
// MakeAuthorizationURL entry point) is re-derived as origin+suffix instead,
// since there's no document path to preserve in that case.
func (c *Client) resolveIssuer(ctx context.Context, origin, resourceURL string) (string, error) {
	prmURL := origin + prmWellKnownPath
	if strings.Contains(resourceURL, prmWellKnownPath) {
		prmURL = resourceURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, prmURL, nil)
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: err}
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var prm ProtectedResourceMetadata
		if err := json.NewDecoder(resp.Body).Decode(&prm); err != nil {
			return "", &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: err}
		}
		if len(prm.AuthorizationServers) == 0 {
			return "", &atxperrors.OAuthSubflowError{Stage: "discovery", Cause: fmt.Errorf("protected resource metadata named no authorization servers")}
		}
		return prm.AuthorizationServers[0], nil
	}

	if resp.StatusCode == http.StatusNotFound && !c.cfg.StrictDiscovery {
		c.cfg.Logger.Debug("oauth: protected resource metadata missing, falling back to resource origin as issuer", "origin", origin)
		return origin, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return "", &atxperrors.OAuthSubflowError{
		Stage: "discovery",
		Cause: fmt.Errorf("unexpected status %d fetching protected resource metadata: %s", resp.StatusCode, string(body)),
	}
}

func (c *Client) fetchASMetadata(ctx context.Context, issuer string) (AuthorizationServerMetadata, error) {
	metaURL := strings.TrimRight(issuer, "/") + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return AuthorizationServerMetadata{}, err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return AuthorizationServerMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return AuthorizationServerMetadata{}, fmt.Errorf("unexpected status %d fetching authorization server metadata: %s", resp.StatusCode, string(body))
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return AuthorizationServerMetadata{}, err
	}
	if meta.Issuer == "" {
		meta.Issuer = issuer
	}
	return meta, nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %q", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
