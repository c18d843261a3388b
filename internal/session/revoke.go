package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/serviceerr"
)

const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// Revoker invalidates a token at the authorization server.
type Revoker interface {
	Revoke(ctx context.Context, token, tokenTypeHint string) error
}

// HTTPRevoker posts RFC 7009 revocation requests.
type HTTPRevoker struct {
	endpoint     string
	clientID     string
	clientSecret string
	authStyle    config.ClientAuthStyle
	httpClient   *http.Client
}

var _ Revoker = (*HTTPRevoker)(nil)

// NewHTTPRevoker returns nil when the client has no revocation endpoint.
func NewHTTPRevoker(client ClientConfig, httpClient *http.Client) *HTTPRevoker {
	if client.revocationEndpoint == "" {
		return nil
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPRevoker{
		endpoint:     client.revocationEndpoint,
		clientID:     client.clientID,
		clientSecret: client.clientSecret,
		authStyle:    client.authStyle,
		httpClient:   httpClient,
	}
}

func (r *HTTPRevoker) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if token == "" {
		return errors.Join(serviceerr.ErrRevocationFailed, errors.New("empty token"))
	}

	data := url.Values{}
	data.Set("token", token)
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}

	if r.authStyle == config.ClientAuthStyleParams {
		data.Set("client_id", r.clientID)
		if r.clientSecret != "" {
			data.Set("client_secret", r.clientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return errors.Join(serviceerr.ErrRevocationFailed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if r.authStyle != config.ClientAuthStyleParams {
		req.SetBasicAuth(url.QueryEscape(r.clientID), url.QueryEscape(r.clientSecret))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return errors.Join(serviceerr.ErrRevocationFailed, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Join(serviceerr.ErrRevocationFailed, fmt.Errorf("revocation endpoint answered with status %d", resp.StatusCode))
	}

	return nil
}
