package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"

	"github.com/yogamat/auth-session/internal/serviceerr"
)

// TokenSet is the validated answer of the token endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Expiry       time.Time
}

// TokenExchanger redeems an authorization code at the token endpoint.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (TokenSet, error)
}

// OAuth2Exchanger is the TokenExchanger backed by golang.org/x/oauth2.
type OAuth2Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

var _ TokenExchanger = (*OAuth2Exchanger)(nil)

func NewOAuth2Exchanger(client ClientConfig, httpClient *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		config:     client.oauth2Config(),
		httpClient: httpClient,
	}
}

// Exchange sends grant_type=authorization_code with the code, the redirect
// URI, the PKCE verifier and the client credentials. The response is
// untrusted: it must carry an access token and an expiry.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code, codeVerifier string) (TokenSet, error) {
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}

	token, err := e.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return TokenSet{}, errors.Join(serviceerr.ErrTokenExchangeFailed,
				fmt.Errorf("token endpoint answered with status %d (%s)", retrieveErr.Response.StatusCode, retrieveErr.ErrorCode))
		}

		return TokenSet{}, errors.Join(serviceerr.ErrTokenExchangeFailed, err)
	}

	if token.AccessToken == "" {
		return TokenSet{}, errors.Join(serviceerr.ErrTokenExchangeFailed, errors.New("token response without access token"))
	}

	if token.Expiry.IsZero() {
		return TokenSet{}, errors.Join(serviceerr.ErrTokenExchangeFailed, errors.New("token response without expiry"))
	}

	idToken, _ := token.Extra("id_token").(string)

	return TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		IDToken:      idToken,
		Expiry:       token.Expiry,
	}, nil
}

// idTokenSigningAlgorithms covers the asymmetric algorithms and the client
// secret based HMAC ones.
var idTokenSigningAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// subjectFromIDToken reads the sub claim of an ID token. The signature is not
// verified; the token was received directly from the token endpoint.
func subjectFromIDToken(raw string) (string, error) {
	token, err := jwt.ParseSigned(raw, idTokenSigningAlgorithms)
	if err != nil {
		return "", fmt.Errorf("parsing id token: %w", err)
	}

	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", fmt.Errorf("reading id token claims: %w", err)
	}

	return claims.Subject, nil
}
