package session

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"golang.org/x/oauth2"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/serviceerr"
)

// ClientConfig is the registration of this application at the authorization
// server. It is built once at startup and never mutated afterwards.
type ClientConfig struct {
	clientID              string
	clientSecret          string
	authStyle             config.ClientAuthStyle
	authorizationEndpoint string
	tokenEndpoint         string
	revocationEndpoint    string
	redirectURI           string
	scopes                []string
	authParameters        map[string]string
	requestTimeout        time.Duration
}

// NewClientConfig resolves the secrets of cfg and validates the endpoints.
func NewClientConfig(cfg *config.OAuthClient) (ClientConfig, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.ClientID)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("loading client id from source ref: %w", err)
	}

	clientSecret, err := commoncfg.LoadValueFromSourceRef(cfg.ClientSecret)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("loading client secret from source ref: %w", err)
	}

	return newClientConfig(string(clientID), string(clientSecret), cfg)
}

func newClientConfig(clientID, clientSecret string, cfg *config.OAuthClient) (ClientConfig, error) {
	if clientID == "" {
		return ClientConfig{}, errors.Join(serviceerr.ErrInvalidClientConfig, errors.New("client id is empty"))
	}

	for name, endpoint := range map[string]string{
		"authorization endpoint": cfg.AuthorizationEndpoint,
		"token endpoint":         cfg.TokenEndpoint,
		"redirect uri":           cfg.RedirectURI,
	} {
		if err := validateEndpoint(endpoint); err != nil {
			return ClientConfig{}, errors.Join(serviceerr.ErrInvalidClientConfig, fmt.Errorf("%s: %w", name, err))
		}
	}

	if cfg.RevocationEndpoint != "" {
		if err := validateEndpoint(cfg.RevocationEndpoint); err != nil {
			return ClientConfig{}, errors.Join(serviceerr.ErrInvalidClientConfig, fmt.Errorf("revocation endpoint: %w", err))
		}
	}

	authStyle := cfg.AuthStyle
	switch authStyle {
	case "":
		authStyle = config.ClientAuthStyleHeader
	case config.ClientAuthStyleHeader, config.ClientAuthStyleParams:
	default:
		return ClientConfig{}, errors.Join(serviceerr.ErrInvalidClientConfig, fmt.Errorf("unknown client auth style %q", authStyle))
	}

	return ClientConfig{
		clientID:              clientID,
		clientSecret:          clientSecret,
		authStyle:             authStyle,
		authorizationEndpoint: cfg.AuthorizationEndpoint,
		tokenEndpoint:         cfg.TokenEndpoint,
		revocationEndpoint:    cfg.RevocationEndpoint,
		redirectURI:           cfg.RedirectURI,
		scopes:                slices.Clone(cfg.Scopes),
		authParameters:        maps.Clone(cfg.AdditionalAuthParameters),
		requestTimeout:        cfg.RequestTimeout,
	}, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("missing host")
	}

	return nil
}

func (c ClientConfig) ClientID() string {
	return c.clientID
}

func (c ClientConfig) RedirectURI() string {
	return c.redirectURI
}

func (c ClientConfig) TokenEndpoint() string {
	return c.tokenEndpoint
}

func (c ClientConfig) RevocationEndpoint() string {
	return c.revocationEndpoint
}

func (c ClientConfig) Scopes() []string {
	return slices.Clone(c.scopes)
}

func (c ClientConfig) RequestTimeout() time.Duration {
	return c.requestTimeout
}

// oauth2Config renders the registration for golang.org/x/oauth2.
func (c ClientConfig) oauth2Config() *oauth2.Config {
	authStyle := oauth2.AuthStyleInHeader
	if c.authStyle == config.ClientAuthStyleParams {
		authStyle = oauth2.AuthStyleInParams
	}

	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.authorizationEndpoint,
			TokenURL:  c.tokenEndpoint,
			AuthStyle: authStyle,
		},
		RedirectURL: c.redirectURI,
		Scopes:      slices.Clone(c.scopes),
	}
}
