// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"fmt"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database    Database    `yaml:"database"`
	ValKey      ValKey      `yaml:"valkey"`
	Migrate     Migrate     `yaml:"migrate"`
	Housekeeper Housekeeper `yaml:"housekeeper"`
	OAuth       OAuthClient `yaml:"oauth"`
	Session     Session     `yaml:"session"`
	RateLimit   RateLimit   `yaml:"rateLimit"`
}

// Validate checks the settings that defaults cannot make consistent.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rateLimit: %w", err)
	}

	return nil
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"auth-session"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Migrate struct {
	// Source is a file:// directory; empty uses the migrations built into the binary.
	Source string `yaml:"source"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"10m"`
}

// ClientAuthStyle selects how the client credentials reach the token and
// revocation endpoints.
type ClientAuthStyle string

const (
	ClientAuthStyleHeader ClientAuthStyle = "header"
	ClientAuthStyleParams ClientAuthStyle = "params"
)

// OAuthClient is the registration of this application at the authorization server.
type OAuthClient struct {
	ClientID              commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret          commoncfg.SourceRef `yaml:"clientSecret"`
	AuthStyle             ClientAuthStyle     `yaml:"authStyle" default:"header"`
	AuthorizationEndpoint string              `yaml:"authorizationEndpoint"`
	TokenEndpoint         string              `yaml:"tokenEndpoint"`
	RevocationEndpoint    string              `yaml:"revocationEndpoint"`
	RedirectURI           string              `yaml:"redirectURI"`
	Scopes                []string            `yaml:"scopes"`
	// AdditionalAuthParameters are appended to the authorization request as is.
	AdditionalAuthParameters map[string]string `yaml:"additionalAuthParameters"`
	RequestTimeout           time.Duration     `yaml:"requestTimeout" default:"10s"`
	// MTLS presents a client certificate to the token and revocation endpoints.
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

type SessionBackend string

const (
	SessionBackendMemory   SessionBackend = "memory"
	SessionBackendValKey   SessionBackend = "valkey"
	SessionBackendPostgres SessionBackend = "postgres"
)

type Session struct {
	Backend  SessionBackend `yaml:"backend" default:"memory"`
	Duration time.Duration  `yaml:"duration" default:"2h"`
	// AfterLoginURL is where the user agent goes after a successful callback.
	// An empty value answers the callback with a JSON body instead.
	AfterLoginURL  string              `yaml:"afterLoginURL"`
	CookieHashKey  commoncfg.SourceRef `yaml:"cookieHashKey"`
	CookieBlockKey commoncfg.SourceRef `yaml:"cookieBlockKey"`
	CSRFSecret     commoncfg.SourceRef `yaml:"csrfSecret"`
	Cookie         CookieTemplate      `yaml:"cookie"`
}

type RateLimit struct {
	Enabled           bool    `yaml:"enabled" default:"true"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" default:"1"`
	Burst             int     `yaml:"burst" default:"10"`
}

// Validate rejects an enabled limiter that would refuse every login.
func (r RateLimit) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1, got %d", r.Burst)
	}

	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests per second must be positive, got %v", r.RequestsPerSecond)
	}

	return nil
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name" default:"__Host-Http-session"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure" default:"true"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
}
