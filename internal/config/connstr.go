package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"
)

func MakeConnStr(conf Database) (string, error) {
	host, err := commoncfg.LoadValueFromSourceRef(conf.Host)
	if err != nil {
		return "", fmt.Errorf("loading db host: %w", err)
	}

	user, err := commoncfg.LoadValueFromSourceRef(conf.User)
	if err != nil {
		return "", fmt.Errorf("loading db user: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return "", fmt.Errorf("loading db password: %w", err)
	}

	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s",
		host, user, string(password), conf.Name, conf.Port), nil
}

// MakeValKeyOptions resolves the valkey secrets into client options.
func MakeValKeyOptions(conf ValKey) (valkey.ClientOption, error) {
	host, err := commoncfg.LoadValueFromSourceRef(conf.Host)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey host: %w", err)
	}

	user, err := commoncfg.LoadValueFromSourceRef(conf.User)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey username: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey password: %w", err)
	}

	opts := valkey.ClientOption{
		InitAddress: []string{string(host)},
		Username:    string(user),
		Password:    string(password),
	}

	if conf.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&conf.SecretRef.MTLS)
		if err != nil {
			return valkey.ClientOption{}, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		opts.TLSConfig = tlsConfig
	}

	return opts, nil
}
