package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
)

// ErrInvalidConfiguration is returned for an unusable Config.
var ErrInvalidConfiguration = errors.New("invalid vault configuration")

// ErrAuthentication is returned when no token could be obtained.
var ErrAuthentication = errors.New("vault authentication failed")

// Config describes how to reach and authenticate against Vault.
type Config struct {
	Address   string
	Namespace string
	Token     string

	// RoleID and SecretID enable AppRole login when Token is empty.
	RoleID       string
	SecretID     string
	AppRoleMount string

	// KVVersion pins the engine version (1 or 2). Zero detects it per mount.
	KVVersion int

	CACert     string
	SkipVerify bool
	Timeout    time.Duration
}

// Validate reports configuration errors that do not need a server round trip.
func (c Config) Validate() error {
	switch c.KVVersion {
	case 0, 1, 2:
	default:
		return fmt.Errorf("%w: kv version must be 1 or 2, got %d", ErrInvalidConfiguration, c.KVVersion)
	}
	if (c.RoleID == "") != (c.SecretID == "") {
		return fmt.Errorf("%w: approle login needs both role id and secret id", ErrInvalidConfiguration)
	}
	return nil
}

func newClient(ctx context.Context, cfg Config) (*api.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, config.Error)
	}
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	if config.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidConfiguration)
	}
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}
	if cfg.CACert != "" || cfg.SkipVerify {
		if err := config.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert, Insecure: cfg.SkipVerify}); err != nil {
			return nil, fmt.Errorf("%w: tls: %w", ErrInvalidConfiguration, err)
		}
	}
	if transport, ok := config.HttpClient.Transport.(*http.Transport); ok {
		transport.Proxy = http.ProxyFromEnvironment
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
		return client, nil
	}
	if cfg.RoleID != "" {
		if err := appRoleLogin(ctx, client, cfg); err != nil {
			return nil, err
		}
		return client, nil
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("%w: set a token or approle credentials", ErrInvalidConfiguration)
	}
	return client, nil
}

func appRoleLogin(ctx context.Context, client *api.Client, cfg Config) error {
	mount := cfg.AppRoleMount
	if mount == "" {
		mount = "approle"
	}
	resp, err := client.Logical().WriteWithContext(ctx, "auth/"+mount+"/login", map[string]any{
		"role_id":   cfg.RoleID,
		"secret_id": cfg.SecretID,
	})
	if err != nil {
		return fmt.Errorf("%w: approle login: %w", ErrAuthentication, err)
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return fmt.Errorf("%w: approle login returned no token", ErrAuthentication)
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}
