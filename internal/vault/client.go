// Package vault stores exchange API credentials in HashiCorp Vault,
// with an in-memory cache and a disabled mode for local development.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Credentials holds one exchange's API key pair.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
}

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config Config
	mu     sync.RWMutex
	cache  map[string]*Credentials
}

// NewClient creates a Vault client. When disabled, credentials live only in
// the in-memory cache and must be stored explicitly at startup.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]*Credentials)}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg, cache: make(map[string]*Credentials)}, nil
}

// StoreCredentials writes credentials for an exchange.
func (c *Client) StoreCredentials(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	copied := creds
	c.cache[creds.Exchange] = &copied
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	secretData := map[string]any{
		"data": map[string]any{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"exchange":   creds.Exchange,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Exchange), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}
	return nil
}

// GetCredentials reads credentials for an exchange, preferring the cache.
func (c *Client) GetCredentials(ctx context.Context, exchange string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[exchange]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %s not found and vault is disabled", exchange)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(exchange))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials for %s not found", exchange)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid secret format for %s", exchange)
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  exchange,
	}

	c.mu.Lock()
	c.cache[exchange] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes credentials for an exchange.
func (c *Client) DeleteCredentials(ctx context.Context, exchange string) error {
	c.mu.Lock()
	delete(c.cache, exchange)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(exchange)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// IsEnabled reports whether Vault is in use.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(exchange string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, exchange)
}

func (c *Client) metadataPath(exchange string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, exchange)
}

func getString(data map[string]any, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
