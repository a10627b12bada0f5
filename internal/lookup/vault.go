package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

const VaultHandler = "vault"

// VaultConfig addresses a KV v2 mount. Empty Address and Token fall back to
// VAULT_ADDR and VAULT_TOKEN.
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
}

// VaultResolver resolves "path::key" against a Vault KV v2 mount. Secrets are
// read once per path and cached for the run.
type VaultResolver struct {
	client *vault.Client
	mount  string

	mu    sync.Mutex
	cache map[string]map[string]any
}

func NewVaultResolver(cfg VaultConfig) (*VaultResolver, error) {
	apiCfg := vault.DefaultConfig()
	if addr := strings.TrimSpace(cfg.Address); addr != "" {
		apiCfg.Address = addr
	}
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetToken(token)
	}
	mount := strings.Trim(strings.TrimSpace(cfg.Mount), "/")
	if mount == "" {
		mount = "secret"
	}
	return &VaultResolver{client: client, mount: mount, cache: map[string]map[string]any{}}, nil
}

func (v *VaultResolver) Resolve(ctx context.Context, query string) (string, error) {
	path, key, ok := strings.Cut(strings.TrimSpace(query), "::")
	path = strings.Trim(strings.TrimSpace(path), "/")
	key = strings.TrimSpace(key)
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("vault lookup %q must look like path::key", query)
	}
	data, err := v.read(ctx, path)
	if err != nil {
		return "", err
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("vault secret %s/%s has no key %q", v.mount, path, key)
	}
	switch val := raw.(type) {
	case string:
		return val, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(val), nil
	}
}

func (v *VaultResolver) read(ctx context.Context, path string) (map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if data, ok := v.cache[path]; ok {
		return data, nil
	}
	secret, err := v.client.KVv2(v.mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s/%s: %w", v.mount, path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s/%s not found", v.mount, path)
	}
	v.cache[path] = secret.Data
	return secret.Data, nil
}
