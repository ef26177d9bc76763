package signer

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig locates the wallet key in a Vault KV v2 mount.
type VaultConfig struct {
	Address    string
	Token      string
	MountPath  string // KV v2 mount, e.g. "secret"
	SecretPath string // path under the mount, e.g. "mirror-engine/wallet"
	Field      string // field holding the base58 secret key
}

// FromVault reads the base58 secret key from Vault and parses it.
func FromVault(ctx context.Context, cfg VaultConfig) (*Keypair, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	path := fmt.Sprintf("%s/data/%s", cfg.MountPath, cfg.SecretPath)
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read wallet key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("wallet key not found at %s", path)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	field := cfg.Field
	if field == "" {
		field = "private_key"
	}
	encoded, ok := data[field].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("field %q missing in vault secret", field)
	}

	return FromBase58(encoded)
}
