package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/lakowske/podserve/interfaces"
)

// CredentialResolver turns credential references into secret values.
// Resolution failures that a configuration change must fix map to
// ErrCredentialInvalid; an unreachable secrets server maps to ErrNetwork so
// the attempt is retried.
type CredentialResolver struct {
	log *slog.Logger

	// newVaultClient is swapped in tests.
	newVaultClient func() (vaultLogical, error)
}

// vaultLogical is the slice of the Vault API the resolver uses.
type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// NewCredentialResolver creates a resolver. Vault access uses the standard
// VAULT_ADDR and VAULT_TOKEN environment configuration.
func NewCredentialResolver(log *slog.Logger) *CredentialResolver {
	return &CredentialResolver{
		log: log,
		newVaultClient: func() (vaultLogical, error) {
			config := vault.DefaultConfig()
			config.Timeout = 15 * time.Second
			client, err := vault.NewClient(config)
			if err != nil {
				return nil, err
			}
			return client.Logical(), nil
		},
	}
}

// Resolve returns the secret value a reference points at.
func (r *CredentialResolver) Resolve(ctx context.Context, ref interfaces.CredentialRef) (string, error) {
	switch {
	case ref.IsFile():
		return r.resolveFile(ref)
	case ref.IsEnv():
		return r.resolveEnv(ref)
	case ref.IsVault():
		return r.resolveVault(ctx, ref)
	default:
		return "", fmt.Errorf("%w: unsupported credentials scheme %q", interfaces.ErrInvalidConfig, ref.Scheme)
	}
}

func (r *CredentialResolver) resolveFile(ref interfaces.CredentialRef) (string, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", interfaces.ErrCredentialInvalid, ref.Path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: %s is empty", interfaces.ErrCredentialInvalid, ref.Path)
	}
	return value, nil
}

func (r *CredentialResolver) resolveEnv(ref interfaces.CredentialRef) (string, error) {
	value := strings.TrimSpace(os.Getenv(ref.Host))
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", interfaces.ErrCredentialInvalid, ref.Host)
	}
	return value, nil
}

func (r *CredentialResolver) resolveVault(ctx context.Context, ref interfaces.CredentialRef) (string, error) {
	client, err := r.newVaultClient()
	if err != nil {
		return "", fmt.Errorf("%w: vault client: %v", interfaces.ErrCredentialInvalid, err)
	}

	path := ref.VaultSecretPath()
	secret, err := client.ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: vault read %s: %v", interfaces.ErrNetwork, path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no secret at vault path %s", interfaces.ErrCredentialInvalid, path)
	}

	// KV v2 nests the fields under a "data" key.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: unexpected data format at vault path %s", interfaces.ErrCredentialInvalid, path)
	}
	value, ok := data[ref.Field].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: field %s missing at vault path %s", interfaces.ErrCredentialInvalid, ref.Field, path)
	}

	r.log.Debug("Resolved credentials from vault", slog.String("path", path), slog.String("field", ref.Field))
	return strings.TrimSpace(value), nil
}
