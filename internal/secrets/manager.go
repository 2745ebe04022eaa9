package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/planweave/planweave/pkg/schema"
)

// Manager stores per-user provider credentials as encrypted JSON
// documents in a Vault. It satisfies the credential source interface
// the step executor consumes: a missing entry yields nil credentials,
// never an error.
type Manager struct {
	vault Vault
}

// NewManager wraps a vault.
func NewManager(v Vault) *Manager {
	return &Manager{vault: v}
}

func credentialKey(userID, provider string) string {
	return fmt.Sprintf("credentials/%s/%s", userID, provider)
}

// Credentials resolves and decrypts the stored credential map.
func (m *Manager) Credentials(ctx context.Context, userID, provider string) (map[string]any, error) {
	raw, err := m.vault.Resolve(ctx, credentialKey(userID, provider))
	if err != nil {
		var engErr *schema.EngineError
		if errors.As(err, &engErr) && engErr.Code == schema.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	var creds map[string]any
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "stored credentials are not a JSON object").WithCause(err)
	}
	return creds, nil
}

// SetCredentials encrypts and stores a credential map.
func (m *Manager) SetCredentials(ctx context.Context, userID, provider string, creds map[string]any) error {
	if userID == "" || provider == "" {
		return schema.NewError(schema.ErrCodeValidation, "user_id and provider are required")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return schema.NewError(schema.ErrCodeVault, "marshal credentials").WithCause(err)
	}
	return m.vault.Store(ctx, credentialKey(userID, provider), raw)
}

// DeleteCredentials removes a stored credential map.
func (m *Manager) DeleteCredentials(ctx context.Context, userID, provider string) error {
	return m.vault.Delete(ctx, credentialKey(userID, provider))
}
