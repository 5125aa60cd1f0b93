package auth

import (
	"os"
	"time"
)

// TokenEnvVars are checked in order.
var TokenEnvVars = []string{"DOCHARVEST_GITHUB_TOKEN", "GITHUB_TOKEN"}

// EnvironmentStore reads the token from environment variables. It is read-only.
type EnvironmentStore struct {
	vars []string
}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore(vars ...string) *EnvironmentStore {
	if len(vars) == 0 {
		vars = TokenEnvVars
	}
	return &EnvironmentStore{vars: vars}
}

func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account, token string) error {
	return ErrStoreUnavailable
}

// Retrieve returns the first non-empty variable. The account is ignored.
func (e *EnvironmentStore) Retrieve(account string) (*Credential, error) {
	for _, key := range e.vars {
		if token := os.Getenv(key); token != "" {
			return &Credential{
				Account:      account,
				Token:        token,
				Source:       "env:" + key,
				LastModified: time.Now(),
			}, nil
		}
	}
	return nil, ErrCredentialsNotFound
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(account string) error {
	return ErrStoreUnavailable
}
