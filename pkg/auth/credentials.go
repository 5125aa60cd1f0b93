package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultAccount is the keyring account used when none is given.
const DefaultAccount = "github"

// Credential is a GitHub API token and where it came from.
type Credential struct {
	Account      string    `json:"account"`
	Token        string    `json:"token"`
	Source       string    `json:"source"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving tokens
type CredentialStore interface {
	// Name identifies the store in status output
	Name() string

	// Store saves the token for an account
	Store(account, token string) error

	// Retrieve gets the token for an account
	Retrieve(account string) (*Credential, error)

	// Delete removes the token for an account
	Delete(account string) error
}

// Manager looks tokens up across stores in order
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager that checks the environment first and the
// system keychain second. The keychain is skipped when unavailable.
func NewManager() *Manager {
	stores := []CredentialStore{NewEnvironmentStore()}
	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}
	return &Manager{stores: stores}
}

// NewManagerWithStores creates a manager over explicit stores.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Stores returns the configured store names in lookup order.
func (m *Manager) Stores() []string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name()
	}
	return names
}

// Store saves the token using the first store that accepts writes
func (m *Manager) Store(account, token string) error {
	if account == "" {
		account = DefaultAccount
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidCredentials
	}

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account, token)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve returns the token from the first store that has one
func (m *Manager) Retrieve(account string) (*Credential, error) {
	if account == "" {
		account = DefaultAccount
	}
	for _, store := range m.stores {
		if cred, err := store.Retrieve(account); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, ErrCredentialsNotFound
}

// Token resolves a token for the default account. A missing token is not an
// error: the API client then runs unauthenticated.
func (m *Manager) Token() string {
	cred, err := m.Retrieve(DefaultAccount)
	if err != nil {
		return ""
	}
	return cred.Token
}

// Delete removes the token from every store that holds one
func (m *Manager) Delete(account string) error {
	if account == "" {
		account = DefaultAccount
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(account)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	return ErrCredentialsNotFound
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
