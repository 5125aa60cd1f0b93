package auth

import (
	"sync"
	"time"
)

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	tokens map[string]string
	mu     sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	DeleteError   error
}

// NewMockStore creates a new mock credential store
func NewMockStore() *MockStore {
	return &MockStore{tokens: make(map[string]string)}
}

func (m *MockStore) Name() string { return "mock" }

func (m *MockStore) Store(account, token string) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == "" || token == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[account] = token
	return nil
}

func (m *MockStore) Retrieve(account string) (*Credential, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[account]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &Credential{Account: account, Token: token, Source: "mock", LastModified: time.Now()}, nil
}

func (m *MockStore) Delete(account string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[account]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.tokens, account)
	return nil
}

// Count returns the number of stored tokens
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
