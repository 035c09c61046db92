package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

var (
	ErrSecretNotFound  = errors.New("secret not found")
	ErrNoVaultPassword = errors.New("file keyring needs a password")
)

// SecretVault stores credentials outside the plain key-value store.
type SecretVault interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// VaultConfig selects the keyring backend. Backend "" lets keyring pick.
// The encrypted file backend is only offered when FilePassword is set.
type VaultConfig struct {
	ServiceName  string
	Backend      string
	FileDir      string
	FilePassword string
}

// KeyringVault keeps secrets in the OS keyring.
type KeyringVault struct {
	ring keyring.Keyring
}

// OpenKeyring opens the configured keyring.
func OpenKeyring(cfg VaultConfig) (*KeyringVault, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lessonbell"
	}
	if cfg.FileDir == "" {
		cfg.FileDir = "~/.config/lessonbell/credentials"
	}
	backends, err := allowedBackends(cfg)
	if err != nil {
		return nil, err
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringVault{ring: ring}, nil
}

func allowedBackends(cfg VaultConfig) ([]keyring.BackendType, error) {
	if cfg.Backend != "" {
		if keyring.BackendType(cfg.Backend) == keyring.FileBackend && cfg.FilePassword == "" {
			return nil, fmt.Errorf("opening keyring: %w", ErrNoVaultPassword)
		}
		return []keyring.BackendType{keyring.BackendType(cfg.Backend)}, nil
	}
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
	}
	if cfg.FilePassword != "" {
		backends = append(backends, keyring.FileBackend)
	}
	return backends, nil
}

// NewKeyringVault wraps an already opened keyring.
func NewKeyringVault(ring keyring.Keyring) *KeyringVault { return &KeyringVault{ring: ring} }

func (v *KeyringVault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (v *KeyringVault) Set(key, value string) error {
	if err := v.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. A missing key is not an error.
func (v *KeyringVault) Remove(key string) error {
	err := v.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// MemoryVault is an in-process vault for tests and keyring-less hosts.
type MemoryVault struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryVault() *MemoryVault { return &MemoryVault{m: map[string]string{}} }

func (v *MemoryVault) Get(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.m[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return s, nil
}

func (v *MemoryVault) Set(key, value string) error {
	v.mu.Lock()
	v.m[key] = value
	v.mu.Unlock()
	return nil
}

func (v *MemoryVault) Remove(key string) error {
	v.mu.Lock()
	delete(v.m, key)
	v.mu.Unlock()
	return nil
}
