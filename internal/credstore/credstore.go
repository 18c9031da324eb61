package credstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrNotFound means no credential is configured for the source.
	ErrNotFound = errors.New("credential not found")
	// ErrCorrupted means the container or key cannot be decrypted or decoded.
	// Callers must treat this differently from ErrNotFound: the store needs
	// operator intervention, not just a missing entry.
	ErrCorrupted = errors.New("credential container corrupted")
)

// Credential is one portal login secret. Never logged or persisted in plaintext.
type Credential struct {
	Source   string            `json:"source"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Store keeps every source's credential in a single encrypted container
// file. The whole container is decrypted, merged and re-encrypted on every
// write; writes replace the file atomically.
type Store struct {
	mu       sync.Mutex
	path     string
	keyPath  string
	key      []byte
	decCache *expirable.LRU[string, Credential]
}

// New opens the store at path, creating the key file if absent. Key-file
// lifecycle is explicit: generation and permission restriction happen here
// and any failure is returned, never deferred to first use.
func New(path, keyPath string) (*Store, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:     path,
		keyPath:  keyPath,
		key:      key,
		decCache: expirable.NewLRU[string, Credential](64, nil, 30*time.Second),
	}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if len(b) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: key file has wrong length", ErrCorrupted)
		}
		return b, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

// Save encrypts and persists the credential for source, overwriting any
// previous entry for the same source.
func (s *Store) Save(source, username, password string, extra map[string]string) error {
	if source == "" || username == "" || password == "" {
		return fmt.Errorf("source, username and password are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readContainer()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if creds == nil {
		creds = make(map[string]Credential)
	}
	creds[source] = Credential{Source: source, Username: username, Password: password, Extra: extra}
	if err := s.writeContainer(creds); err != nil {
		return err
	}
	s.decCache.Remove(source)
	return nil
}

// Get returns the credential for source. Entries missing a username or
// password fail closed with ErrNotFound.
func (s *Store) Get(source string) (Credential, error) {
	if c, ok := s.decCache.Get(source); ok {
		return c, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readContainer()
	if err != nil {
		return Credential{}, err
	}
	c, ok := creds[source]
	if !ok || c.Username == "" || c.Password == "" {
		return Credential{}, ErrNotFound
	}
	c.Source = source
	s.decCache.Add(source, c)
	return c, nil
}

// Delete removes the credential for source.
func (s *Store) Delete(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readContainer()
	if err != nil {
		return err
	}
	if _, ok := creds[source]; !ok {
		return ErrNotFound
	}
	delete(creds, source)
	if err := s.writeContainer(creds); err != nil {
		return err
	}
	s.decCache.Remove(source)
	return nil
}

// Sources lists every source that has a stored credential.
func (s *Store) Sources() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.readContainer()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(creds))
	for name := range creds {
		out = append(out, name)
	}
	return out, nil
}

func (s *Store) readContainer() (map[string]Credential, error) {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: container too short", ErrCorrupted)
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var creds map[string]Credential
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return creds, nil
}

// writeContainer seals the full credential map and replaces the container
// file with a write-then-rename so readers never observe a partial write.
func (s *Store) writeContainer(creds map[string]Credential) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode container: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	blob := append(nonce, aead.Seal(nil, nonce, plain, nil)...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace container: %w", err)
	}
	return nil
}
