// Package credentials stores relief's secrets in ~/.relief/credentials.yaml.
//
// Secret fields are sealed with AES-256-GCM. The key comes from a
// KeyProvider: RELIEF_ENCRYPTION_KEY (64 hex characters) when set,
// otherwise the system keyring, or a passphrase on hosts without one.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".relief"
	DefaultCredentialsFile = "credentials.yaml"

	// ConfigDirEnv overrides the credentials directory.
	ConfigDirEnv = "RELIEF_CONFIG_DIR"
	// ClassifierAPIKeyEnv overrides the stored classifier API key.
	ClassifierAPIKeyEnv = "RELIEF_CLASSIFIER_API_KEY"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrEncryptionFailed is returned when encryption or decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds relief's secrets. Every string field except
// LastUpdated is encrypted at rest.
type Credentials struct {
	// ClassifierAPIKey is the bearer token for the remote classifier.
	ClassifierAPIKey string `yaml:"classifier_api_key,omitempty"`
	// DatabasePassword overrides database.password from config.
	DatabasePassword string `yaml:"database_password,omitempty"`
	// RedisPassword overrides redis.password from config.
	RedisPassword string `yaml:"redis_password,omitempty"`
	// LastUpdated is when the credentials were last saved.
	LastUpdated time.Time `yaml:"last_updated"`
}

// IsEmpty reports whether no secret is set.
func (c *Credentials) IsEmpty() bool {
	return c.ClassifierAPIKey == "" && c.DatabasePassword == "" && c.RedisPassword == ""
}

// secrets returns pointers to the encrypted fields.
func (c *Credentials) secrets() map[string]*string {
	return map[string]*string{
		"classifier API key": &c.ClassifierAPIKey,
		"database password":  &c.DatabasePassword,
		"redis password":     &c.RedisPassword,
	}
}

// Store reads and writes the credentials file.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a store in the default directory using the default
// key provider.
func NewStore() (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(keyProvider)
}

// NewStoreWithKeyProvider creates a store in the default directory.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	return NewStoreInDir(dir, keyProvider)
}

// NewStoreInDir creates a store rooted at dir.
func NewStoreInDir(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// KeyDescription names where the encryption key lives.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// CredentialsDir returns $RELIEF_CONFIG_DIR, or ~/.relief.
func CredentialsDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Save encrypts and writes creds.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	stored := *creds
	stored.LastUpdated = time.Now().UTC()
	for name, field := range stored.secrets() {
		if *field == "" {
			continue
		}
		sealed, err := s.encrypt(*field)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", name, err)
		}
		*field = sealed
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and decrypts the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	for name, field := range creds.secrets() {
		if *field == "" {
			continue
		}
		plain, err := s.decrypt(*field)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", name, err)
		}
		*field = plain
	}
	return &creds, nil
}

// Update loads the stored credentials, applies fn and saves the result.
// A missing file starts from empty credentials.
func (s *Store) Update(fn func(*Credentials)) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds = &Credentials{}
	} else if err != nil {
		return err
	}
	fn(creds)
	return s.Save(creds)
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists reports whether the credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// ClassifierAPIKey returns RELIEF_CLASSIFIER_API_KEY when set, otherwise
// the stored key.
func (s *Store) ClassifierAPIKey() (string, error) {
	if key := os.Getenv(ClassifierAPIKeyEnv); key != "" {
		return key, nil
	}
	creds, err := s.Load()
	if err != nil {
		return "", err
	}
	if creds.ClassifierAPIKey == "" {
		return "", ErrNoCredentials
	}
	return creds.ClassifierAPIKey, nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// encrypt seals plaintext as base64(nonce || ciphertext).
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskSecret returns secret with only its first and last four characters
// visible.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
