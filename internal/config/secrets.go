package config

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
)

const (
	tokenLength  = 32
	tokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// SecretsLoadStatus indicates how secrets were loaded.
type SecretsLoadStatus int

const (
	// SecretsLoaded means secrets were successfully loaded from file.
	SecretsLoaded SecretsLoadStatus = iota
	// SecretsMissing means the secrets file doesn't exist (safe to create).
	SecretsMissing
	// SecretsFallback means there was an error reading/parsing (unsafe to overwrite).
	SecretsFallback
)

// Secret is a string type that masks its value when printed or logged.
// Use Value() to get the actual string value.
type Secret string

// String returns a masked value for logging safety.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString returns a masked value for %#v formatting.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Value returns the actual secret value.
// Use this only when the actual value is needed (e.g., HTTP headers, API calls).
func (s Secret) Value() string {
	return string(s)
}

// IsEmpty returns true if the secret is empty.
func (s Secret) IsEmpty() bool {
	return s == ""
}

// Secrets holds sensitive application configuration.
// WARNING: Do not log this struct directly as json.Marshal will expose values.
type Secrets struct {
	SchemaVersion   int    `json:"schema_version"`
	AuditWebhookURL Secret `json:"audit_webhook_url"`
	APIToken        Secret `json:"api_token"`
}

// DefaultSecrets returns a Secrets with empty values.
func DefaultSecrets() Secrets {
	return Secrets{
		SchemaVersion:   CurrentSchemaVersion,
		AuditWebhookURL: "",
		APIToken:        "",
	}
}

// LoadSecrets reads secrets from disk. Returns the secrets, load status, and any error.
// Status indicates whether it's safe to overwrite the secrets file.
func LoadSecrets() (Secrets, SecretsLoadStatus, error) {
	path, err := SecretsPath()
	if err != nil {
		return DefaultSecrets(), SecretsFallback, err
	}

	return LoadSecretsFrom(path)
}

// LoadSecretsFrom reads secrets from the specified path.
// Returns status to indicate whether it's safe to overwrite the file.
func LoadSecretsFrom(path string) (Secrets, SecretsLoadStatus, error) {
	sec := DefaultSecrets()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, safe to create
			return sec, SecretsMissing, nil
		}
		log.Printf("Warning: failed to read secrets file: %v, using defaults", err)
		return sec, SecretsFallback, fmt.Errorf("read secrets: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&sec); err != nil {
		log.Printf("Warning: secrets file is corrupt: %v, using defaults", err)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("decode secrets: %w", err)
	}

	if sec.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: secrets schema version mismatch (got %d, expected %d), using defaults",
			sec.SchemaVersion, CurrentSchemaVersion)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("schema mismatch: got %d", sec.SchemaVersion)
	}

	return sec, SecretsLoaded, nil
}

// SaveSecrets writes secrets to disk atomically.
func SaveSecrets(sec Secrets) error {
	path, err := SecretsPath()
	if err != nil {
		return err
	}

	return SaveSecretsTo(sec, path)
}

// SaveSecretsTo writes secrets to the specified path atomically.
func SaveSecretsTo(sec Secrets, path string) error {
	sec.SchemaVersion = CurrentSchemaVersion

	data, err := json.MarshalIndent(sec, "", "  ")
	if err != nil {
		return err
	}
	return writeBytesAtomic(path, append(data, '\n'))
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("generate token: length must be positive")
	}
	b := make([]byte, length)
	charsetLen := big.NewInt(int64(len(tokenCharset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b[i] = tokenCharset[idx.Int64()]
	}
	return string(b), nil
}

// EnsureAPIToken ensures an API bearer token exists.
// Returns (updated bool, generatedToken string, error). If a token was
// generated, generatedToken contains the plaintext for one-time display.
func EnsureAPIToken(s *Secrets) (updated bool, generatedToken string, err error) {
	if !s.APIToken.IsEmpty() {
		return false, "", nil
	}

	token, err := GenerateToken(tokenLength)
	if err != nil {
		return false, "", err
	}
	s.APIToken = Secret(token)
	return true, token, nil
}
