package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownKey is returned when a key id is not configured or the secret
// does not match its stored hash.
var ErrUnknownKey = errors.New("unknown or invalid api key")

// APIKey is one configured producer credential. Only the bcrypt hash of the
// secret ever appears in configuration; the cleartext lives with the producer.
type APIKey struct {
	KeyID      string   `mapstructure:"key_id"`
	SecretHash string   `mapstructure:"secret_hash"`
	Scopes     []string `mapstructure:"scopes"`
}

// Keyring verifies producer API keys against their configured bcrypt hashes.
type Keyring struct {
	keys map[string]APIKey
}

// NewKeyring creates a Keyring from configured keys.
func NewKeyring(keys []APIKey) *Keyring {
	m := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		m[k.KeyID] = k
	}
	return &Keyring{keys: m}
}

// Len returns the number of configured keys.
func (r *Keyring) Len() int { return len(r.keys) }

// Verify checks a key id and cleartext secret and returns the scopes granted
// to that key. bcrypt comparison is constant-time for matching cost factors.
func (r *Keyring) Verify(keyID, secret string) ([]string, error) {
	k, ok := r.keys[keyID]
	if !ok {
		// Burn a comparison anyway so unknown ids cost the same as bad secrets.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(secret))
		return nil, ErrUnknownKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)); err != nil {
		return nil, ErrUnknownKey
	}
	return k.Scopes, nil
}

// HashSecret bcrypt-hashes a cleartext secret for storage in configuration.
// Used by the CLI when provisioning producer keys.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
