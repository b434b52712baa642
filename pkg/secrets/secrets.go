// pkg/secrets/secrets.go
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrNotFound is returned when the store holds no value for the name.
var ErrNotFound = errors.New("secret not found")

// Store is the contract the rest of the service uses to read secrets.
// The production deployment backs this with a vault; locally the env-backed
// implementation below is enough.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// envStore resolves vault-style secret names (kebab-case) against
// environment variables (SCREAMING_SNAKE).
type envStore struct{}

// NewEnvStore returns a Store reading from the process environment.
func NewEnvStore() Store { return envStore{} }

func (envStore) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// staticStore serves a fixed map. Used in tests and for seeding dev setups.
type staticStore map[string]string

func NewStaticStore(values map[string]string) Store {
	s := make(staticStore, len(values))
	for k, v := range values {
		s[k] = v
	}
	return s
}

func (s staticStore) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}
