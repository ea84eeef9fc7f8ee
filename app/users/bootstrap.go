package users

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/wirecutter/app/store"
)

// bootstrapFile is the yaml layout of the users file
type bootstrapFile struct {
	Users []Registration `yaml:"users"`
}

// LoadFile reads user registrations from a yaml file
func LoadFile(path string) ([]Registration, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read users file %s: %w", path, err)
	}
	var bf bootstrapFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to parse users file %s: %w", path, err)
	}
	return bf.Users, nil
}

// Bootstrap registers all users, skipping those already present. Returns the number of new users.
func (s *Store) Bootstrap(ctx context.Context, regs []Registration) (int, error) {
	added := 0
	for _, r := range regs {
		err := s.Register(ctx, r)
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Printf("[DEBUG] user %q already registered, skipped", r.Username)
			continue
		}
		if err != nil {
			return added, fmt.Errorf("failed to bootstrap user %q: %w", r.Username, err)
		}
		added++
	}
	return added, nil
}
