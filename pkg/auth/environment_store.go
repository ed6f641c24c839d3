package auth

import (
	"os"
	"time"
)

const (
	EnvUser     = "CLOUD_SQL_USER"
	EnvPassword = "CLOUD_SQL_PASSWORD"
)

// EnvironmentStore reads CLOUD_SQL_USER and CLOUD_SQL_PASSWORD. It is
// read-only and answers for any profile.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(profile string) (*Credentials, error) {
	user := os.Getenv(EnvUser)
	password := os.Getenv(EnvPassword)
	if user == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}

	if profile == "" {
		profile = "env"
	}

	return &Credentials{
		Profile:  profile,
		User:     user,
		Password: password,
	}, nil
}

// List returns a single entry if the variables are set
func (e *EnvironmentStore) List() ([]*Credentials, error) {
	creds, err := e.Retrieve("")
	if err != nil {
		return []*Credentials{}, nil
	}
	creds.LastModified = time.Time{}
	return []*Credentials{creds}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(EnvUser) != "" && os.Getenv(EnvPassword) != ""
}
