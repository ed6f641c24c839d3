package auth

import (
	"errors"
	"fmt"
)

// Source names where resolved credentials came from
type Source string

const (
	SourceFlags   Source = "flags"
	SourceFile    Source = "dbcreds"
	SourceManager Source = "store"
	SourceNone    Source = "none"
)

// Request carries the inputs for credential resolution
type Request struct {
	// Explicit values from --sqluser/--sqlpass
	User     string
	Password string
	// File is a --dbcreds path
	File    string
	Profile string
}

// Resolve picks credentials in order: explicit values, the dbcreds file,
// then the manager's stores. A nil manager skips the last step. It returns
// nil credentials with SourceNone when nothing is found.
func Resolve(req Request, manager *Manager) (*Credentials, Source, error) {
	if req.User != "" || req.Password != "" {
		creds := &Credentials{Profile: req.Profile, User: req.User, Password: req.Password}
		if !creds.IsValid() {
			return nil, SourceFlags, fmt.Errorf("%w: both user and password must be given", ErrInvalidCredentials)
		}
		return creds, SourceFlags, nil
	}

	if req.File != "" {
		creds, err := LoadJSONFile(req.File)
		if err != nil {
			return nil, SourceFile, err
		}
		return creds, SourceFile, nil
	}

	if manager != nil {
		creds, err := manager.Retrieve(req.Profile)
		if err == nil {
			return creds, SourceManager, nil
		}
		if !errors.Is(err, ErrCredentialsNotFound) {
			return nil, SourceManager, err
		}
	}

	return nil, SourceNone, nil
}
