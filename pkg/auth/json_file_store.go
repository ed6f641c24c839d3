package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// dbcredsFile is the on-disk shape of a --dbcreds file
type dbcredsFile struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// LoadJSONFile reads a {"user": ..., "pass": ...} credentials file
func LoadJSONFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var raw dbcredsFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	creds := &Credentials{
		Profile:  path,
		User:     raw.User,
		Password: raw.Pass,
	}
	if info, err := os.Stat(path); err == nil {
		creds.LastModified = info.ModTime()
	}
	if !creds.IsValid() {
		return nil, fmt.Errorf("%w: %s needs both user and pass", ErrInvalidCredentials, path)
	}
	return creds, nil
}

// WriteJSONFile writes creds in the --dbcreds format with owner-only permissions
func WriteJSONFile(path string, creds *Credentials) error {
	if !creds.IsValid() {
		return ErrInvalidCredentials
	}

	content, err := json.MarshalIndent(dbcredsFile{User: creds.User, Pass: creds.Password}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, content, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	creds.LastModified = time.Now()
	return os.Rename(tempFile, path)
}
