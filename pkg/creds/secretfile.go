package creds

import (
	"errors"
	"fmt"
	"os"
)

// SecretFile hands the secret to a single worker invocation: a temp file
// readable only by the owner, holding nothing but the secret. Destroy
// overwrites it before unlinking so the secret never outlives the invocation
// on disk.
type SecretFile struct {
	path string
	size int
	gone bool
}

func NewSecretFile(secret []byte) (*SecretFile, error) {
	f, err := os.CreateTemp("", "unity-backup-secret-*")
	if err != nil {
		return nil, fmt.Errorf("creating secret file: %w", err)
	}
	if _, err := f.Write(secret); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing secret file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("closing secret file: %w", err)
	}
	return &SecretFile{path: f.Name(), size: len(secret)}, nil
}

func (s *SecretFile) Path() string {
	return s.path
}

// Destroy shreds and removes the file. Calling it again after it succeeded is
// a no-op, and a file already gone from disk counts as destroyed.
func (s *SecretFile) Destroy() error {
	if s.gone {
		return nil
	}
	if f, err := os.OpenFile(s.path, os.O_WRONLY, 0); err == nil {
		f.Write(make([]byte, s.size))
		f.Sync()
		f.Close()
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing secret file: %w", err)
	}
	s.gone = true
	return nil
}
