package creds

import "errors"

// ErrEmptyCredential is returned when username or password is blank.
var ErrEmptyCredential = errors.New("username and password must not be empty")

// Credential is the operator login used against every array in a run. The
// secret lives in a single wipeable buffer that is never logged; callers must
// Wipe it once the run is over.
type Credential struct {
	Username string
	secret   []byte
}

func New(username, secret string) (*Credential, error) {
	if username == "" || secret == "" {
		return nil, ErrEmptyCredential
	}
	return &Credential{Username: username, secret: []byte(secret)}, nil
}

// Secret exposes the live secret buffer for staging into a secret file. The
// slice contents are gone after Wipe.
func (c *Credential) Secret() []byte {
	return c.secret
}

// Wipe overwrites the secret buffer with zeros. Safe to call more than once.
func (c *Credential) Wipe() {
	for i := range c.secret {
		c.secret[i] = 0
	}
	c.secret = nil
}
