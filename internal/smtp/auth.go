// Package smtp implements the SMTP sink the CMS delivers to. Every accepted
// message is parsed and handed to a provider.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	errBadEncoding = errors.New("invalid base64 encoding")
	errBadPlain    = errors.New("invalid AUTH PLAIN response")
	errBadCreds    = errors.New("authentication failed")
)

// Credentials verifies SMTP AUTH against a single configured account.
type Credentials struct {
	username string
	password string
}

// NewCredentials creates Credentials. Leaving both values empty disables
// authentication.
func NewCredentials(username, password string) *Credentials {
	return &Credentials{username: username, password: password}
}

// Required reports whether clients must authenticate before MAIL.
func (c *Credentials) Required() bool {
	return c.username != "" && c.password != ""
}

// VerifyPlain checks a base64 AUTH PLAIN response: [authzid] NUL user NUL pass.
func (c *Credentials) VerifyPlain(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errBadEncoding
	}
	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return errBadPlain
	}
	return c.verify(parts[1], parts[2])
}

// VerifyLogin checks the base64 username and password of an AUTH LOGIN exchange.
func (c *Credentials) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return errBadEncoding
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return errBadEncoding
	}
	return c.verify(string(user), string(pass))
}

func (c *Credentials) verify(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.password)) == 1
	if !userOK || !passOK {
		return errBadCreds
	}
	return nil
}
