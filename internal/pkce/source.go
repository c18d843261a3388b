package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/yogamat/auth-session/internal/serviceerr"
)

const MethodS256 = "S256"

const (
	verifierBytes  = 32 // 43 characters once encoded, the PKCE minimum
	stateBytes     = 32
	sessionIDBytes = 32
)

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// Source produces the random material of a login attempt. The zero value
// reads from crypto/rand.
type Source struct {
	Rand io.Reader
}

func (p Source) reader() io.Reader {
	if p.Rand == nil {
		return rand.Reader
	}

	return p.Rand
}

func (p Source) randString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.reader(), b); err != nil {
		return "", errors.Join(serviceerr.ErrEntropySourceFailure, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (p Source) PKCE() (PKCE, error) {
	verifier, err := p.randString(verifierBytes)
	if err != nil {
		return PKCE{}, err
	}

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

func (p Source) State() (string, error) {
	return p.randString(stateBytes)
}

func (p Source) SessionID() (string, error) {
	return p.randString(sessionIDBytes) // 256 bits
}

// Challenge derives the S256 code challenge of a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
