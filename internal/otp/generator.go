package otp

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// Generator produces fresh 6-digit codes.
type Generator interface {
	Generate() (string, error)
}

// HOTPGenerator derives codes from a per-process random secret and a
// counter seeded from crypto/rand, so codes are unpredictable across restarts.
type HOTPGenerator struct {
	secret  string
	counter atomic.Uint64
}

func NewHOTPGenerator() (*HOTPGenerator, error) {
	key := make([]byte, 20)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("otp: read secret: %w", err)
	}
	seed := make([]byte, 8)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("otp: read counter seed: %w", err)
	}
	g := &HOTPGenerator{
		secret: base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key),
	}
	g.counter.Store(binary.BigEndian.Uint64(seed))
	return g, nil
}

func (g *HOTPGenerator) Generate() (string, error) {
	code, err := hotp.GenerateCodeCustom(g.secret, g.counter.Add(1), hotp.ValidateOpts{
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return code, nil
}
