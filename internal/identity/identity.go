// Package identity describes who is calling: the closed set of requester
// kinds, the users table behind them, and the signed tokens that carry them.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the closed set of caller roles.
type Kind string

const (
	KindAdmin   Kind = "Admin"
	KindStaff   Kind = "Staff"
	KindDoctor  Kind = "Doctor"
	KindPatient Kind = "Patient"
	KindGuest   Kind = "Guest"
)

var ErrUnknownKind = errors.New("identity: unknown requester kind")

// ParseKind accepts any casing of a known kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindAdmin, KindStaff, KindDoctor, KindPatient, KindGuest} {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string { return string(k) }

// Privileged reports whether the kind may act on any visit.
func (k Kind) Privileged() bool {
	return k == KindAdmin || k == KindStaff
}

// Requester is the identity the core authorizes against. Guests have no ID;
// Verified is set once their email has been proven by a one-time code.
type Requester struct {
	Kind     Kind
	ID       uuid.UUID
	Email    string
	Verified bool
}

func (r Requester) IsGuest() bool { return r.Kind == KindGuest }

// Guest builds an unverified guest requester.
func Guest(email string) Requester {
	return Requester{Kind: KindGuest, Email: email}
}
