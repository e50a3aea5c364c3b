// Package session tracks who is using the device: nobody yet, an anonymous
// shopper, or a signed-in account.
package session

import "fmt"

type Kind int

const (
	// Unresolved means the session has not been determined yet.
	Unresolved Kind = iota
	Anonymous
	Authenticated
)

func (k Kind) String() string {
	switch k {
	case Unresolved:
		return "unresolved"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the current session. AccountID is set only when Kind is Authenticated.
type State struct {
	Kind      Kind
	AccountID string
}

func UnresolvedState() State { return State{Kind: Unresolved} }

func AnonymousState() State { return State{Kind: Anonymous} }

func AuthenticatedState(accountID string) State {
	return State{Kind: Authenticated, AccountID: accountID}
}

func (s State) IsAuthenticated() bool { return s.Kind == Authenticated && s.AccountID != "" }

func (s State) String() string {
	if s.Kind == Authenticated {
		return "authenticated(" + s.AccountID + ")"
	}
	return s.Kind.String()
}
