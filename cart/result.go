package cart

import "fmt"

// Phase is what the storage worker is doing.
type Phase int

const (
	Idle Phase = iota
	Reconciling
	Persisting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Reconciling:
		return "reconciling"
	case Persisting:
		return "persisting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Op int

const (
	OpNone Op = iota
	OpPersist
	OpClear
	OpReconcile
)

func (o Op) String() string {
	switch o {
	case OpPersist:
		return "persist"
	case OpClear:
		return "clear"
	case OpReconcile:
		return "reconcile"
	default:
		return "none"
	}
}

// Target is the backend a write landed in.
type Target int

const (
	TargetNone Target = iota
	TargetLocal
	TargetRemote
)

func (t Target) String() string {
	switch t {
	case TargetLocal:
		return "local"
	case TargetRemote:
		return "remote"
	default:
		return "none"
	}
}

// Result describes the outcome of one storage step. Mutations never fail
// because of storage; callers that care (for a retry affordance, say) read
// results from Flush, Reconcile or a result hook.
type Result struct {
	Op        Op
	Target    Target
	AccountID string
	Items     int
	// FellBack is set when a remote write failed and the cart went to
	// device-local storage instead.
	FellBack bool
	// Skipped is set when nothing was done, e.g. a duplicate reconciliation.
	Skipped bool
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }
