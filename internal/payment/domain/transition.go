package domain

// transitions is the closed edge set of the payment state machine. Terminal
// states carry no outbound edges. The error and mismatch states are
// recoverable: the processor occasionally reports them and later resolves the
// transaction back to completed.
var transitions = map[Status][]Status{
	StatusNew:       {StatusPending, StatusExpired, StatusCancelled},
	StatusPending:   {StatusCompleted, StatusExpired, StatusCancelled, StatusError, StatusMismatch},
	StatusError:     {StatusPending, StatusCompleted},
	StatusMismatch:  {StatusCompleted},
	StatusCompleted: nil,
	StatusExpired:   nil,
	StatusCancelled: nil,
}

// ValidStatus reports whether s is a member of the closed status set.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decision is the transition guard's verdict for one incoming status report.
type Decision int

const (
	// DecisionCreate: first sighting of the transaction; create the record
	// in the incoming status.
	DecisionCreate Decision = iota
	// DecisionApply: a valid, new transition; run the reconciliation
	// transaction.
	DecisionApply
	// DecisionDuplicate: redelivery of an already-applied status; refresh
	// the raw payload at most, mutate nothing else.
	DecisionDuplicate
	// DecisionReject: out-of-order or impossible transition; acknowledge
	// without mutation.
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionApply:
		return "apply"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decide implements the transition guard's decision procedure. existing is
// nil when no record for the transaction has been persisted yet.
func Decide(existing *Status, incoming Status) Decision {
	if !ValidStatus(incoming) {
		return DecisionReject
	}
	if existing == nil {
		return DecisionCreate
	}
	if *existing == incoming {
		return DecisionDuplicate
	}
	if existing.IsTerminal() {
		return DecisionReject
	}
	if !CanTransition(*existing, incoming) {
		return DecisionReject
	}
	return DecisionApply
}
