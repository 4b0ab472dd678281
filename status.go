package offsync

// Status represents the lifecycle state of an outbox item.
// A completed item has no status: it is deleted from the outbox.
type Status string

const (
	// StatusPending indicates the item is waiting to be pushed.
	StatusPending Status = "pending"
	// StatusInProgress indicates the item is part of a push in flight.
	StatusInProgress Status = "in_progress"
	// StatusFailed indicates the item exhausted its attempts and is kept for diagnostics.
	StatusFailed Status = "failed"
)

// Operation is the kind of mutation an outbox item or remote change carries.
type Operation string

const (
	// OpInsert creates a row.
	OpInsert Operation = "INSERT"
	// OpUpdate overwrites an existing row.
	OpUpdate Operation = "UPDATE"
	// OpDelete removes a row; it carries no row data.
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}

	return false
}

// CycleState is the phase a sync cycle is in.
type CycleState int32

const (
	// StateIdle indicates no cycle is running.
	StateIdle CycleState = iota
	// StateRecovering indicates in-flight items from a previous run are being reset.
	StateRecovering
	// StateDraining indicates pending items are being read and prepared.
	StateDraining
	// StatePushing indicates a push request is in flight.
	StatePushing
	// StateApplying indicates remote changes are being written locally.
	StateApplying
)

// String returns the lower-case state name.
func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecovering:
		return "recovering"
	case StateDraining:
		return "draining"
	case StatePushing:
		return "pushing"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}
