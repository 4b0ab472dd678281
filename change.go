package offsync

import "time"

// RemoteChange is a mutation the server asks the client to apply.
type RemoteChange struct {
	// Table is the logical table name.
	Table string `json:"table"`
	// RowID is the encoded row key, see EncodeRowKey.
	RowID     string    `json:"rowId"`
	Operation Operation `json:"operation"`
	// Row carries the full row for INSERT and UPDATE.
	Row Row `json:"row,omitempty"`
	// Seq is the server change-log position, zero when not applicable.
	Seq int64 `json:"seq,omitempty"`
}

// Validate checks the required fields.
func (c RemoteChange) Validate() error {
	if c.Table == "" {
		return ErrChangeTableRequired
	}
	if c.RowID == "" {
		return ErrChangeRowIDRequired
	}
	if !c.Operation.Valid() {
		return ErrChangeOperationInvalid
	}
	if c.Operation != OpDelete && c.Row == nil {
		return ErrChangeRowRequired
	}

	return nil
}

// PushChange is one outbox item as sent to the server.
type PushChange struct {
	ItemID    string    `json:"itemId"`
	Table     string    `json:"table"`
	RowID     string    `json:"rowId"`
	Operation Operation `json:"operation"`
	// Row is the current local row; nil for DELETE.
	Row       Row       `json:"row,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
	Attempts  int       `json:"attempts"`
}

// ResultStatus is the server verdict for a pushed change.
type ResultStatus string

const (
	// ResultAccepted means the change was applied remotely.
	ResultAccepted ResultStatus = "accepted"
	// ResultConflict means the server kept its own version; Resolution says what to apply locally.
	ResultConflict ResultStatus = "conflict"
	// ResultRejected means the change can never succeed.
	ResultRejected ResultStatus = "rejected"
	// ResultRetry means the server could not process the change now.
	ResultRetry ResultStatus = "retry"
)

// PushResult is the outcome for one pushed change.
type PushResult struct {
	ItemID     string        `json:"itemId"`
	Status     ResultStatus  `json:"status"`
	Error      string        `json:"error,omitempty"`
	Resolution *RemoteChange `json:"resolution,omitempty"`
}

// PushRequest carries a batch of local changes and the client's pull cursor.
type PushRequest struct {
	SourceID string       `json:"sourceId"`
	UserID   string       `json:"userId,omitempty"`
	Cursor   int64        `json:"cursor"`
	Changes  []PushChange `json:"changes"`
}

// PushResponse carries per-change results and remote changes past the cursor.
type PushResponse struct {
	Results []PushResult   `json:"results"`
	Changes []RemoteChange `json:"changes,omitempty"`
	Cursor  int64          `json:"cursor"`
	// More reports that further remote changes are waiting past Cursor.
	More bool `json:"more,omitempty"`
}
