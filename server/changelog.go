package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/velmie/offsync"
)

const (
	colSeq       = "seq"
	colTable     = "table_name"
	colRowID     = "row_id"
	colOperation = "operation"
	colRowData   = "row_data"
	colSource    = "source_id"
	colCreatedAt = "created_at"
)

// Entry is one accepted change in the log.
type Entry struct {
	Seq       int64
	Table     string
	RowID     string
	Operation offsync.Operation
	Row       offsync.Row
	SourceID  string
	CreatedAt time.Time
}

func (e Entry) toRow() (offsync.Row, error) {
	row := offsync.Row{
		colSeq:       e.Seq,
		colTable:     e.Table,
		colRowID:     e.RowID,
		colOperation: string(e.Operation),
		colRowData:   nil,
		colSource:    e.SourceID,
		colCreatedAt: e.CreatedAt.UTC(),
	}
	if e.Row != nil {
		raw, err := json.Marshal(e.Row)
		if err != nil {
			return nil, fmt.Errorf("offsync server: encode row %s/%s: %w", e.Table, e.RowID, err)
		}
		row[colRowData] = string(raw)
	}

	return row, nil
}

func entryFromRow(row offsync.Row) (Entry, error) {
	seq, err := offsync.AsInt(row[colSeq])
	if err != nil {
		return Entry{}, fmt.Errorf("offsync server: changelog seq: %w", err)
	}
	e := Entry{
		Seq:       int64(seq),
		Table:     offsync.AsString(row[colTable]),
		RowID:     offsync.AsString(row[colRowID]),
		Operation: offsync.Operation(offsync.AsString(row[colOperation])),
		SourceID:  offsync.AsString(row[colSource]),
	}
	if v := row[colCreatedAt]; v != nil {
		if e.CreatedAt, err = offsync.AsTime(v); err != nil {
			return Entry{}, fmt.Errorf("offsync server: changelog %d created_at: %w", e.Seq, err)
		}
	}
	if v := row[colRowData]; v != nil {
		dec := json.NewDecoder(bytes.NewReader([]byte(offsync.AsString(v))))
		dec.UseNumber()
		if err := dec.Decode(&e.Row); err != nil {
			return Entry{}, fmt.Errorf("offsync server: changelog %d row: %w", e.Seq, err)
		}
	}

	return e, nil
}

func (e Entry) remoteChange() offsync.RemoteChange {
	return offsync.RemoteChange{
		Table:     e.Table,
		RowID:     e.RowID,
		Operation: e.Operation,
		Row:       e.Row,
		Seq:       e.Seq,
	}
}
