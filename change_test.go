package offsync

import (
	"context"
	"errors"
	"testing"
)

func TestRemoteChangeValidate(t *testing.T) {
	cases := []struct {
		name   string
		change RemoteChange
		err    error
	}{
		{
			name:   "missing table",
			change: RemoteChange{RowID: "1", Operation: OpDelete},
			err:    ErrChangeTableRequired,
		},
		{
			name:   "missing row id",
			change: RemoteChange{Table: "tasks", Operation: OpDelete},
			err:    ErrChangeRowIDRequired,
		},
		{
			name:   "unknown operation",
			change: RemoteChange{Table: "tasks", RowID: "1", Operation: "MERGE"},
			err:    ErrChangeOperationInvalid,
		},
		{
			name:   "insert without row",
			change: RemoteChange{Table: "tasks", RowID: "1", Operation: OpInsert},
			err:    ErrChangeRowRequired,
		},
		{
			name:   "delete without row",
			change: RemoteChange{Table: "tasks", RowID: "1", Operation: OpDelete},
			err:    nil,
		},
		{
			name:   "update",
			change: RemoteChange{Table: "tasks", RowID: "1", Operation: OpUpdate, Row: Row{"id": "1"}},
			err:    nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.change.Validate()
			if tc.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.err != nil && err != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestDefaultFailureClassifier(t *testing.T) {
	ctx := context.Background()
	if got := defaultFailureClassifier(ctx, OutboxItem{}, errors.New("timeout")); got != FailureRetry {
		t.Fatalf("expected retry for plain errors, got %v", got)
	}
	if got := defaultFailureClassifier(ctx, OutboxItem{}, Permanent(errors.New("bad request"))); got != FailureDead {
		t.Fatalf("expected dead for permanent errors, got %v", got)
	}
	if Permanent(nil) != nil {
		t.Fatalf("expected Permanent(nil) to be nil")
	}
}

func TestStatsFromTallyRejectsGarbage(t *testing.T) {
	if _, err := statsFromTally(Row{"pending": "many"}); err == nil {
		t.Fatalf("expected error for non-numeric count")
	}
	stats, err := statsFromTally(Row{"pending": []byte("4"), "total": 4.0})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 4 || stats.Total != 4 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEngineConfigDefaults(t *testing.T) {
	cfg := EngineConfig{BackoffMin: 2 * defaultBackoffMax}.withDefaults()
	if cfg.BatchSize != defaultBatchSize || cfg.MaxAttempts != defaultMaxAttempts || cfg.MaxBatches != defaultMaxBatches {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.BackoffMax != cfg.BackoffMin {
		t.Fatalf("expected backoff max raised to min, got %v < %v", cfg.BackoffMax, cfg.BackoffMin)
	}
}
