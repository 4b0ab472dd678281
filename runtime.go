package offsync

// Engine bookkeeping tables.
const (
	DefaultOutboxTable = "_sync_outbox"
	DefaultStateTable  = "_sync_state"
	DefaultBackupTable = "_sync_outbox_backup"
)

// Runtime bundles the collaborators shared by the Queue, Applier and Engine.
// Build it once and pass it to the constructors; it is not mutated afterwards.
type Runtime struct {
	Registry *Registry
	Storage  Storage
	// Triggers toggles local change capture. Defaults to StateTriggers over Storage.
	Triggers TriggerController
	// State persists the pull cursor. Defaults to StorageState over Storage.
	State StateStore
	// Backups is optional; without it startup recovery is skipped.
	Backups BackupStore
	// OutboxTable defaults to DefaultOutboxTable.
	OutboxTable string
	Clock       Clock
	Logger      Logger
}

func (rt Runtime) withDefaults() Runtime {
	if rt.OutboxTable == "" {
		rt.OutboxTable = DefaultOutboxTable
	}
	if rt.Triggers == nil && rt.Storage != nil {
		rt.Triggers = StateTriggers{Storage: rt.Storage}
	}
	if rt.State == nil && rt.Storage != nil {
		rt.State = StorageState{Storage: rt.Storage}
	}
	if rt.Clock == nil {
		rt.Clock = SystemClock{}
	}
	if rt.Logger == nil {
		rt.Logger = NopLogger{}
	}

	return rt
}

func (rt Runtime) validate() error {
	if rt.Storage == nil {
		return ErrStorageRequired
	}
	if rt.Registry == nil {
		return ErrRegistryRequired
	}

	return nil
}
