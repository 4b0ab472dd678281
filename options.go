package offsync

import "time"

const (
	defaultBatchSize    = 50
	defaultMaxAttempts  = 5
	defaultMaxBatches   = 20
	defaultPollInterval = 30 * time.Second
	defaultBackoffMin   = time.Second
	defaultBackoffMax   = time.Minute
)

// EngineConfig defines how the Engine drains, pushes and schedules cycles.
type EngineConfig struct {
	// BatchSize is the number of outbox items pushed per request.
	BatchSize int
	// MaxAttempts is the number of push attempts after which an item fails permanently.
	MaxAttempts int
	// MaxBatches bounds the number of push requests in one cycle.
	MaxBatches int
	// PollInterval is the delay between cycles when Run is not triggered.
	PollInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// UserID selects the outbox backup replayed on the first cycle.
	UserID string
	// SourceID identifies this client to the server. Loaded from the state
	// table when empty.
	SourceID          string
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaultMaxBatches
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = defaultBackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = defaultBackoffMax
		if c.BackoffMax < c.BackoffMin {
			c.BackoffMax = c.BackoffMin
		}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}

	return c
}

// EngineOption configures Engine behavior.
type EngineOption func(*EngineConfig)

// WithBatchSize sets the number of items pushed per request.
func WithBatchSize(size int) EngineOption {
	return func(c *EngineConfig) {
		c.BatchSize = size
	}
}

// WithMaxAttempts sets the attempt limit before an item fails permanently.
func WithMaxAttempts(attempts int) EngineOption {
	return func(c *EngineConfig) {
		c.MaxAttempts = attempts
	}
}

// WithMaxBatches bounds the push requests of a single cycle.
func WithMaxBatches(batches int) EngineOption {
	return func(c *EngineConfig) {
		c.MaxBatches = batches
	}
}

// WithPollInterval sets the delay between untriggered cycles in Run.
func WithPollInterval(interval time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.PollInterval = interval
	}
}

// WithBackoff sets the delay range used after failed cycles.
func WithBackoff(min, max time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.BackoffMin = min
		c.BackoffMax = max
	}
}

// WithUserID sets the user whose outbox backup is replayed at startup.
func WithUserID(userID string) EngineOption {
	return func(c *EngineConfig) {
		c.UserID = userID
	}
}

// WithSourceID sets the client identity sent with every push.
func WithSourceID(sourceID string) EngineOption {
	return func(c *EngineConfig) {
		c.SourceID = sourceID
	}
}

// WithClock sets the engine clock.
func WithClock(clock Clock) EngineOption {
	return func(c *EngineConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) EngineOption {
	return func(c *EngineConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(metrics Metrics) EngineOption {
	return func(c *EngineConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier sets the classifier for retry/permanent decisions.
func WithFailureClassifier(classifier FailureClassifier) EngineOption {
	return func(c *EngineConfig) {
		c.FailureClassifier = classifier
	}
}
