package offsync

import "context"

// FailureAction defines how a failed push should be handled.
type FailureAction int

const (
	// FailureRetry returns the item to pending.
	FailureRetry FailureAction = iota
	// FailureDead marks the item permanently failed immediately.
	FailureDead
)

// FailureClassifier decides whether a push failure is retryable.
// The attempts limit is applied independently of the classifier.
type FailureClassifier func(ctx context.Context, item OutboxItem, err error) FailureAction

func defaultFailureClassifier(_ context.Context, _ OutboxItem, err error) FailureAction {
	if IsPermanent(err) {
		return FailureDead
	}

	return FailureRetry
}
