package blockmanager

import "context"

type taskAttemptIDKey struct{}

// NewContextWithTaskAttemptID returns a copy of ctx carrying id as the
// ambient task attempt id. A task runner calls this once, before
// running a task attempt's user code, so that every BlockInfoManager
// call made from within that code observes the right owner.
func NewContextWithTaskAttemptID(ctx context.Context, id TaskAttemptID) context.Context {
	return context.WithValue(ctx, taskAttemptIDKey{}, id)
}

// TaskAttemptIDFromContext returns the task attempt id attached to ctx
// by NewContextWithTaskAttemptID, or NonTaskWriter if none is attached.
func TaskAttemptIDFromContext(ctx context.Context) TaskAttemptID {
	if id, ok := ctx.Value(taskAttemptIDKey{}).(TaskAttemptID); ok {
		return id
	}
	return NonTaskWriter
}
