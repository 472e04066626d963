package blockmanager

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// invariantViolation panics with a status-carrying error. It must only
// be called for conditions that indicate a programming error: a
// negative reader count, readers and a writer coexisting on the same
// block, an over-release of a lock that was never held. All of these
// are fatal within the process; the manager's internal state cannot be
// trusted to be consistent afterwards.
func invariantViolation(format string, args ...interface{}) {
	panic(status.Errorf(codes.Internal, "Invariant violation: "+format, args...))
}

func notFoundError(blockID any) error {
	return status.Errorf(codes.NotFound, "Block %v not found", blockID)
}

func notOwnedError(blockID any, writerTask TaskAttemptID) error {
	return status.Errorf(codes.PermissionDenied, "Block %v is not locked for writing by the current task (held by %s)", blockID, writerTask)
}

func alreadyRegisteredError(task TaskAttemptID) error {
	return status.Errorf(codes.AlreadyExists, "Task %s is already registered", task)
}
