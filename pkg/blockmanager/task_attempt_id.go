package blockmanager

import "strconv"

// TaskAttemptID identifies one execution attempt of a task. Real task
// attempt ids are non-negative; the two reserved negative values below
// must never be used by callers to identify an actual task.
type TaskAttemptID int64

const (
	// NoWriter is the writer task id stored on a BlockInfo that
	// currently has no writer.
	NoWriter TaskAttemptID = -1

	// NonTaskWriter is the task id used by threads that are not
	// running as part of any registered task attempt (the driver,
	// test setup, shutdown code). It is always registered.
	NonTaskWriter TaskAttemptID = -1024
)

// String renders reserved sentinels by name, and real attempt ids as
// plain integers, to keep log and error messages readable.
func (id TaskAttemptID) String() string {
	switch id {
	case NoWriter:
		return "NoWriter"
	case NonTaskWriter:
		return "NonTaskWriter"
	default:
		return strconv.FormatInt(int64(id), 10)
	}
}
