package blockmanager

// BlockInfo is the mutable metadata record the manager maintains for
// one block. StorageLevel and ClassTag are opaque to this package:
// they are carried exactly as supplied at creation and never
// inspected or compared.
//
// Direct field access is not thread-safe. Every field is only ever
// read or written while the owning BlockInfoManager's guard is held;
// handles returned to callers (by Get, Entries, or a successful lock
// call) are shared references into live manager state and must not be
// mutated by callers.
type BlockInfo struct {
	StorageLevel any
	ClassTag     any
	TellMaster   bool
	SizeBytes    int64

	readerCount int
	writerTask  TaskAttemptID
}

// ReaderCount returns the number of outstanding read locks on the
// block this info describes.
func (info *BlockInfo) ReaderCount() int {
	return info.readerCount
}

// WriterTask returns the task currently holding the write lock on the
// block this info describes, or NoWriter if there is none.
func (info *BlockInfo) WriterTask() TaskAttemptID {
	return info.writerTask
}

// checkInvariants re-asserts invariants (1)-(3): a block may not have
// a negative reader count, readers and a writer may never coexist, and
// a writer implies zero readers. It must be called after every mutation
// of readerCount or writerTask.
func (info *BlockInfo) checkInvariants() {
	if info.readerCount < 0 {
		invariantViolation("Reader count is negative (%d)", info.readerCount)
	}
	if info.readerCount > 0 && info.writerTask != NoWriter {
		invariantViolation("Block has %d readers while also being locked for writing by %s", info.readerCount, info.writerTask)
	}
}
