package blockmanager

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-blockmanager/pkg/clock"
	"github.com/buildbarn/bb-blockmanager/pkg/eviction"
	"github.com/buildbarn/bb-blockmanager/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Entry is a single row of a BlockInfoManager snapshot, as returned by
// Entries. The BlockInfo it carries is a live, shared reference: it
// may mutate after the snapshot is taken.
type Entry[BlockID comparable] struct {
	BlockID BlockID
	Info    *BlockInfo
}

// BlockInfoManager is the single serialization point for a block
// metadata table and its readers-writer lock protocol. BlockID may be
// any hashable, comparable type supplied by the caller; the manager
// never inspects or synthesizes BlockID values itself.
//
// All exported methods acquire the manager's internal guard for the
// duration of their execution. The only suspension point is the wait
// performed by LockForReading and LockForWriting when called with
// blocking set to true; no other blocking, I/O, or user callback may
// occur while the guard is held.
type BlockInfoManager[BlockID comparable] struct {
	mu   sync.Mutex
	cond *sync.Cond

	infos         map[BlockID]*BlockInfo
	readHoldings  map[TaskAttemptID]map[BlockID]int
	writeHoldings map[TaskAttemptID]map[BlockID]struct{}

	clock           clock.Clock
	lockWaitTimeout time.Duration
	evictionSet     eviction.Set[BlockID]
	errorLogger     util.ErrorLogger
	metrics         *blockInfoManagerMetrics
}

// NewBlockInfoManager creates an empty manager with NonTaskWriter
// already registered, as required by invariant 7.
//
// c is the clock used to time blocking lock waits; pass
// clock.SystemClock in production. lockWaitTimeout bounds each single
// wait for a notification inside a blocking lock call: if one wait
// lasts that long, the call gives up and returns absent. The timer
// restarts every time the call is woken and finds the lock still
// unavailable, so the total time a call blocks is not bounded by
// lockWaitTimeout. Zero means wait indefinitely, matching the base
// (untimed) contract.
// evictionSet is optional: when non-nil, the manager keeps it
// synchronized with which blocks are currently unpinned, so a caller
// can hand it directly to a cache replacement policy. errorLogger
// receives reports that cannot be returned to a caller, such as a
// blocking lock call that gave up after its wait timed out; pass
// util.DefaultErrorLogger if nothing more specific is available.
func NewBlockInfoManager[BlockID comparable](c clock.Clock, errorLogger util.ErrorLogger, evictionSet eviction.Set[BlockID], lockWaitTimeout time.Duration) *BlockInfoManager[BlockID] {
	m := &BlockInfoManager[BlockID]{
		infos:           map[BlockID]*BlockInfo{},
		readHoldings:    map[TaskAttemptID]map[BlockID]int{},
		writeHoldings:   map[TaskAttemptID]map[BlockID]struct{}{},
		clock:           c,
		lockWaitTimeout: lockWaitTimeout,
		evictionSet:     evictionSet,
		errorLogger:     errorLogger,
		metrics:         newBlockInfoManagerMetrics(),
	}
	m.cond = sync.NewCond(&m.mu)
	m.readHoldings[NonTaskWriter] = map[BlockID]int{}
	return m
}

func isUnpinned(info *BlockInfo) bool {
	return info.readerCount == 0 && info.writerTask == NoWriter
}

func (m *BlockInfoManager[BlockID]) trackPinned(blockID BlockID) {
	if m.evictionSet != nil {
		m.evictionSet.Delete(blockID)
	}
}

func (m *BlockInfoManager[BlockID]) trackUnpinned(blockID BlockID) {
	if m.evictionSet != nil {
		m.evictionSet.Insert(blockID)
	}
}

// waitLocked suspends the calling goroutine on the condition variable,
// releasing the guard atomically and reacquiring it before returning.
// It reports whether the caller should retry its predicate (true) or
// give up because the manager's lock wait timeout has elapsed (false).
// The guard must be held when calling this function, and is held again
// when it returns.
func (m *BlockInfoManager[BlockID]) waitLocked() bool {
	if m.lockWaitTimeout <= 0 {
		m.cond.Wait()
		return true
	}
	deadline := m.clock.Now().Add(m.lockWaitTimeout)
	timer, timerChannel := m.clock.NewTimer(m.lockWaitTimeout)
	done := make(chan struct{})
	go func() {
		select {
		case <-timerChannel:
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	m.cond.Wait()
	close(done)
	timer.Stop()
	return m.clock.Now().Before(deadline)
}

// RegisterTask installs task in the registry with empty read and write
// holdings, so that it may begin acquiring locks. It must be called
// exactly once per task attempt, before any lock call made on its
// behalf.
func (m *BlockInfoManager[BlockID]) RegisterTask(task TaskAttemptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.readHoldings[task]; ok {
		return alreadyRegisteredError(task)
	}
	m.readHoldings[task] = map[BlockID]int{}
	return nil
}

func (m *BlockInfoManager[BlockID]) currentReadHoldings(task TaskAttemptID) map[BlockID]int {
	holdings, ok := m.readHoldings[task]
	if !ok {
		holdings = map[BlockID]int{}
		m.readHoldings[task] = holdings
	}
	return holdings
}

func (m *BlockInfoManager[BlockID]) currentWriteHoldings(task TaskAttemptID) map[BlockID]struct{} {
	holdings, ok := m.writeHoldings[task]
	if !ok {
		holdings = map[BlockID]struct{}{}
		m.writeHoldings[task] = holdings
	}
	return holdings
}

// lockForReadingLocked implements the predicate-and-wait loop shared by
// LockForReading and the first step of LockNewBlockForWriting. The
// guard must already be held.
func (m *BlockInfoManager[BlockID]) lockForReadingLocked(blockID BlockID, task TaskAttemptID, blocking bool) (*BlockInfo, bool) {
	for {
		info, ok := m.infos[blockID]
		if !ok {
			return nil, false
		}
		if info.writerTask == NoWriter {
			if isUnpinned(info) {
				m.trackPinned(blockID)
			}
			info.readerCount++
			info.checkInvariants()
			m.currentReadHoldings(task)[blockID]++
			return info, true
		}
		if !blocking {
			return nil, false
		}
		if !m.waitLocked() {
			return nil, false
		}
	}
}

// lockForWritingLocked implements the predicate-and-wait loop shared by
// LockForWriting and the second step of LockNewBlockForWriting. The
// guard must already be held.
func (m *BlockInfoManager[BlockID]) lockForWritingLocked(blockID BlockID, task TaskAttemptID, blocking bool) (*BlockInfo, bool) {
	for {
		info, ok := m.infos[blockID]
		if !ok {
			return nil, false
		}
		if info.writerTask == NoWriter && info.readerCount == 0 {
			m.trackPinned(blockID)
			info.writerTask = task
			info.checkInvariants()
			m.currentWriteHoldings(task)[blockID] = struct{}{}
			return info, true
		}
		if !blocking {
			return nil, false
		}
		if !m.waitLocked() {
			return nil, false
		}
	}
}

// LockForReading acquires a read lock on blockID on behalf of the task
// attempt attached to ctx. It returns the block's info and true on
// success. It returns nil and false if the block does not exist, or if
// blocking is false and a writer currently holds the block. If
// blocking is true and a writer holds the block, the call suspends
// until the block becomes readable or a single wait reaches the
// manager's lock wait timeout (if any; see NewBlockInfoManager).
//
// A task may call LockForReading on the same block multiple times;
// each call increases the block's reader count and the task's read
// multiplicity for that block by one.
func (m *BlockInfoManager[BlockID]) LockForReading(ctx context.Context, blockID BlockID, blocking bool) (*BlockInfo, bool) {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock.Now()
	info, ok := m.lockForReadingLocked(blockID, task, blocking)
	if blocking {
		waited := m.clock.Now().Sub(start)
		m.metrics.readWaitSeconds.Observe(waited.Seconds())
		if _, exists := m.infos[blockID]; !ok && exists {
			m.errorLogger.Log(status.Errorf(codes.DeadlineExceeded, "Gave up waiting for the read lock on a block after %s", waited))
		}
	}
	switch {
	case ok:
		m.metrics.readHit.Inc()
	case blocking:
		m.metrics.readBlocked.Inc()
	default:
		m.metrics.readMiss.Inc()
	}
	return info, ok
}

// LockForWriting acquires the write lock on blockID on behalf of the
// task attempt attached to ctx. It returns the block's info and true
// on success. It returns nil and false if the block does not exist, or
// if blocking is false and the block currently has a writer or any
// readers. Write acquisition is not re-entrant: a task that already
// holds the write lock on a block must not call LockForWriting on it
// again.
func (m *BlockInfoManager[BlockID]) LockForWriting(ctx context.Context, blockID BlockID, blocking bool) (*BlockInfo, bool) {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock.Now()
	info, ok := m.lockForWritingLocked(blockID, task, blocking)
	if blocking {
		waited := m.clock.Now().Sub(start)
		m.metrics.writeWaitSeconds.Observe(waited.Seconds())
		if _, exists := m.infos[blockID]; !ok && exists {
			m.errorLogger.Log(status.Errorf(codes.DeadlineExceeded, "Gave up waiting for the write lock on a block after %s", waited))
		}
	}
	switch {
	case ok:
		m.metrics.writeHit.Inc()
	case blocking:
		m.metrics.writeBlocked.Inc()
	default:
		m.metrics.writeMiss.Inc()
	}
	return info, ok
}

// LockNewBlockForWriting implements first-writer-wins race resolution
// for block creation. If blockID does not yet exist, it installs
// newInfo, immediately acquires the write lock on it on behalf of the
// calling task, and returns true. If blockID already exists, the
// calling task instead acquires a read lock on the existing block and
// the call returns false. If the manager has a lock wait timeout
// configured and it elapses while a losing caller is waiting to read
// the winner's block, the caller gives up empty-handed rather than
// installing a second BlockInfo over the block another task still
// owns; it still returns false.
//
// newInfo's ReaderCount and WriterTask fields are overwritten; only
// StorageLevel, ClassTag, TellMaster and SizeBytes are taken from it.
func (m *BlockInfoManager[BlockID]) LockNewBlockForWriting(ctx context.Context, blockID BlockID, newInfo *BlockInfo) bool {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lockForReadingLocked(blockID, task, true); ok {
		m.metrics.newBlockLost.Inc()
		return false
	}

	if _, exists := m.infos[blockID]; exists {
		// The read attempt above did not succeed, but the block now
		// exists: the lock wait timeout elapsed while another task
		// still held the write lock we were waiting out. We hold no
		// lock on it; installing newInfo here would clobber that
		// task's BlockInfo out from under it. Report a loss without
		// touching the table.
		m.metrics.newBlockLost.Inc()
		return false
	}

	newInfo.readerCount = 0
	newInfo.writerTask = NoWriter
	m.infos[blockID] = newInfo

	if _, ok := m.lockForWritingLocked(blockID, task, true); !ok {
		invariantViolation("Failed to acquire the write lock on a block that was just inserted")
	}
	m.metrics.newBlockWon.Inc()
	return true
}

// Unlock releases whichever lock the calling task holds on blockID: if
// the task holds the write lock, it is released; otherwise one read
// reference held by the task is released. It fails with NotFound if
// blockID does not exist, and is a programming error (it panics) if
// the calling task does not actually hold any lock on the block.
func (m *BlockInfoManager[BlockID]) Unlock(ctx context.Context, blockID BlockID) error {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[blockID]
	if !ok {
		return notFoundError(blockID)
	}

	if info.writerTask != NoWriter {
		if info.writerTask != task {
			invariantViolation("Unlock called by a task that does not hold the write lock it is releasing")
		}
		info.writerTask = NoWriter
		info.checkInvariants()
		delete(m.currentWriteHoldings(task), blockID)
		m.trackUnpinned(blockID)
	} else {
		if info.readerCount <= 0 {
			invariantViolation("Unlock called on block with no readers and no writer")
		}
		info.readerCount--
		info.checkInvariants()

		holdings := m.currentReadHoldings(task)
		multiplicity := holdings[blockID]
		if multiplicity <= 0 {
			invariantViolation("Unlock called by a task with no recorded read holding")
		}
		if multiplicity == 1 {
			delete(holdings, blockID)
		} else {
			holdings[blockID] = multiplicity - 1
		}

		if info.readerCount == 0 {
			m.trackUnpinned(blockID)
		}
	}

	m.cond.Broadcast()
	return nil
}

// DowngradeLock atomically releases the write lock the calling task
// holds on blockID and replaces it with a single read reference. The
// release and the re-acquisition happen inside the same critical
// section, so no other task can observe the block as unlocked in
// between.
func (m *BlockInfoManager[BlockID]) DowngradeLock(ctx context.Context, blockID BlockID) error {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[blockID]
	if !ok {
		return notFoundError(blockID)
	}
	if info.writerTask != task {
		invariantViolation("DowngradeLock called by a task that does not hold the write lock")
	}

	info.writerTask = NoWriter
	info.checkInvariants()
	delete(m.currentWriteHoldings(task), blockID)

	info.readerCount++
	info.checkInvariants()
	m.currentReadHoldings(task)[blockID]++

	m.cond.Broadcast()
	return nil
}

// AssertBlockIsLockedForWriting returns blockID's info if the calling
// task currently holds its write lock. It fails with NotFound if the
// block does not exist, and NotOwned if some other task (or no task)
// holds the write lock.
func (m *BlockInfoManager[BlockID]) AssertBlockIsLockedForWriting(ctx context.Context, blockID BlockID) (*BlockInfo, error) {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[blockID]
	if !ok {
		return nil, notFoundError(blockID)
	}
	if info.writerTask != task {
		return nil, notOwnedError(blockID, info.writerTask)
	}
	return info, nil
}

// Get returns blockID's info without altering any counts. The returned
// handle is a live, shared reference and must not be mutated; it is
// intended only for read-only status queries.
func (m *BlockInfoManager[BlockID]) Get(blockID BlockID) (*BlockInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[blockID]
	return info, ok
}

// ReleaseAllLocksForTask unconditionally unwinds every lock task holds
// and removes task from the registry entirely. It returns the set of
// blocks whose pin count changed as a result, for the caller to feed
// into eviction bookkeeping.
func (m *BlockInfoManager[BlockID]) ReleaseAllLocksForTask(task TaskAttemptID) []BlockID {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := map[BlockID]struct{}{}

	for blockID := range m.writeHoldings[task] {
		if info, ok := m.infos[blockID]; ok && info.writerTask == task {
			info.writerTask = NoWriter
			info.checkInvariants()
			m.trackUnpinned(blockID)
		}
		changed[blockID] = struct{}{}
	}
	delete(m.writeHoldings, task)

	for blockID, multiplicity := range m.readHoldings[task] {
		if info, ok := m.infos[blockID]; ok {
			info.readerCount -= multiplicity
			info.checkInvariants()
			if info.readerCount == 0 {
				m.trackUnpinned(blockID)
			}
		}
		changed[blockID] = struct{}{}
	}
	delete(m.readHoldings, task)

	m.cond.Broadcast()

	result := make([]BlockID, 0, len(changed))
	for blockID := range changed {
		result = append(result, blockID)
	}
	return result
}

// RemoveBlock deletes blockID from the table. The calling task must
// currently hold the write lock on it; failing to do so is a
// programming error and panics. Any handle obtained before the call
// observes a reset, unlocked BlockInfo afterwards.
func (m *BlockInfoManager[BlockID]) RemoveBlock(ctx context.Context, blockID BlockID) error {
	task := TaskAttemptIDFromContext(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[blockID]
	if !ok {
		return notFoundError(blockID)
	}
	if info.writerTask != task {
		invariantViolation("RemoveBlock called by a task that does not hold the write lock")
	}

	delete(m.infos, blockID)
	info.readerCount = 0
	info.writerTask = NoWriter
	delete(m.currentWriteHoldings(task), blockID)
	if m.evictionSet != nil {
		m.evictionSet.Delete(blockID)
	}

	m.cond.Broadcast()
	return nil
}

// Clear resets every BlockInfo and empties the table, the task
// registry and the eviction set, in preparation for process shutdown.
// NonTaskWriter is re-registered immediately afterward, so the manager
// remains usable by driver or test code without a separate
// re-initialization step.
func (m *BlockInfoManager[BlockID]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.infos {
		info.readerCount = 0
		info.writerTask = NoWriter
	}
	m.infos = map[BlockID]*BlockInfo{}
	m.readHoldings = map[TaskAttemptID]map[BlockID]int{}
	m.writeHoldings = map[TaskAttemptID]map[BlockID]struct{}{}
	m.readHoldings[NonTaskWriter] = map[BlockID]int{}
	if m.evictionSet != nil {
		m.evictionSet.Clear()
	}

	m.cond.Broadcast()
}

// Size returns the number of blocks currently present in the table.
func (m *BlockInfoManager[BlockID]) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.infos)
}

// Entries returns a snapshot of the entire block table. The BlockInfo
// values it yields are shared with the manager and may mutate after
// the snapshot is taken.
func (m *BlockInfoManager[BlockID]) Entries() []Entry[BlockID] {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry[BlockID], 0, len(m.infos))
	for blockID, info := range m.infos {
		entries = append(entries, Entry[BlockID]{BlockID: blockID, Info: info})
	}
	return entries
}

// GetNumberOfMapEntries returns the sizes of the block table, the read
// holdings registry and the write holdings registry, for diagnostics.
func (m *BlockInfoManager[BlockID]) GetNumberOfMapEntries() (infos, readHoldings, writeHoldings int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.infos), len(m.readHoldings), len(m.writeHoldings)
}
