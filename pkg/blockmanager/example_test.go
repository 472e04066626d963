package blockmanager_test

import (
	"context"
	"fmt"

	"github.com/buildbarn/bb-blockmanager/pkg/blockmanager"
	"github.com/buildbarn/bb-blockmanager/pkg/clock"
	"github.com/buildbarn/bb-blockmanager/pkg/util"
	"github.com/google/uuid"
)

// generateBlockID synthesizes disposable BlockIDs for this example. It
// is declared as a util.UUIDGenerator so that a test wanting
// reproducible ids could swap it for a seeded generator without
// touching the code that consumes it.
var generateBlockID util.UUIDGenerator = uuid.NewRandom

// This example simulates a compute-then-cache path: a task tries to
// create a block, and a second task that only wants to read it is
// turned away while the block is being produced and reads it once the
// first task has unlocked it.
func Example() {
	m := blockmanager.NewBlockInfoManager[uuid.UUID](clock.SystemClock, util.DefaultErrorLogger, nil, 0)

	blockID := util.Must(generateBlockID())
	producer := blockmanager.NewContextWithTaskAttemptID(context.Background(), blockmanager.TaskAttemptID(1))
	consumer := blockmanager.NewContextWithTaskAttemptID(context.Background(), blockmanager.TaskAttemptID(2))

	won := m.LockNewBlockForWriting(producer, blockID, &blockmanager.BlockInfo{SizeBytes: 4096})
	fmt.Println("producer created the block:", won)

	if _, ok := m.LockForReading(consumer, blockID, false); !ok {
		fmt.Println("consumer observes the block is still being produced")
	}

	if err := m.Unlock(producer, blockID); err != nil {
		panic(err)
	}

	if _, ok := m.LockForReading(consumer, blockID, false); ok {
		fmt.Println("consumer now reads the finished block")
	}

	// Output:
	// producer created the block: true
	// consumer observes the block is still being produced
	// consumer now reads the finished block
}
