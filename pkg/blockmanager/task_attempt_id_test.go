package blockmanager_test

import (
	"testing"

	"github.com/buildbarn/bb-blockmanager/pkg/blockmanager"
	"github.com/stretchr/testify/require"
)

func TestTaskAttemptIDString(t *testing.T) {
	require.Equal(t, "NoWriter", blockmanager.NoWriter.String())
	require.Equal(t, "NonTaskWriter", blockmanager.NonTaskWriter.String())
	require.Equal(t, "42", blockmanager.TaskAttemptID(42).String())
}
