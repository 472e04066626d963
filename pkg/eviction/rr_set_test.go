package eviction_test

import (
	"sort"
	"testing"

	"github.com/buildbarn/bb-blockmanager/pkg/eviction"
	"github.com/stretchr/testify/require"
)

func TestRRSetExample(t *testing.T) {
	set := eviction.NewRRSet[string]()

	// Insert a set of words.
	words := []string{
		"abele", "furfuraceous", "narial", "rugine",
		"terrazzo", "ultrafidian", "unicity", "xesturgy",
	}
	for _, word := range words {
		set.Insert(word)
	}

	// Touch some of them. This should have no effect, as Random
	// Replacement does not respect any order.
	set.Touch("furfuraceous")
	set.Touch("unicity")

	// Remove all of the words from the set. They may be returned in
	// any order, but every inserted word should be returned exactly
	// once.
	extractedWords := make([]string, 0, len(words))
	for i := 0; i < len(words); i++ {
		extractedWords = append(extractedWords, set.Peek())
		set.Remove()
	}
	sort.Strings(extractedWords)
	require.Equal(t, words, extractedWords)
}

func TestRRSetDelete(t *testing.T) {
	set := eviction.NewRRSet[string]()
	set.Insert("a")
	set.Insert("b")
	set.Insert("c")

	require.True(t, set.Delete("b"))
	require.False(t, set.Delete("b"))

	remaining := map[string]bool{"a": true, "c": true}
	for i := 0; i < 2; i++ {
		v := set.Peek()
		require.True(t, remaining[v])
		delete(remaining, v)
		set.Remove()
	}
}

func TestRRSetClear(t *testing.T) {
	set := eviction.NewRRSet[string]()
	set.Insert("a")
	set.Clear()
	require.False(t, set.Delete("a"))
}
