package eviction

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CacheReplacementPolicy identifies one of the eviction strategies that
// NewSetFromConfiguration knows how to construct.
type CacheReplacementPolicy int

const (
	// FirstInFirstOut evicts the oldest inserted value first.
	FirstInFirstOut CacheReplacementPolicy = iota
	// LeastRecentlyUsed evicts the value that was touched longest ago.
	LeastRecentlyUsed
	// RandomReplacement evicts an arbitrary value.
	RandomReplacement
)

// NewSetFromConfiguration creates a new cache replacement set using the
// algorithm identified by cacheReplacementPolicy.
func NewSetFromConfiguration[T comparable](cacheReplacementPolicy CacheReplacementPolicy) (Set[T], error) {
	switch cacheReplacementPolicy {
	case FirstInFirstOut:
		return NewFIFOSet[T](), nil
	case LeastRecentlyUsed:
		return NewLRUSet[T](), nil
	case RandomReplacement:
		return NewRRSet[T](), nil
	default:
		return nil, status.Error(codes.InvalidArgument, "Unknown cache replacement policy")
	}
}
