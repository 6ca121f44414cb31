// Package slices contains generic slice helpers used for chunking database statements.
package slices

import (
	"fmt"
	"math"

	goslices "golang.org/x/exp/slices"
)

// PartitionToMaxLen partitions the elements of s into non-overlapping slices,
// such that each such slice contains at most maxLen elements.
func PartitionToMaxLen[S ~[]E, E any](s S, maxLen int) []S {
	n := int(math.Ceil(float64(len(s)) / float64(maxLen)))
	if n == 0 {
		n = 1
	}
	return Partition(s, n)
}

// Partition partitions the elements of s into n non-overlapping slices,
// such that some slices have len(s)/n+1 items and some len(s)/n items.
// Ordering is preserved.
func Partition[S ~[]E, E any](s S, n int) []S {
	if n < 1 {
		panic(fmt.Sprintf("n is %d but must be at least 1", n))
	}
	k := len(s) - (len(s)/n)*n
	rv := make([]S, n)
	i := 0
	for j := 0; j < k; j++ {
		rv[j] = goslices.Clone(s[i : i+len(s)/n+1])
		i += len(s)/n + 1
	}
	for j := k; j < n; j++ {
		rv[j] = goslices.Clone(s[i : i+len(s)/n])
		i += len(s) / n
	}
	return rv
}

// Unique returns a copy of s with duplicate elements removed, keeping only the first occurrence.
func Unique[S ~[]E, E comparable](s S) S {
	if s == nil {
		return nil
	}
	rv := make(S, 0)
	seen := make(map[E]bool)
	for _, v := range s {
		if !seen[v] {
			rv = append(rv, v)
			seen[v] = true
		}
	}
	return rv
}
