package interest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BoundaryCrossings(t *testing.T) {
	r := NewRegistry(10)

	subscribe, evicted := r.Add([]string{"u1", "u2"})
	require.ElementsMatch(t, []string{"u1", "u2"}, subscribe)
	require.Empty(t, evicted)

	// Second caller declares overlapping interest: no new subscribes.
	subscribe, _ = r.Add([]string{"u1", "u3"})
	require.ElementsMatch(t, []string{"u3"}, subscribe)
	require.Equal(t, 2, r.Refs("u1"))

	// First caller tears down: u1 still held by the second caller.
	unsubscribe := r.Remove([]string{"u1", "u2"})
	require.ElementsMatch(t, []string{"u2"}, unsubscribe)

	// Second caller tears down: now u1 goes.
	unsubscribe = r.Remove([]string{"u1", "u3"})
	require.ElementsMatch(t, []string{"u1", "u3"}, unsubscribe)
	require.Zero(t, r.Len())
}

func TestRegistry_SharedInterestSurvivesFirstTeardown(t *testing.T) {
	r := NewRegistry(10)

	// Component A and component B both care about u1.
	r.Add([]string{"u1"})
	r.Add([]string{"u1"})

	require.Empty(t, r.Remove([]string{"u1"}), "unsubscribe sent while B still holds interest")
	require.ElementsMatch(t, []string{"u1"}, r.Remove([]string{"u1"}))
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(10)
	require.Empty(t, r.Remove([]string{"ghost"}))
	require.Zero(t, r.Refs("ghost"))
}

func TestRegistry_EvictionBound(t *testing.T) {
	const limit = 5
	r := NewRegistry(limit)

	var evictedAll []string
	for i := 0; i < limit+3; i++ {
		_, evicted := r.Add([]string{fmt.Sprintf("u%02d", i)})
		evictedAll = append(evictedAll, evicted...)
	}

	assert.Equal(t, limit, r.Len())
	// All single-ref: FIFO tiebreak evicts the oldest three.
	assert.Equal(t, []string{"u00", "u01", "u02"}, evictedAll)
}

func TestRegistry_EvictionPrefersLowRefcount(t *testing.T) {
	r := NewRegistry(3)

	r.Add([]string{"pinned"})
	r.Add([]string{"pinned"}) // refs=2
	r.Add([]string{"hover1"})
	r.Add([]string{"hover2"})

	_, evicted := r.Add([]string{"hover3"})
	require.ElementsMatch(t, []string{"hover1"}, evicted)
	require.Equal(t, 2, r.Refs("pinned"))
}

func TestRegistry_KeysSnapshot(t *testing.T) {
	r := NewRegistry(10)
	r.Add([]string{"a", "b", "c"})
	require.ElementsMatch(t, []string{"a", "b", "c"}, r.Keys())

	r.Reset()
	require.Empty(t, r.Keys())
}

func TestRegistry_InterleavedCallersNetOut(t *testing.T) {
	r := NewRegistry(50)

	// Three callers with overlapping sets, arbitrary interleaving. The net
	// wire traffic must match the aggregate 0/1 transitions only.
	var subs, unsubs []string
	collect := func(s, e []string) { subs = append(subs, s...); unsubs = append(unsubs, e...) }

	s, e := r.Add([]string{"x", "y"})
	collect(s, e)
	s, e = r.Add([]string{"y", "z"})
	collect(s, e)
	unsubs = append(unsubs, r.Remove([]string{"y"})...)
	s, e = r.Add([]string{"x"})
	collect(s, e)
	unsubs = append(unsubs, r.Remove([]string{"x", "z"})...)
	unsubs = append(unsubs, r.Remove([]string{"x", "y"})...)

	assert.ElementsMatch(t, []string{"x", "y", "z"}, subs)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, unsubs)
	assert.Zero(t, r.Len())
}
