package ordermap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/pkg/ordermap"
)

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	var m ordermap.Map[string]
	id1 := m.Insert("a")
	id2 := m.Insert("b")
	assert.Less(t, id1, id2)
	assert.Equal(t, 2, m.Len())
}

func TestRangeVisitsInInsertionOrder(t *testing.T) {
	var m ordermap.Map[string]
	m.Insert("first")
	m.Insert("second")
	m.Insert("third")

	var seen []string
	m.Range(func(id int, v string) {
		seen = append(seen, v)
	})
	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestDeleteRemovesAndSkipsDuringRange(t *testing.T) {
	var m ordermap.Map[string]
	id1 := m.Insert("keep-a")
	id2 := m.Insert("drop")
	id3 := m.Insert("keep-b")

	require.True(t, m.Delete(id2))
	assert.False(t, m.Delete(id2))

	var seen []string
	m.Range(func(id int, v string) {
		seen = append(seen, v)
	})
	assert.Equal(t, []string{"keep-a", "keep-b"}, seen)
	assert.Equal(t, 2, m.Len())
	_ = id1
	_ = id3
}

func TestRangeAllowsConcurrentInsertFromCallback(t *testing.T) {
	var m ordermap.Map[int]
	m.Insert(1)
	calls := 0
	m.Range(func(id int, v int) {
		calls++
		if v == 1 {
			m.Insert(2) // connecting a new subscriber mid-emit must not deadlock
		}
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, m.Len())
}

func TestClear(t *testing.T) {
	var m ordermap.Map[int]
	m.Insert(1)
	m.Insert(2)
	m.Clear()
	assert.Equal(t, 0, m.Len())
}
