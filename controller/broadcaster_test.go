package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterLatestWins(t *testing.T) {
	b := NewBroadcaster()
	fast, slow := b.Subscribe(), b.Subscribe()
	require.Equal(t, 2, b.Len())

	b.Emit(Event{Sequence: 1})
	got := <-fast.C()
	assert.Equal(t, uint64(1), got.Sequence)

	for i := uint64(2); i <= 1000; i++ {
		b.Emit(Event{Sequence: i})
	}

	// Only the newest event is waiting in each mailbox.
	assert.Equal(t, uint64(1000), (<-fast.C()).Sequence)
	assert.Equal(t, uint64(1000), (<-slow.C()).Sequence)
	assert.Empty(t, slow.C())
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	b.Emit(Event{Sequence: 1})
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
	b.Emit(Event{})
}
