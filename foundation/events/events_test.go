package events_test

import (
	"testing"

	"github.com/ardanlabs/dpos/foundation/events"
	"github.com/stretchr/testify/require"
)

func TestSendAndRelease(t *testing.T) {
	evts := events.New()

	ch := evts.Acquire("a")
	require.Equal(t, ch, evts.Acquire("a"))
	require.Equal(t, 1, evts.Subscribers())

	evts.Send("block")
	require.Equal(t, "block", <-ch)

	require.NoError(t, evts.Release("a"))
	_, open := <-ch
	require.False(t, open)

	require.ErrorIs(t, evts.Release("a"), events.ErrUnknownID)
}

func TestSendDoesNotBlock(t *testing.T) {
	evts := events.New()
	ch := evts.Acquire("slow")

	for i := 0; i < 500; i++ {
		evts.Send("tick")
	}
	require.Len(t, ch, cap(ch))

	evts.Shutdown()
	require.Zero(t, evts.Subscribers())
}
