package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActorProcessesMessagesInOrderWithNoDataRace(t *testing.T) {
	pool, err := NewPool(4)
	require.NoError(t, err)
	defer pool.Release()

	a := pool.NewActor(16)

	var order []int

	const n = 50
	dones := make([]chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		done := make(chan struct{})
		dones[i] = done
		a.Send(Message{
			Handle: func(ctx context.Context) {
				order = append(order, i)
			},
			Done: done,
		})
	}
	for _, d := range dones {
		select {
		case <-d:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for actor drain")
		}
	}

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		require.Equal(t, i, order[i])
	}
}

func TestAskBlocksUntilHandled(t *testing.T) {
	pool, err := NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	a := pool.NewActor(4)
	result := 0
	a.Ask(context.Background(), func(ctx context.Context) {
		result = 42
	})
	require.Equal(t, 42, result)
}
