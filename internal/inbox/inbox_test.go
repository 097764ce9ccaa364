package inbox

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendKeepsOrder(t *testing.T) {
	in := New(0)
	for i := 0; i < 5; i++ {
		in.Append(NewDirect("a:1", "b:2", fmt.Sprint(i)))
	}
	msgs := in.List()
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		require.Equal(t, fmt.Sprint(i), m.Body)
		require.Equal(t, TypeNormal, m.Type)
		require.NotEmpty(t, m.ID)
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	in := New(3)
	for i := 0; i < 5; i++ {
		in.Append(NewBroadcast("a:1", fmt.Sprint(i)))
	}
	msgs := in.List()
	require.Len(t, msgs, 3)
	require.Equal(t, "2", msgs[0].Body)
	require.Equal(t, "4", msgs[2].Body)
	require.Equal(t, "a:1", msgs[2].Origin)
}

func TestListIsSnapshot(t *testing.T) {
	in := New(0)
	in.Append(NewDirect("a:1", "b:2", "hi"))
	snap := in.List()
	in.Append(NewDirect("a:1", "b:2", "again"))
	require.Len(t, snap, 1)
	require.Equal(t, 2, in.Len())
}

func TestConcurrentAppend(t *testing.T) {
	in := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				in.Append(NewDirect("a:1", "b:2", "x"))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 200, in.Len())
}
