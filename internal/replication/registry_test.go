package replication

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvreplica/kvreplica/internal/protocol"
)

func newTestReplica(t *testing.T) (*Replica, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	r := NewReplica(server, protocol.NewFramer(server))
	return r, client
}

func TestRegistryAddRemoveSnapshotOrder(t *testing.T) {
	reg := NewRegistry()
	r1, _ := newTestReplica(t)
	r2, _ := newTestReplica(t)
	r3, _ := newTestReplica(t)

	reg.Add(r1)
	reg.Add(r2)
	reg.Add(r3)

	snap := reg.Snapshot()
	require.Equal(t, []*Replica{r1, r2, r3}, snap)

	reg.Remove(r2)
	snap = reg.Snapshot()
	require.Equal(t, []*Replica{r1, r3}, snap)
	require.Equal(t, 2, reg.Len())
}

func TestWaitZeroOffsetReplicasAutoAck(t *testing.T) {
	reg := NewRegistry()
	r1, c1 := newTestReplica(t)
	r2, c2 := newTestReplica(t)
	reg.Add(r1)
	reg.Add(r2)

	// Drain any GETACK writes so the goroutines backing net.Pipe don't block.
	go io_discard(c1)
	go io_discard(c2)

	n := reg.Wait(2, 200*time.Millisecond)
	require.Equal(t, 2, n)
}

func TestWaitReturnsOnTimeoutWhenUnacked(t *testing.T) {
	reg := NewRegistry()
	r1, c1 := newTestReplica(t)
	reg.Add(r1)
	r1.offset = 10 // simulate a prior write, so this replica must ACK

	go io_discard(c1)

	start := time.Now()
	n := reg.Wait(1, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Equal(t, 0, n)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWaitCountsRealACK(t *testing.T) {
	reg := NewRegistry()
	r1, c1 := newTestReplica(t)
	reg.Add(r1)
	r1.offset = 10

	go func() {
		buf := make([]byte, 64)
		_, _ = c1.Read(buf) // consume GETACK
		_, _ = c1.Write([]byte("*3\r\n$8\r\nREPLCONF\r\n$3\r\nACK\r\n$2\r\n10\r\n"))
	}()

	n := reg.Wait(1, time.Second)
	require.Equal(t, 1, n)
}

func io_discard(c net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
