package replication

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kvreplica/kvreplica/internal/protocol"
)

func TestFanOutPropagatesInOrderToAllReplicas(t *testing.T) {
	reg := NewRegistry()
	r1, c1 := newTestReplica(t)
	r2, c2 := newTestReplica(t)
	reg.Add(r1)
	reg.Add(r2)

	fo := NewFanOut(reg, 8, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx)

	msg1 := protocol.SerializeCommand("SET", "a", "1")
	msg2 := protocol.SerializeCommand("SET", "b", "2")
	fo.Enqueue(msg1)
	fo.Enqueue(msg2)

	// net.Pipe writes block until read, and the fan-out writes each task to
	// r1 then r2, so both ends must be read concurrently.
	bufs := make([][]byte, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, c := range []net.Conn{c1, c2} {
		wg.Add(1)
		go func(i int, c net.Conn) {
			defer wg.Done()
			bufs[i] = make([]byte, len(msg1)+len(msg2))
			c.SetReadDeadline(time.Now().Add(time.Second))
			_, errs[i] = readFull(c, bufs[i])
		}(i, c)
	}
	wg.Wait()

	for i := range bufs {
		require.NoError(t, errs[i])
		require.Equal(t, append(append([]byte{}, msg1...), msg2...), bufs[i])
	}

	require.Eventually(t, func() bool {
		return r1.Offset() == int64(len(msg1)+len(msg2)) && r2.Offset() == int64(len(msg1)+len(msg2))
	}, time.Second, 5*time.Millisecond)
}

func TestFanOutDropsReplicaOnWriteError(t *testing.T) {
	reg := NewRegistry()
	r1, c1 := newTestReplica(t)
	reg.Add(r1)
	c1.Close() // force the next write to fail

	fo := NewFanOut(reg, 8, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx)

	fo.Enqueue(protocol.SerializeCommand("SET", "a", "1"))

	require.Eventually(t, func() bool {
		return reg.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
