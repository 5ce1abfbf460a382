package replication

import (
	"bytes"
	"time"
)

// ackPrefix is the exact byte prefix of a REPLCONF ACK reply that the WAIT
// probe watches for on each pending replica's socket (spec.md §4.5.4 step 4).
var ackPrefix = []byte("*3\r\n$8\r\nREPLCONF\r\n$3\r\nACK\r\n")

// getAckCommand is sent once to every replica that has already received at
// least one write, to solicit an ACK (spec.md §4.5.4 step 3).
var getAckCommand = []byte("*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n")

// Wait implements the WAIT quorum probe. numReplicas is the number of
// acknowledgements requested; timeout of 0 means wait indefinitely.
func (reg *Registry) Wait(numReplicas int, timeout time.Duration) int {
	snapshot := reg.Snapshot()

	acked := make(map[*Replica]bool, len(snapshot))
	pending := make([]*Replica, 0, len(snapshot))

	for _, r := range snapshot {
		if r.Offset() == 0 {
			acked[r] = true
			continue
		}
		_ = r.write(getAckCommand)
		pending = append(pending, r)
	}

	count := func() int {
		n := 0
		for _, ok := range acked {
			if ok {
				n++
			}
		}
		return n
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for count() < numReplicas && len(pending) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		remaining := pending[:0]
		for _, r := range pending {
			if err := r.framer.PollNonBlocking(); err != nil {
				continue // stop polling it for this WAIT; fan-out drops it on its next failed write
			}
			if bytes.HasPrefix(r.framer.Peek(), ackPrefix) {
				_, _, _ = r.framer.ReadValue() // drain the ACK frame
				acked[r] = true
				continue
			}
			remaining = append(remaining, r)
		}
		pending = remaining

		if count() >= numReplicas {
			break
		}
		time.Sleep(time.Millisecond)
	}

	result := count()
	if result > numReplicas {
		result = numReplicas
	}
	return result
}
