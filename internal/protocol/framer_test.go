package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeConn returns a connected in-memory net.Conn pair for framer tests.
func pipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func writeAsync(t *testing.T, conn net.Conn, b []byte) {
	t.Helper()
	go func() {
		_, _ = conn.Write(b)
	}()
}

func TestFramerReadValue_SimpleTypes(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	writeAsync(t, client, []byte("+OK\r\n"))
	v, consumed, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, SimpleString, v.Kind)
	require.Equal(t, "OK", v.Str)
	require.Equal(t, []byte("+OK\r\n"), consumed)

	writeAsync(t, client, []byte(":42\r\n"))
	v, consumed, err = framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, Integer, v.Kind)
	require.Equal(t, int64(42), v.Int)
	require.Equal(t, []byte(":42\r\n"), consumed)
}

func TestFramerReadValue_Array(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	raw := []byte("*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n")
	writeAsync(t, client, raw)

	v, consumed, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, Array, v.Kind)
	require.Len(t, v.Items, 2)
	name, args, ok := v.AsCommand()
	require.True(t, ok)
	require.Equal(t, "ECHO", name)
	require.Equal(t, []string{"hello"}, args)
	require.Equal(t, raw, consumed)
}

func TestFramerReadValue_PipelinedCommandsPreserveLeftover(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	first := []byte("*1\r\n$4\r\nPING\r\n")
	second := []byte("*1\r\n$4\r\nPING\r\n")
	writeAsync(t, client, append(append([]byte{}, first...), second...))

	_, consumed1, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, first, consumed1)

	_, consumed2, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, second, consumed2)
}

func TestFramerReadValue_CrossesReadBoundary(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	full := []byte("*3\r\n$3\r\nSET\r\n$4\r\npear\r\n$6\r\nbanana\r\n")
	go func() {
		for i := 0; i < len(full); i++ {
			_, _ = client.Write(full[i : i+1])
			time.Sleep(time.Millisecond)
		}
	}()

	v, consumed, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, full, consumed)
	name, args, ok := v.AsCommand()
	require.True(t, ok)
	require.Equal(t, "SET", name)
	require.Equal(t, []string{"pear", "banana"}, args)
}

func TestFramerReadValue_NullBulkAndArray(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	writeAsync(t, client, []byte("$-1\r\n"))
	v, _, err := framer.ReadValue()
	require.NoError(t, err)
	require.True(t, v.IsNull())
	require.Equal(t, NullBulkString, v.Kind)

	writeAsync(t, client, []byte("*-1\r\n"))
	v, _, err = framer.ReadValue()
	require.NoError(t, err)
	require.True(t, v.IsNull())
	require.Equal(t, NullArray, v.Kind)
}

func TestFramerReadValue_MalformedFirstByte(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	writeAsync(t, client, []byte("!oops\r\n"))
	_, _, err := framer.ReadValue()
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFramerReadValue_UnexpectedEOF(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	go func() {
		_, _ = client.Write([]byte("*1\r\n$4\r\nPI"))
		client.Close()
	}()

	_, _, err := framer.ReadValue()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestFramerReadRDB_NoTrailingCRLF(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)

	payload := []byte{'R', 'E', 'D', 'I', 'S', 0x00, 0xFF}
	msg := append([]byte("$7\r\n"), payload...)
	// Immediately follow with another frame to prove no CRLF was consumed
	// from the payload and framing resumes correctly right after it.
	msg = append(msg, []byte("+OK\r\n")...)
	writeAsync(t, client, msg)

	blob, err := framer.ReadRDB()
	require.NoError(t, err)
	require.Equal(t, payload, blob)

	v, _, err := framer.ReadValue()
	require.NoError(t, err)
	require.Equal(t, SimpleString, v.Kind)
	require.Equal(t, "OK", v.Str)
}

func TestFramerIsShutdown(t *testing.T) {
	server, client := pipeConn(t)
	framer := NewFramer(server)
	client.Close()

	require.Eventually(t, framer.IsShutdown, time.Second, time.Millisecond)
}
