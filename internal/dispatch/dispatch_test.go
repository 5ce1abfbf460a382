package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kvreplica/kvreplica/internal/config"
	"github.com/kvreplica/kvreplica/internal/protocol"
	"github.com/kvreplica/kvreplica/internal/store"
)

func newTestDispatcher() *Dispatcher {
	cfg := config.New()
	cfg.Set(config.KeyMasterReplID, "abcdefabcdefabcdefabcdefabcdefabcdefabcd")
	return New(store.New(), cfg, nil, nil, zap.NewNop().Sugar())
}

func TestPing(t *testing.T) {
	d := newTestDispatcher()
	v, ok := d.HandleClient("PING", nil, nil)
	require.True(t, ok)
	require.Equal(t, protocol.NewSimpleString("PONG"), v)
}

func TestEcho(t *testing.T) {
	d := newTestDispatcher()
	v, ok := d.HandleClient("ECHO", []string{"hello"}, nil)
	require.True(t, ok)
	require.Equal(t, protocol.NewBulkStringFromString("hello"), v)
}

func TestEchoMissingArg(t *testing.T) {
	d := newTestDispatcher()
	v, ok := d.HandleClient("ECHO", nil, nil)
	require.True(t, ok)
	require.Equal(t, protocol.NullBulk, v)
}

func TestSetGetRoundTrip(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("SET", []string{"pear", "banana"}, []byte("raw"))
	require.Equal(t, protocol.NewSimpleString("OK"), v)

	v, _ = d.HandleClient("GET", []string{"pear"}, nil)
	require.Equal(t, protocol.NewBulkStringFromString("banana"), v)
}

func TestGetMissingKey(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("GET", []string{"nope"}, nil)
	require.True(t, v.IsNull())
}

func TestSetWithPXExpires(t *testing.T) {
	d := newTestDispatcher()
	d.HandleClient("SET", []string{"k", "v", "PX", "20"}, []byte("raw"))

	v, _ := d.HandleClient("GET", []string{"k"}, nil)
	require.Equal(t, protocol.NewBulkStringFromString("v"), v)

	require.Eventually(t, func() bool {
		v, _ := d.HandleClient("GET", []string{"k"}, nil)
		return v.IsNull()
	}, time.Second, 5*time.Millisecond)
}

func TestSetWithNegativePXIsError(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("SET", []string{"k", "v", "PX", "-1"}, []byte("raw"))
	require.Equal(t, protocol.SimpleError, v.Kind)
}

func TestSetWithNonIntegerPXIsError(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("SET", []string{"k", "v", "PX", "abc"}, []byte("raw"))
	require.Equal(t, protocol.SimpleError, v.Kind)
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("FROBNICATE", nil, nil)
	require.Equal(t, protocol.SimpleError, v.Kind)
}

func TestInfoReplicationOnPrimary(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("INFO", []string{"replication"}, nil)
	require.Equal(t, protocol.BulkString, v.Kind)
	require.Contains(t, string(v.Bulk), "role:master")
	require.Contains(t, string(v.Bulk), "master_replid:abcdefabcdefabcdefabcdefabcdefabcdefabcd")
}

func TestInfoUnknownSectionIsError(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("INFO", []string{"cpu"}, nil)
	require.Equal(t, protocol.SimpleError, v.Kind)
}

func TestReplConfListeningPort(t *testing.T) {
	d := newTestDispatcher()
	v, ok := d.HandleClient("REPLCONF", []string{"listening-port", "6380"}, nil)
	require.True(t, ok)
	require.Equal(t, protocol.NewSimpleString("OK"), v)
}

func TestReplConfInvalidPort(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("REPLCONF", []string{"listening-port", "0"}, nil)
	require.Equal(t, protocol.SimpleError, v.Kind)
}

func TestPSyncOwesNoDirectReply(t *testing.T) {
	d := newTestDispatcher()
	_, ok := d.HandleClient("PSYNC", []string{"?", "-1"}, nil)
	require.False(t, ok)
}

func TestWaitWithNoReplicasReturnsZero(t *testing.T) {
	d := newTestDispatcher()
	v, _ := d.HandleClient("WAIT", []string{"1", "50"}, nil)
	require.Equal(t, protocol.NewInteger(0), v)
}

func TestApplyReplicatedSetIsSilent(t *testing.T) {
	d := newTestDispatcher()
	d.ApplyReplicated("SET", []string{"k", "v"})

	v, ok := d.Store.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}
