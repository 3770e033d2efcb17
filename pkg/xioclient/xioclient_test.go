package xioclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/completion"
	"github.com/openvstorage/xiovolumed/internal/haclient"
	"github.com/openvstorage/xiovolumed/internal/transport"
	"github.com/openvstorage/xiovolumed/internal/wire"
)

// scriptedServer accepts one connection and answers every request through
// respond, letting tests control the errval/retval/data a given opcode
// gets back without a real iohandler.Session.
func scriptedServer(t *testing.T, respond func(h wire.Header, data []byte) (wire.Header, []byte)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			h, data, err := transport.ReadFrame(conn, nil)
			if err != nil {
				return
			}
			respH, respData := respond(h, data)
			if err := transport.WriteFrame(conn, respH, respData); err != nil {
				return
			}
		}
	}()
	return l.Addr().String()
}

func okEcho(h wire.Header, data []byte) (wire.Header, []byte) {
	return wire.NewResponse(h, int64(len(data)), wire.EOK, uint64(len(data))), data
}

func dialNonHA(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), haclient.StaticResolver{Nodes: []string{addr}}, "v1", Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenCloseVolumeRoundTrip(t *testing.T) {
	addr := scriptedServer(t, okEcho)
	c := dialNonHA(t, addr)

	require.NoError(t, c.OpenVolume(context.Background(), "v1"))
	require.NoError(t, c.CloseVolume(context.Background(), "v1"))
}

func TestStatAndListVolumes(t *testing.T) {
	addr := scriptedServer(t, func(h wire.Header, data []byte) (wire.Header, []byte) {
		switch h.Opcode {
		case wire.OpStatVolumeReq:
			return wire.NewResponse(h, 4096, wire.EOK, 0), nil
		case wire.OpListVolumesReq:
			names := wire.EncodeNameList([]string{"v1", "v2"})
			return wire.NewResponse(h, 2, wire.EOK, uint64(len(names))), names
		default:
			return okEcho(h, data)
		}
	})
	c := dialNonHA(t, addr)

	size, err := c.StatVolume(context.Background(), "v1")
	require.NoError(t, err)
	require.EqualValues(t, 4096, size)

	names, err := c.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"v1", "v2"}, names)
}

func TestCallReturnsProtocolErrorOnNonOKErrval(t *testing.T) {
	addr := scriptedServer(t, func(h wire.Header, _ []byte) (wire.Header, []byte) {
		return wire.NewErrorResponse(h, wire.EACCES), nil
	})
	c := dialNonHA(t, addr)

	err := c.OpenVolume(context.Background(), "missing")
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Equal(t, wire.EACCES, protoErr.Errno)
}

func TestAIOWriteThenReadCompletion(t *testing.T) {
	var stored []byte
	addr := scriptedServer(t, func(h wire.Header, data []byte) (wire.Header, []byte) {
		switch h.Opcode {
		case wire.OpWriteReq:
			stored = append([]byte(nil), data...)
			return wire.NewResponse(h, int64(len(data)), wire.EOK, 0), nil
		case wire.OpReadReq:
			return wire.NewResponse(h, int64(len(stored)), wire.EOK, uint64(len(stored))), stored
		default:
			return okEcho(h, data)
		}
	})
	c := dialNonHA(t, addr)

	wc := c.AIOWrite(context.Background(), "v1", []byte("hello"), 0, 0)
	require.NoError(t, wc.Wait(context.Background()))
	res, err := wc.Result()
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, res.Header.Errval)

	rc := c.AIORead(context.Background(), "v1", 5, 0, 0)
	select {
	case <-rc.WaitChan():
	case <-time.After(2 * time.Second):
		t.Fatal("completion never resolved")
	}
	res, err = rc.Result()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), res.Data)
}

func TestAIOUsesSharedCompletionPool(t *testing.T) {
	addr := scriptedServer(t, okEcho)
	pool := completion.New(completion.Config{Workers: 2, QueueDepth: 8})
	pool.Start(context.Background())
	defer pool.Stop()

	c, err := Dial(context.Background(), haclient.StaticResolver{Nodes: []string{addr}}, "v1", Config{CompletionPool: pool})
	require.NoError(t, err)
	defer c.Close()

	comp := c.AIOFlush(context.Background(), "v1", 0)
	require.NoError(t, comp.Wait(context.Background()))
}

func TestDialWithHAEnabled(t *testing.T) {
	addr := scriptedServer(t, okEcho)
	c, err := Dial(context.Background(), haclient.StaticResolver{Nodes: []string{addr}}, "v1", Config{
		HA: haclient.Config{Enabled: true, ReconnectBackoff: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.OpenVolume(context.Background(), "v1"))
}
