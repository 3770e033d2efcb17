package clientcore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/transport"
	"github.com/openvstorage/xiovolumed/internal/wire"
)

// echoServer accepts one connection and echoes back an OK response for
// every request it decodes, preserving the cookie, so tests can exercise
// Core's submit/read-loop plumbing without a real iohandler.Session.
func echoServer(t *testing.T, respond func(h wire.Header, data []byte) (wire.Header, []byte)) string {
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
	return wire.NewResponse(h, 0, wire.EOK, uint64(len(data))), data
}

func TestSubmitReceivesReply(t *testing.T) {
	addr := echoServer(t, okEcho)
	c, err := Dial(context.Background(), addr, Config{}, nil)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Submit(context.Background(), wire.OpWriteReq, "v1", "", 4, 0, 0, []byte("data"))
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, res.Header.Errval)
	require.Equal(t, []byte("data"), res.Data)
}

func TestSubmitRoutesByCookie(t *testing.T) {
	addr := echoServer(t, okEcho)
	c, err := Dial(context.Background(), addr, Config{}, nil)
	require.NoError(t, err)
	defer c.Close()

	n := 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Submit(context.Background(), wire.OpReadReq, "v1", "", 1, 0, 0, nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}

func TestSubmitFailsAfterClose(t *testing.T) {
	addr := echoServer(t, okEcho)
	c, err := Dial(context.Background(), addr, Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Submit(context.Background(), wire.OpReadReq, "v1", "", 1, 0, 0, nil)
	require.Error(t, err)
}

func TestSubmitReturnsQueueBusyWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	addr := echoServer(t, func(h wire.Header, data []byte) (wire.Header, []byte) {
		<-block
		return okEcho(h, data)
	})
	c, err := Dial(context.Background(), addr, Config{SubmitQueueDepth: 1, SubmitTimeout: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() {
		close(block)
		c.Close()
	}()

	go func() { _, _ = c.Submit(context.Background(), wire.OpReadReq, "v1", "", 1, 0, 0, nil) }()
	time.Sleep(20 * time.Millisecond)

	_, err = c.Submit(context.Background(), wire.OpReadReq, "v1", "", 1, 0, 0, nil)
	require.ErrorIs(t, err, ErrQueueBusy)
}

// TestMalformedReplyFailsOnlyItsOwnRequest exercises spec §8 scenario 6:
// one undecodable reply (an unknown opcode, the same shape
// wire.TestDecodeUnknownOpcodeStillRecoversCookie proves still carries a
// recoverable cookie) must only fail the Submit call it belongs to. Every
// other in-flight request on the same connection, and the connection
// itself, keep working.
func TestMalformedReplyFailsOnlyItsOwnRequest(t *testing.T) {
	addr := echoServer(t, func(h wire.Header, data []byte) (wire.Header, []byte) {
		if h.VolumeName == "bad" {
			return wire.Header{Opcode: wire.Opcode(250), OpaqueCookie: h.OpaqueCookie}, nil
		}
		return okEcho(h, data)
	})
	c, err := Dial(context.Background(), addr, Config{}, nil)
	require.NoError(t, err)
	defer c.Close()

	badRes, badErr := c.Submit(context.Background(), wire.OpReadReq, "bad", "", 1, 0, 0, nil)
	require.NoError(t, badErr)
	require.EqualValues(t, wire.EIO, badRes.Header.Errval)

	res, goodErr := c.Submit(context.Background(), wire.OpReadReq, "v1", "", 1, 0, 0, nil)
	require.NoError(t, goodErr)
	require.EqualValues(t, wire.EOK, res.Header.Errval)

	select {
	case <-c.Done():
		t.Fatal("connection aborted after a single malformed reply")
	default:
	}
}
