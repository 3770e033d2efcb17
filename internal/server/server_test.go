package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/backend/memvolume"
	"github.com/openvstorage/xiovolumed/internal/catalog/memcatalog"
	"github.com/openvstorage/xiovolumed/internal/pool"
	"github.com/openvstorage/xiovolumed/internal/transport"
	"github.com/openvstorage/xiovolumed/internal/wire"
	"github.com/openvstorage/xiovolumed/internal/workqueue"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	q, err := workqueue.New(workqueue.Config{QueueDepth: 16, Workers: 2})
	require.NoError(t, err)

	p, err := pool.New([]pool.SlabConfig{{BlockSize: 4096, MinBlocks: 2, MaxBlocks: 8, GrowthQuantum: 2}}, time.Hour)
	require.NoError(t, err)

	cat := memcatalog.New()
	be := memvolume.New()

	s := New(Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second}, q, p, cat, be, be, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()

	select {
	case <-s.WaitReady():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	return s, func() {
		cancel()
		s.Stop()
		p.Close()
		<-done
	}
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.listener.Addr().String())
	require.NoError(t, err)
	return conn
}

func TestServerCreateOpenWriteReadRoundTrip(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	send := func(h wire.Header, data []byte) wire.Header {
		require.NoError(t, transport.WriteFrame(conn, h, data))
		resp, _, err := transport.ReadFrame(conn, nil)
		require.NoError(t, err)
		return resp
	}

	resp := send(wire.NewRequest(wire.OpCreateVolumeReq, "v1", "", 4096, 0, 1, 0), nil)
	require.EqualValues(t, wire.EOK, resp.Errval)

	resp = send(wire.NewRequest(wire.OpOpenReq, "v1", "", 0, 0, 2, 0), nil)
	require.EqualValues(t, wire.EOK, resp.Errval)

	payload := []byte("hello world")
	resp = send(wire.NewRequest(wire.OpWriteReq, "v1", "", uint64(len(payload)), 0, 3, 0), payload)
	require.EqualValues(t, wire.EOK, resp.Errval)

	resp, data, err := func() (wire.Header, []byte, error) {
		require.NoError(t, transport.WriteFrame(conn, wire.NewRequest(wire.OpReadReq, "v1", "", uint64(len(payload)), 0, 4, 0), nil))
		return transport.ReadFrame(conn, nil)
	}()
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, resp.Errval)
	require.Equal(t, payload, data)
}

func TestServerRejectsUnknownVolumeOpen(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	require.NoError(t, transport.WriteFrame(conn, wire.NewRequest(wire.OpOpenReq, "missing", "", 0, 0, 1, 0), nil))
	resp, _, err := transport.ReadFrame(conn, nil)
	require.NoError(t, err)
	require.EqualValues(t, wire.EACCES, resp.Errval)
}

func TestServerStopIsIdempotent(t *testing.T) {
	s, stop := newTestServer(t)
	stop()
	require.NotPanics(t, func() { s.Stop() })
}
