package haclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/transport"
	"github.com/openvstorage/xiovolumed/internal/wire"
)

// oneShotEchoServer accepts exactly one connection, echoes every request
// back as an OK reply, and stops serving (closing the connection) once
// stop is called.
func oneShotEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var connMu sync.Mutex
	var conn net.Conn

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		connMu.Lock()
		conn = c
		connMu.Unlock()
		for {
			h, data, err := transport.ReadFrame(c, nil)
			if err != nil {
				return
			}
			resp := wire.NewResponse(h, 0, wire.EOK, uint64(len(data)))
			if err := transport.WriteFrame(c, resp, data); err != nil {
				return
			}
		}
	}()

	return l.Addr().String(), func() {
		_ = l.Close()
		connMu.Lock()
		if conn != nil {
			_ = conn.Close()
		}
		connMu.Unlock()
	}
}

// switchableResolver simulates cluster membership changing: GetVolumeURI
// returns addr until Switch is called, after which it returns the new one.
type switchableResolver struct {
	mu   sync.Mutex
	addr string
}

func (r *switchableResolver) GetVolumeURI(context.Context, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr, nil
}

func (r *switchableResolver) ListClusterNodeURI(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return []string{r.addr}, nil
}

func (r *switchableResolver) Switch(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr = addr
}

func TestSubmitRoundTrip(t *testing.T) {
	addr, stop := oneShotEchoServer(t)
	defer stop()

	c, err := Dial(context.Background(), StaticResolver{Nodes: []string{addr}}, "v1", Config{}, nil)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Submit(context.Background(), wire.OpReadReq, "v1", "", 4, 0, 0, nil)
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, res.Header.Errval)
}

func TestNonHAFailsImmediatelyOnConnectionLoss(t *testing.T) {
	addr, stop := oneShotEchoServer(t)

	c, err := Dial(context.Background(), StaticResolver{Nodes: []string{addr}}, "v1", Config{Enabled: false}, nil)
	require.NoError(t, err)
	defer c.Close()

	stop() // simulate the node dying
	time.Sleep(50 * time.Millisecond)

	_, err = c.Submit(context.Background(), wire.OpReadReq, "v1", "", 4, 0, 0, nil)
	require.Error(t, err)
}

func TestHAReconnectsAndReplaysOnFailover(t *testing.T) {
	addrA, stopA := oneShotEchoServer(t)
	resolver := &switchableResolver{addr: addrA}

	c, err := Dial(context.Background(), resolver, "v1", Config{Enabled: true, ReconnectBackoff: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Submit(context.Background(), wire.OpWriteReq, "v1", "", 4, 0, 0, []byte("data"))
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, res.Header.Errval)

	addrB, stopB := oneShotEchoServer(t)
	defer stopB()
	resolver.Switch(addrB)
	stopA() // node A dies; supervisor should reconnect to B

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err = c.Submit(ctx, wire.OpWriteReq, "v1", "", 4, 0, 0, []byte("data"))
	require.NoError(t, err)
	require.EqualValues(t, wire.EOK, res.Header.Errval)
}

// clusterAwareServer accepts any number of connections and answers
// OpListClusterNodeURIReq/OpGetVolumeURIReq the way
// iohandler.Session.handleListClusterNodeURI/handleGetVolumeURI do,
// echoing every other request back as an OK reply.
func clusterAwareServer(t *testing.T, selfURI string, nodes []string) (addr string, stop func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					h, data, err := transport.ReadFrame(conn, nil)
					if err != nil {
						return
					}
					var resp wire.Header
					var respData []byte
					switch h.Opcode {
					case wire.OpListClusterNodeURIReq:
						respData = wire.EncodeNameList(nodes)
						resp = wire.NewResponse(h, int64(len(nodes)), wire.EOK, uint64(len(respData)))
					case wire.OpGetVolumeURIReq:
						respData = []byte(selfURI)
						resp = wire.NewResponse(h, int64(len(respData)), wire.EOK, uint64(len(respData)))
					default:
						resp = wire.NewResponse(h, 0, wire.EOK, uint64(len(data)))
						respData = data
					}
					if err := transport.WriteFrame(conn, resp, respData); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	return l.Addr().String(), func() { _ = l.Close() }
}

func TestWireResolverSubmitsRealOpcodes(t *testing.T) {
	addr, stop := clusterAwareServer(t, "tcp://"+"127.0.0.1:9999", []string{"tcp://127.0.0.1:9999", "tcp://127.0.0.1:9998"})
	defer stop()

	resolver := WireResolver{Seeds: []string{addr}}

	nodes, err := resolver.ListClusterNodeURI(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tcp://127.0.0.1:9999", "tcp://127.0.0.1:9998"}, nodes)

	uri, err := resolver.GetVolumeURI(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, "tcp://127.0.0.1:9999", uri)
}

func TestCloseIsIdempotent(t *testing.T) {
	addr, stop := oneShotEchoServer(t)
	defer stop()

	c, err := Dial(context.Background(), StaticResolver{Nodes: []string{addr}}, "v1", Config{Enabled: true}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NotPanics(t, func() { _ = c.Close() })
}
