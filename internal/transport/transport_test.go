package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvstorage/xiovolumed/internal/wire"
)

func newPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	client, server := newPipe(t)

	h := wire.NewRequest(wire.OpWriteReq, "v1", "", 5, 0, 42, 1000)
	data := []byte("hello")

	errCh := make(chan error, 1)
	go func() { errCh <- WriteFrame(client, h, data) }()

	gotH, gotData, err := ReadFrame(server, nil)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, h, gotH)
	assert.Equal(t, data, gotData)
}

func TestReadFrameEmptyData(t *testing.T) {
	client, server := newPipe(t)

	h := wire.NewRequest(wire.OpFlushReq, "v1", "", 0, 0, 1, 0)
	go func() { _ = WriteFrame(client, h, nil) }()

	gotH, gotData, err := ReadFrame(server, nil)
	require.NoError(t, err)
	assert.Equal(t, h, gotH)
	assert.Empty(t, gotData)
}

func TestReadFrameReusesSuppliedBuffer(t *testing.T) {
	client, server := newPipe(t)

	h := wire.NewRequest(wire.OpWriteReq, "v1", "", 3, 0, 1, 0)
	go func() { _ = WriteFrame(client, h, []byte("abc")) }()

	reuse := make([]byte, 16)
	_, gotData, err := ReadFrame(server, reuse)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(gotData))
	assert.Same(t, &reuse[0], &gotData[0])
}

func TestReadFrameRejectsOversizedData(t *testing.T) {
	client, server := newPipe(t)
	_ = client.SetDeadline(time.Now().Add(time.Second))

	go func() {
		h := wire.NewRequest(wire.OpWriteReq, "v1", "", 0, 0, 1, 0)
		headerBytes, _ := wire.Encode(h)
		buf := appendLengthPrefixed(nil, headerBytes)
		// Claim a data length far beyond MaxDataBytes without sending it.
		oversized := make([]byte, 4)
		oversized[0] = 0x7f
		buf = append(buf, oversized...)
		_, _ = client.Write(buf)
	}()

	_, _, err := ReadFrame(server, nil)
	require.Error(t, err)
}
