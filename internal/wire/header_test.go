package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := NewRequest(OpReadReq, "v1", "", 4096, 0, 0xdeadbeef, 5000)

	b, err := Encode(h)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestDecodeUnknownOpcode(t *testing.T) {
	t2 := wireTuple{Opcode: 255}
	b2, err := msgpack.Marshal(&t2)
	require.NoError(t, err)

	_, err = Decode(b2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestDecodeUnknownOpcodeStillRecoversCookie(t *testing.T) {
	t2 := wireTuple{Opcode: 255, Cookie: 0xcafe}
	b2, err := msgpack.Marshal(&t2)
	require.NoError(t, err)

	h, err := Decode(b2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
	assert.Equal(t, uint64(0xcafe), h.OpaqueCookie)
}

func TestOpcodeResponsePairing(t *testing.T) {
	cases := []struct {
		req  Opcode
		want Opcode
	}{
		{OpOpenReq, OpOpenRsp},
		{OpReadReq, OpReadRsp},
		{OpWriteReq, OpWriteRsp},
		{OpCreateSnapshotReq, OpCreateSnapshotRsp},
		{OpShutdownReq, OpShutdownRsp},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.req.Response())
	}
}

func TestNoopHasNoPairedResponse(t *testing.T) {
	assert.Equal(t, OpErrorRsp, OpNoop.Response())
}

func TestNewResponseCookieRoundTrips(t *testing.T) {
	req := NewRequest(OpWriteReq, "v1", "", 4096, 4096, 777, 0)
	rsp := NewResponse(req, 4096, EOK, 0)
	assert.Equal(t, req.OpaqueCookie, rsp.OpaqueCookie)
	assert.Equal(t, OpWriteRsp, rsp.Opcode)
}

func TestNewErrorResponsePreservesCookie(t *testing.T) {
	req := NewRequest(OpOpenReq, "v1", "", 0, 0, 999, 0)
	rsp := NewErrorResponse(req, EACCES)
	assert.Equal(t, uint64(999), rsp.OpaqueCookie)
	assert.Equal(t, int32(EACCES), rsp.Errval)
	assert.Equal(t, int64(-1), rsp.Retval)
}

func TestEncodeNameListRoundTrip(t *testing.T) {
	names := []string{"v1", "v2", "v3"}
	data := EncodeNameList(names)
	got := DecodeNameList(data)
	assert.Equal(t, names, got)
}

func TestDecodeNameListEmpty(t *testing.T) {
	got := DecodeNameList(nil)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
