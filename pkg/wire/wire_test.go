package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/amxdbg/amxdbg/pkg/amx"
)

func TestFrameRoundTrip(t *testing.T) {
	regs := amx.InitialRegisters()
	regs.Set(amx.PRI, 0)
	regs.Set(amx.CIP, 0x1c4)

	tasks := []Task{
		NewQueryRegisters(),
		NewRun(),
		NewStepSingle(),
		NewStepLine(),
		NewBreakpointAdd(0x80),
		NewBreakpointRemove(0xffffffff),
		NewQueryMemory(0, 10),
	}
	responses := []Response{
		{Outcome: Success},
		{Outcome: Failure},
		{Outcome: Success, Registers: &regs},
		{Outcome: Success, Cells: []byte{0, 1, 2, 0xff}},
		{Outcome: Success, Cells: []byte{}},
	}

	var buf bytes.Buffer
	for _, task := range tasks {
		require.NoError(t, WriteTask(&buf, task))
	}
	for _, resp := range responses {
		require.NoError(t, WriteResponse(&buf, resp))
	}

	for _, want := range tasks {
		got, err := ReadTask(&buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	for _, want := range responses {
		got, err := ReadResponse(&buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Zero(t, buf.Len())
}

func TestFramePrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))
	require.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, buf.Bytes())
}

func TestReadFramePeerClosed(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	require.True(t, errors.Is(err, ErrPeerClosed))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}))
	require.True(t, errors.Is(err, ErrPeerClosed))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 1, 2}))
	require.True(t, errors.Is(err, ErrPeerClosed))
}

func TestReadFrameTooLarge(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
}

func TestUnmarshalResponseSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 15, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	b = protowire.AppendTag(b, responseTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(Failure))
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))

	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)
	require.Equal(t, Failure, resp.Outcome)
	require.Nil(t, resp.Registers)
	require.False(t, resp.HasMemory())
}

func TestUnmarshalResponsePartialRegisters(t *testing.T) {
	// proto3 omits zero fields, a snapshot with only CIP set is valid.
	var regs []byte
	regs = protowire.AppendTag(regs, 10, protowire.VarintType)
	regs = protowire.AppendVarint(regs, 0x44)
	var b []byte
	b = protowire.AppendTag(b, responseRegistersField, protowire.BytesType)
	b = protowire.AppendBytes(b, regs)

	resp, err := UnmarshalResponse(b)
	require.NoError(t, err)
	require.Equal(t, Success, resp.Outcome)
	require.NotNil(t, resp.Registers)
	require.Equal(t, uint32(0x44), resp.Registers.Get(amx.CIP))
	require.Equal(t, uint32(0), resp.Registers.Get(amx.PRI))
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := UnmarshalResponse([]byte{0x08})
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)

	_, err = UnmarshalTask([]byte{0x08, 0x63})
	require.True(t, errors.As(err, &perr), "got %v", err)
}
