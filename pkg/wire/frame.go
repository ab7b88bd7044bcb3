package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// PrefixSize is the size of the length prefix of every frame.
	PrefixSize = 4

	// MaxFrameSize is the largest payload accepted from the peer.
	MaxFrameSize = 16 << 20
)

// ErrPeerClosed is returned by ReadFrame when the peer closed the
// connection, either before a frame started or in the middle of one.
var ErrPeerClosed = errors.New("peer closed the connection")

// ProtocolError reports a message that could not be decoded or a frame
// that violates the framing rules.
type ProtocolError struct {
	Context string
	Reason  string
	Err     error
}

func (err *ProtocolError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", err.Context, err.Reason, err.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", err.Context, err.Reason)
}

func (err *ProtocolError) Unwrap() error {
	return err.Err
}

// AppendFrame appends payload to buf preceded by its length.
func AppendFrame(buf, payload []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// WriteFrame writes payload to w as a single frame using one Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &ProtocolError{Context: "frame", Reason: fmt.Sprintf("payload of %d bytes exceeds maximum frame size", len(payload))}
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, PrefixSize+len(payload)), payload))
	return err
}

// ReadFrame reads exactly one frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, peerClosed(err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, &ProtocolError{Context: "frame", Reason: fmt.Sprintf("frame of %d bytes exceeds maximum frame size", size)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, peerClosed(err)
	}
	return payload, nil
}

func peerClosed(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrPeerClosed
	}
	return err
}

// WriteTask frames and writes t.
func WriteTask(w io.Writer, t Task) error {
	return WriteFrame(w, t.Marshal())
}

// ReadTask reads and decodes one framed Task.
func ReadTask(r io.Reader) (Task, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Task{}, err
	}
	return UnmarshalTask(payload)
}

// WriteResponse frames and writes resp.
func WriteResponse(w io.Writer, resp Response) error {
	return WriteFrame(w, resp.Marshal())
}

// ReadResponse reads and decodes one framed Response.
func ReadResponse(r io.Reader) (Response, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	return UnmarshalResponse(payload)
}
