package ncp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	flagRaw          uint16 = 0x8000
	flagContinuation uint16 = 0x4000
	lengthMask       uint16 = 0x3FFF

	// MaxFramePayload is the largest payload a single frame can carry.
	MaxFramePayload = int(lengthMask)
)

// Frame is one header-prefixed unit on the wire.
type Frame struct {
	Raw          bool
	Continuation bool
	Payload      []byte
}

func (f Frame) header() uint16 {
	h := uint16(len(f.Payload))
	if f.Raw {
		h |= flagRaw
	}
	if f.Continuation {
		h |= flagContinuation
	}
	return h
}

// WriteFrame writes the header and payload of f.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFramePayload {
		return protocolErrorf("frame payload of %d bytes exceeds %d", len(f.Payload), MaxFramePayload)
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], f.header())
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads one frame. A clean end of stream before the header is
// reported as io.EOF; a frame cut short is io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	h := binary.BigEndian.Uint16(hdr[:])
	f := Frame{
		Raw:          h&flagRaw != 0,
		Continuation: h&flagContinuation != 0,
	}
	if n := int(h & lengthMask); n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	return f, nil
}

// SplitFrames cuts payload into ceil(len/MaxFramePayload) frames with the
// continuation bit on all but the last. An empty payload yields one empty
// frame.
func SplitFrames(payload []byte, raw bool) []Frame {
	if len(payload) == 0 {
		return []Frame{{Raw: raw}}
	}
	frames := make([]Frame, 0, (len(payload)+MaxFramePayload-1)/MaxFramePayload)
	for off := 0; off < len(payload); off += MaxFramePayload {
		end := min(off+MaxFramePayload, len(payload))
		frames = append(frames, Frame{
			Raw:          raw,
			Continuation: end < len(payload),
			Payload:      payload[off:end],
		})
	}
	return frames
}

// DecodeFrame decodes a control message carried by a single frame. Raw
// frames and frames with the continuation bit are rejected.
func DecodeFrame(f Frame) (*Message, error) {
	if f.Raw {
		return nil, protocolErrorf("raw frame where a control message was expected")
	}
	if f.Continuation {
		return nil, protocolErrorf("control frame with continuation bit")
	}
	return DecodeMessage(f.Payload)
}

// writeMessage encodes m and writes it as one or more control frames.
func writeMessage(w io.Writer, m *Message) error {
	payload, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Name, err)
	}
	for _, f := range SplitFrames(payload, false) {
		if err := WriteFrame(w, f); err != nil {
			return err
		}
	}
	return nil
}
