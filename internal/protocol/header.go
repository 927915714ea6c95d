package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// NameSize is the fixed, NUL-padded width of the sender-name field.
	NameSize = 64
	// HeaderSize is the on-wire size of a frame header: 64-byte sender +
	// 4-byte kind + 4-byte pad + 8-byte length, matching the portable
	// layout spec.md offers as the alternative to an undocumented native
	// client ABI.
	HeaderSize = NameSize + 4 + 4 + 8

	// FilenameSize is the fixed, NUL-padded width of FileInfo's filename.
	FilenameSize = 256
	// FileInfoSize is the on-wire size of a FILE_START body.
	FileInfoSize = FilenameSize + 8

	// DefaultMaxBodySize bounds a single frame's body so a peer cannot
	// exhaust server memory with a bogus length field, while still being
	// large enough to carry one comfortably-sized file chunk.
	DefaultMaxBodySize = 16 << 20
)

// ErrNeedMore signals that the supplied buffer does not yet contain a
// complete header or body; the caller should read more bytes and retry.
// Named after the "more data, not an error" control-flow signal used by
// framing libraries in the retrieved examples (e.g. framer.ErrMore).
var ErrNeedMore = errors.New("protocol: need more data")

// ErrInvalidFrame signals an unrecoverable framing problem: an unknown
// kind, or a declared body length exceeding the configured maximum.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// Header is the fixed-size prefix of every frame.
type Header struct {
	Sender [NameSize]byte
	Kind   Kind
	Length uint64
}

// SenderName returns the NUL-padded sender field trimmed to its content.
func (h Header) SenderName() string {
	return trimNUL(h.Sender[:])
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// putName writes name into dst, NUL-padded, truncating to len(dst)-1 bytes
// so a maximum-length name still leaves a terminating NUL (spec.md §4.A:
// "truncated to 63 bytes and NUL-padded").
func putName(dst []byte, name string) {
	max := len(dst) - 1
	if len(name) > max {
		name = name[:max]
	}
	n := copy(dst, name)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// marshal writes h into an HeaderSize-length prefix of dst.
func (h Header) marshal(dst []byte) {
	copy(dst[0:NameSize], h.Sender[:])
	binary.LittleEndian.PutUint32(dst[NameSize:NameSize+4], uint32(h.Kind))
	binary.LittleEndian.PutUint32(dst[NameSize+4:NameSize+8], 0) // alignment pad
	binary.LittleEndian.PutUint64(dst[NameSize+8:HeaderSize], h.Length)
}

// ParseHeader attempts to decode a header from the front of buf. It returns
// the decoded header and HeaderSize on success, ErrNeedMore if buf is
// shorter than HeaderSize, or ErrInvalidFrame if the kind is unrecognized
// or the declared length exceeds maxBody.
func ParseHeader(buf []byte, maxBody uint64) (Header, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, 0, ErrNeedMore
	}

	var h Header
	copy(h.Sender[:], buf[0:NameSize])
	h.Kind = Kind(binary.LittleEndian.Uint32(buf[NameSize : NameSize+4]))
	h.Length = binary.LittleEndian.Uint64(buf[NameSize+8 : HeaderSize])

	if !h.Kind.Valid() {
		return Header{}, 0, errors.Wrapf(ErrInvalidFrame, "unknown kind %d", h.Kind)
	}
	if h.Length > maxBody {
		return Header{}, 0, errors.Wrapf(ErrInvalidFrame, "body length %d exceeds maximum %d", h.Length, maxBody)
	}
	return h, HeaderSize, nil
}
