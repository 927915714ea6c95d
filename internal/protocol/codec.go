package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode serializes a complete frame: a well-formed header followed by
// body. sender is truncated to NameSize-1 bytes and NUL-padded. Encode
// fails only when body exceeds maxBody.
func Encode(kind Kind, sender string, body []byte, maxBody uint64) ([]byte, error) {
	if uint64(len(body)) > maxBody {
		return nil, errors.Errorf("protocol: body of %d bytes exceeds maximum %d", len(body), maxBody)
	}

	out := make([]byte, HeaderSize+len(body))
	h := Header{Kind: kind, Length: uint64(len(body))}
	putName(h.Sender[:], sender)
	h.marshal(out[:HeaderSize])
	copy(out[HeaderSize:], body)
	return out, nil
}

// FileInfo is the body of a FILE_START frame.
type FileInfo struct {
	Filename string
	Size     uint64
}

// EncodeFileInfo serializes f into the fixed FileInfoSize layout.
func EncodeFileInfo(f FileInfo) []byte {
	buf := make([]byte, FileInfoSize)
	putName(buf[0:FilenameSize], f.Filename)
	binary.LittleEndian.PutUint64(buf[FilenameSize:FileInfoSize], f.Size)
	return buf
}

// DecodeFileInfo parses a FileInfoSize-length body produced by a FILE_START
// frame.
func DecodeFileInfo(body []byte) (FileInfo, error) {
	if len(body) < FileInfoSize {
		return FileInfo{}, errors.Errorf("protocol: FileInfo body too short: %d bytes", len(body))
	}
	return FileInfo{
		Filename: trimNUL(body[0:FilenameSize]),
		Size:     binary.LittleEndian.Uint64(body[FilenameSize:FileInfoSize]),
	}, nil
}

// EncodeFileStart builds a server-trusted FILE_START frame.
func EncodeFileStart(sender string, info FileInfo, maxBody uint64) ([]byte, error) {
	return Encode(FileStart, sender, EncodeFileInfo(info), maxBody)
}

// EncodeFileData builds a server-trusted FILE_DATA frame carrying chunk.
func EncodeFileData(sender string, chunk []byte, maxBody uint64) ([]byte, error) {
	return Encode(FileData, sender, chunk, maxBody)
}

// EncodeFileEnd builds a server-trusted, empty-bodied FILE_END frame.
func EncodeFileEnd(sender string, maxBody uint64) ([]byte, error) {
	return Encode(FileEnd, sender, nil, maxBody)
}
