package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// BinaryMagic opens every binary frame.
var BinaryMagic = [8]byte{0x89, 'w', 'e', 'b', 'S', 'O', 'K', '\n'}

const (
	versionSize   = 8
	namespaceSize = 28
	PreambleSize  = len(BinaryMagic) + versionSize + namespaceSize

	uuidSize   = 36
	actionSize = 8
	// store chunk header: part, start, length (u32) and total (u64)
	storeHeaderSize = 4 + 4 + 4 + 8
)

var ErrBadPreamble = errors.New("bad binary preamble")

type Preamble struct {
	Version   string
	Namespace Namespace
}

// EncodePreamble builds the fixed 44-byte frame header. Version and
// namespace are NUL padded; longer values are truncated.
func EncodePreamble(p Preamble) []byte {
	buf := make([]byte, PreambleSize)
	copy(buf, BinaryMagic[:])
	copy(buf[8:8+versionSize], p.Version)
	copy(buf[16:16+namespaceSize], p.Namespace)
	return buf
}

// DecodePreamble splits a binary frame into its header and payload.
func DecodePreamble(frame []byte) (Preamble, []byte, error) {
	if len(frame) < PreambleSize {
		return Preamble{}, nil, fmt.Errorf("%w: %d bytes", ErrBadPreamble, len(frame))
	}
	if !bytes.Equal(frame[:8], BinaryMagic[:]) {
		return Preamble{}, nil, fmt.Errorf("%w: magic % x", ErrBadPreamble, frame[:8])
	}
	p := Preamble{
		Version:   trimField(frame[8 : 8+versionSize]),
		Namespace: Namespace(trimField(frame[16 : 16+namespaceSize])),
	}
	return p, frame[PreambleSize:], nil
}

// DecodeBinary parses a whole binary frame into its variant.
func DecodeBinary(frame []byte) (Inbound, error) {
	p, payload, err := DecodePreamble(frame)
	if err != nil {
		return nil, err
	}
	switch p.Namespace {
	case NamespaceFileUpload:
		chunk, err := DecodeUploadChunk(payload)
		if err != nil {
			return nil, err
		}
		return UploadRequest{Chunk: *chunk}, nil
	}
	return nil, fmt.Errorf("%w: binary %q", ErrUnknownNamespace, p.Namespace)
}

type UploadAction string

const (
	UploadStore    UploadAction = "store"
	UploadComplete UploadAction = "cmpt"
)

// UploadChunk is one piece of a chunked file upload. Store chunks carry
// Data; the completion chunk carries the client's file Name.
type UploadChunk struct {
	UUID   string
	Action UploadAction
	Part   uint32
	Start  uint32
	Length uint32
	Total  uint64
	Data   []byte
	Name   string
}

func DecodeUploadChunk(payload []byte) (*UploadChunk, error) {
	if len(payload) < uuidSize+actionSize {
		return nil, fmt.Errorf("%w: upload header %d bytes", ErrMalformed, len(payload))
	}
	c := &UploadChunk{
		UUID:   trimField(payload[:uuidSize]),
		Action: UploadAction(trimField(payload[uuidSize : uuidSize+actionSize])),
	}
	body := payload[uuidSize+actionSize:]

	switch c.Action {
	case UploadStore:
		if len(body) < storeHeaderSize {
			return nil, fmt.Errorf("%w: store header %d bytes", ErrMalformed, len(body))
		}
		c.Part = binary.LittleEndian.Uint32(body[0:4])
		c.Start = binary.LittleEndian.Uint32(body[4:8])
		c.Length = binary.LittleEndian.Uint32(body[8:12])
		c.Total = binary.LittleEndian.Uint64(body[12:20])
		data := body[storeHeaderSize:]
		if uint64(len(data)) < uint64(c.Length) {
			return nil, fmt.Errorf("%w: chunk declares %d bytes, carries %d", ErrMalformed, c.Length, len(data))
		}
		c.Data = data[:c.Length]
	case UploadComplete:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: name length missing", ErrMalformed)
		}
		n := binary.LittleEndian.Uint32(body[0:4])
		if uint64(len(body)-4) < uint64(n) {
			return nil, fmt.Errorf("%w: name declares %d bytes, carries %d", ErrMalformed, n, len(body)-4)
		}
		c.Name = string(body[4 : 4+n])
	default:
		return nil, fmt.Errorf("%w: upload action %q", ErrMalformed, c.Action)
	}
	return c, nil
}

// EncodeUploadChunk is the inverse of DecodeUploadChunk, preamble included.
func EncodeUploadChunk(version string, c UploadChunk) []byte {
	var buf bytes.Buffer
	buf.Write(EncodePreamble(Preamble{Version: version, Namespace: NamespaceFileUpload}))
	buf.Write(padField(c.UUID, uuidSize))
	buf.Write(padField(string(c.Action), actionSize))

	switch c.Action {
	case UploadStore:
		var hdr [storeHeaderSize]byte
		binary.LittleEndian.PutUint32(hdr[0:4], c.Part)
		binary.LittleEndian.PutUint32(hdr[4:8], c.Start)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(c.Data)))
		binary.LittleEndian.PutUint64(hdr[12:20], c.Total)
		buf.Write(hdr[:])
		buf.Write(c.Data)
	case UploadComplete:
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(c.Name)))
		buf.Write(n[:])
		buf.WriteString(c.Name)
	}
	return buf.Bytes()
}

func padField(s string, size int) []byte {
	b := make([]byte, size)
	copy(b, s)
	return b
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}
