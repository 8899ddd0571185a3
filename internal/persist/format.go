package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	formatVersion uint16 = 1

	vectorsMagic = "KGVI"
	ledgerMagic  = "KGIL"

	// maxRawBytes bounds the decoded vector payload (16 GiB).
	maxRawBytes uint64 = 1 << 34
)

// vectorsHeader precedes the float32 payload in vectors.idx.
type vectorsHeader struct {
	Magic      [4]byte
	Version    uint16
	Codec      uint8
	_          uint8
	Dimensions uint32
	Count      uint64
	Generation uint64
	PayloadLen uint64
}

// ledgerHeader precedes the msgpack identifier list in ids.ledger.
type ledgerHeader struct {
	Magic      [4]byte
	Version    uint16
	_          uint16
	Generation uint64
	Count      uint64
	PayloadLen uint64
}

func encodeVectors(s *Snapshot, codec Codec) ([]byte, error) {
	raw := make([]byte, 0, len(s.Vectors)*s.Dimensions*4)
	for i, v := range s.Vectors {
		if len(v) != s.Dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), s.Dimensions)
		}
		raw = append(raw, float32SliceToBytes(v)...)
	}
	payload, codecByte, err := compress(raw, codec)
	if err != nil {
		return nil, err
	}
	h := vectorsHeader{
		Version:    formatVersion,
		Codec:      codecByte,
		Dimensions: uint32(s.Dimensions),
		Count:      uint64(len(s.Vectors)),
		Generation: s.Generation,
		PayloadLen: uint64(len(payload)),
	}
	copy(h.Magic[:], vectorsMagic)

	var buf bytes.Buffer
	buf.Grow(binary.Size(h) + len(payload))
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("write vectors header: %w", err)
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeVectors(data []byte) (*vectorsHeader, [][]float32, error) {
	var h vectorsHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, nil, fmt.Errorf("read vectors header: %w", err)
	}
	if string(h.Magic[:]) != vectorsMagic {
		return nil, nil, fmt.Errorf("bad vectors magic %q", h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, nil, fmt.Errorf("unsupported vectors version %d", h.Version)
	}
	if h.Dimensions == 0 {
		return nil, nil, fmt.Errorf("zero dimensions")
	}
	payload := data[binary.Size(h):]
	if uint64(len(payload)) != h.PayloadLen {
		return nil, nil, fmt.Errorf("vectors payload is %d bytes, header says %d", len(payload), h.PayloadLen)
	}
	if h.Count > maxRawBytes/4/uint64(h.Dimensions) {
		return nil, nil, fmt.Errorf("vector count %d too large for %d dimensions", h.Count, h.Dimensions)
	}
	rawLen := h.Count * uint64(h.Dimensions) * 4
	if err := checkRatio(h.Codec, rawLen, h.PayloadLen); err != nil {
		return nil, nil, err
	}
	raw, err := decompress(payload, h.Codec, int(rawLen))
	if err != nil {
		return nil, nil, err
	}
	dim := int(h.Dimensions)
	vecs := make([][]float32, h.Count)
	for i := range vecs {
		vecs[i] = bytesToFloat32Slice(raw[i*dim*4 : (i+1)*dim*4])
	}
	return &h, vecs, nil
}

func encodeLedger(s *Snapshot) ([]byte, error) {
	ids := s.IDs
	if ids == nil {
		ids = []string{}
	}
	payload, err := msgpack.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	h := ledgerHeader{
		Version:    formatVersion,
		Generation: s.Generation,
		Count:      uint64(len(ids)),
		PayloadLen: uint64(len(payload)),
	}
	copy(h.Magic[:], ledgerMagic)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("write ledger header: %w", err)
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeLedger(data []byte) (*ledgerHeader, []string, error) {
	var h ledgerHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, nil, fmt.Errorf("read ledger header: %w", err)
	}
	if string(h.Magic[:]) != ledgerMagic {
		return nil, nil, fmt.Errorf("bad ledger magic %q", h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, nil, fmt.Errorf("unsupported ledger version %d", h.Version)
	}
	payload := data[binary.Size(h):]
	if uint64(len(payload)) != h.PayloadLen {
		return nil, nil, fmt.Errorf("ledger payload is %d bytes, header says %d", len(payload), h.PayloadLen)
	}
	var ids []string
	if err := msgpack.Unmarshal(payload, &ids); err != nil {
		return nil, nil, fmt.Errorf("decode ledger: %w", err)
	}
	if uint64(len(ids)) != h.Count {
		return nil, nil, fmt.Errorf("ledger holds %d ids, header says %d", len(ids), h.Count)
	}
	return &h, ids, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
