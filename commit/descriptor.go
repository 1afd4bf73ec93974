package commit

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/sqldir/merge"
)

const (
	binaryMagic   = 0x444C5153 // "SQLD"
	binaryVersion = 1
	headerSize    = 16

	// SegmentsPrefix starts the name of every descriptor file.
	SegmentsPrefix = "segments_"
	// GenFileName names the file holding the newest generation.
	GenFileName = "segments.gen"
)

// FileName returns the descriptor name of generation gen.
func FileName(gen int64) string {
	return SegmentsPrefix + strconv.FormatInt(gen, 36)
}

// ParseGeneration returns the generation encoded in a descriptor name.
func ParseGeneration(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, SegmentsPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	gen, err := strconv.ParseInt(rest, 36, 64)
	if err != nil || gen < 1 {
		return 0, false
	}
	return gen, true
}

// Descriptor is the content of one segments_N file.
type Descriptor struct {
	Generation int64
	CreatedAt  time.Time
	Files      []string
	Segments   []merge.SegmentInfo
}

// Name returns the file name of the descriptor.
func (d *Descriptor) Name() string { return FileName(d.Generation) }

// WriteTo writes the binary form of d.
func (d *Descriptor) WriteTo(w io.Writer) (int64, error) {
	pb := newPayloadBuffer(make([]byte, 0, 32+len(d.Files)*24+len(d.Segments)*40))

	pb.writeUint64(uint64(d.Generation))
	pb.writeUint64(uint64(d.CreatedAt.UnixNano()))
	pb.writeUint32(uint32(len(d.Files)))
	for _, f := range d.Files {
		pb.writeString(f)
	}
	pb.writeUint32(uint32(len(d.Segments)))
	for _, s := range d.Segments {
		pb.writeString(s.Name)
		pb.writeUint64(uint64(s.SizeBytes))
		pb.writeUint64(uint64(s.DocCount))
		pb.writeUint32(uint32(s.Level))
	}
	if pb.err != nil {
		return 0, pb.err
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(pb.buf))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(pb.buf)))

	n, err := w.Write(header)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(pb.buf)
	return int64(n + m), err
}

// ReadDescriptor reads a descriptor written by WriteTo.
func ReadDescriptor(r io.Reader) (*Descriptor, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	if version := binary.LittleEndian.Uint32(header[4:8]); version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	d := &Descriptor{
		Generation: int64(pb.readUint64()),
		CreatedAt:  time.Unix(0, int64(pb.readUint64())),
	}
	numFiles := pb.readUint32()
	for i := uint32(0); i < numFiles && pb.err == nil; i++ {
		d.Files = append(d.Files, pb.readString())
	}
	numSegments := pb.readUint32()
	for i := uint32(0); i < numSegments && pb.err == nil; i++ {
		d.Segments = append(d.Segments, merge.SegmentInfo{
			Name:      pb.readString(),
			SizeBytes: int64(pb.readUint64()),
			DocCount:  int64(pb.readUint64()),
			Level:     int(pb.readUint32()),
		})
	}
	if pb.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	return d, nil
}

// encodeGen encodes the content of segments.gen: the generation twice, so a
// torn write is detected.
func encodeGen(gen int64) []byte {
	b := make([]byte, 0, 20)
	b = binary.LittleEndian.AppendUint32(b, binaryVersion)
	b = binary.LittleEndian.AppendUint64(b, uint64(gen))
	return binary.LittleEndian.AppendUint64(b, uint64(gen))
}

func decodeGen(b []byte) (int64, error) {
	if len(b) != 20 {
		return 0, fmt.Errorf("%w: generation file has %d bytes", ErrCorrupt, len(b))
	}
	if v := binary.LittleEndian.Uint32(b[0:4]); v != binaryVersion {
		return 0, fmt.Errorf("%w: %d", ErrIncompatibleVersion, v)
	}
	g1, g2 := binary.LittleEndian.Uint64(b[4:12]), binary.LittleEndian.Uint64(b[12:20])
	if g1 != g2 {
		return 0, fmt.Errorf("%w: generation file mismatch %d != %d", ErrCorrupt, g1, g2)
	}
	return int64(g1), nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("file name too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) next(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readUint64() uint64 {
	if b := p.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (p *payloadBuffer) readUint32() uint32 {
	if b := p.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (p *payloadBuffer) readString() string {
	b := p.next(2)
	if b == nil {
		return ""
	}
	return string(p.next(int(binary.LittleEndian.Uint16(b))))
}
