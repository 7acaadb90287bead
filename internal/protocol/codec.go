package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// RoleMagic is the 4-byte sequence a connection writes immediately
// after dialing, before any framed message, identifying what kind of
// connection it is.
type RoleMagic [4]byte

var (
	RoleControl  = RoleMagic{'C', 'T', 'R', 'L'}
	RoleWorker   = RoleMagic{'W', 'O', 'R', 'K'}
	RoleDelivery = RoleMagic{'D', 'E', 'L', 'V'}
	RoleClient   = RoleMagic{'C', 'L', 'N', 'T'}
)

// WriteRoleMagic writes a connection's role magic.
func WriteRoleMagic(w io.Writer, role RoleMagic) error {
	_, err := w.Write(role[:])
	return err
}

// ReadRoleMagic reads and validates a connection's role magic.
func ReadRoleMagic(r io.Reader) (RoleMagic, error) {
	var role RoleMagic
	if _, err := io.ReadFull(r, role[:]); err != nil {
		return RoleMagic{}, fmt.Errorf("protocol: read role magic: %w", err)
	}
	return role, nil
}

// Kind identifies a message's type within the body of a frame.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindWelcome
	KindReorg
	KindReorgDone
	KindMoved
	KindStatsRequest
	KindStats
	KindCreate
	KindPuzzle
	KindDeliver
	KindResultReady
	KindDeliveryQty
	KindDeliveryReady
	KindError
	KindGet
	KindGetCached
	KindMoveItem
	KindMoveDone
	KindQuery
	KindDelivery
)

// maxFrameBody bounds how large a single frame's body may claim to be,
// guarding against a corrupt or hostile length prefix forcing an
// unbounded allocation.
const maxFrameBody = 256 << 20 // 256 MiB

// WriteFrame writes kind and body as one length-prefixed frame.
func WriteFrame(w io.Writer, kind Kind, body []byte) error {
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("protocol: write frame header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one complete frame from r, returning its kind and an
// immutable body buffer.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("protocol: read frame header: %w", err)
	}
	kind := Kind(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameBody {
		return 0, nil, fmt.Errorf("protocol: frame body of %d bytes exceeds limit", length)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("protocol: read frame body: %w", err)
		}
	}
	return kind, body, nil
}

// Encoder builds a frame body by appending fields in wire order.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Uint8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) Uint32(v uint32) *Encoder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
	return e
}

func (e *Encoder) Uint64(v uint64) *Encoder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
	return e
}

func (e *Encoder) Double(v float64) *Encoder {
	return e.Uint64(math.Float64bits(v))
}

func (e *Encoder) String(s string) *Encoder {
	e.Uint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

func (e *Encoder) Bytes(b []byte) *Encoder {
	e.Uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// Cube appends a cube<N> as 2N doubles, min-then-max per axis, in the
// order the caller supplies them.
func (e *Encoder) Cube(bounds []float64) *Encoder {
	for _, v := range bounds {
		e.Double(v)
	}
	return e
}

// VectorLen appends a vector<T>'s count prefix; the caller then encodes
// each element itself.
func (e *Encoder) VectorLen(n int) *Encoder {
	return e.Uint64(uint64(n))
}

// Body returns the encoded body.
func (e *Encoder) Body() []byte { return e.buf }

// Decoder reads fields in wire order from an immutable body buffer
// produced by ReadFrame.
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder wraps body for sequential field decoding.
func NewDecoder(body []byte) *Decoder {
	return &Decoder{buf: body}
}

// Err returns the first error encountered by any Decoder method, or nil.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) need(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.pos+n > len(d.buf) {
		d.fail(fmt.Errorf("protocol: decode: need %d bytes, have %d", n, len(d.buf)-d.pos))
		return nil
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *Decoder) Uint8() uint8 {
	b := d.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Uint32() uint32 {
	b := d.need(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *Decoder) Uint64() uint64 {
	b := d.need(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *Decoder) Double() float64 {
	return math.Float64frombits(d.Uint64())
}

func (d *Decoder) String() string {
	n := d.Uint32()
	b := d.need(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *Decoder) Bytes() []byte {
	n := d.Uint32()
	b := d.need(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Cube reads a cube<N> as n doubles (2N where N is the dimensionality
// the caller expects, e.g. n=6 for an x/y/t cube).
func (d *Decoder) Cube(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Double()
	}
	return out
}

// VectorLen reads a vector<T>'s count prefix; the caller then decodes
// each element itself.
func (d *Decoder) VectorLen() int {
	return int(d.Uint64())
}
