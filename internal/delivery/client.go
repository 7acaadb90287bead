package delivery

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Client dials a peer node's delivery service to issue one-shot GET,
// GET_CACHED, or MOVE_ITEM requests — the destination side of spec.md
// §4.7's "destination opens a delivery connection to the source".
type Client struct {
	DialTimeout time.Duration
}

// NewClient returns a Client with a sane default dial timeout.
func NewClient() *Client {
	return &Client{DialTimeout: 5 * time.Second}
}

func (c *Client) dial(addr string) (net.Conn, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return net.DialTimeout("tcp", addr, timeout)
}

// Get fetches a previously reserved delivery by id from addr.
func (c *Client) Get(addr string, id DeliveryID) (payload, metadata []byte, err error) {
	conn, err := c.dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("delivery client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uint64(id))
	if err := writeRequest(conn, reqGet, body); err != nil {
		return nil, nil, err
	}
	return readResponse(conn)
}

// GetCached fetches a cache entry directly by key from addr, used when a
// peer puzzles with entries this node holds.
func (c *Client) GetCached(addr string, semanticID string, entryID uint64) (payload, metadata []byte, err error) {
	conn, err := c.dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("delivery client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := writeRequest(conn, reqGetCached, encodeKey(semanticID, entryID)); err != nil {
		return nil, nil, err
	}
	return readResponse(conn)
}

// MoveItem fetches an entry and its metadata from a source node during
// reorg, by key, from addr.
func (c *Client) MoveItem(addr string, semanticID string, entryID uint64) (payload, metadata []byte, err error) {
	conn, err := c.dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("delivery client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := writeRequest(conn, reqMoveItem, encodeKey(semanticID, entryID)); err != nil {
		return nil, nil, err
	}
	return readResponse(conn)
}

func encodeKey(semanticID string, entryID uint64) []byte {
	name := []byte(semanticID)
	body := make([]byte, 4+len(name)+8)
	binary.BigEndian.PutUint32(body[:4], uint32(len(name)))
	copy(body[4:], name)
	binary.BigEndian.PutUint64(body[4+len(name):], entryID)
	return body
}

func writeRequest(conn net.Conn, kind requestKind, body []byte) error {
	header := make([]byte, 9)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(body)))
	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("delivery client: write request header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("delivery client: write request body: %w", err)
	}
	return nil
}

// readResponse mirrors Service's two reply shapes: an error reply is
// status|msgLen|msg (5-byte header), a success reply is
// status|metaLen|payloadLen|metadata|payload (9-byte header) — the
// header length itself depends on status, so it's read in two steps.
func readResponse(conn net.Conn) (payload, metadata []byte, err error) {
	status := make([]byte, 1)
	if _, err := io.ReadFull(conn, status); err != nil {
		return nil, nil, fmt.Errorf("delivery client: read response status: %w", err)
	}

	if status[0] != 0 {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return nil, nil, fmt.Errorf("delivery client: read error length: %w", err)
		}
		msg := make([]byte, binary.BigEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(conn, msg); err != nil {
			return nil, nil, fmt.Errorf("delivery client: read error body: %w", err)
		}
		return nil, nil, fmt.Errorf("delivery client: remote error: %s", msg)
	}

	lenBuf := make([]byte, 8)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, nil, fmt.Errorf("delivery client: read response lengths: %w", err)
	}
	metaLen := binary.BigEndian.Uint32(lenBuf[:4])
	payloadLen := binary.BigEndian.Uint32(lenBuf[4:8])

	metadata = make([]byte, metaLen)
	if _, err := io.ReadFull(conn, metadata); err != nil {
		return nil, nil, fmt.Errorf("delivery client: read metadata: %w", err)
	}
	payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, nil, fmt.Errorf("delivery client: read payload: %w", err)
	}
	return payload, metadata, nil
}
