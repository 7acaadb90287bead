package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// request kinds accepted over a delivery connection, per spec.md §4.7.
type requestKind uint8

const (
	reqGet       requestKind = 1
	reqGetCached requestKind = 2
	reqMoveItem  requestKind = 3
)

// CacheLookup resolves a (semanticID, entryID) pair to a payload for
// GET_CACHED and MOVE_ITEM, without the delivery package needing to
// import the store package directly — it only needs bytes out.
type CacheLookup func(semanticID string, entryID uint64) (payload, metadata []byte, ok bool)

// Service is the per-node delivery acceptor: it listens for TCP
// connections and spawns one short-lived goroutine per accepted
// connection, matching spec.md §5's "delivery acceptor thread...
// spawns short-lived per-delivery tasks" model.
type Service struct {
	Manager *Manager
	Lookup  CacheLookup

	wg sync.WaitGroup
}

// NewService constructs a Service bound to manager for GET requests and
// lookup for GET_CACHED/MOVE_ITEM requests.
func NewService(manager *Manager, lookup CacheLookup) *Service {
	return &Service{Manager: manager, Lookup: lookup}
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// errors. It blocks until every spawned connection goroutine has
// returned.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("delivery: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.handleConn(conn); err != nil && !errors.Is(err, io.EOF) {
				log.Printf("delivery: connection %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// handleConn services exactly one request per connection: read the
// request, stream the reply, close. Delivery connections are one-shot by
// design (spec.md §4.7), unlike the persistent control connection.
func (s *Service) handleConn(conn net.Conn) error {
	header := make([]byte, 9)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("read request header: %w", err)
	}
	kind := requestKind(header[0])
	length := binary.BigEndian.Uint32(header[1:5])

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
	}

	switch kind {
	case reqGet:
		return s.handleGet(conn, body)
	case reqGetCached:
		return s.handleGetCached(conn, body)
	case reqMoveItem:
		return s.handleMoveItem(conn, body)
	default:
		return s.writeError(conn, fmt.Errorf("unknown delivery request kind %d", kind))
	}
}

// handleGet implements GET(delivery_id): stream a previously reserved
// payload and decrement its consumer count.
func (s *Service) handleGet(conn net.Conn, body []byte) error {
	if len(body) < 8 {
		return s.writeError(conn, errors.New("GET: short body"))
	}
	id := DeliveryID(binary.BigEndian.Uint64(body[:8]))

	d, ok := s.Manager.Consume(id)
	if !ok {
		return s.writeError(conn, fmt.Errorf("GET: no such delivery %d", id))
	}
	return s.writePayload(conn, d.Payload, d.Metadata)
}

// handleGetCached implements GET_CACHED(key): stream a cache entry
// directly, used when a peer puzzles with entries this node holds.
func (s *Service) handleGetCached(conn net.Conn, body []byte) error {
	semanticID, entryID, err := decodeKey(body)
	if err != nil {
		return s.writeError(conn, fmt.Errorf("GET_CACHED: %w", err))
	}

	payload, metadata, ok := s.Lookup(semanticID, entryID)
	if !ok {
		return s.writeError(conn, fmt.Errorf("GET_CACHED: no such entry %s/%d", semanticID, entryID))
	}
	return s.writePayload(conn, payload, metadata)
}

// handleMoveItem implements MOVE_ITEM(key): stream an entry and its
// metadata during reorg. The source keeps the entry in its store until the
// coordinator later confirms the move and issues a separate removal.
func (s *Service) handleMoveItem(conn net.Conn, body []byte) error {
	semanticID, entryID, err := decodeKey(body)
	if err != nil {
		return s.writeError(conn, fmt.Errorf("MOVE_ITEM: %w", err))
	}

	payload, metadata, ok := s.Lookup(semanticID, entryID)
	if !ok {
		return s.writeError(conn, fmt.Errorf("MOVE_ITEM: no such entry %s/%d", semanticID, entryID))
	}
	return s.writePayload(conn, payload, metadata)
}

func decodeKey(body []byte) (semanticID string, entryID uint64, err error) {
	if len(body) < 4 {
		return "", 0, errors.New("short key")
	}
	nameLen := binary.BigEndian.Uint32(body[:4])
	rest := body[4:]
	if uint32(len(rest)) < nameLen+8 {
		return "", 0, errors.New("truncated key")
	}
	semanticID = string(rest[:nameLen])
	entryID = binary.BigEndian.Uint64(rest[nameLen : nameLen+8])
	return semanticID, entryID, nil
}

func (s *Service) writePayload(conn net.Conn, payload, metadata []byte) error {
	header := make([]byte, 9)
	header[0] = 0 // ok
	binary.BigEndian.PutUint32(header[1:5], uint32(len(metadata)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if _, err := conn.Write(metadata); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func (s *Service) writeError(conn net.Conn, cause error) error {
	msg := []byte(cause.Error())
	header := make([]byte, 5)
	header[0] = 1 // error
	binary.BigEndian.PutUint32(header[1:5], uint32(len(msg)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if _, err := conn.Write(msg); err != nil {
		return err
	}
	return cause
}
