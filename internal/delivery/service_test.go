package delivery

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func dialService(t *testing.T, svc *Service) (net.Conn, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		cancel()
	}
}

func encodeGetRequest(id DeliveryID) []byte {
	buf := make([]byte, 9+8)
	buf[0] = byte(reqGet)
	binary.BigEndian.PutUint32(buf[1:5], 8)
	binary.BigEndian.PutUint64(buf[9:], uint64(id))
	return buf
}

func encodeKeyRequest(kind requestKind, semanticID string, entryID uint64) []byte {
	body := make([]byte, 4+len(semanticID)+8)
	binary.BigEndian.PutUint32(body[:4], uint32(len(semanticID)))
	copy(body[4:], semanticID)
	binary.BigEndian.PutUint64(body[4+len(semanticID):], entryID)

	buf := make([]byte, 9+len(body))
	buf[0] = byte(kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(body)))
	copy(buf[9:], body)
	return buf
}

func readReply(t *testing.T, conn net.Conn) (ok bool, metadata, payload []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	status := make([]byte, 1)
	if _, err := conn.Read(status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status[0] == 1 {
		lenBuf := make([]byte, 4)
		readFull(t, conn, lenBuf)
		msg := make([]byte, binary.BigEndian.Uint32(lenBuf))
		readFull(t, conn, msg)
		return false, nil, msg
	}

	lenBuf := make([]byte, 8)
	readFull(t, conn, lenBuf)
	metaLen := binary.BigEndian.Uint32(lenBuf[:4])
	payloadLen := binary.BigEndian.Uint32(lenBuf[4:])

	metadata = make([]byte, metaLen)
	readFull(t, conn, metadata)
	payload = make([]byte, payloadLen)
	readFull(t, conn, payload)
	return true, metadata, payload
}

func readFull(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	if len(buf) == 0 {
		return
	}
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		read += n
	}
}

func TestServiceHandleGet(t *testing.T) {
	mgr := NewManager(time.Second)
	d := mgr.Reserve([]byte("rasterbytes"), []byte("meta"), 1, time.Now().Add(time.Hour))

	svc := NewService(mgr, nil)
	conn, cleanup := dialService(t, svc)
	defer cleanup()

	if _, err := conn.Write(encodeGetRequest(d.ID)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, metadata, payload := readReply(t, conn)
	if !ok {
		t.Fatalf("expected success reply, got error: %s", payload)
	}
	if string(payload) != "rasterbytes" || string(metadata) != "meta" {
		t.Errorf("reply = (%q, %q), want (%q, %q)", metadata, payload, "meta", "rasterbytes")
	}
}

func TestServiceHandleGetUnknownID(t *testing.T) {
	svc := NewService(NewManager(time.Second), nil)
	conn, cleanup := dialService(t, svc)
	defer cleanup()

	conn.Write(encodeGetRequest(DeliveryID(123)))
	ok, _, _ := readReply(t, conn)
	if ok {
		t.Error("expected error reply for unknown delivery id")
	}
}

func TestServiceHandleGetCached(t *testing.T) {
	lookup := func(semanticID string, entryID uint64) ([]byte, []byte, bool) {
		if semanticID == "op/ndvi" && entryID == 7 {
			return []byte("cachedbytes"), []byte("bounds"), true
		}
		return nil, nil, false
	}
	svc := NewService(NewManager(time.Second), lookup)
	conn, cleanup := dialService(t, svc)
	defer cleanup()

	conn.Write(encodeKeyRequest(reqGetCached, "op/ndvi", 7))
	ok, metadata, payload := readReply(t, conn)
	if !ok {
		t.Fatalf("expected success reply, got error: %s", payload)
	}
	if string(payload) != "cachedbytes" || string(metadata) != "bounds" {
		t.Errorf("reply = (%q, %q), want (%q, %q)", metadata, payload, "bounds", "cachedbytes")
	}
}

func TestServiceHandleMoveItemMiss(t *testing.T) {
	lookup := func(semanticID string, entryID uint64) ([]byte, []byte, bool) { return nil, nil, false }
	svc := NewService(NewManager(time.Second), lookup)
	conn, cleanup := dialService(t, svc)
	defer cleanup()

	conn.Write(encodeKeyRequest(reqMoveItem, "op/missing", 1))
	ok, _, _ := readReply(t, conn)
	if ok {
		t.Error("expected error reply for a MOVE_ITEM miss")
	}
}
