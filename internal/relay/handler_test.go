package relay

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/protocol"
	"github.com/example/boardsync/internal/types"
)

// fakeConn captures frames the handler sends to a peer.
type fakeConn struct {
	id     types.PeerID
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newFakeConn(id types.PeerID) *fakeConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeConn{id: id, ctx: ctx, cancel: cancel, notify: make(chan struct{}, 64)}
}

func (f *fakeConn) PeerID() types.PeerID      { return f.id }
func (f *fakeConn) Context() context.Context  { return f.ctx }

func (f *fakeConn) SendText(payload []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, payload)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

// nextMessage waits for and decodes the next unread server frame.
func (f *fakeConn) nextMessage(t *testing.T) protocol.ServerMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		f.mu.Lock()
		if len(f.frames) > 0 {
			frame := f.frames[0]
			f.frames = f.frames[1:]
			f.mu.Unlock()
			msg, err := protocol.DecodeServer(frame)
			if err != nil {
				t.Fatalf("decode server frame: %v", err)
			}
			return msg
		}
		f.mu.Unlock()
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("peer %s: no frame arrived", f.id)
		}
	}
}

func (f *fakeConn) assertSilent(t *testing.T) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) > 0 {
		msg, _ := protocol.DecodeServer(f.frames[0])
		t.Fatalf("peer %s: unexpected frame %#v", f.id, msg)
	}
}

func newHandler() *Handler {
	return NewHandler(newRegistry(), zerolog.New(io.Discard))
}

func mustJoin(t *testing.T, h *Handler, conn *fakeConn, room string) protocol.Joined {
	t.Helper()
	raw, _ := protocol.EncodeClient(protocol.Join{Room: room})
	if err := h.HandleText(conn, raw); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined, ok := conn.nextMessage(t).(protocol.Joined)
	if !ok {
		t.Fatalf("expected joined reply")
	}
	return joined
}

func sendSync(t *testing.T, h *Handler, conn *fakeConn, data string) {
	t.Helper()
	raw, _ := protocol.EncodeClient(protocol.SyncRequest{Data: data})
	if err := h.HandleText(conn, raw); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

// The canonical two-peer session: join, edit, late join with bootstrap,
// reply, disconnect.
func TestTwoPeerSession(t *testing.T) {
	h := newHandler()

	a := newFakeConn("peer-a")
	h.Connect(a)
	joined := mustJoin(t, h, a, "demo")
	if joined.Room != "demo" || joined.PeerCount != 1 || joined.InitialSync != "" {
		t.Fatalf("first joiner got %#v", joined)
	}

	sendSync(t, h, a, "ZHJhd2luZw==")

	b := newFakeConn("peer-b")
	h.Connect(b)
	joinedB := mustJoin(t, h, b, "demo")
	if joinedB.PeerCount != 2 {
		t.Fatalf("second joiner peer_count = %d, want 2", joinedB.PeerCount)
	}
	if joinedB.InitialSync != "ZHJhd2luZw==" {
		t.Fatalf("second joiner initial_sync = %q", joinedB.InitialSync)
	}

	// A learns about B.
	if pj, ok := a.nextMessage(t).(protocol.PeerJoined); !ok || pj.PeerID != "peer-b" {
		t.Fatalf("expected peer_joined for b")
	}

	// B's edit reaches A but is not echoed to B.
	sendSync(t, h, b, "cmVwbHk=")
	sync, ok := a.nextMessage(t).(protocol.SyncBroadcast)
	if !ok || sync.From != "peer-b" || sync.Data != "cmVwbHk=" {
		t.Fatalf("a got %#v", sync)
	}
	b.assertSilent(t)

	// A disconnects; B is told.
	h.Disconnect(a)
	if pl, ok := b.nextMessage(t).(protocol.PeerLeft); !ok || pl.PeerID != "peer-a" {
		t.Fatalf("expected peer_left for a")
	}
	if h.registry.PeerCount("demo") != 1 {
		t.Fatalf("room peer count = %d, want 1", h.registry.PeerCount("demo"))
	}

	// B leaves; the room dies.
	raw, _ := protocol.EncodeClient(protocol.Leave{})
	if err := h.HandleText(b, raw); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if h.registry.RoomCount() != 0 {
		t.Fatalf("room survived its last peer")
	}
}

func TestSenderNeverSeesOwnSync(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	h.Connect(a)
	mustJoin(t, h, a, "solo")

	sendSync(t, h, a, "bWluZQ==")
	a.assertSilent(t)
}

func TestJoinWhileJoinedSwitchesRooms(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	witness := newFakeConn("peer-w")
	h.Connect(a)
	h.Connect(witness)

	mustJoin(t, h, witness, "first")
	mustJoin(t, h, a, "first")
	witness.nextMessage(t) // peer_joined for a

	mustJoin(t, h, a, "second")

	// The old room saw an implicit leave.
	if pl, ok := witness.nextMessage(t).(protocol.PeerLeft); !ok || pl.PeerID != "peer-a" {
		t.Fatalf("expected peer_left in the old room")
	}
	if h.registry.PeerCount("first") != 1 || h.registry.PeerCount("second") != 1 {
		t.Fatalf("membership wrong: first=%d second=%d",
			h.registry.PeerCount("first"), h.registry.PeerCount("second"))
	}

	// Traffic in the old room no longer reaches the mover.
	sendSync(t, h, witness, "b2xk")
	a.assertSilent(t)
}

func TestSyncOutsideRoomIsIgnored(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	h.Connect(a)

	sendSync(t, h, a, "bm93aGVyZQ==")
	raw, _ := protocol.EncodeClient(protocol.AwarenessRequest{PeerID: 1})
	if err := h.HandleText(a, raw); err != nil {
		t.Fatalf("awareness: %v", err)
	}
	a.assertSilent(t)
	if h.registry.RoomCount() != 0 {
		t.Fatalf("stray traffic created a room")
	}
}

func TestLeaveOutsideRoomIsIgnored(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	h.Connect(a)

	raw, _ := protocol.EncodeClient(protocol.Leave{})
	if err := h.HandleText(a, raw); err != nil {
		t.Fatalf("leave: %v", err)
	}
	a.assertSilent(t)
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	h.Connect(a)

	if err := h.HandleText(a, []byte("{broken")); err != nil {
		t.Fatalf("malformed frame must not kill the connection: %v", err)
	}
	if _, ok := a.nextMessage(t).(protocol.ErrorReply); !ok {
		t.Fatalf("expected error reply")
	}

	// The connection still works afterwards.
	joined := mustJoin(t, h, a, "demo")
	if joined.Room != "demo" {
		t.Fatalf("join after error failed")
	}
}

func TestBinaryFrameIsRawSync(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	b := newFakeConn("peer-b")
	h.Connect(a)
	h.Connect(b)
	mustJoin(t, h, a, "demo")
	mustJoin(t, h, b, "demo")
	a.nextMessage(t) // peer_joined for b

	if err := h.HandleBinary(a, []byte("raw-snapshot")); err != nil {
		t.Fatalf("binary: %v", err)
	}
	sync, ok := b.nextMessage(t).(protocol.SyncBroadcast)
	if !ok {
		t.Fatalf("expected sync broadcast")
	}
	raw, err := protocol.DecodeSyncData(sync.Data)
	if err != nil || string(raw) != "raw-snapshot" {
		t.Fatalf("binary payload mangled: %q %v", raw, err)
	}

	// And it becomes the bootstrap snapshot.
	c := newFakeConn("peer-c")
	h.Connect(c)
	if joined := mustJoin(t, h, c, "demo"); joined.InitialSync != sync.Data {
		t.Fatalf("binary sync not cached: %q", joined.InitialSync)
	}
}

func TestAwarenessFanOut(t *testing.T) {
	h := newHandler()
	a := newFakeConn("peer-a")
	b := newFakeConn("peer-b")
	h.Connect(a)
	h.Connect(b)
	mustJoin(t, h, a, "demo")
	mustJoin(t, h, b, "demo")
	a.nextMessage(t) // peer_joined for b

	raw, _ := protocol.EncodeClient(protocol.AwarenessRequest{
		PeerID: 99,
		Cursor: &protocol.CursorPosition{X: 4, Y: 2},
		User:   &protocol.UserInfo{Name: "bea", Color: "#0000ff"},
	})
	if err := h.HandleText(b, raw); err != nil {
		t.Fatalf("awareness: %v", err)
	}
	aw, ok := a.nextMessage(t).(protocol.AwarenessBroadcast)
	if !ok {
		t.Fatalf("expected awareness broadcast")
	}
	if aw.From != "peer-b" || aw.PeerID != 99 || aw.Cursor == nil || aw.User == nil {
		t.Fatalf("awareness mangled: %#v", aw)
	}
	b.assertSilent(t)
}
