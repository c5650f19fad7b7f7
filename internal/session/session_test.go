package session

import (
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/crdt"
	"github.com/example/boardsync/internal/protocol"
	"github.com/example/boardsync/internal/shape"
	"github.com/example/boardsync/internal/types"
)

func newSession() *Session {
	return New(zerolog.New(io.Discard))
}

func rect(x float64) *shape.Rectangle {
	return &shape.Rectangle{
		ID:       uuid.New(),
		Position: shape.Point{X: x},
		Width:    10,
		Height:   10,
		Style:    shape.DefaultStyle(3),
	}
}

func joinedFrame(t *testing.T, room string, peerCount int, initial string) []byte {
	t.Helper()
	raw, err := protocol.EncodeServer(protocol.Joined{Room: room, PeerCount: peerCount, InitialSync: initial})
	if err != nil {
		t.Fatalf("encode joined: %v", err)
	}
	return raw
}

func TestDisabledByDefault(t *testing.T) {
	s := newSession()
	if s.Enabled() {
		t.Fatalf("new session must start disabled")
	}
	if s.InRoom() {
		t.Fatalf("new session must not be in a room")
	}
	if s.Undo() || s.Redo() || s.CanUndo() || s.CanRedo() {
		t.Fatalf("undo surface must be inert while disabled")
	}
}

func TestMutationsNotMirroredWhileDisabled(t *testing.T) {
	s := newSession()
	board := NewBoard()
	s.AddShape(board, rect(1))
	if len(board.Shapes) != 1 {
		t.Fatalf("board must always take the shape")
	}
	if s.Document().ShapeCount() != 0 {
		t.Fatalf("disabled session leaked into the document")
	}

	s.Enable()
	r := rect(2)
	s.AddShape(board, r)
	if s.Document().ShapeCount() != 1 {
		t.Fatalf("enabled session must mirror adds")
	}
	moved := *r
	moved.Position.X = 50
	s.UpdateShape(board, &moved)
	got, _ := s.Document().GetShape(r.ID)
	if got.(*shape.Rectangle).Position.X != 50 {
		t.Fatalf("enabled session must mirror updates")
	}
	if _, ok := s.RemoveShape(board, r.ID); !ok {
		t.Fatalf("remove failed")
	}
	if s.Document().ShapeCount() != 0 {
		t.Fatalf("enabled session must mirror removes")
	}
}

func TestSetRoomEnablesWithoutHandshake(t *testing.T) {
	s := newSession()
	board := NewBoard()

	s.SetRoom("demo")
	if !s.Enabled() || !s.InRoom() {
		t.Fatalf("set room must enable replication directly")
	}
	if room, _ := s.CurrentRoom(); room != "demo" {
		t.Fatalf("current room = %q", room)
	}

	s.AddShape(board, rect(1))
	if s.Document().ShapeCount() != 1 {
		t.Fatalf("mutation not mirrored after SetRoom")
	}

	s.SetRoom("")
	if s.InRoom() {
		t.Fatalf("empty room must clear membership")
	}
}

func TestJoinRoomOnlyQueues(t *testing.T) {
	s := newSession()
	s.JoinRoom("demo")
	if s.InRoom() {
		t.Fatalf("join must wait for server confirmation")
	}
	out := s.TakeOutgoing()
	if len(out) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(out))
	}
	msg, err := protocol.DecodeClient(out[0])
	if err != nil {
		t.Fatalf("decode queued message: %v", err)
	}
	join, ok := msg.(protocol.Join)
	if !ok || join.Room != "demo" {
		t.Fatalf("queued %#v, want join demo", msg)
	}
	if s.HasOutgoing() {
		t.Fatalf("take must drain the queue")
	}
}

func TestJoinedConfirmationEnablesAndImports(t *testing.T) {
	remote := crdt.NewDocument(types.NewActorID())
	r := rect(9)
	remote.AddShape(r)
	initial := protocol.EncodeSyncData(remote.ExportSnapshot())

	s := newSession()
	ev, ok := s.HandleMessage(joinedFrame(t, "demo", 3, initial))
	if !ok {
		t.Fatalf("joined produced no event")
	}
	joined := ev.(JoinedRoom)
	if joined.Room != "demo" || joined.PeerCount != 3 || joined.InitialSync == nil {
		t.Fatalf("unexpected joined event: %#v", joined)
	}
	if !s.Enabled() || !s.InRoom() {
		t.Fatalf("joined must set room and enable replication")
	}
	if _, ok := s.Document().GetShape(r.ID); !ok {
		t.Fatalf("initial sync not imported")
	}
}

func TestLeaveRoom(t *testing.T) {
	s := newSession()
	s.LeaveRoom()
	if s.HasOutgoing() {
		t.Fatalf("leave outside a room must queue nothing")
	}

	s.HandleMessage(joinedFrame(t, "demo", 0, ""))
	s.LeaveRoom()
	if s.InRoom() {
		t.Fatalf("leave must forget the room immediately")
	}
	out := s.TakeOutgoing()
	if len(out) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(out))
	}
	if _, ok := mustDecodeClient(t, out[0]).(protocol.Leave); !ok {
		t.Fatalf("queued message is not leave")
	}
}

func TestAwarenessQueuedOnlyInRoom(t *testing.T) {
	s := newSession()
	s.SetCursor(1, 2)
	s.SetUserInfo("ada", "#00ff00")
	if s.HasOutgoing() {
		t.Fatalf("awareness outside a room must queue nothing")
	}

	s.HandleMessage(joinedFrame(t, "demo", 0, ""))
	s.SetCursor(3, 4)
	out := s.TakeOutgoing()
	if len(out) != 1 {
		t.Fatalf("expected 1 awareness message, got %d", len(out))
	}
	aw := mustDecodeClient(t, out[0]).(protocol.AwarenessRequest)
	if aw.PeerID != uint64(s.ActorID()) {
		t.Fatalf("awareness peer id = %d, want actor id %d", aw.PeerID, s.ActorID())
	}
	if aw.Cursor == nil || aw.Cursor.X != 3 || aw.Cursor.Y != 4 {
		t.Fatalf("cursor not carried: %#v", aw.Cursor)
	}
	if aw.User == nil || aw.User.Name != "ada" {
		t.Fatalf("user info not carried: %#v", aw.User)
	}

	s.ClearCursor()
	aw = mustDecodeClient(t, s.TakeOutgoing()[0]).(protocol.AwarenessRequest)
	if aw.Cursor != nil {
		t.Fatalf("cleared cursor still on the wire: %#v", aw.Cursor)
	}
	if aw.User == nil {
		t.Fatalf("user info must survive a cursor clear")
	}
}

func TestBroadcastSyncGated(t *testing.T) {
	s := newSession()
	s.BroadcastSync()
	if s.HasOutgoing() {
		t.Fatalf("broadcast outside a room must queue nothing")
	}

	s.HandleMessage(joinedFrame(t, "demo", 0, ""))
	board := NewBoard()
	s.AddShape(board, rect(1))
	s.BroadcastSync()
	out := s.TakeOutgoing()
	if len(out) != 1 {
		t.Fatalf("expected 1 sync message, got %d", len(out))
	}
	sync := mustDecodeClient(t, out[0]).(protocol.SyncRequest)
	raw, err := protocol.DecodeSyncData(sync.Data)
	if err != nil {
		t.Fatalf("sync payload not base64: %v", err)
	}
	restored, err := crdt.FromSnapshot(types.NewActorID(), raw)
	if err != nil {
		t.Fatalf("sync payload not a snapshot: %v", err)
	}
	if restored.ShapeCount() != 1 {
		t.Fatalf("snapshot missing the shape")
	}
}

func TestHandleSyncBroadcastImports(t *testing.T) {
	remote := crdt.NewDocument(types.NewActorID())
	r := rect(5)
	remote.AddShape(r)
	frame, _ := protocol.EncodeServer(protocol.SyncBroadcast{
		From: "conn-9",
		Data: protocol.EncodeSyncData(remote.ExportSnapshot()),
	})

	s := newSession()
	ev, ok := s.HandleMessage(frame)
	if !ok {
		t.Fatalf("sync produced no event")
	}
	if ev.(SyncReceived).From != "conn-9" {
		t.Fatalf("sender lost: %#v", ev)
	}
	if _, ok := s.Document().GetShape(r.ID); !ok {
		t.Fatalf("snapshot not merged")
	}
}

func TestHandlePeerAndErrorMessages(t *testing.T) {
	s := newSession()

	frame, _ := protocol.EncodeServer(protocol.PeerJoined{PeerID: "conn-1"})
	if ev, ok := s.HandleMessage(frame); !ok || ev.(PeerJoined).PeerID != "conn-1" {
		t.Fatalf("peer_joined mishandled: %#v", ev)
	}
	frame, _ = protocol.EncodeServer(protocol.PeerLeft{PeerID: "conn-1"})
	if ev, ok := s.HandleMessage(frame); !ok || ev.(PeerLeft).PeerID != "conn-1" {
		t.Fatalf("peer_left mishandled: %#v", ev)
	}
	frame, _ = protocol.EncodeServer(protocol.AwarenessBroadcast{
		From: "conn-2", PeerID: 77, Cursor: &protocol.CursorPosition{X: 1, Y: 1},
	})
	ev, ok := s.HandleMessage(frame)
	if !ok || ev.(AwarenessReceived).PeerID != 77 {
		t.Fatalf("awareness mishandled: %#v", ev)
	}
	frame, _ = protocol.EncodeServer(protocol.ErrorReply{Message: "not in a room"})
	if ev, ok := s.HandleMessage(frame); !ok || ev.(ErrorEvent).Message != "not in a room" {
		t.Fatalf("error mishandled: %#v", ev)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	s := newSession()
	for _, raw := range []string{"", "not json", "{}", `{"type":"future_feature","x":1}`} {
		if ev, ok := s.HandleMessage([]byte(raw)); ok {
			t.Fatalf("frame %q produced event %#v", raw, ev)
		}
	}
	bad, _ := protocol.EncodeServer(protocol.SyncBroadcast{From: "x", Data: "!!!"})
	if _, ok := s.HandleMessage(bad); ok {
		t.Fatalf("undecodable sync payload must produce no event")
	}
}

func TestSyncToAndFromDocument(t *testing.T) {
	s := newSession()
	s.Enable()

	board := NewBoard()
	board.Name = "roadmap"
	a, b := rect(1), rect(2)
	board.AddShape(a)
	board.AddShape(b)
	s.SyncToDocument(board)

	if s.Document().ShapeCount() != 2 || s.Document().Name() != "roadmap" {
		t.Fatalf("sync to document incomplete")
	}

	mirror := NewBoard()
	s.SyncFromDocument(mirror)
	if mirror.Name != "roadmap" || len(mirror.ZOrder) != 2 {
		t.Fatalf("sync from document incomplete: %#v", mirror)
	}
	if mirror.ZOrder[0] != a.ID || mirror.ZOrder[1] != b.ID {
		t.Fatalf("draw order lost: %v", mirror.ZOrder)
	}
}

func TestSyncToDocumentNoopWhileDisabled(t *testing.T) {
	s := newSession()
	board := NewBoard()
	board.AddShape(rect(1))
	s.SyncToDocument(board)
	if s.Document().ShapeCount() != 0 {
		t.Fatalf("disabled session wrote to the document")
	}
}

func mustDecodeClient(t *testing.T, raw []byte) protocol.ClientMessage {
	t.Helper()
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		t.Fatalf("decode client message: %v", err)
	}
	return msg
}
