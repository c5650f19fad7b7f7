// Package relay implements the stateless room registry: peer membership,
// bounded per-peer broadcast feeds, and the cached last snapshot handed to
// late joiners. The relay never interprets snapshot contents.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/protocol"
	"github.com/example/boardsync/internal/types"
)

// feedCapacity bounds each peer's broadcast feed. A peer that cannot drain
// its feed loses the oldest messages first; for snapshots that is safe
// because any later snapshot supersedes the lost one.
const feedCapacity = 256

// persistTimeout bounds background snapshot persistence calls.
const persistTimeout = 5 * time.Second

// Envelope is one fanned-out frame together with its sender, so receive
// loops can skip their own echoes.
type Envelope struct {
	From  types.PeerID
	Frame []byte
}

// Publisher mirrors room traffic to sibling relay instances.
type Publisher interface {
	Publish(ctx context.Context, room types.RoomName, from types.PeerID, frame []byte, lastSync string)
}

// SnapshotStore persists the latest room snapshot for operators. It is
// never read back into the join path.
type SnapshotStore interface {
	Save(ctx context.Context, room types.RoomName, data []byte) error
	Delete(ctx context.Context, room types.RoomName) error
}

type room struct {
	peers    map[types.PeerID]chan Envelope
	lastSync string
}

// Registry tracks rooms and their peers. Rooms come into existence on first
// join and are destroyed, along with their cached snapshot, when the last
// peer leaves.
type Registry struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	rooms     map[types.RoomName]*room
	publisher Publisher
	store     SnapshotStore
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "relay").Logger(),
		rooms:  map[types.RoomName]*room{},
	}
}

// SetPublisher wires cross-instance fan-out. Call before serving.
func (r *Registry) SetPublisher(p Publisher) { r.publisher = p }

// SetSnapshotStore wires snapshot persistence. Call before serving.
func (r *Registry) SetSnapshotStore(s SnapshotStore) { r.store = s }

// Join adds a peer to a room, creating it on demand, and returns the peer's
// feed, the cached snapshot for bootstrap (base64, empty if none), and the
// peer count including the joiner.
func (r *Registry) Join(name types.RoomName, peer types.PeerID) (<-chan Envelope, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{peers: map[types.PeerID]chan Envelope{}}
		r.rooms[name] = rm
		activeRooms.Inc()
		r.logger.Info().Str("room", string(name)).Msg("room created")
	}
	feed := make(chan Envelope, feedCapacity)
	if _, rejoining := rm.peers[peer]; !rejoining {
		activePeers.Inc()
	}
	rm.peers[peer] = feed
	return feed, rm.lastSync, len(rm.peers)
}

// Leave removes a peer from a room. The last peer out destroys the room and
// its cached snapshot. Returns false if the peer was not a member.
func (r *Registry) Leave(name types.RoomName, peer types.PeerID) bool {
	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, member := rm.peers[peer]; !member {
		r.mu.Unlock()
		return false
	}
	delete(rm.peers, peer)
	activePeers.Dec()
	empty := len(rm.peers) == 0
	if empty {
		delete(r.rooms, name)
		activeRooms.Dec()
	}
	r.mu.Unlock()

	if empty {
		r.logger.Info().Str("room", string(name)).Msg("room destroyed")
		if r.store != nil {
			go r.deleteSnapshot(name)
		}
	}
	return true
}

// BroadcastSync caches data as the room's latest snapshot and fans a sync
// frame out to every peer feed, the sender's included. Peers joining later
// bootstrap from the cached copy.
func (r *Registry) BroadcastSync(name types.RoomName, from types.PeerID, data string) {
	frame, err := protocol.EncodeServer(protocol.SyncBroadcast{From: string(from), Data: data})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode sync broadcast")
		return
	}

	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	rm.lastSync = data
	r.fanOut(rm, Envelope{From: from, Frame: frame})
	r.mu.Unlock()

	broadcastsTotal.WithLabelValues(protocol.TypeSync).Inc()
	if r.publisher != nil {
		r.publisher.Publish(context.Background(), name, from, frame, data)
	}
	if r.store != nil {
		go r.saveSnapshot(name, data)
	}
}

// BroadcastAwareness fans a presence frame out to the room. Awareness is
// never cached; a new joiner learns presence from the next update.
func (r *Registry) BroadcastAwareness(name types.RoomName, from types.PeerID, m protocol.AwarenessRequest) {
	frame, err := protocol.EncodeServer(protocol.AwarenessBroadcast{
		From:   string(from),
		PeerID: m.PeerID,
		Cursor: m.Cursor,
		User:   m.User,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode awareness broadcast")
		return
	}
	r.broadcastFrame(name, from, frame, protocol.TypeAwareness)
	if r.publisher != nil {
		r.publisher.Publish(context.Background(), name, from, frame, "")
	}
}

// AnnouncePeerJoined tells the room about a new member.
func (r *Registry) AnnouncePeerJoined(name types.RoomName, peer types.PeerID) {
	frame, err := protocol.EncodeServer(protocol.PeerJoined{PeerID: string(peer)})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode peer_joined")
		return
	}
	r.broadcastFrame(name, peer, frame, protocol.TypePeerJoined)
}

// AnnouncePeerLeft tells the room about a departed member.
func (r *Registry) AnnouncePeerLeft(name types.RoomName, peer types.PeerID) {
	frame, err := protocol.EncodeServer(protocol.PeerLeft{PeerID: string(peer)})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode peer_left")
		return
	}
	r.broadcastFrame(name, peer, frame, protocol.TypePeerLeft)
}

// InjectRemote replays a frame received from a sibling relay instance into
// the local room. A non-empty lastSync refreshes the cached snapshot so
// late joiners on this instance bootstrap correctly.
func (r *Registry) InjectRemote(name types.RoomName, from types.PeerID, frame []byte, lastSync string) {
	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	if lastSync != "" {
		rm.lastSync = lastSync
	}
	r.fanOut(rm, Envelope{From: from, Frame: frame})
	r.mu.Unlock()
	broadcastsTotal.WithLabelValues("remote").Inc()
}

func (r *Registry) broadcastFrame(name types.RoomName, from types.PeerID, frame []byte, kind string) {
	r.mu.Lock()
	rm, ok := r.rooms[name]
	if ok {
		r.fanOut(rm, Envelope{From: from, Frame: frame})
	}
	r.mu.Unlock()
	if ok {
		broadcastsTotal.WithLabelValues(kind).Inc()
	}
}

// fanOut delivers to every peer feed, dropping the oldest entry of a full
// feed rather than blocking the sender. Callers hold r.mu.
func (r *Registry) fanOut(rm *room, env Envelope) {
	start := time.Now()
	for _, feed := range rm.peers {
		select {
		case feed <- env:
			continue
		default:
		}
		select {
		case <-feed:
			droppedFeedMessages.Inc()
		default:
		}
		select {
		case feed <- env:
		default:
			droppedFeedMessages.Inc()
		}
	}
	fanoutDuration.Observe(time.Since(start).Seconds())
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// PeerCount returns the number of peers in a room, zero if it is gone.
func (r *Registry) PeerCount(name types.RoomName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[name]; ok {
		return len(rm.peers)
	}
	return 0
}

// Snapshots returns the decoded latest snapshot per room for background
// archival. Rooms without a cached snapshot are skipped.
func (r *Registry) Snapshots() map[types.RoomName][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[types.RoomName][]byte{}
	for name, rm := range r.rooms {
		if rm.lastSync == "" {
			continue
		}
		raw, err := protocol.DecodeSyncData(rm.lastSync)
		if err != nil {
			continue
		}
		out[name] = raw
	}
	return out
}

func (r *Registry) saveSnapshot(name types.RoomName, data string) {
	raw, err := protocol.DecodeSyncData(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("room", string(name)).Msg("snapshot not persistable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Save(ctx, name, raw); err != nil {
		r.logger.Warn().Err(err).Str("room", string(name)).Msg("persist snapshot")
	}
}

func (r *Registry) deleteSnapshot(name types.RoomName) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Delete(ctx, name); err != nil {
		r.logger.Warn().Err(err).Str("room", string(name)).Msg("delete persisted snapshot")
	}
}
