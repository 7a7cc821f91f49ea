package signal

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry tracks which link belongs to which room and forwards
// envelopes between links. It holds no negotiation state: correctness
// of the handshake is entirely the clients' business, the registry is
// a relay. One coarse mutex guards both maps; join, relay and
// disconnect on the same room are therefore serialized.
type Registry struct {
	mu    sync.RWMutex
	links map[string]Conn            // every attached link, by participant id
	rooms map[string]map[string]Conn // room id -> member id -> link
	where map[string]string          // participant id -> room id
}

func NewRegistry() *Registry {
	return &Registry{
		links: make(map[string]Conn),
		rooms: make(map[string]map[string]Conn),
		where: make(map[string]string),
	}
}

// Attach registers a freshly connected link. Must be called before any
// other operation on that link.
func (r *Registry) Attach(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[conn.ID()] = conn
	log.Info().Str("module", "signal.registry").Str("id", conn.ID()).Msg("link attached")
}

// Join adds the link to the named room, creating the room on first
// join, and announces the newcomer to every other current member.
// A participant belongs to at most one room: joining while already in
// a different room leaves the old one first. Re-joining the same room
// is a no-op re-broadcast.
func (r *Registry) Join(conn Conn, roomID string) {
	id := conn.ID()

	r.mu.Lock()
	if prev, ok := r.where[id]; ok && prev != roomID {
		r.leaveLocked(id, prev)
	}
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[roomID] = room
	}
	room[id] = conn
	r.where[id] = roomID
	others := othersOf(room, id)
	r.mu.Unlock()

	log.Info().
		Str("module", "signal.registry").
		Str("id", id).
		Str("room", roomID).
		Int("members", len(others)+1).
		Msg("joined room")

	deliver(others, &Message{Type: TypeUserConnected, Participant: id})
}

// RelayOffer forwards an offer either to a single target or, when no
// target is named, to every other member of the room.
func (r *Registry) RelayOffer(from Conn, msg *Message) {
	out := &Message{
		Type:          TypeOffer,
		Sender:        from.ID(),
		SDP:           msg.SDP,
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}
	if msg.Target != "" {
		r.relayTo(msg.Target, out)
		return
	}

	r.mu.RLock()
	others := othersOf(r.rooms[msg.Room], from.ID())
	r.mu.RUnlock()

	deliver(others, out)
}

// RelayAnswer forwards an answer to exactly one link.
func (r *Registry) RelayAnswer(from Conn, msg *Message) {
	r.relayTo(msg.Target, &Message{
		Type:   TypeAnswer,
		Sender: from.ID(),
		SDP:    msg.SDP,
	})
}

// RelayCandidate forwards an ICE candidate to exactly one link.
func (r *Registry) RelayCandidate(from Conn, msg *Message) {
	r.relayTo(msg.Target, &Message{
		Type:          TypeICECandidate,
		Sender:        from.ID(),
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	})
}

// Disconnect removes the link from its room (deleting the room when it
// empties) and announces the departure to every other attached link,
// not just the room. Receivers that never exchanged media with the
// participant simply have no session to drop.
func (r *Registry) Disconnect(conn Conn) {
	id := conn.ID()

	r.mu.Lock()
	if roomID, ok := r.where[id]; ok {
		r.leaveLocked(id, roomID)
	}
	delete(r.links, id)
	rest := make([]Conn, 0, len(r.links))
	for _, c := range r.links {
		rest = append(rest, c)
	}
	r.mu.Unlock()

	log.Info().Str("module", "signal.registry").Str("id", id).Msg("link detached")

	deliver(rest, &Message{Type: TypeUserDisconnected, Participant: id})
}

// MemberCount reports the current size of a room. Zero for unknown rooms.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Rooms returns a snapshot of room ids and their member counts.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for id, room := range r.rooms {
		out[id] = len(room)
	}
	return out
}

// relayTo delivers to a single link. A stale target is silently
// dropped: this is a best-effort relay, not a guaranteed channel.
func (r *Registry) relayTo(target string, msg *Message) {
	r.mu.RLock()
	conn, ok := r.links[target]
	r.mu.RUnlock()
	if !ok {
		log.Debug().
			Str("module", "signal.registry").
			Str("type", msg.Type).
			Str("target", target).
			Msg("target gone, dropping")
		return
	}
	deliver([]Conn{conn}, msg)
}

func (r *Registry) leaveLocked(id, roomID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room, id)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	delete(r.where, id)
}

func othersOf(room map[string]Conn, except string) []Conn {
	out := make([]Conn, 0, len(room))
	for id, c := range room {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

func deliver(conns []Conn, msg *Message) {
	for _, c := range conns {
		if err := c.TrySend(msg); err != nil {
			log.Warn().
				Err(err).
				Str("module", "signal.registry").
				Str("type", msg.Type).
				Str("dst", c.ID()).
				Msg("delivery failed")
		}
	}
}
