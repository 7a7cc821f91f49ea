package client

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"pi-stream/internal/signal"
)

// Role selects which side of the handshake this manager drives.
type Role int

const (
	// RoleSender owns the local track and offers it to every
	// participant the room announces.
	RoleSender Role = iota
	// RoleReceiver answers offers and renders the inbound track.
	RoleReceiver
)

const defaultRetryDelay = 2 * time.Second

// Config wires a Manager to its collaborators. Link and NewConn are
// required; Source is required for the sender role, Sink for the
// receiver role.
type Config struct {
	Role   Role
	RoomID string

	Link    Transport
	NewConn func() (MediaConn, error)

	Source TrackSource
	Sink   RenderSink

	// Mutate is the description policy applied to every locally
	// produced SDP. Defaults to MutateSDP.
	Mutate func(string) string

	// RetryDelay is the fixed backoff for media acquisition and room
	// rejoin. Defaults to 2s.
	RetryDelay    time.Duration
	StatsInterval time.Duration

	// OnStatus receives user-visible connection status strings.
	OnStatus func(status string)
	// OnSample receives derived link-quality readings per remote.
	OnSample func(remoteID string, s Sample)
}

// Manager joins a room and keeps one healthy peer session per remote
// participant, re-creating sessions as participants come, go and fail.
// All state lives on a single event loop: link events, transport
// callbacks and timers are funnelled into it, so none of the maps need
// locks and no handler overlaps another.
type Manager struct {
	cfg Config

	ctxMu sync.RWMutex
	ctx   context.Context

	peers map[string]*PeerSession

	// Participants announced before the local track was acquired;
	// their offers go out once acquisition completes.
	pendingOffers map[string]struct{}

	track     webrtc.TrackLocal
	acquiring bool
	linkUp    bool

	cmds chan func()
}

func NewManager(cfg Config) *Manager {
	if cfg.Mutate == nil {
		cfg.Mutate = MutateSDP
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Manager{
		cfg:           cfg,
		peers:         make(map[string]*PeerSession),
		pendingOffers: make(map[string]struct{}),
		cmds:          make(chan func(), 64),
	}
}

// Run drives the event loop until ctx is canceled. It owns the link
// lifecycle and tears every session down on exit.
func (m *Manager) Run(ctx context.Context) {
	m.ctxMu.Lock()
	m.ctx = ctx
	m.ctxMu.Unlock()
	go m.cfg.Link.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case ev := <-m.cfg.Link.Events():
			m.handleLink(ev)
		case fn := <-m.cmds:
			fn()
		}
	}
}

// enqueue funnels work from transport callbacks and timers onto the
// event loop.
func (m *Manager) enqueue(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.context().Done():
	}
}

func (m *Manager) context() context.Context {
	m.ctxMu.RLock()
	defer m.ctxMu.RUnlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *Manager) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { m.enqueue(fn) })
}

func (m *Manager) handleLink(ev LinkEvent) {
	switch ev.Kind {
	case LinkConnected:
		m.linkUp = true
		m.status("signaling connected")
		m.joinRoom()
		if m.cfg.Role == RoleSender && m.track == nil && !m.acquiring {
			m.acquireMedia()
		}
	case LinkDisconnected:
		m.linkUp = false
		m.status("signaling lost, reconnecting")
	case LinkMessage:
		m.dispatch(ev.Msg)
	}
}

func (m *Manager) dispatch(msg *signal.Message) {
	switch msg.Type {
	case signal.TypeUserConnected:
		if m.cfg.Role == RoleSender {
			m.initiateOffer(msg.Participant)
		}
	case signal.TypeUserDisconnected:
		delete(m.pendingOffers, msg.Participant)
		m.closePeer(msg.Participant)
	case signal.TypeOffer:
		if m.cfg.Role == RoleReceiver {
			m.handleOffer(msg.Sender, msg.SDP)
		}
	case signal.TypeAnswer:
		m.handleAnswer(msg.Sender, msg.SDP)
	case signal.TypeICECandidate:
		m.handleCandidate(msg)
	default:
		log.Warn().Str("module", "client.manager").Str("type", msg.Type).Msg("unknown signal")
	}
}

func (m *Manager) joinRoom() {
	m.send(&signal.Message{Type: signal.TypeJoinRoom, Room: m.cfg.RoomID})
}

// initiateOffer establishes a fresh session toward a newly announced
// participant and relays the mutated offer. Deferred while the local
// track is still being acquired.
func (m *Manager) initiateOffer(remoteID string) {
	if m.track == nil {
		m.pendingOffers[remoteID] = struct{}{}
		log.Info().
			Str("module", "client.manager").
			Str("remote", remoteID).
			Msg("participant waiting for local media")
		return
	}

	sess, ok := m.newPeer(remoteID)
	if !ok {
		return
	}
	if err := sess.Conn().AddTrack(m.track); err != nil {
		log.Error().Err(err).Str("module", "client.manager").Str("remote", remoteID).Msg("add track")
		m.abandon(sess)
		return
	}
	sdp, err := sess.StartOffer(m.cfg.Mutate)
	if err != nil {
		log.Error().Err(err).Str("module", "client.manager").Str("remote", remoteID).Msg("offer failed")
		m.abandon(sess)
		return
	}
	m.send(&signal.Message{
		Type:   signal.TypeOffer,
		Room:   m.cfg.RoomID,
		Target: remoteID,
		SDP:    sdp,
	})
}

func (m *Manager) handleOffer(remoteID, sdp string) {
	sess, ok := m.newPeer(remoteID)
	if !ok {
		return
	}
	answer, err := sess.AcceptOffer(sdp, m.cfg.Mutate)
	if err != nil {
		log.Error().Err(err).Str("module", "client.manager").Str("remote", remoteID).Msg("offer rejected")
		m.abandon(sess)
		return
	}
	m.send(&signal.Message{
		Type:   signal.TypeAnswer,
		Target: remoteID,
		SDP:    answer,
	})
}

func (m *Manager) handleAnswer(remoteID, sdp string) {
	sess, ok := m.peers[remoteID]
	if !ok {
		log.Warn().Str("module", "client.manager").Str("remote", remoteID).Msg("answer without session")
		return
	}
	if err := sess.AcceptAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "client.manager").Str("remote", remoteID).Msg("answer rejected")
		m.abandon(sess)
	}
}

func (m *Manager) handleCandidate(msg *signal.Message) {
	sess, ok := m.peers[msg.Sender]
	if !ok {
		log.Debug().Str("module", "client.manager").Str("remote", msg.Sender).Msg("candidate without session")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}
	if err := sess.AddCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "client.manager").Str("remote", msg.Sender).Msg("candidate rejected")
	}
}

// newPeer replaces any stale session for the remote and wires the
// transport callbacks back onto the event loop. Callbacks carry the
// session they were created for, so a callback from a replaced
// connection cannot touch its successor.
func (m *Manager) newPeer(remoteID string) (*PeerSession, bool) {
	if old, ok := m.peers[remoteID]; ok {
		old.Close()
		delete(m.peers, remoteID)
	}

	conn, err := m.cfg.NewConn()
	if err != nil {
		log.Error().Err(err).Str("module", "client.manager").Str("remote", remoteID).Msg("media connection failed")
		return nil, false
	}
	sess := NewPeerSession(remoteID, conn)
	m.peers[remoteID] = sess

	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		m.enqueue(func() {
			if m.peers[remoteID] != sess {
				return
			}
			m.send(&signal.Message{
				Type:          signal.TypeICECandidate,
				Target:        remoteID,
				Candidate:     cand.Candidate,
				SDPMid:        cand.SDPMid,
				SDPMLineIndex: cand.SDPMLineIndex,
			})
		})
	})
	conn.OnStateChange(func(state webrtc.PeerConnectionState) {
		m.enqueue(func() {
			if m.peers[remoteID] != sess {
				return
			}
			m.onPeerState(sess, state)
		})
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		m.enqueue(func() {
			if m.peers[remoteID] != sess {
				return
			}
			m.onPeerTrack(sess, track)
		})
	})

	return sess, true
}

func (m *Manager) onPeerState(sess *PeerSession, state webrtc.PeerConnectionState) {
	log.Info().
		Str("module", "client.manager").
		Str("remote", sess.RemoteID()).
		Str("state", state.String()).
		Msg("peer state")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.connectPeer(sess)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		sess.MarkFailed()
		m.closePeer(sess.RemoteID())
		m.status("peer lost, rejoining")
		m.after(m.cfg.RetryDelay, func() {
			if m.linkUp {
				m.joinRoom()
			}
		})
	}
}

func (m *Manager) onPeerTrack(sess *PeerSession, track *webrtc.TrackRemote) {
	m.connectPeer(sess)
	if m.cfg.Sink != nil && track != nil {
		go m.cfg.Sink.HandleTrack(m.context(), track, sess.Conn())
	}
}

func (m *Manager) connectPeer(sess *PeerSession) {
	if sess.State() == StateConnected || sess.State() == StateClosed {
		return
	}
	remoteID := sess.RemoteID()

	var monitor *StatsMonitor
	if m.cfg.OnSample != nil {
		monitor = NewStatsMonitor(sess.Conn(), m.cfg.Sink, m.cfg.StatsInterval, func(s Sample) {
			m.cfg.OnSample(remoteID, s)
		})
	}
	sess.MarkConnected(monitor)
	m.status("streaming")
}

// acquireMedia obtains the shared local track off-loop and retries
// forever on the fixed delay. Acquisition failure is never fatal.
func (m *Manager) acquireMedia() {
	m.acquiring = true
	ctx := m.context()
	go func() {
		track, err := m.cfg.Source.Acquire(ctx)
		m.enqueue(func() {
			m.acquiring = false
			if err != nil {
				log.Warn().Err(err).Str("module", "client.manager").Msg("media acquisition failed")
				m.status("camera unavailable, retrying")
				m.after(m.cfg.RetryDelay, func() {
					if m.track == nil && !m.acquiring {
						m.acquireMedia()
					}
				})
				return
			}
			m.track = track
			m.status("camera ready")
			for id := range m.pendingOffers {
				delete(m.pendingOffers, id)
				m.initiateOffer(id)
			}
		})
	}()
}

// abandon closes a session that hit a negotiation error. It is not
// retried in place; a later announcement re-establishes it.
func (m *Manager) abandon(sess *PeerSession) {
	m.closePeer(sess.RemoteID())
}

func (m *Manager) closePeer(remoteID string) {
	sess, ok := m.peers[remoteID]
	if !ok {
		return
	}
	sess.Close()
	delete(m.peers, remoteID)
	log.Info().Str("module", "client.manager").Str("remote", remoteID).Msg("peer session closed")
}

func (m *Manager) shutdown() {
	for id := range m.peers {
		m.closePeer(id)
	}
	if m.track != nil && m.cfg.Source != nil {
		m.cfg.Source.Release()
		m.track = nil
	}
}

func (m *Manager) send(msg *signal.Message) {
	if err := m.cfg.Link.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "client.manager").Str("type", msg.Type).Msg("send failed")
	}
}

func (m *Manager) status(s string) {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(s)
	}
}

// PeerCount reports how many live sessions the manager holds. Intended
// for diagnostics.
func (m *Manager) PeerCount() int {
	done := make(chan int, 1)
	m.enqueue(func() { done <- len(m.peers) })
	select {
	case n := <-done:
		return n
	case <-m.context().Done():
		return 0
	}
}
