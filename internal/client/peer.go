package client

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerState is the negotiation phase of a single remote participant.
type PeerState int

const (
	StateNew PeerState = iota
	StateLocalDescSet
	StateRemoteDescSet
	StateConnected
	StateFailed
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLocalDescSet:
		return "local-desc-set"
	case StateRemoteDescSet:
		return "remote-desc-set"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var ErrSessionClosed = errors.New("peer session closed")

// PeerSession wraps one media connection to one remote participant.
// All methods must be called from the owning manager's event loop; the
// session itself holds no locks.
type PeerSession struct {
	remoteID string
	conn     MediaConn
	state    PeerState

	// Candidates that arrived before the remote description. Applying
	// them early is an error in the transport contract, so they wait
	// here and are flushed exactly once.
	early []webrtc.ICECandidateInit

	monitor *StatsMonitor
}

func NewPeerSession(remoteID string, conn MediaConn) *PeerSession {
	return &PeerSession{
		remoteID: remoteID,
		conn:     conn,
		state:    StateNew,
	}
}

func (s *PeerSession) RemoteID() string { return s.remoteID }
func (s *PeerSession) State() PeerState { return s.state }
func (s *PeerSession) Conn() MediaConn  { return s.conn }

// StartOffer creates, mutates and applies the local description, and
// returns the SDP to relay. Offerer side only.
func (s *PeerSession) StartOffer(mutate func(string) string) (string, error) {
	if s.state == StateClosed {
		return "", ErrSessionClosed
	}
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if mutate != nil {
		offer.SDP = mutate(offer.SDP)
	}
	if err = s.conn.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	s.state = StateLocalDescSet
	return offer.SDP, nil
}

// AcceptOffer applies a remote offer, flushes early candidates and
// produces the mutated answer SDP to relay back. Answerer side only.
func (s *PeerSession) AcceptOffer(sdp string, mutate func(string) string) (string, error) {
	if s.state == StateClosed {
		return "", ErrSessionClosed
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.conn.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	s.state = StateRemoteDescSet
	s.flushEarly()

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if mutate != nil {
		answer.SDP = mutate(answer.SDP)
	}
	if err = s.conn.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// AcceptAnswer applies the answer to a previously sent offer and
// flushes early candidates.
func (s *PeerSession) AcceptAnswer(sdp string) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.conn.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.state = StateRemoteDescSet
	s.flushEarly()
	return nil
}

// AddCandidate applies a remote candidate, or queues it when the
// remote description is not in place yet.
func (s *PeerSession) AddCandidate(cand webrtc.ICECandidateInit) error {
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateNew, StateLocalDescSet:
		s.early = append(s.early, cand)
		return nil
	}
	return s.conn.AddICECandidate(cand)
}

func (s *PeerSession) flushEarly() {
	for _, cand := range s.early {
		if err := s.conn.AddICECandidate(cand); err != nil {
			log.Warn().
				Err(err).
				Str("module", "client.peer").
				Str("remote", s.remoteID).
				Msg("early candidate rejected")
		}
	}
	s.early = nil
}

// MarkConnected records that media is flowing. The stats monitor, if
// any, is bound here so Close can stop it.
func (s *PeerSession) MarkConnected(monitor *StatsMonitor) {
	if s.state == StateClosed || s.state == StateConnected {
		return
	}
	s.state = StateConnected
	s.monitor = monitor
	if monitor != nil {
		monitor.Start()
	}
}

// MarkFailed flags a transport-level failure. The session does not
// self-heal; the owning manager decides what to re-establish.
func (s *PeerSession) MarkFailed() {
	if s.state == StateClosed {
		return
	}
	s.state = StateFailed
	s.stopMonitor()
}

// Close releases the media handle. Safe and idempotent from any state;
// the stats monitor is stopped synchronously before the connection is
// released so no timer outlives the handle.
func (s *PeerSession) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.stopMonitor()
	if err := s.conn.Close(); err != nil {
		log.Warn().
			Err(err).
			Str("module", "client.peer").
			Str("remote", s.remoteID).
			Msg("media connection close")
	}
	s.early = nil
}

func (s *PeerSession) stopMonitor() {
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
}
