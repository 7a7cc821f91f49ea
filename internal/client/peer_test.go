package client

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestPeerSessionOffererStateProgression(t *testing.T) {
	conn := newFakeMediaConn()
	sess := NewPeerSession("remote", conn)

	if sess.State() != StateNew {
		t.Fatalf("initial state = %v, want new", sess.State())
	}

	sdp, err := sess.StartOffer(nil)
	if err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if sdp == "" {
		t.Fatal("StartOffer returned empty sdp")
	}
	if sess.State() != StateLocalDescSet {
		t.Fatalf("state after offer = %v, want local-desc-set", sess.State())
	}

	if err = sess.AcceptAnswer("v=0\r\n"); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
	if sess.State() != StateRemoteDescSet {
		t.Fatalf("state after answer = %v, want remote-desc-set", sess.State())
	}
}

func TestPeerSessionEarlyCandidatesFlushedExactlyOnce(t *testing.T) {
	conn := newFakeMediaConn()
	sess := NewPeerSession("remote", conn)

	if _, err := sess.StartOffer(nil); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	// The remote description is not set yet: candidates must queue,
	// never touch the transport.
	if err := sess.AddCandidate(cand("candidate:1")); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if err := sess.AddCandidate(cand("candidate:2")); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if got := conn.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	if err := sess.AcceptAnswer("v=0\r\n"); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
	got := conn.appliedCandidates()
	if len(got) != 2 {
		t.Fatalf("expected 2 flushed candidates, got %d", len(got))
	}
	if got[0].Candidate != "candidate:1" || got[1].Candidate != "candidate:2" {
		t.Errorf("flush reordered candidates: %v", got)
	}

	// Later candidates go straight through.
	if err := sess.AddCandidate(cand("candidate:3")); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if got = conn.appliedCandidates(); len(got) != 3 {
		t.Fatalf("expected direct apply after flush, got %d candidates", len(got))
	}
}

func TestPeerSessionAnswererFlushesOnOffer(t *testing.T) {
	conn := newFakeMediaConn()
	sess := NewPeerSession("remote", conn)

	if err := sess.AddCandidate(cand("candidate:1")); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}

	mutated := false
	answer, err := sess.AcceptOffer("v=0\r\nm=video 9 RTP 96\r\n", func(s string) string {
		mutated = true
		return s
	})
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if answer == "" {
		t.Fatal("empty answer")
	}
	if !mutated {
		t.Error("description policy was not applied to the answer")
	}
	if sess.State() != StateRemoteDescSet {
		t.Fatalf("state = %v, want remote-desc-set", sess.State())
	}
	if got := conn.appliedCandidates(); len(got) != 1 {
		t.Fatalf("expected early candidate flushed, got %d", len(got))
	}
}

func TestPeerSessionClosedIsAbsorbing(t *testing.T) {
	conn := newFakeMediaConn()
	sess := NewPeerSession("remote", conn)

	sess.Close()
	if sess.State() != StateClosed {
		t.Fatalf("state = %v, want closed", sess.State())
	}

	if _, err := sess.StartOffer(nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("StartOffer after close: %v", err)
	}
	if _, err := sess.AcceptOffer("v=0", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AcceptOffer after close: %v", err)
	}
	if err := sess.AcceptAnswer("v=0"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AcceptAnswer after close: %v", err)
	}
	if err := sess.AddCandidate(cand("candidate:1")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AddCandidate after close: %v", err)
	}

	sess.MarkConnected(nil)
	sess.MarkFailed()
	if sess.State() != StateClosed {
		t.Errorf("state mutated after close: %v", sess.State())
	}

	sess.Close()
	if n := conn.closeCount(); n != 1 {
		t.Errorf("connection closed %d times, want 1", n)
	}
}

func TestPeerSessionCloseReachableFromEveryState(t *testing.T) {
	build := map[string]func() *PeerSession{
		"new": func() *PeerSession {
			return NewPeerSession("r", newFakeMediaConn())
		},
		"local-desc-set": func() *PeerSession {
			s := NewPeerSession("r", newFakeMediaConn())
			if _, err := s.StartOffer(nil); err != nil {
				t.Fatal(err)
			}
			return s
		},
		"remote-desc-set": func() *PeerSession {
			s := NewPeerSession("r", newFakeMediaConn())
			if _, err := s.AcceptOffer("v=0", nil); err != nil {
				t.Fatal(err)
			}
			return s
		},
		"connected": func() *PeerSession {
			s := NewPeerSession("r", newFakeMediaConn())
			s.MarkConnected(nil)
			return s
		},
		"failed": func() *PeerSession {
			s := NewPeerSession("r", newFakeMediaConn())
			s.MarkFailed()
			return s
		},
	}
	for name, mk := range build {
		s := mk()
		s.Close()
		if s.State() != StateClosed {
			t.Errorf("close from %s: state = %v", name, s.State())
		}
	}
}

func TestPeerSessionFailureStopsMonitor(t *testing.T) {
	conn := newFakeMediaConn()
	sess := NewPeerSession("remote", conn)

	mon := NewStatsMonitor(conn, nil, defaultStatsInterval, nil)
	sess.MarkConnected(mon)
	sess.MarkFailed()

	// Stop must have completed; a second Stop returns immediately.
	mon.Stop()
	if sess.State() != StateFailed {
		t.Fatalf("state = %v, want failed", sess.State())
	}
}
