package client

import (
	"context"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// TrackSource is the capture collaborator. It owns the underlying
// device; the session layer only borrows the track handle it returns.
// Acquire may fail transiently (device busy, encoder not up yet) and
// is retried by the manager on a fixed delay.
type TrackSource interface {
	Acquire(ctx context.Context) (webrtc.TrackLocal, error)
	Release()
}

// RTCPWriter sends receiver reports back over the media connection,
// used by the render collaborator to request keyframes.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RenderSink is the render collaborator. Besides consuming the remote
// track it exposes the counters the stats monitor derives frame rate
// and resolution from.
type RenderSink interface {
	HandleTrack(ctx context.Context, track *webrtc.TrackRemote, rtcpWriter RTCPWriter)
	FramesRendered() uint64
	FrameSize() (width, height int, ok bool)
}

// MediaConn is the opaque peer-connection capability. The production
// implementation wraps a pion PeerConnection (internal/rtc); tests use
// hand-rolled fakes. Callbacks fire on the transport's goroutines, so
// the manager re-queues them onto its own event loop.
type MediaConn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(*webrtc.TrackRemote))
	OnStateChange(fn func(webrtc.PeerConnectionState))

	WriteRTCP(pkts []rtcp.Packet) error
	LinkStats() (LinkStats, bool)
	Close() error
}
