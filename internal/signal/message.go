package signal

// Wire event names. These are the contract between the relay and the
// clients; payloads ride in the same envelope.
const (
	TypeJoinRoom         = "join-room"
	TypeUserConnected    = "user-connected"
	TypeUserDisconnected = "user-disconnected"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
)

// Message is the JSON envelope for every signaling event. Which fields
// are meaningful depends on Type: the relay itself only looks at Type,
// Room and Target, and stamps Sender on everything it forwards.
type Message struct {
	Type   string `json:"type"`
	Room   string `json:"room,omitempty"`
	Target string `json:"target,omitempty"`
	Sender string `json:"sender,omitempty"`

	// SDP carries the opaque session description for offer/answer.
	SDP string `json:"sdp,omitempty"`

	// ICE candidate fields, opaque to the relay.
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// Participant names the subject of user-connected/user-disconnected.
	Participant string `json:"participant,omitempty"`
}
