package client

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pi-stream/internal/signal"
)

const (
	linkWriteWait  = 10 * time.Second
	linkPongWait   = 60 * time.Second
	linkPingPeriod = (linkPongWait * 9) / 10
	linkReadLimit  = 64 * 1024

	// Fixed reconnect delay; attempts are unbounded.
	linkRetryDelay = 2 * time.Second
)

// LinkEventKind tags events emitted by a Transport.
type LinkEventKind int

const (
	LinkConnected LinkEventKind = iota
	LinkDisconnected
	LinkMessage
)

// LinkEvent is one lifecycle or message event from the signaling link.
type LinkEvent struct {
	Kind LinkEventKind
	Msg  *signal.Message
	Err  error
}

// Transport is the bidirectional signaling channel the manager drives.
// Implemented by Link in production and by in-memory pairs in tests.
type Transport interface {
	Run(ctx context.Context)
	Events() <-chan LinkEvent
	Send(msg *signal.Message) error
}

// Link is a websocket Transport with automatic reconnection. Outbound
// messages sent while the link is down are dropped; the manager
// re-joins the room on every reconnect, which re-establishes whatever
// state the drop lost.
type Link struct {
	url        string
	retryDelay time.Duration

	events chan LinkEvent
	out    chan *signal.Message
}

func NewLink(url string) *Link {
	return &Link{
		url:        url,
		retryDelay: linkRetryDelay,
		events:     make(chan LinkEvent, 32),
		out:        make(chan *signal.Message, 32),
	}
}

func (l *Link) Events() <-chan LinkEvent { return l.events }

func (l *Link) Send(msg *signal.Message) error {
	select {
	case l.out <- msg:
		return nil
	default:
		return signal.ErrBackpressure
	}
}

// Run dials and re-dials the signaling server until ctx is canceled.
func (l *Link) Run(ctx context.Context) {
	for {
		if err := l.session(ctx); err != nil {
			log.Warn().Err(err).Str("module", "client.link").Msg("link down")
			l.emit(ctx, LinkEvent{Kind: LinkDisconnected, Err: err})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Link) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}

	log.Info().Str("module", "client.link").Str("url", l.url).Msg("link connected")
	l.emit(ctx, LinkEvent{Kind: LinkConnected})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go l.readPump(sessCtx, conn, errc)
	go l.writePump(sessCtx, conn, errc)

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(linkWriteWait))
		_ = conn.Close()
		return nil
	case err = <-errc:
		_ = conn.Close()
		return err
	}
}

func (l *Link) readPump(ctx context.Context, conn *websocket.Conn, errc chan<- error) {
	conn.SetReadLimit(linkReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(linkPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(linkPongWait))

	for {
		var msg signal.Message
		if err := conn.ReadJSON(&msg); err != nil {
			errc <- err
			return
		}
		l.emit(ctx, LinkEvent{Kind: LinkMessage, Msg: &msg})
	}
}

func (l *Link) writePump(ctx context.Context, conn *websocket.Conn, errc chan<- error) {
	ticker := time.NewTicker(linkPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.out:
			_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				errc <- err
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				errc <- err
				return
			}
		}
	}
}

func (l *Link) emit(ctx context.Context, ev LinkEvent) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}
