package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	readLimit    = 64 * 1024
	sendBufDepth = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller exposes the registry over a websocket endpoint. Each
// upgraded connection gets a fresh participant id for the lifetime of
// that link.
type Controller struct {
	Registry *Registry
}

func NewController(reg *Registry) *Controller {
	return &Controller{Registry: reg}
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := uuid.NewString()
	conn := newWSConn(id, ws, sendBufDepth)
	ctl.Registry.Attach(conn)

	log.Info().Str("module", "signal").Str("id", id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("id", c.id).Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer func() {
		cancel()
		c.Close()
		ctl.Registry.Disconnect(c)
		log.Info().Str("module", "signal").Str("id", c.id).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Str("module", "signal").Str("id", c.id).Msg("connection closed")
				} else {
					log.Warn().Err(err).Str("module", "signal").Str("id", c.id).Msg("read error")
				}
				return
			}
			ctl.dispatch(c, data)
		}
	}
}

func (ctl *Controller) dispatch(c *wsConn, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("id", c.id).Msg("bad json")
		return
	}

	switch msg.Type {
	case TypeJoinRoom:
		ctl.Registry.Join(c, msg.Room)
	case TypeOffer:
		ctl.Registry.RelayOffer(c, &msg)
	case TypeAnswer:
		ctl.Registry.RelayAnswer(c, &msg)
	case TypeICECandidate:
		ctl.Registry.RelayCandidate(c, &msg)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
	}
}
