// Package ws is the transport gateway: the single bidirectional,
// event-addressed websocket per client. Authentication happens before the
// upgrade (JWT middleware), so a Connection only ever exists for a verified
// identity.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peerchat/internal/chat"
	"peerchat/internal/event"
	"peerchat/internal/metrics"
	"peerchat/internal/middleware"
	"peerchat/internal/presence"
	"peerchat/internal/registry"
	"peerchat/internal/signal"
)

const opTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the web client's deploy host is settled.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Gateway struct {
	reg      *registry.Registry
	relay    *chat.Relay
	coord    *signal.Coordinator
	presence *presence.Announcer
	log      zerolog.Logger
}

func NewGateway(reg *registry.Registry, relay *chat.Relay, coord *signal.Coordinator, pres *presence.Announcer, log zerolog.Logger) *Gateway {
	return &Gateway{
		reg:      reg,
		relay:    relay,
		coord:    coord,
		presence: pres,
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// ServeWS upgrades an authenticated request, registers the connection and
// starts its pumps. Returns immediately; the pumps own the connection.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(ident, conn)
	g.reg.Register(c)
	metrics.ActiveConnections.Inc()
	g.log.Info().Str("user", ident.ID).Str("conn", c.ID()).Msg("connected")

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	g.presence.Announce(ctx, ident.ID)
	cancel()

	go c.writePump()
	go func() {
		c.readPump(func(raw []byte) { g.dispatch(c, raw) })
		g.onClose(c)
	}()
}

// dispatch routes one inbound frame. Malformed frames and failures of the
// caller's own making are answered with an error event on the same
// connection; they never affect other users.
func (g *Gateway) dispatch(c *Connection, raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		g.sendError(c, "bad-frame", "malformed frame")
		return
	}

	switch env.Event {
	case event.KindSendMessage:
		var p event.SendMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "bad-payload", "malformed send-message payload")
			return
		}
		g.handleSend(c, p)

	case event.KindCallInitiate:
		var p event.CallInitiate
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "bad-payload", "malformed call-initiate payload")
			return
		}
		if err := g.coord.Initiate(c.Identity(), p.CalleeID, p.Offer); err != nil {
			switch {
			case errors.Is(err, signal.ErrCallConflict):
				g.sendError(c, "call-conflict", "a call to this user is already in progress")
			default:
				g.sendError(c, "bad-call-target", err.Error())
			}
		}

	case event.KindCallAccept:
		var p event.CallAccept
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "bad-payload", "malformed call-accept payload")
			return
		}
		g.coord.Accept(c.UserID(), p.CallerID, p.Answer)

	case event.KindCallICE:
		var p event.CallICE
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "bad-payload", "malformed call-ice payload")
			return
		}
		g.coord.RelayICE(c.UserID(), p.TargetID, p.Candidate)

	case event.KindCallHangup:
		var p event.CallHangup
		if err := json.Unmarshal(env.Data, &p); err != nil {
			g.sendError(c, "bad-payload", "malformed call-hangup payload")
			return
		}
		g.coord.Hangup(c.UserID(), p.TargetID)

	default:
		g.sendError(c, "unknown-event", "unknown event kind: "+env.Event)
	}
}

func (g *Gateway) handleSend(c *Connection, p event.SendMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rec, err := g.relay.Send(ctx, c.Identity(), p.RecipientID, p.Body)
	switch {
	case errors.Is(err, chat.ErrValidation):
		g.sendError(c, "validation", err.Error())
	case errors.Is(err, chat.ErrStorage):
		// The client must learn the message was NOT delivered.
		g.sendError(c, "storage", "message could not be stored and was not delivered")
	case err != nil:
		g.sendError(c, "internal", "send failed")
	default:
		g.log.Debug().
			Str("message", rec.Message.ID).
			Int("notified", rec.Notified).
			Msg("message relayed")
	}
}

// onClose runs after the read pump exits: unregister, and when this was the
// user's last connection, retract presence and tear down their calls.
func (g *Gateway) onClose(c *Connection) {
	last := g.reg.Unregister(c)
	metrics.ActiveConnections.Dec()
	g.log.Info().Str("user", c.UserID()).Str("conn", c.ID()).Msg("disconnected")

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		g.presence.Retract(ctx, c.UserID())
		cancel()
		g.coord.HandleDisconnect(c.UserID())
	}
}

func (g *Gateway) sendError(c *Connection, code, msg string) {
	frame := event.MustEncode(event.KindError, event.Error{Code: code, Message: msg})
	if err := c.Send(frame); err != nil {
		g.log.Debug().Str("conn", c.ID()).Err(err).Msg("error frame not delivered")
	}
}
