// Package echo implements the server's reply policy: every message is logged
// and answered with a fixed acknowledgement to the sending session only.
package echo

import (
	"fmt"

	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/wsserver"
)

// Ack is the reply sent for every received message.
const Ack = "ok"

// Sender is the part of a session the handler writes to.
type Sender interface {
	ID() uint32
	Send(msg string) error
}

// Handler logs session lifecycle events and acknowledges messages. It keeps no
// state, so one Handler serves all sessions concurrently.
type Handler struct {
	log logger.Logger
}

var _ wsserver.Handler = (*Handler)(nil)

// NewHandler returns a Handler logging through log.
func NewHandler(log logger.Logger) *Handler {
	return &Handler{log: log}
}

// OnConnect implements wsserver.Handler.
func (h *Handler) OnConnect(session *wsserver.Session) {
	h.log.Info(fmt.Sprintf("new client connected and was given id %d", session.ID()),
		logger.Field{Key: "remote", Value: session.RemoteAddr()})
}

// OnDisconnect implements wsserver.Handler.
func (h *Handler) OnDisconnect(session *wsserver.Session, err error) {
	if err != nil {
		h.log.Info(fmt.Sprintf("client(%d) disconnected", session.ID()), logger.Field{Key: "error", Value: err})
		return
	}

	h.log.Info(fmt.Sprintf("client(%d) disconnected", session.ID()))
}

// OnMessage implements wsserver.Handler.
func (h *Handler) OnMessage(session *wsserver.Session, msg string) error {
	return h.Reply(session, msg)
}

// Reply logs msg and sends Ack back to s. A send failure is returned so the
// acceptor closes that session.
func (h *Handler) Reply(s Sender, msg string) error {
	h.log.Info(fmt.Sprintf("client(%d) said: %s", s.ID(), msg))

	if err := s.Send(Ack); err != nil {
		return fmt.Errorf("client(%d) reply: %w", s.ID(), err)
	}

	return nil
}
