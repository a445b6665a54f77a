// Package router dispatches inbound user messages to the handler for the
// user's current conversational state. Handlers are registered per state
// up front; dispatch is a single table lookup, never a conditional chain.
package router

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/movetrader/movebot/internal/session"
)

// Replies for the two dispatch dead ends.
const (
	noSessionReply = "No active flow. Send /trade to start one."
	lostStateReply = "That flow went stale and was reset. Send /trade to start again."
)

// Message is one inbound user message.
type Message struct {
	UserID int64
	ChatID int64
	Text   string
}

// HandlerFunc processes a message for one conversational state and returns
// the reply to send. An empty reply sends nothing.
type HandlerFunc func(ctx context.Context, msg Message) (string, error)

// SessionStore is the slice of the session store the router needs.
type SessionStore interface {
	State(userID int64) (session.State, bool)
	Clear(userID int64)
}

var _ SessionStore = (*session.Store)(nil)

// Router owns the state-to-handler table.
type Router struct {
	sessions SessionStore
	handlers map[session.State]HandlerFunc
	logger   *log.Logger
}

// New creates a router over the given session store. A nil logger
// discards output.
func New(sessions SessionStore, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Router{
		sessions: sessions,
		handlers: make(map[session.State]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to a state. Registering the same state twice is
// a wiring bug and panics.
func (r *Router) Register(state session.State, handler HandlerFunc) {
	if _, dup := r.handlers[state]; dup {
		panic(fmt.Sprintf("router: duplicate handler for state %q", state))
	}
	r.handlers[state] = handler
}

// Dispatch routes one message by the sender's session state. Commands are
// not the router's job and pass through silently; messages without a live
// session get a pointer to the entry command; a session in a state nobody
// handles is cleared and the user told to start over.
func (r *Router) Dispatch(ctx context.Context, msg Message) (string, error) {
	if strings.HasPrefix(msg.Text, "/") {
		return "", nil
	}

	state, ok := r.sessions.State(msg.UserID)
	if !ok {
		return noSessionReply, nil
	}

	handler, ok := r.handlers[state]
	if !ok {
		r.logger.Printf("Warning: user %d stuck in unhandled state %q, clearing session", msg.UserID, state)
		r.sessions.Clear(msg.UserID)
		return lostStateReply, nil
	}

	return handler(ctx, msg)
}
