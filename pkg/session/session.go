// Package session implements the per-connection control loop: it
// authenticates the peer, dispatches requests to the store off the socket
// goroutine, and fans resulting events out to every live session that
// should see them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/presence"
	"parley/pkg/store"
	"parley/pkg/telemetry"
	"parley/pkg/validation"
	"parley/pkg/wire"
)

// ErrSelfMessage rejects a direct message addressed to the sender.
var ErrSelfMessage = errors.New("cannot send a message to yourself")

// Conn is the transport surface a session needs. *websocket.Conn
// satisfies it; tests use an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options tune one session.
type Options struct {
	// EventBuffer sizes the delivery channel registered in presence.
	EventBuffer int
	// RPS and Burst bound inbound request frames per session; frames
	// over the limit are dropped with a warning.
	RPS   float64
	Burst int
}

// Session is one live connection. It starts Unauthenticated and becomes
// Authenticated(userID) after a successful RequestUsername; that state is
// terminal until disconnect.
type Session struct {
	conn     Conn
	store    *store.Store
	registry *presence.Registry
	pool     *Pool
	limiter  *rate.Limiter
	opts     Options
	log      *slog.Logger

	userID   uint64
	authed   bool
	delivery *presence.Handle
}

// New builds a session for an accepted connection.
func New(conn Conn, st *store.Store, reg *presence.Registry, pool *Pool, opts Options) *Session {
	if opts.RPS <= 0 {
		opts.RPS = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	return &Session{
		conn:     conn,
		store:    st,
		registry: reg,
		pool:     pool,
		limiter:  rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		opts:     opts,
		log:      logger.With("session", uuid.NewString()),
	}
}

// Run pumps the connection until it closes. It multiplexes two sources,
// inbound socket frames and the session's own delivery channel, and
// guarantees presence cleanup on every exit path.
func (s *Session) Run(ctx context.Context) {
	// a per-session context releases the reader goroutine on every exit
	// path, not only on process shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.cleanup()

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, inbound, readErr)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			s.log.Info("connection_closed", "err", err)
			return
		case raw := <-inbound:
			telemetry.FramesIn.Inc()
			if !s.limiter.Allow() {
				s.log.Warn("inbound_frame_rate_limited")
				continue
			}
			req, err := wire.DecodeClient(raw)
			if err != nil {
				// line noise or a version-mismatched client; drop the
				// frame, keep the connection
				telemetry.DecodeErrors.Inc()
				s.log.Warn("undecodable_frame", "err", err)
				continue
			}
			if !s.dispatch(ctx, req) {
				return
			}
		case ev := <-s.events():
			if !s.write(ev) {
				return
			}
		}
	}
}

// events returns the delivery source, or a nil (never-ready) channel
// before authentication.
func (s *Session) events() <-chan wire.ServerFrame {
	if s.delivery == nil {
		return nil
	}
	return s.delivery.Events()
}

func (s *Session) readLoop(ctx context.Context, inbound chan<- []byte, readErr chan<- error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

// cleanup runs on every loop exit: close the socket, and if the session
// authenticated, leave presence and tell everyone else.
func (s *Session) cleanup() {
	_ = s.conn.Close()
	if !s.authed {
		return
	}
	s.registry.Unregister(s.userID)
	telemetry.ConnectedSessions.Dec()
	s.broadcastOthers(wire.UserOffline{ID: s.userID})
	s.log.Info("session_closed", "user", s.userID)
}

// dispatch is the single request boundary: every store or protocol error
// becomes an Error event for this caller only. The bool result is false
// only when the socket died while replying.
func (s *Session) dispatch(ctx context.Context, req wire.ClientFrame) bool {
	if r, ok := req.(wire.RequestUsername); ok {
		if s.authed {
			// idempotent-rejecting: a second login attempt is a no-op
			s.log.Warn("duplicate_username_request_ignored", "user", s.userID)
			return true
		}
		return s.authenticate(ctx, r)
	}
	if !s.authed {
		s.log.Warn("request_before_authentication", "kind", fmt.Sprintf("%T", req))
		return true
	}

	var reply wire.ServerFrame
	var err error
	if perr := s.pool.Do(ctx, func() { reply, err = s.process(req) }); perr != nil {
		return true // shutting down; loop exits on ctx.Done
	}
	if err != nil {
		s.log.Warn("request_failed", "kind", fmt.Sprintf("%T", req), "err", err)
		return s.write(wire.Error{Message: err.Error()})
	}
	return s.write(reply)
}

// authenticate runs the login protocol for RequestUsername.
func (s *Session) authenticate(ctx context.Context, r wire.RequestUsername) bool {
	if err := validation.Username(r.Username); err != nil {
		s.log.Warn("invalid_username_rejected", "username", r.Username)
		return s.write(wire.Error{Message: err.Error()})
	}

	var (
		id      uint64
		created bool
		err     error
	)
	if perr := s.pool.Do(ctx, func() { id, created, err = s.resolveUser(r.Username) }); perr != nil {
		return true
	}
	if err != nil {
		s.log.Error("login_store_failure", "err", err)
		return s.write(wire.Error{Message: err.Error()})
	}

	h := presence.NewHandle(id, s.opts.EventBuffer)
	if err := s.registry.Register(h); err != nil {
		// the user id already has a live session somewhere else
		s.log.Warn("login_rejected_duplicate_session", "username", r.Username, "user", id)
		return s.write(wire.Error{Message: store.ErrUsernameInUse.Error()})
	}
	s.userID = id
	s.authed = true
	s.delivery = h
	telemetry.ConnectedSessions.Inc()

	if created {
		s.broadcastOthers(wire.UserAdded{ID: id, Username: r.Username})
	}
	s.broadcastOthers(wire.UserOnline{ID: id})

	var welcome wire.ServerFrame
	if perr := s.pool.Do(ctx, func() { welcome, err = s.buildWelcome(id) }); perr != nil {
		return true
	}
	if err != nil {
		s.log.Error("welcome_build_failed", "err", err)
		return s.write(wire.Error{Message: err.Error()})
	}
	s.log.Info("user_authenticated", "user", id, "username", r.Username)
	return s.write(welcome)
}

// resolveUser maps a username to an existing id or creates the user. A
// lost creation race against another login resolves to the winner's id.
func (s *Session) resolveUser(name string) (uint64, bool, error) {
	id, ok, err := s.store.UserByName(name)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return id, false, nil
	}
	id, err = s.store.CreateUser(name)
	if errors.Is(err, store.ErrUsernameInUse) {
		id, ok, err = s.store.UserByName(name)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, false, nil
		}
		return 0, false, store.ErrUsernameInUse
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// buildWelcome assembles the full user list with online flags plus every
// group the user belongs to, member names resolved.
func (s *Session) buildWelcome(id uint64) (wire.ServerFrame, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	entries := make([]wire.UserEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, wire.UserEntry{ID: u.ID, Username: u.Name, Online: s.registry.IsOnline(u.ID)})
	}
	groups, err := s.store.GroupsForUser(id)
	if err != nil {
		return nil, err
	}
	gs := make([]wire.GroupEntry, 0, len(groups))
	for _, g := range groups {
		e, err := s.groupEntry(g)
		if err != nil {
			return nil, err
		}
		gs = append(gs, e)
	}
	return wire.Welcome{UserID: id, Users: entries, Groups: gs}, nil
}

// process executes one authenticated request on a pool worker and returns
// the caller's reply. Mutations additionally fan out to every other live
// session that is a valid recipient of the result.
func (s *Session) process(req wire.ClientFrame) (wire.ServerFrame, error) {
	switch r := req.(type) {
	case wire.GetMessages:
		msgs, err := s.store.Messages(s.userID, r.Recipient)
		if err != nil {
			return nil, err
		}
		return wire.MessagesForRecipient{Recipient: r.Recipient, Messages: msgs}, nil

	case wire.SendMessage:
		if r.Recipient.IsUser() && r.Recipient.ID == s.userID {
			return nil, ErrSelfMessage
		}
		m, err := s.store.SendMessage(r.Body, s.userID, r.Recipient)
		if err != nil {
			return nil, err
		}
		ev := wire.MessageSent{Message: m}
		s.fanoutMessage(m, ev)
		return ev, nil

	case wire.EditMessage:
		m, err := s.store.EditMessageBody(r.ID, r.NewBody, s.userID)
		if err != nil {
			return nil, err
		}
		ev := wire.MessageEdited{Message: m}
		s.fanoutMessage(m, ev)
		return ev, nil

	case wire.EditTags:
		m, err := s.store.EditMessageTags(r.ID, r.NewTags, s.userID)
		if err != nil {
			return nil, err
		}
		ev := wire.MessageTagsEdited{Message: m}
		s.fanoutMessage(m, ev)
		return ev, nil

	case wire.DeleteMessage:
		m, err := s.store.DeleteMessage(r.ID, s.userID)
		if err != nil {
			return nil, err
		}
		ev := wire.MessageDeleted{Message: m}
		s.fanoutMessage(m, ev)
		return ev, nil

	case wire.CreateGroup:
		g, _, err := s.store.PutGroup(r.Name, r.Members, nil, s.userID)
		if err != nil {
			return nil, err
		}
		entry, err := s.groupEntry(g)
		if err != nil {
			return nil, err
		}
		ev := wire.GroupAdded{Group: entry}
		s.notifyUsers(g.Members, ev)
		return ev, nil

	case wire.EditGroup:
		g, prior, err := s.store.PutGroup(r.NewName, r.NewMembers, &r.ID, s.userID)
		if err != nil {
			return nil, err
		}
		entry, err := s.groupEntry(g)
		if err != nil {
			return nil, err
		}
		ev := wire.GroupEdited{Group: entry}
		// prior membership comes from the write itself, so members removed
		// by this very edit still hear about it
		s.notifyUsers(unionIDs(prior, g.Members), ev)
		return ev, nil

	case wire.DeleteGroup:
		members, err := s.store.DeleteGroup(r.ID, s.userID)
		if err != nil {
			return nil, err
		}
		ev := wire.GroupDeleted{ID: r.ID}
		s.notifyUsers(members, ev)
		return ev, nil
	}
	return nil, fmt.Errorf("unhandled request kind %T", req)
}

// fanoutMessage pushes ev to every other valid recipient of m: the direct
// recipient, or the group's current members (a fresh consistency read).
func (s *Session) fanoutMessage(m models.Message, ev wire.ServerFrame) {
	if m.Recipient.IsUser() {
		s.notifyUsers([]uint64{m.Recipient.ID}, ev)
		return
	}
	g, ok, err := s.store.GroupByID(m.Recipient.ID)
	if err != nil {
		s.log.Warn("fanout_membership_read_failed", "group", m.Recipient.ID, "err", err)
		return
	}
	if !ok {
		return
	}
	s.notifyUsers(g.Members, ev)
}

// notifyUsers delivers ev to each listed user's session if online,
// skipping the caller.
func (s *Session) notifyUsers(ids []uint64, ev wire.ServerFrame) {
	for _, id := range ids {
		if id == s.userID {
			continue
		}
		if h, ok := s.registry.Get(id); ok {
			h.Send(ev)
		}
	}
}

// broadcastOthers delivers ev to every live session except this one.
func (s *Session) broadcastOthers(ev wire.ServerFrame) {
	for _, h := range s.registry.Snapshot() {
		if h.UserID == s.userID {
			continue
		}
		h.Send(ev)
	}
}

// groupEntry resolves member names and online flags for a group event.
func (s *Session) groupEntry(g models.Group) (wire.GroupEntry, error) {
	members := make([]wire.UserEntry, 0, len(g.Members))
	for _, mid := range g.Members {
		name, ok, err := s.store.UserByID(mid)
		if err != nil {
			return wire.GroupEntry{}, err
		}
		if !ok {
			continue
		}
		members = append(members, wire.UserEntry{ID: mid, Username: name, Online: s.registry.IsOnline(mid)})
	}
	return wire.GroupEntry{ID: g.ID, Name: g.Name, Members: members}, nil
}

// write encodes and sends one frame on the socket. A write failure is a
// connection-fatal condition; encode failures are logged and skipped.
func (s *Session) write(f wire.ServerFrame) bool {
	data, err := wire.EncodeServer(f)
	if err != nil {
		s.log.Error("frame_encode_failed", "err", err)
		return true
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.log.Warn("socket_write_failed", "err", err)
		return false
	}
	telemetry.FramesOut.Inc()
	return true
}

func unionIDs(a, b []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(a)+len(b))
	var out []uint64
	for _, set := range [][]uint64{a, b} {
		for _, id := range set {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
