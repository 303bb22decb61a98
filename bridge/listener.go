package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Wang-tianhao/iframe-identity-go/session"
)

// State of a Listener.
type State int32

const (
	// Idle: not mounted yet.
	Idle State = iota
	// Listening: handler registered and announcement sent.
	Listening
	// Resolved: at least one identity has been accepted.
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Resolved:
		return "resolved"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrAlreadyMounted is returned when Mount is called twice.
	ErrAlreadyMounted = errors.New("bridge: listener already mounted")
	// ErrOriginRejected means the sender's origin is not on the allow-list.
	ErrOriginRejected = errors.New("bridge: origin not allowed")
	// ErrIgnored means the message is not addressed to this listener.
	ErrIgnored = errors.New("bridge: message ignored")
	// ErrDisposed means the listener was torn down before the message completed.
	ErrDisposed = errors.New("bridge: listener disposed")
)

// Options configure a Listener.
type Options struct {
	// AllowedOrigins defaults to ["*"], accepting any sender.
	AllowedOrigins []string
	// MessageType defaults to Mode.DefaultMessageType().
	MessageType string
	Mode        PayloadMode
	// Verifier is required in TokenPayload mode.
	Verifier TokenVerifier
	// IdentityClaim names the token claim used as identity; defaults to "sub".
	IdentityClaim string
	// Session receives resolved identities. Required.
	Session *session.Store
	// OnIdentity is invoked after each successful resolution.
	OnIdentity func(session.Identity)
	// AnnounceTargetOrigin restricts the REQUEST_EMAIL announcement; defaults to "*".
	AnnounceTargetOrigin string
	Logger               *slog.Logger
}

// Listener runs the guest side of the handshake for one frame.
type Listener struct {
	opts Options
	log  *slog.Logger

	mu sync.Mutex // serializes message handling; the session has one writer
	// commitMu orders the final liveness check and the session write
	// against dispose.
	commitMu sync.Mutex
	state    atomic.Int32
	alive   atomic.Bool
	mounted atomic.Bool
	frame   Frame
}

// NewListener validates opts and fills defaults.
func NewListener(opts Options) (*Listener, error) {
	if opts.Session == nil {
		return nil, errors.New("bridge: session store is required")
	}
	if opts.Mode == TokenPayload && opts.Verifier == nil {
		return nil, errors.New("bridge: token payload mode requires a verifier")
	}
	if opts.Mode != EmailPayload && opts.Mode != TokenPayload {
		return nil, fmt.Errorf("bridge: unsupported payload mode %v", opts.Mode)
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{WildcardOrigin}
	}
	if opts.MessageType == "" {
		opts.MessageType = opts.Mode.DefaultMessageType()
	}
	if opts.IdentityClaim == "" {
		opts.IdentityClaim = "sub"
	}
	if opts.AnnounceTargetOrigin == "" {
		opts.AnnounceTargetOrigin = WildcardOrigin
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		opts: opts,
		log:  logger.With("component", "bridge", "payload", opts.Mode.String(), "message_type", opts.MessageType),
	}

	if IsPermissive(opts.AllowedOrigins) {
		l.log.Warn("accepting handshake messages from any origin; set an explicit allow-list to restrict senders")
	}
	return l, nil
}

// State returns the current handshake state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Mount registers the message handler on frame and, when frame is embedded,
// announces the guest to its parent. The returned dispose func unregisters the
// handler; it is safe to call more than once, and any message still being
// processed when it runs is discarded.
func (l *Listener) Mount(frame Frame) (dispose func(), err error) {
	if !l.mounted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyMounted
	}

	l.frame = frame
	l.alive.Store(true)
	l.state.Store(int32(Listening))
	remove := frame.AddMessageListener(l.handle)

	if parent := frame.Parent(); parent != nil {
		announcement := Announcement{Type: TypeRequestEmail}
		if err := parent.PostMessage(announcement, l.opts.AnnounceTargetOrigin); err != nil {
			l.log.Warn("identity request to parent failed", "error", err)
		} else {
			l.log.Debug("identity requested from parent", "target_origin", l.opts.AnnounceTargetOrigin)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.commitMu.Lock()
			l.alive.Store(false)
			l.commitMu.Unlock()
			remove()
			l.log.Debug("listener disposed")
		})
	}, nil
}

func (l *Listener) handle(ctx context.Context, ev MessageEvent) {
	log := l.log.With("handshake_id", uuid.New().String(), "origin", ev.Origin)

	id, err := l.process(ctx, ev, log)
	switch {
	case err == nil:
		log.InfoContext(ctx, "identity resolved", "email", id.Email)
	case errors.Is(err, ErrIgnored), errors.Is(err, ErrDisposed):
		log.DebugContext(ctx, "message dropped", "reason", err)
	case errors.Is(err, ErrOriginRejected):
		log.WarnContext(ctx, "message from unauthorized origin")
	default:
		log.WarnContext(ctx, "handshake message rejected", "error", err)
	}
}

// process runs the origin, type, extraction and resolution steps for one event.
func (l *Listener) process(ctx context.Context, ev MessageEvent, log *slog.Logger) (session.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.alive.Load() {
		return session.Identity{}, ErrDisposed
	}

	if !OriginAllowed(l.opts.AllowedOrigins, ev.Origin) {
		return session.Identity{}, ErrOriginRejected
	}

	var msg envelope
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		return session.Identity{}, fmt.Errorf("%w: not a JSON envelope", ErrIgnored)
	}
	if msg.Type != l.opts.MessageType {
		return session.Identity{}, fmt.Errorf("%w: type %q", ErrIgnored, msg.Type)
	}

	cred, err := l.extract(ctx, msg.Data)
	if err != nil {
		return session.Identity{}, err
	}

	id := session.Identity{
		Email:         cred.email,
		FromHandshake: true,
		Origin:        ev.Origin,
		AppSessionID:  cred.appSessionID,
		ResolvedAt:    time.Now(),
	}
	if err := l.commit(id); err != nil {
		return session.Identity{}, err
	}

	if l.opts.OnIdentity != nil {
		l.opts.OnIdentity(id)
	}

	if ev.Source != nil && ev.Source != Window(l.frame) {
		ack := Acknowledgment{Type: TypeEmailReceived, Email: id.Email, Success: true}
		if err := ev.Source.PostMessage(ack, ev.Origin); err != nil {
			log.WarnContext(ctx, "acknowledgment not delivered", "error", err)
		}
	}
	return id, nil
}

// commit writes id to the session unless dispose ran first. Verification may
// have outlived the mount.
func (l *Listener) commit(id session.Identity) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if !l.alive.Load() {
		return ErrDisposed
	}
	if err := l.opts.Session.Resolve(id); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	l.state.Store(int32(Resolved))
	return nil
}

func (l *Listener) extract(ctx context.Context, data json.RawMessage) (credential, error) {
	if len(data) == 0 {
		return credential{}, fmt.Errorf("%w: no data", ErrMalformedPayload)
	}
	if l.opts.Mode == TokenPayload {
		return extractToken(ctx, data, l.opts.Verifier, l.opts.IdentityClaim)
	}
	return extractEmail(data)
}
