// Package wsbridge carries cross-window messages over a websocket: the guest
// dials the host's endpoint and the connection plays the role of the parent
// window.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wang-tianhao/iframe-identity-go/bridge"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	eventQueueSize = 64
)

// ErrClosed is returned by PostMessage after the frame stopped.
var ErrClosed = errors.New("wsbridge: frame closed")

// Options for Dial and Standalone.
type Options struct {
	// SelfOrigin is sent as the Origin header and used for messages posted to self.
	SelfOrigin string
	Header     http.Header
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Frame is a bridge.Frame whose parent, if any, is a websocket peer.
type Frame struct {
	origin string
	parent *remoteWindow
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[uint64]bridge.MessageHandler
	nextID   uint64

	events chan bridge.MessageEvent
	done   chan struct{}
	once   sync.Once
}

// remoteWindow is the parent end of the websocket.
type remoteWindow struct {
	origin string
	conn   *websocket.Conn
	log    *slog.Logger

	writeMu sync.Mutex
}

// Dial connects to the host's websocket endpoint at parentURL.
func Dial(ctx context.Context, parentURL string, opts Options) (*Frame, error) {
	origin, err := OriginOf(parentURL)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if opts.SelfOrigin != "" {
		header.Set("Origin", opts.SelfOrigin)
	}

	conn, _, err := dialer.DialContext(ctx, parentURL, header)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial parent %s: %w", origin, err)
	}
	conn.SetReadLimit(maxMessageSize)

	f := newFrame(opts)
	f.parent = &remoteWindow{origin: origin, conn: conn, log: f.log}
	return f, nil
}

// Standalone returns a top-level frame with no parent.
func Standalone(opts Options) *Frame {
	return newFrame(opts)
}

func newFrame(opts Options) *Frame {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Frame{
		origin:   opts.SelfOrigin,
		log:      logger.With("component", "wsbridge"),
		handlers: make(map[uint64]bridge.MessageHandler),
		events:   make(chan bridge.MessageEvent, eventQueueSize),
		done:     make(chan struct{}),
	}
}

// Parent implements bridge.Frame.
func (f *Frame) Parent() bridge.Window {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

// ParentOrigin returns the origin of the parent window, or "".
func (f *Frame) ParentOrigin() string {
	if f.parent == nil {
		return ""
	}
	return f.parent.origin
}

// AddMessageListener implements bridge.Frame.
func (f *Frame) AddMessageListener(h bridge.MessageHandler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

// PostMessage queues msg for this frame's own listeners, like posting to self.
func (f *Frame) PostMessage(msg any, targetOrigin string) error {
	if !targetMatches(targetOrigin, f.origin) {
		f.log.Debug("message to self dropped: target origin mismatch", "target_origin", targetOrigin)
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-f.done:
		return ErrClosed
	case f.events <- bridge.MessageEvent{Origin: f.origin, Data: data, Source: f}:
		return nil
	}
}

// Run delivers events to listeners one at a time until ctx is done or the
// parent connection closes. Closing ends the frame.
func (f *Frame) Run(ctx context.Context) error {
	defer f.Close()

	readErr := make(chan error, 1)
	if f.parent != nil {
		go f.readParent(readErr)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case ev := <-f.events:
			f.dispatch(ctx, ev)
		}
	}
}

// Close shuts the parent connection. Safe to call more than once.
func (f *Frame) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		if f.parent != nil {
			f.parent.writeMu.Lock()
			_ = f.parent.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			f.parent.writeMu.Unlock()
			err = f.parent.conn.Close()
		}
	})
	return err
}

func (f *Frame) dispatch(ctx context.Context, ev bridge.MessageEvent) {
	f.mu.Lock()
	handlers := make([]bridge.MessageHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (f *Frame) readParent(errc chan<- error) {
	for {
		kind, data, err := f.parent.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			select {
			case <-f.done:
			default:
				f.log.Debug("parent connection closed", "error", err)
			}
			errc <- err
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		ev := bridge.MessageEvent{Origin: f.parent.origin, Data: data, Source: f.parent}
		select {
		case f.events <- ev:
		case <-f.done:
			errc <- nil
			return
		}
	}
}

// PostMessage writes msg to the host. Like a browser, a target origin that
// does not match the host's origin drops the message silently.
func (w *remoteWindow) PostMessage(msg any, targetOrigin string) error {
	if !targetMatches(targetOrigin, w.origin) {
		w.log.Warn("message dropped: target origin does not match parent", "target_origin", targetOrigin, "parent_origin", w.origin)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func targetMatches(target, origin string) bool {
	return target == bridge.WildcardOrigin || target == origin
}

// OriginOf returns the web origin (scheme://host[:port]) for a ws, wss, http
// or https URL. Default ports are omitted.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("wsbridge: parse %q: %w", rawURL, err)
	}

	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("wsbridge: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("wsbridge: %q has no host", rawURL)
	}

	host := u.Hostname()
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}
