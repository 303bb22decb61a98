package bridge

import (
	"context"
	"encoding/json"
	"sync"
)

type postedMessage struct {
	TargetOrigin string
	Body         map[string]any
}

// fakeWindow records everything posted to it.
type fakeWindow struct {
	mu     sync.Mutex
	posted []postedMessage
	err    error
}

func (w *fakeWindow) PostMessage(msg any, targetOrigin string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.posted = append(w.posted, postedMessage{TargetOrigin: targetOrigin, Body: body})
	return w.err
}

func (w *fakeWindow) messages() []postedMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]postedMessage(nil), w.posted...)
}

// fakeFrame is an in-memory guest window with a synchronous dispatcher.
type fakeFrame struct {
	fakeWindow
	parent   Window
	hmu      sync.Mutex
	handlers map[int]MessageHandler
	next     int
}

func newFakeFrame(parent Window) *fakeFrame {
	return &fakeFrame{parent: parent, handlers: make(map[int]MessageHandler)}
}

func (f *fakeFrame) Parent() Window { return f.parent }

func (f *fakeFrame) AddMessageListener(h MessageHandler) func() {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = h
	return func() {
		f.hmu.Lock()
		defer f.hmu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeFrame) listenerCount() int {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	return len(f.handlers)
}

func (f *fakeFrame) dispatch(origin string, source Window, data any) {
	raw, _ := json.Marshal(data)
	f.dispatchRaw(origin, source, raw)
}

func (f *fakeFrame) dispatchRaw(origin string, source Window, raw []byte) {
	f.hmu.Lock()
	handlers := make([]MessageHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.hmu.Unlock()

	for _, h := range handlers {
		h(context.Background(), MessageEvent{Origin: origin, Data: raw, Source: source})
	}
}
