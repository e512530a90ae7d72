package docstore

import (
	"context"
	"sync"
)

// hub fans change signals out to in-process watchers. Each watcher runs its
// own goroutine and re-reads the current state on every signal, so bursts of
// writes coalesce into a single delivery of the latest snapshot.
type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

type watcher struct {
	hub    *hub
	key    string
	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newHub() *hub {
	return &hub{watchers: make(map[*watcher]struct{})}
}

// watch registers emit under key and schedules an initial delivery.
func (h *hub) watch(ctx context.Context, key string, emit func(context.Context)) *watcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		hub:    h,
		key:    key,
		notify: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	w.notify <- struct{}{}
	go w.run(wctx, emit)
	return w
}

func (w *watcher) run(ctx context.Context, emit func(context.Context)) {
	defer close(w.done)
	defer w.hub.remove(w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
			if ctx.Err() != nil {
				return
			}
			emit(ctx)
		}
	}
}

// publish signals every watcher registered under one of keys.
func (h *hub) publish(keys ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		for _, key := range keys {
			if w.key != key {
				continue
			}
			select {
			case w.notify <- struct{}{}:
			default:
			}
			break
		}
	}
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Remove stops the watcher and waits for an in-flight delivery to return.
func (w *watcher) Remove() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (h *hub) closeAll() {
	h.mu.Lock()
	all := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		all = append(all, w)
	}
	h.mu.Unlock()
	for _, w := range all {
		w.Remove()
	}
}
