// Package viewstate owns every live subscription behind the client's view
// state and publishes one snapshot slot per scope.
//
// Each scope carries a generation number. Replacing or tearing down a scope
// cancels its task and bumps the generation under the orchestrator lock, and
// every publish re-checks the generation under the same lock. A notification
// that was already in flight when its subscription was cancelled therefore
// finds a newer generation and is dropped.
package viewstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chattersync/pkg/domain"
)

// Directory is the profile side of the orchestrator.
type Directory interface {
	EnsureSignedIn(ctx context.Context) (domain.Identity, error)
	CurrentUserID() (string, bool)
	UpsertProfile(ctx context.Context, username, displayName string) error
	RefreshPushToken(ctx context.Context) error
	ObserveOwnProfile(ctx context.Context) <-chan *domain.UserProfile
	ObservePeerProfile(ctx context.Context, peerID string) <-chan *domain.UserProfile
}

// Messenger sends messages and follows a thread.
type Messenger interface {
	Send(ctx context.Context, receiverID, body string) (domain.ChatMessage, error)
	ObserveThread(ctx context.Context, withUserID string) (<-chan []domain.ChatMessage, error)
}

// Searcher runs username searches.
type Searcher interface {
	Eligible(query string) bool
	Stream(ctx context.Context, query, selfID string) <-chan []domain.UserProfile
}

var ErrNoActiveChat = fmt.Errorf("%w: no active conversation", domain.ErrInvalidParticipant)

type Config struct {
	Directory Directory
	Messenger Messenger
	Searcher  Searcher
	Logger    *slog.Logger
}

type scope struct {
	kind   Scope
	gen    uint64
	target string
	phase  Phase
	live   bool
	cancel context.CancelFunc
}

type Orchestrator struct {
	dir    Directory
	msg    Messenger
	search Searcher
	logger *slog.Logger

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	scopes   [4]scope
	inFlight int

	profile *Slot[ProfileState]
	peer    *Slot[*domain.UserProfile]
	chat    *Slot[ChatState]
	results *Slot[SearchState]
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Directory == nil || cfg.Messenger == nil || cfg.Searcher == nil {
		return nil, errors.New("viewstate: directory, messenger and searcher are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		dir:     cfg.Directory,
		msg:     cfg.Messenger,
		search:  cfg.Searcher,
		logger:  logger,
		root:    root,
		stop:    stop,
		profile: newSlot(ProfileState{Loading: true}),
		peer:    newSlot[*domain.UserProfile](nil),
		chat:    newSlot(ChatState{Messages: []domain.ChatMessage{}}),
		results: newSlot(SearchState{Results: []domain.UserProfile{}}),
	}
	for i := range o.scopes {
		o.scopes[i].kind = Scope(i)
	}
	return o, nil
}

func (o *Orchestrator) Profile() *Slot[ProfileState]      { return o.profile }
func (o *Orchestrator) Peer() *Slot[*domain.UserProfile] { return o.peer }
func (o *Orchestrator) Chat() *Slot[ChatState]           { return o.chat }
func (o *Orchestrator) Search() *Slot[SearchState]       { return o.results }

// Phase reports the lifecycle phase of s.
func (o *Orchestrator) Phase(s Scope) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scopes[s].phase
}

// Start signs in, refreshes the push token and follows the own profile.
func (o *Orchestrator) Start(ctx context.Context) error {
	id, err := o.dir.EnsureSignedIn(ctx)
	if err != nil {
		o.mu.Lock()
		o.profile.store(ProfileState{Err: err})
		o.mu.Unlock()
		return err
	}
	if err := o.dir.RefreshPushToken(ctx); err != nil {
		o.logger.Warn("push token refresh failed", "uid", id.UID, "err", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.followOwnProfileLocked(id.UID)
	return nil
}

func (o *Orchestrator) followOwnProfileLocked(uid string) {
	if o.closed {
		return
	}
	sc := &o.scopes[ScopeOwnProfile]
	ctx, gen := o.replaceLocked(sc, uid)
	current := o.profile.Load()
	o.profile.store(ProfileState{Loading: true, Profile: current.Profile})
	o.spawn(func() {
		drain(ctx, o.dir.ObserveOwnProfile(ctx), func(p *domain.UserProfile) bool {
			return o.publish(sc, gen, func() {
				o.profile.store(ProfileState{Profile: p})
			})
		})
		o.finish(sc, gen)
	})
}

// UpdateProfile upserts the own profile. A failure is also published into
// the profile state.
func (o *Orchestrator) UpdateProfile(ctx context.Context, username, displayName string) error {
	err := o.dir.UpsertProfile(ctx, username, displayName)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return err
	}
	current := o.profile.Load()
	if err != nil {
		o.profile.store(ProfileState{Loading: current.Loading, Profile: current.Profile, Err: err})
		return err
	}
	uid, _ := o.dir.CurrentUserID()
	sc := &o.scopes[ScopeOwnProfile]
	if sc.target != uid || !sc.live {
		o.followOwnProfileLocked(uid)
	} else if current.Err != nil {
		o.profile.store(ProfileState{Loading: current.Loading, Profile: current.Profile})
	}
	return nil
}

// ObservePeer follows peerID's profile. An empty id tears the scope down.
func (o *Orchestrator) ObservePeer(peerID string) {
	peerID = strings.TrimSpace(peerID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	sc := &o.scopes[ScopePeer]
	if peerID == "" {
		o.cancelLocked(sc)
		o.peer.store(nil)
		return
	}
	if sc.target == peerID && sc.live {
		return
	}
	ctx, gen := o.replaceLocked(sc, peerID)
	o.peer.store(nil)
	o.spawn(func() {
		drain(ctx, o.dir.ObservePeerProfile(ctx, peerID), func(p *domain.UserProfile) bool {
			return o.publish(sc, gen, func() { o.peer.store(p) })
		})
		o.finish(sc, gen)
	})
}

// SetActiveChat follows the thread with peerID. An empty id tears the scope
// down. Switching peers resets the message list.
func (o *Orchestrator) SetActiveChat(peerID string) {
	peerID = strings.TrimSpace(peerID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	sc := &o.scopes[ScopeChat]
	if peerID == "" {
		o.cancelLocked(sc)
		o.chat.store(ChatState{Messages: []domain.ChatMessage{}, Sending: o.inFlight > 0})
		return
	}
	if sc.target == peerID && sc.live {
		return
	}
	ctx, gen := o.replaceLocked(sc, peerID)
	o.chat.store(ChatState{PeerID: peerID, Messages: []domain.ChatMessage{}, Sending: o.inFlight > 0})
	o.spawn(func() {
		defer o.finish(sc, gen)
		messages, err := o.msg.ObserveThread(ctx, peerID)
		if err != nil {
			o.logger.Warn("thread subscription failed", "peer_id", peerID, "err", err)
			o.publish(sc, gen, func() {
				o.chat.store(o.chatWith(func(s *ChatState) { s.Err = err }))
			})
			return
		}
		drain(ctx, messages, func(list []domain.ChatMessage) bool {
			return o.publish(sc, gen, func() {
				o.chat.store(o.chatWith(func(s *ChatState) { s.Messages = list }))
			})
		})
	})
}

// UpdateSearch replaces the search subscription. A query below the minimum
// length tears the scope down and publishes an empty result list at once.
func (o *Orchestrator) UpdateSearch(query string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	sc := &o.scopes[ScopeSearch]
	if !o.search.Eligible(query) {
		o.cancelLocked(sc)
		o.results.store(SearchState{Query: query, Results: []domain.UserProfile{}})
		return
	}
	if sc.target == query && sc.live {
		return
	}
	selfID, _ := o.dir.CurrentUserID()
	ctx, gen := o.replaceLocked(sc, query)
	o.results.store(SearchState{Query: query, Results: o.results.Load().Results})
	o.spawn(func() {
		drain(ctx, o.search.Stream(ctx, query, selfID), func(results []domain.UserProfile) bool {
			return o.publish(sc, gen, func() {
				o.results.store(SearchState{Query: query, Results: results})
			})
		})
		o.finish(sc, gen)
	})
}

// SendMessage sends body to the active chat peer, falling back to the
// observed peer profile. The outcome is published into the chat state.
func (o *Orchestrator) SendMessage(ctx context.Context, body string) (domain.ChatMessage, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ChatMessage{}, errors.New("viewstate: closed")
	}
	receiver := o.scopes[ScopeChat].target
	if receiver == "" {
		if p := o.peer.Load(); p != nil {
			receiver = p.UID
		}
	}
	if receiver == "" {
		o.chat.store(o.chatWith(func(s *ChatState) { s.Err = ErrNoActiveChat }))
		o.mu.Unlock()
		return domain.ChatMessage{}, ErrNoActiveChat
	}
	o.inFlight++
	o.chat.store(o.chatWith(func(s *ChatState) {
		s.Sending = true
		s.Err = nil
	}))
	o.mu.Unlock()

	msg, err := o.msg.Send(ctx, receiver, body)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight--
	if !o.closed {
		o.chat.store(o.chatWith(func(s *ChatState) {
			s.Sending = o.inFlight > 0
			s.Err = err
		}))
	}
	return msg, err
}

// Close cancels every scope and waits for their tasks to return.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		for i := range o.scopes {
			o.cancelLocked(&o.scopes[i])
		}
		o.stop()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// replaceLocked stops the scope's current task before handing out the
// context and generation of its successor.
func (o *Orchestrator) replaceLocked(sc *scope, target string) (context.Context, uint64) {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.gen++
	ctx, cancel := context.WithCancel(o.root)
	sc.cancel = cancel
	sc.target = target
	sc.phase = Subscribing
	sc.live = true
	o.logger.Debug("scope subscribing", "scope", sc.kind.String(), "target", target, "gen", sc.gen)
	return ctx, sc.gen
}

func (o *Orchestrator) cancelLocked(sc *scope) {
	if sc.cancel != nil {
		sc.cancel()
		sc.cancel = nil
	}
	sc.gen++
	sc.target = ""
	sc.live = false
	if sc.phase != Idle {
		sc.phase = Cancelled
	}
}

// publish applies an update only while gen is still the scope's current
// generation. It reports false once the subscription has been superseded.
func (o *Orchestrator) publish(sc *scope, gen uint64, apply func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || sc.gen != gen {
		return false
	}
	sc.phase = Active
	apply()
	return true
}

// finish marks a task that ended on its own, e.g. after a failed
// registration, so the next request for the same target restarts it.
func (o *Orchestrator) finish(sc *scope, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sc.gen != gen {
		return
	}
	sc.live = false
	sc.phase = Idle
	if sc.cancel != nil {
		sc.cancel()
		sc.cancel = nil
	}
}

func (o *Orchestrator) spawn(task func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		task()
	}()
}

// chatWith copies the current chat snapshot and applies edit to the copy.
func (o *Orchestrator) chatWith(edit func(*ChatState)) ChatState {
	next := o.chat.Load()
	edit(&next)
	return next
}

// drain feeds values from ch to fn until ch closes, ctx is done or fn
// returns false.
func drain[T any](ctx context.Context, ch <-chan T, fn func(T) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok || !fn(v) {
				return
			}
		}
	}
}
