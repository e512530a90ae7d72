package viewstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chattersync/pkg/directory"
	"chattersync/pkg/docstore/docstoretest"
	"chattersync/pkg/domain"
	"chattersync/pkg/messaging"
	"chattersync/pkg/search"
)

const waitTimeout = 2 * time.Second

func waitFor[T any](t *testing.T, slot *Slot[T], match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		changed := slot.Changed()
		v := slot.Load()
		if match(v) {
			return v
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot, last %+v", v)
		}
	}
}

func waitCalls(t *testing.T, calls func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for calls() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d calls, got %d", want, calls())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// newStack wires the real coordinators over one shared in-memory store.
func newStack(t *testing.T, store *docstoretest.Store, uid string) (*Orchestrator, *directory.Coordinator) {
	t.Helper()
	auth := docstoretest.SignedIn(uid)
	dir, err := directory.New(directory.Config{Store: store, Identity: auth})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	ch, err := messaging.NewChannel(messaging.Config{Store: store, Identity: auth})
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	sc, err := search.New(search.Config{Directory: dir})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	o, err := New(Config{Directory: dir, Messenger: ch, Searcher: sc})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(o.Close)
	return o, dir
}

func TestTwoUsersExchangeMessages(t *testing.T) {
	store := docstoretest.New()
	alice, _ := newStack(t, store, "u1")
	bob, _ := newStack(t, store, "u2")
	ctx := context.Background()

	for _, o := range []*Orchestrator{alice, bob} {
		if err := o.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if err := alice.UpdateProfile(ctx, "Alice", ""); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	waitFor(t, alice.Profile(), func(s ProfileState) bool {
		return !s.Loading && s.Profile != nil && s.Profile.Username == "Alice"
	})

	alice.SetActiveChat("u2")
	bob.SetActiveChat("u1")
	if _, err := alice.SendMessage(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := waitFor(t, bob.Chat(), func(s ChatState) bool { return len(s.Messages) == 1 })
	msg := got.Messages[0]
	if msg.SenderID != "u1" || msg.ReceiverID != "u2" || msg.Body != "hello" || msg.Read {
		t.Fatalf("unexpected message %+v", msg)
	}
	if bob.Phase(ScopeChat) != Active {
		t.Fatalf("expected active chat scope, got %v", bob.Phase(ScopeChat))
	}
	final := alice.Chat().Load()
	if final.Sending || final.Err != nil {
		t.Fatalf("unexpected chat state after send %+v", final)
	}
}

func TestSearchScenario(t *testing.T) {
	store := docstoretest.New()
	o, dir := newStack(t, store, "u1")
	ctx := context.Background()
	if err := dir.UpsertProfile(ctx, "jo", ""); err != nil {
		t.Fatalf("seed self: %v", err)
	}
	peer, _ := newStack(t, store, "u2")
	if err := peer.UpdateProfile(ctx, "John", ""); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	// Let the peer's own-profile subscription register before counting reads.
	waitFor(t, peer.Profile(), func(s ProfileState) bool { return s.Profile != nil })
	reads := store.Reads()

	o.UpdateSearch("j")
	if s := o.Search().Load(); s.Query != "j" || len(s.Results) != 0 {
		t.Fatalf("expected immediate empty results, got %+v", s)
	}
	if store.Reads() != reads {
		t.Fatalf("short query reached the store")
	}
	if o.Phase(ScopeSearch) == Active || o.Phase(ScopeSearch) == Subscribing {
		t.Fatalf("short query must not hold a subscription")
	}

	o.UpdateSearch("jo")
	got := waitFor(t, o.Search(), func(s SearchState) bool { return s.Query == "jo" && len(s.Results) > 0 })
	if len(got.Results) != 1 || got.Results[0].UID != "u2" {
		t.Fatalf("expected only u2, got %+v", got.Results)
	}

	o.UpdateSearch("")
	if s := o.Search().Load(); len(s.Results) != 0 || o.Phase(ScopeSearch) != Cancelled {
		t.Fatalf("expected search torn down, got %+v phase %v", s, o.Phase(ScopeSearch))
	}
}

func TestStartFailurePublishesAuthError(t *testing.T) {
	store := docstoretest.New()
	auth := docstoretest.SignedOut("u1")
	auth.FailSignIn(errors.New("offline"))
	dir, _ := directory.New(directory.Config{Store: store, Identity: auth})
	ch, _ := messaging.NewChannel(messaging.Config{Store: store, Identity: auth})
	sc, _ := search.New(search.Config{Directory: dir})
	o, _ := New(Config{Directory: dir, Messenger: ch, Searcher: sc})
	defer o.Close()

	if err := o.Start(context.Background()); !errors.Is(err, domain.ErrAuthUnavailable) {
		t.Fatalf("expected ErrAuthUnavailable, got %v", err)
	}
	s := o.Profile().Load()
	if s.Loading || !errors.Is(s.Err, domain.ErrAuthUnavailable) {
		t.Fatalf("unexpected profile state %+v", s)
	}
	if _, err := o.SendMessage(context.Background(), "hi"); !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("expected no active chat error, got %v", err)
	}
	if store.Writes() != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestUpdateProfileFailureIsPublished(t *testing.T) {
	store := docstoretest.New()
	o, _ := newStack(t, store, "u1")
	store.FailSet("users/u1", errors.New("denied"))
	if err := o.UpdateProfile(context.Background(), "alice", ""); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if s := o.Profile().Load(); !errors.Is(s.Err, domain.ErrTransport) {
		t.Fatalf("expected error in profile state, got %+v", s)
	}
}

// scriptedMessenger hands out one channel per ObserveThread call. The
// channels ignore cancellation, so they can deliver after their subscription
// was replaced.
type scriptedMessenger struct {
	mu       sync.Mutex
	streams  map[string]chan []domain.ChatMessage
	calls    int
	observed chan string
	failNext error
	sendErr  error
}

func newScriptedMessenger() *scriptedMessenger {
	return &scriptedMessenger{streams: make(map[string]chan []domain.ChatMessage), observed: make(chan string, 16)}
}

func (m *scriptedMessenger) ObserveThread(_ context.Context, peer string) (<-chan []domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	ch := make(chan []domain.ChatMessage, 4)
	m.streams[peer] = ch
	m.observed <- peer
	return ch, nil
}

func (m *scriptedMessenger) Send(_ context.Context, receiver, body string) (domain.ChatMessage, error) {
	if m.sendErr != nil {
		return domain.ChatMessage{}, m.sendErr
	}
	return domain.ChatMessage{ID: "m", SenderID: "u1", ReceiverID: receiver, Body: body}, nil
}

func (m *scriptedMessenger) stream(peer string) chan []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[peer]
}

func (m *scriptedMessenger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubDirectory struct {
	mu        sync.Mutex
	peerCalls int
	peers     map[string]chan *domain.UserProfile
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{peers: make(map[string]chan *domain.UserProfile)}
}

func (d *stubDirectory) EnsureSignedIn(context.Context) (domain.Identity, error) {
	return domain.Identity{UID: "u1"}, nil
}
func (d *stubDirectory) CurrentUserID() (string, bool)                         { return "u1", true }
func (d *stubDirectory) UpsertProfile(context.Context, string, string) error   { return nil }
func (d *stubDirectory) RefreshPushToken(context.Context) error                { return nil }
func (d *stubDirectory) ObserveOwnProfile(context.Context) <-chan *domain.UserProfile {
	return make(chan *domain.UserProfile)
}
func (d *stubDirectory) ObservePeerProfile(_ context.Context, peer string) <-chan *domain.UserProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerCalls++
	ch := make(chan *domain.UserProfile, 4)
	d.peers[peer] = ch
	return ch
}

func (d *stubDirectory) peer(id string) chan *domain.UserProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[id]
}

func (d *stubDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerCalls
}

type stubSearcher struct{}

func (stubSearcher) Eligible(q string) bool { return len(q) >= 2 }
func (stubSearcher) Stream(context.Context, string, string) <-chan []domain.UserProfile {
	return make(chan []domain.UserProfile)
}

func newScripted(t *testing.T) (*Orchestrator, *stubDirectory, *scriptedMessenger) {
	t.Helper()
	dir := newStubDirectory()
	msg := newScriptedMessenger()
	o, err := New(Config{Directory: dir, Messenger: msg, Searcher: stubSearcher{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(o.Close)
	return o, dir, msg
}

func TestReplacedChatNeverPublishesLate(t *testing.T) {
	o, _, msg := newScripted(t)

	o.SetActiveChat("A")
	<-msg.observed
	msg.stream("A") <- []domain.ChatMessage{{ID: "a1", Body: "from A"}}
	waitFor(t, o.Chat(), func(s ChatState) bool { return len(s.Messages) == 1 })

	o.SetActiveChat("B")
	<-msg.observed
	if s := o.Chat().Load(); s.PeerID != "B" || len(s.Messages) != 0 {
		t.Fatalf("switching chats must reset messages, got %+v", s)
	}

	// A notification for A arriving after the switch must be dropped.
	msg.stream("A") <- []domain.ChatMessage{{ID: "a2", Body: "late from A"}}
	msg.stream("B") <- []domain.ChatMessage{{ID: "b1", Body: "from B"}}
	got := waitFor(t, o.Chat(), func(s ChatState) bool { return len(s.Messages) > 0 })
	if got.PeerID != "B" || len(got.Messages) != 1 || got.Messages[0].ID != "b1" {
		t.Fatalf("unexpected chat state %+v", got)
	}
	time.Sleep(50 * time.Millisecond)
	for _, m := range o.Chat().Load().Messages {
		if m.ID == "a2" {
			t.Fatalf("late snapshot from replaced subscription was published")
		}
	}
}

func TestPublishWithStaleGenerationIsDropped(t *testing.T) {
	o, _, msg := newScripted(t)
	o.SetActiveChat("A")
	<-msg.observed

	o.mu.Lock()
	sc := &o.scopes[ScopeChat]
	stale := sc.gen
	o.mu.Unlock()

	o.SetActiveChat("B")
	<-msg.observed
	applied := o.publish(sc, stale, func() { t.Fatalf("stale update applied") })
	if applied {
		t.Fatalf("publish with a stale generation must report false")
	}
}

func TestObservePeerIsGatedOnSameTarget(t *testing.T) {
	o, dir, _ := newScripted(t)
	o.ObservePeer("u2")
	waitCalls(t, dir.calls, 1)
	o.ObservePeer("u2")
	time.Sleep(20 * time.Millisecond)
	if dir.calls() != 1 {
		t.Fatalf("expected one subscription, got %d", dir.calls())
	}
	dir.peer("u2") <- &domain.UserProfile{UID: "u2", Username: "bob"}
	waitFor(t, o.Peer(), func(p *domain.UserProfile) bool { return p != nil && p.UID == "u2" })

	o.ObservePeer("u3")
	waitCalls(t, dir.calls, 2)
	if o.Peer().Load() != nil {
		t.Fatalf("peer snapshot must reset when the target changes")
	}
	dir.peer("u2") <- &domain.UserProfile{UID: "u2", Username: "late"}
	time.Sleep(50 * time.Millisecond)
	if p := o.Peer().Load(); p != nil && p.UID == "u2" {
		t.Fatalf("late peer snapshot published: %+v", p)
	}

	o.ObservePeer("")
	if o.Peer().Load() != nil || o.Phase(ScopePeer) != Cancelled {
		t.Fatalf("expected torn down peer scope")
	}
}

func TestChatRegistrationFailureRestartsOnReentry(t *testing.T) {
	o, _, msg := newScripted(t)
	msg.failNext = errors.New("permission denied")
	o.SetActiveChat("B")
	got := waitFor(t, o.Chat(), func(s ChatState) bool { return s.Err != nil })
	if len(got.Messages) != 0 {
		t.Fatalf("expected empty messages on failure, got %+v", got)
	}
	deadline := time.Now().Add(waitTimeout)
	for o.Phase(ScopeChat) != Idle {
		if time.Now().After(deadline) {
			t.Fatalf("failed scope never returned to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	o.SetActiveChat("B")
	<-msg.observed
	if msg.callCount() != 2 {
		t.Fatalf("expected a fresh subscription, got %d calls", msg.callCount())
	}
}

func TestSendMessageUsesPeerProfileWithoutChat(t *testing.T) {
	o, dir, _ := newScripted(t)
	o.ObservePeer("u2")
	waitCalls(t, dir.calls, 1)
	dir.peer("u2") <- &domain.UserProfile{UID: "u2", Username: "bob"}
	waitFor(t, o.Peer(), func(p *domain.UserProfile) bool { return p != nil })

	sent, err := o.SendMessage(context.Background(), "hi")
	if err != nil || sent.ReceiverID != "u2" {
		t.Fatalf("send: %+v %v", sent, err)
	}
}

func TestSendMessageFailureIsPublished(t *testing.T) {
	o, _, msg := newScripted(t)
	msg.sendErr = domain.ErrTransport
	o.SetActiveChat("B")
	<-msg.observed
	if _, err := o.SendMessage(context.Background(), "hi"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	s := o.Chat().Load()
	if s.Sending || !errors.Is(s.Err, domain.ErrTransport) {
		t.Fatalf("unexpected chat state %+v", s)
	}
}

func TestCloseStopsEveryScope(t *testing.T) {
	o, dir, msg := newScripted(t)
	o.SetActiveChat("B")
	<-msg.observed
	o.ObservePeer("u2")
	o.Close()

	for _, s := range []Scope{ScopeChat, ScopePeer} {
		if o.Phase(s) != Cancelled {
			t.Fatalf("scope %v not cancelled: %v", s, o.Phase(s))
		}
	}
	o.ObservePeer("u3")
	if dir.calls() != 1 {
		t.Fatalf("intents after close must be ignored")
	}
	msg.stream("B") <- []domain.ChatMessage{{ID: "late"}}
	time.Sleep(20 * time.Millisecond)
	if len(o.Chat().Load().Messages) != 0 {
		t.Fatalf("published after close")
	}
}

func TestSlotChangedClosesOnStore(t *testing.T) {
	s := newSlot(1)
	changed := s.Changed()
	select {
	case <-changed:
		t.Fatalf("changed closed before store")
	default:
	}
	s.store(2)
	select {
	case <-changed:
	default:
		t.Fatalf("changed not closed after store")
	}
	if s.Load() != 2 {
		t.Fatalf("unexpected value %d", s.Load())
	}
}
