package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReplier struct {
	mu       sync.Mutex
	posts    []string
	messages []string
	history  []string
}

func (f *fakeReplier) ReplyForPost(_ context.Context, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return "Hawa wako na stock\n\nautopartspro.shop\nwa.me/254700123456"
}

func (f *fakeReplier) ReplyForMessage(_ context.Context, text, history string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	f.history = append(f.history, history)
	return "Iko, 18,500 delivered"
}

func (f *fakeReplier) Online() bool { return false }

func (f *fakeReplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts) + len(f.messages)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []string
	err     error
	panics  bool
	block   chan struct{}
	started chan struct{}
	ctxErrs []error
}

func (f *fakeDispatcher) SubmitReply(ctx context.Context, item domain.RawItem, text string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("reply box vanished")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, item.Fingerprint()+"|"+text)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// slowLedger widens the gap between the existence check and the insert.
type slowLedger struct {
	*storage.MemoryStore
	delay time.Duration
}

func (s *slowLedger) Exists(ctx context.Context, fp string) (bool, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Exists(ctx, fp)
}

type brokenLedger struct {
	*storage.MemoryStore
}

func (brokenLedger) Exists(context.Context, string) (bool, error) {
	return false, &domain.StorageError{Op: "exists", Err: errors.New("database is locked")}
}

// fakeSession replays fixed posts per group and acts as its own dispatcher.
type fakeSession struct {
	*fakeDispatcher
	account  string
	posts    map[string][]domain.RawItem
	fetchErr map[string]error
	onPost   func(domain.RawItem)
	closed   bool
}

func (s *fakeSession) Posts(_ context.Context, group string) iter.Seq2[domain.RawItem, error] {
	return func(yield func(domain.RawItem, error) bool) {
		if err := s.fetchErr[group]; err != nil {
			yield(domain.RawItem{}, err)
			return
		}
		for _, p := range s.posts[group] {
			p.Session = s.account
			if s.onPost != nil {
				s.onPost(p)
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *fakeSession) History(ctx context.Context, group string) iter.Seq2[domain.RawItem, error] {
	return s.Posts(ctx, group)
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	fail     map[string]error
	opened   []string
}

func (o *fakeOpener) Open(_ context.Context, account string) (ports.GroupSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, account)
	if err := o.fail[account]; err != nil {
		return nil, err
	}
	return o.sessions[account], nil
}

func (o *fakeOpener) OpenHistory(ctx context.Context, account string) (ports.HistorySource, error) {
	s, err := o.Open(ctx, account)
	if err != nil {
		return nil, err
	}
	return s.(*fakeSession), nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return nil
}

func post(group, text string) domain.RawItem {
	return domain.RawItem{SourceRef: group, Text: text}
}

func newTestPipeline(ledger ports.LeadLedger, replier ports.Replier) *Pipeline {
	return NewPipeline(PipelineDeps{Ledger: ledger, Replier: replier, Matcher: NewMatcher(nil)})
}

func facebookChannel(d ports.Dispatcher) Channel {
	return Channel{Platform: domain.PlatformFacebook, Dispatcher: d, Compose: PostComposer, DispatchTimeout: time.Second}
}
