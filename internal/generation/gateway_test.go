package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/templates"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	replies []string
	err     error
	prompts []string
}

func (f *fakeBackend) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "generated", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

var testLinks = Links{ShopURL: "autopartspro.shop", WhatsAppNumber: "254700123456"}

func TestOnlineOnlyWithBackend(t *testing.T) {
	t.Parallel()

	assert.False(t, NewGateway(nil, nil, Options{}).Online())
	assert.True(t, NewGateway(&fakeBackend{}, nil, Options{}).Online())
}

func TestReplyForPostAppendsLinks(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{replies: []string{"Hawa jamaa ni legit"}}
	gw := NewGateway(backend, templates.New([]string{"fallback"}, nil), Options{Links: testLinks})

	got := gw.ReplyForPost(context.Background(), "WTB clutch kit for Subaru")

	assert.Equal(t, "Hawa jamaa ni legit\n\nautopartspro.shop\nwa.me/254700123456", got)
	require.Len(t, backend.prompts, 1)
	assert.Contains(t, backend.prompts[0], "WTB clutch kit for Subaru")
	assert.Contains(t, backend.prompts[0], "Never sound like staff")
}

func TestFailureTakesGatewayOfflinePermanently(t *testing.T) {
	t.Parallel()

	var transitions []bool
	backend := &fakeBackend{err: errors.New("timeout")}
	gw := NewGateway(backend, templates.New([]string{"only template"}, nil), Options{
		Links:    testLinks,
		OnHealth: func(v bool) { transitions = append(transitions, v) },
	})

	first := gw.ReplyForPost(context.Background(), "need radiator")
	assert.Equal(t, "only template"+testLinks.Suffix(), first)
	assert.False(t, gw.Online())

	backend.err = nil
	second := gw.ReplyForPost(context.Background(), "need radiator")
	assert.Equal(t, "only template"+testLinks.Suffix(), second)
	assert.Equal(t, 1, backend.calls, "offline gateway must not call the backend")

	_, err := gw.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)

	gw.Reconfigure(backend)
	assert.True(t, gw.Online())
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestEmptyCompletionIsFailure(t *testing.T) {
	t.Parallel()

	gw := NewGateway(&fakeBackend{replies: []string{""}}, templates.New(nil, []string{"tpl"}), Options{})
	assert.Equal(t, "tpl", gw.ReplyForMessage(context.Background(), "bei?", ""))
	assert.False(t, gw.Online())
}

func TestReplyForMessageHasNoLinks(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{replies: []string{"Hiyo ni 18,500 delivered"}}
	gw := NewGateway(backend, nil, Options{Links: testLinks})

	got := gw.ReplyForMessage(context.Background(), "how much?", "Customer: hi")

	assert.Equal(t, "Hiyo ni 18,500 delivered", got)
	assert.NotContains(t, got, testLinks.ShopURL)
	assert.Contains(t, backend.prompts[0], "History: Customer: hi")
	assert.Contains(t, backend.prompts[0], "close the sale")
}

func TestFallbackSentenceWhenPoolEmpty(t *testing.T) {
	t.Parallel()

	gw := NewGateway(nil, templates.New(nil, nil), Options{Links: testLinks})

	post := gw.ReplyForPost(context.Background(), "iso bumper")
	assert.Equal(t, "Check out autopartspro.shop for quality parts!"+testLinks.Suffix(), post)
	assert.Equal(t, "Check out autopartspro.shop for quality parts!", gw.ReplyForMessage(context.Background(), "hi", ""))
}

func TestOfflineFallbackIsUniform(t *testing.T) {
	t.Parallel()

	pool := templates.New([]string{"one", "two"}, []string{"three"})
	gw := NewGateway(nil, pool, Options{Links: testLinks})

	const samples = 3000
	counts := map[string]int{}
	for i := 0; i < samples; i++ {
		reply := gw.ReplyForPost(context.Background(), "wtb")
		require.True(t, strings.HasSuffix(reply, testLinks.Suffix()))
		counts[strings.TrimSuffix(reply, testLinks.Suffix())]++
	}

	require.Len(t, counts, 3)
	// Expected 1000 each; the bounds sit roughly seven standard deviations out.
	for body, n := range counts {
		assert.InDelta(t, samples/3, n, 180, "template %q drawn %d times", body, n)
	}
}

func TestCancelledCallerKeepsGatewayOnline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gw := NewGateway(&fakeBackend{err: context.Canceled}, templates.New([]string{"tpl"}, nil), Options{})

	_, err := gw.Complete(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, gw.Online())
}

// blockingBackend answers only when its context ends.
type blockingBackend struct{}

func (blockingBackend) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRequestTimeoutTakesGatewayOffline(t *testing.T) {
	t.Parallel()

	var health []bool
	gw := NewGateway(blockingBackend{}, templates.New(nil, []string{"tpl"}), Options{
		OnHealth: func(online bool) { health = append(health, online) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.Complete(ctx, "x")
	require.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.False(t, gw.Online())
	assert.Equal(t, []bool{true, false}, health)

	// Later requests go straight to templates; the backend would block forever.
	assert.Equal(t, "tpl", gw.ReplyForMessage(context.Background(), "hi", ""))
}
