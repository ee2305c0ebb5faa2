package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/generation"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/ports"
	"LeadScanner/internal/templates"
)

func TestProcessKeywordMatchWithDeliveredReplyIsHot(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	replier := &fakeReplier{}
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(ledger, replier)

	res, err := p.Process(context.Background(), post("kenya-car-parts", "WTB clutch kit for Subaru, Nairobi"), facebookChannel(dispatcher))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeReplied, res.Outcome)
	assert.Equal(t, domain.QualityHot, res.Item.Quality)
	assert.True(t, res.Item.Replied)
	assert.Equal(t, []string{"WTB clutch kit for Subaru, Nairobi"}, replier.posts)
	require.Equal(t, 1, dispatcher.count())
	assert.True(t, strings.HasSuffix(res.Reply, "autopartspro.shop\nwa.me/254700123456"))
}

func TestProcessNonMatchIsColdWithoutGeneration(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	replier := &fakeReplier{}
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(ledger, replier)

	res, err := p.Process(context.Background(), post("g", "Beautiful sunset today"), facebookChannel(dispatcher))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeNotLead, res.Outcome)
	assert.Equal(t, domain.QualityCold, res.Item.Quality)
	assert.False(t, res.Item.Replied)
	assert.Zero(t, replier.calls())
	assert.Zero(t, dispatcher.count())
}

func TestProcessFailedDispatchIsWarm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		dispatcher *fakeDispatcher
	}{
		{name: "error", dispatcher: &fakeDispatcher{err: errors.New("reply box missing")}},
		{name: "panic", dispatcher: &fakeDispatcher{panics: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestPipeline(storage.NewMemoryStore(), &fakeReplier{})

			res, err := p.Process(context.Background(), post("g", "need a radiator for probox"), facebookChannel(tc.dispatcher))
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeFailed, res.Outcome)
			assert.Equal(t, domain.QualityWarm, res.Item.Quality)
			assert.False(t, res.Item.Replied)
		})
	}
}

func TestProcessNilDispatcherIsWarm(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(storage.NewMemoryStore(), &fakeReplier{})
	res, err := p.Process(context.Background(), post("g", "wtb mirror"), Channel{Platform: domain.PlatformFacebook})
	require.NoError(t, err)
	assert.Equal(t, domain.QualityWarm, res.Item.Quality)
}

func TestProcessIsIdempotent(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(ledger, &fakeReplier{})
	item := post("g", "ISO side mirror for Axio")
	ctx := context.Background()

	first, err := p.Process(ctx, item, facebookChannel(dispatcher))
	require.NoError(t, err)
	second, err := p.Process(ctx, item, facebookChannel(dispatcher))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeReplied, first.Outcome)
	assert.Equal(t, domain.OutcomeSkipped, second.Outcome)
	assert.Equal(t, first.Item, second.Item)
	assert.Equal(t, 1, dispatcher.count())

	totals, err := ledger.Totals(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Total)
}

func TestProcessNativeIDWinsOverContent(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(storage.NewMemoryStore(), &fakeReplier{})
	ctx := context.Background()

	_, err := p.Process(ctx, domain.RawItem{SourceRef: "g", Text: "wtb rims", NativeID: "post-42"}, facebookChannel(dispatcher))
	require.NoError(t, err)
	res, err := p.Process(ctx, domain.RawItem{SourceRef: "g", Text: "wtb rims (edited)", NativeID: "post-42"}, facebookChannel(dispatcher))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, dispatcher.count())
}

func TestConcurrentProcessSameFingerprint(t *testing.T) {
	t.Parallel()

	ledger := &slowLedger{MemoryStore: storage.NewMemoryStore(), delay: 20 * time.Millisecond}
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(ledger, &fakeReplier{})
	item := post("g", "looking for a gearbox, Mombasa")

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan Result, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := p.Process(context.Background(), item, facebookChannel(dispatcher))
			assert.NoError(t, err)
			results <- res
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	outcomes := map[domain.Outcome]int{}
	for res := range results {
		outcomes[res.Outcome]++
	}
	assert.Equal(t, map[domain.Outcome]int{
		domain.OutcomeReplied: 1,
		domain.OutcomeSkipped: callers - 1,
	}, outcomes, "only the caller that dispatched reports the reply")
	assert.Equal(t, 1, dispatcher.count())

	items, err := ledger.ListLeads(context.Background(), domain.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTwoPipelinesShareOneRecord(t *testing.T) {
	t.Parallel()

	// Two processes on one database: each has its own in-flight set, so only
	// the ledger's atomic insert keeps the record unique.
	ledger := &slowLedger{MemoryStore: storage.NewMemoryStore(), delay: 20 * time.Millisecond}
	a := newTestPipeline(ledger, &fakeReplier{})
	b := newTestPipeline(ledger, &fakeReplier{})
	item := post("g", "need shocks")

	var wg sync.WaitGroup
	for _, p := range []*Pipeline{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), item, facebookChannel(&fakeDispatcher{}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := ledger.ListLeads(context.Background(), domain.LeadFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDispatchInFlightSurvivesCancellation(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	dispatcher := &fakeDispatcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	p := newTestPipeline(ledger, &fakeReplier{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() {
		res, err := p.Process(ctx, post("g", "wtb headlights"), facebookChannel(dispatcher))
		assert.NoError(t, err)
		done <- res
	}()

	<-dispatcher.started
	cancel()
	close(dispatcher.block)

	res := <-done
	assert.Equal(t, domain.QualityHot, res.Item.Quality)
	require.Len(t, dispatcher.ctxErrs, 1)
	assert.NoError(t, dispatcher.ctxErrs[0], "dispatch context must not inherit cancellation")
}

func TestCancelledBeforeDispatchLeavesItemUnseen(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(ledger, &fakeReplier{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := facebookChannel(dispatcher)
	ch.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	_, err := p.Process(ctx, post("g", "wtb bumper"), ch)
	require.ErrorIs(t, err, context.Canceled)

	exists, err := ledger.Exists(context.Background(), post("g", "wtb bumper").Fingerprint())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, dispatcher.count())
}

func TestStorageErrorIsReturnedWithoutDispatch(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(brokenLedger{MemoryStore: storage.NewMemoryStore()}, &fakeReplier{})

	_, err := p.Process(context.Background(), post("g", "wtb rims"), facebookChannel(dispatcher))
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "exists", storageErr.Op)
	assert.Zero(t, dispatcher.count())
}

func TestAllLeadsChannelSkipsKeywordCheck(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{}
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(storage.NewMemoryStore(), replier)

	ch := Channel{
		Platform:   domain.PlatformWhatsApp,
		Dispatcher: dispatcher,
		AllLeads:   true,
		Compose: func(ctx context.Context, r ports.Replier, item domain.RawItem) string {
			return r.ReplyForMessage(ctx, item.Text, "")
		},
	}
	res, err := p.Process(context.Background(), domain.RawItem{SourceRef: "254711@s.whatsapp.net", Text: "Bei gani?", NativeID: "wamid-1"}, ch)
	require.NoError(t, err)
	assert.Equal(t, domain.QualityHot, res.Item.Quality)
	assert.Equal(t, "Iko, 18,500 delivered", res.Reply)
	assert.Equal(t, []string{"Bei gani?"}, replier.messages)
}

func TestArchiveRecordsMatchesAsCold(t *testing.T) {
	t.Parallel()

	ledger := storage.NewMemoryStore()
	replier := &fakeReplier{}
	p := newTestPipeline(ledger, replier)
	ctx := context.Background()

	res, err := p.Archive(ctx, post("g", "Need alternator for Fielder"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeArchived, res.Outcome)
	assert.Equal(t, domain.QualityCold, res.Item.Quality)
	assert.False(t, res.Item.Replied)

	res, err = p.Archive(ctx, post("g", "Need alternator for Fielder"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)

	res, err = p.Archive(ctx, post("g", "Club meetup on Saturday"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotLead, res.Outcome)

	totals, err := ledger.Totals(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Total)
	assert.Zero(t, replier.calls())
}

// stallingBackend never answers before its deadline.
type stallingBackend struct{}

func (stallingBackend) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// deadlineDispatcher fails exactly when its context has already expired.
type deadlineDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *deadlineDispatcher) SubmitReply(ctx context.Context, _ domain.RawItem, _ string) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return ctx.Err()
}

func TestSlowGenerationFallsBackAndStillDelivers(t *testing.T) {
	t.Parallel()

	gw := generation.NewGateway(stallingBackend{}, templates.New(nil, []string{"Iko stock, tuma picha"}), generation.Options{})
	p := NewPipeline(PipelineDeps{Ledger: storage.NewMemoryStore(), Replier: gw, Matcher: NewMatcher(nil)})
	dispatcher := &deadlineDispatcher{}
	ch := Channel{
		Platform:          domain.PlatformWhatsApp,
		Dispatcher:        dispatcher,
		AllLeads:          true,
		GenerationTimeout: 50 * time.Millisecond,
		DispatchTimeout:   50 * time.Millisecond,
		Compose: func(ctx context.Context, r ports.Replier, item domain.RawItem) string {
			return r.ReplyForMessage(ctx, item.Text, "")
		},
	}

	res, err := p.Process(context.Background(), domain.RawItem{SourceRef: "254711@s.whatsapp.net", Text: "Bei gani?", NativeID: "wamid-1"}, ch)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReplied, res.Outcome)
	assert.Equal(t, domain.QualityHot, res.Item.Quality)
	assert.Equal(t, "Iko stock, tuma picha", res.Reply)
	assert.False(t, gw.Online(), "a generation timeout takes the gateway offline")

	res, err = p.Process(context.Background(), domain.RawItem{SourceRef: "254711@s.whatsapp.net", Text: "Iko?", NativeID: "wamid-2"}, ch)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReplied, res.Outcome)
	assert.Equal(t, 2, dispatcher.calls)
}
