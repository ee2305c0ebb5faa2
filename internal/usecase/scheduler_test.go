package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/infrastructure/storage"
)

type captureDriver struct {
	job     func(time.Time)
	stopped bool
	err     error
}

func (d *captureDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return d.err
}

func (d *captureDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRunsScanAndInboxJobs(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	pipeline := newTestPipeline(store, &fakeReplier{})
	session := newSession("alice", map[string][]domain.RawItem{"g": {post("g", "wtb rims")}})
	scanner := NewLiveScanner(LiveScannerDeps{
		Opener: &fakeOpener{sessions: map[string]*fakeSession{"alice": session}}, Pipeline: pipeline,
		Accounts: []string{"alice"}, Groups: []string{"g"},
	})
	dispatcher := &fakeDispatcher{}
	inbox := NewInbox(InboxDeps{
		Source:        &fakeMessages{batches: [][]domain.RawItem{{message("m1", "254711@s.whatsapp.net", "bei?")}}},
		Pipeline:      pipeline,
		Conversations: store,
		Channel:       Channel{Dispatcher: dispatcher, AllLeads: true},
	})

	scanDriver, inboxDriver := &captureDriver{}, &captureDriver{}
	s := NewScheduler(scanDriver, scanner, inboxDriver, inbox, nil)
	require.NoError(t, s.Start(context.Background()))

	scanDriver.job(time.Now())
	inboxDriver.job(time.Now())

	assert.Equal(t, 1, session.count())
	assert.Equal(t, 1, dispatcher.count())

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, scanDriver.stopped)
	assert.True(t, inboxDriver.stopped)
}

func TestSchedulerJobSurvivesFailedPass(t *testing.T) {
	t.Parallel()

	scanner := NewLiveScanner(LiveScannerDeps{
		Opener:   &fakeOpener{fail: map[string]error{"alice": errors.New("chrome crashed")}},
		Pipeline: newTestPipeline(storage.NewMemoryStore(), &fakeReplier{}),
		Accounts: []string{"alice"},
		Groups:   []string{"g"},
	})
	driver := &captureDriver{}
	s := NewScheduler(driver, scanner, nil, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	assert.NotPanics(t, func() {
		driver.job(time.Now())
		driver.job(time.Now())
	})
}

func TestSchedulerPropagatesDriverError(t *testing.T) {
	t.Parallel()

	driver := &captureDriver{err: errors.New("bad cron")}
	scanner := NewLiveScanner(LiveScannerDeps{Pipeline: newTestPipeline(storage.NewMemoryStore(), &fakeReplier{})})
	s := NewScheduler(driver, scanner, nil, nil, nil)
	assert.EqualError(t, s.Start(context.Background()), "bad cron")
}
