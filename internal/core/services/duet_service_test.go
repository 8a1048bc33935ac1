package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePlayers struct {
	err     error
	mu      sync.Mutex
	players []*MockPlayer
}

func (f *fakePlayers) Open(ctx context.Context, original domain.OriginalVideo) (ports.PlaybackController, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := newPassivePlayer()
	p.On("Seek", mock.Anything).Return(nil).Maybe()
	p.On("Play").Return(nil).Maybe()
	p.On("Pause").Return(nil).Maybe()
	f.players = append(f.players, p)
	return p, nil
}

type duetServiceHarness struct {
	svc      *DuetService
	devices  *MockDeviceGateway
	players  *fakePlayers
	encoders *fakeEncoders
	store    *fakeStore
	repo     *fakeRepo
	notifier *recordingNotifier
}

func newDuetServiceHarness(t *testing.T, maxDuets int) *duetServiceHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	h := &duetServiceHarness{
		devices:  &MockDeviceGateway{},
		players:  &fakePlayers{},
		encoders: &fakeEncoders{},
		store:    newFakeStore(0),
		repo:     newFakeRepo(),
		notifier: &recordingNotifier{},
	}
	h.devices.On("Release", mock.Anything).Return().Maybe()

	h.svc = NewDuetService(testRecorderConfig(), maxDuets, DuetServiceDeps{
		Devices:   h.devices,
		Players:   h.players,
		Encoders:  h.encoders,
		Publisher: NewPublishService(h.store, h.repo, fastPublishConfig(), nil, logger),
		Notifier:  h.notifier,
		Logger:    logger,
	})
	t.Cleanup(h.svc.Shutdown)
	return h
}

func TestDuetService_CreateRejectsInvalidInput(t *testing.T) {
	h := newDuetServiceHarness(t, 0)
	ctx := context.Background()

	bad := testOriginal
	bad.Duration = 0
	_, err := h.svc.CreateDuet(ctx, bad, domain.DefaultDuetSettings())
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	settings := domain.DefaultDuetSettings()
	settings.StartOffset = 45
	_, err = h.svc.CreateDuet(ctx, testOriginal, settings)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	assert.Equal(t, 0, h.svc.ActiveDuets())
	assert.Empty(t, h.players.players)
}

func TestDuetService_CreateFailsWhenOriginalCannotOpen(t *testing.T) {
	h := newDuetServiceHarness(t, 0)
	h.players.err = errors.New("404")

	_, err := h.svc.CreateDuet(context.Background(), testOriginal, domain.DefaultDuetSettings())

	assert.Error(t, err)
	assert.Equal(t, 0, h.svc.ActiveDuets())
}

func TestDuetService_EnforcesMaxDuets(t *testing.T) {
	h := newDuetServiceHarness(t, 1)
	ctx := context.Background()

	_, err := h.svc.CreateDuet(ctx, testOriginal, domain.DefaultDuetSettings())
	require.NoError(t, err)

	_, err = h.svc.CreateDuet(ctx, testOriginal, domain.DefaultDuetSettings())
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestDuetService_ConcurrentCreatesRespectLimit(t *testing.T) {
	const limit = 3
	h := newDuetServiceHarness(t, limit)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		full    int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateDuet(ctx, testOriginal, domain.DefaultDuetSettings())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, created)
	assert.Equal(t, 12-limit, full)
	assert.Equal(t, limit, h.svc.ActiveDuets())
}

func TestDuetService_UnknownDuet(t *testing.T) {
	h := newDuetServiceHarness(t, 0)
	ctx := context.Background()

	_, err := h.svc.GetDuet(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDuetNotFound)
	_, err = h.svc.Start(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDuetNotFound)
	_, err = h.svc.Publish(ctx, "missing", ports.PublishRequest{})
	assert.ErrorIs(t, err, domain.ErrDuetNotFound)
	assert.ErrorIs(t, h.svc.CloseDuet(ctx, "missing"), domain.ErrDuetNotFound)
}

func TestDuetService_RecordStopAndPublish(t *testing.T) {
	h := newDuetServiceHarness(t, 0)
	ctx := context.Background()

	snap, err := h.svc.CreateDuet(ctx, testOriginal, domain.DefaultDuetSettings())
	require.NoError(t, err)
	id := snap.DuetID
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.Equal(t, 1, h.svc.ActiveDuets())

	_, err = h.svc.Artifact(ctx, id)
	assert.ErrorIs(t, err, domain.ErrArtifactNotReady)

	stream := newFakeStream("cam-1", domain.FacingUser, false)
	h.devices.On("Acquire", mock.Anything, domain.FacingUser, false).Return(stream, nil).Once()
	_, err = h.svc.EnableCamera(ctx, id, domain.FacingUser, false)
	require.NoError(t, err)

	snap, err = h.svc.Start(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRecording, snap.Phase)

	snap, err = h.svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinalized, snap.Phase)
	require.NotNil(t, snap.Artifact)

	artifact, err := h.svc.Artifact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snap.Artifact.ID, artifact.ID)
	assert.NotEmpty(t, artifact.Data)

	published, err := h.svc.Publish(ctx, id, ports.PublishRequest{
		Metadata: domain.PublishMetadata{Hashtags: domain.ParseHashtags("#duet, #fun")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Duet with @alice", published.Metadata.Title)
	assert.Equal(t, []string{"duet", "fun"}, published.Metadata.Hashtags)

	got, err := h.svc.GetPublished(ctx, published.ID)
	require.NoError(t, err)
	assert.Equal(t, published.ID, got.ID)

	titles := h.notifier.titles()
	assert.Contains(t, titles, "Recording Started")
	assert.Contains(t, titles, "Publishing")
	assert.Equal(t, "Published", titles[len(titles)-1])
	progress := h.notifier.progress()
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	assertMonotone(t, progress)

	require.NoError(t, h.svc.CloseDuet(ctx, id))
	assert.Equal(t, 0, h.svc.ActiveDuets())
}

func TestDuetService_PublishFailureNotifiesAndKeepsArtifact(t *testing.T) {
	h := newDuetServiceHarness(t, 0)
	h.store.failures = 100
	ctx := context.Background()

	snap, err := h.svc.CreateDuet(ctx, testOriginal, domain.DefaultDuetSettings())
	require.NoError(t, err)
	id := snap.DuetID

	stream := newFakeStream("cam-1", domain.FacingUser, false)
	h.devices.On("Acquire", mock.Anything, domain.FacingUser, false).Return(stream, nil).Once()
	_, err = h.svc.EnableCamera(ctx, id, domain.FacingUser, false)
	require.NoError(t, err)
	_, err = h.svc.Start(ctx, id)
	require.NoError(t, err)
	_, err = h.svc.Stop(ctx, id)
	require.NoError(t, err)

	_, err = h.svc.Publish(ctx, id, ports.PublishRequest{Metadata: domain.PublishMetadata{Title: "take one"}})
	assert.ErrorIs(t, err, domain.ErrPublishFailure)
	assert.Contains(t, h.notifier.titles(), "Publish Failed")

	artifact, err := h.svc.Artifact(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.Data)

	snap, err = h.svc.GetDuet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinalized, snap.Phase)
}
