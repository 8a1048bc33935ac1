package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/internal/core/services"
	"duetrec/internal/infrastructure/devices"
	"duetrec/internal/infrastructure/encoder"
	"duetrec/internal/infrastructure/middleware"
	"duetrec/internal/infrastructure/monitoring"
	"duetrec/internal/infrastructure/playback"
	"duetrec/internal/infrastructure/repositories/memory"
	"duetrec/internal/infrastructure/storage"
	"duetrec/pkg/config"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockDuetService struct {
	mock.Mock
}

func (m *MockDuetService) snap(args mock.Arguments) (domain.SessionSnapshot, error) {
	return args.Get(0).(domain.SessionSnapshot), args.Error(1)
}

func (m *MockDuetService) Capabilities(ctx context.Context) domain.Capabilities {
	return m.Called().Get(0).(domain.Capabilities)
}
func (m *MockDuetService) CreateDuet(ctx context.Context, o domain.OriginalVideo, s domain.DuetSettings) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(o, s))
}
func (m *MockDuetService) GetDuet(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) CloseDuet(ctx context.Context, id domain.DuetID) error {
	return m.Called(id).Error(0)
}
func (m *MockDuetService) UpdateSettings(ctx context.Context, id domain.DuetID, s domain.DuetSettings) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id, s))
}
func (m *MockDuetService) EnableCamera(ctx context.Context, id domain.DuetID, f domain.FacingMode, audio bool) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id, f, audio))
}
func (m *MockDuetService) SwitchCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) DisableCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) ControlPlayback(ctx context.Context, id domain.DuetID, a ports.PlaybackAction, at float64) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id, a, at))
}
func (m *MockDuetService) Start(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) Pause(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) Resume(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) Stop(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) Retake(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return m.snap(m.Called(id))
}
func (m *MockDuetService) Artifact(ctx context.Context, id domain.DuetID) (*domain.Artifact, error) {
	args := m.Called(id)
	a, _ := args.Get(0).(*domain.Artifact)
	return a, args.Error(1)
}
func (m *MockDuetService) Publish(ctx context.Context, id domain.DuetID, req ports.PublishRequest) (*domain.PublishedDuet, error) {
	args := m.Called(id, req)
	p, _ := args.Get(0).(*domain.PublishedDuet)
	return p, args.Error(1)
}
func (m *MockDuetService) GetPublished(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*domain.PublishedDuet)
	return p, args.Error(1)
}

type fakeNotices struct{ forgotten []domain.DuetID }

func (f *fakeNotices) ServeDuet(w http.ResponseWriter, r *http.Request, id domain.DuetID) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}
func (f *fakeNotices) Forget(id domain.DuetID) { f.forgotten = append(f.forgotten, id) }

type fakeOffer struct{ err error }

func (f fakeOffer) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error) {
	if f.err != nil {
		return "", webrtc.SessionDescription{}, f.err
	}
	return "device-1", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func newRouter(duets ports.DuetService, published PublishedLister, notices NoticeStream, offer OfferHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewDuetHandler(duets, published, notices, logger).SetupRoutes(router)
	NewDeviceHandler(duets, offer).SetupRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var testOriginal = domain.OriginalVideo{
	ID:        "vid-1",
	SourceURL: "https://cdn.example.com/vid-1.mp4",
	Duration:  30,
	Creator:   "alice",
}

func TestCreateDuet_AppliesDefaultSettings(t *testing.T) {
	svc := &MockDuetService{}
	want := domain.DefaultDuetSettings()
	want.Layout = domain.LayoutOriginalTop
	svc.On("CreateDuet", testOriginal, want).Return(domain.SessionSnapshot{DuetID: "d1", Phase: domain.PhaseIdle}, nil)

	router := newRouter(svc, nil, nil, nil)
	w := do(t, router, http.MethodPost, "/api/v1/duets", gin.H{
		"original": testOriginal,
		"settings": gin.H{"layout": "original_top"},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var snap domain.SessionSnapshot
	require.NoError(t, json.Unmarshal(decode(t, w)["duet"], &snap))
	assert.Equal(t, domain.DuetID("d1"), snap.DuetID)
	svc.AssertExpectations(t)
}

func TestCreateDuet_MalformedBody(t *testing.T) {
	router := newRouter(&MockDuetService{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/duets", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

func TestDuetRoutes_MapDomainErrors(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("GetDuet", domain.DuetID("gone")).Return(domain.SessionSnapshot{}, domain.ErrDuetNotFound)
	svc.On("Start", domain.DuetID("d1")).Return(domain.SessionSnapshot{}, domain.ErrStartRejected)
	svc.On("Artifact", domain.DuetID("d1")).Return(nil, domain.ErrArtifactNotReady)

	router := newRouter(svc, nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/duets/gone", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/v1/duets/d1/start", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodGet, "/api/v1/duets/d1/artifact", nil).Code)
}

func TestUpdateSettings_MergesOverCurrent(t *testing.T) {
	svc := &MockDuetService{}
	current := domain.DefaultDuetSettings()
	svc.On("GetDuet", domain.DuetID("d1")).Return(domain.SessionSnapshot{DuetID: "d1", Settings: current}, nil)

	want := current
	want.DuetAudioVolume = 0.5
	svc.On("UpdateSettings", domain.DuetID("d1"), want).Return(domain.SessionSnapshot{DuetID: "d1", Settings: want}, nil)

	router := newRouter(svc, nil, nil, nil)
	w := do(t, router, http.MethodPut, "/api/v1/duets/d1/settings", gin.H{"duet_audio_volume": 0.5})
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestEnableCamera(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("EnableCamera", domain.DuetID("d1"), domain.FacingUser, true).Return(domain.SessionSnapshot{CameraActive: true}, nil)
	svc.On("EnableCamera", domain.DuetID("d1"), domain.FacingEnvironment, false).Return(domain.SessionSnapshot{CameraActive: true}, nil)

	router := newRouter(svc, nil, nil, nil)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/v1/duets/d1/camera", gin.H{}).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/v1/duets/d1/camera",
		gin.H{"facing": "environment", "audio": false}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/duets/d1/camera",
		gin.H{"facing": "sideways"}).Code)
	svc.AssertExpectations(t)
}

func TestControlPlayback(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("ControlPlayback", domain.DuetID("d1"), ports.PlaybackSeek, 4.5).Return(domain.SessionSnapshot{PlaybackTime: 4.5}, nil)
	svc.On("ControlPlayback", domain.DuetID("d1"), ports.PlaybackPlay, 0.0).Return(domain.SessionSnapshot{}, domain.ErrPlaybackLocked)

	router := newRouter(svc, nil, nil, nil)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/v1/duets/d1/playback",
		gin.H{"action": "seek", "time": 4.5}).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/v1/duets/d1/playback",
		gin.H{"action": "play"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/duets/d1/playback",
		gin.H{"action": "rewind"}).Code)
}

func TestCloseDuet_ForgetsNotices(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("CloseDuet", domain.DuetID("d1")).Return(nil)
	notices := &fakeNotices{}

	router := newRouter(svc, nil, notices, nil)
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/duets/d1", nil).Code)
	assert.Equal(t, []domain.DuetID{"d1"}, notices.forgotten)
}

func TestPublish_ParsesHashtags(t *testing.T) {
	svc := &MockDuetService{}
	meta := domain.PublishMetadata{
		Title:       "Us",
		Description: "",
		Hashtags:    []string{"duet", "fun"},
		Public:      true,
	}
	svc.On("Publish", domain.DuetID("d1"), ports.PublishRequest{Metadata: meta}).
		Return(&domain.PublishedDuet{ID: "p1", Metadata: meta}, nil)

	router := newRouter(svc, nil, nil, nil)
	w := do(t, router, http.MethodPost, "/api/v1/duets/d1/publish", gin.H{
		"title":    "Us",
		"hashtags": "#duet, fun, #Duet",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	svc.AssertExpectations(t)
}

func TestStreamNotices(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("GetDuet", domain.DuetID("d1")).Return(domain.SessionSnapshot{DuetID: "d1"}, nil)
	svc.On("GetDuet", domain.DuetID("nope")).Return(domain.SessionSnapshot{}, domain.ErrDuetNotFound)

	router := newRouter(svc, nil, &fakeNotices{}, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/ws", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/ws?duet_id=nope", nil).Code)
	assert.Equal(t, http.StatusSwitchingProtocols, do(t, router, http.MethodGet, "/ws?duet_id=d1", nil).Code)
}

func TestListPublished_Unconfigured(t *testing.T) {
	router := newRouter(&MockDuetService{}, nil, nil, nil)
	assert.Equal(t, http.StatusNotImplemented, do(t, router, http.MethodGet, "/api/v1/originals/vid-1/duets", nil).Code)
}

func TestDeviceRoutes(t *testing.T) {
	svc := &MockDuetService{}
	svc.On("Capabilities").Return(domain.Capabilities{HasCamera: true, HasMicrophone: true})

	router := newRouter(svc, nil, nil, fakeOffer{})
	w := do(t, router, http.MethodGet, "/api/v1/devices/capabilities", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"has_camera":true`)

	w = do(t, router, http.MethodPost, "/api/v1/devices/offer", gin.H{"type": "offer", "sdp": "v=0"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"device_id":"device-1"`)
	assert.Contains(t, w.Body.String(), `"type":"answer"`)

	w = do(t, router, http.MethodPost, "/api/v1/devices/offer", gin.H{"type": "answer", "sdp": "v=0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	failing := newRouter(svc, nil, nil, fakeOffer{err: domain.ErrDeviceUnavailable})
	w = do(t, failing, http.MethodPost, "/api/v1/devices/offer", gin.H{"type": "offer", "sdp": "v=0"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeviceRoutes_NoOfferWithoutWebRTC(t *testing.T) {
	router := newRouter(&MockDuetService{}, nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/v1/devices/offer", gin.H{}).Code)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := monitoring.NewHealthChecker()
	healthy := true
	checker.AddCheck("flag", func(ctx context.Context) (bool, error) { return healthy, nil }, 0, time.Second)

	router := gin.New()
	NewHealthHandler(checker, time.Now()).SetupRoutes(router)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/ready", nil).Code)

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/ready", nil).Code)
	assert.Contains(t, do(t, router, http.MethodGet, "/health", nil).Body.String(), "check failed")
}

// Drives a whole duet through the real services: synthetic camera, test
// pattern playback, framed encoder and in-memory storage.
func TestDuetLifecycle_EndToEnd(t *testing.T) {
	logger := zap.NewNop().Sugar()
	cfg := config.DefaultConfig()
	cfg.Devices.Synthetic.Width = 64
	cfg.Devices.Synthetic.Height = 48
	cfg.Devices.Synthetic.FPS = 10

	enc, err := encoder.NewFactory(cfg.Encoder, logger)
	require.NoError(t, err)

	repo := memory.NewMemoryDuetRepository()
	publisher := services.NewPublishService(storage.NewMemoryStore(), repo, services.DefaultPublishConfig(), nil, logger)

	recCfg := services.DefaultRecorderConfig()
	recCfg.Compositor.Landscape = image.Pt(128, 72)
	recCfg.Compositor.Portrait = image.Pt(72, 128)
	recCfg.FPS = 10

	duets := services.NewDuetService(recCfg, 4, services.DuetServiceDeps{
		Devices:   devices.NewSyntheticGateway(cfg.Devices, logger),
		Players:   playback.NewFactory(cfg.Playback, logger),
		Encoders:  enc,
		Publisher: publisher,
		Logger:    logger,
	})
	defer duets.Shutdown()

	router := newRouter(duets, publisher, nil, nil)

	w := do(t, router, http.MethodPost, "/api/v1/duets", gin.H{"original": testOriginal})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap domain.SessionSnapshot
	require.NoError(t, json.Unmarshal(decode(t, w)["duet"], &snap))
	base := "/api/v1/duets/" + string(snap.DuetID)

	w = do(t, router, http.MethodPost, base+"/camera", gin.H{"facing": "user"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w)["duet"], &snap))
	assert.Equal(t, domain.PhaseRecording, snap.Phase)

	time.Sleep(1500 * time.Millisecond)

	w = do(t, router, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w)["duet"], &snap))
	assert.Equal(t, domain.PhaseFinalized, snap.Phase)

	w = do(t, router, http.MethodGet, base+"/artifact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = do(t, router, http.MethodPost, base+"/publish", gin.H{"hashtags": "duet"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var published domain.PublishedDuet
	require.NoError(t, json.Unmarshal(decode(t, w)["published"], &published))
	assert.Equal(t, "Duet with @alice", published.Metadata.Title)

	w = do(t, router, http.MethodGet, "/api/v1/published/"+string(published.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/originals/vid-1/duets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, base, nil).Code)
}
