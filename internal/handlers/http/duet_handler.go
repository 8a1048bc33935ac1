package http

import (
	"context"
	"fmt"
	"net/http"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NoticeStream is the websocket side of the notifier.
type NoticeStream interface {
	ServeDuet(w http.ResponseWriter, r *http.Request, id domain.DuetID)
	Forget(id domain.DuetID)
}

// PublishedLister lists the duets published against one original.
type PublishedLister interface {
	ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error)
}

type DuetHandler struct {
	duets     ports.DuetService
	published PublishedLister
	notices   NoticeStream
	logger    *zap.SugaredLogger
}

func NewDuetHandler(duets ports.DuetService, published PublishedLister, notices NoticeStream, logger *zap.SugaredLogger) *DuetHandler {
	return &DuetHandler{
		duets:     duets,
		published: published,
		notices:   notices,
		logger:    logger,
	}
}

// SetupRoutes registers the duet API. ws carries the middleware for upgrade routes.
func (h *DuetHandler) SetupRoutes(router gin.IRouter, ws ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.POST("/duets", h.CreateDuet)
		api.GET("/duets/:id", h.GetDuet)
		api.DELETE("/duets/:id", h.CloseDuet)
		api.PUT("/duets/:id/settings", h.UpdateSettings)

		api.POST("/duets/:id/camera", h.EnableCamera)
		api.POST("/duets/:id/camera/switch", h.SwitchCamera)
		api.DELETE("/duets/:id/camera", h.DisableCamera)

		api.POST("/duets/:id/playback", h.ControlPlayback)

		api.POST("/duets/:id/start", h.command(h.duets.Start))
		api.POST("/duets/:id/pause", h.command(h.duets.Pause))
		api.POST("/duets/:id/resume", h.command(h.duets.Resume))
		api.POST("/duets/:id/stop", h.command(h.duets.Stop))
		api.POST("/duets/:id/retake", h.command(h.duets.Retake))

		api.GET("/duets/:id/artifact", h.DownloadArtifact)
		api.POST("/duets/:id/publish", h.Publish)

		api.GET("/published/:id", h.GetPublished)
		api.GET("/originals/:id/duets", h.ListPublished)
	}

	if h.notices != nil {
		router.GET("/ws", append(ws, h.StreamNotices)...)
	}
}

func duetID(c *gin.Context) domain.DuetID {
	return domain.DuetID(c.Param("id"))
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
}

func (h *DuetHandler) CreateDuet(c *gin.Context) {
	req := struct {
		Original domain.OriginalVideo `json:"original"`
		Settings domain.DuetSettings  `json:"settings"`
	}{Settings: domain.DefaultDuetSettings()}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	snap, err := h.duets.CreateDuet(c.Request.Context(), req.Original, req.Settings)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"duet": snap})
}

func (h *DuetHandler) GetDuet(c *gin.Context) {
	snap, err := h.duets.GetDuet(c.Request.Context(), duetID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duet": snap})
}

func (h *DuetHandler) CloseDuet(c *gin.Context) {
	id := duetID(c)
	if err := h.duets.CloseDuet(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	if h.notices != nil {
		h.notices.Forget(id)
	}
	c.Status(http.StatusNoContent)
}

// UpdateSettings applies a partial settings document over the current settings.
func (h *DuetHandler) UpdateSettings(c *gin.Context) {
	id := duetID(c)
	current, err := h.duets.GetDuet(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	settings := current.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		badRequest(c, err)
		return
	}

	snap, err := h.duets.UpdateSettings(c.Request.Context(), id, settings)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duet": snap})
}

func (h *DuetHandler) EnableCamera(c *gin.Context) {
	req := struct {
		Facing domain.FacingMode `json:"facing"`
		Audio  *bool             `json:"audio"`
	}{Facing: domain.FacingUser}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.Facing.Valid() {
		badRequest(c, fmt.Errorf("facing must be user or environment, got %q", req.Facing))
		return
	}
	wantAudio := req.Audio == nil || *req.Audio

	snap, err := h.duets.EnableCamera(c.Request.Context(), duetID(c), req.Facing, wantAudio)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duet": snap})
}

func (h *DuetHandler) SwitchCamera(c *gin.Context) {
	h.command(h.duets.SwitchCamera)(c)
}

func (h *DuetHandler) DisableCamera(c *gin.Context) {
	h.command(h.duets.DisableCamera)(c)
}

func (h *DuetHandler) ControlPlayback(c *gin.Context) {
	var req struct {
		Action ports.PlaybackAction `json:"action" binding:"required"`
		Time   float64              `json:"time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	switch req.Action {
	case ports.PlaybackPlay, ports.PlaybackPause, ports.PlaybackSeek, ports.PlaybackMute, ports.PlaybackUnmute:
	default:
		badRequest(c, fmt.Errorf("unknown playback action %q", req.Action))
		return
	}

	snap, err := h.duets.ControlPlayback(c.Request.Context(), duetID(c), req.Action, req.Time)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duet": snap})
}

func (h *DuetHandler) command(fn func(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := fn(c.Request.Context(), duetID(c))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"duet": snap})
	}
}

func (h *DuetHandler) DownloadArtifact(c *gin.Context) {
	artifact, err := h.duets.Artifact(c.Request.Context(), duetID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="duet-%s"`, artifact.ID))
	c.Header("X-Duet-Duration", fmt.Sprint(artifact.DurationSeconds))
	c.Data(http.StatusOK, artifact.MimeType, artifact.Data)
}

func (h *DuetHandler) Publish(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Hashtags    string `json:"hashtags"`
		Public      *bool  `json:"public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	meta := domain.PublishMetadata{
		Title:       req.Title,
		Description: req.Description,
		Hashtags:    domain.ParseHashtags(req.Hashtags),
		Public:      req.Public == nil || *req.Public,
	}

	published, err := h.duets.Publish(c.Request.Context(), duetID(c), ports.PublishRequest{Metadata: meta})
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.logger.Infow("Duet published", "duet_id", duetID(c), "published_id", published.ID)
	c.JSON(http.StatusCreated, gin.H{"published": published})
}

func (h *DuetHandler) GetPublished(c *gin.Context) {
	published, err := h.duets.GetPublished(c.Request.Context(), domain.PublishedID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": published})
}

func (h *DuetHandler) ListPublished(c *gin.Context) {
	if h.published == nil {
		_ = c.Error(domain.ErrNotImplemented)
		return
	}
	duets, err := h.published.ListByOriginal(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if duets == nil {
		duets = []*domain.PublishedDuet{}
	}
	c.JSON(http.StatusOK, gin.H{"duets": duets, "total": len(duets)})
}

// StreamNotices upgrades to a websocket carrying the notices of ?duet_id=.
func (h *DuetHandler) StreamNotices(c *gin.Context) {
	id := domain.DuetID(c.Query("duet_id"))
	if id == "" {
		badRequest(c, fmt.Errorf("duet_id is required"))
		return
	}
	if _, err := h.duets.GetDuet(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	h.notices.ServeDuet(c.Writer, c.Request, id)
}
