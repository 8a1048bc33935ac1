package http

import (
	"context"
	"fmt"
	"net/http"

	"duetrec/internal/core/ports"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
)

// OfferHandler answers a remote capture device's SDP offer.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error)
}

type DeviceHandler struct {
	duets ports.DuetService
	offer OfferHandler
}

// NewDeviceHandler builds the device routes; offer is nil unless the
// webrtc driver is configured.
func NewDeviceHandler(duets ports.DuetService, offer OfferHandler) *DeviceHandler {
	return &DeviceHandler{duets: duets, offer: offer}
}

func (h *DeviceHandler) SetupRoutes(router gin.IRouter, ws ...gin.HandlerFunc) {
	api := router.Group("/api/v1/devices")
	api.GET("/capabilities", h.Capabilities)
	if h.offer != nil {
		api.POST("/offer", append(ws, h.Offer)...)
	}
}

func (h *DeviceHandler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": h.duets.Capabilities(c.Request.Context())})
}

// Offer registers a browser or phone as a capture device. The device opens
// one data channel per camera ("camera:user", "camera:environment") and an
// optional PCMU microphone track.
func (h *DeviceHandler) Offer(c *gin.Context) {
	var req struct {
		Type string `json:"type" binding:"required"`
		SDP  string `json:"sdp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Type != "offer" {
		badRequest(c, fmt.Errorf("expected an offer, got %q", req.Type))
		return
	}

	deviceID, answer, err := h.offer.HandleOffer(c.Request.Context(), webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"answer": gin.H{
			"type": answer.Type.String(),
			"sdp":  answer.SDP,
		},
	})
}
