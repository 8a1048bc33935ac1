package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/internal/infrastructure/devices"
	"duetrec/pkg/config"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	cameraLabelPrefix = "camera:"
	pcmuClockRate     = 8000
)

// Config WebRTC device configuration
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	AcquireTimeout time.Duration
	OfferTimeout   time.Duration
}

// ConfigFrom maps the devices section of the service configuration.
func ConfigFrom(cfg config.DevicesConfig) Config {
	var c Config
	for _, s := range cfg.WebRTC.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	c.PortRange.Min = cfg.WebRTC.PortRange.Min
	c.PortRange.Max = cfg.WebRTC.PortRange.Max
	c.AcquireTimeout = cfg.AcquireTimeout
	c.OfferTimeout = cfg.WebRTC.OfferTimeout
	return c
}

// Gateway exposes cameras of remote browsers as media streams. A browser
// sends an SDP offer, then streams JPEG frames on data channels labelled
// camera:user or camera:environment and its microphone as a PCMU track.
type Gateway struct {
	config Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	devices map[string]*remoteDevice
	leases  map[string]*remoteDevice
	changed chan struct{}
}

// remoteDevice is one connected browser. Fields other than id, pc and
// connectedAt are guarded by Gateway.mu.
type remoteDevice struct {
	id          string
	pc          *webrtc.PeerConnection
	connectedAt time.Time

	cameras map[domain.FacingMode]bool
	hasMic  bool
	lease   *lease
	gone    bool
}

type lease struct {
	stream *devices.Stream
	facing domain.FacingMode
	slot   *devices.FrameSlot
	feed   *devices.AudioFeed
}

var _ ports.DeviceGateway = (*Gateway)(nil)

func NewGateway(config Config, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		config:  config,
		logger:  logger,
		devices: make(map[string]*remoteDevice),
		leases:  make(map[string]*remoteDevice),
		changed: make(chan struct{}),
	}
}

// HandleOffer answers a device offer. The answer carries all gathered
// candidates, so no trickle exchange is needed.
func (g *Gateway) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error) {
	if g.config.OfferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.OfferTimeout)
		defer cancel()
	}

	pc, err := g.createPeerConnection()
	if err != nil {
		return "", webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dev := &remoteDevice{
		id:          uuid.NewString(),
		pc:          pc,
		connectedAt: time.Now(),
		cameras:     make(map[domain.FacingMode]bool),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) { g.handleDataChannel(dev, dc) })
	pc.OnTrack(g.handleTrack(dev))
	pc.OnICEConnectionStateChange(g.handleICEConnectionState(dev))
	pc.OnConnectionStateChange(g.handleConnectionState(dev))

	fail := func(step string, err error) (string, webrtc.SessionDescription, error) {
		_ = pc.Close()
		return "", webrtc.SessionDescription{}, fmt.Errorf("%s: %w", step, err)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("gather candidates", ctx.Err())
	}

	g.register(dev)
	g.logger.Infow("remote device connected", "device_id", dev.id)
	return dev.id, *pc.LocalDescription(), nil
}

// createPeerConnection creates a receive-only connection accepting PCMU audio
func (g *Gateway) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   g.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if g.config.PortRange.Min > 0 && g.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(g.config.PortRange.Min, g.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuClockRate},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(media))
	return api.NewPeerConnection(config)
}

func facingFromLabel(label string) (domain.FacingMode, bool) {
	if !strings.HasPrefix(label, cameraLabelPrefix) {
		return "", false
	}
	f := domain.FacingMode(strings.TrimPrefix(label, cameraLabelPrefix))
	return f, f.Valid()
}

func (g *Gateway) handleDataChannel(dev *remoteDevice, dc *webrtc.DataChannel) {
	facing, ok := facingFromLabel(dc.Label())
	if !ok {
		g.logger.Debugw("ignoring data channel", "device_id", dev.id, "label", dc.Label())
		return
	}

	dc.OnOpen(func() { g.addCamera(dev, facing) })
	dc.OnClose(func() { g.removeCamera(dev, facing) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		g.deliverFrame(dev, facing, msg.Data)
	})
}

// handleTrack handles incoming microphone tracks
func (g *Gateway) handleTrack(dev *remoteDevice) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		codec := track.Codec().MimeType
		g.logger.Infow("device started streaming track",
			"device_id", dev.id,
			"track_id", track.ID(),
			"codec", codec,
		)
		if !strings.EqualFold(codec, webrtc.MimeTypePCMU) {
			g.logger.Warnw("unsupported track codec", "device_id", dev.id, "codec", codec)
			return
		}

		g.mu.Lock()
		dev.hasMic = true
		g.broadcastLocked()
		g.mu.Unlock()

		go g.processRTCP(dev, receiver)
		go g.readAudio(dev, track)
	}
}

func (g *Gateway) readAudio(dev *remoteDevice, track *webrtc.TrackRemote) {
	var first uint32
	started := false

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			g.logger.Debugw("microphone track ended", "device_id", dev.id, "error", err)
			return
		}
		if !started {
			first = pkt.Timestamp
			started = true
		}

		g.mu.Lock()
		var feed *devices.AudioFeed
		if dev.lease != nil {
			feed = dev.lease.feed
		}
		g.mu.Unlock()
		if feed == nil || len(pkt.Payload) == 0 {
			continue
		}

		feed.Push(pcmuPacket(pkt, first))
	}
}

// processRTCP watches the receiver for a BYE from the device
func (g *Gateway) processRTCP(dev *remoteDevice, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.Goodbye:
				g.deviceLost(dev, "rtcp bye")
				return
			case *rtcp.SenderReport:
				g.logger.Debugw("received sender report",
					"device_id", dev.id,
					"packet_count", p.PacketCount,
					"octet_count", p.OctetCount,
				)
			}
		}
	}
}

func (g *Gateway) handleICEConnectionState(dev *remoteDevice) func(webrtc.ICEConnectionState) {
	return func(state webrtc.ICEConnectionState) {
		g.logger.Infow("device ICE connection state changed",
			"device_id", dev.id,
			"ice_state", state,
		)
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			g.deviceLost(dev, "ice "+state.String())
		}
	}
}

func (g *Gateway) handleConnectionState(dev *remoteDevice) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		g.logger.Infow("device connection state changed",
			"device_id", dev.id,
			"connection_state", state,
		)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			g.deviceLost(dev, "peer "+state.String())
		}
	}
}

func (g *Gateway) register(dev *remoteDevice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dev.gone {
		return
	}
	g.devices[dev.id] = dev
	g.broadcastLocked()
}

func (g *Gateway) addCamera(dev *remoteDevice, facing domain.FacingMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev.cameras[facing] = true
	g.broadcastLocked()
	g.logger.Infow("remote camera available", "device_id", dev.id, "facing", facing)
}

func (g *Gateway) removeCamera(dev *remoteDevice, facing domain.FacingMode) {
	g.mu.Lock()
	delete(dev.cameras, facing)
	var ended *devices.Stream
	if l := dev.lease; l != nil && l.facing == facing {
		ended = l.stream
		dev.lease = nil
		delete(g.leases, l.stream.ID())
	}
	g.mu.Unlock()

	if ended != nil {
		ended.End()
		g.logger.Warnw("remote camera closed while leased", "device_id", dev.id, "facing", facing, "stream_id", ended.ID())
	}
}

func (g *Gateway) deliverFrame(dev *remoteDevice, facing domain.FacingMode, data []byte) {
	g.mu.Lock()
	l := dev.lease
	g.mu.Unlock()
	if l == nil || l.facing != facing {
		return
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		g.logger.Debugw("dropping undecodable camera frame", "device_id", dev.id, "bytes", len(data), "error", err)
		return
	}
	l.slot.Store(img)
}

// deviceLost ends the device's lease and forgets it.
func (g *Gateway) deviceLost(dev *remoteDevice, reason string) {
	g.mu.Lock()
	if dev.gone {
		g.mu.Unlock()
		return
	}
	dev.gone = true
	delete(g.devices, dev.id)
	l := dev.lease
	dev.lease = nil
	if l != nil {
		delete(g.leases, l.stream.ID())
	}
	g.mu.Unlock()

	if l != nil {
		l.stream.End()
	}
	if dev.pc != nil {
		go func() { _ = dev.pc.Close() }()
	}
	g.logger.Warnw("remote device lost", "device_id", dev.id, "reason", reason, "leased", l != nil)
}

func (g *Gateway) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *Gateway) EnumerateCapabilities(ctx context.Context) domain.Capabilities {
	g.mu.Lock()
	defer g.mu.Unlock()

	var caps domain.Capabilities
	for _, dev := range g.devices {
		if len(dev.cameras) > 0 {
			caps.HasCamera = true
		}
		if dev.hasMic {
			caps.HasMicrophone = true
		}
	}
	if !caps.HasCamera {
		caps.Warning = "No camera connected. Open the capture page on your device."
	}
	return caps
}

// Acquire leases a free device offering the facing, waiting for one to
// connect until the acquire timeout.
func (g *Gateway) Acquire(ctx context.Context, facing domain.FacingMode, wantAudio bool) (ports.MediaStream, error) {
	if g.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.AcquireTimeout)
		defer cancel()
	}

	for {
		g.mu.Lock()
		if dev := g.findLocked(facing); dev != nil {
			l := g.leaseLocked(dev, facing, wantAudio)
			g.mu.Unlock()
			g.logger.Infow("remote camera leased",
				"device_id", dev.id,
				"stream_id", l.stream.ID(),
				"facing", facing,
				"audio", l.feed != nil,
			)
			return l.stream, nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: no %s camera connected: %v", domain.ErrDeviceUnavailable, facing, ctx.Err())
		}
	}
}

func (g *Gateway) findLocked(facing domain.FacingMode) *remoteDevice {
	var best *remoteDevice
	for _, dev := range g.devices {
		if dev.lease != nil || !dev.cameras[facing] {
			continue
		}
		if best == nil || dev.connectedAt.Before(best.connectedAt) {
			best = dev
		}
	}
	return best
}

func (g *Gateway) leaseLocked(dev *remoteDevice, facing domain.FacingMode, wantAudio bool) *lease {
	l := &lease{facing: facing, slot: &devices.FrameSlot{}}
	if wantAudio && dev.hasMic {
		l.feed = devices.NewAudioFeed(pcmuClockRate, 0)
	}
	l.stream = devices.NewStream(uuid.NewString(), facing, l.slot, l.feed)
	dev.lease = l
	g.leases[l.stream.ID()] = dev
	return l
}

func (g *Gateway) Release(stream ports.MediaStream) {
	if stream == nil {
		return
	}
	g.mu.Lock()
	dev, ok := g.leases[stream.ID()]
	var l *lease
	if ok {
		delete(g.leases, stream.ID())
		l = dev.lease
		dev.lease = nil
		g.broadcastLocked()
	}
	g.mu.Unlock()

	if l != nil {
		l.stream.End()
		g.logger.Debugw("remote camera released", "device_id", dev.id, "stream_id", stream.ID())
	}
}

func (g *Gateway) SwitchFacing(ctx context.Context, stream ports.MediaStream) (ports.MediaStream, error) {
	facing := stream.Facing().Opposite()
	wantAudio := stream.Audio() != nil
	g.Release(stream)
	return g.Acquire(ctx, facing, wantAudio)
}

// Devices reports how many remote devices are connected.
func (g *Gateway) Devices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.devices)
}

// Close disconnects every device.
func (g *Gateway) Close() error {
	g.mu.Lock()
	all := make([]*remoteDevice, 0, len(g.devices))
	for _, dev := range g.devices {
		all = append(all, dev)
	}
	g.mu.Unlock()

	for _, dev := range all {
		g.deviceLost(dev, "shutdown")
	}
	return nil
}
