package main

import (
	"image"
	"time"

	"duetrec/internal/core/services"
	"duetrec/pkg/config"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/duetrec/config.yaml",
	"config.yaml",
}

func recorderConfig(cfg *config.Config) services.RecorderConfig {
	comp := cfg.Compositor
	rc := services.RecorderConfig{
		Compositor: services.CompositorConfig{
			Landscape:          image.Pt(comp.LandscapeWidth, comp.LandscapeHeight),
			Portrait:           image.Pt(comp.PortraitWidth, comp.PortraitHeight),
			PortraitSideBySide: comp.PortraitSideBySide,
			SeparatorWidth:     comp.SeparatorWidth,
			Watermark:          comp.Watermark,
			WatermarkOffset:    image.Pt(comp.WatermarkOffsetX, comp.WatermarkOffsetY),
		},
		FPS:             cfg.Recording.FPS,
		MaxDuration:     cfg.Recording.MaxDuration,
		AudioSampleRate: cfg.Recording.AudioSampleRate,
	}
	if cfg.Recording.RefreshRate > 0 {
		rc.RefreshInterval = time.Second / time.Duration(cfg.Recording.RefreshRate)
	}
	return rc
}

func publishConfig(cfg *config.Config) services.PublishConfig {
	pc := services.DefaultPublishConfig()
	pc.KeyPrefix = cfg.Publish.KeyPrefix
	pc.UploadTimeout = cfg.Publish.UploadTimeout

	pc.Retry.Enabled = cfg.Publish.Retry.MaxAttempts > 0
	pc.Retry.MaxAttempts = cfg.Publish.Retry.MaxAttempts
	pc.Retry.InitialDelay = cfg.Publish.Retry.InitialDelay
	pc.Retry.MaxDelay = cfg.Publish.Retry.MaxDelay

	pc.Breaker.FailureThreshold = cfg.Publish.CircuitBreaker.FailureThreshold
	pc.Breaker.SuccessThreshold = cfg.Publish.CircuitBreaker.SuccessThreshold
	pc.Breaker.Timeout = cfg.Publish.CircuitBreaker.Timeout
	return pc
}

func loadConfig() (*config.Config, string) {
	for _, path := range configPaths {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, path
		}
	}
	return config.DefaultConfig(), ""
}
