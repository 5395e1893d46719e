package server

import (
	"fmt"

	"go.uber.org/zap"

	"webcam/internal/camera"
	"webcam/internal/config"
)

// NewFromConfig は設定のキャプチャドライバーでServerを組み立てる
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	camOpts, devices, err := captureDrivers(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(cfg, camOpts, devices, logger), nil
}

// captureDrivers はドライバー名に応じたキャプチャAPIを返す
//
// none はキャプチャAPIのない環境として扱い、マウント時に未対応エラーを通知させる。
func captureDrivers(cfg *config.Config, logger *zap.Logger) (camera.Options, camera.DeviceEnumerator, error) {
	switch cfg.Capture.Driver {
	case config.DriverMediaDevices:
		md := camera.NewPionMediaDevices(logger.Named("mediadevices"))
		return camera.Options{MediaDevices: md, Logger: logger}, md, nil

	case config.DriverV4L2:
		discovery := camera.NewLinuxDiscovery(cfg.Capture.DevicePattern, logger.Named("discovery"))
		legacy := camera.NewV4L2Devices(discovery, cfg.V4L2Settings(), logger.Named("v4l2"))
		return camera.Options{LegacyDevices: legacy, Logger: logger}, legacy, nil

	case config.DriverNone:
		return camera.Options{Logger: logger}, nil, nil

	default:
		return camera.Options{}, nil, fmt.Errorf("無効なキャプチャドライバー: %q", cfg.Capture.Driver)
	}
}
