package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcam/internal/screenshot"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv(ConfigEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverMediaDevices, cfg.Capture.Driver)
	assert.Equal(t, screenshot.FormatWebP, cfg.Screenshot.ScreenshotFormat)
	assert.Equal(t, screenshot.DefaultQuality, cfg.Screenshot.ScreenshotQuality)
	require.NotNil(t, cfg.Screenshot.ImageSmoothing)
	assert.True(t, *cfg.Screenshot.ImageSmoothing)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  read_timeout: 3s
webcam:
  audio: true
  mirrored: true
  width: 640
  video_constraints:
    device_id: cam2
    width: 1280
screenshot:
  screenshot_format: image/jpeg
  screenshot_quality: 0.5
  min_screenshot_height: 480
capture:
  driver: v4l2
  fps: 30
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "ファイルにない値はデフォルトのまま")
	assert.Equal(t, DriverV4L2, cfg.Capture.Driver)
	assert.Equal(t, 30, cfg.Capture.FPS)
	assert.Equal(t, 720, cfg.Capture.Height)
	assert.Equal(t, screenshot.FormatJPEG, cfg.Screenshot.ScreenshotFormat)
	assert.Equal(t, 480, cfg.Screenshot.MinScreenshotHeight)

	props := cfg.WebcamProps()
	assert.True(t, props.Audio)
	assert.True(t, props.Mirrored)
	assert.Equal(t, "cam2", props.VideoConstraints.SourceID())
	assert.Equal(t, "640", props.Attributes["width"])
	assert.Nil(t, props.AudioConstraints)

	settings := cfg.V4L2Settings()
	assert.Equal(t, 30, settings.FPS)
	assert.Equal(t, "ffmpeg", settings.FFmpegPath)
}

func TestConfigLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv(ConfigEnv, path)
	t.Setenv("PORT", "9100")
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9100", cfg.ServerAddress())
}

func TestConfigLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "capture:\n  driver: directshow\n"))
	assert.ErrorContains(t, err, "キャプチャドライバー")
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:   "正常な設定",
			modify: func(c *Config) {},
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 0 },
			expectErr: true,
		},
		{
			name:      "範囲外のポート番号",
			modify:    func(c *Config) { c.Server.Port = 70000 },
			expectErr: true,
		},
		{
			name:      "画質が1を超える",
			modify:    func(c *Config) { c.Screenshot.ScreenshotQuality = 1.5 },
			expectErr: true,
		},
		{
			name:      "未知の画像形式",
			modify:    func(c *Config) { c.Screenshot.ScreenshotFormat = "image/gif" },
			expectErr: true,
		},
		{
			name:      "未知のログレベル",
			modify:    func(c *Config) { c.Logging.Level = "trace" },
			expectErr: true,
		},
		{
			name:      "負のFPS",
			modify:    func(c *Config) { c.Capture.FPS = -1 },
			expectErr: true,
		},
		{
			name:   "ドライバーなし",
			modify: func(c *Config) { c.Capture.Driver = DriverNone },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
