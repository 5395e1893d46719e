package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"webcam/internal/camera"
	"webcam/internal/screenshot"
)

// ConfigEnv は設定ファイルのパスを指定する環境変数
const ConfigEnv = "WEBCAM_CONFIG"

// キャプチャドライバー
const (
	DriverMediaDevices = "mediadevices"
	DriverV4L2         = "v4l2"
	DriverNone         = "none"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Webcam     WebcamConfig       `yaml:"webcam"`
	Screenshot screenshot.Options `yaml:"screenshot"`
	Capture    CaptureConfig      `yaml:"capture"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// WebcamConfig はホストがマウントするWebcamの初期プロパティ
type WebcamConfig struct {
	Audio            bool               `yaml:"audio"`
	Mirrored         bool               `yaml:"mirrored"`
	AudioConstraints *camera.Constraint `yaml:"audio_constraints"`
	VideoConstraints *camera.Constraint `yaml:"video_constraints"`
	Width            int                `yaml:"width"`  // 表示幅。0 は固有幅
	Height           int                `yaml:"height"` // 表示高さ
	MountOnStart     bool               `yaml:"mount_on_start"`
}

// CaptureConfig はキャプチャドライバーの設定
type CaptureConfig struct {
	Driver        string `yaml:"driver"`         // mediadevices | v4l2 | none
	DevicePattern string `yaml:"device_pattern"` // V4L2デバイスの検索パターン
	FFmpegPath    string `yaml:"ffmpeg_path"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Webcam: WebcamConfig{
			Audio:        false,
			Mirrored:     false,
			MountOnStart: true,
		},
		Screenshot: screenshot.DefaultOptions(),
		Capture: CaptureConfig{
			Driver:        DriverMediaDevices,
			DevicePattern: camera.DefaultDevicePattern,
			FFmpegPath:    "ffmpeg",
			Width:         1280,
			Height:        720,
			FPS:           15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値、YAMLファイル、環境変数の順に上書きする。path が空なら WEBCAM_CONFIG を使い、
// それも空ならファイルは読まない。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	switch c.Capture.Driver {
	case DriverMediaDevices, DriverV4L2, DriverNone:
	default:
		return fmt.Errorf("無効なキャプチャドライバー: %q", c.Capture.Driver)
	}
	if c.Capture.Width < 0 || c.Capture.Height < 0 || c.Capture.FPS < 0 {
		return fmt.Errorf("キャプチャ設定に負の値があります")
	}

	if q := c.Screenshot.ScreenshotQuality; q < 0 || q > 1 {
		return fmt.Errorf("無効な画質: %v (0〜1)", q)
	}
	switch c.Screenshot.ScreenshotFormat {
	case "", screenshot.FormatWebP, screenshot.FormatPNG, screenshot.FormatJPEG:
	default:
		return fmt.Errorf("無効な画像形式: %q", c.Screenshot.ScreenshotFormat)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("無効なログレベル: %q", c.Logging.Level)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WebcamProps はWebcamの初期プロパティを組み立てる
func (c *Config) WebcamProps() camera.Props {
	props := camera.Props{
		Audio:            c.Webcam.Audio,
		Mirrored:         c.Webcam.Mirrored,
		AudioConstraints: c.Webcam.AudioConstraints,
		VideoConstraints: c.Webcam.VideoConstraints,
	}
	if c.Webcam.Width > 0 || c.Webcam.Height > 0 {
		props.Attributes = map[string]string{}
		if c.Webcam.Width > 0 {
			props.Attributes["width"] = fmt.Sprint(c.Webcam.Width)
		}
		if c.Webcam.Height > 0 {
			props.Attributes["height"] = fmt.Sprint(c.Webcam.Height)
		}
	}
	return props
}

// V4L2Settings はV4L2経路の設定を返す
func (c *Config) V4L2Settings() camera.V4L2Settings {
	return camera.V4L2Settings{
		FFmpegPath: c.Capture.FFmpegPath,
		Width:      c.Capture.Width,
		Height:     c.Capture.Height,
		FPS:        c.Capture.FPS,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
