package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webcam/internal/camera"
	"webcam/internal/screenshot"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// WebcamStatus はWebcamの状態
type WebcamStatus struct {
	ID           string            `json:"id"`
	Status       camera.Status     `json:"status"`
	RequestID    uint64            `json:"requestId"`
	HasUserMedia bool              `json:"hasUserMedia"`
	Muted        bool              `json:"muted"`
	Style        map[string]string `json:"style,omitempty"`
	VideoWidth   int               `json:"videoWidth"`
	VideoHeight  int               `json:"videoHeight"`
	Src          string            `json:"src,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string       `json:"status"`
	Server    ServerInfo   `json:"server"`
	Driver    string       `json:"driver"`
	Webcam    WebcamStatus `json:"webcam"`
	Timestamp time.Time    `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DevicesResponse はデバイス一覧のレスポンス
type DevicesResponse struct {
	Devices []camera.DeviceInfo `json:"devices"`
}

// ScreenshotResponse はスクリーンショットのレスポンス
type ScreenshotResponse struct {
	DataURL string `json:"dataUrl"`
}

func newErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Driver:    s.config.Capture.Driver,
		Webcam:    s.webcamStatus(),
		Timestamp: time.Now(),
	})
}

func (s *Server) webcamStatus() WebcamStatus {
	w := s.webcam
	status := WebcamStatus{
		ID:           w.ID(),
		Status:       w.Status(),
		RequestID:    w.RequestID(),
		HasUserMedia: w.HasUserMedia(),
		Muted:        w.Muted(),
		Style:        w.Style(),
		Src:          w.Src(),
	}
	if status.HasUserMedia {
		status.VideoWidth = w.VideoWidth()
		status.VideoHeight = w.VideoHeight()
	}
	if err := w.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

// handleDevices はデバイス一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	response := DevicesResponse{Devices: []camera.DeviceInfo{}}
	if s.devices == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	devices, err := s.devices.EnumerateDevices(c.Request.Context())
	if err != nil {
		s.logger.Error("デバイスの列挙に失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, newErrorResponse("enumerate_failed", err.Error()))
		return
	}
	response.Devices = append(response.Devices, devices...)
	c.JSON(http.StatusOK, response)
}

// handleMount はWebcamをマウントする。取得結果は非同期に反映される
func (s *Server) handleMount(c *gin.Context) {
	s.webcam.Mount(s.baseCtx)
	c.JSON(http.StatusAccepted, s.webcamStatus())
}

// handleApplyProps はWebcamのプロパティを置き換える
func (s *Server) handleApplyProps(c *gin.Context) {
	var props camera.Props
	if err := c.ShouldBindJSON(&props); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse("invalid_props", err.Error()))
		return
	}

	s.webcam.Apply(s.baseCtx, s.withCallbacks(props))
	c.JSON(http.StatusAccepted, s.webcamStatus())
}

// handleUnmount はWebcamをアンマウントしてストリームを解放する
func (s *Server) handleUnmount(c *gin.Context) {
	s.webcam.Unmount()
	c.JSON(http.StatusOK, s.webcamStatus())
}

// handleScreenshot は現在のフレームをdata URLで返す。取り出せるフレームがなければ204
func (s *Server) handleScreenshot(c *gin.Context) {
	opts, err := s.screenshotOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse("invalid_options", err.Error()))
		return
	}

	url, err := screenshot.GetScreenshot(s.webcam, &opts)
	if errors.Is(err, screenshot.ErrCanvasTooLarge) {
		c.JSON(http.StatusBadRequest, newErrorResponse("invalid_options", err.Error()))
		return
	}
	if err != nil {
		s.logger.Error("スクリーンショットの取得に失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, newErrorResponse("capture_failed", err.Error()))
		return
	}
	if url == "" {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, ScreenshotResponse{DataURL: url})
}

// screenshotOptions は設定のデフォルトにクエリパラメータを重ねる
func (s *Server) screenshotOptions(c *gin.Context) (screenshot.Options, error) {
	opts := s.config.Screenshot
	if opts.ImageSmoothing != nil {
		smoothing := *opts.ImageSmoothing
		opts.ImageSmoothing = &smoothing
	}
	if opts.ScreenshotDimensions != nil {
		dims := *opts.ScreenshotDimensions
		opts.ScreenshotDimensions = &dims
	}
	// mirrored の既定はWebcamの表示に合わせる
	if _, ok := c.GetQuery("mirrored"); !ok {
		opts.Mirrored = s.webcam.Props().Mirrored
	}

	if err := c.ShouldBindQuery(&opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Webcam</title>
</head>
<body>
    <h1>Webcam</h1>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>スクリーンショット: <a href="/api/screenshot">/api/screenshot</a></p>
</body>
</html>`))
}
