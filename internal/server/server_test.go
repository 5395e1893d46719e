package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"

	"webcam/internal/camera"
	"webcam/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func newTestServer(t *testing.T) (*Server, *camera.MockMediaDevices) {
	t.Helper()
	md := camera.NewMockMediaDevices(image.NewRGBA(image.Rect(0, 0, 1280, 720)))
	srv := New(testConfig(), camera.Options{MediaDevices: md}, md, nil)
	t.Cleanup(srv.Webcam().Unmount)
	return srv, md
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func mount(t *testing.T, srv *Server) {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/webcam/mount", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Webcam().Wait()
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestStatus_Lifecycle(t *testing.T) {
	srv, md := newTestServer(t)

	status := func() StatusResponse {
		rec := doRequest(t, srv, http.MethodGet, "/api/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	before := status()
	assert.Equal(t, camera.StatusInactive, before.Webcam.Status)
	assert.False(t, before.Webcam.HasUserMedia)
	assert.True(t, before.Webcam.Muted)
	assert.Equal(t, config.DriverMediaDevices, before.Driver)

	mount(t, srv)

	active := status()
	assert.Equal(t, camera.StatusActive, active.Webcam.Status)
	assert.True(t, active.Webcam.HasUserMedia)
	assert.Equal(t, uint64(1), active.Webcam.RequestID)
	assert.Equal(t, 1280, active.Webcam.VideoWidth)
	assert.Equal(t, 720, active.Webcam.VideoHeight)

	rec := doRequest(t, srv, http.MethodDelete, "/api/webcam", "")
	require.Equal(t, http.StatusOK, rec.Code)

	after := status()
	assert.Equal(t, camera.StatusInactive, after.Webcam.Status)
	assert.False(t, after.Webcam.HasUserMedia)
	assert.True(t, md.Issued()[0].AllStopped())
}

func TestApplyProps(t *testing.T) {
	srv, md := newTestServer(t)
	mount(t, srv)

	rec := doRequest(t, srv, http.MethodPut, "/api/webcam/props", `{"mirrored":true,"videoConstraints":{"deviceId":"cam2"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Webcam().Wait()

	constraints := md.Constraints()
	require.Len(t, constraints, 2)
	assert.Equal(t, "cam2", constraints[1].Video.SourceID())
	assert.True(t, md.Issued()[0].AllStopped())
	assert.Equal(t, "scaleX(-1)", srv.Webcam().Style()["transform"])

	rec = doRequest(t, srv, http.MethodPut, "/api/webcam/props", `{"videoConstraints":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_props", errResp.Error)
	assert.False(t, errResp.Timestamp.IsZero())
}

func TestScreenshot(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/screenshot", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "マウント前は取り出せない")

	mount(t, srv)

	rec = doRequest(t, srv, http.MethodGet, "/api/screenshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScreenshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.DataURL, "data:image/webp;base64,"))

	rec = doRequest(t, srv, http.MethodGet, "/api/screenshot?screenshotFormat=image/png&screenshotWidth=100&screenshotHeight=50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	decoded, err := dataurl.DecodeString(resp.DataURL)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(decoded.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())

	// 設定のデフォルトは書き換えられない
	assert.Nil(t, srv.config.Screenshot.ScreenshotDimensions)

	rec = doRequest(t, srv, http.MethodGet, "/api/screenshot?screenshotQuality=high", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/screenshot?minScreenshotHeight=1000000000", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_options", errResp.Error)
}

func TestDevices(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DevicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 2)
	assert.Equal(t, camera.KindVideo, resp.Devices[0].Kind)

	noDevices := New(testConfig(), camera.Options{}, nil, nil)
	rec = doRequest(t, noDevices, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":[]}`, rec.Body.String())
}

func TestNotSupported(t *testing.T) {
	srv := New(testConfig(), camera.Options{}, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/webcam/mount", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Webcam().Wait()

	assert.False(t, srv.Webcam().HasUserMedia())

	rec = doRequest(t, srv, http.MethodGet, "/api/screenshot", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv, md := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// 起動時にマウントされる
	require.Eventually(t, srv.Webcam().HasUserMedia, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}

	assert.False(t, srv.Webcam().HasUserMedia())
	assert.True(t, md.Issued()[0].AllStopped())
}
