package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webcam/internal/camera"
	"webcam/internal/config"
)

// Server はWebcamを1つ所有するHTTPサーバー
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *gin.Engine
	httpServer *http.Server

	webcam  *camera.Webcam
	devices camera.DeviceEnumerator

	// Webcamの要求に渡すコンテキスト。リクエストより長く生きる
	baseCtx context.Context
}

// New は新しいServerインスタンスを作成する
//
// camOpts のドライバーでWebcamを作成する。devices が nil ならデバイス一覧は空になる。
func New(cfg *config.Config, camOpts camera.Options, devices camera.DeviceEnumerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if camOpts.Logger == nil {
		camOpts.Logger = logger
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:  cfg,
		logger:  logger,
		router:  router,
		devices: devices,
		baseCtx: context.Background(),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.webcam = camera.New(s.withCallbacks(cfg.WebcamProps()), camOpts)

	router.Use(requestLogger(logger), recovery(logger))
	s.setupRoutes()

	return s
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Webcam はサーバーが所有するWebcamを返す
func (s *Server) Webcam() *camera.Webcam {
	return s.webcam
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/", s.handleRoot)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/devices", s.handleDevices)
		api.GET("/screenshot", s.handleScreenshot)

		api.POST("/webcam/mount", s.handleMount)
		api.PUT("/webcam/props", s.handleApplyProps)
		api.DELETE("/webcam", s.handleUnmount)
	}
}

// Start はサーバーを起動し、ctx のキャンセルかシグナルを受けるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.baseCtx = ctx
	if s.config.Webcam.MountOnStart {
		s.webcam.Mount(ctx)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return s.Shutdown()
	})

	return eg.Wait()
}

// Shutdown はWebcamを解放し、サーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	s.webcam.Unmount()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.webcam.Wait()
	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// withCallbacks はWebcamの通知をログに流すコールバックを設定する
func (s *Server) withCallbacks(props camera.Props) camera.Props {
	props.OnUserMedia = func(stream camera.Stream) {
		s.logger.Info("ストリームを取得しました", zap.String("stream_id", stream.ID()))
	}
	props.OnUserMediaError = func(err error) {
		s.logger.Warn("ストリームの取得に失敗しました", zap.Error(err))
	}
	return props
}
