package main

import (
	"context"
	"log"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"go.uber.org/zap"

	"webcam/internal/config"
	"webcam/internal/logger"
	"webcam/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// サーバーを作成
	srv, err := server.NewFromConfig(cfg, zl)
	if err != nil {
		zl.Fatal("サーバーの作成に失敗しました", zap.Error(err))
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		zl.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
