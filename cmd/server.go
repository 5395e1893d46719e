// Package main はWebcamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"go.uber.org/zap"

	"webcam/internal/config"
	"webcam/internal/logger"
	"webcam/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: $WEBCAM_CONFIG)")
		driver     = flag.String("driver", "", "キャプチャドライバー (mediadevices | v4l2 | none)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Webcam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Capture.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	srv, err := server.NewFromConfig(cfg, zl)
	if err != nil {
		zl.Fatal("サーバーの作成に失敗しました", zap.Error(err))
	}

	zl.Info("Webcam サーバーを起動します",
		zap.String("address", cfg.ServerAddress()),
		zap.String("driver", cfg.Capture.Driver),
	)
	if err := srv.Start(context.Background()); err != nil {
		zl.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
