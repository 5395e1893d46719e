// Package server は、Webcamを1つ所有するHTTPサーバーを管理します。
//
// このパッケージは、ページの役割を担い、Webcamのマウント・プロパティ変更・
// アンマウントとスクリーンショットの取得をHTTP経由で操作できるようにします。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - Webcamのライフサイクル操作
//   - スクリーンショットの配信
//   - デバイス一覧の提供
//
// 仕様:
//   - gin-gonic/gin を使用
//   - errgroup によるサーバーとシャットダウン待機の並行実行
//   - グレースフルシャットダウン時にWebcamを解放
package server
