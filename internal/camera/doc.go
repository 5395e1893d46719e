// Package camera はカメラ／マイクのキャプチャストリームとコンポーネントのライフサイクルを結びつける
//
// # 責務
// - マウント・プロパティ変更・アンマウントに応じたストリームの要求と解放
// - 古くなった要求結果の破棄（要求IDによる世代管理）
// - 表示面（Video）へのストリームのアタッチとオブジェクトURLのフォールバック
// - キャプチャAPIの抽象化（pion/mediadevices と V4L2 のレガシー経路）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - ホストのUI層からカメラウィジェットを駆動したい
// - 制約の変更に追従してストリームを張り替えたい
// - 表示中のフレームを screenshot パッケージに渡したい
//
// # 仕様
// - Webcam: インスタンス毎に最大1つのストリームを所有する
// - 要求IDは単調増加し、解決時に一致しない結果は即座に停止される
// - 解放時は全トラックを取り外して停止する
// - エラーはコールバックと Results チャンネルで通知し、panic や戻り値にはしない
// - Thread-safe な操作をサポート
//
// # 前提要件
//   - mediadevices 経路: 利用するドライバーをブランクインポートで登録すること
//     例: _ "github.com/pion/mediadevices/pkg/driver/camera"
//   - V4L2 経路: v4l-utils と ffmpeg が必要
//     Ubuntu/Debian: sudo apt install v4l-utils ffmpeg
package camera
