// Package screenshot は表示中の映像フレームを画像として取り出す
//
// 責務:
//   - 表示面の現在のフレームをオフスクリーンのRGBAキャンバスに描画する
//   - 最小サイズ・固有サイズ・明示サイズの指定に従ったキャンバスサイズの決定
//   - ミラー表示の反映（描画1回分のアフィン変換）
//   - WebP / JPEG / PNG へのエンコードとdata URL化
//
// 仕様:
//   - 表示中のストリームがない、または映像の高さが未報告の場合は (nil, nil) を返す
//   - 未知のフォーマットはPNGとしてエンコードする
package screenshot
