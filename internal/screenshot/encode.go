package screenshot

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
)

// encode は画像を指定フォーマットで書き出し、実際に使ったMIMEタイプを返す
func encode(w io.Writer, img image.Image, format Format, quality float64) (string, error) {
	switch format {
	case FormatJPEG:
		q := int(math.Round(quality * 100))
		if q < 1 {
			q = 1
		} else if q > 100 {
			q = 100
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: q}); err != nil {
			return "", fmt.Errorf("JPEGエンコードに失敗: %w", err)
		}
		return string(FormatJPEG), nil

	case FormatWebP:
		if err := webp.Encode(w, img, &webp.Options{Quality: float32(quality * 100)}); err != nil {
			return "", fmt.Errorf("WebPエンコードに失敗: %w", err)
		}
		return string(FormatWebP), nil

	default:
		// 未知のフォーマットもPNGにする
		if err := png.Encode(w, img); err != nil {
			return "", fmt.Errorf("PNGエンコードに失敗: %w", err)
		}
		return string(FormatPNG), nil
	}
}
