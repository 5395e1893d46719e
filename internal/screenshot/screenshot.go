package screenshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/vincent-petithory/dataurl"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// MaxCanvasDimension はキャンバスの幅・高さの上限
	MaxCanvasDimension = 16384
	// MaxCanvasArea はキャンバスの画素数の上限
	MaxCanvasArea = 8192 * 8192
)

// ErrCanvasTooLarge は算出したキャンバスが上限を超えた場合に返される
var ErrCanvasTooLarge = errors.New("キャンバスが大きすぎます")

// Source は現在のフレームを取り出せる表示面。camera.Webcam が実装する
type Source interface {
	HasUserMedia() bool
	VideoWidth() int
	VideoHeight() int
	ClientWidth() int
	CurrentFrame() (image.Image, error)
}

// GetScreenshot は現在のフレームをエンコードしてdata URLで返す
//
// 取り出せるフレームがなければ空文字と nil を返す。
func GetScreenshot(src Source, opts *Options) (string, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}

	canvas, err := GetCanvas(src, opts)
	if err != nil || canvas == nil {
		return "", err
	}

	var buf bytes.Buffer
	mediaType, err := encode(&buf, canvas, opts.format(), opts.quality())
	if err != nil {
		return "", err
	}
	return dataurl.New(buf.Bytes(), mediaType).String(), nil
}

// GetCanvas は現在のフレームを描画したキャンバスを返す
//
// 表示中のストリームがない、映像のサイズが未報告、または算出サイズが空の場合は nil, nil を返す。
// 算出サイズが上限を超える場合は ErrCanvasTooLarge を返す。
func GetCanvas(src Source, opts *Options) (*image.RGBA, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if src == nil || !src.HasUserMedia() || src.VideoHeight() <= 0 || src.VideoWidth() <= 0 {
		return nil, nil
	}

	width, height := canvasSize(src.VideoWidth(), src.VideoHeight(), src.ClientWidth(), opts)
	if width <= 0 || height <= 0 {
		return nil, nil
	}
	if width > MaxCanvasDimension || height > MaxCanvasDimension || width*height > MaxCanvasArea {
		return nil, fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, width, height)
	}

	frame, err := src.CurrentFrame()
	if err != nil {
		return nil, fmt.Errorf("フレームの取得に失敗: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	render(canvas, frame, opts.Mirrored, opts.smoothing())
	return canvas, nil
}

// canvasSize はキャンバスのサイズを決める
func canvasSize(videoWidth, videoHeight, clientWidth int, opts *Options) (int, int) {
	var width, height int

	if opts.ForceScreenshotSourceSize {
		width, height = videoWidth, videoHeight
	} else {
		aspect := float64(videoWidth) / float64(videoHeight)

		w := float64(clientWidth)
		if opts.MinScreenshotWidth > 0 {
			w = float64(opts.MinScreenshotWidth)
		}
		h := w / aspect

		if float64(opts.MinScreenshotHeight) > h {
			h = float64(opts.MinScreenshotHeight)
			w = h * aspect
		}

		width = toPixels(w)
		height = toPixels(h)
	}

	if d := opts.ScreenshotDimensions; d != nil {
		if d.Width > 0 {
			width = d.Width
		}
		if d.Height > 0 {
			height = d.Height
		}
	}
	return width, height
}

// toPixels は画素数に丸める。上限を超える値は上限の次の値に寄せる
func toPixels(v float64) int {
	if v > MaxCanvasDimension {
		return MaxCanvasDimension + 1
	}
	return int(math.Round(v))
}

// render はフレームをキャンバス全体に拡縮して描画する。mirrored なら左右を反転する
func render(dst *image.RGBA, frame image.Image, mirrored, smoothing bool) {
	sr := frame.Bounds()
	db := dst.Bounds()

	sx := float64(db.Dx()) / float64(sr.Dx())
	sy := float64(db.Dy()) / float64(sr.Dy())
	minX, minY := float64(sr.Min.X), float64(sr.Min.Y)

	// ソース座標からキャンバス座標への変換
	m := f64.Aff3{
		sx, 0, -sx * minX,
		0, sy, -sy * minY,
	}
	if mirrored {
		m = f64.Aff3{
			-sx, 0, float64(db.Dx()) + sx*minX,
			0, sy, -sy * minY,
		}
	}

	var interp draw.Interpolator = draw.NearestNeighbor
	if smoothing {
		interp = draw.CatmullRom
	}
	interp.Transform(dst, m, frame, sr, draw.Src, nil)
}
