package screenshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"

	"webcam/internal/camera"
)

// fakeSource は固定フレームを返す表示面
type fakeSource struct {
	visible     bool
	frame       image.Image
	clientWidth int
	err         error
}

func (f *fakeSource) HasUserMedia() bool { return f.visible }

func (f *fakeSource) VideoWidth() int {
	if f.frame == nil {
		return 0
	}
	return f.frame.Bounds().Dx()
}

func (f *fakeSource) VideoHeight() int {
	if f.frame == nil {
		return 0
	}
	return f.frame.Bounds().Dy()
}

func (f *fakeSource) ClientWidth() int {
	if f.clientWidth > 0 {
		return f.clientWidth
	}
	return f.VideoWidth()
}

func (f *fakeSource) CurrentFrame() (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// splitFrame は左半分が赤、右半分が青のフレームを作る
func splitFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, red)
			} else {
				img.Set(x, y, blue)
			}
		}
	}
	return img
}

func noSmoothing(o Options) *Options {
	off := false
	o.ImageSmoothing = &off
	return &o
}

func TestGetScreenshot_NothingToCapture(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"ソースなし", nil},
		{"ストリーム非表示", &fakeSource{frame: splitFrame(4, 2)}},
		{"高さ未報告", &fakeSource{visible: true}},
		{"幅未報告", &fakeSource{visible: true, frame: image.NewRGBA(image.Rect(0, 0, 0, 2))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := GetScreenshot(tt.src, nil)
			require.NoError(t, err)
			assert.Empty(t, url)

			canvas, err := GetCanvas(tt.src, nil)
			require.NoError(t, err)
			assert.Nil(t, canvas)
		})
	}
}

func TestGetCanvas_Mirrored(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(1280, 720)}
	opts := DefaultOptions()
	opts.Mirrored = true

	canvas, err := GetCanvas(src, noSmoothing(opts))
	require.NoError(t, err)
	require.NotNil(t, canvas)

	assert.Equal(t, 1280, canvas.Bounds().Dx())
	assert.Equal(t, 720, canvas.Bounds().Dy())
	assert.Equal(t, blue, canvas.RGBAAt(0, 0), "左端は元の右端")
	assert.Equal(t, red, canvas.RGBAAt(1279, 719), "右端は元の左端")
}

func TestGetCanvas_NotMirrored(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(4, 2)}

	canvas, err := GetCanvas(src, noSmoothing(DefaultOptions()))
	require.NoError(t, err)

	assert.Equal(t, red, canvas.RGBAAt(0, 0))
	assert.Equal(t, blue, canvas.RGBAAt(3, 1))
}

func TestGetCanvas_ScalesToCanvas(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(4, 2), clientWidth: 8}
	opts := DefaultOptions()
	opts.Mirrored = true

	canvas, err := GetCanvas(src, noSmoothing(opts))
	require.NoError(t, err)

	require.Equal(t, image.Rect(0, 0, 8, 4), canvas.Bounds())
	for x := 0; x < 4; x++ {
		assert.Equal(t, blue, canvas.RGBAAt(x, 2))
	}
	for x := 4; x < 8; x++ {
		assert.Equal(t, red, canvas.RGBAAt(x, 2))
	}
}

func TestCanvasSize(t *testing.T) {
	tests := []struct {
		name         string
		vw, vh, cw   int
		opts         Options
		wantW, wantH int
	}{
		{
			name: "表示幅に合わせる",
			vw:   1280, vh: 720, cw: 640,
			wantW: 640, wantH: 360,
		},
		{
			name: "最小の高さが優先される",
			vw:   1280, vh: 720, cw: 640,
			opts:  Options{MinScreenshotHeight: 1000},
			wantW: 1778, wantH: 1000,
		},
		{
			name: "最小の幅で決める",
			vw:   1280, vh: 720, cw: 640,
			opts:  Options{MinScreenshotWidth: 1920},
			wantW: 1920, wantH: 1080,
		},
		{
			name: "固有サイズを強制する",
			vw:   1280, vh: 720, cw: 640,
			opts:  Options{ForceScreenshotSourceSize: true, MinScreenshotHeight: 1000},
			wantW: 1280, wantH: 720,
		},
		{
			name: "明示サイズが最終的に上書きする",
			vw:   1280, vh: 720, cw: 640,
			opts:  Options{ScreenshotDimensions: &Dimensions{Width: 100, Height: 50}},
			wantW: 100, wantH: 50,
		},
		{
			name: "明示サイズは片方だけでもよい",
			vw:   1280, vh: 720, cw: 640,
			opts:  Options{ScreenshotDimensions: &Dimensions{Height: 50}},
			wantW: 640, wantH: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := canvasSize(tt.vw, tt.vh, tt.cw, &tt.opts)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestGetCanvas_ZeroSize(t *testing.T) {
	src := &fakeSource{visible: true, frame: image.NewRGBA(image.Rect(0, 0, 0, 2))}

	canvas, err := GetCanvas(src, nil)
	require.NoError(t, err)
	assert.Nil(t, canvas, "幅0のキャンバスは作らない")
}

func TestGetCanvas_TooLarge(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(1280, 720)}

	tests := []struct {
		name string
		opts Options
	}{
		{"最小の高さが極端", Options{MinScreenshotHeight: 1000000000}},
		{"最小の幅が極端", Options{MinScreenshotWidth: 20000}},
		{"明示サイズの幅が上限超え", Options{ScreenshotDimensions: &Dimensions{Width: MaxCanvasDimension + 1, Height: 10}}},
		{"画素数が上限超え", Options{ScreenshotDimensions: &Dimensions{Width: 10000, Height: 10000}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canvas, err := GetCanvas(src, &tt.opts)
			require.ErrorIs(t, err, ErrCanvasTooLarge)
			assert.Nil(t, canvas)

			url, err := GetScreenshot(src, &tt.opts)
			require.ErrorIs(t, err, ErrCanvasTooLarge)
			assert.Empty(t, url)
		})
	}

	canvas, err := GetCanvas(src, &Options{ScreenshotDimensions: &Dimensions{Width: MaxCanvasDimension, Height: 1}})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, MaxCanvasDimension, 1), canvas.Bounds(), "上限ちょうどは描画する")
}

func TestGetCanvas_FrameError(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(4, 2)}
	src.err = errors.New("ended")

	_, err := GetCanvas(src, nil)
	assert.ErrorContains(t, err, "ended")
}

func TestGetScreenshot_Formats(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(64, 36)}

	tests := []struct {
		format Format
		prefix string
	}{
		{FormatPNG, "data:image/png;base64,"},
		{FormatJPEG, "data:image/jpeg;base64,"},
		{FormatWebP, "data:image/webp;base64,"},
		{"image/bmp", "data:image/png;base64,"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			opts := DefaultOptions()
			opts.ScreenshotFormat = tt.format

			url, err := GetScreenshot(src, &opts)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, tt.prefix), url[:min(len(url), 40)])
		})
	}
}

func TestGetScreenshot_DecodesToCanvasSize(t *testing.T) {
	src := &fakeSource{visible: true, frame: splitFrame(1280, 720), clientWidth: 320}
	opts := DefaultOptions()
	opts.ScreenshotFormat = FormatPNG

	url, err := GetScreenshot(src, &opts)
	require.NoError(t, err)

	decoded, err := dataurl.DecodeString(url)
	require.NoError(t, err)
	assert.Equal(t, "image/png", decoded.ContentType())

	img, err := png.Decode(bytes.NewReader(decoded.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 180), img.Bounds())
}

func TestEncode_JPEGQuality(t *testing.T) {
	img := splitFrame(32, 32)

	var low, high bytes.Buffer
	_, err := encode(&low, img, FormatJPEG, 0.1)
	require.NoError(t, err)
	_, err = encode(&high, img, FormatJPEG, 1.0)
	require.NoError(t, err)

	assert.Less(t, low.Len(), high.Len())
	_, err = jpeg.Decode(&high)
	assert.NoError(t, err)
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}
	assert.True(t, opts.smoothing())
	assert.Equal(t, FormatWebP, opts.format())
	assert.Equal(t, DefaultQuality, opts.quality())

	opts.ScreenshotQuality = 1.5
	assert.Equal(t, DefaultQuality, opts.quality())
	opts.ScreenshotQuality = 0.5
	assert.Equal(t, 0.5, opts.quality())
}

func TestGetScreenshot_FromWebcam(t *testing.T) {
	md := camera.NewMockMediaDevices(splitFrame(1280, 720))
	w := camera.New(camera.Props{Attributes: map[string]string{"width": "640"}}, camera.Options{MediaDevices: md})

	url, err := GetScreenshot(w, nil)
	require.NoError(t, err)
	assert.Empty(t, url, "マウント前は何も返さない")

	w.Mount(context.Background())
	w.Wait()

	opts := DefaultOptions()
	opts.MinScreenshotHeight = 1000
	canvas, err := GetCanvas(w, &opts)
	require.NoError(t, err)
	require.NotNil(t, canvas)
	assert.Equal(t, image.Rect(0, 0, 1778, 1000), canvas.Bounds())

	w.Unmount()
	canvas, err = GetCanvas(w, &opts)
	require.NoError(t, err)
	assert.Nil(t, canvas)
}
