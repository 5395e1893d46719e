package screenshot

// Format は出力画像のMIMEタイプ
type Format string

const (
	FormatWebP Format = "image/webp"
	FormatPNG  Format = "image/png"
	FormatJPEG Format = "image/jpeg"
)

// DefaultQuality は画質が範囲外のときに使う値
const DefaultQuality = 0.92

// Dimensions はキャンバスサイズの明示指定。0 以下の値は無視される
type Dimensions struct {
	Width  int `json:"width" yaml:"width" form:"screenshotWidth"`
	Height int `json:"height" yaml:"height" form:"screenshotHeight"`
}

// Options はスクリーンショットの設定
type Options struct {
	MinScreenshotHeight       int         `json:"minScreenshotHeight,omitempty" yaml:"min_screenshot_height" form:"minScreenshotHeight"`
	MinScreenshotWidth        int         `json:"minScreenshotWidth,omitempty" yaml:"min_screenshot_width" form:"minScreenshotWidth"`
	ForceScreenshotSourceSize bool        `json:"forceScreenshotSourceSize" yaml:"force_screenshot_source_size" form:"forceScreenshotSourceSize"`
	ImageSmoothing            *bool       `json:"imageSmoothing,omitempty" yaml:"image_smoothing" form:"imageSmoothing"` // nil は true
	Mirrored                  bool        `json:"mirrored" yaml:"mirrored" form:"mirrored"`
	ScreenshotFormat          Format      `json:"screenshotFormat" yaml:"screenshot_format" form:"screenshotFormat"`
	ScreenshotQuality         float64     `json:"screenshotQuality" yaml:"screenshot_quality" form:"screenshotQuality"` // (0, 1] の範囲外は DefaultQuality
	ScreenshotDimensions      *Dimensions `json:"screenshotDimensions,omitempty" yaml:"screenshot_dimensions,omitempty"`
}

// DefaultOptions はデフォルト設定を返す
func DefaultOptions() Options {
	smoothing := true
	return Options{
		ImageSmoothing:    &smoothing,
		ScreenshotFormat:  FormatWebP,
		ScreenshotQuality: DefaultQuality,
	}
}

func (o *Options) smoothing() bool {
	return o.ImageSmoothing == nil || *o.ImageSmoothing
}

func (o *Options) quality() float64 {
	if o.ScreenshotQuality <= 0 || o.ScreenshotQuality > 1 {
		return DefaultQuality
	}
	return o.ScreenshotQuality
}

func (o *Options) format() Format {
	if o.ScreenshotFormat == "" {
		return FormatWebP
	}
	return o.ScreenshotFormat
}
