package camera

import (
	"context"
	"image"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Props はWebcamコンポーネントのプロパティ
type Props struct {
	Audio            bool              `json:"audio" yaml:"audio"`
	Mirrored         bool              `json:"mirrored" yaml:"mirrored"`
	AudioConstraints *Constraint       `json:"audioConstraints,omitempty" yaml:"audio_constraints,omitempty"`
	VideoConstraints *Constraint       `json:"videoConstraints,omitempty" yaml:"video_constraints,omitempty"`
	Style            map[string]string `json:"style,omitempty" yaml:"style,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"` // width, height, class など表示面にそのまま渡す属性

	OnUserMedia      func(stream Stream) `json:"-" yaml:"-"`
	OnUserMediaError func(err error)     `json:"-" yaml:"-"`
}

// Options はWebcamの依存関係
type Options struct {
	// MediaDevices は現行のキャプチャAPI。nil ならレガシー経路を使う
	MediaDevices MediaDevices
	// LegacyDevices はフォールバック用のキャプチャAPI
	LegacyDevices LegacyDevices
	// Surface はストリームの表示面。nil なら Video を作成する
	Surface Surface
	// URLs は一時URLの発行元。nil なら新規に作成する
	URLs *ObjectURLRegistry
	// ResultBuffer が正なら Results チャンネルを有効にする
	ResultBuffer int
	Logger       *zap.Logger
}

// Webcam はコンポーネントのライフサイクルと単一のキャプチャストリームを結びつける
type Webcam struct {
	id      string
	devices MediaDevices
	legacy  LegacyDevices
	surface Surface
	urls    *ObjectURLRegistry
	results chan Result
	logger  *zap.Logger

	props        Props
	stream       Stream
	src          string
	requestID    uint64
	mounted      bool
	hasUserMedia bool
	status       Status
	lastErr      error
	mu           sync.Mutex

	// 要求中のゴルーチン
	wg sync.WaitGroup
}

// New は新しいWebcamを作成する
func New(props Props, opts Options) *Webcam {
	urls := opts.URLs
	if urls == nil {
		urls = NewObjectURLRegistry()
	}
	surface := opts.Surface
	if surface == nil {
		surface = NewVideo(urls)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Webcam{
		id:      uuid.New().String(),
		devices: opts.MediaDevices,
		legacy:  opts.LegacyDevices,
		surface: surface,
		urls:    urls,
		props:   props,
		status:  StatusInactive,
	}
	w.logger = logger.With(zap.String("webcam_id", w.id))
	if opts.ResultBuffer > 0 {
		w.results = make(chan Result, opts.ResultBuffer)
	}
	surface.SetClientWidth(attributeInt(props.Attributes, "width"))

	return w
}

// ID はインスタンスIDを返す
func (w *Webcam) ID() string {
	return w.id
}

// Mount はコンポーネントのマウント時に呼ぶ
//
// キャプチャAPIがなければエラーを通知して終わる。表示中のストリームがなければ要求する。
func (w *Webcam) Mount(ctx context.Context) {
	w.mu.Lock()
	w.mounted = true
	props := w.props
	supported := w.supported()
	visible := w.hasUserMedia
	w.mu.Unlock()

	if !supported {
		w.logger.Warn("キャプチャAPIが利用できません")
		w.emit(props, Result{Err: ErrNotSupported})
		return
	}

	if !visible {
		w.requestUserMedia(ctx)
	}
}

// Apply は新しいプロパティを反映する
//
// 音声・映像の制約が値として変わった場合だけ、既存のストリームを解放して要求し直す。
// 解放と要求IDの更新は同じロック区間で行う。
func (w *Webcam) Apply(ctx context.Context, props Props) {
	w.mu.Lock()
	prev := w.props
	w.props = props
	supported := w.supported()
	w.mu.Unlock()

	w.surface.SetClientWidth(attributeInt(props.Attributes, "width"))

	if !supported {
		w.emit(props, Result{Err: ErrNotSupported})
		return
	}

	audioChanged := !prev.AudioConstraints.Equal(props.AudioConstraints)
	videoChanged := !prev.VideoConstraints.Equal(props.VideoConstraints)
	if !audioChanged && !videoChanged {
		return
	}

	w.logger.Info("制約が変更されました",
		zap.Bool("audio_changed", audioChanged),
		zap.Bool("video_changed", videoChanged),
	)

	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	stream, src := w.detachLocked()
	req := w.beginRequestLocked()
	w.mu.Unlock()

	w.release(stream, src)
	w.issue(ctx, req)
}

// Unmount はコンポーネントのアンマウント時に呼ぶ。要求中の結果は以後すべて破棄される
func (w *Webcam) Unmount() {
	w.mu.Lock()
	w.mounted = false
	stream, src := w.detachLocked()
	w.status = StatusInactive
	w.mu.Unlock()

	w.release(stream, src)
	w.logger.Info("アンマウントしました")
}

// Wait は要求中のストリーム取得がすべて解決するまで待つ
func (w *Webcam) Wait() {
	w.wg.Wait()
}

// Results は要求結果のチャンネルを返す。ResultBuffer が 0 なら nil
func (w *Webcam) Results() <-chan Result {
	return w.results
}

// Props は現在のプロパティを返す
func (w *Webcam) Props() Props {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.props
}

// Stream は表示中のストリームを返す
func (w *Webcam) Stream() Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream
}

// Src は一時URLでアタッチしている場合のURLを返す
func (w *Webcam) Src() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.src
}

// Status は現在の状態を返す
func (w *Webcam) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err は最後に通知したエラーを返す
func (w *Webcam) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// RequestID は最新の要求IDを返す
func (w *Webcam) RequestID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requestID
}

// HasUserMedia はストリームが表示面にアタッチされているかを返す
func (w *Webcam) HasUserMedia() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasUserMedia
}

// Muted は音声を要求していないとき true を返す
func (w *Webcam) Muted() bool {
	return !w.Props().Audio
}

// Style は表示面に適用するスタイルを返す。ミラー表示なら transform に scaleX(-1) を加える
func (w *Webcam) Style() map[string]string {
	props := w.Props()

	style := make(map[string]string, len(props.Style)+1)
	for k, v := range props.Style {
		style[k] = v
	}
	if props.Mirrored {
		style["transform"] = strings.TrimSpace(style["transform"] + " scaleX(-1)")
	}
	return style
}

// VideoWidth は表示面の固有の幅を返す
func (w *Webcam) VideoWidth() int {
	return w.surface.VideoWidth()
}

// VideoHeight は表示面の固有の高さを返す
func (w *Webcam) VideoHeight() int {
	return w.surface.VideoHeight()
}

// ClientWidth は表示面の表示幅を返す
func (w *Webcam) ClientWidth() int {
	return w.surface.ClientWidth()
}

// CurrentFrame は表示中のフレームを返す
func (w *Webcam) CurrentFrame() (image.Image, error) {
	return w.surface.CurrentFrame()
}

// supported はキャプチャAPIが利用できるかを返す（ロック済み前提）
func (w *Webcam) supported() bool {
	return w.devices != nil || w.legacy != nil
}

// request は発行時点で確定した要求の内容
type request struct {
	id      uint64
	props   Props
	devices MediaDevices
	legacy  LegacyDevices
}

// requestUserMedia はストリームを要求する
func (w *Webcam) requestUserMedia(ctx context.Context) {
	w.mu.Lock()
	req := w.beginRequestLocked()
	w.mu.Unlock()

	w.issue(ctx, req)
}

// beginRequestLocked は要求IDを進めて要求の内容を確定する（ロック済み前提）
//
// 要求IDは発行前に進める。解決時に一致しなければ、より新しい要求かアンマウントに追い越されている。
func (w *Webcam) beginRequestLocked() request {
	w.requestID++
	w.status = StatusRequesting
	return request{
		id:      w.requestID,
		props:   w.props,
		devices: w.devices,
		legacy:  w.legacy,
	}
}

// issue は要求を別のゴルーチンで発行する
func (w *Webcam) issue(ctx context.Context, req request) {
	id, props := req.id, req.props
	logger := w.logger.With(zap.Uint64("request_id", id))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		if req.devices != nil {
			constraints := buildConstraints(props.Audio, props.AudioConstraints, props.VideoConstraints)
			logger.Debug("ストリームを要求します", zap.Any("constraints", constraints))
			stream, err := req.devices.GetUserMedia(ctx, constraints)
			w.resolve(id, stream, err)
			return
		}

		constraints, err := w.selectLegacySources(ctx, req.legacy, props)
		if err != nil {
			w.resolve(id, nil, err)
			return
		}
		logger.Debug("レガシー経路でストリームを要求します", zap.Any("constraints", constraints))
		stream, err := req.legacy.GetUserMedia(ctx, constraints)
		w.resolve(id, stream, err)
	}()
}

// selectLegacySources はソースを列挙し、音声・映像それぞれのソースIDをレガシー形式の制約にする
//
// 制約で明示されたデバイスIDが、列挙された最初の同種ソースより優先される。
func (w *Webcam) selectLegacySources(ctx context.Context, legacy LegacyDevices, props Props) (StreamConstraints, error) {
	sources, err := legacy.GetSources(ctx)
	if err != nil {
		return StreamConstraints{}, err
	}

	var audioSource, videoSource string
	for _, source := range sources {
		switch source.Kind {
		case KindAudio:
			if audioSource == "" {
				audioSource = source.DeviceID
			}
		case KindVideo:
			if videoSource == "" {
				videoSource = source.DeviceID
			}
		}
	}

	if id := props.AudioConstraints.SourceID(); id != "" {
		audioSource = id
	}
	if id := props.VideoConstraints.SourceID(); id != "" {
		videoSource = id
	}

	return buildConstraints(props.Audio, optionalSource(audioSource), optionalSource(videoSource)), nil
}

// resolve はストリーム要求の結果を処理する
func (w *Webcam) resolve(id uint64, stream Stream, err error) {
	w.mu.Lock()

	if !w.mounted || id != w.requestID {
		w.mu.Unlock()
		w.logger.Debug("古い要求の結果を破棄します", zap.Uint64("request_id", id), zap.Error(err))
		if stopErr := StopStream(stream); stopErr != nil {
			w.logger.Warn("破棄したストリームの停止に失敗", zap.Error(stopErr))
		}
		return
	}

	if err == nil && stream == nil {
		err = ErrNoStream
	}

	if err != nil {
		stale, staleSrc := w.detachLocked()
		w.status = StatusError
		w.lastErr = err
		props := w.props
		w.mu.Unlock()

		w.release(stale, staleSrc)

		w.logger.Warn("ストリームの取得に失敗", zap.Uint64("request_id", id), zap.Error(err))
		w.emit(props, Result{Err: err})
		return
	}

	// アタッチ済みのストリームがあれば置き換える
	prevStream, prevSrc := w.detachLocked()
	w.stream = stream
	if attachErr := w.surface.SetSrcObject(stream); attachErr != nil {
		w.src = w.urls.CreateObjectURL(stream)
		if srcErr := w.surface.SetSrc(w.src); srcErr != nil {
			w.logger.Warn("一時URLのアタッチに失敗", zap.Error(srcErr))
		}
	}
	w.hasUserMedia = true
	w.status = StatusActive
	w.lastErr = nil
	props := w.props
	w.mu.Unlock()

	if prevStream != nil && prevStream != stream {
		if err := StopStream(prevStream); err != nil {
			w.logger.Warn("置き換えたストリームの停止に失敗", zap.Error(err))
		}
	}
	if prevSrc != "" {
		w.urls.RevokeObjectURL(prevSrc)
	}

	w.logger.Info("ストリームを表示します", zap.Uint64("request_id", id), zap.String("stream_id", stream.ID()))
	w.emit(props, Result{Stream: stream})
}

// detachLocked は表示中のストリームを表示面から外して返す（ロック済み前提）
//
// 表示面の操作はアタッチと同じロック区間に収める。
func (w *Webcam) detachLocked() (Stream, string) {
	stream, src := w.stream, w.src
	w.stream = nil
	w.src = ""
	w.hasUserMedia = false

	if err := w.surface.SetSrcObject(nil); err != nil {
		w.logger.Warn("表示面の取り外しに失敗", zap.Error(err))
	}
	if src != "" {
		_ = w.surface.SetSrc("")
	}
	return stream, src
}

// release は手放したストリームの全トラックを停止し、一時URLを失効させる
//
// 表示面には触れない。
func (w *Webcam) release(stream Stream, src string) {
	if stream == nil {
		return
	}

	if err := StopStream(stream); err != nil {
		w.logger.Warn("ストリームの停止に失敗", zap.Error(err))
	}
	if src != "" {
		w.urls.RevokeObjectURL(src)
	}
}

// emit はコールバックと Results チャンネルに結果を通知する
func (w *Webcam) emit(props Props, r Result) {
	if r.Err != nil {
		if props.OnUserMediaError != nil {
			props.OnUserMediaError(r.Err)
		}
	} else if props.OnUserMedia != nil {
		props.OnUserMedia(r.Stream)
	}

	if w.results == nil {
		return
	}
	select {
	case w.results <- r:
	default:
		w.logger.Warn("Resultsチャンネルが一杯のため結果を捨てました")
	}
}

// attributeInt は属性を整数として読む。読めなければ 0
func attributeInt(attrs map[string]string, key string) int {
	v, err := strconv.Atoi(strings.TrimSuffix(attrs[key], "px"))
	if err != nil {
		return 0
	}
	return v
}
