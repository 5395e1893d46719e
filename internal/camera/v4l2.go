package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAudioUnavailable はV4L2経路で音声を要求した場合に返される
var ErrAudioUnavailable = errors.New("V4L2では音声ソースを利用できません")

// V4L2Settings はV4L2経路のキャプチャ設定
type V4L2Settings struct {
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
}

// V4L2Devices はV4L2デバイスとffmpegで構成するレガシーのキャプチャAPI
type V4L2Devices struct {
	discovery Discovery
	settings  V4L2Settings
	logger    *zap.Logger
}

// NewV4L2Devices は新しいV4L2Devicesを作成する
func NewV4L2Devices(discovery Discovery, settings V4L2Settings, logger *zap.Logger) *V4L2Devices {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V4L2Devices{
		discovery: discovery,
		settings:  settings,
		logger:    logger,
	}
}

// GetSources は検出された映像ソースを返す
func (d *V4L2Devices) GetSources(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := d.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ソースの列挙に失敗: %w", err)
	}

	sources := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := d.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			d.logger.Debug("デバイス情報の取得に失敗", zap.String("device", device), zap.Error(err))
			continue
		}
		sources = append(sources, *info)
	}
	return sources, nil
}

// EnumerateDevices は GetSources と同じ一覧を返す
func (d *V4L2Devices) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	return d.GetSources(ctx)
}

// GetUserMedia は制約で選ばれたV4L2デバイスのストリームを開始する
func (d *V4L2Devices) GetUserMedia(ctx context.Context, constraints StreamConstraints) (Stream, error) {
	if constraints.Audio.IsEnabled() {
		return nil, ErrAudioUnavailable
	}
	if !constraints.Video.IsEnabled() {
		return nil, fmt.Errorf("映像の制約がありません")
	}

	device := constraints.Video.SourceID()
	if device == "" || !d.discovery.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, device)
	}

	settings := d.settings
	if tc := constraints.Video.Track; tc != nil {
		if tc.Width > 0 {
			settings.Width = tc.Width
		}
		if tc.Height > 0 {
			settings.Height = tc.Height
		}
		if tc.FrameRate > 0 {
			settings.FPS = int(tc.FrameRate)
		}
	}

	capturer := NewV4L2Capturer(settings.FFmpegPath, device, settings.Width, settings.Height, settings.FPS, d.logger)
	track := newV4L2Track(capturer, d.logger)
	if err := track.start(ctx); err != nil {
		return nil, err
	}
	return NewMediaStream(track), nil
}

// V4L2Track はffmpegの連続キャプチャを背後に持つ映像トラック
type V4L2Track struct {
	id       string
	capturer *V4L2Capturer
	logger   *zap.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	frames  chan []byte
	ready   chan struct{}
	once    sync.Once
	latest  []byte
	lastErr error
	mu      sync.RWMutex
}

func newV4L2Track(capturer *V4L2Capturer, logger *zap.Logger) *V4L2Track {
	id := uuid.New().String()
	return &V4L2Track{
		id:       id,
		capturer: capturer,
		logger:   logger.With(zap.String("track_id", id)),
		done:     make(chan struct{}),
		frames:   make(chan []byte, 2),
		ready:    make(chan struct{}),
	}
}

// ID はトラックIDを返す
func (t *V4L2Track) ID() string { return t.id }

// Kind は映像トラックであることを返す
func (t *V4L2Track) Kind() TrackKind { return KindVideo }

// start はデバイスを試し撮りしてから連続キャプチャを開始する
func (t *V4L2Track) start(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := t.capturer.CaptureFrame(probeCtx); err != nil {
		return fmt.Errorf("カメラのテストキャプチャに失敗: %w", err)
	}

	// ストリームは要求のコンテキストより長く生きる
	streamCtx, streamCancel := context.WithCancel(context.Background())
	t.cancel = streamCancel

	go func() {
		defer close(t.frames)
		if err := t.capturer.StartStream(streamCtx, t.frames); err != nil {
			t.mu.Lock()
			t.lastErr = err
			t.mu.Unlock()
			t.logger.Warn("キャプチャが停止しました", zap.Error(err))
		}
	}()
	go t.keepLatest()

	return nil
}

// keepLatest はフレームを受け取り最新の1枚だけを保持する
func (t *V4L2Track) keepLatest() {
	defer close(t.done)
	for frame := range t.frames {
		t.mu.Lock()
		t.latest = frame
		t.mu.Unlock()
		t.once.Do(func() { close(t.ready) })
	}
}

// ReadFrame は最新のフレームをデコードして返す。最初のフレームが届くまで待つ
func (t *V4L2Track) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-t.ready:
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.RLock()
	frame, lastErr := t.latest, t.lastErr
	t.mu.RUnlock()

	if frame == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("フレームがまだ取得されていません")
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// Stop はffmpegを止めてフレームの受信が終わるまで待つ
func (t *V4L2Track) Stop() error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	<-t.done
	return nil
}
