package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// defaultFrameTimeout はフレーム読み出しの待ち時間の上限
const defaultFrameTimeout = 5 * time.Second

// Surface はライブストリームを表示する面
type Surface interface {
	// SetSrcObject はストリームを直接アタッチする。nil で取り外す
	SetSrcObject(stream Stream) error
	// SetSrc は一時URL経由でストリームをアタッチする。空文字で取り外す
	SetSrc(url string) error
	// SetClientWidth は表示幅を設定する。0 は固有幅に従う
	SetClientWidth(width int)

	VideoWidth() int
	VideoHeight() int
	ClientWidth() int
	CurrentFrame() (image.Image, error)
}

// Video はストリームを表示する面の標準実装
//
// 固有サイズは最初のフレームを読み出した時点で確定する。それまで VideoHeight は 0 を返す。
type Video struct {
	urls         *ObjectURLRegistry
	frameTimeout time.Duration

	srcObjectRefused bool
	srcObject        Stream
	src              string
	clientWidth      int
	videoWidth       int
	videoHeight      int
	mu               sync.RWMutex
}

// NewVideo は新しいVideoを作成する
func NewVideo(urls *ObjectURLRegistry) *Video {
	if urls == nil {
		urls = NewObjectURLRegistry()
	}
	return &Video{
		urls:         urls,
		frameTimeout: defaultFrameTimeout,
	}
}

// RefuseSrcObject は直接アタッチを拒否させる。URL経由のアタッチしかできない表示面を再現する
func (v *Video) RefuseSrcObject() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.srcObjectRefused = true
}

// SetSrcObject はストリームを直接アタッチする
func (v *Video) SetSrcObject(stream Stream) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if stream != nil && v.srcObjectRefused {
		return ErrSrcObjectUnsupported
	}

	v.srcObject = stream
	v.resetMetadata()
	return nil
}

// SetSrc は一時URL経由でストリームをアタッチする
func (v *Video) SetSrc(url string) error {
	if url != "" {
		if _, ok := v.urls.Resolve(url); !ok {
			return fmt.Errorf("再生できないURLです: %s", url)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.src = url
	v.resetMetadata()
	return nil
}

// SetClientWidth は表示幅を設定する
func (v *Video) SetClientWidth(width int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clientWidth = width
}

// SrcObject は直接アタッチされたストリームを返す
func (v *Video) SrcObject() Stream {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.srcObject
}

// Src は一時URLを返す
func (v *Video) Src() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.src
}

// VideoWidth は固有の幅を返す
func (v *Video) VideoWidth() int {
	w, _ := v.metadata()
	return w
}

// VideoHeight は固有の高さを返す。まだ報告されていなければ 0
func (v *Video) VideoHeight() int {
	_, h := v.metadata()
	return h
}

// ClientWidth は表示幅を返す。未設定なら固有の幅
func (v *Video) ClientWidth() int {
	v.mu.RLock()
	cw := v.clientWidth
	v.mu.RUnlock()

	if cw > 0 {
		return cw
	}
	return v.VideoWidth()
}

// CurrentFrame は現在のフレームを読み出す
func (v *Video) CurrentFrame() (image.Image, error) {
	track, ok := v.videoTrack()
	if !ok {
		return nil, fmt.Errorf("表示中の映像トラックがありません")
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.frameTimeout)
	defer cancel()

	frame, err := track.ReadFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("フレームの読み出しに失敗: %w", err)
	}

	v.updateMetadata(track, frame.Bounds())
	return frame, nil
}

// metadata は固有サイズを返す。未取得なら1フレーム読み出して確定させる
func (v *Video) metadata() (int, int) {
	v.mu.RLock()
	w, h := v.videoWidth, v.videoHeight
	v.mu.RUnlock()

	if h > 0 {
		return w, h
	}

	if _, err := v.CurrentFrame(); err != nil {
		return 0, 0
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.videoWidth, v.videoHeight
}

// updateMetadata はアタッチ先が変わっていなければ固有サイズを記録する
func (v *Video) updateMetadata(track VideoTrack, bounds image.Rectangle) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current, ok := v.videoTrackLocked()
	if !ok || current != track {
		return
	}
	v.videoWidth = bounds.Dx()
	v.videoHeight = bounds.Dy()
}

// resetMetadata は固有サイズを未取得に戻す（ロック済み前提）
func (v *Video) resetMetadata() {
	v.videoWidth = 0
	v.videoHeight = 0
}

func (v *Video) videoTrack() (VideoTrack, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.videoTrackLocked()
}

// videoTrackLocked は表示中の映像トラックを返す（ロック済み前提）
func (v *Video) videoTrackLocked() (VideoTrack, bool) {
	stream := v.srcObject
	if stream == nil && v.src != "" {
		stream, _ = v.urls.Resolve(v.src)
	}
	if stream == nil {
		return nil, false
	}
	return firstVideoTrack(stream)
}
