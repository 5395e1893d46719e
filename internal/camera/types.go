package camera

import (
	"context"
	"errors"
	"image"
)

// Status はWebcamの動作状態を表す
type Status string

const (
	StatusInactive   Status = "inactive"   // ストリームなし
	StatusRequesting Status = "requesting" // ストリーム要求中
	StatusActive     Status = "active"     // ストリーム表示中
	StatusError      Status = "error"      // 要求が失敗した
)

// TrackKind はトラックの種類を表す
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

var (
	// ErrNotSupported はキャプチャAPIが存在しない環境で通知される
	ErrNotSupported = errors.New("getUserMedia not supported")

	// ErrNoStream は要求が成功したのにストリームが返らなかった場合に通知される
	ErrNoStream = errors.New("ストリームが返されませんでした")

	// ErrSrcObjectUnsupported は表示面がストリームの直接アタッチを受け付けない場合に返される
	ErrSrcObjectUnsupported = errors.New("srcObject はサポートされていません")

	// ErrDeviceNotFound は指定されたデバイスが見つからない場合に返される
	ErrDeviceNotFound = errors.New("デバイスが見つかりません")
)

// Stream はキャプチャストリームのハンドル
//
// トラックを区別できるストリームは TrackStream を実装する。
// 単一トラックのハンドルは Track そのものを Stream として扱う。
type Stream interface {
	ID() string
}

// TrackStream は音声・映像トラックを区別できるストリーム
type TrackStream interface {
	Stream
	GetVideoTracks() []Track
	GetAudioTracks() []Track
	RemoveTrack(t Track)
}

// Track は独立して停止できる単一の音声・映像チャンネル
type Track interface {
	ID() string
	Kind() TrackKind
	Stop() error
}

// VideoTrack は現在のフレームを読み出せる映像トラック
type VideoTrack interface {
	Track
	ReadFrame(ctx context.Context) (image.Image, error)
}

// MediaDevices は現行のキャプチャAPI
type MediaDevices interface {
	// GetUserMedia は制約に合うストリームを要求する。権限確認やデバイス交渉の間ブロックする
	GetUserMedia(ctx context.Context, constraints StreamConstraints) (Stream, error)
}

// LegacyDevices は現行APIを持たない環境向けのフォールバックAPI
type LegacyDevices interface {
	MediaDevices

	// GetSources は利用可能なキャプチャソースを列挙する
	GetSources(ctx context.Context) ([]DeviceInfo, error)
}

// DeviceEnumerator はデバイス一覧を返せるドライバーが実装する
type DeviceEnumerator interface {
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}

// DeviceInfo はキャプチャデバイスの情報
type DeviceInfo struct {
	DeviceID string    `json:"deviceId"`
	Kind     TrackKind `json:"kind"`
	Label    string    `json:"label"`
	Driver   string    `json:"driver,omitempty"`
}

// Result はストリーム要求の結果。Stream と Err のどちらか一方だけが設定される
type Result struct {
	Stream Stream
	Err    error
}

// OK は要求が成功したかを返す
func (r Result) OK() bool {
	return r.Err == nil && r.Stream != nil
}
