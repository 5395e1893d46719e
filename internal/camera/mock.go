package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTrack はテスト用のトラック実装
type MockTrack struct {
	id      string
	kind    TrackKind
	frame   image.Image
	stopped bool
	mu      sync.RWMutex
}

// NewMockVideoTrack は指定フレームを返し続ける映像トラックを作成する
func NewMockVideoTrack(frame image.Image) *MockTrack {
	return &MockTrack{id: uuid.New().String(), kind: KindVideo, frame: frame}
}

// NewMockAudioTrack は音声トラックを作成する
func NewMockAudioTrack() *MockTrack {
	return &MockTrack{id: uuid.New().String(), kind: KindAudio}
}

// ID はトラックIDを返す
func (t *MockTrack) ID() string { return t.id }

// Kind はトラックの種類を返す
func (t *MockTrack) Kind() TrackKind { return t.kind }

// Stop はトラックを停止する
func (t *MockTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Stopped は停止済みかを返す
func (t *MockTrack) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

// ReadFrame は設定されたフレームを返す
func (t *MockTrack) ReadFrame(_ context.Context) (image.Image, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.stopped {
		return nil, fmt.Errorf("トラック %s は停止しています", t.id)
	}
	if t.kind != KindVideo || t.frame == nil {
		return nil, fmt.Errorf("トラック %s はフレームを持ちません", t.id)
	}
	return t.frame, nil
}

// IssuedStream はモックが発行したストリームとそのトラック
type IssuedStream struct {
	Stream *MediaStream
	Tracks []*MockTrack
}

// AllStopped は全トラックが停止済みかを返す
func (s IssuedStream) AllStopped() bool {
	for _, t := range s.Tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

// MockRequest は手動モードで保留中のストリーム要求
type MockRequest struct {
	Constraints StreamConstraints
	result      chan Result
}

// Succeed はモックのストリームで要求を解決する
func (r *MockRequest) Succeed(stream Stream) {
	r.result <- Result{Stream: stream}
}

// Fail は要求をエラーで解決する
func (r *MockRequest) Fail(err error) {
	r.result <- Result{Err: err}
}

// MockMediaDevices はテスト用のMediaDevices実装
//
// 自動モードでは要求を即座に解決し、手動モードでは MockRequest を解決するまでブロックする。
type MockMediaDevices struct {
	frame   image.Image
	manual  bool
	failErr error

	constraints []StreamConstraints
	pending     []*MockRequest
	issued      []IssuedStream
	mu          sync.Mutex
}

// NewMockMediaDevices は要求を即座に解決するモックを作成する
func NewMockMediaDevices(frame image.Image) *MockMediaDevices {
	return &MockMediaDevices{frame: frame}
}

// NewManualMockMediaDevices は要求を保留するモックを作成する
func NewManualMockMediaDevices(frame image.Image) *MockMediaDevices {
	return &MockMediaDevices{frame: frame, manual: true}
}

// SetFailure は以降の自動解決を指定エラーで失敗させる。nil で解除
func (m *MockMediaDevices) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// GetUserMedia はモックのストリームを返す
func (m *MockMediaDevices) GetUserMedia(ctx context.Context, constraints StreamConstraints) (Stream, error) {
	m.mu.Lock()
	m.constraints = append(m.constraints, constraints)
	if !m.manual {
		failErr := m.failErr
		m.mu.Unlock()
		if failErr != nil {
			return nil, failErr
		}
		return m.NewStream(constraints), nil
	}

	req := &MockRequest{Constraints: constraints, result: make(chan Result, 1)}
	m.pending = append(m.pending, req)
	m.mu.Unlock()

	select {
	case r := <-req.result:
		return r.Stream, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnumerateDevices はモックのデバイス一覧を返す
func (m *MockMediaDevices) EnumerateDevices(_ context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{
		{DeviceID: "mock-video-0", Kind: KindVideo, Label: "テストカメラ 1", Driver: "mock"},
		{DeviceID: "mock-audio-0", Kind: KindAudio, Label: "テストマイク 1", Driver: "mock"},
	}, nil
}

// NewStream は制約に応じたトラックを持つストリームを作成し、発行済みとして記録する
func (m *MockMediaDevices) NewStream(constraints StreamConstraints) *MediaStream {
	var tracks []*MockTrack
	if constraints.Video.IsEnabled() {
		tracks = append(tracks, NewMockVideoTrack(m.frame))
	}
	if constraints.Audio.IsEnabled() {
		tracks = append(tracks, NewMockAudioTrack())
	}

	generic := make([]Track, len(tracks))
	for i, t := range tracks {
		generic[i] = t
	}
	stream := NewMediaStream(generic...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, IssuedStream{Stream: stream, Tracks: tracks})
	return stream
}

// Constraints は受け取った制約を順に返す
func (m *MockMediaDevices) Constraints() []StreamConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StreamConstraints(nil), m.constraints...)
}

// Issued は発行したストリームを順に返す
func (m *MockMediaDevices) Issued() []IssuedStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IssuedStream(nil), m.issued...)
}

// WaitPending は保留中の要求が n 件になるまで待つ
func (m *MockMediaDevices) WaitPending(n int, timeout time.Duration) ([]*MockRequest, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if len(m.pending) >= n {
			pending := append([]*MockRequest(nil), m.pending...)
			m.mu.Unlock()
			return pending, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, errors.New("保留中の要求がタイムアウトまでに揃いませんでした")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// MockLegacyDevices はテスト用のLegacyDevices実装
type MockLegacyDevices struct {
	*MockMediaDevices
	sources []DeviceInfo
}

// NewMockLegacyDevices は指定ソースを列挙するモックを作成する
func NewMockLegacyDevices(frame image.Image, sources []DeviceInfo) *MockLegacyDevices {
	return &MockLegacyDevices{
		MockMediaDevices: NewMockMediaDevices(frame),
		sources:          sources,
	}
}

// GetSources はモックのソース一覧を返す
func (m *MockLegacyDevices) GetSources(_ context.Context) ([]DeviceInfo, error) {
	return append([]DeviceInfo(nil), m.sources...), nil
}

// MockDiscovery はテスト用のDiscovery実装
type MockDiscovery struct {
	devices     []string
	deviceInfos map[string]*DeviceInfo
	mu          sync.RWMutex
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが登録済みかを返す
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.deviceInfos[device]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	}
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deviceInfos[device]; ok {
		return
	}
	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		DeviceID: device,
		Kind:     KindVideo,
		Label:    fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:   "mock",
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
