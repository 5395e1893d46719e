package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// PionMediaDevices はpion/mediadevicesに登録されたドライバでストリームを取得する
//
// ドライバは呼び出し側でブランクインポートして登録しておく必要がある。
type PionMediaDevices struct {
	logger *zap.Logger
}

// NewPionMediaDevices は新しいPionMediaDevicesを作成する
func NewPionMediaDevices(logger *zap.Logger) *PionMediaDevices {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PionMediaDevices{logger: logger}
}

// GetUserMedia は制約をpionの MediaStreamConstraints に変換してストリームを取得する
//
// ctx が先に終わった場合、遅れて取得できたストリームは停止する。
func (p *PionMediaDevices) GetUserMedia(ctx context.Context, constraints StreamConstraints) (Stream, error) {
	msc := mediadevices.MediaStreamConstraints{}
	if constraints.Video.IsEnabled() {
		msc.Video = videoOption(constraints.Video.Track)
	}
	if constraints.Audio.IsEnabled() {
		msc.Audio = audioOption(constraints.Audio.Track)
	}
	if msc.Video == nil && msc.Audio == nil {
		return nil, errors.New("映像と音声のどちらも要求されていません")
	}

	type outcome struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(msc)
		done <- outcome{stream: s, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			// ドライバのエラーは包まずにそのまま返す
			p.logger.Debug("メディアの取得に失敗", zap.Error(o.err))
			return nil, o.err
		}
		return newPionStream(o.stream), nil
	case <-ctx.Done():
		go func() {
			if o := <-done; o.err == nil {
				_ = StopStream(newPionStream(o.stream))
				p.logger.Debug("キャンセル後に取得したストリームを停止")
			}
		}()
		return nil, ctx.Err()
	}
}

// EnumerateDevices は登録済みドライバの入力デバイスを返す
func (p *PionMediaDevices) EnumerateDevices(_ context.Context) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		var kind TrackKind
		switch d.Kind {
		case mediadevices.VideoInput:
			kind = KindVideo
		case mediadevices.AudioInput:
			kind = KindAudio
		default:
			continue
		}
		devices = append(devices, DeviceInfo{
			DeviceID: d.DeviceID,
			Kind:     kind,
			Label:    d.Label,
			Driver:   "mediadevices",
		})
	}
	return devices, nil
}

func videoOption(tc *TrackConstraints) mediadevices.MediaOption {
	return func(c *mediadevices.MediaTrackConstraints) {
		if tc == nil {
			return
		}
		applyDeviceID(c, tc)
		if tc.Width > 0 {
			c.Width = prop.Int(tc.Width)
		}
		if tc.Height > 0 {
			c.Height = prop.Int(tc.Height)
		}
		if tc.FrameRate > 0 {
			c.FrameRate = prop.Float(tc.FrameRate)
		}
	}
}

func audioOption(tc *TrackConstraints) mediadevices.MediaOption {
	return func(c *mediadevices.MediaTrackConstraints) {
		if tc == nil {
			return
		}
		applyDeviceID(c, tc)
		if tc.SampleRate > 0 {
			c.SampleRate = prop.Int(tc.SampleRate)
		}
		if tc.ChannelCount > 0 {
			c.ChannelCount = prop.Int(tc.ChannelCount)
		}
	}
}

func applyDeviceID(c *mediadevices.MediaTrackConstraints, tc *TrackConstraints) {
	if tc.DeviceID != nil && tc.DeviceID.Exact != "" {
		c.DeviceID = prop.StringExact(tc.DeviceID.Exact)
		return
	}
	if id := (&Constraint{Enabled: true, Track: tc}).SourceID(); id != "" {
		c.DeviceID = prop.String(id)
	}
}

// pionStream はpionの MediaStream を TrackStream として扱うラッパー
type pionStream struct {
	id     string
	stream mediadevices.MediaStream
	tracks map[string]Track
	mu     sync.Mutex
}

func newPionStream(s mediadevices.MediaStream) *pionStream {
	ps := &pionStream{stream: s, tracks: make(map[string]Track)}
	for _, t := range s.GetVideoTracks() {
		ps.tracks[t.ID()] = newPionTrack(t, KindVideo)
		if ps.id == "" {
			ps.id = t.StreamID()
		}
	}
	for _, t := range s.GetAudioTracks() {
		ps.tracks[t.ID()] = newPionTrack(t, KindAudio)
		if ps.id == "" {
			ps.id = t.StreamID()
		}
	}
	if ps.id == "" {
		ps.id = uuid.New().String()
	}
	return ps
}

func (s *pionStream) ID() string { return s.id }

func (s *pionStream) GetVideoTracks() []Track { return s.byKind(KindVideo) }

func (s *pionStream) GetAudioTracks() []Track { return s.byKind(KindAudio) }

func (s *pionStream) byKind(kind TrackKind) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	var source []mediadevices.Track
	if kind == KindVideo {
		source = s.stream.GetVideoTracks()
	} else {
		source = s.stream.GetAudioTracks()
	}

	tracks := make([]Track, 0, len(source))
	for _, t := range source {
		if wrapped, ok := s.tracks[t.ID()]; ok {
			tracks = append(tracks, wrapped)
		}
	}
	return tracks
}

func (s *pionStream) RemoveTrack(track Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pt, ok := track.(interface{ raw() mediadevices.Track })
	if !ok {
		return
	}
	s.stream.RemoveTrack(pt.raw())
	delete(s.tracks, track.ID())
}

func newPionTrack(t mediadevices.Track, kind TrackKind) Track {
	if vt, ok := t.(*mediadevices.VideoTrack); ok && kind == KindVideo {
		return &pionVideoTrack{pionTrack: pionTrack{track: t, kind: kind}, video: vt}
	}
	return &pionTrack{track: t, kind: kind}
}

type pionTrack struct {
	track mediadevices.Track
	kind  TrackKind
}

func (t *pionTrack) ID() string               { return t.track.ID() }
func (t *pionTrack) Kind() TrackKind          { return t.kind }
func (t *pionTrack) Stop() error              { return t.track.Close() }
func (t *pionTrack) raw() mediadevices.Track { return t.track }

// pionVideoTrack はpionの映像トラックからフレームを読み出す
type pionVideoTrack struct {
	pionTrack
	video *mediadevices.VideoTrack

	once   sync.Once
	reader interface {
		Read() (image.Image, func(), error)
	}
	mu sync.Mutex
}

// ReadFrame は次のフレームをRGBAに複製して返す
func (t *pionVideoTrack) ReadFrame(ctx context.Context) (image.Image, error) {
	t.once.Do(func() {
		t.reader = t.video.NewReader(false)
	})

	type outcome struct {
		img image.Image
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		frame, release, err := t.reader.Read()
		if err != nil {
			done <- outcome{err: fmt.Errorf("フレームの読み取りに失敗: %w", err)}
			return
		}
		defer release()

		b := frame.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Copy(rgba, image.Point{}, frame, b, draw.Src, nil)
		done <- outcome{img: rgba}
	}()

	select {
	case o := <-done:
		return o.img, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
