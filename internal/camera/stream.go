package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MediaStream はトラックの集合としてのストリーム実装
type MediaStream struct {
	id     string
	tracks []Track
	mu     sync.RWMutex
}

// NewMediaStream は新しいMediaStreamを作成する
func NewMediaStream(tracks ...Track) *MediaStream {
	return &MediaStream{
		id:     uuid.New().String(),
		tracks: append([]Track(nil), tracks...),
	}
}

// ID はストリームIDを返す
func (s *MediaStream) ID() string {
	return s.id
}

// GetTracks は全トラックを返す
func (s *MediaStream) GetTracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// GetVideoTracks は映像トラックを返す
func (s *MediaStream) GetVideoTracks() []Track {
	return s.tracksOf(KindVideo)
}

// GetAudioTracks は音声トラックを返す
func (s *MediaStream) GetAudioTracks() []Track {
	return s.tracksOf(KindAudio)
}

// AddTrack はトラックを追加する
func (s *MediaStream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// RemoveTrack はトラックを取り外す。停止はしない
func (s *MediaStream) RemoveTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, track := range s.tracks {
		if track == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

func (s *MediaStream) tracksOf(kind TrackKind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tracks []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// StopStream はストリームの全トラックを取り外して停止する
//
// トラックを区別できないハンドルは直接停止する。nil は何もしない。
func StopStream(stream Stream) error {
	if stream == nil {
		return nil
	}

	switch s := stream.(type) {
	case TrackStream:
		var errs []error
		for _, t := range s.GetVideoTracks() {
			s.RemoveTrack(t)
			if err := t.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("映像トラック %s の停止に失敗: %w", t.ID(), err))
			}
		}
		for _, t := range s.GetAudioTracks() {
			s.RemoveTrack(t)
			if err := t.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("音声トラック %s の停止に失敗: %w", t.ID(), err))
			}
		}
		return errors.Join(errs...)
	case interface{ Stop() error }:
		return s.Stop()
	default:
		return fmt.Errorf("停止できないストリームです: %s", stream.ID())
	}
}

// firstVideoTrack はストリームから最初の読み出し可能な映像トラックを探す
func firstVideoTrack(stream Stream) (VideoTrack, bool) {
	switch s := stream.(type) {
	case TrackStream:
		for _, t := range s.GetVideoTracks() {
			if vt, ok := t.(VideoTrack); ok {
				return vt, true
			}
		}
	case VideoTrack:
		return s, true
	}
	return nil, false
}
