package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StreamConstraints はストリーム要求時の制約
//
// JSON形式はブラウザと同じ {"video":true} や {"video":{"deviceId":"cam2"},"audio":true} になる。
// nil のキーは出力されない。
type StreamConstraints struct {
	Video *Constraint `json:"video,omitempty"`
	Audio *Constraint `json:"audio,omitempty"`
}

// Constraint は真偽値またはトラック制約のどちらか
type Constraint struct {
	Enabled bool              // Track が nil のときの値
	Track   *TrackConstraints // 設定されていればこちらが優先される
}

// TrackConstraints はデバイス・トラック単位の制約
type TrackConstraints struct {
	DeviceID     *StringConstraint `json:"deviceId,omitempty" yaml:"device_id,omitempty"`
	FacingMode   string            `json:"facingMode,omitempty" yaml:"facing_mode,omitempty"`
	Width        int               `json:"width,omitempty" yaml:"width,omitempty"`
	Height       int               `json:"height,omitempty" yaml:"height,omitempty"`
	FrameRate    float64           `json:"frameRate,omitempty" yaml:"frame_rate,omitempty"`
	SampleRate   int               `json:"sampleRate,omitempty" yaml:"sample_rate,omitempty"`
	ChannelCount int               `json:"channelCount,omitempty" yaml:"channel_count,omitempty"`

	// Optional はレガシーAPIの制約形式 {optional:[{sourceId:id}]}
	Optional []OptionalConstraint `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// OptionalConstraint はレガシーAPIのソース指定
type OptionalConstraint struct {
	SourceID string `json:"sourceId" yaml:"source_id"` // 空文字は任意のソース
}

// StringConstraint は deviceId のような文字列制約
//
// JSONでは "id"、["a","b"]、{"exact":"id","ideal":"id"} のいずれかで表される。
type StringConstraint struct {
	Values []string
	Exact  string
	Ideal  string
}

// Bool は真偽値の制約を作成する
func Bool(enabled bool) *Constraint {
	return &Constraint{Enabled: enabled}
}

// WithTrack はトラック制約を作成する
func WithTrack(tc TrackConstraints) *Constraint {
	return &Constraint{Track: &tc}
}

// DeviceID は単一のデバイスIDを指定する文字列制約を作成する
func DeviceID(id string) *StringConstraint {
	return &StringConstraint{Values: []string{id}}
}

// optionalSource はレガシー形式でソースを指定する制約を作成する
func optionalSource(id string) *Constraint {
	return WithTrack(TrackConstraints{
		Optional: []OptionalConstraint{{SourceID: id}},
	})
}

// IsEnabled はこの制約でトラックを要求するかを返す
func (c *Constraint) IsEnabled() bool {
	if c == nil {
		return false
	}
	return c.Track != nil || c.Enabled
}

// SourceID は制約で明示されたデバイスIDを返す。明示がなければ空文字
func (c *Constraint) SourceID() string {
	if c == nil || c.Track == nil {
		return ""
	}
	if id := c.Track.DeviceID.First(); id != "" {
		return id
	}
	for _, opt := range c.Track.Optional {
		if opt.SourceID != "" {
			return opt.SourceID
		}
	}
	return ""
}

// Equal は2つの制約を値として比較する。どちらも nil なら等しい
func (c *Constraint) Equal(other *Constraint) bool {
	if c == nil || other == nil {
		return c == nil && other == nil
	}
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// MarshalJSON は真偽値またはトラック制約のオブジェクトを出力する
func (c Constraint) MarshalJSON() ([]byte, error) {
	if c.Track != nil {
		return json.Marshal(c.Track)
	}
	return json.Marshal(c.Enabled)
}

// UnmarshalJSON は真偽値とオブジェクトの両方を受け付ける
func (c *Constraint) UnmarshalJSON(data []byte) error {
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		*c = Constraint{Enabled: enabled}
		return nil
	}

	var tc TrackConstraints
	if err := json.Unmarshal(data, &tc); err != nil {
		return fmt.Errorf("制約は真偽値またはオブジェクトである必要があります: %w", err)
	}
	*c = Constraint{Track: &tc}
	return nil
}

// UnmarshalYAML は真偽値とマッピングの両方を受け付ける
func (c *Constraint) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var enabled bool
	if err := unmarshal(&enabled); err == nil {
		*c = Constraint{Enabled: enabled}
		return nil
	}

	var tc TrackConstraints
	if err := unmarshal(&tc); err != nil {
		return fmt.Errorf("制約は真偽値またはマッピングである必要があります: %w", err)
	}
	*c = Constraint{Track: &tc}
	return nil
}

// First は明示された最初の値を返す。文字列・配列の先頭・exact・ideal の順に探す
func (s *StringConstraint) First() string {
	if s == nil {
		return ""
	}
	if len(s.Values) > 0 {
		return s.Values[0]
	}
	if s.Exact != "" {
		return s.Exact
	}
	return s.Ideal
}

type stringConstraintObject struct {
	Exact string `json:"exact,omitempty" yaml:"exact,omitempty"`
	Ideal string `json:"ideal,omitempty" yaml:"ideal,omitempty"`
}

// MarshalJSON は値の形に応じて文字列・配列・オブジェクトを出力する
func (s StringConstraint) MarshalJSON() ([]byte, error) {
	if s.Exact != "" || s.Ideal != "" {
		return json.Marshal(stringConstraintObject{Exact: s.Exact, Ideal: s.Ideal})
	}
	if len(s.Values) == 1 {
		return json.Marshal(s.Values[0])
	}
	if s.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Values)
}

// UnmarshalJSON は文字列・配列・オブジェクトを受け付ける
func (s *StringConstraint) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringConstraint{Values: []string{single}}
		return nil
	}

	var values []string
	if err := json.Unmarshal(data, &values); err == nil {
		*s = StringConstraint{Values: values}
		return nil
	}

	var obj stringConstraintObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("文字列制約の形式が不正です: %w", err)
	}
	*s = StringConstraint{Exact: obj.Exact, Ideal: obj.Ideal}
	return nil
}

// UnmarshalYAML は文字列・シーケンス・マッピングを受け付ける
func (s *StringConstraint) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = StringConstraint{Values: []string{single}}
		return nil
	}

	var values []string
	if err := unmarshal(&values); err == nil {
		*s = StringConstraint{Values: values}
		return nil
	}

	var obj stringConstraintObject
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("文字列制約の形式が不正です: %w", err)
	}
	*s = StringConstraint{Exact: obj.Exact, Ideal: obj.Ideal}
	return nil
}

// buildConstraints はプロパティからストリーム制約を組み立てる
//
// 映像は未指定なら任意のカメラ、音声は audio が有効なときだけ含め未指定なら任意のマイク。
func buildConstraints(audio bool, audioConstraints, videoConstraints *Constraint) StreamConstraints {
	constraints := StreamConstraints{Video: videoConstraints}
	if constraints.Video == nil {
		constraints.Video = Bool(true)
	}

	if audio {
		constraints.Audio = audioConstraints
		if constraints.Audio == nil {
			constraints.Audio = Bool(true)
		}
	}

	return constraints
}
