package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// V4L2Capturer はffmpeg経由でV4L2デバイスからMJPEGフレームを取得する
type V4L2Capturer struct {
	ffmpegPath string
	devicePath string
	width      int
	height     int
	fps        int
	logger     *zap.Logger
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
func NewV4L2Capturer(ffmpegPath, devicePath string, width, height, fps int, logger *zap.Logger) *V4L2Capturer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V4L2Capturer{
		ffmpegPath: ffmpegPath,
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
		logger:     logger.With(zap.String("device", devicePath)),
	}
}

// inputArgs はV4L2入力の共通引数
func (c *V4L2Capturer) inputArgs() []string {
	args := []string{"-f", "v4l2"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	if c.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.fps))
	}
	return append(args, "-i", c.devicePath)
}

// CaptureFrame は1フレームをキャプチャしてデコード済み画像として返す
//
// デバイスが開けるか（権限・占有）の確認にも使う。
func (c *V4L2Capturer) CaptureFrame(ctx context.Context) (image.Image, error) {
	args := append(c.inputArgs(), "-vframes", "1", "-f", "image2", "-c:v", "mjpeg", "-q:v", "2", "-")
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("フレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// StartStream は連続キャプチャを開始し、JPEGフレームを frameChan に送る
//
// ctx がキャンセルされるかffmpegが終了すると戻る。送信先が詰まっている場合は古いフレームを読み捨てない。
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte) error {
	args := append(c.inputArgs(), "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-")
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	readErr := splitJPEGFrames(ctx, stdout, frameChan)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpegが異常終了: %w (stderr: %s)", waitErr, stderr.String())
	}
	return nil
}

// splitJPEGFrames はSOI/EOIマーカーでストリームをJPEGフレームに分割する
func splitJPEGFrames(ctx context.Context, r io.Reader, frameChan chan<- []byte) error {
	reader := bufio.NewReaderSize(r, 1024*1024)
	buf := make([]byte, 64*1024)
	var pending []byte

	for {
		n, err := reader.Read(buf)
		pending = append(pending, buf[:n]...)

		for {
			start := bytes.Index(pending, jpegStart)
			if start == -1 {
				pending = pending[:0]
				break
			}
			end := bytes.Index(pending[start+len(jpegStart):], jpegEnd)
			if end == -1 {
				// 完全なフレームがまだない
				pending = pending[start:]
				break
			}
			end += start + len(jpegStart) + len(jpegEnd)

			frame := make([]byte, end-start)
			copy(frame, pending[start:end])
			pending = pending[end:]

			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}
