package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultDevicePattern はV4L2デバイスを探すパターン
const DefaultDevicePattern = "/dev/video*"

var (
	v4l2DevicePattern = regexp.MustCompile(`^video\d+$`)
	deviceNumber      = regexp.MustCompile(`video(\d+)`)
)

// Discovery はV4L2キャプチャデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// CommandRunner は外部コマンドを実行して標準出力を返す
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// LinuxDiscovery はLinux環境でのV4L2デバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
	run     CommandRunner
	logger  *zap.Logger
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery(pattern string, logger *zap.Logger) *LinuxDiscovery {
	if pattern == "" {
		pattern = DefaultDevicePattern
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinuxDiscovery{
		pattern: pattern,
		run:     execRunner,
		logger:  logger,
	}
}

// WithRunner はコマンド実行関数を差し替える
func (d *LinuxDiscovery) WithRunner(run CommandRunner) *LinuxDiscovery {
	d.run = run
	return d
}

// ScanDevices はカラー映像を出せるメインのキャプチャデバイスをデバイス番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool) // カード名 -> 採用済み
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) || !d.hasColorFormat(ctx, match) {
			continue
		}

		// 同じ物理カメラの複数チャンネルは最も小さい番号だけを採用する
		if name := d.cardName(ctx, match); name != "" {
			if seen[name] {
				d.logger.Debug("同一カメラの別チャンネルを除外", zap.String("device", match), zap.String("card", name))
				continue
			}
			seen[name] = true
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが開けるV4L2デバイスかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !v4l2DevicePattern.MatchString(filepath.Base(device)) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はv4l2-ctlの出力からデバイス情報を組み立てる
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	}

	info := &DeviceInfo{
		DeviceID: device,
		Kind:     KindVideo,
		Label:    fmt.Sprintf("カメラ %d", extractDeviceNumber(device)),
		Driver:   "v4l2",
	}

	fields := d.deviceFields(ctx, device)
	if name := fields["Card type"]; name != "" {
		info.Label = name
	}
	if driver := fields["Driver name"]; driver != "" {
		info.Driver = driver
	}

	return info, nil
}

// deviceFields は v4l2-ctl --info の "キー : 値" 行を読み取る
func (d *LinuxDiscovery) deviceFields(ctx context.Context, device string) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields := make(map[string]string)
	output, err := d.run(ctx, "v4l2-ctl", "--device", device, "--info")
	if err != nil {
		d.logger.Debug("v4l2-ctl --info に失敗", zap.String("device", device), zap.Error(err))
		return fields
	}

	for _, line := range strings.Split(string(output), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := fields[key]; !exists {
			fields[key] = strings.TrimSpace(value)
		}
	}
	return fields
}

func (d *LinuxDiscovery) cardName(ctx context.Context, device string) string {
	return d.deviceFields(ctx, device)["Card type"]
}

// hasColorFormat はYUYVかMJPGを出せるデバイスかを判定する。グレースケール専用のIRカメラ等を除外する
func (d *LinuxDiscovery) hasColorFormat(ctx context.Context, device string) bool {
	output, err := d.run(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	if err != nil {
		return false
	}

	formats := string(output)
	return strings.Contains(formats, "YUYV") || strings.Contains(formats, "MJPG")
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumber.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
