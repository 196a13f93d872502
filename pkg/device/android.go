// Package device provides Android device management via ADB.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// CommandFunc runs an external command and returns its stdout and stderr.
type CommandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //#nosec G204 -- adb with explicit arguments
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial     string
	adbPath    string
	run        CommandFunc
	logger     *zap.Logger
	socketPath string // Unix socket path for UIAutomator2 (Linux/Mac)
	localPort  int    // TCP port for UIAutomator2 (Windows)
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// NoDevicesError is returned when no device is attached.
type NoDevicesError struct {
	Suggestions []string
}

func (e *NoDevicesError) Error() string {
	msg := "no connected Android devices found"
	if len(e.Suggestions) > 0 {
		msg += "\n  - " + strings.Join(e.Suggestions, "\n  - ")
	}
	return msg
}

// Option configures an AndroidDevice.
type Option func(*AndroidDevice)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *AndroidDevice) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCommand replaces the command runner; the adb path is then used as
// given without a lookup.
func WithCommand(adbPath string, run CommandFunc) Option {
	return func(d *AndroidDevice) {
		d.adbPath = adbPath
		d.run = run
	}
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string, opts ...Option) (*AndroidDevice, error) {
	d := &AndroidDevice{
		serial: serial,
		run:    execCommand,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("adb")

	if d.adbPath == "" {
		p, err := findADB()
		if err != nil {
			return nil, err
		}
		d.adbPath = p
	}

	if d.serial == "" {
		serials, err := d.ListDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
		if len(serials) == 0 {
			return nil, &NoDevicesError{Suggestions: []string{
				"connect a device with USB debugging enabled, or start an emulator",
				"check the device is listed by `adb devices`",
			}}
		}
		if len(serials) > 1 {
			d.logger.Warn("Several devices attached, using the first", zap.Strings("serials", serials))
		}
		d.serial = serials[0]
	}

	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, fmt.Errorf("device not found: %w", err)
	}
	return d, nil
}

// ListDevices returns the serials of devices in the "device" state.
func (d *AndroidDevice) ListDevices(ctx context.Context) ([]string, error) {
	out, _, err := d.run(ctx, d.adbPath, "devices")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	var serials []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			serials = append(serials, parts[0])
		}
	}
	return serials, nil
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	return d.adb(ctx, "shell", cmd)
}

// Install installs an APK on the device.
func (d *AndroidDevice) Install(ctx context.Context, apkPath string) error {
	_, err := d.adb(ctx, "install", "-r", "-g", apkPath)
	return err
}

// Uninstall removes a package from the device.
func (d *AndroidDevice) Uninstall(ctx context.Context, pkg string) error {
	_, err := d.adb(ctx, "uninstall", pkg)
	return err
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

// Forward creates a port forward from local to device.
func (d *AndroidDevice) Forward(ctx context.Context, localPort, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a port forward.
func (d *AndroidDevice) RemoveForward(ctx context.Context, localPort int) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// ForwardSocket forwards a Unix socket to a device TCP port.
func (d *AndroidDevice) ForwardSocket(ctx context.Context, socketPath string, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("localfilesystem:%s", socketPath), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveSocketForward removes a Unix socket forward.
func (d *AndroidDevice) RemoveSocketForward(ctx context.Context, socketPath string) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("localfilesystem:%s", socketPath))
	return err
}

// DefaultSocketPath returns the default Unix socket path for this device.
func (d *AndroidDevice) DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("uia2-%s.sock", d.serial))
}

// SocketPath returns the current UIAutomator2 socket path (empty if not started or on Windows).
func (d *AndroidDevice) SocketPath() string {
	return d.socketPath
}

// LocalPort returns the current UIAutomator2 TCP port (0 if not started or on Linux/Mac).
func (d *AndroidDevice) LocalPort() int {
	return d.localPort
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := d.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if brand, err := d.Shell(ctx, "getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}
	qemu, _ := d.Shell(ctx, "getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(qemu) == "1"

	return info, nil
}

// resumedActivity matches the resumed activity line of `dumpsys activity
// activities` across Android versions, e.g.
//
//	mResumedActivity: ActivityRecord{4f1 u0 com.example/.MainActivity t12}
//	topResumedActivity=ActivityRecord{4f1 u0 com.example/.MainActivity t12}
var resumedActivity = regexp.MustCompile(`(?:mResumedActivity|topResumedActivity|ResumedActivity)[:=]\s*ActivityRecord\{\S+ \S+ ([^\s/}]+)/([^\s}]+)`)

// ForegroundActivity returns the package and activity of the resumed
// activity.
func (d *AndroidDevice) ForegroundActivity(ctx context.Context) (pkg, activity string, err error) {
	out, err := d.Shell(ctx, "dumpsys activity activities")
	if err != nil {
		return "", "", err
	}
	m := resumedActivity.FindStringSubmatch(out)
	if m == nil {
		return "", "", errors.New("no resumed activity")
	}
	return m[1], m[2], nil
}

// IsRunning reports whether pkg has a live process.
func (d *AndroidDevice) IsRunning(ctx context.Context, pkg string) (bool, error) {
	out, _, err := d.run(ctx, d.adbPath, d.args("shell", "pidof "+pkg)...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil // pidof exits 1 when nothing matches
		}
		return false, fmt.Errorf("adb shell pidof %s: %w", pkg, err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// LaunchApp starts pkg through its launcher activity.
func (d *AndroidDevice) LaunchApp(ctx context.Context, pkg string) error {
	out, err := d.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	if err != nil {
		return err
	}
	if strings.Contains(out, "No activities found") {
		return fmt.Errorf("%s has no launcher activity", pkg)
	}
	return nil
}

// ForceStop kills pkg.
func (d *AndroidDevice) ForceStop(ctx context.Context, pkg string) error {
	_, err := d.Shell(ctx, "am force-stop "+pkg)
	return err
}

// KeyEvent injects an Android key code.
func (d *AndroidDevice) KeyEvent(ctx context.Context, code int) error {
	_, err := d.Shell(ctx, fmt.Sprintf("input keyevent %d", code))
	return err
}

func (d *AndroidDevice) args(args ...string) []string {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	return append(cmdArgs, args...)
}

// adb executes an ADB command.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := d.run(ctx, d.adbPath, d.args(args...)...)
	if err != nil {
		errMsg := string(stderr)
		if errMsg == "" {
			errMsg = string(stdout)
		}
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errMsg))
	}
	d.logger.Debug("adb", zap.Strings("args", args))
	return string(stdout), nil
}

// waitForDevice waits for the device to be available.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := backoff.Retry(func() error {
		if d.isConnected(ctx) {
			return nil
		}
		return fmt.Errorf("device %s not in device state", d.serial)
	}, backoff.WithContext(backoff.NewConstantBackOff(500*time.Millisecond), ctx))
	if err != nil {
		return fmt.Errorf("timeout waiting for device %s: %w", d.serial, err)
	}
	return nil
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the ADB binary on PATH or under the Android SDK.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if root := os.Getenv(env); root != "" {
			p := filepath.Join(root, "platform-tools", "adb")
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("adb not found in PATH or $ANDROID_HOME/platform-tools; ensure the Android SDK is installed")
}
