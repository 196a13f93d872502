package device

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// UIAutomator2 package names
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"
	AppiumSettings     = "io.appium.settings"
)

// Port range for TCP forwarding (Windows)
const (
	portRangeStart = 6001
	portRangeEnd   = 7001
)

// UIAutomator2Config holds configuration for the UIAutomator2 server.
type UIAutomator2Config struct {
	SocketPath string        // Unix socket path (Linux/Mac only)
	LocalPort  int           // TCP port (Windows only, default: auto-find free port)
	DevicePort int           // Port on device (default: 6790)
	Timeout    time.Duration // Startup timeout (default: 30s)
}

// DefaultUIAutomator2Config returns default configuration.
func DefaultUIAutomator2Config() UIAutomator2Config {
	return UIAutomator2Config{
		DevicePort: 6790,
		Timeout:    30 * time.Second,
	}
}

// StartUIAutomator2 starts the UIAutomator2 server on the device and
// waits for its status endpoint.
func (d *AndroidDevice) StartUIAutomator2(ctx context.Context, cfg UIAutomator2Config) error {
	if !d.IsInstalled(ctx, UIAutomator2Server) {
		return fmt.Errorf("UIAutomator2 server not installed: %s", UIAutomator2Server)
	}
	if !d.IsInstalled(ctx, UIAutomator2Test) {
		return fmt.Errorf("UIAutomator2 test APK not installed: %s", UIAutomator2Test)
	}

	d.StopUIAutomator2(ctx)

	if runtime.GOOS == "windows" {
		if err := d.setupTCPForward(ctx, cfg); err != nil {
			return err
		}
	} else {
		if err := d.setupSocketForward(ctx, cfg); err != nil {
			return err
		}
	}

	// nohup keeps the instrumentation alive after the shell returns.
	instrumentCmd := fmt.Sprintf(
		"nohup am instrument -w -e disableAnalytics true "+
			"%s/androidx.test.runner.AndroidJUnitRunner "+
			"> /dev/null 2>&1 &",
		UIAutomator2Test,
	)
	if _, err := d.Shell(ctx, instrumentCmd); err != nil {
		return fmt.Errorf("failed to start instrumentation: %w", err)
	}

	if err := d.waitForUIAutomator2Ready(ctx, cfg.Timeout); err != nil {
		d.StopUIAutomator2(ctx)
		return err
	}
	d.logger.Info("UIAutomator2 server ready",
		zap.String("socket", d.socketPath),
		zap.Int("port", d.localPort),
	)
	return nil
}

func (d *AndroidDevice) setupSocketForward(ctx context.Context, cfg UIAutomator2Config) error {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = d.DefaultSocketPath()
	}
	_ = os.Remove(socketPath) // stale socket from an earlier run

	if err := d.ForwardSocket(ctx, socketPath, cfg.DevicePort); err != nil {
		return fmt.Errorf("socket forward failed: %w", err)
	}
	d.socketPath = socketPath
	return nil
}

func (d *AndroidDevice) setupTCPForward(ctx context.Context, cfg UIAutomator2Config) error {
	localPort := cfg.LocalPort
	if localPort == 0 {
		port, err := findFreePort(portRangeStart, portRangeEnd)
		if err != nil {
			return err
		}
		localPort = port
	}

	if err := d.Forward(ctx, localPort, cfg.DevicePort); err != nil {
		return fmt.Errorf("port forward failed: %w", err)
	}
	d.localPort = localPort
	return nil
}

// findFreePort finds a free TCP port in the given range.
func findFreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in range %d-%d", start, end)
}

// StopUIAutomator2 stops the UIAutomator2 server and removes its
// forwards. Cleanup is best effort.
func (d *AndroidDevice) StopUIAutomator2(ctx context.Context) {
	_, _ = d.Shell(ctx, "am force-stop "+UIAutomator2Server)
	_, _ = d.Shell(ctx, "am force-stop "+UIAutomator2Test)

	if d.socketPath != "" {
		_ = d.RemoveSocketForward(ctx, d.socketPath)
		_ = os.Remove(d.socketPath)
		d.socketPath = ""
	}
	if d.localPort != 0 {
		_ = d.RemoveForward(ctx, d.localPort)
		d.localPort = 0
	}
}

// HTTPClient returns a client and base URL reaching the forwarded server.
func (d *AndroidDevice) HTTPClient() (*http.Client, string, error) {
	switch {
	case d.socketPath != "":
		socketPath := d.socketPath
		return &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		}, "http://localhost", nil
	case d.localPort != 0:
		return &http.Client{}, fmt.Sprintf("http://127.0.0.1:%d", d.localPort), nil
	default:
		return nil, "", fmt.Errorf("UIAutomator2 server not started")
	}
}

// IsUIAutomator2Running checks if the UIAutomator2 server is responding.
func (d *AndroidDevice) IsUIAutomator2Running(ctx context.Context) bool {
	client, base, err := d.HTTPClient()
	if err != nil {
		return false
	}
	return checkHealthWithClient(ctx, client, base+"/wd/hub/status")
}

func (d *AndroidDevice) waitForUIAutomator2Ready(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := backoff.Retry(func() error {
		if d.IsUIAutomator2Running(ctx) {
			return nil
		}
		return fmt.Errorf("status endpoint not ready")
	}, backoff.WithContext(backoff.NewConstantBackOff(500*time.Millisecond), ctx))
	if err != nil {
		return fmt.Errorf("UIAutomator2 server not ready after %v: %w", timeout, err)
	}
	return nil
}

func checkHealthWithClient(ctx context.Context, client *http.Client, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// InstallUIAutomator2 installs UIAutomator2 APKs from the given directory.
func (d *AndroidDevice) InstallUIAutomator2(ctx context.Context, apksDir string) error {
	apks := []struct {
		pkg     string
		pattern string
	}{
		{UIAutomator2Server, "appium-uiautomator2-server-v*.apk"},
		{UIAutomator2Test, "appium-uiautomator2-server-debug-androidTest.apk"},
	}

	for _, apk := range apks {
		if d.IsInstalled(ctx, apk.pkg) {
			continue
		}
		apkPath, err := findAPK(apksDir, apk.pattern)
		if err != nil {
			return fmt.Errorf("failed to find APK for %s: %w", apk.pkg, err)
		}
		d.logger.Info("Installing", zap.String("apk", apkPath))
		if err := d.Install(ctx, apkPath); err != nil {
			return fmt.Errorf("failed to install %s: %w", apk.pkg, err)
		}
	}
	return nil
}

// findAPK finds an APK file matching the pattern in the given directory.
func findAPK(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no APK found matching %s", pattern)
	}
	return matches[0], nil
}

// UninstallUIAutomator2 removes UIAutomator2 packages from the device.
func (d *AndroidDevice) UninstallUIAutomator2(ctx context.Context) error {
	var errs []string
	for _, pkg := range []string{UIAutomator2Server, UIAutomator2Test, AppiumSettings} {
		if d.IsInstalled(ctx, pkg) {
			if err := d.Uninstall(ctx, pkg); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", pkg, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("uninstall errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
