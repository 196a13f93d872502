package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/config"
	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/device"
	"github.com/devicelab-dev/app-explorer/pkg/driver/mock"
	uia2driver "github.com/devicelab-dev/app-explorer/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/app-explorer/pkg/logger"
	"github.com/devicelab-dev/app-explorer/pkg/uiautomator2"
)

// session is an opened device ready for exploration.
type session struct {
	device  core.Device
	info    *core.PlatformInfo
	cleanup func()
}

// openDevice connects the driver selected by cfg.Device.Driver. It fills
// in cfg.App.Package from the mock app when none is configured.
func openDevice(ctx context.Context, cfg *config.Config, w io.Writer) (*session, error) {
	switch cfg.Device.Driver {
	case config.DriverMock:
		return openMock(cfg, w)
	default:
		return openAndroid(ctx, cfg, w)
	}
}

func openMock(cfg *config.Config, w io.Writer) (*session, error) {
	app := mock.DemoApp()
	if cfg.Device.MockApp != "" {
		var err error
		if app, err = mock.LoadApp(cfg.Device.MockApp); err != nil {
			return nil, err
		}
	}
	if cfg.App.Package == "" {
		cfg.App.Package = app.Package
	}
	if cfg.App.Package != app.Package {
		return nil, core.ErrAppNotInstalled.WithMessage(
			fmt.Sprintf("mock app is %s, not %s", app.Package, cfg.App.Package))
	}

	d := mock.New(app, mock.Config{})
	printSetupSuccess(w, fmt.Sprintf("Mock device running %s", app.Package))
	return &session{device: d, info: d.GetPlatformInfo(), cleanup: func() {}}, nil
}

// openAndroid connects to a device over adb, starts the UIAutomator2
// server and opens a session.
func openAndroid(ctx context.Context, cfg *config.Config, w io.Writer) (*session, error) {
	if cfg.App.Package == "" {
		return nil, core.ErrInvalidConfig.WithMessage("app.package is required (use --app)")
	}

	if cfg.Device.Serial != "" {
		printSetupStep(w, fmt.Sprintf("Connecting to device %s...", cfg.Device.Serial))
	} else {
		printSetupStep(w, "Connecting to device...")
	}
	dev, err := device.New(ctx, cfg.Device.Serial, device.WithLogger(logger.L()))
	if err != nil {
		return nil, fmt.Errorf("connect to device: %w", err)
	}

	info, err := dev.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device info: %w", err)
	}
	logger.L().Info("Device connected",
		zap.String("serial", info.Serial),
		zap.String("model", info.Brand+" "+info.Model),
		zap.String("sdk", info.SDK),
		zap.Bool("emulator", info.IsEmulator),
	)
	printSetupSuccess(w, fmt.Sprintf("Connected to %s %s (SDK %s)", info.Brand, info.Model, info.SDK))

	// Fail before touching the device when another instance holds it.
	if socketPath := dev.DefaultSocketPath(); isSocketInUse(socketPath) {
		return nil, fmt.Errorf("device %s is already in use\n"+
			"Another app-explorer instance may be using this device.\n"+
			"Socket: %s", dev.Serial(), socketPath)
	}

	if !dev.IsInstalled(ctx, cfg.App.Package) {
		return nil, core.ErrAppNotInstalled.WithDetails(map[string]interface{}{"package": cfg.App.Package})
	}

	if !dev.IsInstalled(ctx, device.UIAutomator2Server) {
		printSetupStep(w, "Installing UIAutomator2 APKs...")
		if err := dev.InstallUIAutomator2(ctx, config.GetDriversDir("android")); err != nil {
			return nil, fmt.Errorf("install UIAutomator2: %w", err)
		}
		printSetupSuccess(w, "UIAutomator2 installed")
	}

	printSetupStep(w, "Starting UIAutomator2 server...")
	uia2Cfg := device.DefaultUIAutomator2Config()
	uia2Cfg.DevicePort = cfg.Device.Port
	if err := dev.StartUIAutomator2(ctx, uia2Cfg); err != nil {
		return nil, fmt.Errorf("start UIAutomator2: %w", err)
	}
	stopServer := func() { dev.StopUIAutomator2(context.Background()) }
	printSetupSuccess(w, "UIAutomator2 server started")

	httpClient, baseURL, err := dev.HTTPClient()
	if err != nil {
		stopServer()
		return nil, err
	}
	client := uiautomator2.NewClient(httpClient, baseURL, uiautomator2.WithLogger(logger.L()))

	printSetupStep(w, "Creating session...")
	caps := uiautomator2.Capabilities{PlatformName: "Android", DeviceName: info.Model}
	if err := client.CreateSession(ctx, caps); err != nil {
		stopServer()
		return nil, fmt.Errorf("create session: %w", err)
	}
	printSetupSuccess(w, "Session created")

	// Shorter idle waits keep captures fast on animated screens.
	if err := client.UpdateSettings(ctx, map[string]interface{}{"waitForIdleTimeout": 1000}); err != nil {
		printWarning(w, fmt.Sprintf("failed to update server settings: %v", err))
	}

	drv := uia2driver.New(client, dev, uia2driver.WithLogger(logger.L()))
	return &session{
		device: drv,
		info:   drv.PlatformInfo(ctx, cfg.App.Package),
		cleanup: func() {
			_ = client.Close()
			stopServer()
		},
	}, nil
}

// isSocketInUse checks if a Unix socket is in use by attempting to connect to it.
func isSocketInUse(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		// Stale socket file.
		os.Remove(socketPath)
		return false
	}
	conn.Close()
	return true
}
