package core

import (
	"context"

	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// Device captures screens and executes actions on a device.
// Implementations: uiautomator2 (real Android device), mock (scripted app).
// The orchestrator decides what to do; Device only does it.
type Device interface {
	// Capture returns the current screen as a view tree
	Capture(ctx context.Context) (*view.Tree, error)

	// Execute performs a single action. Fails with ErrDeviceUnavailable
	// when the device or app cannot be reached.
	Execute(ctx context.Context, action Action) error

	// ForegroundDepth reports where app sits in the activity stack:
	// negative = not running, 0 = foreground, positive = backgrounded.
	ForegroundDepth(ctx context.Context, app string) (int, error)

	// LaunchIntent returns the action that starts app
	LaunchIntent(app string) Action

	// StopIntent returns the action that force-stops app
	StopIntent(app string) Action
}

// PlatformInfo contains device and platform details
type PlatformInfo struct {
	Platform     string `json:"platform"`               // android, mock
	OSVersion    string `json:"osVersion"`              // e.g., "14"
	DeviceName   string `json:"deviceName"`             // e.g., "Pixel 8"
	DeviceID     string `json:"deviceId"`               // Unique device identifier
	IsSimulator  bool   `json:"isSimulator"`            // Emulator vs real device
	ScreenWidth  int    `json:"screenWidth,omitempty"`  // Screen width in pixels
	ScreenHeight int    `json:"screenHeight,omitempty"` // Screen height in pixels
	AppID        string `json:"appId,omitempty"`        // Package name
}
