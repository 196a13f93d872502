// Package uiautomator2 implements core.Device for Android over a
// UIAutomator2 server, with adb for app lifecycle and activity queries.
package uiautomator2

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/uiautomator2"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// UIA2Client defines the UIAutomator2 operations the driver needs.
// Implemented by uiautomator2.Client. Allows mocking in tests.
type UIA2Client interface {
	Source(ctx context.Context) (string, error)
	FindElement(ctx context.Context, strategy, selector string) (*uiautomator2.Element, error)
	Click(ctx context.Context, x, y int) error
	ScrollInArea(ctx context.Context, area uiautomator2.RectModel, direction string, percent float64, speed int) error
	Back(ctx context.Context) error
	PressKeyCode(ctx context.Context, keyCode int) error
	GetDeviceInfo(ctx context.Context) (*uiautomator2.DeviceInfo, error)
}

// ADB runs app lifecycle and activity queries on a device.
// Implemented by device.AndroidDevice.
type ADB interface {
	Serial() string
	ForegroundActivity(ctx context.Context) (pkg, activity string, err error)
	IsRunning(ctx context.Context, pkg string) (bool, error)
	IsInstalled(ctx context.Context, pkg string) bool
	LaunchApp(ctx context.Context, pkg string) error
	ForceStop(ctx context.Context, pkg string) error
}

// Scroll gesture defaults.
const (
	DefaultScrollPercent = 0.6
	DefaultScrollSpeed   = 2500
)

// Driver implements core.Device using UIAutomator2.
type Driver struct {
	client UIA2Client
	adb    ADB
	logger *zap.Logger

	scrollPercent float64
	scrollSpeed   int

	mu   sync.Mutex
	last *view.Tree // latest capture, used to resolve signatures
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithScroll overrides the scroll gesture size and speed.
func WithScroll(percent float64, speed int) Option {
	return func(d *Driver) {
		if percent > 0 && percent <= 1 {
			d.scrollPercent = percent
		}
		if speed > 0 {
			d.scrollSpeed = speed
		}
	}
}

// New creates a new UIAutomator2 driver.
func New(client UIA2Client, adb ADB, opts ...Option) *Driver {
	d := &Driver{
		client:        client,
		adb:           adb,
		logger:        zap.NewNop(),
		scrollPercent: DefaultScrollPercent,
		scrollSpeed:   DefaultScrollSpeed,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capture returns the current screen. The foreground activity is attached
// when adb can report it.
func (d *Driver) Capture(ctx context.Context) (*view.Tree, error) {
	src, err := d.client.Source(ctx)
	if err != nil {
		return nil, deviceError(err)
	}
	tree, err := ParsePageSource(src)
	if err != nil {
		return nil, core.ErrDeviceUnavailable.WithCause(err)
	}

	pkg, activity, err := d.adb.ForegroundActivity(ctx)
	if err != nil {
		d.logger.Debug("Foreground activity unknown", zap.Error(err))
	} else {
		tree.Activity = qualifyActivity(pkg, activity)
	}

	d.mu.Lock()
	d.last = tree
	d.mu.Unlock()
	return tree, nil
}

// ForegroundDepth reports -1 when app is not running, 0 when it owns the
// foreground and 1 when another package is on top of it.
func (d *Driver) ForegroundDepth(ctx context.Context, app string) (int, error) {
	running, err := d.adb.IsRunning(ctx, app)
	if err != nil {
		return 0, core.ErrDeviceUnavailable.WithCause(err)
	}
	if !running {
		return -1, nil
	}
	pkg, _, err := d.adb.ForegroundActivity(ctx)
	if err != nil {
		return 0, core.ErrDeviceUnavailable.WithCause(err)
	}
	if pkg == app {
		return 0, nil
	}
	return 1, nil
}

// LaunchIntent returns the action that starts app.
func (d *Driver) LaunchIntent(app string) core.Action { return core.Launch(app) }

// StopIntent returns the action that force-stops app.
func (d *Driver) StopIntent(app string) core.Action { return core.Terminate(app) }

// Execute performs a single action. A successful action invalidates the
// latest capture.
func (d *Driver) Execute(ctx context.Context, action core.Action) error {
	var err error
	switch action.Kind {
	case core.ActionManual:
		return nil
	case core.ActionTap:
		err = d.tap(ctx, action.Target)
	case core.ActionScroll:
		err = d.scroll(ctx, action.Target, action.Direction)
	case core.ActionKey:
		err = d.pressKey(ctx, action.Key)
	case core.ActionLaunch:
		err = d.launch(ctx, action.App)
	case core.ActionTerminate:
		if stopErr := d.adb.ForceStop(ctx, action.App); stopErr != nil {
			err = core.ErrDeviceUnavailable.WithCause(stopErr)
		}
	default:
		return core.ErrUnsupportedAction.WithDetails(map[string]interface{}{"action": action.CanonicalKey()})
	}
	if err == nil {
		d.mu.Lock()
		d.last = nil
		d.mu.Unlock()
	}
	return err
}

// tap clicks the center of the element with the given signature. The
// element is looked up in the latest capture, then in a fresh one, and
// finally through a scroll-into-view search on the device.
func (d *Driver) tap(ctx context.Context, sig string) error {
	e, ok, err := d.resolve(ctx, sig)
	if err != nil {
		return err
	}
	if ok {
		x, y := e.Bounds.Center()
		return deviceError(d.client.Click(ctx, x, y))
	}

	selector, ok := scrollIntoViewSelector(sig)
	if !ok {
		return notFound(sig)
	}
	el, err := d.client.FindElement(ctx, uiautomator2.StrategyUIAutomator, selector)
	if err != nil {
		if errors.Is(err, core.ErrElementNotFound) {
			return notFound(sig)
		}
		return deviceError(err)
	}
	return deviceError(el.Click(ctx))
}

func (d *Driver) scroll(ctx context.Context, sig string, dir core.Direction) error {
	e, ok, err := d.resolve(ctx, sig)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(sig)
	}
	b := e.Bounds
	area := uiautomator2.NewRect(b.X, b.Y, b.Width, b.Height)
	return deviceError(d.client.ScrollInArea(ctx, area, string(dir), d.scrollPercent, d.scrollSpeed))
}

// resolve finds sig among the visible elements of the latest capture,
// capturing again on a miss.
func (d *Driver) resolve(ctx context.Context, sig string) (view.Element, bool, error) {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	if last != nil {
		if e, ok := last.FindBySignature(sig); ok {
			return e, true, nil
		}
	}
	tree, err := d.Capture(ctx)
	if err != nil {
		return view.Element{}, false, err
	}
	e, ok := tree.FindBySignature(sig)
	return e, ok, nil
}

func (d *Driver) pressKey(ctx context.Context, key string) error {
	if key == core.KeyBack {
		return deviceError(d.client.Back(ctx))
	}
	code := mapKeyCode(key)
	if code == 0 {
		return core.ErrUnsupportedAction.WithMessage(fmt.Sprintf("unknown key: %s", key))
	}
	return deviceError(d.client.PressKeyCode(ctx, code))
}

func (d *Driver) launch(ctx context.Context, app string) error {
	if err := d.adb.LaunchApp(ctx, app); err != nil {
		if !d.adb.IsInstalled(ctx, app) {
			return core.ErrAppNotInstalled.WithCause(err).WithDetails(map[string]interface{}{"app": app})
		}
		return core.ErrDeviceUnavailable.WithCause(err)
	}
	return nil
}

// PlatformInfo returns device details for reports.
func (d *Driver) PlatformInfo(ctx context.Context, app string) *core.PlatformInfo {
	info := &core.PlatformInfo{
		Platform: "android",
		DeviceID: d.adb.Serial(),
		AppID:    app,
	}
	di, err := d.client.GetDeviceInfo(ctx)
	if err != nil {
		d.logger.Debug("Device info unavailable", zap.Error(err))
		return info
	}
	info.OSVersion = di.PlatformVersion
	info.DeviceName = strings.TrimSpace(di.Manufacturer + " " + di.Model)
	info.IsSimulator = strings.HasPrefix(info.DeviceID, "emulator-")
	if w, h, ok := parseDisplaySize(di.RealDisplaySize); ok {
		info.ScreenWidth, info.ScreenHeight = w, h
	}
	return info
}

// deviceError maps client failures onto core sentinels. Errors that already
// carry a sentinel pass through.
func deviceError(err error) error {
	if err == nil {
		return nil
	}
	var ee *core.ExecutionError
	if errors.As(err, &ee) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var serr *uiautomator2.ServerError
	if errors.As(err, &serr) && strings.Contains(serr.Kind, "session") {
		return core.ErrDeviceUnavailable.WithCause(err)
	}
	return err
}

func notFound(sig string) error {
	return core.ErrElementNotFound.WithDetails(map[string]interface{}{"signature": sig})
}

// qualifyActivity expands ".Main" to "pkg.Main".
func qualifyActivity(pkg, activity string) string {
	if strings.HasPrefix(activity, ".") {
		return pkg + activity
	}
	return activity
}

// parseDisplaySize parses "1080x2400".
func parseDisplaySize(s string) (int, int, bool) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return width, height, true
}

// mapKeyCode maps key names to Android key codes.
func mapKeyCode(key string) int {
	switch strings.ToLower(key) {
	case "back":
		return uiautomator2.KeyCodeBack
	case "home":
		return uiautomator2.KeyCodeHome
	case "menu":
		return uiautomator2.KeyCodeMenu
	case "enter":
		return uiautomator2.KeyCodeEnter
	case "delete", "backspace":
		return uiautomator2.KeyCodeDelete
	case "search":
		return uiautomator2.KeyCodeSearch
	case "tab":
		return uiautomator2.KeyCodeTab
	case "up":
		return uiautomator2.KeyCodeDpadUp
	case "down":
		return uiautomator2.KeyCodeDpadDown
	case "left":
		return uiautomator2.KeyCodeDpadLeft
	case "right":
		return uiautomator2.KeyCodeDpadRight
	case "center":
		return uiautomator2.KeyCodeDpadCenter
	case "recents", "app_switch":
		return uiautomator2.KeyCodeAppSwitch
	default:
		return 0
	}
}

// scrollIntoViewSelector builds a UiScrollable search for the element
// named by sig. Merged container labels cannot be matched and are left out;
// a signature with nothing else to match on yields false.
func scrollIntoViewSelector(sig string) (string, bool) {
	parts := strings.Split(sig, "|")
	if len(parts) != 4 {
		return "", false
	}
	class, id, text, desc := parts[0], parts[1], parts[2], parts[3]
	if strings.Contains(text, "\n") {
		text = ""
	}
	if id == "" && text == "" && desc == "" {
		return "", false
	}

	var sel strings.Builder
	sel.WriteString("new UiSelector()")
	if class != "" {
		fmt.Fprintf(&sel, `.className("%s")`, escapeUiAutomatorString(class))
	}
	if id != "" {
		fmt.Fprintf(&sel, `.resourceId("%s")`, escapeUiAutomatorString(id))
	}
	if text != "" {
		fmt.Fprintf(&sel, `.text("%s")`, escapeUiAutomatorString(text))
	}
	if desc != "" {
		fmt.Fprintf(&sel, `.description("%s")`, escapeUiAutomatorString(desc))
	}
	return "new UiScrollable(new UiSelector().scrollable(true)).scrollIntoView(" + sel.String() + ")", true
}

// escapeUiAutomatorString escapes a literal for a UiSelector string argument.
func escapeUiAutomatorString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
