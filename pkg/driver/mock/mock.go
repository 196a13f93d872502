// Package mock provides a scripted in-memory application that implements
// core.Device, for tests and dry runs without a real device.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

// Special button targets.
const (
	TargetBack = "@back" // behaves like the back key
	TargetExit = "@exit" // sends the app to the background
)

// LauncherActivity is reported while the app is not in the foreground.
const LauncherActivity = "com.android.launcher3/.Launcher"

// Button is a tappable element of a screen.
type Button struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"text"`
	Target   string `yaml:"target,omitempty"` // screen name, TargetBack, TargetExit or empty
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Screen is one logical screen of the scripted app.
type Screen struct {
	Name      string `yaml:"name"`
	Activity  string `yaml:"activity,omitempty"` // defaults to "." + Name
	Title     string `yaml:"title,omitempty"`
	Container string `yaml:"container,omitempty"` // resource id wrapping Buttons

	Buttons []Button   `yaml:"buttons,omitempty"`
	Pages   [][]Button `yaml:"pages,omitempty"` // scrollable list, one page visible at a time
}

// App is a scripted application.
type App struct {
	Package string    `yaml:"package"`
	Home    string    `yaml:"home"`
	Screens []*Screen `yaml:"screens"`
}

// LoadApp reads an App from a YAML file.
func LoadApp(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock app: %w", err)
	}
	var app App
	if err := yaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse mock app: %w", err)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return &app, nil
}

// Validate checks that every target names a known screen.
func (a *App) Validate() error {
	if a.Package == "" {
		return fmt.Errorf("mock app: package is required")
	}
	names := make(map[string]bool, len(a.Screens))
	for _, s := range a.Screens {
		if names[s.Name] {
			return fmt.Errorf("mock app: duplicate screen %q", s.Name)
		}
		names[s.Name] = true
	}
	if !names[a.Home] {
		return fmt.Errorf("mock app: home screen %q not defined", a.Home)
	}
	for _, s := range a.Screens {
		for _, b := range s.allButtons() {
			switch b.Target {
			case "", TargetBack, TargetExit:
			default:
				if !names[b.Target] {
					return fmt.Errorf("mock app: screen %q button %q targets unknown screen %q", s.Name, b.ID, b.Target)
				}
			}
		}
	}
	return nil
}

func (s *Screen) allButtons() []Button {
	out := append([]Button(nil), s.Buttons...)
	for _, p := range s.Pages {
		out = append(out, p...)
	}
	return out
}

// Config configures the simulator.
type Config struct {
	// CrashOnLaunch keeps the app from ever starting.
	CrashOnLaunch bool
	// StartRunning starts with the app in the foreground on its home screen.
	StartRunning bool
}

// Driver simulates a device running App.
type Driver struct {
	mu sync.Mutex

	app     *App
	screens map[string]*Screen
	cfg     Config

	running    bool
	background bool
	stack      []string
	scrollPos  map[string]int

	backLag    int    // captures that still show the old screen after back
	lagLeft    int
	lagScreen  string // screen shown while lagging
	brokenBack string // when set, back always lands here

	// Counters for assertions.
	Executed   []core.Action
	Launches   int
	Terminates int
	Captures   int
}

// New creates a simulator for app.
func New(app *App, cfg Config) *Driver {
	d := &Driver{
		app:       app,
		screens:   make(map[string]*Screen, len(app.Screens)),
		cfg:       cfg,
		scrollPos: make(map[string]int),
	}
	for _, s := range app.Screens {
		d.screens[s.Name] = s
	}
	if cfg.StartRunning {
		d.start()
	}
	return d
}

// SetBackLag makes the next n captures after each back press still show
// the screen that was left.
func (d *Driver) SetBackLag(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backLag = n
}

// BreakBack makes every back press land on screen.
func (d *Driver) BreakBack(screen string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brokenBack = screen
}

// Current returns the name of the visible screen, or "" outside the app.
func (d *Driver) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible()
}

func (d *Driver) visible() string {
	if !d.running || d.background || len(d.stack) == 0 {
		return ""
	}
	return d.stack[len(d.stack)-1]
}

func (d *Driver) start() {
	d.running = true
	d.background = false
	d.stack = []string{d.app.Home}
	d.scrollPos = make(map[string]int)
}

// Capture renders the visible screen.
func (d *Driver) Capture(ctx context.Context) (*view.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Captures++

	name := d.visible()
	if d.lagLeft > 0 {
		name = d.lagScreen
		d.lagLeft--
	}
	if name == "" {
		return launcherTree(), nil
	}
	return d.render(d.screens[name]), nil
}

// ForegroundDepth reports -1 when the app is not running, 1 when it is
// in the background and 0 when it is visible.
func (d *Driver) ForegroundDepth(ctx context.Context, app string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case app != d.app.Package || !d.running:
		return -1, nil
	case d.background:
		return 1, nil
	default:
		return 0, nil
	}
}

// LaunchIntent returns the launch action for app.
func (d *Driver) LaunchIntent(app string) core.Action { return core.Launch(app) }

// StopIntent returns the force-stop action for app.
func (d *Driver) StopIntent(app string) core.Action { return core.Terminate(app) }

// Execute applies action to the simulated app.
func (d *Driver) Execute(ctx context.Context, action core.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Executed = append(d.Executed, action)

	switch action.Kind {
	case core.ActionManual:
		return nil
	case core.ActionLaunch:
		d.Launches++
		if action.App != d.app.Package {
			return core.ErrAppNotInstalled.WithDetails(map[string]interface{}{"app": action.App})
		}
		if d.cfg.CrashOnLaunch {
			d.running = false
			return nil
		}
		if d.running {
			d.background = false
			return nil
		}
		d.start()
		return nil
	case core.ActionTerminate:
		d.Terminates++
		d.running = false
		d.background = false
		d.stack = nil
		return nil
	case core.ActionKey:
		if action.IsBack() {
			d.back()
		}
		return nil
	case core.ActionScroll:
		return d.scroll(action)
	case core.ActionTap:
		return d.tap(action.Target)
	default:
		return core.ErrUnsupportedAction.WithDetails(map[string]interface{}{"kind": action.Kind.String()})
	}
}

func (d *Driver) back() {
	left := d.visible()
	if left == "" {
		return
	}
	switch {
	case d.brokenBack != "":
		d.stack = append(d.stack[:len(d.stack)-1], d.brokenBack)
	case len(d.stack) > 1:
		d.stack = d.stack[:len(d.stack)-1]
	default:
		d.background = true
	}
	if d.backLag > 0 {
		d.lagScreen = left
		d.lagLeft = d.backLag
	}
}

func (d *Driver) tap(sig string) error {
	name := d.visible()
	if name == "" {
		return nil // taps on the launcher do nothing
	}
	s := d.screens[name]
	e, ok := d.findOnAnyPage(s, sig)
	if !ok || !e.Actionable() {
		return core.ErrElementNotFound.WithDetails(map[string]interface{}{"signature": sig, "screen": name})
	}
	for _, b := range s.allButtons() {
		if d.resourceID(b.ID) != e.ResourceID {
			continue
		}
		switch b.Target {
		case "":
		case TargetBack:
			d.back()
		case TargetExit:
			d.background = true
		default:
			d.stack = append(d.stack, b.Target)
			d.scrollPos[b.Target] = 0
		}
		return nil
	}
	return nil
}

// findOnAnyPage looks sig up on the visible page first, then on the other
// pages of the list. The list position is left unchanged, as after a
// driver's scroll-search that returns to where it started.
func (d *Driver) findOnAnyPage(s *Screen, sig string) (view.Element, bool) {
	if e, ok := d.render(s).FindBySignature(sig); ok {
		return e, true
	}
	pos := d.scrollPos[s.Name]
	defer func() { d.scrollPos[s.Name] = pos }()
	for i := range s.Pages {
		if i == pos {
			continue
		}
		d.scrollPos[s.Name] = i
		if e, ok := d.render(s).FindBySignature(sig); ok {
			return e, true
		}
	}
	return view.Element{}, false
}

func (d *Driver) scroll(action core.Action) error {
	name := d.visible()
	if name == "" {
		return core.ErrElementNotFound.WithDetails(map[string]interface{}{"signature": action.Target})
	}
	s := d.screens[name]
	if len(s.Pages) == 0 {
		return nil
	}
	pos := d.scrollPos[name]
	switch action.Direction {
	case core.DirectionDown:
		if pos < len(s.Pages)-1 {
			pos++
		}
	case core.DirectionUp:
		if pos > 0 {
			pos--
		}
	}
	d.scrollPos[name] = pos
	return nil
}

func (d *Driver) resourceID(id string) string {
	return d.app.Package + ":id/" + id
}

func (d *Driver) render(s *Screen) *view.Tree {
	activity := s.Activity
	if activity == "" {
		activity = "." + s.Name
	}
	t := &view.Tree{Activity: d.app.Package + "/" + activity}
	root := t.Add(-1, view.Node{
		Class:      "android.widget.FrameLayout",
		ResourceID: d.resourceID("content"),
		Package:    d.app.Package,
		Bounds:     view.Bounds{Width: 1080, Height: 2400},
	})
	title := s.Title
	if title == "" {
		title = s.Name
	}
	t.Add(root, view.Node{Class: "android.widget.TextView", ResourceID: d.resourceID("title"), Text: title})

	parent := root
	if s.Container != "" {
		parent = t.Add(root, view.Node{Class: "android.widget.LinearLayout", ResourceID: d.resourceID(s.Container)})
	}
	y := 200
	for _, b := range s.Buttons {
		d.addButton(t, parent, b, y)
		y += 120
	}
	if len(s.Pages) > 0 {
		list := t.Add(root, view.Node{
			Class:      "androidx.recyclerview.widget.RecyclerView",
			ResourceID: d.resourceID("list"),
			Scrollable: true,
			Bounds:     view.Bounds{Y: y, Width: 1080, Height: 1200},
		})
		for _, b := range s.Pages[d.scrollPos[s.Name]] {
			d.addButton(t, list, b, y)
			y += 120
		}
	}
	return t
}

func (d *Driver) addButton(t *view.Tree, parent int, b Button, y int) {
	t.Add(parent, view.Node{
		Class:      "android.widget.Button",
		ResourceID: d.resourceID(b.ID),
		Text:       b.Text,
		Clickable:  true,
		Disabled:   b.Disabled,
		Bounds:     view.Bounds{X: 40, Y: y, Width: 1000, Height: 100},
	})
}

func launcherTree() *view.Tree {
	t := &view.Tree{Activity: LauncherActivity}
	root := t.Add(-1, view.Node{Class: "android.widget.FrameLayout", ResourceID: "com.android.launcher3:id/launcher"})
	t.Add(root, view.Node{Class: "android.widget.TextView", ResourceID: "com.android.launcher3:id/icon", Text: "Apps", Clickable: true})
	return t
}

// GetPlatformInfo returns mock platform info.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:     "mock",
		DeviceID:     "mock-device",
		DeviceName:   "Mock Device",
		OSVersion:    "1.0",
		IsSimulator:  true,
		ScreenWidth:  1080,
		ScreenHeight: 2400,
		AppID:        d.app.Package,
	}
}
