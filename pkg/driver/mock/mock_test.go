package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

func tapText(t *testing.T, d *Driver, text string) {
	t.Helper()
	tree, err := d.Capture(context.Background())
	require.NoError(t, err)
	for _, e := range tree.Elements(-1) {
		if e.Text == text && e.Actionable() {
			require.NoError(t, d.Execute(context.Background(), core.Tap(e.Signature)))
			return
		}
	}
	t.Fatalf("no actionable element %q on %s", text, d.Current())
}

func TestDemoAppIsValid(t *testing.T) {
	require.NoError(t, DemoApp().Validate())
}

func TestDriver_LaunchNavigateBack(t *testing.T) {
	ctx := context.Background()
	d := New(DemoApp(), Config{})

	depth, err := d.ForegroundDepth(ctx, DemoPackage)
	require.NoError(t, err)
	assert.Equal(t, -1, depth)

	tree, err := d.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, LauncherActivity, tree.Activity)

	require.NoError(t, d.Execute(ctx, d.LaunchIntent(DemoPackage)))
	assert.Equal(t, "Home", d.Current())
	depth, _ = d.ForegroundDepth(ctx, DemoPackage)
	assert.Equal(t, 0, depth)

	tapText(t, d, "Menu")
	assert.Equal(t, "Drawer", d.Current())
	tapText(t, d, "Profile")
	assert.Equal(t, "Profile", d.Current())

	require.NoError(t, d.Execute(ctx, core.Back()))
	assert.Equal(t, "Drawer", d.Current())
	require.NoError(t, d.Execute(ctx, core.Back()))
	require.NoError(t, d.Execute(ctx, core.Back()))
	assert.Equal(t, "", d.Current(), "back on the root backgrounds the app")
	depth, _ = d.ForegroundDepth(ctx, DemoPackage)
	assert.Equal(t, 1, depth)

	require.NoError(t, d.Execute(ctx, d.StopIntent(DemoPackage)))
	depth, _ = d.ForegroundDepth(ctx, DemoPackage)
	assert.Equal(t, -1, depth)
	assert.Equal(t, 1, d.Launches)
	assert.Equal(t, 1, d.Terminates)
}

func TestDriver_ScreensHaveDistinctFingerprints(t *testing.T) {
	d := New(DemoApp(), Config{StartRunning: true})
	home, _ := d.Capture(context.Background())
	tapText(t, d, "Menu")
	drawer, _ := d.Capture(context.Background())

	assert.NotEqual(t, view.Fingerprint(home), view.Fingerprint(drawer))

	again, _ := d.Capture(context.Background())
	assert.Equal(t, view.Fingerprint(drawer), view.Fingerprint(again))
}

func TestDriver_ScrollPages(t *testing.T) {
	ctx := context.Background()
	d := New(DemoApp(), Config{StartRunning: true})
	tapText(t, d, "Menu")
	tapText(t, d, "Settings")

	tree, _ := d.Capture(ctx)
	lists := tree.Scrollables()
	require.Len(t, lists, 1)
	list := lists[0]

	_, found := findText(tree, "About")
	assert.False(t, found)

	require.NoError(t, d.Execute(ctx, core.Scroll(list.Signature, core.DirectionDown)))
	tree, _ = d.Capture(ctx)
	_, found = findText(tree, "About")
	assert.True(t, found)

	require.NoError(t, d.Execute(ctx, core.Scroll(list.Signature, core.DirectionDown)))
	require.NoError(t, d.Execute(ctx, core.Scroll(list.Signature, core.DirectionUp)))
	tree, _ = d.Capture(ctx)
	_, found = findText(tree, "Account")
	assert.True(t, found)
}

func findText(tree *view.Tree, text string) (view.Element, bool) {
	for _, e := range tree.Elements(-1) {
		if e.Text == text {
			return e, true
		}
	}
	return view.Element{}, false
}

func TestDriver_BackLagAndBrokenBack(t *testing.T) {
	ctx := context.Background()
	d := New(DemoApp(), Config{StartRunning: true})
	d.SetBackLag(2)
	tapText(t, d, "Menu")

	require.NoError(t, d.Execute(ctx, core.Back()))
	for i := 0; i < 2; i++ {
		tree, _ := d.Capture(ctx)
		_, onDrawer := findText(tree, "Navigate")
		assert.True(t, onDrawer, "capture %d still shows the drawer", i)
	}
	tree, _ := d.Capture(ctx)
	_, onHome := findText(tree, "Welcome")
	assert.True(t, onHome)

	d.SetBackLag(0)
	d.BreakBack("About")
	tapText(t, d, "Menu")
	require.NoError(t, d.Execute(ctx, core.Back()))
	assert.Equal(t, "About", d.Current())
}

func TestDriver_CrashOnLaunch(t *testing.T) {
	ctx := context.Background()
	d := New(DemoApp(), Config{CrashOnLaunch: true})
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Execute(ctx, core.Launch(DemoPackage)))
	}
	depth, _ := d.ForegroundDepth(ctx, DemoPackage)
	assert.Equal(t, -1, depth)
	assert.Equal(t, 3, d.Launches)

	err := d.Execute(ctx, core.Launch("com.other"))
	assert.ErrorIs(t, err, core.ErrAppNotInstalled)
}

func TestDriver_TapUnknownElement(t *testing.T) {
	d := New(DemoApp(), Config{StartRunning: true})
	err := d.Execute(context.Background(), core.Tap("android.widget.Button|nope|Nope|"))
	assert.ErrorIs(t, err, core.ErrElementNotFound)
}

func TestLoadApp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
package: com.example.tiny
home: Main
screens:
  - name: Main
    buttons:
      - {id: go, text: Go, target: Next}
  - name: Next
`), 0o644))

	app, err := LoadApp(path)
	require.NoError(t, err)
	assert.Equal(t, "com.example.tiny", app.Package)
	require.Len(t, app.Screens, 2)
	assert.Equal(t, "Next", app.Screens[0].Buttons[0].Target)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("package: p\nhome: Main\nscreens:\n  - name: Main\n    buttons:\n      - {id: x, target: Nowhere}\n"), 0o644))
	_, err = LoadApp(bad)
	assert.Error(t, err)
}

func TestDriver_TapOnHiddenPage(t *testing.T) {
	ctx := context.Background()
	d := New(DemoApp(), Config{StartRunning: true})
	tapText(t, d, "Menu")
	tapText(t, d, "Settings")

	tree, _ := d.Capture(ctx)
	list := tree.Scrollables()[0]
	require.NoError(t, d.Execute(ctx, core.Scroll(list.Signature, core.DirectionDown)))
	tree, _ = d.Capture(ctx)
	about, found := findText(tree, "About")
	require.True(t, found)
	require.NoError(t, d.Execute(ctx, core.Scroll(list.Signature, core.DirectionUp)))

	require.NoError(t, d.Execute(ctx, core.Tap(about.Signature)))
	assert.Equal(t, "About", d.Current())

	require.NoError(t, d.Execute(ctx, core.Back()))
	tree, _ = d.Capture(ctx)
	_, found = findText(tree, "Account")
	assert.True(t, found, "list stays on its first page")
}
