package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeADB answers adb invocations from a table keyed by the arguments
// after "-s <serial>".
type fakeADB struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func newFakeADB() *fakeADB {
	return &fakeADB{
		responses: map[string]string{
			"devices":   "List of devices attached\nemulator-5554\tdevice\nR58M\toffline\n\n",
			"get-state": "device\n",
		},
		failures: map[string]error{},
	}
}

func (f *fakeADB) run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	if len(args) >= 2 && args[0] == "-s" {
		args = args[2:]
	}
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.failures[key]; ok {
		return nil, []byte("boom"), err
	}
	return []byte(f.responses[key]), nil, nil
}

func newTestDevice(t *testing.T, f *fakeADB) *AndroidDevice {
	t.Helper()
	d, err := New(context.Background(), "", WithCommand("adb", f.run))
	require.NoError(t, err)
	return d
}

func TestNew_AutoDetectsSerial(t *testing.T) {
	f := newFakeADB()
	d := newTestDevice(t, f)
	assert.Equal(t, "emulator-5554", d.Serial())
	assert.Contains(t, f.calls, "get-state")
}

func TestNew_NoDevices(t *testing.T) {
	f := newFakeADB()
	f.responses["devices"] = "List of devices attached\n\n"
	_, err := New(context.Background(), "", WithCommand("adb", f.run))

	var noDev *NoDevicesError
	require.ErrorAs(t, err, &noDev)
	assert.Contains(t, err.Error(), "adb devices")
}

func TestShellAndInfo(t *testing.T) {
	f := newFakeADB()
	f.responses["shell getprop ro.product.model"] = "Pixel 7\n"
	f.responses["shell getprop ro.build.version.sdk"] = "34\n"
	f.responses["shell getprop ro.product.brand"] = "google\n"
	f.responses["shell getprop ro.kernel.qemu"] = "1\n"
	d := newTestDevice(t, f)

	info, err := d.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{Serial: "emulator-5554", Model: "Pixel 7", SDK: "34", Brand: "google", IsEmulator: true}, info)
}

func TestAdbErrorIncludesStderr(t *testing.T) {
	f := newFakeADB()
	f.failures["shell ls /nope"] = errors.New("exit status 1")
	d := newTestDevice(t, f)

	_, err := d.Shell(context.Background(), "ls /nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "adb shell ls /nope")
}

func TestIsInstalled_ExactMatch(t *testing.T) {
	f := newFakeADB()
	f.responses["shell pm list packages com.example"] = "package:com.example.other\npackage:com.example\n"
	f.responses["shell pm list packages com.ex"] = "package:com.example\n"
	d := newTestDevice(t, f)

	assert.True(t, d.IsInstalled(context.Background(), "com.example"))
	assert.False(t, d.IsInstalled(context.Background(), "com.ex"))
}

func TestForegroundActivity(t *testing.T) {
	tests := []struct {
		name     string
		dumpsys  string
		pkg      string
		activity string
	}{
		{
			name:     "legacy",
			dumpsys:  "  mResumedActivity: ActivityRecord{4f1c2a u0 com.example.notes/.MainActivity t42}\n",
			pkg:      "com.example.notes",
			activity: ".MainActivity",
		},
		{
			name:     "android 12",
			dumpsys:  "    topResumedActivity=ActivityRecord{9b u0 com.android.settings/.Settings$WifiSettingsActivity t7}\n",
			pkg:      "com.android.settings",
			activity: ".Settings$WifiSettingsActivity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeADB()
			f.responses["shell dumpsys activity activities"] = tt.dumpsys
			d := newTestDevice(t, f)

			pkg, act, err := d.ForegroundActivity(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.pkg, pkg)
			assert.Equal(t, tt.activity, act)
		})
	}

	f := newFakeADB()
	d := newTestDevice(t, f)
	_, _, err := d.ForegroundActivity(context.Background())
	assert.Error(t, err)
}

func TestIsRunning(t *testing.T) {
	f := newFakeADB()
	f.responses["shell pidof com.example"] = "1234\n"
	d := newTestDevice(t, f)

	running, err := d.IsRunning(context.Background(), "com.example")
	require.NoError(t, err)
	assert.True(t, running)

	running, err = d.IsRunning(context.Background(), "com.absent")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestLaunchStopAndKeys(t *testing.T) {
	f := newFakeADB()
	f.responses["shell monkey -p com.broken -c android.intent.category.LAUNCHER 1"] = "** No activities found to run, monkey aborted.\n"
	d := newTestDevice(t, f)
	ctx := context.Background()

	require.NoError(t, d.LaunchApp(ctx, "com.example"))
	assert.Error(t, d.LaunchApp(ctx, "com.broken"))
	require.NoError(t, d.ForceStop(ctx, "com.example"))
	require.NoError(t, d.KeyEvent(ctx, 4))

	assert.Contains(t, f.calls, "shell monkey -p com.example -c android.intent.category.LAUNCHER 1")
	assert.Contains(t, f.calls, "shell am force-stop com.example")
	assert.Contains(t, f.calls, "shell input keyevent 4")
}

func TestStartUIAutomator2_NotInstalled(t *testing.T) {
	f := newFakeADB()
	d := newTestDevice(t, f)
	err := d.StartUIAutomator2(context.Background(), DefaultUIAutomator2Config())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not installed")
}

func TestHTTPClient_NotStarted(t *testing.T) {
	d := newTestDevice(t, newFakeADB())
	_, _, err := d.HTTPClient()
	assert.Error(t, err)
	assert.False(t, d.IsUIAutomator2Running(context.Background()))
}

func TestCheckHealthWithClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wd/hub/status" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, checkHealthWithClient(context.Background(), srv.Client(), srv.URL+"/wd/hub/status"))
	assert.False(t, checkHealthWithClient(context.Background(), srv.Client(), srv.URL+"/other"))
}

func TestFindAPK(t *testing.T) {
	dir := t.TempDir()
	_, err := findAPK(dir, "appium-uiautomator2-server-v*.apk")
	assert.Error(t, err)

	want := filepath.Join(dir, "appium-uiautomator2-server-v7.0.0.apk")
	require.NoError(t, os.WriteFile(want, []byte("apk"), 0o644))
	got, err := findAPK(dir, "appium-uiautomator2-server-v*.apk")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInstallUIAutomator2_SkipsInstalled(t *testing.T) {
	f := newFakeADB()
	f.responses["shell pm list packages "+UIAutomator2Server] = "package:" + UIAutomator2Server + "\n"
	f.responses["shell pm list packages "+UIAutomator2Test] = "package:" + UIAutomator2Test + "\n"
	d := newTestDevice(t, f)

	require.NoError(t, d.InstallUIAutomator2(context.Background(), t.TempDir()))
	for _, c := range f.calls {
		assert.False(t, strings.HasPrefix(c, "install"), c)
	}
}

func TestIsRunning_AdbMissing(t *testing.T) {
	f := newFakeADB()
	f.failures["shell pidof com.example"] = exec.ErrNotFound
	d := newTestDevice(t, f)

	_, err := d.IsRunning(context.Background(), "com.example")
	assert.Error(t, err)
}
