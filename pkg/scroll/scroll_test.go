package scroll

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/driver/mock"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

func feedApp(pages int) *mock.App {
	var list [][]mock.Button
	for i := 0; i < pages; i++ {
		list = append(list, []mock.Button{
			{ID: "item_a", Text: "Item " + string(rune('A'+2*i))},
			{ID: "item_b", Text: "Item " + string(rune('B'+2*i))},
		})
	}
	return &mock.App{
		Package: "com.example.feed",
		Home:    "Feed",
		Screens: []*mock.Screen{{Name: "Feed", Pages: list}},
	}
}

func captureList(t *testing.T, d *mock.Driver) (*view.Tree, view.Element) {
	t.Helper()
	tree, err := d.Capture(context.Background())
	require.NoError(t, err)
	lists := tree.Scrollables()
	require.NotEmpty(t, lists)
	return tree, lists[0]
}

func texts(elems []view.Element) []string {
	var out []string
	for _, e := range elems {
		out = append(out, e.Text)
	}
	return out
}

func TestRevealAll_StopsWhenNothingNew(t *testing.T) {
	d := mock.New(feedApp(2), mock.Config{StartRunning: true})
	g := graph.New()
	r := New(d, g, WithMaxScrolls(5))

	tree, list := captureList(t, d)
	revealed, scrolls, err := r.RevealAll(context.Background(), tree, list)
	require.NoError(t, err)

	assert.Equal(t, []string{"Item C", "Item D"}, texts(revealed))
	assert.Len(t, scrolls, 2, "second pass shows nothing new")
	assert.Equal(t, 2, g.EdgeCount())
	for _, e := range g.Outgoing(g.Export().Nodes[0].Fingerprint) {
		require.NotNil(t, e.Reverse)
		assert.Equal(t, core.DirectionUp, e.Reverse.Direction)
	}

	require.NoError(t, r.RestoreToTop(context.Background(), list, len(scrolls)))
	assert.Equal(t, 4, g.EdgeCount())

	tree, _ = d.Capture(context.Background())
	assert.Contains(t, texts(tree.Elements(-1)), "Item A", "back at the top")
}

func TestRevealAll_RespectsMaxScrolls(t *testing.T) {
	d := mock.New(feedApp(5), mock.Config{StartRunning: true})
	r := New(d, graph.New())

	tree, list := captureList(t, d)
	revealed, scrolls, err := r.RevealAll(context.Background(), tree, list)
	require.NoError(t, err)
	assert.Len(t, scrolls, DefaultMaxScrolls)
	assert.Equal(t, []string{"Item C", "Item D", "Item E", "Item F"}, texts(revealed))
}

func TestRevealAll_CancelledContext(t *testing.T) {
	d := mock.New(feedApp(2), mock.Config{StartRunning: true})
	r := New(d, graph.New())
	tree, list := captureList(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, scrolls, err := r.RevealAll(ctx, tree, list)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, scrolls)
}

func TestRestoreToTop_WithoutPriorReveal(t *testing.T) {
	d := mock.New(feedApp(2), mock.Config{StartRunning: true})
	g := graph.New()
	r := New(d, g)
	_, list := captureList(t, d)

	require.NoError(t, r.RestoreToTop(context.Background(), list, 1))
	assert.Equal(t, 1, g.EdgeCount())
	assert.NoError(t, r.RestoreToTop(context.Background(), list, 0))
}

// flakyDevice fails the first captures with a transient error.
type flakyDevice struct {
	*mock.Driver
	failures int
}

func (f *flakyDevice) Capture(ctx context.Context) (*view.Tree, error) {
	if f.failures > 0 {
		f.failures--
		return nil, core.ErrDeviceUnavailable
	}
	return f.Driver.Capture(ctx)
}

func retryThrice(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = op(); err == nil || !errors.Is(err, core.ErrDeviceUnavailable) {
			return err
		}
	}
	return err
}

func TestRevealAll_TransientCaptureFailure(t *testing.T) {
	d := mock.New(feedApp(2), mock.Config{StartRunning: true})
	tree, list := captureList(t, d)

	_, scrolls, err := New(&flakyDevice{Driver: d, failures: 1}, graph.New()).RevealAll(context.Background(), tree, list)
	assert.ErrorIs(t, err, core.ErrDeviceUnavailable, "no retry without WithRetry")
	assert.Empty(t, scrolls)

	d = mock.New(feedApp(2), mock.Config{StartRunning: true})
	tree, list = captureList(t, d)
	r := New(&flakyDevice{Driver: d, failures: 2}, graph.New(), WithRetry(retryThrice))
	revealed, _, err := r.RevealAll(context.Background(), tree, list)
	require.NoError(t, err)
	assert.Equal(t, []string{"Item C", "Item D"}, texts(revealed))
}
