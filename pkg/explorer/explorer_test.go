package explorer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/driver/mock"
	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/graph"
)

func TestMain(m *testing.M) {
	// genai links opencensus, which starts its worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const scenarioPackage = "com.example.scenario"

// scenarioApp has a home screen whose menu button opens a drawer with three
// entries; every entry page has two leaf sub-pages.
func scenarioApp() *mock.App {
	app := &mock.App{
		Package: scenarioPackage,
		Home:    "Home",
		Screens: []*mock.Screen{
			{Name: "Home", Buttons: []mock.Button{{ID: "menu", Text: "Menu", Target: "Drawer"}}},
			{Name: "Drawer", Container: "drawer"},
		},
	}
	drawer := app.Screens[1]
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		id := strings.ToLower(name)
		drawer.Buttons = append(drawer.Buttons, mock.Button{ID: "entry_" + id, Text: name, Target: name})
		app.Screens = append(app.Screens,
			&mock.Screen{Name: name, Buttons: []mock.Button{
				{ID: id + "_one", Text: name + " one", Target: name + "One"},
				{ID: id + "_two", Text: name + " two", Target: name + "Two"},
			}},
			&mock.Screen{Name: name + "One"},
			&mock.Screen{Name: name + "Two"},
		)
	}
	return app
}

var buttonID = regexp.MustCompile(`<button id=(\d+)`)

// buttonOracle proposes every button of the listing.
func buttonOracle(calls *int) extract.Oracle {
	return extract.OracleFunc(func(ctx context.Context, rendered string) (extract.Reply, error) {
		*calls++
		reply := extract.Reply{Summary: "screen " + strconv.Itoa(*calls)}
		for _, m := range buttonID.FindAllStringSubmatch(rendered, -1) {
			id, _ := strconv.Atoi(m[1])
			reply.CandidateIDs = append(reply.CandidateIDs, id)
		}
		return reply, nil
	})
}

type recorder struct {
	nopObserver
	states      []string
	depths      []int
	extractions int
	recoveries  []string
}

func (r *recorder) OnState(fp string, depth int) {
	r.states = append(r.states, fp)
	r.depths = append(r.depths, depth)
}

func (r *recorder) OnExtraction(time.Duration, int) { r.extractions++ }

func (r *recorder) OnRecovery(kind string) { r.recoveries = append(r.recoveries, kind) }

func testConfig(app string) Config {
	cfg := DefaultConfig()
	cfg.App = app
	cfg.BacktrackDelay = 0
	cfg.DeviceRetryDelay = 0
	cfg.SettleDelay = 0
	return cfg
}

func menuConfig(app string) Config {
	cfg := testConfig(app)
	cfg.MenuControl = "menu"
	cfg.MenuContainer = "drawer"
	return cfg
}

type harness struct {
	device *mock.Driver
	graph  *graph.Graph
	rec    *recorder
	calls  int
	orch   *Orchestrator
}

func newHarness(t *testing.T, app *mock.App, devCfg mock.Config, cfg Config) *harness {
	t.Helper()
	h := &harness{
		device: mock.New(app, devCfg),
		graph:  graph.New(),
		rec:    &recorder{},
	}
	x := extract.New(buttonOracle(&h.calls))
	o, err := New(h.device, h.graph, x, cfg, WithObserver(h.rec))
	require.NoError(t, err)
	h.orch = o
	return h
}

func countActions(actions []core.Action, match func(core.Action) bool) int {
	n := 0
	for _, a := range actions {
		if match(a) {
			n++
		}
	}
	return n
}

func isBack(a core.Action) bool { return a.IsBack() }

func tapsOn(id string) func(core.Action) bool {
	return func(a core.Action) bool {
		return a.Kind == core.ActionTap && strings.Contains(a.Target, ":id/"+id+"|")
	}
}

func TestNew_RequiresApp(t *testing.T) {
	_, err := New(mock.New(scenarioApp(), mock.Config{}), graph.New(), extract.New(nil), DefaultConfig())
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNew_RejectsBadMenuPattern(t *testing.T) {
	cfg := menuConfig(scenarioPackage)
	cfg.MenuInclude = []string{"[oops"}
	_, err := New(mock.New(scenarioApp(), mock.Config{}), graph.New(), extract.New(nil), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestScenario_MenuEntriesWithTwoChildren(t *testing.T) {
	h := newHarness(t, scenarioApp(), mock.Config{}, menuConfig(scenarioPackage))

	sum, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, core.PhaseDone, h.orch.Phase())

	executed := h.device.Executed
	assert.Equal(t, 1, h.device.Launches)
	assert.Equal(t, 1, countActions(executed, tapsOn("menu")))
	for _, entry := range []string{"entry_alpha", "entry_beta", "entry_gamma"} {
		assert.Equal(t, 1, countActions(executed, tapsOn(entry)), entry)
	}
	assert.Equal(t, 9, h.rec.extractions)
	assert.Equal(t, 9, h.calls)
	assert.Equal(t, 9, countActions(executed, isBack), "one back per discovered page")
	assert.Len(t, executed, 20)
	assert.Equal(t, 20, sum.Steps)
	assert.Equal(t, 10, sum.Visited, "nine pages and the menu")
}

func TestScenario_FinishedOrchestratorIsInert(t *testing.T) {
	h := newHarness(t, scenarioApp(), mock.Config{}, menuConfig(scenarioPackage))
	_, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)

	executed, captures := len(h.device.Executed), h.device.Captures
	for i := 0; i < 3; i++ {
		res := h.orch.Step(context.Background())
		assert.Equal(t, ResultDone, res.Kind)
	}
	assert.Len(t, h.device.Executed, executed)
	assert.Equal(t, captures, h.device.Captures)
}

func TestProperty_NoDuplicateDiscovery(t *testing.T) {
	cfg := menuConfig(mock.DemoPackage)
	h := newHarness(t, mock.DemoApp(), mock.Config{}, cfg)

	_, _ = Run(context.Background(), h.orch, 300)

	require.NotEmpty(t, h.rec.states)
	seen := make(map[string]bool)
	for _, fp := range h.rec.states {
		assert.False(t, seen[fp], "state %s discovered twice", fp)
		seen[fp] = true
	}
	assert.Equal(t, len(h.rec.states), h.calls, "one extraction per discovered state")
}

func TestProperty_DepthBound(t *testing.T) {
	for _, maxDepth := range []int{1, 2, 3} {
		cfg := menuConfig(mock.DemoPackage)
		cfg.MaxDepth = maxDepth
		h := newHarness(t, mock.DemoApp(), mock.Config{}, cfg)

		_, _ = Run(context.Background(), h.orch, 300)

		require.NotEmpty(t, h.rec.depths)
		for _, d := range h.rec.depths {
			assert.LessOrEqual(t, d, maxDepth)
		}
	}
}

func TestProperty_EdgesOnlyGrow(t *testing.T) {
	h := newHarness(t, mock.DemoApp(), mock.Config{}, menuConfig(mock.DemoPackage))
	ctx := context.Background()

	prev := 0
	for i := 0; i < 200; i++ {
		res := h.orch.Step(ctx)
		n := h.graph.EdgeCount()
		assert.GreaterOrEqual(t, n, prev)
		prev = n
		if res.Kind != ResultContinue {
			break
		}
	}

	ex := h.graph.Export()
	for i := 1; i < len(ex.Edges); i++ {
		assert.Equal(t, ex.Edges[i-1].Seq+1, ex.Edges[i].Seq)
	}
}

func TestBacktrack_LaggingScreenIsAwaited(t *testing.T) {
	h := newHarness(t, scenarioApp(), mock.Config{}, menuConfig(scenarioPackage))
	h.device.SetBackLag(3)

	sum, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 9, h.rec.extractions)
}

func TestBacktrack_NeverReachedInterruptsOnce(t *testing.T) {
	cfg := menuConfig(scenarioPackage)
	cfg.BacktrackRetries = 4
	h := newHarness(t, scenarioApp(), mock.Config{}, cfg)
	h.device.BreakBack("Home")

	captures := 0
	interrupted := 0
	var last Result
	for i := 0; i < 50; i++ {
		before := h.device.Captures
		last = h.orch.Step(context.Background())
		if last.Kind == ResultInterrupted {
			interrupted++
			captures = h.device.Captures - before
			break
		}
		require.Equal(t, ResultContinue, last.Kind)
	}
	require.Equal(t, 1, interrupted)
	assert.ErrorIs(t, last.Err, core.ErrModelInconsistency)
	assert.Equal(t, 4, captures, "polled BacktrackRetries times")

	executed := len(h.device.Executed)
	for i := 0; i < 3; i++ {
		assert.Equal(t, ResultDone, h.orch.Step(context.Background()).Kind)
	}
	assert.Len(t, h.device.Executed, executed, "no device action after the interruption")
}

func TestRecovery_RestartCeilingFallsBackToRandom(t *testing.T) {
	cfg := menuConfig(scenarioPackage)
	h := newHarness(t, scenarioApp(), mock.Config{CrashOnLaunch: true}, cfg)

	sum, err := Run(context.Background(), h.orch, 60)
	require.NoError(t, err)
	assert.Equal(t, 60, sum.Steps, "fallback keeps issuing actions")
	assert.Equal(t, cfg.MaxRestarts+1, h.device.Launches)
	assert.Contains(t, h.rec.recoveries, RecoveryFallback)
	assert.Contains(t, h.rec.recoveries, RecoveryWait)

	st := h.orch.Status()
	assert.True(t, st.Fallback)
	assert.Equal(t, core.PhaseRecovering.String(), st.Phase)
}

func TestRecovery_StopsAfterTooLongOutside(t *testing.T) {
	app := &mock.App{
		Package: scenarioPackage,
		Home:    "Home",
		Screens: []*mock.Screen{
			{Name: "Home", Buttons: []mock.Button{{ID: "share", Text: "Share", Target: mock.TargetExit}}},
		},
	}
	cfg := testConfig(scenarioPackage)
	cfg.MaxStepsOutside = 2
	h := newHarness(t, app, mock.Config{}, cfg)

	_, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.device.Terminates)
	assert.Equal(t, 2, h.device.Launches)
	assert.Equal(t, []string{
		RecoveryLaunch, RecoveryBack, RecoveryBack, RecoveryStop, RecoveryLaunch,
	}, h.rec.recoveries)
}

func TestSingleRoot_ExploresOnceThenDone(t *testing.T) {
	app := &mock.App{
		Package: scenarioPackage,
		Home:    "Root",
		Screens: []*mock.Screen{
			{Name: "Root", Buttons: []mock.Button{
				{ID: "x", Text: "X", Target: "X"},
				{ID: "y", Text: "Y", Target: "Y"},
			}},
			{Name: "X"},
			{Name: "Y"},
		},
	}
	h := newHarness(t, app, mock.Config{}, testConfig(scenarioPackage))

	sum, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, h.rec.extractions)
	assert.Equal(t, 2, countActions(h.device.Executed, isBack), "the root is never backed out of")
	assert.Equal(t, 5, sum.Steps)
	assert.Equal(t, "Root", h.device.Current())
}

func TestRevisit_TapBackToRootResumesFrontier(t *testing.T) {
	app := &mock.App{
		Package: scenarioPackage,
		Home:    "Root",
		Screens: []*mock.Screen{
			{Name: "Root", Buttons: []mock.Button{{ID: "open_a", Text: "A", Target: "A"}}},
			{Name: "A", Buttons: []mock.Button{
				{ID: "close", Text: "Close", Target: mock.TargetBack},
				{ID: "open_x", Text: "X", Target: "X"},
			}},
			{Name: "X"},
		},
	}
	h := newHarness(t, app, mock.Config{}, testConfig(scenarioPackage))

	sum, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)

	executed := h.device.Executed
	assert.Equal(t, 3, h.rec.extractions, "Root, A and X are discovered")
	assert.Equal(t, 1, countActions(executed, tapsOn("open_x")))
	assert.Equal(t, 2, countActions(executed, tapsOn("open_a")), "A is reopened to reach its pending sibling")
	assert.Equal(t, 2, countActions(executed, isBack), "back from X and from A, never from the root")
	assert.Equal(t, 1, h.device.Launches)
	assert.Equal(t, 7, sum.Steps)
	assert.Equal(t, "Root", h.device.Current())
}

func TestRevisit_CrossLinkReturnsToOrigin(t *testing.T) {
	app := &mock.App{
		Package: scenarioPackage,
		Home:    "Root",
		Screens: []*mock.Screen{
			{Name: "Root", Buttons: []mock.Button{
				{ID: "open_a", Text: "A", Target: "A"},
				{ID: "open_b", Text: "B", Target: "B"},
			}},
			{Name: "A"},
			{Name: "B", Buttons: []mock.Button{{ID: "link_a", Text: "See A", Target: "A"}}},
		},
	}
	h := newHarness(t, app, mock.Config{}, testConfig(scenarioPackage))

	sum, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)

	executed := h.device.Executed
	assert.Equal(t, 3, h.rec.extractions, "A is not rediscovered through the link")
	assert.Equal(t, 1, countActions(executed, tapsOn("link_a")))
	assert.Equal(t, 3, countActions(executed, isBack))
	assert.Equal(t, 7, sum.Steps)
	assert.Equal(t, "Root", h.device.Current())

	var linked bool
	for _, e := range h.graph.Export().Edges {
		if strings.Contains(e.ActionKey, ":id/link_a|") {
			linked = true
		}
	}
	assert.True(t, linked, "the cross link is recorded")
}

func TestMenu_ExcludedEntriesAreSkipped(t *testing.T) {
	cfg := menuConfig(scenarioPackage)
	cfg.MenuExclude = []string{"beta"}
	h := newHarness(t, scenarioApp(), mock.Config{}, cfg)

	_, err := Run(context.Background(), h.orch, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, h.rec.extractions)
	assert.Zero(t, countActions(h.device.Executed, tapsOn("entry_beta")))
}

func TestMenu_NotFoundEndsRun(t *testing.T) {
	cfg := menuConfig(scenarioPackage)
	cfg.MenuControl = "missing"
	cfg.MenuSearchLimit = 2
	h := newHarness(t, scenarioApp(), mock.Config{}, cfg)

	sum, err := Run(context.Background(), h.orch, 100)
	require.NoError(t, err)
	assert.Zero(t, h.rec.extractions)
	assert.Less(t, sum.Steps, 100)
	assert.Equal(t, core.PhaseDone, h.orch.Phase())
}

func TestStep_CancelledContext(t *testing.T) {
	h := newHarness(t, scenarioApp(), mock.Config{}, menuConfig(scenarioPackage))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Step(ctx)
	assert.Equal(t, ResultDone, res.Kind)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, h.device.Executed)
}

func TestRun_StepBudget(t *testing.T) {
	h := newHarness(t, scenarioApp(), mock.Config{}, menuConfig(scenarioPackage))

	sum, err := Run(context.Background(), h.orch, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Steps)
	assert.NotEqual(t, core.PhaseDone, h.orch.Phase())
	assert.Equal(t, h.orch.RunID(), sum.RunID)
}

func TestSupervisor_RestartsAfterInterruption(t *testing.T) {
	device := mock.New(scenarioApp(), mock.Config{})
	device.BreakBack("Home")
	g := graph.New()
	calls := 0
	cfg := menuConfig(scenarioPackage)
	cfg.BacktrackRetries = 2
	cfg.MaxRuns = 2

	s := NewSupervisor(device, g, extract.New(buttonOracle(&calls)), cfg, nil)
	_, ok := s.Status()
	assert.False(t, ok)

	runs, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.True(t, r.Interrupted)
		assert.ErrorIs(t, r.Err, core.ErrModelInconsistency)
	}
	assert.NotEqual(t, runs[0].RunID, runs[1].RunID)
	assert.Equal(t, 1, device.Terminates)
	assert.Equal(t, 1, countActions(device.Executed, tapsOn("entry_alpha")), "explored entries are inherited")
	assert.Equal(t, 1, countActions(device.Executed, tapsOn("entry_beta")))

	st, ok := s.Status()
	require.True(t, ok)
	assert.Equal(t, runs[1].RunID, st.RunID)
	assert.Same(t, g, s.Graph())
}

func TestEntryFilter(t *testing.T) {
	candidate := func(label, id string) extract.Candidate {
		c := extract.Candidate{Label: label}
		c.Element.ResourceID = "com.example:id/" + id
		return c
	}

	all, err := NewEntryFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, all.Match(candidate("Anything", "x")))

	f, err := NewEntryFilter([]string{"nav_*", "Settings"}, []string{"nav_ads*"})
	require.NoError(t, err)
	assert.True(t, f.Match(candidate("Feed", "nav_feed")))
	assert.True(t, f.Match(candidate("settings", "row")))
	assert.False(t, f.Match(candidate("Sponsored", "nav_ads_top")))
	assert.False(t, f.Match(candidate("Help", "help")))

	_, err = NewEntryFilter(nil, []string{"[a-"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEventTrace(t *testing.T) {
	tr := newEventTrace(3)
	assert.Equal(t, traceFlag(0), tr.last())
	assert.False(t, tr.endsWith(flagStart))

	tr.push(flagExplore)
	tr.push(flagStart)
	assert.True(t, tr.endsWith(flagStart))
	tr.push(flagStop)
	assert.True(t, tr.endsWith(flagStart, flagStop))
	assert.False(t, tr.endsWith(flagStart))

	tr.push(flagStart)
	assert.Len(t, tr.buf, 3)
	assert.True(t, tr.endsWith(flagStart, flagStop, flagStart))
	assert.False(t, tr.endsWith(flagExplore, flagStart, flagStop, flagStart))
}

func TestResultKindString(t *testing.T) {
	assert.Equal(t, "continue", ResultContinue.String())
	assert.Equal(t, "done", ResultDone.String())
	assert.Equal(t, "interrupted", ResultInterrupted.String())
	assert.Equal(t, "unknown", ResultKind(9).String())
}
