package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/llm"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

func settingsTree() *view.Tree {
	t := &view.Tree{Activity: ".Settings"}
	root := t.Add(-1, view.Node{Class: "android.widget.FrameLayout"})
	t.Add(root, view.Node{Class: "android.widget.TextView", ResourceID: "com.app:id/title", Text: "Settings"})
	list := t.Add(root, view.Node{Class: "androidx.recyclerview.widget.RecyclerView", ResourceID: "com.app:id/list", Scrollable: true})
	row := t.Add(list, view.Node{Class: "android.widget.LinearLayout", ResourceID: "com.app:id/row", Clickable: true})
	t.Add(row, view.Node{Class: "android.widget.TextView", Text: "Account"})
	t.Add(row, view.Node{Class: "android.widget.TextView", Text: "Signed in"})
	t.Add(list, view.Node{Class: "android.widget.Switch", ResourceID: "com.app:id/wifi", Text: "Wi-Fi", Clickable: true, Checkable: true, Checked: true})
	t.Add(root, view.Node{Class: "android.widget.EditText", ResourceID: "com.app:id/search", Editable: true, Hint: "Search settings"})
	t.Add(root, view.Node{Class: "android.widget.ImageButton", ResourceID: "com.app:id/more", ContentDesc: "More options", Clickable: true})
	t.Add(root, view.Node{Class: "android.widget.Button", ResourceID: "com.app:id/reset", Text: "Reset", Clickable: true, Disabled: true})
	t.Add(root, view.Node{Class: "android.widget.TextView", ResourceID: "com.app:id/clock", Text: "12:01"})
	return t
}

func TestCandidates_Listing(t *testing.T) {
	listing := Candidates(settingsTree().Elements(-1))

	g := goldie.New(t)
	g.Assert(t, "settings_listing", []byte(listing.String()))
}

func TestListing_Buttons(t *testing.T) {
	listing := Candidates(settingsTree().Elements(-1))

	buttons := listing.Buttons()
	require.Len(t, buttons, 2)
	assert.Equal(t, 2, buttons[0].ID)
	assert.Equal(t, "Account\nSigned in", buttons[0].Label)
	assert.Equal(t, 5, buttons[1].ID)
	assert.Equal(t, "More options", buttons[1].Label)

	actions := listing.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, core.ActionTap, actions[1].Kind)
	assert.Equal(t, view.Signature("android.widget.ImageButton", "com.app:id/more", "", "More options"), actions[1].Target)
}

func TestLabelAndShortID(t *testing.T) {
	assert.Equal(t, "settings", ShortID("com.app:id/settings"))
	assert.Equal(t, "plain", ShortID("plain"))
	assert.Equal(t, "Go", Label(view.Element{Text: "Go", ContentDesc: "x"}))
	assert.Equal(t, "x", Label(view.Element{ContentDesc: "x", ResourceID: "a:id/b"}))
	assert.Equal(t, "b", Label(view.Element{ResourceID: "a:id/b", Class: "C"}))
	assert.Equal(t, "C", Label(view.Element{Class: "C"}))
}

func TestPrompt_ContainsListingAndContract(t *testing.T) {
	p := Prompt("<button id=0>Go</button>")
	assert.Contains(t, p, "Current UI state:\n<button id=0>Go</button>")
	assert.Contains(t, p, `"NavigationElements"`)
	assert.Contains(t, p, "Only include <button> elements")
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Reply
		wantErr bool
	}{
		{
			name: "numbers and strings",
			raw:  `{"Summary":"Settings page","SubFunctions":{"Exist":"Yes","Description":"Account, Wi-Fi","NavigationElements":[2,"5"," 7 ","id=9"]}}`,
			want: Reply{Summary: "Settings page", Description: "Account, Wi-Fi", CandidateIDs: []int{2, 5, 7, 9}},
		},
		{
			name: "code fence and prose",
			raw:  "Here you go:\n```json\n{\"Summary\": \"Home\", \"SubFunctions\": {\"Exist\": \"Yes\", \"NavigationElements\": [1]}}\n```",
			want: Reply{Summary: "Home", CandidateIDs: []int{1}},
		},
		{
			name: "no sub-functions",
			raw:  `{"Summary":"Detail","SubFunctions":{"Exist":"No","Description":"","NavigationElements":[3]}}`,
			want: Reply{Summary: "Detail"},
		},
		{
			name: "boolean exist and junk ids",
			raw:  `{"Summary":"x","SubFunctions":{"Exist":true,"NavigationElements":[1.5,-2,"abc",null,{"id":1},4]}}`,
			want: Reply{Summary: "x", CandidateIDs: []int{4}},
		},
		{
			name: "summary only",
			raw:  `{"Summary":"  Login  "}`,
			want: Reply{Summary: "Login"},
		},
		{name: "not json", raw: "I cannot help with that", wantErr: true},
		{name: "broken json", raw: `{"Summary": "x", `, wantErr: true},
		{name: "unrelated object", raw: `{"answer": 42}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrOracleMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func fixedOracle(reply Reply, err error) (Oracle, *int) {
	calls := 0
	return OracleFunc(func(context.Context, string) (Reply, error) {
		calls++
		return reply, err
	}), &calls
}

func TestExtractor_ValidatesOracleIDs(t *testing.T) {
	oracle, _ := fixedOracle(Reply{
		Summary:      "Settings",
		CandidateIDs: []int{5, 2, 2, 99, 3, 6, 0},
	}, nil)
	tree := settingsTree()

	res := New(oracle).Extract(context.Background(), tree, nil)
	assert.Equal(t, "Settings", res.Summary)
	require.Len(t, res.Actions, 2, "unknown, duplicate, disabled, text and checkbox ids are dropped")
	assert.Equal(t, 5, res.Chosen[0].ID)
	assert.Equal(t, 2, res.Chosen[1].ID)

	res = New(oracle, WithStrictFilters(false)).Extract(context.Background(), tree, nil)
	require.Len(t, res.Actions, 3, "checkbox kept without strict filters")
	assert.Equal(t, 3, res.Chosen[2].ID)
}

func TestExtractor_StrictFilters(t *testing.T) {
	button := func(text string) view.Element {
		return view.Element{Class: "Button", Text: text, Clickable: true, Enabled: true, Signature: "Button|||" + text}
	}
	elements := []view.Element{
		button("Profile"),
		button("Search"),
		button("Order 1902993047"),
		button("a\nb\nc\nd"),
		button(strings.Repeat("long description ", 5)),
		button("Help"),
	}
	oracle, _ := fixedOracle(Reply{Summary: "s", CandidateIDs: []int{0, 1, 2, 3, 4, 5}}, nil)

	res := New(oracle).Extract(context.Background(), nil, elements)
	require.Len(t, res.Chosen, 2)
	assert.Equal(t, "Profile", res.Chosen[0].Label)
	assert.Equal(t, "Help", res.Chosen[1].Label)

	res = New(oracle, WithPrimaryFlow(nil), WithDescriptiveLimit(200)).Extract(context.Background(), nil, elements)
	assert.Len(t, res.Chosen, 4, "Search and the long description pass with relaxed rules")
}

func TestExtractor_OracleFailureIsEmptyResult(t *testing.T) {
	oracle, _ := fixedOracle(Reply{}, core.ErrOracleMalformed)
	res := New(oracle).Extract(context.Background(), settingsTree(), nil)
	assert.True(t, res.Empty())
	assert.Empty(t, res.Actions)
}

func TestExtractor_EmptyScreenSkipsOracle(t *testing.T) {
	oracle, calls := fixedOracle(Reply{Summary: "x"}, nil)
	tree := &view.Tree{}
	tree.Add(-1, view.Node{Class: "android.widget.FrameLayout"})

	res := New(oracle).Extract(context.Background(), tree, nil)
	assert.True(t, res.Empty())
	assert.Equal(t, 0, *calls)
}

type scriptedLLM struct {
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.prompts = append(s.prompts, req.UserPrompt)
	if s.err != nil {
		return "", s.err
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r, nil
}

func TestLLMOracle_RetriesMalformedReplies(t *testing.T) {
	client := &scriptedLLM{replies: []string{"nope", `{"Summary":"Home","SubFunctions":{"Exist":"Yes","NavigationElements":["0"]}}`}}
	o := NewLLMOracle(client, 2, nil)

	reply, err := o.Summarize(context.Background(), "<button id=0>Go</button>")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, reply.CandidateIDs)
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[0], "<button id=0>Go</button>")
}

func TestLLMOracle_GivesUpAfterRetries(t *testing.T) {
	client := &scriptedLLM{replies: []string{"still not json"}}
	o := NewLLMOracle(client, 1, nil)

	_, err := o.Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrOracleMalformed)
	assert.Len(t, client.prompts, 2)
}

func TestLLMOracle_TransportError(t *testing.T) {
	client := &scriptedLLM{err: errors.New("connection refused")}
	o := NewLLMOracle(client, 3, nil)

	_, err := o.Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrOracleUnavailable)
	assert.Len(t, client.prompts, 1, "transport retries belong to the llm client")
}

func TestHeuristicOracle(t *testing.T) {
	listing := Candidates(settingsTree().Elements(-1))

	reply, err := HeuristicOracle{}.Summarize(context.Background(), listing.String())
	require.NoError(t, err)
	assert.Equal(t, "Settings", reply.Summary)
	assert.Equal(t, []int{2, 5}, reply.CandidateIDs)

	res := New(HeuristicOracle{}).Extract(context.Background(), settingsTree(), nil)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "More options", res.Chosen[1].Label)
}
