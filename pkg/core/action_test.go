package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_StructuralEquality(t *testing.T) {
	a := Tap("android.widget.Button|com.app:id/ok|OK|")
	b := Tap("android.widget.Button|com.app:id/ok|OK|")

	assert.Equal(t, a, b)
	assert.True(t, a == b, "same logical tap must compare equal")
	assert.NotEqual(t, a, Tap("android.widget.Button|com.app:id/cancel|Cancel|"))
	assert.NotEqual(t, Scroll("list", DirectionDown), Scroll("list", DirectionUp))

	seen := map[Action]bool{a: true}
	assert.True(t, seen[b])
}

func TestAction_IsBack(t *testing.T) {
	assert.True(t, Back().IsBack())
	assert.True(t, Key("BACK").IsBack())
	assert.False(t, Key("home").IsBack())
	assert.False(t, Tap("back").IsBack())
}

func TestAction_KeyRoundTrip(t *testing.T) {
	actions := []Action{
		Tap("android.widget.TextView|com.app:id/title|Travel|"),
		Scroll("androidx.recyclerview.widget.RecyclerView|com.app:id/list||", DirectionDown),
		Back(),
		Key("enter"),
		Launch("com.example.app"),
		Terminate("com.example.app"),
		Manual(),
	}

	for _, a := range actions {
		t.Run(a.CanonicalKey(), func(t *testing.T) {
			parsed, err := ParseActionKey(a.CanonicalKey())
			require.NoError(t, err)
			assert.Equal(t, a, parsed)
		})
	}
}

func TestParseActionKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "tap", "swipe:left", "scroll:down"} {
		_, err := ParseActionKey(s)
		assert.Error(t, err, "key %q", s)
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, `tap "Settings"`, Tap("android.widget.Button|com.app:id/settings|Settings|").String())
	assert.Equal(t, `tap "Open menu"`, Tap("android.widget.ImageView|||Open menu").String())
	assert.Equal(t, "tap com.app:id/icon", Tap("android.widget.ImageView|com.app:id/icon||").String())
	assert.Equal(t, "scroll down com.app:id/list", Scroll("android.widget.ListView|com.app:id/list||", DirectionDown).String())
	assert.Equal(t, "press back", Back().String())
	assert.Equal(t, "launch com.example", Launch("com.example").String())
	assert.Equal(t, "stop com.example", Terminate("com.example").String())
	assert.Equal(t, "wait", Manual().String())
}

func TestDirection_Reverse(t *testing.T) {
	assert.Equal(t, DirectionUp, DirectionDown.Reverse())
	assert.Equal(t, DirectionDown, DirectionUp.Reverse())
	assert.Equal(t, DirectionRight, DirectionLeft.Reverse())
	assert.Equal(t, DirectionLeft, DirectionRight.Reverse())
}

func TestActionKind_String(t *testing.T) {
	assert.Equal(t, "tap", ActionTap.String())
	assert.Equal(t, "terminate", ActionTerminate.String())
	assert.Equal(t, "unknown", ActionKind(42).String())
}
