package core

import (
	"fmt"
	"strings"
)

// ActionKind is the discriminator of an Action.
type ActionKind int

const (
	ActionManual    ActionKind = iota // No-op, used to wait a step
	ActionTap                         // Tap an element by signature
	ActionScroll                      // Scroll a container in a direction
	ActionKey                         // Press a named key (back, home, enter...)
	ActionLaunch                      // Launch the application under test
	ActionTerminate                   // Force-stop the application under test
)

// String returns the string representation of ActionKind
func (k ActionKind) String() string {
	switch k {
	case ActionManual:
		return "manual"
	case ActionTap:
		return "tap"
	case ActionScroll:
		return "scroll"
	case ActionKey:
		return "key"
	case ActionLaunch:
		return "launch"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Direction is a scroll direction.
type Direction string

// Scroll directions.
const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	case DirectionLeft:
		return DirectionRight
	case DirectionRight:
		return DirectionLeft
	default:
		return d
	}
}

// KeyBack is the key name for system back navigation.
const KeyBack = "back"

// Action describes one UI action. It is a comparable value: two actions
// with the same kind and payload are equal, whatever produced them.
//
// Only the fields relevant to Kind are set:
//
//	tap:       Target (element signature)
//	scroll:    Target (container signature), Direction
//	key:       Key
//	launch:    App
//	terminate: App
type Action struct {
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
	Key       string     `json:"key,omitempty"`
	App       string     `json:"app,omitempty"`
}

// Tap returns a tap on the element with the given signature.
func Tap(signature string) Action {
	return Action{Kind: ActionTap, Target: signature}
}

// Scroll returns a scroll of the container with the given signature.
func Scroll(container string, dir Direction) Action {
	return Action{Kind: ActionScroll, Target: container, Direction: dir}
}

// Key returns a key press.
func Key(name string) Action {
	return Action{Kind: ActionKey, Key: strings.ToLower(name)}
}

// Back returns the system back key press.
func Back() Action {
	return Key(KeyBack)
}

// Launch returns an app launch action.
func Launch(app string) Action {
	return Action{Kind: ActionLaunch, App: app}
}

// Terminate returns an app force-stop action.
func Terminate(app string) Action {
	return Action{Kind: ActionTerminate, App: app}
}

// Manual returns the no-op action.
func Manual() Action {
	return Action{Kind: ActionManual}
}

// IsBack reports whether the action is a back navigation.
func (a Action) IsBack() bool {
	return a.Kind == ActionKey && a.Key == KeyBack
}

// CanonicalKey returns the canonical string form of the action, suitable as a map
// key or for storage. ParseActionKey reverses it.
func (a Action) CanonicalKey() string {
	switch a.Kind {
	case ActionTap:
		return "tap:" + a.Target
	case ActionScroll:
		return "scroll:" + string(a.Direction) + ":" + a.Target
	case ActionKey:
		return "key:" + a.Key
	case ActionLaunch:
		return "launch:" + a.App
	case ActionTerminate:
		return "terminate:" + a.App
	default:
		return "manual"
	}
}

// String returns a short human description.
func (a Action) String() string {
	switch a.Kind {
	case ActionTap:
		return "tap " + DescribeSignature(a.Target)
	case ActionScroll:
		return fmt.Sprintf("scroll %s %s", a.Direction, DescribeSignature(a.Target))
	case ActionKey:
		return "press " + a.Key
	case ActionLaunch:
		return "launch " + a.App
	case ActionTerminate:
		return "stop " + a.App
	default:
		return "wait"
	}
}

// ParseActionKey parses the output of Action.CanonicalKey.
func ParseActionKey(s string) (Action, error) {
	if s == "manual" {
		return Manual(), nil
	}
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Action{}, fmt.Errorf("invalid action key %q", s)
	}
	switch kind {
	case "tap":
		return Tap(rest), nil
	case "scroll":
		dir, target, ok := strings.Cut(rest, ":")
		if !ok {
			return Action{}, fmt.Errorf("invalid scroll action key %q", s)
		}
		return Scroll(target, Direction(dir)), nil
	case "key":
		return Key(rest), nil
	case "launch":
		return Launch(rest), nil
	case "terminate":
		return Terminate(rest), nil
	default:
		return Action{}, fmt.Errorf("unknown action kind %q", kind)
	}
}

// DescribeSignature shortens an element signature for display: the text or
// content description when present, otherwise the resource id, otherwise the
// class name.
func DescribeSignature(sig string) string {
	parts := strings.Split(sig, "|")
	if len(parts) != 4 {
		return sig
	}
	class, id, text, desc := parts[0], parts[1], parts[2], parts[3]
	switch {
	case text != "":
		return fmt.Sprintf("%q", text)
	case desc != "":
		return fmt.Sprintf("%q", desc)
	case id != "":
		return id
	default:
		return class
	}
}
