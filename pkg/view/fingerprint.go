package view

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"
)

// FingerprintPrefix marks fingerprint strings.
const FingerprintPrefix = "fp_"

// FingerprintOptions configures which parts of a capture are volatile.
type FingerprintOptions struct {
	// FilteredClasses drops nodes of these classes and their subtrees
	// (e.g. ad containers, web views with live content).
	FilteredClasses []string `mapstructure:"filtered_classes" yaml:"filtered_classes"`

	// VolatileIDs are doublestar patterns matched against resource ids;
	// matching nodes and their subtrees are dropped.
	VolatileIDs []string `mapstructure:"volatile_ids" yaml:"volatile_ids"`

	// IgnoreActivity leaves the foreground activity out of the basis.
	IgnoreActivity bool `mapstructure:"ignore_activity" yaml:"ignore_activity"`
}

// Fingerprinter computes screen fingerprints. It is immutable after
// construction, so the fingerprint of a tree never depends on anything but
// the tree.
type Fingerprinter struct {
	filtered map[string]bool
	volatile []string
	noAct    bool
}

// NewFingerprinter validates opts and returns a Fingerprinter.
func NewFingerprinter(opts FingerprintOptions) (*Fingerprinter, error) {
	for _, p := range opts.VolatileIDs {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid volatile id pattern %q", p)
		}
	}
	f := &Fingerprinter{
		filtered: make(map[string]bool, len(opts.FilteredClasses)),
		volatile: append([]string(nil), opts.VolatileIDs...),
		noAct:    opts.IgnoreActivity,
	}
	for _, c := range opts.FilteredClasses {
		f.filtered[c] = true
	}
	return f, nil
}

// Fingerprint hashes the structural basis of t: activity, then depth,
// class and resource id of every kept node in pre-order. Text, content
// descriptions, bounds and selection state are volatile and excluded.
func (f *Fingerprinter) Fingerprint(t *Tree) string {
	hasher := blake3.New(32, nil)
	_, _ = hasher.Write([]byte(f.Basis(t)))
	sum := hasher.Sum(nil)
	return FingerprintPrefix + hex.EncodeToString(sum[:16])
}

// Basis returns the canonical text the fingerprint is computed from.
func (f *Fingerprinter) Basis(t *Tree) string {
	var sb strings.Builder
	if t == nil {
		return ""
	}
	if !f.noAct {
		sb.WriteString(t.Activity)
		sb.WriteByte('\n')
	}
	t.Walk(-1, func(_ int, n *Node) bool {
		if f.filtered[n.Class] || f.isVolatile(n.ResourceID) {
			return false
		}
		sb.WriteString(strconv.Itoa(n.Depth))
		sb.WriteByte(' ')
		sb.WriteString(n.Class)
		sb.WriteByte(' ')
		sb.WriteString(n.ResourceID)
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}

func (f *Fingerprinter) isVolatile(id string) bool {
	if id == "" {
		return false
	}
	for _, p := range f.volatile {
		if ok, _ := doublestar.Match(p, id); ok {
			return true
		}
	}
	return false
}

var defaultFingerprinter = &Fingerprinter{filtered: map[string]bool{}}

// Fingerprint computes the fingerprint of t with no volatile patterns.
func Fingerprint(t *Tree) string {
	return defaultFingerprinter.Fingerprint(t)
}
