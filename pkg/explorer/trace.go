package explorer

type traceFlag int

const (
	flagStart traceFlag = iota + 1
	flagStop
	flagExplore
)

// eventTrace is a bounded ring of recent lifecycle events.
type eventTrace struct {
	buf  []traceFlag
	size int
}

func newEventTrace(size int) *eventTrace {
	return &eventTrace{size: size}
}

func (t *eventTrace) push(f traceFlag) {
	t.buf = append(t.buf, f)
	if len(t.buf) > t.size {
		t.buf = t.buf[len(t.buf)-t.size:]
	}
}

func (t *eventTrace) last() traceFlag {
	if len(t.buf) == 0 {
		return 0
	}
	return t.buf[len(t.buf)-1]
}

// endsWith reports whether the most recent flags equal suffix.
func (t *eventTrace) endsWith(suffix ...traceFlag) bool {
	if len(suffix) > len(t.buf) {
		return false
	}
	off := len(t.buf) - len(suffix)
	for i, f := range suffix {
		if t.buf[off+i] != f {
			return false
		}
	}
	return true
}
