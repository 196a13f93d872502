package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/devicelab-dev/app-explorer/pkg/core"
)

// Reply is the oracle's answer for one screen.
type Reply struct {
	Summary      string
	Description  string
	CandidateIDs []int
}

type rawReply struct {
	Summary      *string `json:"Summary"`
	SubFunctions *struct {
		Exist              interface{}   `json:"Exist"`
		Description        string        `json:"Description"`
		NavigationElements []interface{} `json:"NavigationElements"`
	} `json:"SubFunctions"`
}

// ParseReply decodes an oracle reply. The JSON object may be wrapped in
// prose or a code fence. Element ids may be JSON numbers or strings;
// entries that are neither are skipped. A reply declaring no
// sub-functions yields no ids.
func ParseReply(raw string) (Reply, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return Reply{}, core.ErrOracleMalformed.WithMessage("oracle reply contains no JSON object")
	}

	var r rawReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return Reply{}, core.ErrOracleMalformed.WithCause(err)
	}
	if r.Summary == nil && r.SubFunctions == nil {
		return Reply{}, core.ErrOracleMalformed.WithMessage("oracle reply has neither Summary nor SubFunctions")
	}

	var out Reply
	if r.Summary != nil {
		out.Summary = strings.TrimSpace(*r.Summary)
	}
	if r.SubFunctions == nil {
		return out, nil
	}
	out.Description = strings.TrimSpace(r.SubFunctions.Description)
	if !existFlag(r.SubFunctions.Exist) {
		return out, nil
	}
	for _, v := range r.SubFunctions.NavigationElements {
		if id, ok := parseID(v); ok {
			out.CandidateIDs = append(out.CandidateIDs, id)
		}
	}
	return out, nil
}

// existFlag treats a missing flag as "yes" so that ids are not lost when a
// model omits it.
func existFlag(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return x
	case string:
		return !strings.EqualFold(strings.TrimSpace(x), "no")
	default:
		return true
	}
}

func parseID(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x < 0 || x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimPrefix(s, "id=")
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// String is used in logs.
func (r Reply) String() string {
	return fmt.Sprintf("summary=%q ids=%v", r.Summary, r.CandidateIDs)
}
