package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/devicelab-dev/app-explorer/pkg/core"
	"github.com/devicelab-dev/app-explorer/pkg/llm"
)

// LLMOracle is an Oracle backed by a language model. Malformed replies are
// re-requested up to maxRetries times.
type LLMOracle struct {
	client     llm.Client
	maxRetries int
	logger     *zap.Logger
}

// NewLLMOracle wraps client.
func NewLLMOracle(client llm.Client, maxRetries int, logger *zap.Logger) *LLMOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LLMOracle{client: client, maxRetries: maxRetries, logger: logger.Named("oracle")}
}

// Summarize asks the model about a rendered listing.
func (o *LLMOracle) Summarize(ctx context.Context, rendered string) (Reply, error) {
	req := llm.Request{UserPrompt: Prompt(rendered), JSON: true}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		raw, err := o.client.Generate(ctx, req)
		if err != nil {
			return Reply{}, core.ErrOracleUnavailable.WithCause(err)
		}
		reply, err := ParseReply(raw)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		o.logger.Warn("Malformed oracle reply",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return Reply{}, lastErr
}

var (
	buttonLine = regexp.MustCompile(`^<button id=(\d+)[^>]*?( disabled)?>`)
	textLine   = regexp.MustCompile(`^<p id=\d+[^>]*>(.+)</p>$`)
)

// HeuristicOracle proposes every enabled button of a listing and uses the
// first text line as the screen summary. It needs no model and suits the
// mock driver and offline runs.
type HeuristicOracle struct{}

// Summarize implements Oracle.
func (HeuristicOracle) Summarize(_ context.Context, rendered string) (Reply, error) {
	var reply Reply
	for _, line := range strings.Split(rendered, "\n") {
		if m := buttonLine.FindStringSubmatch(line); m != nil {
			if m[2] != "" {
				continue
			}
			id, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			reply.CandidateIDs = append(reply.CandidateIDs, id)
			continue
		}
		if reply.Summary == "" {
			if m := textLine.FindStringSubmatch(line); m != nil {
				reply.Summary = strings.ReplaceAll(m[1], "<br>", " ")
			}
		}
	}
	return reply, nil
}
