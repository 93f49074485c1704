package triage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/llm"
)

const assessSystemPrompt = "You are an expert evaluator assessing answer quality and confidence."

const assessInstruction = `Evaluate your confidence in the answer you just provided on a scale of 0-100%.
Consider these factors:
1. How directly the retrieved documents address the query
2. Whether the information is complete or partial
3. If there are contradictions in the sources
4. How specific vs. general your answer is

First explain your reasoning, then output only a number between 0-100 on the final line.`

const assessTemperature = 0.1

var scoreRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// Assessment is the model's self-judgment of a drafted reply.
type Assessment struct {
	// Score is the confidence in [0, 100]. An unparseable reply scores 0 so
	// it can never slip past the auto-send gate.
	Score        float64
	Rationale    string
	InputTokens  int
	OutputTokens int
}

// Assessor asks the model to score its own drafted reply. The score gates
// auto-send versus manual review.
type Assessor struct {
	provider llm.Provider
	logger   log.Logger
}

// NewAssessor creates an assessor on the given provider.
func NewAssessor(provider llm.Provider, logger log.Logger) *Assessor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Assessor{provider: provider, logger: logger}
}

// Assess scores how safe the drafted answer is to send unreviewed, given the
// customer query and the retrieved context the draft was grounded on.
func (a *Assessor) Assess(ctx context.Context, query, docContext, answer string) (*Assessment, error) {
	prompt := fmt.Sprintf("QUERY: %s\n\nCONTEXT USED: %s\n\nGENERATED ANSWER: %s\n\n%s",
		query, docContext, answer, assessInstruction)

	resp, err := a.provider.Complete(ctx, &llm.Request{
		System:      assessSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   512,
		Temperature: assessTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: assess: %w", chat.ErrUpstream, err)
	}

	score, ok := parseScore(resp.Text)
	if !ok {
		a.logger.Warn(ctx, "unparseable confidence reply, scoring 0", "reply_len", len(resp.Text))
	}

	return &Assessment{
		Score:        score,
		Rationale:    resp.Text,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// parseScore extracts the confidence number from the model reply. Parsing is
// deliberately lenient: the first number found anywhere in the text wins, so
// a reply that ignores the final-line instruction still parses. Clamped to
// [0, 100]; a reply with no number at all scores 0.
func parseScore(reply string) (float64, bool) {
	m := scoreRe.FindString(reply)
	if m == "" {
		return 0, false
	}
	score, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return clamp(score, 0, 100), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
