package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/parley/internal/chat"
	"github.com/linnemanlabs/parley/internal/llm"
)

type stubRetriever struct {
	ret *Retrieval
	err error
}

func (s *stubRetriever) Retrieve(context.Context, string) (*Retrieval, error) {
	return s.ret, s.err
}

type stubProvider struct {
	resp    *llm.Response
	err     error
	lastReq *llm.Request
}

func (s *stubProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.lastReq = req
	return s.resp, s.err
}

func TestEngineAnswer_ContextInSystemPrompt(t *testing.T) {
	t.Parallel()

	retriever := &stubRetriever{ret: &Retrieval{
		Documents: []string{"we open at 9am", "closed on sundays"},
		Sources:   []string{"hours.md", "hours.md"},
	}}
	provider := &stubProvider{resp: &llm.Response{Text: "We open at 9am.", InputTokens: 40, OutputTokens: 8}}

	eng := NewEngine(retriever, provider, nil, Options{})

	ans, err := eng.Answer(context.Background(), "when do you open?", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if !strings.Contains(provider.lastReq.System, "we open at 9am") {
		t.Errorf("system prompt missing retrieved passage: %q", provider.lastReq.System)
	}
	if strings.Contains(provider.lastReq.System, "{context}") {
		t.Error("placeholder not replaced in system prompt")
	}
	if ans.Text != "We open at 9am." {
		t.Errorf("Text = %q", ans.Text)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "hours.md" {
		t.Errorf("Sources = %v, want deduped [hours.md]", ans.Sources)
	}
	if ans.InputTokens != 40 || ans.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d, want 40/8", ans.InputTokens, ans.OutputTokens)
	}
}

func TestEngineAnswer_HistoryAndQueryOrder(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{resp: &llm.Response{Text: "ok"}}
	eng := NewEngine(nil, provider, nil, Options{})

	history := []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	if _, err := eng.Answer(context.Background(), "follow-up", history); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	got := provider.lastReq.Messages
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3", len(got))
	}
	last := got[len(got)-1]
	if last.Role != "user" || last.Content != "follow-up" {
		t.Errorf("final turn = %+v, want user/follow-up", last)
	}
}

func TestEngineAnswer_ResponsePrefix(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{resp: &llm.Response{Text: "answer"}}
	eng := NewEngine(nil, provider, nil, Options{ResponsePrefix: "— automated reply"})

	ans, err := eng.Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.HasSuffix(ans.Text, "— automated reply") {
		t.Errorf("Text = %q, want prefix appended", ans.Text)
	}
}

func TestEngineAnswer_RetrieverError(t *testing.T) {
	t.Parallel()

	retriever := &stubRetriever{err: errors.New("index down")}
	eng := NewEngine(retriever, &stubProvider{}, nil, Options{})

	_, err := eng.Answer(context.Background(), "q", nil)
	if !errors.Is(err, chat.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestEngineAnswer_ProviderError(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: errors.New("rate limited")}
	eng := NewEngine(nil, provider, nil, Options{})

	_, err := eng.Answer(context.Background(), "q", nil)
	if !errors.Is(err, chat.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}
