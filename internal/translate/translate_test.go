package translate

import (
	"context"
	"strings"
	"testing"

	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

type stubProvider struct {
	response string
	err      error
	calls    int
	lastReq  llm.Request
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	s.calls++
	s.lastReq = req
	return s.response, s.err
}

func TestApplyRewritesFieldsInPlace(t *testing.T) {
	stub := &stubProvider{
		response: `{"translations": ["नाम", "विवरण", "परिणाम"]}`,
	}
	tr := New(stub, nil)

	a := &sahayak.Activity{Name: "Counting game", Description: "A counting game", LearningOutcome: "Counting"}
	n := tr.Apply(context.Background(), "hi", a)

	if n != 3 {
		t.Fatalf("translated %d fields, want 3", n)
	}
	if a.Name != "नाम" || a.Description != "विवरण" || a.LearningOutcome != "परिणाम" {
		t.Errorf("fields not rewritten: %+v", a)
	}
	if stub.calls != 1 {
		t.Errorf("expected one batched call, got %d", stub.calls)
	}
	if !strings.Contains(stub.lastReq.System, "Hindi") {
		t.Errorf("prompt should name the target language, got %q", stub.lastReq.System)
	}
}

func TestApplySkipsEmptyFields(t *testing.T) {
	stub := &stubProvider{response: `{"translations": ["शीर्षक"]}`}
	tr := New(stub, nil)

	a := &sahayak.Activity{Name: "Title"}
	n := tr.Apply(context.Background(), "hi", a)

	if n != 1 {
		t.Fatalf("translated %d fields, want 1", n)
	}
	if a.Description != "" {
		t.Errorf("empty field should stay empty, got %q", a.Description)
	}
}

func TestApplyFallsBackToEnglishOnModelFailure(t *testing.T) {
	stub := &stubProvider{err: llm.ErrUnavailable}
	tr := New(stub, nil)

	a := &sahayak.Activity{Name: "Counting game", Description: "desc", LearningOutcome: "out"}
	n := tr.Apply(context.Background(), "ta", a)

	if n != 0 {
		t.Fatalf("expected 0 translated fields on failure, got %d", n)
	}
	if a.Name != "Counting game" {
		t.Errorf("English original must survive failure, got %q", a.Name)
	}
}

func TestApplyFallsBackOnCountMismatch(t *testing.T) {
	stub := &stubProvider{response: `{"translations": ["only one"]}`}
	tr := New(stub, nil)

	a := &sahayak.Activity{Name: "a", Description: "b", LearningOutcome: "c"}
	if n := tr.Apply(context.Background(), "te", a); n != 0 {
		t.Fatalf("mismatched batch must be discarded, translated %d", n)
	}
}

func TestApplyIgnoresEnglishAndUnknownLanguages(t *testing.T) {
	stub := &stubProvider{response: `{"translations": ["x"]}`}
	tr := New(stub, nil)
	a := &sahayak.Activity{Name: "a"}

	if n := tr.Apply(context.Background(), "en", a); n != 0 || stub.calls != 0 {
		t.Errorf("en must be a no-op")
	}
	if n := tr.Apply(context.Background(), "xx", a); n != 0 || stub.calls != 0 {
		t.Errorf("unknown language must be a no-op")
	}
}

func TestApplyMalformedJSONFallsBack(t *testing.T) {
	stub := &stubProvider{response: "sorry, I cannot help with that"}
	tr := New(stub, nil)
	a := &sahayak.Activity{Name: "a"}

	if n := tr.Apply(context.Background(), "hi", a); n != 0 {
		t.Fatalf("unparseable batch must be discarded, translated %d", n)
	}
	if a.Name != "a" {
		t.Errorf("original must survive, got %q", a.Name)
	}
}
