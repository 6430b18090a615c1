// Package translate implements the response half of the language
// front-end: field-by-field translation of a tool result back into
// the caller's detected language. Detection itself lives in
// langdetect; this package only runs when the detected language is
// not English and the result carries translatable fields.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/internal/jsonx"
	"github.com/sahayak-ai/sahayak/internal/llm"
	"github.com/sahayak-ai/sahayak/internal/observability"
)

// languageNames maps ISO 639-1 codes to the names the generative
// model is prompted with.
var languageNames = map[string]string{
	"hi": "Hindi",
	"bn": "Bengali",
	"pa": "Punjabi",
	"gu": "Gujarati",
	"or": "Odia",
	"ta": "Tamil",
	"te": "Telugu",
	"kn": "Kannada",
	"ml": "Malayalam",
	"si": "Sinhala",
	"ur": "Urdu",
}

// Translator rewrites a result's translatable fields into a target
// language via the generative model, one batched call per field set.
// Failure is non-fatal: fields that cannot be translated keep their
// English text, and the failure is logged.
type Translator struct {
	provider llm.Provider
	logger   *observability.Logger
}

// New builds a Translator over provider.
func New(provider llm.Provider, logger *observability.Logger) *Translator {
	return &Translator{provider: provider, logger: logger}
}

// Translatable is implemented by result payloads whose fields can be
// rewritten in place.
type Translatable interface {
	TranslatableFields() []*string
}

// batchResponse is the JSON contract for one translation call: the
// model returns the translated strings as a list in input order.
type batchResponse struct {
	Translations []string `json:"translations"`
}

// Apply translates every field of result into lang, in place. The
// empty language and "en" are no-ops. Returns the number of fields
// actually rewritten.
func (t *Translator) Apply(ctx context.Context, lang string, result Translatable) int {
	if t == nil || result == nil || lang == "" || lang == "en" {
		return 0
	}
	langName, ok := languageNames[lang]
	if !ok {
		return 0
	}

	fields := result.TranslatableFields()
	texts := make([]string, 0, len(fields))
	idx := make([]int, 0, len(fields))
	for i, f := range fields {
		if f == nil || strings.TrimSpace(*f) == "" {
			continue
		}
		texts = append(texts, *f)
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return 0
	}

	translated, err := t.batch(ctx, langName, texts)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn(ctx, "translation failed, returning English",
				"language", lang, "fields", len(texts), "error", err.Error())
		}
		return 0
	}

	n := 0
	for i, out := range translated {
		if i >= len(idx) {
			break
		}
		if strings.TrimSpace(out) == "" {
			continue
		}
		*fields[idx[i]] = out
		n++
	}
	return n
}

// batch sends one model call covering all texts and returns the
// translations in input order.
func (t *Translator) batch(ctx context.Context, langName string, texts []string) ([]string, error) {
	if t.provider == nil {
		return nil, fmt.Errorf("translate: no provider configured")
	}
	ctx, cancel := llm.WithTimeout(ctx, "translate")
	defer cancel()

	var sb strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}

	raw, err := t.provider.Generate(ctx, llm.Request{
		System: fmt.Sprintf(
			"Translate each numbered line into %s. Keep the meaning exact, keep any numbers and "+
				"measurements as written, and keep the register suitable for a school teacher. "+
				`Return only JSON: {"translations": ["...", ...]} with one entry per input line, in order.`,
			langName),
		User:      sb.String(),
		Mode:      llm.ModeJSON,
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := jsonx.Extract(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Translations) != len(texts) {
		return nil, fmt.Errorf("translate: got %d translations for %d fields", len(resp.Translations), len(texts))
	}
	return resp.Translations, nil
}
