package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// DefaultTopK is how many documents a search returns when no limit is
// configured.
const DefaultTopK = 5

// Hit is one search result.
type Hit struct {
	Document   sahayak.CorpusDocument
	Similarity float64
}

// Search scans store linearly for the topK documents most similar to
// query, ordered by descending cosine similarity with ties broken by
// ascending id. The filter applies during the scan, so k is filled
// from the filtered set.
func Search(ctx context.Context, store Store, query []float32, filter Filter, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	var hits []Hit
	err := store.ForEach(ctx, filter, func(doc sahayak.CorpusDocument) error {
		sim := Cosine(query, doc.Embedding)
		hits = append(hits, Hit{Document: doc, Similarity: sim})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either
// vector is empty, zero, or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
