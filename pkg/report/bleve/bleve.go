// Package bleve indexes mission reports locally with bleve.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blevesearch/bleve"

	"github.com/nstogner/padawan/pkg/report"
)

// Index is a searchable report index.
type Index struct {
	index bleve.Index
}

var _ report.Publisher = (*Index)(nil)

type indexedReport struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Hit is a search result.
type Hit struct {
	MissionID string  `json:"mission_id"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

// Open opens the index at path, creating it when missing. An empty path
// keeps the index in memory.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating in-memory index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		idx, err := bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index at %s: %w", path, err)
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", path, err)
	}
	return &Index{index: idx}, nil
}

// Publish indexes the document under its mission ID, replacing any earlier
// version. The mission ID is the returned reference.
func (i *Index) Publish(_ context.Context, doc report.Document) (string, error) {
	if err := i.index.Index(doc.MissionID, indexedReport{Label: doc.Label, Text: doc.Text}); err != nil {
		return "", fmt.Errorf("indexing report %s: %w", doc.MissionID, err)
	}
	return doc.MissionID, nil
}

// Search runs a query string query and returns up to limit hits.
func (i *Index) Search(_ context.Context, q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"label", "text"}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching reports: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		label, _ := h.Fields["label"].(string)
		text, _ := h.Fields["text"].(string)
		hits = append(hits, Hit{
			MissionID: h.ID,
			Label:     label,
			Score:     h.Score,
			Snippet:   snippet(text),
		})
	}
	return hits, nil
}

// Delete removes a mission's report.
func (i *Index) Delete(missionID string) error {
	return i.index.Delete(missionID)
}

// Close releases the index.
func (i *Index) Close() error {
	return i.index.Close()
}

func snippet(s string) string {
	const max = 240
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
