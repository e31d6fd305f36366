// Package retrieval answers questions about one uploaded file and searches
// across all of them.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/middleware"
	"pdfsearch/internal/vector"
)

// NoRelevantInfo is returned by Answer when the file has no matching
// chunks. The language model is not called in that case.
const NoRelevantInfo = "No relevant info found."

const (
	DefaultTopK   = 5
	snippetLength = 200
	promptFormat  = "Answer the question using only the context from the file:\n%s\n\nQuestion: %s"
)

type SearchResult struct {
	FileName string  `json:"file_name"`
	Snippet  string  `json:"snippet"`
	Score    float32 `json:"score"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TopKProvider supplies the number of chunks fetched per query.
type TopKProvider interface {
	SearchTopK(ctx context.Context) int
}

type Engine struct {
	embedder Embedder
	store    VectorStore
	gen      Generator
	topK     TopKProvider
	logger   *QueryLogger
	budget   *TokenBudget
}

func NewEngine(e Embedder, s VectorStore, g Generator, topK TopKProvider, l *QueryLogger) *Engine {
	return &Engine{embedder: e, store: s, gen: g, topK: topK, logger: l}
}

// WithTokenBudget caps the context handed to the language model.
func (e *Engine) WithTokenBudget(b *TokenBudget) *Engine {
	e.budget = b
	return e
}

// Answer asks the language model about a single file, using only chunks
// of that file as context.
func (e *Engine) Answer(ctx context.Context, fileName, query string) (answer string, err error) {
	fileName = strings.TrimSpace(fileName)
	query = strings.TrimSpace(query)
	if fileName == "" {
		return "", apperr.Validation("Please upload a file to chat or provide a file name.")
	}
	if query == "" {
		return "", apperr.Validation("Query cannot be empty.")
	}

	start := time.Now()
	var matches []vector.Match
	defer func() {
		e.log(ctx, "answer", query, fileName, len(matches), start, err)
	}()

	matches, err = e.retrieve(ctx, query, vector.Filter{vector.KeyFileName: fileName})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return NoRelevantInfo, nil
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	excerpt := e.budget.Trim(strings.Join(texts, " "))

	answer, err = e.gen.Generate(ctx, fmt.Sprintf(promptFormat, excerpt, query))
	if err != nil {
		return "", apperr.External("generate answer", err)
	}
	return answer, nil
}

// Search ranks uploaded files against the query, one result per file.
func (e *Engine) Search(ctx context.Context, query string) (results []SearchResult, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Query cannot be empty.")
	}

	start := time.Now()
	defer func() {
		e.log(ctx, "search", query, "", len(results), start, err)
	}()

	matches, err := e.retrieve(ctx, query, vector.Filter{vector.KeySource: vector.SourceUpload})
	if err != nil {
		return nil, err
	}
	return dedupe(matches), nil
}

func (e *Engine) retrieve(ctx context.Context, query string, filter vector.Filter) ([]vector.Match, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.External("embed query", err)
	}

	topK := DefaultTopK
	if e.topK != nil {
		if k := e.topK.SearchTopK(ctx); k > 0 {
			topK = k
		}
	}

	matches, err := e.store.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, apperr.External("query index", err)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// dedupe keeps the best match per file. matches must be sorted by
// descending score.
func dedupe(matches []vector.Match) []SearchResult {
	seen := make(map[string]bool, len(matches))
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		if seen[m.FileName] {
			continue
		}
		seen[m.FileName] = true
		results = append(results, SearchResult{
			FileName: m.FileName,
			Snippet:  Snippet(m.Text),
			Score:    m.Score,
		})
	}
	return results
}

// Snippet shortens chunk text for display.
func Snippet(s string) string {
	runes := []rune(s)
	if len(runes) > snippetLength {
		runes = runes[:snippetLength]
	}
	return strings.ReplaceAll(string(runes), "\n", " ") + "..."
}

func (e *Engine) log(ctx context.Context, kind, query, fileName string, n int, start time.Time, err error) {
	if e.logger == nil || err != nil {
		return
	}
	e.logger.Log(QueryLogEntry{
		Kind:          kind,
		Query:         query,
		FileName:      fileName,
		Results:       n,
		LatencyMs:     time.Since(start).Milliseconds(),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}
