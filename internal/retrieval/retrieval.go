// Package retrieval finds the snippets of a business's indexed documents most
// relevant to a customer message.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Defaults for chunking and search.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	DefaultTopK         = 5
	embedBatchSize      = 64
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Snippet is a scored chunk returned by Search.
type Snippet struct {
	Source  string
	Content string
	Score   float64
}

// Opts holds configuration options for the Index.
type Opts struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Option defines a configuration option for the Index.
type Option func(*Opts)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(n int) Option {
	return func(o *Opts) {
		o.ChunkSize = n
	}
}

// WithChunkOverlap sets how many characters consecutive chunks share.
func WithChunkOverlap(n int) Option {
	return func(o *Opts) {
		o.ChunkOverlap = n
	}
}

// WithTopK sets how many snippets Search returns.
func WithTopK(k int) Option {
	return func(o *Opts) {
		o.TopK = k
	}
}

// Index stores and searches embedded document chunks.
type Index struct {
	repo     store.ChunkRepo
	embedder Embedder
	cfg      Opts
}

// NewIndex creates an index over repo.
func NewIndex(repo store.ChunkRepo, embedder Embedder, opts ...Option) *Index {
	cfg := Opts{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap, TopK: DefaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Index{repo: repo, embedder: embedder, cfg: cfg}
}

// IndexDocument chunks text, embeds every chunk and replaces whatever was
// stored for source. It returns the number of chunks stored.
func (ix *Index) IndexDocument(ctx context.Context, businessID, source, text string) (int, error) {
	pieces := Chunk(text, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return 0, errors.New("document has no text")
	}

	vectors := make([][]float64, 0, len(pieces))
	for start := 0; start < len(pieces); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pieces))
		batch, err := ix.embedder.Embed(ctx, pieces[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(pieces), len(vectors))
	}

	chunks := make([]store.DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.DocumentChunk{
			BusinessID: businessID,
			Source:     source,
			Index:      i,
			Content:    p,
			Embedding:  vectors[i],
		}
	}
	if err := ix.repo.ReplaceChunks(ctx, businessID, source, chunks); err != nil {
		return 0, err
	}
	slog.Info("Index.IndexDocument: document indexed", "businessID", businessID, "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// Search returns the top-K chunks of the business most similar to query.
func (ix *Index) Search(ctx context.Context, businessID, query string) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	chunks, err := ix.repo.ListChunks(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vecs))
	}

	snippets := make([]Snippet, 0, len(chunks))
	for _, c := range chunks {
		snippets = append(snippets, Snippet{Source: c.Source, Content: c.Content, Score: Cosine(vecs[0], c.Embedding)})
	}
	sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Score > snippets[j].Score })
	if len(snippets) > ix.cfg.TopK {
		snippets = snippets[:ix.cfg.TopK]
	}
	return snippets, nil
}

// Context renders the top snippets for query as a prompt block, or "" when nothing matches.
func (ix *Index) Context(ctx context.Context, businessID, query string) (string, error) {
	snippets, err := ix.Search(ctx, businessID, query)
	if err != nil || len(snippets) == 0 {
		return "", err
	}
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(s.Content)
	}
	return b.String(), nil
}

// Cosine returns the cosine similarity of a and b, or 0 if either is empty,
// zero or of a different length.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Chunk splits text into pieces of at most size runes, overlapping by
// overlap runes, preferring to cut at whitespace.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if end < len(runes) {
			for cut := end; cut > start+size/2; cut-- {
				if unicode.IsSpace(runes[cut-1]) {
					end = cut
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
