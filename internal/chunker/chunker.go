// Package chunker splits course documents into overlapping text chunks with
// source and page provenance. PDFs are read page by page; any other file is
// treated as plain text without page information.
package chunker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/54b3r/chatedu-go/internal/rag"
)

const (
	// DefaultChunkSize is the maximum number of characters per chunk.
	DefaultChunkSize = 2000
	// DefaultChunkOverlap is the number of characters shared by consecutive chunks.
	DefaultChunkOverlap = 200
)

// separators are tried in order, from paragraph breaks down to single characters.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Config holds the splitter parameters.
type Config struct {
	// ChunkSize defaults to DefaultChunkSize if zero.
	ChunkSize int
	// ChunkOverlap of zero disables overlap. A negative value selects
	// DefaultChunkOverlap; a value not smaller than ChunkSize is replaced.
	// Either replacement is capped at a tenth of ChunkSize.
	ChunkOverlap int
}

// Chunker produces rag.Chunks from raw text or files.
// It is safe for concurrent use.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
	cfg      Config
	log      *slog.Logger
}

// New constructs a Chunker, applying defaults to cfg.
func New(cfg Config, log *slog.Logger) *Chunker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(DefaultChunkOverlap, cfg.ChunkSize/10)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(separators),
		),
		cfg: cfg,
		log: log,
	}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Split divides text into chunks tagged with source and page. Blank text
// yields an empty slice.
func (c *Chunker) Split(text, source string, page int) []rag.Chunk {
	if strings.TrimSpace(text) == "" {
		return []rag.Chunk{}
	}
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		c.log.Warn("chunker: split failed", slog.String("source", source), slog.Any("error", err))
		return []rag.Chunk{}
	}

	out := make([]rag.Chunk, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, rag.Chunk{Text: p, Source: source, Page: page})
	}
	return out
}

// SplitFile loads path and splits its content. The chunk source is the file
// base name. Missing, unreadable, or empty files yield an empty slice and a
// logged cause.
func (c *Chunker) SplitFile(ctx context.Context, path string) []rag.Chunk {
	log := c.log.With(slog.String("path", path))
	f, err := os.Open(path)
	if err != nil {
		log.Warn("chunker: cannot open source", slog.Any("error", err))
		return []rag.Chunk{}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Warn("chunker: cannot stat source", slog.Any("error", err))
		return []rag.Chunk{}
	}
	if info.Size() == 0 {
		log.Warn("chunker: source is empty")
		return []rag.Chunk{}
	}

	source := filepath.Base(path)
	if !IsPDF(path) {
		data, err := io.ReadAll(f)
		if err != nil {
			log.Warn("chunker: cannot read source", slog.Any("error", err))
			return []rag.Chunk{}
		}
		return c.Split(string(data), source, rag.UnknownPage)
	}

	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		log.Warn("chunker: cannot parse pdf", slog.Any("error", err))
		return []rag.Chunk{}
	}

	out := make([]rag.Chunk, 0, len(pages))
	for i, doc := range pages {
		page := pageNumber(doc.Metadata, i+1)
		chunks := c.Split(doc.PageContent, source, page)
		for j := range chunks {
			if total, ok := doc.Metadata["total_pages"]; ok {
				chunks[j].Metadata = map[string]any{"total_pages": total}
			}
		}
		out = append(out, chunks...)
	}
	if len(out) == 0 {
		log.Warn("chunker: pdf has no extractable text", slog.Int("pages", len(pages)))
	}
	return out
}

// IsPDF reports whether path has a .pdf extension, case-insensitively.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// pageNumber reads the loader's 1-based page number, falling back to the
// position of the page in the document.
func pageNumber(meta map[string]any, fallback int) int {
	switch v := meta["page"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
