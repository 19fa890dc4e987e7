// Package store holds the chunk model and its persistence: a SQLite chunk
// store, a YAML/JSON corpus loader, and an optional bleve/HNSW candidate
// prefilter for corpora too large to score exhaustively.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SourceKind is the structural origin of a chunk.
type SourceKind string

const (
	SourceBodyText         SourceKind = "body_text"
	SourceFigureCaption    SourceKind = "figure_caption"
	SourceFigureRegionText SourceKind = "figure_region_text"
	SourceTable            SourceKind = "table"
	SourceSectionHeader    SourceKind = "section_header"
)

// ParseSourceKind accepts the canonical names and a few common aliases.
// Empty input means body text.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "body_text", "body", "text":
		return SourceBodyText, nil
	case "figure_caption", "caption":
		return SourceFigureCaption, nil
	case "figure_region_text", "figure_region", "ocr":
		return SourceFigureRegionText, nil
	case "table":
		return SourceTable, nil
	case "section_header", "header", "heading":
		return SourceSectionHeader, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// IsCaption reports caption-typed sources.
func (k SourceKind) IsCaption() bool {
	return k == SourceFigureCaption
}

// Chunk is an immutable unit of retrievable text produced by ingestion.
type Chunk struct {
	ID         string
	Content    string
	Embedding  []float32 // nil when the chunk was never embedded
	SourceKind SourceKind
	FigureID   string
	DocumentID string
	CreatedAt  time.Time
}

// HasEmbedding reports whether the chunk carries a vector.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ChunkStore persists chunks between ingest and search.
type ChunkStore interface {
	// Put inserts or replaces chunks and bumps the corpus version.
	Put(ctx context.Context, chunks []*Chunk) error

	// All returns every chunk ordered by ID.
	All(ctx context.Context) ([]*Chunk, error)

	Get(ctx context.Context, id string) (*Chunk, error)

	// Delete removes chunks and bumps the corpus version.
	Delete(ctx context.Context, ids []string) error

	// Version identifies the current corpus contents; it changes on every
	// successful Put or Delete.
	Version(ctx context.Context) (string, error)

	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Stats summarizes a stored corpus.
type Stats struct {
	Chunks     int            `json:"chunks"`
	Embedded   int            `json:"embedded"`
	Documents  int            `json:"documents"`
	Dimensions int            `json:"dimensions"`
	BySource   map[string]int `json:"by_source"`
	Version    string         `json:"version"`
}
