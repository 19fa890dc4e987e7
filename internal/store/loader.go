package store

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	rerrors "github.com/gravis-app/ragcore/internal/errors"
)

// chunkRecord is the on-disk corpus form of a Chunk.
type chunkRecord struct {
	ID         string    `yaml:"id" json:"id"`
	Content    string    `yaml:"content" json:"content"`
	Embedding  []float32 `yaml:"embedding,omitempty" json:"embedding,omitempty"`
	SourceKind string    `yaml:"source_kind,omitempty" json:"source_kind,omitempty"`
	FigureID   string    `yaml:"figure_id,omitempty" json:"figure_id,omitempty"`
	DocumentID string    `yaml:"document_id,omitempty" json:"document_id,omitempty"`
}

type corpusFile struct {
	DocumentID string        `yaml:"document_id"`
	Chunks     []chunkRecord `yaml:"chunks"`
}

// LoadCorpusFile reads chunks from a YAML or JSON file. The file is either a
// list of chunk records or a mapping with a "chunks" list and an optional
// default "document_id".
func LoadCorpusFile(path string) ([]*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.New(rerrors.ErrCodeFileNotFound, fmt.Sprintf("corpus file not found: %s", path), err)
		}
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}
	return ParseCorpus(data)
}

// ParseCorpus decodes corpus bytes. JSON input is accepted since it is
// valid YAML.
func ParseCorpus(data []byte) ([]*Chunk, error) {
	var doc corpusFile
	trimmed := bytes.TrimSpace(data)

	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '[' || bytes.HasPrefix(trimmed, []byte("- ")):
		if err := yaml.Unmarshal(trimmed, &doc.Chunks); err != nil {
			return nil, corpusError("failed to parse corpus", err)
		}
	default:
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, corpusError("failed to parse corpus", err)
		}
	}

	seen := make(map[string]bool, len(doc.Chunks))
	chunks := make([]*Chunk, 0, len(doc.Chunks))
	for i, rec := range doc.Chunks {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return nil, corpusError(fmt.Sprintf("chunk #%d has no id", i+1), nil)
		}
		if seen[id] {
			return nil, corpusError(fmt.Sprintf("duplicate chunk id %q", id), nil)
		}
		seen[id] = true

		kind, err := ParseSourceKind(rec.SourceKind)
		if err != nil {
			return nil, corpusError(fmt.Sprintf("chunk %q", id), err)
		}

		docID := rec.DocumentID
		if docID == "" {
			docID = doc.DocumentID
		}

		chunks = append(chunks, &Chunk{
			ID:         id,
			Content:    rec.Content,
			Embedding:  rec.Embedding,
			SourceKind: kind,
			FigureID:   rec.FigureID,
			DocumentID: docID,
		})
	}
	return chunks, nil
}

func corpusError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return rerrors.New(rerrors.ErrCodeCorpusInvalid, msg, cause)
}
