package structure

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 1

// Section names a top-level part of an encoded structure.
type Section string

const (
	SectionMetadata  Section = "metadata"
	SectionTOC       Section = "toc"
	SectionPages     Section = "pages"
	SectionImages    Section = "images"
	SectionTables    Section = "tables"
	SectionEquations Section = "equations"
	SectionSemantic  Section = "semantic_blocks"
)

// Sections lists every section in encoding order.
var Sections = []Section{
	SectionMetadata, SectionTOC, SectionPages, SectionImages,
	SectionTables, SectionEquations, SectionSemantic,
}

// envelope keeps each section as raw JSON so a reader can decode only what it needs.
type envelope struct {
	Version        int             `json:"version"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	TOC            json.RawMessage `json:"toc,omitempty"`
	Pages          json.RawMessage `json:"pages,omitempty"`
	Images         json.RawMessage `json:"images,omitempty"`
	Tables         json.RawMessage `json:"tables,omitempty"`
	Equations      json.RawMessage `json:"equations,omitempty"`
	SemanticBlocks json.RawMessage `json:"semantic_blocks,omitempty"`
}

func (e *envelope) section(name Section) json.RawMessage {
	switch name {
	case SectionMetadata:
		return e.Metadata
	case SectionTOC:
		return e.TOC
	case SectionPages:
		return e.Pages
	case SectionImages:
		return e.Images
	case SectionTables:
		return e.Tables
	case SectionEquations:
		return e.Equations
	case SectionSemantic:
		return e.SemanticBlocks
	}
	return nil
}

// Split encodes each section of s separately.
func Split(s *Structure) (map[Section][]byte, error) {
	values := map[Section]any{
		SectionMetadata:  s.Metadata,
		SectionTOC:       s.TOC,
		SectionPages:     s.Pages,
		SectionImages:    s.Images,
		SectionTables:    s.Tables,
		SectionEquations: s.Equations,
		SectionSemantic:  s.SemanticBlocks,
	}
	out := make(map[Section][]byte, len(values))
	for name, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Join rebuilds a structure from sections produced by Split. Missing sections stay empty.
func Join(sections map[Section][]byte) (*Structure, error) {
	s := New()
	for _, name := range Sections {
		data := sections[name]
		if len(data) == 0 {
			continue
		}
		if err := decodeSection(name, data, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeSection(name Section, data []byte, s *Structure) error {
	var target any
	switch name {
	case SectionMetadata:
		target = &s.Metadata
	case SectionTOC:
		target = &s.TOC
	case SectionPages:
		target = &s.Pages
	case SectionImages:
		target = &s.Images
	case SectionTables:
		target = &s.Tables
	case SectionEquations:
		target = &s.Equations
	case SectionSemantic:
		target = &s.SemanticBlocks
	default:
		return fmt.Errorf("unknown section %q", name)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if s.Pages == nil {
		s.Pages = []Page{}
	}
	return nil
}

// Encode writes s as a versioned envelope.
func Encode(s *Structure) ([]byte, error) {
	sections, err := Split(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Version:        SchemaVersion,
		Metadata:       sections[SectionMetadata],
		TOC:            sections[SectionTOC],
		Pages:          sections[SectionPages],
		Images:         sections[SectionImages],
		Tables:         sections[SectionTables],
		Equations:      sections[SectionEquations],
		SemanticBlocks: sections[SectionSemantic],
	})
}

func openEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode structure envelope: %w", err)
	}
	if env.Version < 1 || env.Version > SchemaVersion {
		return nil, fmt.Errorf("unsupported structure schema version %d", env.Version)
	}
	return &env, nil
}

// Decode reads a full structure.
func Decode(data []byte) (*Structure, error) {
	env, err := openEnvelope(data)
	if err != nil {
		return nil, err
	}
	sections := make(map[Section][]byte, len(Sections))
	for _, name := range Sections {
		sections[name] = env.section(name)
	}
	return Join(sections)
}

// DecodePages reads only the pages section.
func DecodePages(data []byte) ([]Page, error) {
	s, err := decodeOnly(data, SectionPages)
	if err != nil {
		return nil, err
	}
	return s.Pages, nil
}

// DecodeTOC reads only the table of contents.
func DecodeTOC(data []byte) ([]TOCEntry, error) {
	s, err := decodeOnly(data, SectionTOC)
	if err != nil {
		return nil, err
	}
	return s.TOC, nil
}

// DecodeMetadata reads only the metadata section.
func DecodeMetadata(data []byte) (Metadata, error) {
	s, err := decodeOnly(data, SectionMetadata)
	if err != nil {
		return Metadata{}, err
	}
	return s.Metadata, nil
}

func decodeOnly(data []byte, name Section) (*Structure, error) {
	env, err := openEnvelope(data)
	if err != nil {
		return nil, err
	}
	s := New()
	if raw := env.section(name); len(raw) > 0 {
		if err := decodeSection(name, raw, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}
