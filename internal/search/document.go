// Package search provides full-text search over converted text blocks using Bleve.
package search

import (
	"strconv"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// BlockDocument is one text block as indexed.
// Block ids are unique within a document, so the index id combines job and block.
type BlockDocument struct {
	ID         string `json:"id"`
	JobID      int64  `json:"job_id"`
	DocumentID int64  `json:"document_id"`
	Page       int    `json:"page"`
	BlockID    string `json:"block_id"`
	BlockType  string `json:"block_type"`
	Text       string `json:"text"`
	Title      string `json:"title,omitempty"`
}

// DocumentID returns the index id for a block of a job.
func DocumentID(jobID int64, blockID string) string {
	return strconv.FormatInt(jobID, 10) + ":" + blockID
}

// ToMap converts the document to the field names used by the mapping.
// job_id is indexed as a keyword so it can be matched exactly.
func (d *BlockDocument) ToMap() map[string]any {
	m := map[string]any{
		"job_id":      strconv.FormatInt(d.JobID, 10),
		"document_id": float64(d.DocumentID),
		"page":        float64(d.Page),
		"block_id":    d.BlockID,
		"block_type":  d.BlockType,
		"text":        d.Text,
	}
	if d.Title != "" {
		m["title"] = d.Title
	}
	return m
}

// BlocksFromPages builds index documents for every non-empty text block.
func BlocksFromPages(jobID, documentID int64, title string, pages []structure.Page) []*BlockDocument {
	var docs []*BlockDocument
	for _, p := range pages {
		for _, b := range p.TextBlocks {
			if b.Text == "" {
				continue
			}
			docs = append(docs, &BlockDocument{
				ID:         DocumentID(jobID, b.ID),
				JobID:      jobID,
				DocumentID: documentID,
				Page:       p.Number,
				BlockID:    b.ID,
				BlockType:  string(b.Type),
				Text:       b.Text,
				Title:      title,
			})
		}
	}
	return docs
}
