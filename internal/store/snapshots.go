package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Snapshot layout:
//
//	structure:<jobID>:version    -> schema version (decimal)
//	structure:<jobID>:<section>  -> section JSON
//
// Each section is its own key so a consumer can load pages or the TOC
// without reading images, tables, or semantic blocks.
const structurePrefix = "structure:"

func snapshotKey(jobID int64, part string) []byte {
	return []byte(structurePrefix + strconv.FormatInt(jobID, 10) + ":" + part)
}

// SaveStructure replaces the job's snapshot in one transaction.
func (s *Store) SaveStructure(ctx context.Context, jobID int64, st *structure.Structure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sections, err := structure.Split(st)
	if err != nil {
		return fmt.Errorf("failed to encode structure: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(jobID, "version"), []byte(strconv.Itoa(structure.SchemaVersion))); err != nil {
			return fmt.Errorf("failed to set version: %w", err)
		}
		for _, name := range structure.Sections {
			if err := txn.Set(snapshotKey(jobID, string(name)), sections[name]); err != nil {
				return fmt.Errorf("failed to set section %s: %w", name, err)
			}
		}
		return nil
	})
}

// LoadStructure reads every section of the job's snapshot.
func (s *Store) LoadStructure(ctx context.Context, jobID int64) (*structure.Structure, error) {
	sections, err := s.loadSections(ctx, jobID, structure.Sections...)
	if err != nil {
		return nil, err
	}
	return structure.Join(sections)
}

// LoadPages reads only the pages section.
func (s *Store) LoadPages(ctx context.Context, jobID int64) ([]structure.Page, error) {
	var pages []structure.Page
	if err := s.loadSection(ctx, jobID, structure.SectionPages, &pages); err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []structure.Page{}
	}
	return pages, nil
}

// LoadTOC reads only the table of contents.
func (s *Store) LoadTOC(ctx context.Context, jobID int64) ([]structure.TOCEntry, error) {
	var toc []structure.TOCEntry
	if err := s.loadSection(ctx, jobID, structure.SectionTOC, &toc); err != nil {
		return nil, err
	}
	return toc, nil
}

// LoadMetadata reads only the document metadata.
func (s *Store) LoadMetadata(ctx context.Context, jobID int64) (structure.Metadata, error) {
	var md structure.Metadata
	err := s.loadSection(ctx, jobID, structure.SectionMetadata, &md)
	return md, err
}

// DeleteStructure removes the job's snapshot. Missing snapshots are ignored.
func (s *Store) DeleteStructure(ctx context.Context, jobID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(snapshotKey(jobID, "version")); err != nil {
			return err
		}
		for _, name := range structure.Sections {
			if err := txn.Delete(snapshotKey(jobID, string(name))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) loadSection(ctx context.Context, jobID int64, name structure.Section, target any) error {
	sections, err := s.loadSections(ctx, jobID, name)
	if err != nil {
		return err
	}
	data := sections[name]
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) loadSections(ctx context.Context, jobID int64, names ...structure.Section) (map[structure.Section][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[structure.Section][]byte, len(names))
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(jobID, "version"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		version, err := strconv.Atoi(string(raw))
		if err != nil || version != structure.SchemaVersion {
			return fmt.Errorf("%w: %q", ErrSchemaVersion, raw)
		}

		for _, name := range names {
			item, err := txn.Get(snapshotKey(jobID, string(name)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to get section %s: %w", name, err)
			}
			if out[name], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
