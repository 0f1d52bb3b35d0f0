package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/maruel/ksid"

	"github.com/mosaicflow/mosaic/internal/jsonldb"
	"github.com/mosaicflow/mosaic/internal/models"
)

const historyFile = "history.jsonl"

const (
	// recentCap bounds how many distinct entries Recent returns.
	recentCap = 50
	// compactThreshold triggers log compaction, keeping the newest
	// 2*recentCap events so open counts stay meaningful.
	compactThreshold = 4 * recentCap
)

// OpenLog records vault and canvas open events and derives the
// recently-opened list from them.
type OpenLog struct {
	table  *jsonldb.Table[models.OpenRecord]
	logger *slog.Logger
}

// NewOpenLog opens or creates the history log in dir.
func NewOpenLog(dir string, logger *slog.Logger) (*OpenLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	table, err := jsonldb.NewTable[models.OpenRecord](filepath.Join(dir, historyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	return &OpenLog{table: table, logger: logger}, nil
}

// Track appends an open event. The log is compacted in place once it
// grows past the threshold.
func (l *OpenLog) Track(kind models.OpenKind, refID, vaultID, name, path string) error {
	rec := models.OpenRecord{
		ID:       ksid.NewID(),
		Kind:     kind,
		RefID:    refID,
		VaultID:  vaultID,
		Name:     name,
		Path:     path,
		OpenedAt: time.Now().UTC(),
	}
	if err := l.table.Append(rec); err != nil {
		return fmt.Errorf("failed to record open event: %w", err)
	}
	if l.table.Len() > compactThreshold {
		if err := l.compact(); err != nil {
			l.logger.Warn("history compaction failed", "error", err)
		}
	}
	return nil
}

// Recent returns the most recently opened entries of the given kind,
// newest first, deduplicated by path. kind "" matches every kind. n is
// clamped to the cap; n <= 0 means the cap.
func (l *OpenLog) Recent(kind models.OpenKind, n int) []models.RecentEntry {
	if n <= 0 || n > recentCap {
		n = recentCap
	}

	byPath := make(map[string]*models.RecentEntry)
	for rec := range l.table.All() {
		if kind != "" && rec.Kind != kind {
			continue
		}
		entry, ok := byPath[rec.Path]
		if !ok {
			byPath[rec.Path] = &models.RecentEntry{
				Kind:       rec.Kind,
				RefID:      rec.RefID,
				VaultID:    rec.VaultID,
				Name:       rec.Name,
				Path:       rec.Path,
				LastOpened: rec.OpenedAt,
				OpenCount:  1,
			}
			continue
		}
		entry.OpenCount++
		if rec.OpenedAt.After(entry.LastOpened) {
			entry.LastOpened = rec.OpenedAt
			entry.RefID = rec.RefID
			entry.Name = rec.Name
			entry.VaultID = rec.VaultID
		}
	}

	entries := make([]models.RecentEntry, 0, len(byPath))
	for _, entry := range byPath {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastOpened.After(entries[j].LastOpened)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Remove drops every event for the given path. Used when a vault or
// canvas is deleted so it stops surfacing in the recents list.
func (l *OpenLog) Remove(path string) error {
	var keep []models.OpenRecord
	for rec := range l.table.All() {
		if rec.Path != path {
			keep = append(keep, rec)
		}
	}
	if len(keep) == l.table.Len() {
		return nil
	}
	if err := l.table.Replace(keep); err != nil {
		return fmt.Errorf("failed to rewrite history log: %w", err)
	}
	return nil
}

// Len returns the number of raw events in the log.
func (l *OpenLog) Len() int {
	return l.table.Len()
}

func (l *OpenLog) compact() error {
	var all []models.OpenRecord
	for rec := range l.table.All() {
		all = append(all, rec)
	}
	keep := all
	if len(all) > 2*recentCap {
		keep = all[len(all)-2*recentCap:]
	}
	return l.table.Replace(keep)
}
