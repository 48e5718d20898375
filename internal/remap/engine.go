// Package remap forces LMS-assigned ids to their canonical values.
//
// The LMS picks its own primary keys on creation. After each create the
// seeder calls Engine.Remap, which rewrites the primary key and every
// dependent foreign key in one transaction. Some entities have append-only
// audit partitions (auditor_<set>_records_*) holding stale keys under
// uniqueness constraints; those are discovered from the catalog and
// emptied first.
package remap

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/roach88/lmsseed/internal/backing"
)

// Engine applies corrective SQL through a backing.Executor.
type Engine struct {
	exec   backing.Executor
	logger *slog.Logger
}

// New returns an Engine writing through exec.
func New(exec backing.Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{exec: exec, logger: logger}
}

// Remap moves kind oldID to newID. Equal ids are a no-op. The kind's audit
// sets are purged before the rewrite.
func (e *Engine) Remap(ctx context.Context, kind Kind, oldID, newID int64) error {
	if oldID == newID {
		e.logger.Debug("remap skipped, ids already match", "kind", kind, "id", newID)
		return nil
	}
	sql, err := Statement(kind, oldID, newID)
	if err != nil {
		return err
	}
	for _, set := range AuditSets(kind) {
		if _, err := e.PurgeAudit(ctx, set); err != nil {
			return err
		}
	}
	if err := e.exec.Exec(ctx, sql); err != nil {
		return fmt.Errorf("remap %s %d -> %d: %w", kind, oldID, newID, err)
	}
	e.logger.Debug("remapped", "kind", kind, "from", oldID, "to", newID)
	return nil
}

// AuditTables lists the partitions of an audit record set. The catalog is
// queried when iteration starts, so the sequence is lazy and ranging over
// it again re-reads the catalog.
func (e *Engine) AuditTables(ctx context.Context, set string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sql, err := DiscoverySQL(set)
		if err != nil {
			yield("", err)
			return
		}
		rows, err := e.exec.Query(ctx, sql)
		if err != nil {
			yield("", fmt.Errorf("discover audit tables for %s: %w", set, err))
			return
		}
		for _, row := range rows {
			table := strings.TrimSpace(row)
			if table == "" {
				continue
			}
			if !yield(table, nil) {
				return
			}
		}
	}
}

// PurgeAudit deletes every row of every partition of set and returns the
// number of partitions emptied.
func (e *Engine) PurgeAudit(ctx context.Context, set string) (int, error) {
	purged := 0
	for table, err := range e.AuditTables(ctx, set) {
		if err != nil {
			return purged, err
		}
		if err := e.exec.Exec(ctx, PurgeSQL(table)); err != nil {
			return purged, fmt.Errorf("purge %s: %w", table, err)
		}
		purged++
	}
	if purged > 0 {
		e.logger.Debug("purged audit records", "set", set, "tables", purged)
	}
	return purged, nil
}

// CorrectSubmission purges grade-change audits and then applies fix.
func (e *Engine) CorrectSubmission(ctx context.Context, fix SubmissionFix) error {
	if fix.Empty() {
		return nil
	}
	if _, err := e.PurgeAudit(ctx, AuditGradeChange); err != nil {
		return err
	}
	if err := e.exec.Exec(ctx, SubmissionSQL(fix)); err != nil {
		return fmt.Errorf("correct submission (assignment %d, user %d): %w", fix.AssignmentID, fix.UserID, err)
	}
	return nil
}
