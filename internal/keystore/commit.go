package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/storage"
)

const journalExt = ".journal"

// JournalLocation is where an in-flight commit for the record at location is
// described until it completes.
func JournalLocation(recordLocation string) string {
	return recordLocation + journalExt
}

// commitSet replaces a group of objects so that either all of them take the
// new content or none do. New content is staged next to each target first.
// Commit writes a journal, moves every existing target aside and the staged
// object in, then removes the journal. A journal left behind by a process
// that died mid-commit is rolled back by recoverCommit.
type commitSet struct {
	store   storage.Store
	id      string
	journal string
	entries []*commitEntry
	logger  *logrus.Entry
}

type commitEntry struct {
	Target  string `json:"target"`
	Staging string `json:"staging"`
	Backup  string `json:"backup"`
	Existed bool   `json:"existed"`
}

type commitJournal struct {
	ID      string         `json:"id"`
	Entries []*commitEntry `json:"entries"`
}

func newCommitSet(store storage.Store, recordLocation string, logger *logrus.Entry) *commitSet {
	id := uuid.NewString()[:8]
	return &commitSet{
		store:   store,
		id:      id,
		journal: JournalLocation(recordLocation),
		logger:  logger.WithField("commit", id),
	}
}

func (c *commitSet) Stage(ctx context.Context, target string, data []byte) error {
	entry := &commitEntry{
		Target:  target,
		Staging: target + ".staging-" + c.id,
		Backup:  target + ".bak-" + c.id,
	}
	if err := c.store.Write(ctx, entry.Staging, data); err != nil {
		return fmt.Errorf("fail to stage %s, err: %w", target, err)
	}
	c.entries = append(c.entries, entry)
	return nil
}

// Abort removes staged objects. Targets are untouched.
func (c *commitSet) Abort(ctx context.Context) {
	for _, entry := range c.entries {
		if err := c.store.Delete(context.WithoutCancel(ctx), entry.Staging); err != nil {
			c.logger.WithField("location", entry.Staging).WithError(err).Warn("fail to remove staged object")
		}
	}
}

func (c *commitSet) Commit(ctx context.Context) error {
	for _, entry := range c.entries {
		exists, err := c.store.Exists(ctx, entry.Target)
		if err != nil {
			c.Abort(ctx)
			return fmt.Errorf("fail to check %s, err: %w", entry.Target, err)
		}
		entry.Existed = exists
	}
	data, err := json.Marshal(commitJournal{ID: c.id, Entries: c.entries})
	if err != nil {
		c.Abort(ctx)
		return fmt.Errorf("fail to encode commit journal, err: %w", err)
	}
	if err := c.store.Write(ctx, c.journal, data); err != nil {
		c.Abort(ctx)
		return fmt.Errorf("fail to write commit journal, err: %w", err)
	}

	for _, entry := range c.entries {
		if err := c.commitOne(ctx, entry); err != nil {
			c.rollback(ctx)
			return err
		}
	}
	// Removing the journal is the commit point.
	if err := c.store.Delete(ctx, c.journal); err != nil {
		c.rollback(ctx)
		return fmt.Errorf("fail to remove commit journal, err: %w", err)
	}
	for _, entry := range c.entries {
		if !entry.Existed {
			continue
		}
		if err := c.store.Delete(ctx, entry.Backup); err != nil {
			c.logger.WithField("location", entry.Backup).WithError(err).Warn("fail to remove backup")
		}
	}
	return nil
}

func (c *commitSet) commitOne(ctx context.Context, entry *commitEntry) error {
	if entry.Existed {
		if err := c.store.Rename(ctx, entry.Target, entry.Backup); err != nil {
			return fmt.Errorf("fail to back up %s, err: %w", entry.Target, err)
		}
	}
	if err := c.store.Rename(ctx, entry.Staging, entry.Target); err != nil {
		return fmt.Errorf("fail to commit %s, err: %w", entry.Target, err)
	}
	return nil
}

// rollback restores every target and drops the journal once that worked. It
// runs even when ctx is cancelled.
func (c *commitSet) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := restoreEntries(ctx, c.store, c.entries); err != nil {
		c.logger.WithError(err).Error("fail to roll back commit, journal kept for the next load")
		return
	}
	if err := c.store.Delete(ctx, c.journal); err != nil {
		c.logger.WithField("location", c.journal).WithError(err).Warn("fail to remove commit journal")
	}
}

// restoreEntries puts back what each target held before the commit, newest
// first. It only looks at what is in the store, so running it again after a
// partial run is safe.
func restoreEntries(ctx context.Context, store storage.Store, entries []*commitEntry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Existed {
			backedUp, err := store.Exists(ctx, entry.Backup)
			if err != nil {
				return fmt.Errorf("fail to check %s, err: %w", entry.Backup, err)
			}
			if backedUp {
				if err := store.Rename(ctx, entry.Backup, entry.Target); err != nil {
					return fmt.Errorf("fail to restore %s, err: %w", entry.Target, err)
				}
			}
		} else {
			staged, err := store.Exists(ctx, entry.Staging)
			if err != nil {
				return fmt.Errorf("fail to check %s, err: %w", entry.Staging, err)
			}
			if !staged {
				if err := store.Delete(ctx, entry.Target); err != nil {
					return fmt.Errorf("fail to remove %s, err: %w", entry.Target, err)
				}
			}
		}
		if err := store.Delete(ctx, entry.Staging); err != nil {
			return fmt.Errorf("fail to remove %s, err: %w", entry.Staging, err)
		}
	}
	return nil
}

// recoverCommit rolls back a commit for the record at location that never
// reached its commit point.
func (m *Manager) recoverCommit(ctx context.Context, recordLocation string) error {
	journal := JournalLocation(recordLocation)
	data, err := m.store.Read(ctx, journal)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fail to read commit journal, err: %w", err)
	}
	var j commitJournal
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("fail to decode commit journal %s, err: %w", journal, err)
	}
	m.logger.WithFields(logrus.Fields{
		"location": recordLocation,
		"commit":   j.ID,
	}).Warn("rolling back unfinished keystore commit")
	if err := restoreEntries(ctx, m.store, j.Entries); err != nil {
		return err
	}
	return m.store.Delete(ctx, journal)
}
