// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observe

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrJournalClosed is returned by writes after Close.
var ErrJournalClosed = errors.New("journal closed")

// JournalConfig configures the attempt journal.
type JournalConfig struct {
	// Dir holds the database files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// RunID prefixes every key written by this journal.
	RunID string

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultJournalConfig returns durable settings for dir.
func DefaultJournalConfig(dir, runID string) JournalConfig {
	return JournalConfig{
		Dir:            dir,
		RunID:          runID,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryJournalConfig returns settings for tests.
func InMemoryJournalConfig(runID string) JournalConfig {
	return JournalConfig{InMemory: true, RunID: runID}
}

// Kind distinguishes journal entries.
type Kind string

const (
	KindParam Kind = "param"
	KindTest  Kind = "test"
)

// Entry is one journaled attempt.
type Entry struct {
	RunID    string        `json:"run_id"`
	Seq      uint64        `json:"seq"`
	Function string        `json:"function"`
	Kind     Kind          `json:"kind"`
	At       time.Time     `json:"at"`
	Param    *ParamAttempt `json:"param,omitempty"`
	Test     *TestAttempt  `json:"test,omitempty"`
}

// Journal persists every attempt to badger as it happens, so a crashed
// run still leaves its prompts and compiler output behind.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	runID  string
	seq    atomic.Uint64
	closed atomic.Bool

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenJournal opens the journal database.
func OpenJournal(cfg JournalConfig) (*Journal, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("journal dir is required for a persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, runID: cfg.RunID, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.stopGC = make(chan struct{})
		j.gcDone = make(chan struct{})
		go j.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return j, nil
}

func (j *Journal) runGC(interval time.Duration, ratio float64) {
	defer close(j.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing needed collecting
			if err := j.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && j.logger != nil {
				j.logger.Warn("journal value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// WriteParam implements Sink.
func (j *Journal) WriteParam(fn string, a ParamAttempt) error {
	return j.put(Entry{Function: fn, Kind: KindParam, Param: &a})
}

// WriteTest implements Sink.
func (j *Journal) WriteTest(fn string, a TestAttempt) error {
	return j.put(Entry{Function: fn, Kind: KindTest, Test: &a})
}

func (j *Journal) put(e Entry) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}
	e.RunID = j.runID
	e.Seq = j.seq.Add(1)
	e.At = time.Now().UTC()

	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	key := entryKey(j.runID, e.Seq)
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// Entries returns the entries of runID in write order.
func (j *Journal) Entries(runID string) ([]Entry, error) {
	prefix := runPrefix(runID)
	var out []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			}); err != nil {
				return fmt.Errorf("decode journal entry %q: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Close stops GC and closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.closed.Store(true)
		if j.stopGC != nil {
			close(j.stopGC)
			<-j.gcDone
		}
		err = j.db.Close()
	})
	return err
}

func runPrefix(runID string) []byte {
	return []byte("attempt/" + runID + "/")
}

// entryKey zero-pads seq so keys sort in write order.
func entryKey(runID string, seq uint64) []byte {
	return fmt.Appendf(runPrefix(runID), "%012d", seq)
}
