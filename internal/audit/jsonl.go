// Copyright 2026 The Toolgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	currentFilename = "events.jsonl"
	anchorFilename  = "events-anchor.json"
)

// ChainAnchor records the hash chain state at a checkpoint. Written to a
// separate file every N events as a tamper-detection anchor.
type ChainAnchor struct {
	// EventID is the ULID of the event at this checkpoint.
	EventID string `json:"event_id"`

	// Hash is the chain head hash at this checkpoint.
	Hash string `json:"hash"`

	// EventCount is the total number of events written up to this point.
	EventCount int64 `json:"event_count"`

	// Timestamp is when this anchor was written.
	Timestamp time.Time `json:"timestamp"`
}

// JSONLSink is an append-only JSONL audit sink with hash chaining and
// size-based rotation.
type JSONLSink struct {
	mu sync.Mutex

	dir            string
	file           *os.File
	currentSize    int64
	lastHash       string
	eventCount     int64
	fsync          bool
	rotateSize     int64
	anchorInterval int
	closed         bool
	logger         *slog.Logger
}

// NewJSONLSink creates a JSONL-backed audit sink in dir. An existing
// events file is continued: the chain head is recovered from its last
// line so the hash chain survives restarts.
func NewJSONLSink(dir string, opts ...SinkOption) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit: sink dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create sink dir: %w", err)
	}

	cfg := defaultSinkConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := &JSONLSink{
		dir:            dir,
		fsync:          cfg.fsync,
		rotateSize:     cfg.rotateSize,
		anchorInterval: cfg.anchorInterval,
		logger:         logger,
	}

	path := filepath.Join(dir, currentFilename)
	if hash, count, ok := recoverChainState(path); ok {
		sink.lastHash = hash
		sink.eventCount = count
		logger.Info("audit: recovered chain state",
			"event_count", count,
			"hash", hash,
		)
	}

	if err := sink.openLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

// Write appends a single event to the JSONL audit trail.
func (s *JSONLSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit: write on closed sink")
	}
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	event.PrevHash = s.lastHash
	if err := event.ComputeHash(); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	if s.rotateSize > 0 && s.currentSize+int64(len(line)) > s.rotateSize {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	s.currentSize += int64(len(line))

	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("audit: fsync event: %w", err)
		}
	}

	s.lastHash = event.Hash
	s.eventCount++
	if s.anchorInterval > 0 && s.eventCount%int64(s.anchorInterval) == 0 {
		if err := s.writeAnchorLocked(event); err != nil {
			return err
		}
	}

	return nil
}

// Flush flushes pending data to disk.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: flush sink: %w", err)
	}
	return nil
}

// Close flushes and closes the sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: close sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: close sink file: %w", err)
	}
	s.file = nil
	return nil
}

func (s *JSONLSink) filePath() string {
	return filepath.Join(s.dir, currentFilename)
}

func (s *JSONLSink) openLocked() error {
	file, err := os.OpenFile(s.filePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open jsonl file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: stat jsonl file: %w", err)
	}

	s.file = file
	s.currentSize = info.Size()
	return nil
}

// rotateLocked renames the current file aside and starts a fresh one.
// The hash chain continues across the rotation via lastHash.
func (s *JSONLSink) rotateLocked() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: rotate sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: rotate close: %w", err)
	}
	s.file = nil

	rotated := fmt.Sprintf("events-%s.jsonl", time.Now().UTC().Format("20060102T150405.000"))
	if err := os.Rename(s.filePath(), filepath.Join(s.dir, rotated)); err != nil {
		return fmt.Errorf("audit: rotate rename: %w", err)
	}

	s.logger.Info("audit: rotated event log", "file", rotated, "event_count", s.eventCount)
	return s.openLocked()
}

func (s *JSONLSink) writeAnchorLocked(event Event) error {
	anchor := ChainAnchor{
		EventID:    event.ID,
		Hash:       event.Hash,
		EventCount: s.eventCount,
		Timestamp:  time.Now().UTC(),
	}

	data, err := json.Marshal(anchor)
	if err != nil {
		return fmt.Errorf("audit: marshal anchor: %w", err)
	}

	path := filepath.Join(s.dir, anchorFilename)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("audit: write anchor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("audit: replace anchor: %w", err)
	}

	s.logger.Debug("audit: wrote chain anchor",
		"event_id", anchor.EventID,
		"event_count", anchor.EventCount,
	)
	return nil
}

// recoverChainState reads the last non-empty line of the current events
// file and extracts its hash, plus the total line count.
func recoverChainState(path string) (hash string, count int64, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lastLine = line
			count++
		}
	}
	if lastLine == "" {
		return "", 0, false
	}

	var partial struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal([]byte(lastLine), &partial); err != nil {
		return "", 0, false
	}
	return partial.Hash, count, partial.Hash != ""
}
