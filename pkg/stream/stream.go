// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Conductor Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream implements the durable append-only event log that serves
// as the orchestrator's system of record.
//
// The stream provides:
//   - Append with monotonic offsets, persisted before subscribers see it
//   - In-process pub/sub with per-subscriber ordering
//   - A bounded history ring for cheap recent lookups
//   - Full-log queries for recovery and lineage views
//   - Size-based segment rotation
//   - Resume: replay all segments on startup, discarding a partially
//     written trailing record
//
// The log format is one JSON record per line. Offsets continue
// monotonically across rotations. The history ring is a read-side cache
// only; recovery always replays from disk.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/pkg/observability"
)

// ErrStreamUnavailable wraps failures of the underlying log write.
// Callers must treat it as fatal for the request being served.
var ErrStreamUnavailable = errors.New("stream unavailable")

const (
	// DefaultMaxSegmentBytes seals a segment once it exceeds 10 MiB.
	DefaultMaxSegmentBytes = 10 * 1024 * 1024

	// DefaultHistoryLimit bounds the in-memory history ring.
	DefaultHistoryLimit = 1000
)

// Handler receives events from a subscription, in ascending offset order.
type Handler func(*Event)

// Unsubscribe detaches a subscription. Safe to call more than once.
type Unsubscribe func()

// ResumeResult carries replay statistics from Resume.
type ResumeResult struct {
	EventsReplayed int
	LastOffset     uint64
}

// Stream is the durable event log. A single Stream owns its segment
// files; the current segment has a single writer.
type Stream struct {
	path            string
	maxSegmentBytes int64
	historyLimit    int
	now             func() time.Time

	mu     sync.Mutex
	file   *os.File
	size   int64
	offset uint64
	lastTS int64
	ring   []*Event
	closed bool

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

// Option configures a Stream.
type Option func(*Stream)

// WithMaxSegmentSize sets the rotation threshold in bytes.
func WithMaxSegmentSize(n int64) Option {
	return func(s *Stream) { s.maxSegmentBytes = n }
}

// WithHistoryLimit sets the history ring capacity.
func WithHistoryLimit(n int) Option {
	return func(s *Stream) { s.historyLimit = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) { s.now = now }
}

// New creates a Stream rooted at path. The parent directory is created
// if missing. Call Resume before the first Append to replay prior
// segments.
func New(path string, opts ...Option) (*Stream, error) {
	s := &Stream{
		path:            path,
		maxSegmentBytes: DefaultMaxSegmentBytes,
		historyLimit:    DefaultHistoryLimit,
		now:             time.Now,
		subs:            make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create stream dir: %w", err)
	}
	return s, nil
}

// Append assigns an offset, id and timestamp, persists the event, then
// notifies subscribers. At most one side effect happens per successful
// return; on error nothing was delivered.
func (s *Stream) Append(input Input) (*Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: stream closed", ErrStreamUnavailable)
	}
	if err := s.ensureFileLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}

	event := &Event{
		ID:            eventID(input.CorrelationID, ts, s.offset+1),
		Type:          input.Type,
		Timestamp:     ts,
		Offset:        s.offset + 1,
		StreamID:      input.StreamID,
		CorrelationID: input.CorrelationID,
		Actor:         input.Actor,
		ParentEventID: input.ParentEventID,
		Payload:       input.Payload,
		Metadata:      input.Metadata,
		Checkpoint:    input.Checkpoint,
	}

	line, err := json.Marshal(event)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: marshal event: %v", ErrStreamUnavailable, err)
	}
	line = append(line, '\n')

	n, err := s.file.Write(line)
	if err != nil {
		// A partial write leaves a trailing fragment; trim it so the next
		// successful append starts clean.
		if n > 0 {
			_ = s.file.Truncate(s.size)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}

	s.offset = event.Offset
	s.lastTS = ts
	s.size += int64(n)
	s.pushRingLocked(event)

	if s.size >= s.maxSegmentBytes {
		if err := s.rotateLocked(); err != nil {
			slog.Warn("Stream rotation failed, continuing on current segment",
				"path", s.path, "error", err)
		}
	}
	// Enqueue to subscribers before releasing the lock so deliveries
	// keep ascending offset order under concurrent appenders. Mailbox
	// enqueue never blocks; handlers run on their own goroutines.
	s.dispatch(event)
	s.mu.Unlock()

	observability.GetGlobalMetrics().RecordEvent(context.Background(), string(event.Type))

	return event, nil
}

// Subscribe registers a handler for the given event type, or every event
// when eventType is TypeWildcard. Handlers run on a dedicated goroutine
// per subscription, in ascending offset order. A panicking handler is
// logged and skipped; it never blocks Append or other subscribers.
func (s *Stream) Subscribe(eventType EventType, handler Handler) Unsubscribe {
	sub := newSubscriber(eventType, handler)

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, sub)
			s.subMu.Unlock()
			sub.stop()
		})
	}
}

// History returns up to limit recent events, ascending by offset, from
// the in-memory ring. Older events may be missing; callers needing
// authoritative history must Query the log.
func (s *Stream) History(limit int, filter Filter) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.ring) {
		limit = len(s.ring)
	}

	var out []*Event
	for _, e := range s.ring {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Query performs a linear scan over all persisted segments, returning
// matches in ascending offset order.
func (s *Stream) Query(filter Filter) ([]*Event, error) {
	segments, err := s.segmentPaths()
	if err != nil {
		return nil, err
	}

	var out []*Event
	for _, seg := range segments {
		events, _, err := readSegment(seg)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if filter.Matches(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Rotate seals the current segment and begins a fresh one. Offsets
// continue monotonically across the rotation.
func (s *Stream) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

// Resume reads all segments in order, truncates a partially written
// trailing record, and populates the history ring. It must run before
// the first Append.
func (s *Stream) Resume() (*ResumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := s.segmentPaths()
	if err != nil {
		return nil, err
	}

	result := &ResumeResult{}
	for _, seg := range segments {
		events, validBytes, err := readSegment(seg)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", seg, err)
		}
		for _, e := range events {
			result.EventsReplayed++
			if e.Offset > result.LastOffset {
				result.LastOffset = e.Offset
			}
			if e.Timestamp > s.lastTS {
				s.lastTS = e.Timestamp
			}
			s.pushRingLocked(e)
		}
		if seg == s.path {
			// Discard the torn tail so the next append starts clean.
			if info, err := os.Stat(seg); err == nil && info.Size() > validBytes {
				slog.Warn("Discarding partially written trailing record",
					"path", seg, "bytes", info.Size()-validBytes)
				if err := os.Truncate(seg, validBytes); err != nil {
					return nil, fmt.Errorf("truncate torn record: %w", err)
				}
			}
			s.size = validBytes
		}
	}

	s.offset = result.LastOffset
	return result, nil
}

// LastOffset returns the offset of the most recently appended event.
func (s *Stream) LastOffset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Close flushes and closes the current segment and stops all
// subscriptions.
func (s *Stream) Close() error {
	s.subMu.Lock()
	for sub := range s.subs {
		sub.stop()
		delete(s.subs, sub)
	}
	s.subMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func (s *Stream) ensureFileLocked() error {
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: open segment: %v", ErrStreamUnavailable, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: stat segment: %v", ErrStreamUnavailable, err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

func (s *Stream) rotateLocked() error {
	if s.file == nil || s.size == 0 {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment: %w", err)
	}
	s.file = nil

	sealed := rotatedPath(s.path, s.now().UnixMilli())
	if err := os.Rename(s.path, sealed); err != nil {
		return fmt.Errorf("seal segment: %w", err)
	}
	s.size = 0
	slog.Debug("Rotated stream segment", "sealed", sealed)
	return nil
}

func (s *Stream) pushRingLocked(e *Event) {
	s.ring = append(s.ring, e)
	if len(s.ring) > s.historyLimit {
		s.ring = s.ring[len(s.ring)-s.historyLimit:]
	}
}

func (s *Stream) dispatch(e *Event) {
	s.subMu.Lock()
	for sub := range s.subs {
		sub.enqueue(e)
	}
	s.subMu.Unlock()
}

// segmentPaths returns rotated segments in rotation order followed by
// the current segment.
func (s *Stream) segmentPaths() ([]string, error) {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "_"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segments: %w", err)
	}

	var rotated []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			rotated = append(rotated, filepath.Join(dir, name))
		}
	}
	sort.Strings(rotated)

	if _, err := os.Stat(s.path); err == nil {
		rotated = append(rotated, s.path)
	}
	return rotated, nil
}

func rotatedPath(path string, epochMillis int64) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), epochMillis, ext)
}

// readSegment parses one segment. It returns the parsed events and the
// byte length of the valid prefix; a torn trailing record is excluded
// from both.
func readSegment(path string) ([]*Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var (
		events     []*Event
		validBytes int64
	)
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// No trailing newline: the record was torn mid-write.
			break
		}
		var e Event
		if uerr := json.Unmarshal([]byte(line), &e); uerr != nil {
			slog.Warn("Skipping corrupt stream record", "path", path, "error", uerr)
			validBytes += int64(len(line))
			continue
		}
		events = append(events, &e)
		validBytes += int64(len(line))
	}
	return events, validBytes, nil
}
