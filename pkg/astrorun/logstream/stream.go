// Copyright 2025 Tom Barlow
//
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

// Package logstream implements a lazy one-producer/one-consumer log
// sequence: a stream of Log/Error records terminated by a single
// RunResult, with suspension only in Next.
package logstream

import (
	"sync"
	"time"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
)

// RecordKind tags a log record as ordinary output or error output.
type RecordKind int

const (
	Log RecordKind = iota
	Error
)

// Record is one line of step output.
type Record struct {
	Kind    RecordKind
	Message string
	Time    time.Time
}

// Stream is a lazy sequence of Records terminated by a RunResult. The
// producer side calls Log/Error/End; the consumer side calls Next/Result.
// Internal synchronization is a single mutex and a single wake slot
// (a buffered notify channel).
type Stream struct {
	mu     sync.Mutex
	buf    []Record
	ended  bool
	result astrorun.RunResult
	notify chan struct{}
}

// New returns an empty, unended Stream.
func New() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

// Log appends an ordinary output record. Silently dropped once the stream
// has ended.
func (s *Stream) Log(msg string) {
	s.push(Log, msg)
}

// Err appends an error output record. Silently dropped once the stream has
// ended.
func (s *Stream) Err(msg string) {
	s.push(Error, msg)
}

func (s *Stream) push(kind RecordKind, msg string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, Record{Kind: kind, Message: msg, Time: time.Now()})
	s.mu.Unlock()
	s.wake()
}

// End marks the stream terminal with the given result. Further Log/Err
// calls are no-ops. Calling End more than once only the first call takes
// effect; later calls are ignored, since a well-behaved producer ends a
// stream exactly once.
func (s *Stream) End(result astrorun.RunResult) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.result = result
	s.mu.Unlock()
	s.wake()
}

// IsEnded is a non-blocking predicate for whether End has been called.
func (s *Stream) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Result returns the terminal result and whether the stream has ended.
func (s *Stream) Result() (astrorun.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.ended
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next yields the next buffered record, or reports end-of-stream once all
// buffered records have been drained and the stream has ended. It parks
// the caller (via the stream's single wake slot) when neither is
// immediately available. Every record appended before End is guaranteed to
// be observed before end-of-stream.
func (s *Stream) Next() (Record, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			rec := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return rec, true
		}
		if s.ended {
			s.mu.Unlock()
			return Record{}, false
		}
		s.mu.Unlock()

		<-s.notify
	}
}
