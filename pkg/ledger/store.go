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

package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/conductor-ai/conductor/pkg/observability"
)

const (
	lockRetries   = 5
	lockBaseDelay = 50 * time.Millisecond
)

// Store owns the ledger file. Every write follows the parse → mutate →
// serialize → write discipline under an exclusive advisory file lock,
// so concurrent orchestrator instances never interleave.
type Store struct {
	path     string
	lockPath string

	mu sync.Mutex
}

// NewStore creates a store for the ledger at path.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return s.path
}

// Load parses the ledger file. A missing file yields (nil, nil).
func (s *Store) Load() (*Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return Parse(data)
}

// Save renders and writes the ledger under the file lock.
func (s *Store) Save(l *Ledger) error {
	return s.withLock(func() error {
		return s.writeLocked(l)
	})
}

// Update applies mutate to the current ledger (creating an empty one
// when the file is missing) and writes the result, all under the lock.
func (s *Store) Update(sessionID string, mutate func(*Ledger) error) error {
	return s.withLock(func() error {
		l, err := s.loadLocked()
		if err != nil {
			return err
		}
		if l == nil {
			l = New(sessionID)
		}
		if err := mutate(l); err != nil {
			return err
		}
		return s.writeLocked(l)
	})
}

func (s *Store) loadLocked() (*Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return Parse(data)
}

func (s *Store) writeLocked(l *Ledger) error {
	data, err := Render(l)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	observability.GetGlobalMetrics().RecordLedgerWrite(context.Background())
	return nil
}

// withLock serializes against other goroutines in this process and,
// via flock, against other processes. Acquisition retries up to
// lockRetries times with randomized backoff.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	fileLock := flock.New(s.lockPath)
	var lastErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			lastErr = err
		} else if locked {
			defer func() { _ = fileLock.Unlock() }()
			return fn()
		} else {
			lastErr = fmt.Errorf("ledger lock held elsewhere")
		}
		time.Sleep(lockBaseDelay + time.Duration(rand.Int63n(int64(lockBaseDelay))))
	}
	return fmt.Errorf("acquire ledger lock after %d attempts: %w", lockRetries, lastErr)
}
