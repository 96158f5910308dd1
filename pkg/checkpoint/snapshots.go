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

package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// snapshotStore writes one JSON file per requested checkpoint, bounded
// to maxFiles by FIFO eviction. Snapshots are an operator convenience;
// the event log remains the source of truth.
type snapshotStore struct {
	dir      string
	maxFiles int
	mu       sync.Mutex
}

func newSnapshotStore(dir string, maxFiles int) *snapshotStore {
	if maxFiles <= 0 {
		maxFiles = 20
	}
	return &snapshotStore{dir: dir, maxFiles: maxFiles}
}

func (s *snapshotStore) write(c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// RequestedAt prefix keeps lexical order equal to request order.
	name := fmt.Sprintf("%013d_%s.json", c.RequestedAt.UnixMilli(), c.ID)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return err
	}
	return s.pruneLocked()
}

func (s *snapshotStore) pruneLocked() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= s.maxFiles {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.maxFiles] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}
