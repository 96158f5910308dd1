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

package learning

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists learnings in a local sqlite database and retrieves
// them by keyword for prompt injection.
type SQLStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS learnings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL UNIQUE,
	confidence REAL NOT NULL,
	session_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_learnings_type ON learnings(type);
`

// OpenStore opens (or creates) the learning database at path.
func OpenStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create learning store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize learning store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Save inserts a learning. Duplicate content is silently ignored.
func (s *SQLStore) Save(l Learning) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO learnings (type, content, confidence, session_id) VALUES (?, ?, ?, ?)`,
		l.Type, l.Content, l.Confidence, l.SessionID)
	if err != nil {
		return fmt.Errorf("save learning: %w", err)
	}
	return nil
}

// Search returns up to limit learning contents matching any keyword,
// highest confidence first. Satisfies the spawner's LearningSource.
func (s *SQLStore) Search(keywords []string, limit int) ([]string, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for _, kw := range keywords {
		conditions = append(conditions, "content LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	query := `SELECT content FROM learnings WHERE ` +
		strings.Join(conditions, " OR ") +
		` ORDER BY confidence DESC, created_at DESC LIMIT ?`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search learnings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// ByType returns up to limit learnings of one type, newest first.
func (s *SQLStore) ByType(learningType string, limit int) ([]Learning, error) {
	rows, err := s.db.Query(
		`SELECT type, content, confidence, COALESCE(session_id, '')
		 FROM learnings WHERE type = ? ORDER BY created_at DESC LIMIT ?`,
		learningType, limit)
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}
	defer rows.Close()

	var out []Learning
	for rows.Next() {
		var l Learning
		if err := rows.Scan(&l.Type, &l.Content, &l.Confidence, &l.SessionID); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns the total number of stored learnings.
func (s *SQLStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM learnings`).Scan(&n)
	return n, err
}

// Close releases the database handle. Part of the shutdown protocol.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
