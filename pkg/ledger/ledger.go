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

// Package ledger maintains the projected human-readable view of the
// orchestration state.
//
// The ledger is a pure function of the event stream replay plus a
// compaction policy: at most one active epic, at most 3 tasks per epic,
// the 5 most recent archived epics, the 10 most recent activity lines.
// LEDGER.md carries a YAML front-matter block holding the machine state
// followed by a rendered markdown body; parsing reads only the front
// matter, so hand edits to the body never corrupt the projection.
package ledger

import (
	"fmt"
	"time"
)

// Bounded growth limits.
const (
	MaxEpicTasks = 3
	MaxArchive   = 5
	MaxActivity  = 10
)

// Status is the overall session status.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusHandoff Status = "handoff"
)

// EpicStatus is the lifecycle state of an epic.
type EpicStatus string

const (
	EpicPlanned    EpicStatus = "planned"
	EpicInProgress EpicStatus = "in_progress"
	EpicCompleted  EpicStatus = "completed"
	EpicFailed     EpicStatus = "failed"
	EpicPaused     EpicStatus = "paused"
)

// AssumptionStatus tracks review state of an assumption.
type AssumptionStatus string

const (
	AssumptionPendingReview AssumptionStatus = "pending_review"
	AssumptionApproved      AssumptionStatus = "approved"
	AssumptionRejected      AssumptionStatus = "rejected"
)

// Meta is the ledger header.
type Meta struct {
	SessionID   string    `yaml:"session_id"`
	Status      Status    `yaml:"status"`
	Phase       string    `yaml:"phase,omitempty"`
	LastUpdated time.Time `yaml:"last_updated"`
	TasksDone   int       `yaml:"tasks_done"`
	TasksTotal  int       `yaml:"tasks_total"`
	CurrentTask string    `yaml:"current_task,omitempty"`
}

// Directive is an immutable user decision constraining agents.
type Directive struct {
	Content   string    `yaml:"content"`
	Source    string    `yaml:"source"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Assumption is an agent decision pending review.
type Assumption struct {
	Content   string           `yaml:"content"`
	Source    string           `yaml:"source"`
	Rationale string           `yaml:"rationale,omitempty"`
	Status    AssumptionStatus `yaml:"status"`
	CreatedAt time.Time        `yaml:"created_at"`
}

// Governance holds directives and assumptions in order.
type Governance struct {
	Directives  []Directive  `yaml:"directives,omitempty"`
	Assumptions []Assumption `yaml:"assumptions,omitempty"`
}

// Task is an epic task row.
type Task struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	Agent     string    `yaml:"agent,omitempty"`
	Status    string    `yaml:"status"`
	Outcome   string    `yaml:"outcome,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Epic is a bounded unit of work with at most MaxEpicTasks tasks.
type Epic struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Request     string     `yaml:"request,omitempty"`
	Status      EpicStatus `yaml:"status"`
	CreatedAt   time.Time  `yaml:"created_at"`
	CompletedAt time.Time  `yaml:"completed_at,omitempty"`
	Tasks       []Task     `yaml:"tasks,omitempty"`
	Context     []string   `yaml:"context,omitempty"`
	ProgressLog []string   `yaml:"progress_log,omitempty"`
}

// Learnings holds the four typed learning lists.
type Learnings struct {
	Patterns     []string `yaml:"patterns,omitempty"`
	AntiPatterns []string `yaml:"anti_patterns,omitempty"`
	Decisions    []string `yaml:"decisions,omitempty"`
	Preferences  []string `yaml:"preferences,omitempty"`
}

// Handoff is a snapshot of in-progress work for cross-session resume.
type Handoff struct {
	ID                string    `yaml:"id"`
	Decisions         []string  `yaml:"decisions,omitempty"`
	Plan              []string  `yaml:"plan,omitempty"`
	AffectedFiles     []string  `yaml:"affected_files,omitempty"`
	RelevantLearnings []string  `yaml:"relevant_learnings,omitempty"`
	CreatedAt         time.Time `yaml:"created_at"`
}

// ArchivedEpic is a compacted record of a finished epic.
type ArchivedEpic struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Status      EpicStatus `yaml:"status"`
	CompletedAt time.Time  `yaml:"completed_at"`
}

// Ledger is the full projected state.
type Ledger struct {
	Meta       Meta           `yaml:"meta"`
	Governance Governance     `yaml:"governance"`
	Epic       *Epic          `yaml:"epic,omitempty"`
	Activity   []string       `yaml:"activity,omitempty"`
	Learnings  Learnings      `yaml:"learnings"`
	Handoff    *Handoff       `yaml:"handoff,omitempty"`
	Archive    []ArchivedEpic `yaml:"archive,omitempty"`
}

// New creates an empty active ledger for a session.
func New(sessionID string) *Ledger {
	return &Ledger{
		Meta: Meta{
			SessionID:   sessionID,
			Status:      StatusActive,
			LastUpdated: time.Now(),
		},
	}
}

func (l *Ledger) touch() {
	l.Meta.LastUpdated = time.Now()
}

// AddDirective appends a directive.
func (l *Ledger) AddDirective(content, source string) {
	l.Governance.Directives = append(l.Governance.Directives, Directive{
		Content:   content,
		Source:    source,
		CreatedAt: time.Now(),
	})
	l.touch()
}

// AddAssumption appends an assumption in pending review state.
func (l *Ledger) AddAssumption(content, source, rationale string) {
	l.Governance.Assumptions = append(l.Governance.Assumptions, Assumption{
		Content:   content,
		Source:    source,
		Rationale: rationale,
		Status:    AssumptionPendingReview,
		CreatedAt: time.Now(),
	})
	l.touch()
}

// StartEpic installs a new active epic, archiving any current one. At
// most one epic is active at any time.
func (l *Ledger) StartEpic(epic *Epic) {
	if l.Epic != nil {
		l.archiveCurrentEpic()
	}
	if epic.Status == "" {
		epic.Status = EpicPlanned
	}
	if epic.CreatedAt.IsZero() {
		epic.CreatedAt = time.Now()
	}
	l.Epic = epic
	l.recountTasks()
	l.touch()
}

// AddTask appends a task to the active epic. Returns an error when no
// epic is active or the epic already holds MaxEpicTasks tasks.
func (l *Ledger) AddTask(t Task) error {
	if l.Epic == nil {
		return fmt.Errorf("no active epic")
	}
	if len(l.Epic.Tasks) >= MaxEpicTasks {
		return fmt.Errorf("epic %s already has %d tasks", l.Epic.ID, MaxEpicTasks)
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = "pending"
	}
	l.Epic.Tasks = append(l.Epic.Tasks, t)
	l.recountTasks()
	l.touch()
	return nil
}

// UpdateTask mutates the epic task with the given id. Unknown ids are
// ignored and reported false.
func (l *Ledger) UpdateTask(id string, mutate func(*Task)) bool {
	if l.Epic == nil {
		return false
	}
	for i := range l.Epic.Tasks {
		if l.Epic.Tasks[i].ID == id {
			mutate(&l.Epic.Tasks[i])
			l.Epic.Tasks[i].UpdatedAt = time.Now()
			l.recountTasks()
			l.touch()
			return true
		}
	}
	return false
}

// FinishEpic marks the active epic terminal and moves it to the
// archive, which retains only the MaxArchive most recent entries.
func (l *Ledger) FinishEpic(status EpicStatus) {
	if l.Epic == nil {
		return
	}
	l.Epic.Status = status
	l.Epic.CompletedAt = time.Now()
	l.archiveCurrentEpic()
	l.touch()
}

func (l *Ledger) archiveCurrentEpic() {
	epic := l.Epic
	completedAt := epic.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	l.Archive = append(l.Archive, ArchivedEpic{
		ID:          epic.ID,
		Title:       epic.Title,
		Status:      epic.Status,
		CompletedAt: completedAt,
	})
	if len(l.Archive) > MaxArchive {
		l.Archive = l.Archive[len(l.Archive)-MaxArchive:]
	}
	l.Epic = nil
	l.Meta.TasksDone = 0
	l.Meta.TasksTotal = 0
	l.Meta.CurrentTask = ""
}

// AppendProgress appends a line to the active epic's progress log.
func (l *Ledger) AppendProgress(line string) {
	if l.Epic == nil {
		return
	}
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04"), line)
	l.Epic.ProgressLog = append(l.Epic.ProgressLog, stamped)
	l.touch()
}

// AppendActivity appends to the activity ring, keeping the MaxActivity
// most recent entries.
func (l *Ledger) AppendActivity(line string) {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04"), line)
	l.Activity = append(l.Activity, stamped)
	if len(l.Activity) > MaxActivity {
		l.Activity = l.Activity[len(l.Activity)-MaxActivity:]
	}
	l.touch()
}

// AddLearning appends content to the typed learning list. Duplicate
// content within a list is rejected; returns whether it was added.
func (l *Ledger) AddLearning(learningType, content string) bool {
	var list *[]string
	switch learningType {
	case "pattern", "correction":
		list = &l.Learnings.Patterns
	case "anti_pattern":
		list = &l.Learnings.AntiPatterns
	case "decision":
		list = &l.Learnings.Decisions
	case "preference":
		list = &l.Learnings.Preferences
	default:
		return false
	}
	for _, existing := range *list {
		if existing == content {
			return false
		}
	}
	*list = append(*list, content)
	l.touch()
	return true
}

// SetHandoff installs the pending handoff and flips the session status.
func (l *Ledger) SetHandoff(h *Handoff) {
	if h != nil && h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	l.Handoff = h
	if h != nil {
		l.Meta.Status = StatusHandoff
	}
	l.touch()
}

// ResumeHandoff clears the handoff and reactivates the session.
func (l *Ledger) ResumeHandoff() *Handoff {
	h := l.Handoff
	l.Handoff = nil
	l.Meta.Status = StatusActive
	l.touch()
	return h
}

// PauseEpic marks the epic and session paused with an intervention
// message in the progress log.
func (l *Ledger) PauseEpic(reason string) {
	l.Meta.Status = StatusPaused
	if l.Epic != nil {
		l.Epic.Status = EpicPaused
	}
	l.AppendProgress("⚠️ intervention required: " + reason)
}

func (l *Ledger) recountTasks() {
	if l.Epic == nil {
		return
	}
	done := 0
	for _, t := range l.Epic.Tasks {
		if t.Status == "completed" {
			done++
		}
	}
	l.Meta.TasksDone = done
	l.Meta.TasksTotal = len(l.Epic.Tasks)
}

// TasksCompleted renders the "done/total" counter.
func (m Meta) TasksCompleted() string {
	return fmt.Sprintf("%d/%d", m.TasksDone, m.TasksTotal)
}
