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
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// statusMarker maps internal task statuses to distinct visual markers.
// stale must stay visually distinct from suspended.
func statusMarker(status string) string {
	switch status {
	case "pending":
		return "⬜"
	case "running":
		return "🔄"
	case "completed":
		return "✅"
	case "failed":
		return "❌"
	case "timeout":
		return "⏰"
	case "suspended":
		return "⏸️"
	case "stale":
		return "🧊"
	default:
		return "·"
	}
}

// Render serializes the ledger: YAML front matter (machine state)
// followed by the human-readable markdown body.
func Render(l *Ledger) ([]byte, error) {
	state, err := yaml.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger state: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	b.Write(state)
	b.WriteString(frontMatterDelim + "\n\n")

	b.WriteString("# Orchestration Ledger\n\n")
	b.WriteString(fmt.Sprintf("- **Session**: `%s`\n", l.Meta.SessionID))
	b.WriteString(fmt.Sprintf("- **Status**: %s\n", l.Meta.Status))
	if l.Meta.Phase != "" {
		b.WriteString(fmt.Sprintf("- **Phase**: %s\n", l.Meta.Phase))
	}
	b.WriteString(fmt.Sprintf("- **Tasks Completed**: %s\n", l.Meta.TasksCompleted()))
	if l.Meta.CurrentTask != "" {
		b.WriteString(fmt.Sprintf("- **Current Task**: %s\n", l.Meta.CurrentTask))
	}
	b.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", l.Meta.LastUpdated.Format("2006-01-02 15:04:05")))

	if len(l.Governance.Directives) > 0 || len(l.Governance.Assumptions) > 0 {
		b.WriteString("\n## Governance\n")
		if len(l.Governance.Directives) > 0 {
			b.WriteString("\n### Directives\n\n")
			for i, d := range l.Governance.Directives {
				b.WriteString(fmt.Sprintf("%d. %s _(%s)_\n", i+1, d.Content, d.Source))
			}
		}
		if len(l.Governance.Assumptions) > 0 {
			b.WriteString("\n### Assumptions\n\n")
			for _, a := range l.Governance.Assumptions {
				check := " "
				if a.Status == AssumptionApproved {
					check = "x"
				}
				line := fmt.Sprintf("- [%s] %s — %s (%s)", check, a.Content, a.Rationale, a.Status)
				if a.Rationale == "" {
					line = fmt.Sprintf("- [%s] %s (%s)", check, a.Content, a.Status)
				}
				b.WriteString(line + "\n")
			}
		}
	}

	if l.Epic != nil {
		b.WriteString(fmt.Sprintf("\n## Current Epic: %s\n\n", l.Epic.Title))
		b.WriteString(fmt.Sprintf("- **ID**: `%s`\n", l.Epic.ID))
		b.WriteString(fmt.Sprintf("- **Status**: %s\n", l.Epic.Status))
		if l.Epic.Request != "" {
			b.WriteString(fmt.Sprintf("- **Request**: %s\n", l.Epic.Request))
		}

		if len(l.Epic.Tasks) > 0 {
			b.WriteString("\n### Tasks\n\n")
			b.WriteString("| | Task | Agent | Status |\n")
			b.WriteString("|---|---|---|---|\n")
			for _, t := range l.Epic.Tasks {
				b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
					statusMarker(t.Status), t.Title, t.Agent, t.Status))
			}
		}

		if len(l.Epic.Context) > 0 {
			b.WriteString("\n### Context\n\n")
			for _, c := range l.Epic.Context {
				b.WriteString("- " + c + "\n")
			}
		}

		if len(l.Epic.ProgressLog) > 0 {
			b.WriteString("\n### Progress Log\n\n")
			for _, p := range l.Epic.ProgressLog {
				b.WriteString("- " + p + "\n")
			}
		}
	}

	if len(l.Activity) > 0 {
		b.WriteString("\n## Recent Activity\n\n")
		for _, a := range l.Activity {
			b.WriteString("- " + a + "\n")
		}
	}

	renderLearnings(&b, "Patterns", l.Learnings.Patterns)
	renderLearnings(&b, "Anti-Patterns", l.Learnings.AntiPatterns)
	renderLearnings(&b, "Decisions", l.Learnings.Decisions)
	renderLearnings(&b, "Preferences", l.Learnings.Preferences)

	if l.Handoff != nil {
		b.WriteString("\n## Handoff\n\n")
		b.WriteString(fmt.Sprintf("- **ID**: `%s`\n", l.Handoff.ID))
		renderList(&b, "Decisions", l.Handoff.Decisions)
		renderList(&b, "Plan", l.Handoff.Plan)
		renderList(&b, "Affected Files", l.Handoff.AffectedFiles)
		renderList(&b, "Relevant Learnings", l.Handoff.RelevantLearnings)
	}

	if len(l.Archive) > 0 {
		b.WriteString("\n## Archive\n\n")
		for _, a := range l.Archive {
			b.WriteString(fmt.Sprintf("- `%s` %s — %s (%s)\n",
				a.ID, a.Title, a.Status, a.CompletedAt.Format("2006-01-02")))
		}
	}

	return []byte(b.String()), nil
}

func renderLearnings(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n## Learnings: %s\n\n", title))
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

func renderList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n### %s\n\n", title))
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

// Parse reads a rendered ledger back. Only the front matter is
// authoritative; the markdown body is a derived view.
func Parse(data []byte) (*Ledger, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, fmt.Errorf("ledger missing front matter")
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("ledger front matter not terminated")
	}

	var l Ledger
	if err := yaml.Unmarshal([]byte(rest[:end]), &l); err != nil {
		return nil, fmt.Errorf("parse ledger state: %w", err)
	}
	return &l, nil
}
