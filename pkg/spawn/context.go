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

package spawn

import (
	"fmt"
	"strings"

	"github.com/conductor-ai/conductor/pkg/ledger"
)

const (
	// MaxKeywords bounds keyword extraction from a prompt.
	MaxKeywords = 8

	// DefaultLearningLimit is K, the number of learnings injected per
	// prompt.
	DefaultLearningLimit = 5
)

// LearningSource retrieves stored learnings relevant to keywords.
// Implemented by the learning memory store.
type LearningSource interface {
	Search(keywords []string, limit int) ([]string, error)
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "this": {}, "that": {}, "with": {},
	"from": {}, "your": {}, "have": {}, "has": {}, "was": {}, "were": {},
	"will": {}, "would": {}, "should": {}, "could": {}, "into": {},
	"then": {}, "than": {}, "when": {}, "what": {}, "which": {},
	"their": {}, "there": {}, "about": {}, "these": {}, "those": {},
	"been": {}, "being": {}, "also": {}, "each": {}, "other": {},
	"some": {}, "such": {}, "only": {}, "over": {}, "very": {},
	"use": {}, "using": {}, "make": {}, "made": {}, "please": {},
}

// ExtractKeywords tokenizes a prompt into search keywords: lowercase
// alphanumeric words longer than two characters, stop words removed,
// first MaxKeywords distinct hits kept in order of appearance.
func ExtractKeywords(prompt string) []string {
	seen := make(map[string]struct{})
	var keywords []string

	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}

// AssembleContext builds the pre-prompt block for a delegation:
// mandatory directives, up to DefaultLearningLimit relevant learnings,
// and the pending handoff when the agent requires context. Returns ""
// when nothing applies.
func AssembleContext(l *ledger.Ledger, learnings LearningSource, prompt string, requiresContext bool) string {
	var sections []string

	if l != nil && len(l.Governance.Directives) > 0 {
		var b strings.Builder
		b.WriteString("## Directives\n")
		for _, d := range l.Governance.Directives {
			b.WriteString("- " + d.Content + "\n")
		}
		sections = append(sections, b.String())
	}

	if learnings != nil {
		if keywords := ExtractKeywords(prompt); len(keywords) > 0 {
			if hits, err := learnings.Search(keywords, DefaultLearningLimit); err == nil && len(hits) > 0 {
				var b strings.Builder
				b.WriteString("## Relevant Learnings\n")
				for _, h := range hits {
					b.WriteString("- " + h + "\n")
				}
				sections = append(sections, b.String())
			}
		}
	}

	if requiresContext && l != nil && l.Handoff != nil {
		var b strings.Builder
		b.WriteString("## Handoff Context\n")
		writeHandoffList(&b, "Decisions", l.Handoff.Decisions)
		writeHandoffList(&b, "Plan", l.Handoff.Plan)
		writeHandoffList(&b, "Affected Files", l.Handoff.AffectedFiles)
		writeHandoffList(&b, "Relevant Learnings", l.Handoff.RelevantLearnings)
		sections = append(sections, b.String())
	}

	if len(sections) == 0 {
		return ""
	}
	return strings.Join(sections, "\n")
}

func writeHandoffList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("### %s\n", title))
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}
