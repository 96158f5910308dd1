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

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry("coordinator")

	require.NoError(t, r.Register(Definition{Name: "reviewer", Public: true, Timeout: 5 * time.Minute}))
	assert.Equal(t, 1, r.Count())

	def, ok := r.Resolve("reviewer")
	require.True(t, ok)
	assert.True(t, def.Public)
	assert.Equal(t, 5*time.Minute, def.Timeout)
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewRegistry("coordinator")

	require.NoError(t, r.Register(Definition{Name: "reviewer"}))
	assert.Error(t, r.Register(Definition{Name: "reviewer"}))
	assert.Error(t, r.Register(Definition{}))
	assert.Equal(t, 1, r.Count())
}

func TestLookupNativePassthrough(t *testing.T) {
	r := NewRegistry("coordinator")

	def, err := r.Lookup("some-runtime-agent")
	require.NoError(t, err)
	assert.Equal(t, "some-runtime-agent", def.Name)
	assert.True(t, def.Public)
}

func TestLookupStrictRejectsUnknown(t *testing.T) {
	r := NewRegistry("coordinator", WithNativePassthrough(false))
	require.NoError(t, r.Register(Definition{Name: "reviewer", Public: true}))

	def, err := r.Lookup("reviewer")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", def.Name)

	_, err = r.Lookup("some-runtime-agent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveUnknownIsNative(t *testing.T) {
	r := NewRegistry("coordinator")

	_, ok := r.Resolve("some-runtime-agent")
	assert.False(t, ok, "native agents are not in the registry")
	assert.True(t, r.CanInvoke("anyone", "some-runtime-agent"), "native agents pass through")
}

func TestCanInvoke(t *testing.T) {
	r := NewRegistry("coordinator")
	require.NoError(t, r.Register(Definition{Name: "reviewer", Public: true}))
	require.NoError(t, r.Register(Definition{Name: "archivist"}))

	tests := []struct {
		name   string
		caller string
		agent  string
		want   bool
	}{
		{"public agent from anyone", "reviewer", "reviewer", true},
		{"internal agent from coordinator", "coordinator", "archivist", true},
		{"internal agent from non-coordinator", "reviewer", "archivist", false},
		{"native agent from anyone", "reviewer", "native", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanInvoke(tt.caller, tt.agent))
		})
	}
}

func TestListAndCoordinator(t *testing.T) {
	r := NewRegistry("boss")
	require.NoError(t, r.Register(Definition{Name: "a"}))
	require.NoError(t, r.Register(Definition{Name: "b"}))

	assert.Equal(t, "boss", r.Coordinator())
	assert.Len(t, r.List(), 2)
}
