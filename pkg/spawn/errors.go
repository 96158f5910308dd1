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

import "fmt"

// Code identifies a spawn failure class for callers and logs.
type Code string

const (
	CodeNoContext            Code = "NO_CONTEXT"
	CodeMissingArgument      Code = "MISSING_ARGUMENT"
	CodeAgentNotFound        Code = "AGENT_NOT_FOUND"
	CodeAccessDenied         Code = "ACCESS_DENIED"
	CodeRecursionDetected    Code = "RECURSION_DETECTED"
	CodeSessionCreateFailed  Code = "SESSION_CREATE_FAILED"
	CodePromptFailed         Code = "PROMPT_FAILED"
	CodeAgentExecutionFailed Code = "AGENT_EXECUTION_FAILED"
	CodeSpawnFailed          Code = "SPAWN_FAILED"
)

// Error is a coded spawn failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errf(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from a spawn error, or CodeSpawnFailed for
// anything else.
func CodeOf(err error) Code {
	if se, ok := err.(*Error); ok {
		return se.Code
	}
	return CodeSpawnFailed
}
