/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"os"
)

// CLIError represents a CLI error with suggestions.
type CLIError struct {
	Message     string
	Detail      string
	Suggestions []string
	ExitCode    int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Print prints the error with formatting.
func (e *CLIError) Print() {
	fmt.Printf("\n%s %s\n", ErrorIcon(), Error(e.Message))
	
	if e.Detail != "" {
		fmt.Printf("  %s\n", Dimmed(e.Detail))
	}
	
	if len(e.Suggestions) > 0 {
		fmt.Println()
		fmt.Printf("  %s\n", Highlight("Suggestions:"))
		for _, s := range e.Suggestions {
			fmt.Printf("    - %s\n", s)
		}
	}
	fmt.Println()
}

// Exit prints the error and exits with the error code.
func (e *CLIError) Exit() {
	e.Print()
	os.Exit(e.ExitCode)
}

// NewCLIError creates a new CLI error.
func NewCLIError(message string) *CLIError {
	return &CLIError{
		Message:  message,
		ExitCode: 1,
	}
}

// WithDetail adds detail to the error.
func (e *CLIError) WithDetail(detail string) *CLIError {
	e.Detail = detail
	return e
}

// WithSuggestion adds a suggestion to the error.
func (e *CLIError) WithSuggestion(suggestion string) *CLIError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithExitCode sets the exit code.
func (e *CLIError) WithExitCode(code int) *CLIError {
	e.ExitCode = code
	return e
}

// Common CLI errors raftctl surfaces, with suggestions specific to
// inspecting a raft server's persistent file offline -- raftctl never
// dials a live node, so these have no connection- or auth-failure
// shape to preserve from the teacher's SQL REPL.

// ErrMissingServerID creates the error shown when -id is not supplied.
func ErrMissingServerID() *CLIError {
	return NewCLIError("Missing required flag: -id").
		WithSuggestion("Specify the server id whose persistent file to open, e.g. -id=node-a:7950").
		WithSuggestion("The id must match the raft.server_id (or host:port) the server was run with")
}

// ErrStoreNotFound creates the error shown when the store for a
// persistent file cannot be set up: the var dir cannot be created or
// the codec is unknown. A missing file is not an error; it loads as an
// empty state.
func ErrStoreNotFound(path string, cause error) *CLIError {
	return NewCLIError("Failed to open persistent file").
		WithDetail(fmt.Sprintf("%s: %v", path, cause)).
		WithSuggestion("Check that -var-dir and -id match where the server writes its state").
		WithSuggestion("Check that -codec names a supported codec")
}

// ErrCorruptPersistentFile creates the error shown when a persistent
// file exists but cannot be decoded.
func ErrCorruptPersistentFile(path string, cause error) *CLIError {
	return NewCLIError("Failed to read persistent file").
		WithDetail(fmt.Sprintf("%s: %v", path, cause)).
		WithSuggestion("Check that -codec matches the codec the server was run with").
		WithSuggestion("FileStore.Save writes atomically, so a truncated file usually means it was written by a different codec")
}

// ErrUnknownCommand creates the error shown for an unrecognized shell command.
func ErrUnknownCommand(cmd string) *CLIError {
	return NewCLIError(fmt.Sprintf("Unknown command: %s", cmd)).
		WithSuggestion("Type 'help' for a list of available commands")
}

