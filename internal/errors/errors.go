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

/*
Package errors provides structured error handling for raftd.

Error categories map directly onto the taxonomy a Raft node actually
raises:
  - ConfigError: bad election timeout range, unparsable peer list,
    unreachable var_dir
  - PersistenceError: the on-disk term/vote/log store failed to flush
  - ProtocolError: a malformed or stale-term RPC frame
  - ElectionError: a vote or term transition invariant was violated
  - LogConsistencyError: an AppendEntries consistency check failed
*/
package errors

import (
	"fmt"
)

// ErrorCode identifies a specific error condition.
type ErrorCode int

const (
	// Config errors (1000-1999)
	ErrCodeConfig            ErrorCode = 1000
	ErrCodeInvalidTimeout    ErrorCode = 1001
	ErrCodeInvalidPeerList   ErrorCode = 1002
	ErrCodeVarDirUnreachable ErrorCode = 1003

	// Persistence errors (2000-2999)
	ErrCodePersistence     ErrorCode = 2000
	ErrCodeWriteFailed     ErrorCode = 2001
	ErrCodeCorruptState    ErrorCode = 2002
	ErrCodeFlushFailed     ErrorCode = 2003

	// Protocol errors (3000-3999)
	ErrCodeProtocol      ErrorCode = 3000
	ErrCodeStaleTerm     ErrorCode = 3001
	ErrCodeMalformedRPC  ErrorCode = 3002
	ErrCodeFrameTooLarge ErrorCode = 3003

	// Election errors (4000-4999)
	ErrCodeElection          ErrorCode = 4000
	ErrCodeDoubleVote        ErrorCode = 4001
	ErrCodeTermRegression    ErrorCode = 4002
	ErrCodeSplitBrain        ErrorCode = 4003

	// Log consistency errors (5000-5999)
	ErrCodeLogConsistency ErrorCode = 5000
	ErrCodeConflictingLog ErrorCode = 5001
	ErrCodeMissingPrevLog ErrorCode = 5002
)

// Category groups related error codes.
type Category string

const (
	CategoryConfig         Category = "CONFIG"
	CategoryPersistence    Category = "PERSISTENCE"
	CategoryProtocol       Category = "PROTOCOL"
	CategoryElection       Category = "ELECTION"
	CategoryLogConsistency Category = "LOG_CONSISTENCY"
)

// RaftError is a structured error carrying a code, category, and
// optional detail/hint/cause for operator-facing diagnostics.
type RaftError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Detail   string
	Hint     string
	Cause    error
}

func (e *RaftError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ERROR %d (%s): %s - %s", e.Code, e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *RaftError) Unwrap() error {
	return e.Cause
}

// UserMessage renders an operator-facing message including any hint.
func (e *RaftError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHINT: %s", e.Hint)
	}
	return msg
}

// WithDetail attaches additional detail.
func (e *RaftError) WithDetail(detail string) *RaftError {
	e.Detail = detail
	return e
}

// WithHint attaches an operator hint.
func (e *RaftError) WithHint(hint string) *RaftError {
	e.Hint = hint
	return e
}

// WithCause attaches the underlying cause.
func (e *RaftError) WithCause(cause error) *RaftError {
	e.Cause = cause
	return e
}

// ----------------------------------------------------------------------
// Config error constructors
// ----------------------------------------------------------------------

func NewConfigError(message string) *RaftError {
	return &RaftError{Code: ErrCodeConfig, Category: CategoryConfig, Message: message}
}

func InvalidTimeoutRange(min, max int) *RaftError {
	return &RaftError{
		Code:     ErrCodeInvalidTimeout,
		Category: CategoryConfig,
		Message:  fmt.Sprintf("election_timeout_min (%d) must be less than election_timeout_max (%d)", min, max),
		Hint:     "Widen the election timeout range so min < max and both exceed the heartbeat period",
	}
}

func InvalidPeerList(entry string) *RaftError {
	return &RaftError{
		Code:     ErrCodeInvalidPeerList,
		Category: CategoryConfig,
		Message:  fmt.Sprintf("invalid peer entry: %q", entry),
		Hint:     "Each peer line must be \"address port\"",
	}
}

func VarDirUnreachable(path string) *RaftError {
	return &RaftError{
		Code:     ErrCodeVarDirUnreachable,
		Category: CategoryConfig,
		Message:  fmt.Sprintf("var_dir is not writable: %s", path),
	}
}

// ----------------------------------------------------------------------
// Persistence error constructors
// ----------------------------------------------------------------------

func NewPersistenceError(message string) *RaftError {
	return &RaftError{Code: ErrCodePersistence, Category: CategoryPersistence, Message: message}
}

func WriteFailed(path string) *RaftError {
	return &RaftError{
		Code:     ErrCodeWriteFailed,
		Category: CategoryPersistence,
		Message:  fmt.Sprintf("failed to write persistent state to %s", path),
		Hint:     "The server must halt rather than reply with unpersisted state",
	}
}

func CorruptState(path string) *RaftError {
	return &RaftError{
		Code:     ErrCodeCorruptState,
		Category: CategoryPersistence,
		Message:  fmt.Sprintf("persistent state file is corrupt: %s", path),
	}
}

func FlushFailed(reason string) *RaftError {
	return &RaftError{
		Code:     ErrCodeFlushFailed,
		Category: CategoryPersistence,
		Message:  "flush to durable storage failed",
		Detail:   reason,
	}
}

// ----------------------------------------------------------------------
// Protocol error constructors
// ----------------------------------------------------------------------

func NewProtocolError(message string) *RaftError {
	return &RaftError{Code: ErrCodeProtocol, Category: CategoryProtocol, Message: message}
}

func StaleTerm(theirs, ours uint64) *RaftError {
	return &RaftError{
		Code:     ErrCodeStaleTerm,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("rejected RPC with stale term %d (current term %d)", theirs, ours),
	}
}

func MalformedRPC(detail string) *RaftError {
	return &RaftError{
		Code:     ErrCodeMalformedRPC,
		Category: CategoryProtocol,
		Message:  "malformed RPC frame",
		Detail:   detail,
	}
}

func FrameTooLarge(size, max uint32) *RaftError {
	return &RaftError{
		Code:     ErrCodeFrameTooLarge,
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("frame of %d bytes exceeds maximum of %d", size, max),
	}
}

// ----------------------------------------------------------------------
// Election error constructors
// ----------------------------------------------------------------------

func NewElectionError(message string) *RaftError {
	return &RaftError{Code: ErrCodeElection, Category: CategoryElection, Message: message}
}

func DoubleVote(term uint64, existing, requested string) *RaftError {
	return &RaftError{
		Code:     ErrCodeDoubleVote,
		Category: CategoryElection,
		Message:  fmt.Sprintf("already voted for %q in term %d, refusing %q", existing, term, requested),
	}
}

func TermRegression(current, attempted uint64) *RaftError {
	return &RaftError{
		Code:     ErrCodeTermRegression,
		Category: CategoryElection,
		Message:  fmt.Sprintf("refusing to move currentTerm backward from %d to %d", current, attempted),
	}
}

func SplitBrain(term uint64, a, b string) *RaftError {
	return &RaftError{
		Code:     ErrCodeSplitBrain,
		Category: CategoryElection,
		Message:  fmt.Sprintf("two leaders observed in term %d: %q and %q", term, a, b),
	}
}

// ----------------------------------------------------------------------
// Log consistency error constructors
// ----------------------------------------------------------------------

func NewLogConsistencyError(message string) *RaftError {
	return &RaftError{Code: ErrCodeLogConsistency, Category: CategoryLogConsistency, Message: message}
}

func ConflictingLog(index, theirTerm, ourTerm uint64) *RaftError {
	return &RaftError{
		Code:     ErrCodeConflictingLog,
		Category: CategoryLogConsistency,
		Message:  fmt.Sprintf("log entry at index %d has term %d, leader expects %d", index, ourTerm, theirTerm),
	}
}

func MissingPrevLog(prevLogIndex uint64) *RaftError {
	return &RaftError{
		Code:     ErrCodeMissingPrevLog,
		Category: CategoryLogConsistency,
		Message:  fmt.Sprintf("log is shorter than prevLogIndex %d", prevLogIndex),
	}
}

// ----------------------------------------------------------------------
// Category checks and helpers
// ----------------------------------------------------------------------

func IsConfigError(err error) bool         { return categoryOf(err) == CategoryConfig }
func IsPersistenceError(err error) bool    { return categoryOf(err) == CategoryPersistence }
func IsProtocolError(err error) bool       { return categoryOf(err) == CategoryProtocol }
func IsElectionError(err error) bool       { return categoryOf(err) == CategoryElection }
func IsLogConsistencyError(err error) bool { return categoryOf(err) == CategoryLogConsistency }

func categoryOf(err error) Category {
	if re, ok := err.(*RaftError); ok {
		return re.Category
	}
	return ""
}

// GetCode returns the error code, or 0 if err is not a *RaftError.
func GetCode(err error) ErrorCode {
	if re, ok := err.(*RaftError); ok {
		return re.Code
	}
	return 0
}

// FormatError renders any error the way an operator should see it.
func FormatError(err error) string {
	if re, ok := err.(*RaftError); ok {
		return re.UserMessage()
	}
	return fmt.Sprintf("ERROR: %s", err.Error())
}
