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

package raft

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"raftd/internal/compression"
	raerr "raftd/internal/errors"
)

// PersistentState is the durable {currentTerm, votedFor, log[]} mapping
// every server must write through before any RPC reply depending on it.
type PersistentState struct {
	CurrentTerm uint64     `json:"currentTerm"`
	VotedFor    string     `json:"votedFor"`
	Log         []LogEntry `json:"log"`
}

// Store loads and durably persists a server's PersistentState.
type Store interface {
	Load() (PersistentState, error)
	Save(PersistentState) error
}

var sanitizeID = regexp.MustCompile(`[.:]`)

// FileName returns the per-server persistent file name, sanitizing
// characters ('.' and ':' from host:port identities) that aren't safe
// to use verbatim as part of a filename.
func FileName(serverID string) string {
	return sanitizeID.ReplaceAllString(serverID, "-") + ".raft"
}

// FileStore persists state as a single JSON file under varDir, written
// atomically (temp file + rename) so a crash mid-write can never leave
// a half-written file behind. The payload may optionally be compressed
// according to codec (see internal/compression); codec "" or "none"
// stores plain JSON.
type FileStore struct {
	path       string
	compressor *compression.Compressor
	algo       compression.Algorithm
}

// NewFileStore builds a FileStore for serverID rooted at varDir, using
// the named persistence codec ("none", "lz4", "snappy", "zstd").
func NewFileStore(varDir, serverID, codec string) (*FileStore, error) {
	if err := os.MkdirAll(varDir, 0755); err != nil {
		return nil, raerr.VarDirUnreachable(varDir).WithCause(err)
	}

	algo, err := compression.ParseAlgorithm(codec)
	if err != nil {
		return nil, raerr.NewConfigError(err.Error())
	}

	cfg := compression.DefaultConfig()
	cfg.Algorithm = algo
	cfg.MinSize = 0 // state files are small; always apply the configured codec

	return &FileStore{
		path:       filepath.Join(varDir, FileName(serverID)),
		compressor: compression.NewCompressor(cfg),
		algo:       algo,
	}, nil
}

// Load reads the persistent file, returning zero-value defaults
// (currentTerm=0, votedFor="", empty log) if it does not yet exist.
func (s *FileStore) Load() (PersistentState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return PersistentState{VotedFor: ""}, nil
		}
		return PersistentState{}, raerr.CorruptState(s.path).WithCause(err)
	}

	decoded, err := s.compressor.Decompress(raw, s.algo)
	if err != nil {
		return PersistentState{}, raerr.CorruptState(s.path).WithCause(err)
	}

	var state PersistentState
	if err := json.Unmarshal(decoded, &state); err != nil {
		return PersistentState{}, raerr.CorruptState(s.path).WithCause(err)
	}
	return state, nil
}

// Save durably writes state, replacing the file atomically. A failure
// here is fatal per the error-handling design: the server must halt
// rather than reply with state it could not persist.
func (s *FileStore) Save(state PersistentState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return raerr.WriteFailed(s.path).WithCause(err)
	}

	compressed, err := s.compressor.Compress(encoded)
	if err != nil {
		return raerr.WriteFailed(s.path).WithCause(err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return raerr.WriteFailed(s.path).WithCause(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return raerr.WriteFailed(s.path).WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return raerr.FlushFailed(err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return raerr.WriteFailed(s.path).WithCause(err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return raerr.WriteFailed(s.path).WithCause(err)
	}
	return nil
}

// memoryStore is a non-durable Store used by tests that don't want to
// touch the filesystem.
type memoryStore struct {
	state PersistentState
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (m *memoryStore) Load() (PersistentState, error) { return m.state, nil }
func (m *memoryStore) Save(s PersistentState) error    { m.state = s; return nil }

func trimmedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
