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
	"errors"
	"testing"
)

// failingStore's Save always fails, for exercising the halt-on-persist-
// failure path without touching the filesystem.
type failingStore struct{}

func (failingStore) Load() (PersistentState, error) { return PersistentState{}, nil }
func (failingStore) Save(PersistentState) error      { return errors.New("disk full") }

// withHaltCapture overrides exitFunc for the duration of a test so a
// halt can be observed instead of killing the test binary, and restores
// the real exitFunc afterward.
func withHaltCapture(t *testing.T) *bool {
	t.Helper()
	halted := false
	prev := exitFunc
	exitFunc = func(int) { halted = true }
	t.Cleanup(func() { exitFunc = prev })
	return &halted
}

func TestHandleAppendEntries_HaltsOnPersistFailureWithoutDisclosingTerm(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("s1", "s2")
	s.store = failingStore{}
	s.currentTerm = 3

	reply := s.HandleAppendEntries(AppendEntriesArgs{Term: 7, LeaderID: "s2"})

	if !*halted {
		t.Fatalf("expected a persist failure while adopting a higher term to halt the process")
	}
	if reply.Success {
		t.Fatalf("a reply following a persist failure must not report success")
	}
	if reply.Term != 3 {
		t.Fatalf("reply must report the last durably persisted term (3), got %d -- this discloses unpersisted state", reply.Term)
	}
}

func TestHandleRequestVote_HaltsOnTermPersistFailureWithoutDisclosingTerm(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("s1", "s2")
	s.store = failingStore{}
	s.currentTerm = 1

	reply := s.HandleRequestVote(RequestVoteArgs{Term: 6, CandidateID: "s2"})

	if !*halted {
		t.Fatalf("expected a persist failure while adopting a higher term to halt the process")
	}
	if reply.VoteGranted {
		t.Fatalf("a reply following a persist failure must not grant a vote")
	}
	if reply.Term != 1 {
		t.Fatalf("reply must report the last durably persisted term (1), got %d -- this discloses unpersisted state", reply.Term)
	}
}

func TestHandleRequestVote_HaltsOnVotePersistFailure(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("s1", "s2")
	s.store = failingStore{}
	s.currentTerm = 4

	reply := s.HandleRequestVote(RequestVoteArgs{Term: 4, CandidateID: "s2"})

	if !*halted {
		t.Fatalf("expected a persist failure while recording a vote to halt the process")
	}
	if reply.VoteGranted {
		t.Fatalf("a reply following a persist failure must not grant a vote")
	}
}

func TestBecomeCandidateLocked_HaltsOnPersistFailure(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("s1", "s2")
	s.store = failingStore{}
	s.currentTerm = 2

	s.becomeCandidateLocked()

	if !*halted {
		t.Fatalf("expected a persist failure while persisting candidacy to halt the process")
	}
}

func TestHandleRequestVoteResult_HaltsOnPersistFailure(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("s1", "s2")
	s.store = failingStore{}
	s.role = RoleCandidate
	s.currentTerm = 2

	s.handleRequestVoteResult("s2", 2, &RequestVoteReply{Term: 9, VoteGranted: false})

	if !*halted {
		t.Fatalf("expected a persist failure while adopting a higher term from a vote reply to halt the process")
	}
}

func TestHandleAppendEntriesResult_HaltsOnPersistFailure(t *testing.T) {
	halted := withHaltCapture(t)
	s := newTestServer("leader", "follower")
	s.store = failingStore{}
	s.role = RoleLeader
	s.currentTerm = 1
	peer := s.peers[1]

	s.handleAppendEntriesResult(peer, 0, &AppendEntriesReply{Term: 9, Success: false})

	if !*halted {
		t.Fatalf("expected a persist failure while adopting a higher term from an append-entries reply to halt the process")
	}
}
