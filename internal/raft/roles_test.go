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
	"testing"
)

func TestBecomeFollowerLocked_StopsHeartbeatAndArmsElectionTimer(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.role = RoleLeader
	s.heartbeatTimer = NewAutoRestartTimer(s.heartbeatTimeout, func() {})
	defer func() {
		if s.electionTimer != nil {
			s.electionTimer.Stop()
		}
	}()

	s.becomeFollowerLocked(9)

	if s.role != RoleFollower {
		t.Fatalf("expected Follower, got %v", s.role)
	}
	if s.currentTerm != 9 {
		t.Fatalf("expected currentTerm 9, got %d", s.currentTerm)
	}
	if s.heartbeatTimer != nil {
		t.Fatalf("expected heartbeat timer cleared on stepping down")
	}
	if s.electionTimer == nil {
		t.Fatalf("expected election timer armed")
	}
}

func TestBecomeLeaderLocked_ResetsReplicationCursors(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.role = RoleCandidate
	s.currentTerm = 4
	s.entries = []LogEntry{{Index: 1, Term: 3}, {Index: 2, Term: 4}}
	s.electionTimer = NewOneShotTimer(s.electionTimeout(), func() {})

	s.peers[1].NextIndex = 0
	s.peers[1].MatchIndex = 5
	s.peers[2].NextIndex = 0
	s.peers[2].MatchIndex = 5

	// becomeLeaderLocked kicks off an immediate heartbeat broadcast in
	// a background goroutine; give it a real (if unreachable) rpcClient
	// so that broadcast dials and fails instead of nil-dereferencing.
	s.rpc = newRPCClient(&serverConfig{})

	s.becomeLeaderLocked()
	defer s.heartbeatTimer.Stop()

	if s.role != RoleLeader {
		t.Fatalf("expected Leader, got %v", s.role)
	}
	if s.electionTimer != nil {
		t.Fatalf("expected election timer cancelled on becoming leader")
	}
	for _, p := range s.peers[1:] {
		if p.NextIndex != 3 {
			t.Fatalf("expected nextIndex reinitialized to lastLogIndex+1=3, got %d", p.NextIndex)
		}
		if p.MatchIndex != 0 {
			t.Fatalf("expected matchIndex reset to 0, got %d", p.MatchIndex)
		}
	}
}

func TestTermAt_ZeroIndexAndOutOfRange(t *testing.T) {
	s := newTestServer("s1")
	s.entries = []LogEntry{{Index: 1, Term: 5}}

	if got := s.termAt(0); got != 0 {
		t.Fatalf("termAt(0) = %d, want 0", got)
	}
	if got := s.termAt(1); got != 5 {
		t.Fatalf("termAt(1) = %d, want 5", got)
	}
	if got := s.termAt(2); got != 0 {
		t.Fatalf("termAt(out of range) = %d, want 0", got)
	}
}

func TestLastLogIndexTerm_EmptyLog(t *testing.T) {
	s := newTestServer("s1")
	index, term := s.lastLogIndexTerm()
	if index != 0 || term != 0 {
		t.Fatalf("expected (0,0) for an empty log, got (%d,%d)", index, term)
	}
}

func TestElectionTimeout_WithinConfiguredRange(t *testing.T) {
	s := newTestServer("s1")
	for i := 0; i < 50; i++ {
		d := s.electionTimeout()
		if d < s.electionTimeoutMin || d >= s.electionTimeoutMax {
			t.Fatalf("electionTimeout() = %v, want within [%v, %v)", d, s.electionTimeoutMin, s.electionTimeoutMax)
		}
	}
}
