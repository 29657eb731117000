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
	"time"

	"raftd/internal/logging"
)

// newTestServer builds a Server with an in-memory store and no live
// network or timers, for exercising the handler logic directly.
func newTestServer(id string, peerIDs ...string) *Server {
	peers := []*Peer{{ID: id, IsSelf: true}}
	for _, pid := range peerIDs {
		peers = append(peers, &Peer{ID: pid, Address: pid})
	}
	return &Server{
		id:                 id,
		store:              newMemoryStore(),
		log:                logging.NewLogger("raft-test"),
		role:               RoleFollower,
		peers:              peers,
		electionTimeoutMin: 150 * time.Millisecond,
		electionTimeoutMax: 300 * time.Millisecond,
		heartbeatTimeout:   50 * time.Millisecond,
		applyCh:            make(chan LogEntry, 64),
		stopCh:             make(chan struct{}),
		rpc:                newRPCClient(&serverConfig{}),
	}
}

func TestHandleAppendEntries_RejectsStaleTerm(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.currentTerm = 5

	reply := s.HandleAppendEntries(AppendEntriesArgs{Term: 3, LeaderID: "s2"})

	if reply.Success {
		t.Fatalf("expected success=false for stale term")
	}
	if reply.Term != 5 {
		t.Fatalf("expected reply term 5, got %d", reply.Term)
	}
	if s.role != RoleFollower {
		t.Fatalf("stale AppendEntries must not change role")
	}
}

func TestHandleAppendEntries_AdoptsHigherTermAndStepsDown(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.currentTerm = 2
	s.role = RoleCandidate
	s.votedFor = "s1"

	reply := s.HandleAppendEntries(AppendEntriesArgs{Term: 4, LeaderID: "s2"})

	if !reply.Success {
		t.Fatalf("expected success for valid higher-term AppendEntries")
	}
	if s.currentTerm != 4 {
		t.Fatalf("expected currentTerm to adopt 4, got %d", s.currentTerm)
	}
	if s.role != RoleFollower {
		t.Fatalf("expected role Follower after adopting higher term, got %v", s.role)
	}
	if s.votedFor != "" {
		t.Fatalf("expected votedFor cleared on term change, got %q", s.votedFor)
	}
}

func TestHandleAppendEntries_CandidateStepsDownOnSameTermLeader(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.currentTerm = 3
	s.role = RoleCandidate

	reply := s.HandleAppendEntries(AppendEntriesArgs{Term: 3, LeaderID: "s2"})

	if !reply.Success {
		t.Fatalf("expected success")
	}
	if s.role != RoleFollower {
		t.Fatalf("candidate must step down on same-term AppendEntries, got role %v", s.role)
	}
}

func TestHandleAppendEntries_LogConsistencyCheckFailsOnShortLog(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 1

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         1,
		LeaderID:     "s2",
		PrevLogIndex: 3,
		PrevLogTerm:  1,
	})

	if reply.Success {
		t.Fatalf("expected failure: follower log shorter than prevLogIndex")
	}
}

func TestHandleAppendEntries_LogConsistencyCheckFailsOnTermMismatch(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 2
	s.entries = []LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}}

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         2,
		LeaderID:     "s2",
		PrevLogIndex: 2,
		PrevLogTerm:  2, // follower has term 1 at index 2
	})

	if reply.Success {
		t.Fatalf("expected failure: prevLogTerm mismatch at index 2")
	}
}

// TestHandleAppendEntries_ConflictTruncation exercises spec.md §8
// scenario 6: a follower with log=[(1,x),(1,y),(2,z)] receives
// AppendEntries(prevLogIndex=2, prevLogTerm=1, entries=[(3,w)]) in
// term 3. Index 3 conflicts ((2,z) vs (3,w)), so the follower must
// truncate and replace it.
func TestHandleAppendEntries_ConflictTruncation(t *testing.T) {
	s := newTestServer("follower", "leader")
	s.currentTerm = 2
	s.entries = []LogEntry{
		{Index: 1, Term: 1, Command: []byte("x")},
		{Index: 2, Term: 1, Command: []byte("y")},
		{Index: 3, Term: 2, Command: []byte("z")},
	}

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         3,
		LeaderID:     "leader",
		PrevLogIndex: 2,
		PrevLogTerm:  1,
		Entries:      []LogEntry{{Index: 3, Term: 3, Command: []byte("w")}},
	})

	if !reply.Success {
		t.Fatalf("expected success")
	}
	if len(s.entries) != 3 {
		t.Fatalf("expected log length 3, got %d", len(s.entries))
	}
	last := s.entries[2]
	if last.Term != 3 || string(last.Command) != "w" {
		t.Fatalf("expected index 3 replaced with (3,w), got (%d,%s)", last.Term, last.Command)
	}
}

func TestHandleAppendEntries_SkipsEntryAlreadyMatching(t *testing.T) {
	s := newTestServer("follower", "leader")
	s.currentTerm = 1
	s.entries = []LogEntry{{Index: 1, Term: 1, Command: []byte("x")}}

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      []LogEntry{{Index: 1, Term: 1, Command: []byte("x")}},
	})

	if !reply.Success {
		t.Fatalf("expected success")
	}
	if len(s.entries) != 1 {
		t.Fatalf("expected log unchanged at length 1, got %d", len(s.entries))
	}
}

func TestHandleAppendEntries_AdvancesCommitIndex(t *testing.T) {
	s := newTestServer("follower", "leader")
	s.currentTerm = 1
	s.entries = []LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 1, Command: []byte("b")},
	}

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 2,
		PrevLogTerm:  1,
		LeaderCommit: 2,
	})

	if !reply.Success {
		t.Fatalf("expected success")
	}
	if s.commitIndex != 2 {
		t.Fatalf("expected commitIndex 2, got %d", s.commitIndex)
	}

	select {
	case e := <-s.applyCh:
		if e.Index != 1 {
			t.Fatalf("expected first applied entry to be index 1, got %d", e.Index)
		}
	default:
		t.Fatalf("expected an applied entry on applyCh")
	}
}

func TestHandleAppendEntries_CommitIndexCappedAtLastNewEntry(t *testing.T) {
	s := newTestServer("follower", "leader")
	s.currentTerm = 1
	s.entries = []LogEntry{{Index: 1, Term: 1}}

	reply := s.HandleAppendEntries(AppendEntriesArgs{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []LogEntry{{Index: 2, Term: 1}},
		LeaderCommit: 99, // far beyond what this AppendEntries actually carries
	})

	if !reply.Success {
		t.Fatalf("expected success")
	}
	if s.commitIndex != 2 {
		t.Fatalf("expected commitIndex capped at last new entry (2), got %d", s.commitIndex)
	}
}

func TestHandleRequestVote_RejectsStaleTerm(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 5

	reply := s.HandleRequestVote(RequestVoteArgs{Term: 3, CandidateID: "s2"})

	if reply.VoteGranted {
		t.Fatalf("expected vote denied for stale term")
	}
	if reply.Term != 5 {
		t.Fatalf("expected reply term 5, got %d", reply.Term)
	}
}

func TestHandleRequestVote_GrantsWhenUnvotedAndLogUpToDate(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 1
	s.entries = []LogEntry{{Index: 1, Term: 1}}

	reply := s.HandleRequestVote(RequestVoteArgs{
		Term:         1,
		CandidateID:  "s2",
		LastLogIndex: 1,
		LastLogTerm:  1,
	})

	if !reply.VoteGranted {
		t.Fatalf("expected vote granted")
	}
	if s.votedFor != "s2" {
		t.Fatalf("expected votedFor=s2, got %q", s.votedFor)
	}
}

func TestHandleRequestVote_DeniesSecondCandidateSameTerm(t *testing.T) {
	s := newTestServer("s1", "s2", "s3")
	s.currentTerm = 1
	s.votedFor = "s2"

	reply := s.HandleRequestVote(RequestVoteArgs{
		Term:        1,
		CandidateID: "s3",
	})

	if reply.VoteGranted {
		t.Fatalf("expected vote denied: already voted for s2 this term")
	}
}

func TestHandleRequestVote_GrantsRepeatToSameCandidate(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 1
	s.votedFor = "s2"

	reply := s.HandleRequestVote(RequestVoteArgs{Term: 1, CandidateID: "s2"})

	if !reply.VoteGranted {
		t.Fatalf("a retransmitted RequestVote from the already-voted-for candidate must still be granted")
	}
}

func TestHandleRequestVote_DeniesStaleCandidateLog(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 2
	s.entries = []LogEntry{{Index: 1, Term: 2}, {Index: 2, Term: 2}}

	reply := s.HandleRequestVote(RequestVoteArgs{
		Term:         2,
		CandidateID:  "s2",
		LastLogIndex: 1,
		LastLogTerm:  1, // candidate's log is behind ours
	})

	if reply.VoteGranted {
		t.Fatalf("expected vote denied: candidate log is less up to date")
	}
}

func TestHandleRequestVote_AdoptsHigherTermBeforeDeciding(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.currentTerm = 1
	s.votedFor = "someone-else"

	reply := s.HandleRequestVote(RequestVoteArgs{Term: 5, CandidateID: "s2"})

	if s.currentTerm != 5 {
		t.Fatalf("expected currentTerm to adopt 5, got %d", s.currentTerm)
	}
	if !reply.VoteGranted {
		t.Fatalf("expected vote granted after adopting new term and clearing votedFor")
	}
}

// TestEvaluateElection_RequiresStrictMajorityNotYesOverNo guards
// against the latent "yes > no" bug spec.md §4.5/§9 call out: with 5
// peers (self + 4), only 2 replies in and both granted, the candidate
// must NOT be promoted, even though yes(2) > no(0).
func TestEvaluateElection_RequiresStrictMajorityNotYesOverNo(t *testing.T) {
	s := newTestServer("s1", "s2", "s3", "s4", "s5")
	s.role = RoleCandidate
	s.peers[0].VoteGranted = true // self-vote
	s.peers[1].VoteGranted = true // one peer replied yes
	// peers[2..4] haven't replied: VoteGranted defaults to false

	s.evaluateElection()

	if s.role != RoleCandidate {
		t.Fatalf("2 of 5 votes must not win an election, got role %v", s.role)
	}
}

func TestEvaluateElection_PromotesOnStrictMajority(t *testing.T) {
	s := newTestServer("s1", "s2", "s3", "s4", "s5")
	s.role = RoleCandidate
	s.peers[0].VoteGranted = true
	s.peers[1].VoteGranted = true
	s.peers[2].VoteGranted = true

	s.evaluateElection()

	if s.role != RoleLeader {
		t.Fatalf("3 of 5 votes is a strict majority and must win, got role %v", s.role)
	}
}

func TestEvaluateElection_TieDoesNotWin(t *testing.T) {
	s := newTestServer("s1", "s2", "s3", "s4")
	s.role = RoleCandidate
	s.peers[0].VoteGranted = true // self
	s.peers[1].VoteGranted = true // 2 of 4: a tie, not a majority

	s.evaluateElection()

	if s.role != RoleCandidate {
		t.Fatalf("a 2-of-4 tie must not win, got role %v", s.role)
	}
}

func TestHandleRequestVoteResult_IgnoresStaleTermReply(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.role = RoleCandidate
	s.currentTerm = 5

	s.handleRequestVoteResult("s2", 3, &RequestVoteReply{Term: 5, VoteGranted: true})

	if s.peers[1].VoteGranted {
		t.Fatalf("a reply for a superseded term must be ignored")
	}
}

func TestHandleRequestVoteResult_StepsDownOnHigherTerm(t *testing.T) {
	s := newTestServer("s1", "s2")
	s.role = RoleCandidate
	s.currentTerm = 2

	s.handleRequestVoteResult("s2", 2, &RequestVoteReply{Term: 9, VoteGranted: false})

	if s.role != RoleFollower {
		t.Fatalf("expected step-down to Follower on higher-term reply")
	}
	if s.currentTerm != 9 {
		t.Fatalf("expected currentTerm adopted to 9, got %d", s.currentTerm)
	}
}

func TestHandleAppendEntriesResult_AdvancesCursorsOnSuccess(t *testing.T) {
	s := newTestServer("leader", "follower")
	s.role = RoleLeader
	s.currentTerm = 1
	s.entries = []LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}}
	peer := s.peers[1]
	peer.NextIndex = 1
	peer.MatchIndex = 0

	s.handleAppendEntriesResult(peer, 2, &AppendEntriesReply{Term: 1, Success: true})

	if peer.MatchIndex != 2 {
		t.Fatalf("expected matchIndex 2, got %d", peer.MatchIndex)
	}
	if peer.NextIndex != 3 {
		t.Fatalf("expected nextIndex 3, got %d", peer.NextIndex)
	}
}

func TestHandleAppendEntriesResult_DecrementsNextIndexOnFailure(t *testing.T) {
	s := newTestServer("leader", "follower")
	s.role = RoleLeader
	s.currentTerm = 1
	peer := s.peers[1]
	peer.NextIndex = 5

	s.handleAppendEntriesResult(peer, 0, &AppendEntriesReply{Term: 1, Success: false})

	if peer.NextIndex != 4 {
		t.Fatalf("expected nextIndex decremented to 4, got %d", peer.NextIndex)
	}
}

func TestHandleAppendEntriesResult_NextIndexNeverBelowOne(t *testing.T) {
	s := newTestServer("leader", "follower")
	s.role = RoleLeader
	s.currentTerm = 1
	peer := s.peers[1]
	peer.NextIndex = 1

	s.handleAppendEntriesResult(peer, 0, &AppendEntriesReply{Term: 1, Success: false})

	if peer.NextIndex != 1 {
		t.Fatalf("nextIndex must never drop below 1, got %d", peer.NextIndex)
	}
}

// TestAdvanceCommitIndexLocked_RequiresCurrentTermEntry guards Leader
// Completeness: a majority-replicated entry from a prior term must not
// be committed by count alone (spec.md §4.6 Leader).
func TestAdvanceCommitIndexLocked_RequiresCurrentTermEntry(t *testing.T) {
	s := newTestServer("leader", "f1", "f2")
	s.role = RoleLeader
	s.currentTerm = 2
	s.entries = []LogEntry{{Index: 1, Term: 1}}
	s.peers[1].MatchIndex = 1
	s.peers[2].MatchIndex = 1

	s.advanceCommitIndexLocked()

	if s.commitIndex != 0 {
		t.Fatalf("must not commit a prior-term entry by replication count alone, got commitIndex %d", s.commitIndex)
	}
}

func TestAdvanceCommitIndexLocked_CommitsCurrentTermMajorityEntry(t *testing.T) {
	s := newTestServer("leader", "f1", "f2")
	s.role = RoleLeader
	s.currentTerm = 2
	s.entries = []LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 2}}
	s.peers[1].MatchIndex = 2
	s.peers[2].MatchIndex = 0

	s.advanceCommitIndexLocked()

	if s.commitIndex != 2 {
		t.Fatalf("expected commitIndex 2 (self + one follower = majority of 3), got %d", s.commitIndex)
	}
}
