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

// This file implements the role transitions and per-role behavior:
// Follower arms the election timer and waits; Candidate starts an
// election and counts votes; Leader replicates the log and sends
// heartbeats. All three share currentTerm on the server rather than
// carrying their own copy, since a role transition mid-term must see
// the same term every other handler sees.

// becomeFollowerLocked transitions to Follower and (re)arms the
// election timer. Must be called with s.mu held.
func (s *Server) becomeFollowerLocked(term uint64) {
	s.role = RoleFollower
	s.currentTerm = term

	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}

	timeout := s.electionTimeout()
	if s.electionTimer == nil {
		s.electionTimer = NewOneShotTimer(timeout, s.onElectionTimeout)
	} else {
		s.electionTimer.Restart(timeout)
	}

	s.log.Debug("became follower", "term", fmtUint(term))
}

// becomeCandidateLocked starts a new election: increments the term,
// votes for self, resets every peer's vote, and broadcasts RequestVote.
// Must be called with s.mu held; releases and reacquires it around the
// network fan-out.
func (s *Server) becomeCandidateLocked() {
	s.role = RoleCandidate
	s.currentTerm++
	s.votedFor = s.id
	for _, p := range s.peers {
		p.VoteGranted = p.IsSelf
	}

	if err := s.persistLocked(); err != nil {
		s.haltLocked("failed to persist candidacy", err)
		return
	}

	term := s.currentTerm
	lastIndex, lastTerm := s.lastLogIndexTerm()

	timeout := s.electionTimeout()
	if s.electionTimer == nil {
		s.electionTimer = NewOneShotTimer(timeout, s.onElectionTimeout)
	} else {
		s.electionTimer.Restart(timeout)
	}

	s.log.Info("starting election", "term", fmtUint(term))

	peersSnapshot := append([]*Peer(nil), s.peers...)
	candidateID := s.id

	s.mu.Unlock()
	broadcast(peersSnapshot, func(p *Peer) {
		reply := s.rpc.sendRequestVote(p.Address, RequestVoteArgs{
			Term:         term,
			ServerID:     candidateID,
			Timestamp:    nowMillis(),
			CandidateID:  candidateID,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		})
		s.handleRequestVoteResult(p.Address, term, reply)
	})
	s.mu.Lock()
}

// becomeLeaderLocked transitions to Leader: resets replication cursors
// for every peer, cancels the election timer, and starts heartbeats.
// Must be called with s.mu held.
func (s *Server) becomeLeaderLocked() {
	s.role = RoleLeader
	lastIndex, _ := s.lastLogIndexTerm()

	for _, p := range s.peers {
		if p.IsSelf {
			continue
		}
		p.NextIndex = lastIndex + 1
		p.MatchIndex = 0
		p.RPCDue = timeZero
	}

	if s.electionTimer != nil {
		s.electionTimer.Stop()
		s.electionTimer = nil
	}

	s.heartbeatTimer = NewAutoRestartTimer(s.heartbeatTimeout, s.onHeartbeatTick)

	s.log.Info("became leader", "term", fmtUint(s.currentTerm))

	go s.onHeartbeatTick()
}

// onElectionTimeout fires when a Follower or Candidate hears nothing
// for a full randomized timeout; it always starts (or restarts) a
// candidacy.
func (s *Server) onElectionTimeout() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.mu.Lock()
	if s.role == RoleLeader {
		s.mu.Unlock()
		return
	}
	s.becomeCandidateLocked()
	s.mu.Unlock()
}

// onHeartbeatTick fires on the leader's auto-restart timer; it sends
// AppendEntries (heartbeat or replication) to every peer whose RPCDue
// has passed.
func (s *Server) onHeartbeatTick() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.mu.Lock()
	if s.role != RoleLeader {
		s.mu.Unlock()
		return
	}

	term := s.currentTerm
	leaderID := s.id
	commitIndex := s.commitIndex
	due := make([]*Peer, 0, len(s.peers))
	now := nowTime()
	for _, p := range s.peers {
		if p.IsSelf {
			continue
		}
		if !p.RPCDue.After(now) {
			p.RPCDue = now.Add(s.heartbeatTimeout)
			due = append(due, p)
		}
	}

	type job struct {
		peer         *Peer
		prevLogIndex uint64
		prevLogTerm  uint64
		entries      []LogEntry
	}
	jobs := make([]job, 0, len(due))
	for _, p := range due {
		prevLogIndex := p.NextIndex - 1
		prevLogTerm := s.termAt(prevLogIndex)
		var entries []LogEntry
		if p.NextIndex <= uint64(len(s.entries)) {
			entries = append([]LogEntry(nil), s.entries[p.NextIndex-1:]...)
		}
		jobs = append(jobs, job{p, prevLogIndex, prevLogTerm, entries})
	}
	s.mu.Unlock()

	var peers []*Peer
	for _, j := range jobs {
		peers = append(peers, j.peer)
	}
	jobByPeer := make(map[*Peer]job, len(jobs))
	for _, j := range jobs {
		jobByPeer[j.peer] = j
	}

	broadcast(peers, func(p *Peer) {
		j := jobByPeer[p]
		reply := s.rpc.sendAppendEntries(p.Address, AppendEntriesArgs{
			Term:         term,
			ServerID:     leaderID,
			Timestamp:    nowMillis(),
			LeaderID:     leaderID,
			PrevLogIndex: j.prevLogIndex,
			PrevLogTerm:  j.prevLogTerm,
			Entries:      j.entries,
			LeaderCommit: commitIndex,
		})
		s.handleAppendEntriesResult(p, len(j.entries), reply)
	})
}

// termAt returns the term of the log entry at 1-based index, or 0 for
// index 0 (the implicit empty-log predecessor).
func (s *Server) termAt(index uint64) uint64 {
	if index == 0 || index > uint64(len(s.entries)) {
		return 0
	}
	return s.entries[index-1].Term
}

func fmtUint(v uint64) string {
	return uintToString(v)
}
