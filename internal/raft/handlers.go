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
	"net"
	"strconv"
	"time"

	"raftd/internal/transport"
)

var timeZero time.Time

func nowTime() time.Time { return time.Now() }

func uintToString(v uint64) string { return strconv.FormatUint(v, 10) }

// acceptLoop accepts inbound peer connections and hands each to
// serveConn. A peer dials once and keeps the connection open for as
// long as it has RPCs to send, so this loop's only job is handing off
// newly accepted sockets -- everything else happens per-connection.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Error("accept failed", "error", err.Error())
				return
			}
		}
		go s.serveConn(nc)
	}
}

// serveConn reads every request a peer sends on one long-lived,
// multiplexed connection for as long as the peer keeps it open.
// Each request is dispatched on its own goroutine, echoing back the
// stream ID it arrived with, so a slow AppendEntries in flight doesn't
// hold up a concurrent RequestVote sharing the same connection.
func (s *Server) serveConn(nc net.Conn) {
	conn := transport.NewConn(nc, transport.Options{
		CompressionAlgo: s.rpc.algo,
		Compressor:      s.rpc.compressor,
		Cipher:          s.rpc.cipher,
	})
	defer conn.Close()

	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		go s.dispatchRequest(conn, msg)
	}
}

// dispatchRequest handles a single inbound frame and, if it warrants
// one, writes a reply back on the same connection carrying the
// request's stream ID so the caller's readLoop can match it up.
func (s *Server) dispatchRequest(conn *transport.Conn, msg *transport.Message) {
	var replyType transport.MessageType
	var replyPayload []byte
	var err error

	switch msg.Header.Type {
	case transport.MsgAppendEntries:
		var args AppendEntriesArgs
		if jsonErr := json.Unmarshal(msg.Payload, &args); jsonErr != nil {
			return
		}
		reply := s.HandleAppendEntries(args)
		replyPayload, err = json.Marshal(reply)
		replyType = transport.MsgAppendEntriesResult

	case transport.MsgRequestVote:
		var args RequestVoteArgs
		if jsonErr := json.Unmarshal(msg.Payload, &args); jsonErr != nil {
			return
		}
		reply := s.HandleRequestVote(args)
		replyPayload, err = json.Marshal(reply)
		replyType = transport.MsgRequestVoteResult

	case transport.MsgPing:
		replyType = transport.MsgPong

	default:
		return
	}

	if err != nil {
		return
	}
	_ = conn.Send(msg.Header.StreamID, replyType, replyPayload)
}

// HandleAppendEntries implements the inbound side of the AppendEntries
// RPC: term and consistency checks, log truncation/append, and commit
// index advancement.
func (s *Server) HandleAppendEntries(args AppendEntriesArgs) AppendEntriesReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := AppendEntriesReply{ServerID: s.id, Timestamp: args.Timestamp}

	// 1. Stale leader: reject without adopting state.
	if args.Term < s.currentTerm {
		reply.Term = s.currentTerm
		reply.Success = false
		return reply
	}

	// 2. Newer term: adopt it and fall back to Follower. Flushed
	// immediately -- every reply from here on, including the
	// consistency-check failures below, carries this term, and §4.1
	// forbids replying with state that isn't durable yet. If the flush
	// fails, the in-memory term has already moved past what's on disk,
	// so the only safe reply term is the one from before this adoption;
	// reporting anything else leaks unpersisted state, which is why the
	// server halts here rather than limping on.
	if args.Term > s.currentTerm {
		priorTerm := s.currentTerm
		s.becomeFollowerLocked(args.Term)
		s.votedFor = ""
		if err := s.persistLocked(); err != nil {
			reply.Term = priorTerm
			reply.Success = false
			s.haltLocked("failed to persist adopted term", err)
			return reply
		}
	}

	// 3. A Candidate seeing a current-term leader steps down.
	if s.role == RoleCandidate && args.Term == s.currentTerm {
		s.becomeFollowerLocked(s.currentTerm)
	}

	// 4. Any valid AppendEntries from the current leader resets the
	// election timer, whether or not it carries new entries.
	if s.electionTimer != nil {
		s.electionTimer.Restart(s.electionTimeout())
	} else {
		s.electionTimer = NewOneShotTimer(s.electionTimeout(), s.onElectionTimeout)
	}

	// 5. Log consistency check.
	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex > uint64(len(s.entries)) {
			reply.Term = s.currentTerm
			reply.Success = false
			return reply
		}
		if s.entries[args.PrevLogIndex-1].Term != args.PrevLogTerm {
			reply.Term = s.currentTerm
			reply.Success = false
			return reply
		}
	}

	// 6. Reconcile entries: truncate at the first conflict, then append
	// whatever the leader sent that we don't already have.
	insertAt := args.PrevLogIndex
	for i, entry := range args.Entries {
		idx := insertAt + uint64(i) + 1
		if idx <= uint64(len(s.entries)) {
			if s.entries[idx-1].Term == entry.Term {
				continue
			}
			s.entries = s.entries[:idx-1]
		}
		s.entries = append(s.entries, entry)
	}

	if err := s.persistLocked(); err != nil {
		reply.Term = s.currentTerm
		reply.Success = false
		s.haltLocked("failed to persist replicated log", err)
		return reply
	}

	// 7. Advance commitIndex.
	if args.LeaderCommit > s.commitIndex {
		lastNew := args.PrevLogIndex + uint64(len(args.Entries))
		if args.LeaderCommit < lastNew {
			s.commitIndex = args.LeaderCommit
		} else {
			s.commitIndex = lastNew
		}
		s.applyCommitted()
	}

	reply.Term = s.currentTerm
	reply.Success = true
	return reply
}

// HandleRequestVote implements the inbound side of the RequestVote RPC:
// term checks and the up-to-date-log comparison that decides whether
// this server's vote is granted.
func (s *Server) HandleRequestVote(args RequestVoteArgs) RequestVoteReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := RequestVoteReply{ServerID: s.id, Timestamp: args.Timestamp}

	// 1. Stale candidate: reject without adopting state.
	if args.Term < s.currentTerm {
		reply.Term = s.currentTerm
		reply.VoteGranted = false
		return reply
	}

	// 2. Newer term: adopt it, clear any prior vote, fall back to
	// Follower. Flushed immediately so a subsequent vote-denied reply
	// below never claims a term this server hasn't durably recorded. On
	// failure the reply must report the last durable term, not the
	// mutated-in-memory one, so it captures priorTerm before mutating.
	if args.Term > s.currentTerm {
		priorTerm := s.currentTerm
		s.becomeFollowerLocked(args.Term)
		s.votedFor = ""
		if err := s.persistLocked(); err != nil {
			reply.Term = priorTerm
			reply.VoteGranted = false
			s.haltLocked("failed to persist adopted term", err)
			return reply
		}
	}

	reply.Term = s.currentTerm

	// 3. Already voted for someone else this term.
	if s.votedFor != "" && s.votedFor != args.CandidateID {
		reply.VoteGranted = false
		return reply
	}

	// 4. Grant only if the candidate's log is at least as up to date as
	// ours: higher last-log term wins outright; on a tie, the longer
	// log wins.
	lastIndex, lastTerm := s.lastLogIndexTerm()
	upToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	if !upToDate {
		reply.VoteGranted = false
		return reply
	}

	s.votedFor = args.CandidateID
	if err := s.persistLocked(); err != nil {
		reply.VoteGranted = false
		s.haltLocked("failed to persist vote", err)
		return reply
	}

	if s.electionTimer != nil {
		s.electionTimer.Restart(s.electionTimeout())
	}

	reply.VoteGranted = true
	return reply
}

// handleRequestVoteResult folds an outbound RequestVote reply back into
// candidate state. callTerm is the term the request was sent under, so
// a reply arriving after a role change is correctly ignored.
func (s *Server) handleRequestVoteResult(peerAddr string, callTerm uint64, reply *RequestVoteReply) {
	if reply == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reply.Term > s.currentTerm {
		s.becomeFollowerLocked(reply.Term)
		s.votedFor = ""
		if err := s.persistLocked(); err != nil {
			s.haltLocked("failed to persist term adopted from vote reply", err)
		}
		return
	}

	if s.role != RoleCandidate || s.currentTerm != callTerm {
		return
	}

	if reply.VoteGranted {
		if p := s.peerByAddr(peerAddr); p != nil {
			p.VoteGranted = true
		}
		s.evaluateElection()
	}
}

// evaluateElection counts votes granted (including the candidate's own
// implicit self-vote) against the full cluster size and promotes to
// Leader once a strict majority is reached. The threshold is compared
// against the total number of peers, not against the count of votes
// withheld -- a cluster that still has unreachable or not-yet-replied
// members must not be promoted early just because no one has said no.
func (s *Server) evaluateElection() {
	if s.role != RoleCandidate {
		return
	}

	yes := 0
	for _, p := range s.peers {
		if p.VoteGranted {
			yes++
		}
	}

	if yes > len(s.peers)/2 {
		s.becomeLeaderLocked()
	}
}

// handleAppendEntriesResult folds an outbound AppendEntries reply back
// into leader state, advancing or retreating the peer's replication
// cursors and recomputing commitIndex.
func (s *Server) handleAppendEntriesResult(p *Peer, sentEntries int, reply *AppendEntriesReply) {
	if reply == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reply.Term > s.currentTerm {
		s.becomeFollowerLocked(reply.Term)
		s.votedFor = ""
		if err := s.persistLocked(); err != nil {
			s.haltLocked("failed to persist term adopted from append-entries reply", err)
		}
		return
	}

	if s.role != RoleLeader {
		return
	}

	if reply.Success {
		p.MatchIndex = p.NextIndex - 1 + uint64(sentEntries)
		p.NextIndex = p.MatchIndex + 1
		s.advanceCommitIndexLocked()
		return
	}

	if p.NextIndex > 1 {
		p.NextIndex--
	}
}

// advanceCommitIndexLocked implements the leader's commit rule: an
// index N is committed once it's replicated to a majority of the
// cluster AND its entry was written in the current term (the leader
// never commits another term's entry by counting alone).
func (s *Server) advanceCommitIndexLocked() {
	for n := uint64(len(s.entries)); n > s.commitIndex; n-- {
		if s.entries[n-1].Term != s.currentTerm {
			continue
		}
		count := 1 // self
		for _, p := range s.peers {
			if !p.IsSelf && p.MatchIndex >= n {
				count++
			}
		}
		if count > len(s.peers)/2 {
			s.commitIndex = n
			s.applyCommitted()
			return
		}
	}
}

// applyCommitted delivers newly committed entries to applyCh. It runs
// with s.mu held, so it never blocks on the send: if applyCh is full it
// stops, lastApplied stays at the last delivered entry, and the rest
// are delivered by a later call.
func (s *Server) applyCommitted() {
	for s.lastApplied < s.commitIndex {
		entry := s.entries[s.lastApplied]
		select {
		case s.applyCh <- entry:
			s.lastApplied++
		default:
			s.log.Warn("apply channel full, deferring delivery", "index", uintToString(entry.Index))
			return
		}
	}
}
