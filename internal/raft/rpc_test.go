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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"raftd/internal/transport"
)

// TestRPCClient_ReusesConnectionAndCorrelatesOutOfOrderReplies exercises
// the multiplexed-transport contract SPEC_FULL.md §4.3 describes: two
// concurrent calls to the same peer share one dial, and a reply that
// arrives out of order is still routed back to its own caller by
// stream ID rather than the other one waiting on the same connection.
func TestRPCClient_ReusesConnectionAndCorrelatesOutOfOrderReplies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var acceptCount int32

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&acceptCount, 1)
		conn := transport.NewConn(nc, transport.Options{})
		defer conn.Close()

		for i := 0; i < 2; i++ {
			msg, err := conn.Recv()
			if err != nil {
				return
			}
			go func(msg *transport.Message) {
				var replyType transport.MessageType
				var payload []byte
				switch msg.Header.Type {
				case transport.MsgRequestVote:
					// Deliberately the slower of the two, so its reply
					// lands after the AppendEntries reply below -- the
					// client must still hand it to the RequestVote
					// caller, not the AppendEntries one.
					time.Sleep(30 * time.Millisecond)
					payload, _ = json.Marshal(RequestVoteReply{Term: 1, VoteGranted: true})
					replyType = transport.MsgRequestVoteResult
				case transport.MsgAppendEntries:
					payload, _ = json.Marshal(AppendEntriesReply{Term: 1, Success: true})
					replyType = transport.MsgAppendEntriesResult
				default:
					return
				}
				_ = conn.Send(msg.Header.StreamID, replyType, payload)
			}(msg)
		}
	}()

	c := newRPCClient(&serverConfig{})
	addr := ln.Addr().String()

	var wg sync.WaitGroup
	wg.Add(2)
	var voteReply *RequestVoteReply
	var appendReply *AppendEntriesReply

	go func() {
		defer wg.Done()
		voteReply = c.sendRequestVote(addr, RequestVoteArgs{Term: 1, CandidateID: "c1"})
	}()
	go func() {
		defer wg.Done()
		appendReply = c.sendAppendEntries(addr, AppendEntriesArgs{Term: 1, LeaderID: "l1"})
	}()
	wg.Wait()

	if voteReply == nil || !voteReply.VoteGranted {
		t.Fatalf("expected a granted vote reply routed to the RequestVote caller, got %+v", voteReply)
	}
	if appendReply == nil || !appendReply.Success {
		t.Fatalf("expected a successful append-entries reply routed to the AppendEntries caller, got %+v", appendReply)
	}
	if got := atomic.LoadInt32(&acceptCount); got != 1 {
		t.Fatalf("expected exactly one accepted connection for two concurrent calls to the same peer, got %d", got)
	}
}

// TestRPCClient_NilReplyWhenPeerDropsConnection exercises reset(): a
// connection that dies before a reply arrives must release the waiting
// caller with a nil reply rather than block it forever.
func TestRPCClient_NilReplyWhenPeerDropsConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().String()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		nc.Close() // drop the connection without ever replying
	}()

	c := newRPCClient(&serverConfig{})
	reply := c.sendAppendEntries(addr, AppendEntriesArgs{Term: 1})
	if reply != nil {
		t.Fatalf("expected nil reply when the peer drops the connection before replying, got %+v", reply)
	}
}
