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
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"raftd/internal/compression"
	"raftd/internal/transport"
)

// rpcDialTimeout bounds how long a peer dial may block; unreachable
// peers must not stall the caller (elections and heartbeats proceed
// without them).
const rpcDialTimeout = 500 * time.Millisecond

// rpcCallTimeout bounds how long a call waits for its correlated reply
// once the request is written. A peer that accepted the connection but
// never answers must not hang an election or a heartbeat tick forever.
const rpcCallTimeout = 2 * time.Second

// rpcClient holds one long-lived, multiplexed connection per peer.
// AppendEntries and RequestVote calls to the same peer share that one
// TCP stream instead of dialing anew each time; concurrent calls are
// told apart by the stream ID transport.Conn assigns, and a reply is
// routed back to whichever caller is waiting on that ID.
type rpcClient struct {
	tlsConfig  *tls.Config
	compressor *compression.Compressor
	algo       compression.Algorithm
	cipher     *transport.FrameCipher

	mu    sync.Mutex
	peers map[string]*peerConn
}

func newRPCClient(cfg *serverConfig) *rpcClient {
	return &rpcClient{
		tlsConfig:  cfg.tlsConfig,
		compressor: cfg.compressor,
		algo:       cfg.compressionAlgo,
		cipher:     cfg.cipher,
		peers:      make(map[string]*peerConn),
	}
}

// peerConn is the multiplexed connection to one peer, plus the replies
// still awaited on it. A nil conn means no connection is currently
// open; the next call dials one.
type peerConn struct {
	mu      sync.Mutex
	conn    *transport.Conn
	pending map[uint32]chan *transport.Message
}

func (c *rpcClient) connFor(addr string) *peerConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.peers[addr]
	if !ok {
		pc = &peerConn{pending: make(map[uint32]chan *transport.Message)}
		c.peers[addr] = pc
	}
	return pc
}

// closeAll tears down every peer connection. Called from Server.Stop.
func (c *rpcClient) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pc := range c.peers {
		pc.reset()
	}
}

func (c *rpcClient) dial(addr string) (*transport.Conn, error) {
	nc, err := dialWithTimeout(addr, c.tlsConfig, rpcDialTimeout)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(nc, transport.Options{
		CompressionAlgo: c.algo,
		Compressor:      c.compressor,
		Cipher:          c.cipher,
	}), nil
}

func dialWithTimeout(addr string, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if tlsConfig != nil {
		return tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	}
	return dialer.Dial("tcp", addr)
}

// ensureConn returns pc's live connection, dialing a fresh one and
// starting its demultiplexing readLoop if pc has none. Must be called
// with pc.mu held.
func (c *rpcClient) ensureConn(addr string, pc *peerConn) (*transport.Conn, error) {
	if pc.conn != nil {
		return pc.conn, nil
	}
	conn, err := c.dial(addr)
	if err != nil {
		return nil, err
	}
	pc.conn = conn
	go pc.readLoop()
	return conn, nil
}

// readLoop demultiplexes replies arriving on pc's connection, routing
// each to the caller blocked on its stream ID. It runs until Recv
// fails, at which point the connection is dropped and every caller
// still waiting on it is released rather than left blocked forever.
func (pc *peerConn) readLoop() {
	for {
		pc.mu.Lock()
		conn := pc.conn
		pc.mu.Unlock()
		if conn == nil {
			return
		}

		msg, err := conn.Recv()
		if err != nil {
			pc.reset()
			return
		}

		pc.mu.Lock()
		ch, ok := pc.pending[msg.Header.StreamID]
		if ok {
			delete(pc.pending, msg.Header.StreamID)
		}
		pc.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// reset drops pc's connection and wakes every pending caller with a
// closed channel, so a dead socket fails calls immediately instead of
// leaving them blocked on a reply that will never arrive.
func (pc *peerConn) reset() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.conn != nil {
		pc.conn.Close()
		pc.conn = nil
	}
	for id, ch := range pc.pending {
		close(ch)
		delete(pc.pending, id)
	}
}

func (c *rpcClient) call(addr string, msgType transport.MessageType, req, reply any) error {
	pc := c.connFor(addr)

	pc.mu.Lock()
	conn, err := c.ensureConn(addr, pc)
	if err != nil {
		pc.mu.Unlock()
		return err
	}
	streamID := conn.NextStreamID()
	ch := make(chan *transport.Message, 1)
	pc.pending[streamID] = ch
	pc.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		pc.mu.Lock()
		delete(pc.pending, streamID)
		pc.mu.Unlock()
		return err
	}

	if err := conn.Send(streamID, msgType, payload); err != nil {
		pc.mu.Lock()
		delete(pc.pending, streamID)
		pc.mu.Unlock()
		pc.reset()
		return err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return fmt.Errorf("raft: connection to %s closed while awaiting reply", addr)
		}
		return json.Unmarshal(msg.Payload, reply)
	case <-time.After(rpcCallTimeout):
		pc.mu.Lock()
		delete(pc.pending, streamID)
		pc.mu.Unlock()
		return fmt.Errorf("raft: timed out waiting for reply from %s", addr)
	}
}

// sendRequestVote issues a RequestVote RPC and returns nil on any
// failure (unreachable peer, timeout, malformed reply) -- the caller
// treats a nil reply exactly like a peer that hasn't voted yet.
func (c *rpcClient) sendRequestVote(addr string, args RequestVoteArgs) *RequestVoteReply {
	var reply RequestVoteReply
	if err := c.call(addr, transport.MsgRequestVote, args, &reply); err != nil {
		return nil
	}
	return &reply
}

// sendAppendEntries issues an AppendEntries RPC, returning nil on failure.
func (c *rpcClient) sendAppendEntries(addr string, args AppendEntriesArgs) *AppendEntriesReply {
	var reply AppendEntriesReply
	if err := c.call(addr, transport.MsgAppendEntries, args, &reply); err != nil {
		return nil
	}
	return &reply
}

// broadcast runs fn concurrently for every peer in peers (skipping the
// self entry) and waits until every call has returned. fn has no error
// result and nothing is propagated to the caller -- RPC failures are
// peer-local and handled inside fn.
func broadcast(peers []*Peer, fn func(*Peer)) {
	var g errgroup.Group
	for _, p := range peers {
		if p.IsSelf {
			continue
		}
		peer := p
		g.Go(func() error {
			fn(peer)
			return nil
		})
	}
	_ = g.Wait()
}
