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
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"raftd/internal/compression"
	"raftd/internal/config"
	"raftd/internal/logging"
	"raftd/internal/transport"
)

// serverConfig holds the resolved, ready-to-use knobs a Server needs
// beyond the raw config.Config -- the listener address, TLS config,
// and compression/encryption wiring for the RPC transport.
type serverConfig struct {
	listenAddr      string
	tlsConfig       *tls.Config
	compressor      *compression.Compressor
	compressionAlgo compression.Algorithm
	cipher          *transport.FrameCipher
}

// Server owns all Raft state for one cluster member: persistent state
// (currentTerm, votedFor, log), volatile state (commitIndex,
// lastApplied), the peer set, the election/heartbeat timers, and the
// RPC listener. Every exported method that reads or mutates this state
// holds mu for its entire body, so the server behaves as if driven by
// a single-threaded event loop even though RPC handlers run on
// goroutines spawned per inbound connection.
type Server struct {
	mu sync.Mutex

	id    string
	store Store
	log   *logging.Logger

	currentTerm uint64
	votedFor    string
	entries     []LogEntry // 1-indexed: entries[0] is index 1
	commitIndex uint64
	lastApplied uint64

	role  Role
	peers []*Peer

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration
	heartbeatTimeout   time.Duration

	electionTimer  *OneShotTimer
	heartbeatTimer *AutoRestartTimer

	rpc        *rpcClient
	listener   net.Listener
	listenAddr string
	tlsConfig  *tls.Config

	applyCh  chan LogEntry
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer constructs a Server from configuration and a Store,
// without starting any network or timer activity -- call Start for that.
func NewServer(cfg *config.Config, store Store, localPort int) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	serverID := cfg.ServerID
	if serverID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
		serverID = fmt.Sprintf("%s:%d", hostname, localPort)
	}

	peers, err := BuildPeers(serverID, cfg.Peers, localPort, cfg.PeerDNS)
	if err != nil {
		return nil, err
	}

	sc, err := buildServerConfig(cfg, localPort)
	if err != nil {
		return nil, err
	}

	s := &Server{
		id:                 serverID,
		store:              store,
		log:                logging.NewLogger("raft").With("server_id", serverID),
		currentTerm:        state.CurrentTerm,
		votedFor:           state.VotedFor,
		entries:            state.Log,
		role:               RoleFollower,
		peers:              peers,
		electionTimeoutMin: time.Duration(cfg.ElectionTimeoutMin) * time.Millisecond,
		electionTimeoutMax: time.Duration(cfg.ElectionTimeoutMax) * time.Millisecond,
		heartbeatTimeout:   time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		rpc:                newRPCClient(sc),
		applyCh:            make(chan LogEntry, 64),
		stopCh:             make(chan struct{}),
	}
	s.listenAddr = sc.listenAddr
	s.tlsConfig = sc.tlsConfig
	return s, nil
}

func buildServerConfig(cfg *config.Config, localPort int) (*serverConfig, error) {
	sc := &serverConfig{
		listenAddr:      fmt.Sprintf(":%d", localPort),
		compressionAlgo: compression.AlgorithmNone,
	}

	if cfg.PersistenceCodec != "" && cfg.PersistenceCodec != "none" {
		algo, err := compression.ParseAlgorithm(cfg.PersistenceCodec)
		if err != nil {
			return nil, err
		}
		sc.compressionAlgo = algo
		ccfg := compression.DefaultConfig()
		ccfg.Algorithm = algo
		ccfg.MinSize = 128
		sc.compressor = compression.NewCompressor(ccfg)
	}

	if cfg.ClusterKey != "" {
		cipher, err := transport.NewFrameCipher(cfg.ClusterKey)
		if err != nil {
			return nil, err
		}
		sc.cipher = cipher
	}

	// cfg.TLSEnable is honored by the caller: cmd/raftd provisions
	// certificates via internal/tls.EnsureCertificates and installs the
	// resulting *tls.Config with Server.SetTLSConfig before Start is called.

	return sc, nil
}

// SetTLSConfig installs a TLS config for the peer listener and outbound
// dials. Must be called before Start; cmd/raftd builds this from
// internal/tls.EnsureCertificates when raft.tls_enable is set.
func (s *Server) SetTLSConfig(tlsCfg *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlsConfig = tlsCfg
	s.rpc.tlsConfig = tlsCfg
}

// Start enters Follower state, arms the election timer, and begins
// accepting inbound peer connections.
func (s *Server) Start() error {
	ln, err := transport.Listen(s.listenAddr, s.tlsConfig)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)

	s.mu.Lock()
	s.becomeFollowerLocked(s.currentTerm)
	s.mu.Unlock()

	s.log.Info("raft server started", "listen", s.listenAddr, "peers", fmt.Sprintf("%d", len(s.peers)-1))
	return nil
}

// Stop cancels timers and closes the listener. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.electionTimer != nil {
			s.electionTimer.Stop()
		}
		if s.heartbeatTimer != nil {
			s.heartbeatTimer.Stop()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		rpc := s.rpc
		s.mu.Unlock()
		if rpc != nil {
			rpc.closeAll()
		}
	})
}

// Role reports the server's current role.
func (s *Server) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Term reports the server's current term.
func (s *Server) Term() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

// ID reports this server's identity.
func (s *Server) ID() string { return s.id }

// ApplyChannel exposes committed command entries as they're applied,
// for an embedding application's state machine to consume.
func (s *Server) ApplyChannel() <-chan LogEntry { return s.applyCh }

func (s *Server) electionTimeout() time.Duration {
	span := int64(s.electionTimeoutMax - s.electionTimeoutMin)
	if span <= 0 {
		return s.electionTimeoutMin
	}
	return s.electionTimeoutMin + time.Duration(rand.Int63n(span))
}

func (s *Server) lastLogIndexTerm() (index, term uint64) {
	if len(s.entries) == 0 {
		return 0, 0
	}
	last := s.entries[len(s.entries)-1]
	return last.Index, last.Term
}

func (s *Server) persistLocked() error {
	return s.store.Save(PersistentState{
		CurrentTerm: s.currentTerm,
		VotedFor:    s.votedFor,
		Log:         s.entries,
	})
}

func (s *Server) peerByAddr(addr string) *Peer {
	for _, p := range s.peers {
		if p.Address == addr {
			return p
		}
	}
	return nil
}
