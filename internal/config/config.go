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
Package config loads the "raft" configuration section: server identity,
election/heartbeat timing, the static peer list, and the var_dir used
for the per-server persistent state file. Values come from a simple
TOML-like file, from environment variables (which take precedence, for
container deployments that inject config via env), or from in-process
defaults. A Manager can be told to Reload() its file and will notify
registered callbacks, matching the corpus's config-reload contract.
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	raerr "raftd/internal/errors"
)

// Environment variable names, checked by LoadFromEnv.
const (
	EnvServerID          = "RAFTD_SERVER_ID"
	EnvElectionTimeoutMin = "RAFTD_ELECTION_TIMEOUT_MIN"
	EnvElectionTimeoutMax = "RAFTD_ELECTION_TIMEOUT_MAX"
	EnvHeartbeatTimeout   = "RAFTD_HEARTBEAT_TIMEOUT"
	EnvVarDir             = "RAFTD_VAR_DIR"
	EnvPeers              = "RAFTD_PEERS"
	EnvPersistenceCodec   = "RAFTD_PERSISTENCE_CODEC"
	EnvClusterKey         = "RAFTD_CLUSTER_KEY"
	EnvTLSEnable          = "RAFTD_TLS_ENABLE"
	EnvPeerDNS            = "RAFTD_PEER_DNS"
)

// Config holds the "raft" section plus the general var_dir.
type Config struct {
	ServerID            string
	ElectionTimeoutMin  int // milliseconds
	ElectionTimeoutMax  int // milliseconds
	HeartbeatTimeout    int // milliseconds
	Peers               string // newline-separated "address port" entries
	VarDir              string

	PersistenceCodec string // "none", "lz4", "snappy", "zstd"
	ClusterKey       string // hex-encoded pre-shared key for frame encryption
	TLSEnable        bool
	PeerDNS          string // optional resolver address, e.g. "10.0.0.53:53"

	ConfigFile string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerID:           "",
		ElectionTimeoutMin: 150,
		ElectionTimeoutMax: 300,
		HeartbeatTimeout:   50,
		Peers:              "",
		VarDir:             "./var",
		PersistenceCodec:   "none",
		TLSEnable:          false,
	}
}

// Validate checks the configuration invariants a raft server requires
// before it may start.
func (c *Config) Validate() error {
	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= 0 {
		return raerr.NewConfigError("election timeouts must be positive")
	}
	if c.ElectionTimeoutMin >= c.ElectionTimeoutMax {
		return raerr.InvalidTimeoutRange(c.ElectionTimeoutMin, c.ElectionTimeoutMax)
	}
	if c.HeartbeatTimeout <= 0 {
		return raerr.NewConfigError("heartbeat_timeout must be positive")
	}
	if c.HeartbeatTimeout*2 > c.ElectionTimeoutMin {
		return raerr.NewConfigError("heartbeat_timeout should be well under election_timeout_min")
	}
	if strings.TrimSpace(c.VarDir) == "" {
		return raerr.NewConfigError("var_dir must not be empty")
	}
	for _, line := range strings.Split(c.Peers, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return raerr.InvalidPeerList(line)
		}
		if _, err := strconv.Atoi(parts[1]); err != nil {
			return raerr.InvalidPeerList(line)
		}
	}
	switch c.PersistenceCodec {
	case "", "none", "lz4", "snappy", "zstd":
	default:
		return raerr.NewConfigError(fmt.Sprintf("unknown persistence_codec: %s", c.PersistenceCodec))
	}
	return nil
}

// String renders a short human-readable summary.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{ServerID: %q, ElectionTimeout: [%d,%d]ms, Heartbeat: %dms, VarDir: %q}",
		c.ServerID, c.ElectionTimeoutMin, c.ElectionTimeoutMax, c.HeartbeatTimeout, c.VarDir,
	)
}

// ToTOML renders the config in the simple "key = value" format LoadFromFile accepts.
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server_id = %q\n", c.ServerID)
	fmt.Fprintf(&b, "election_timeout_min = %d\n", c.ElectionTimeoutMin)
	fmt.Fprintf(&b, "election_timeout_max = %d\n", c.ElectionTimeoutMax)
	fmt.Fprintf(&b, "heartbeat_timeout = %d\n", c.HeartbeatTimeout)
	fmt.Fprintf(&b, "var_dir = %q\n", c.VarDir)
	fmt.Fprintf(&b, "persistence_codec = %q\n", c.PersistenceCodec)
	fmt.Fprintf(&b, "tls_enable = %t\n", c.TLSEnable)
	if c.ClusterKey != "" {
		fmt.Fprintf(&b, "cluster_key = %q\n", c.ClusterKey)
	}
	if c.PeerDNS != "" {
		fmt.Fprintf(&b, "peer_dns = %q\n", c.PeerDNS)
	}
	if c.Peers != "" {
		fmt.Fprintf(&b, "peers = %q\n", c.Peers)
	}
	return b.String()
}

// SaveToFile writes the config as TOML, creating parent directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(dirOf(path), 0755); err != nil {
		return raerr.WriteFailed(path).WithCause(err)
	}
	if err := os.WriteFile(path, []byte(c.ToTOML()), 0644); err != nil {
		return raerr.WriteFailed(path).WithCause(err)
	}
	return nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

// Manager owns the active Config, tracks which file it was loaded from,
// and notifies subscribers on Reload.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with defaults.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked after a successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// LoadFromFile parses a simple "key = value" file into the current config.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return raerr.NewConfigError("cannot open config file").WithCause(err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := splitKV(line)
		if !ok {
			continue
		}
		applyField(&cfg, key, val)
	}
	if err := scanner.Err(); err != nil {
		return raerr.NewConfigError("failed reading config file").WithCause(err)
	}

	cfg.ConfigFile = path
	m.cfg = &cfg
	return nil
}

// LoadFromEnv overlays environment variables onto the current config.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if v := os.Getenv(EnvServerID); v != "" {
		cfg.ServerID = v
	}
	if v := os.Getenv(EnvElectionTimeoutMin); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ElectionTimeoutMin = n
		}
	}
	if v := os.Getenv(EnvElectionTimeoutMax); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ElectionTimeoutMax = n
		}
	}
	if v := os.Getenv(EnvHeartbeatTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatTimeout = n
		}
	}
	if v := os.Getenv(EnvVarDir); v != "" {
		cfg.VarDir = v
	}
	if v := os.Getenv(EnvPeers); v != "" {
		cfg.Peers = v
	}
	if v := os.Getenv(EnvPersistenceCodec); v != "" {
		cfg.PersistenceCodec = v
	}
	if v := os.Getenv(EnvClusterKey); v != "" {
		cfg.ClusterKey = v
	}
	if v := os.Getenv(EnvTLSEnable); v != "" {
		cfg.TLSEnable = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPeerDNS); v != "" {
		cfg.PeerDNS = v
	}
	m.cfg = &cfg
}

// Reload re-reads the file the manager was last loaded from, re-applies
// environment overrides on top of it, and notifies any OnReload
// subscribers.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.cfg.ConfigFile
	m.mu.RUnlock()

	if path == "" {
		return raerr.NewConfigError("no config file to reload")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}
	m.LoadFromEnv()

	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

func splitKV(line string) (key, val string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	val = strings.TrimSpace(line[i+1:])
	val = strings.Trim(val, `"`)
	return key, val, true
}

func applyField(cfg *Config, key, val string) {
	switch key {
	case "server_id":
		cfg.ServerID = val
	case "election_timeout_min":
		if n, err := strconv.Atoi(val); err == nil {
			cfg.ElectionTimeoutMin = n
		}
	case "election_timeout_max":
		if n, err := strconv.Atoi(val); err == nil {
			cfg.ElectionTimeoutMax = n
		}
	case "heartbeat_timeout":
		if n, err := strconv.Atoi(val); err == nil {
			cfg.HeartbeatTimeout = n
		}
	case "var_dir":
		cfg.VarDir = val
	case "peers":
		cfg.Peers = val
	case "persistence_codec":
		cfg.PersistenceCodec = val
	case "cluster_key":
		cfg.ClusterKey = val
	case "tls_enable":
		cfg.TLSEnable = val == "true"
	case "peer_dns":
		cfg.PeerDNS = val
	}
}

var (
	globalMgr  *Manager
	globalOnce sync.Once
)

// Global returns the process-wide config manager singleton.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
