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

// Command raftd runs a single member of a raft cluster: it loads
// configuration, provisions its persistent log store, and serves peer
// RPCs until terminated.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"raftd/internal/config"
	"raftd/internal/logging"
	"raftd/internal/raft"
	"raftd/internal/tls"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a raftd config file")
		port       = flag.Int("port", 7950, "TCP port this server listens on for peer RPCs")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		jsonLogs   = flag.Bool("json-logs", false, "emit logs as JSON lines")
	)
	flag.Parse()

	logging.SetGlobalLevel(logging.ParseLevel(*logLevel))
	logging.SetJSONMode(*jsonLogs)
	log := logging.NewLogger("raftd")

	mgr := config.Global()
	if *configPath != "" {
		if err := mgr.LoadFromFile(*configPath); err != nil {
			log.Error("failed to load config file", "path", *configPath, "error", err.Error())
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	store, err := raft.NewFileStore(cfg.VarDir, serverIdentity(cfg, *port), cfg.PersistenceCodec)
	if err != nil {
		log.Error("failed to open persistent store", "error", err.Error())
		os.Exit(1)
	}

	server, err := raft.NewServer(cfg, store, *port)
	if err != nil {
		log.Error("failed to construct raft server", "error", err.Error())
		os.Exit(1)
	}

	if cfg.TLSEnable {
		certDir, certPath, keyPath := tls.GetDefaultCertPaths(cfg.VarDir)
		certCfg := tls.DefaultCertConfig(server.ID())
		if err := tls.EnsureCertificates(certPath, keyPath, certCfg); err != nil {
			log.Error("failed to provision TLS certificates", "dir", certDir, "error", err.Error())
			os.Exit(1)
		}
		tlsConfig, err := tls.LoadTLSConfig(certPath, keyPath)
		if err != nil {
			log.Error("failed to load TLS config", "error", err.Error())
			os.Exit(1)
		}
		server.SetTLSConfig(tlsConfig)
	}

	mgr.OnReload(func(reloaded *config.Config) {
		log.Info("configuration reloaded; restart required for timeout and peer-list changes to take effect")
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start raft server", "error", err.Error())
		os.Exit(1)
	}

	log.Info("raftd ready", "id", server.ID(), "port", strconv.Itoa(*port))

	go applyLoop(server, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := mgr.Reload(); err != nil {
				log.Warn("config reload failed", "error", err.Error())
			}
			continue
		}
		break
	}

	log.Info("shutting down")
	server.Stop()
}

// applyLoop drains committed log entries for as long as the server
// runs. A standalone raftd has no embedding state machine, so it only
// logs what would otherwise be handed to one.
func applyLoop(server *raft.Server, log *logging.Logger) {
	for entry := range server.ApplyChannel() {
		log.Debug("applied entry", "index", strconv.FormatUint(entry.Index, 10), "term", strconv.FormatUint(entry.Term, 10))
	}
}

// serverIdentity mirrors the default-ID derivation raft.NewServer uses
// internally, so the persistent store file name is stable across a
// restart even before the Server is constructed.
func serverIdentity(cfg *config.Config, port int) string {
	if cfg.ServerID != "" {
		return cfg.ServerID
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", strings.TrimSpace(hostname), port)
}
