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

// Command raftctl is a read-only, offline inspection shell for a raft
// node's persistent file. It never dials a live node and never
// proposes a command, so it does not perform client command routing.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"raftd/internal/raft"
	"raftd/pkg/cli"
)

func main() {
	var (
		varDir   = flag.String("var-dir", "./var", "directory holding <id>.raft persistent files")
		serverID = flag.String("id", "", "server id whose persistent file to open (required)")
		codec    = flag.String("codec", "none", "persistence codec the file was written with: none, lz4, snappy, zstd")
		format   = flag.String("format", "table", "output format for one-shot commands: table, json, plain")
	)
	flag.Parse()

	if *serverID == "" {
		cli.ErrMissingServerID().Exit()
	}

	store, err := raft.NewFileStore(*varDir, *serverID, *codec)
	if err != nil {
		cli.ErrStoreNotFound(raft.FileName(*serverID), err).Exit()
	}

	shell := &shell{
		store:    store,
		serverID: *serverID,
		path:     raft.FileName(*serverID),
		outFmt:   cli.ParseOutputFormat(*format),
	}

	if args := flag.Args(); len(args) > 0 {
		shell.dispatch(strings.Join(args, " "))
		return
	}

	shell.repl()
}

// shell holds the state for one raftctl session: the store it reads
// from and the output format one-shot invocations use.
type shell struct {
	store    *raft.FileStore
	serverID string
	path     string
	outFmt   cli.OutputFormat
}

func (sh *shell) repl() {
	useColor := term.IsTerminal(int(os.Stdout.Fd()))
	prompt := fmt.Sprintf("raftctl(%s)> ", sh.serverID)
	if useColor {
		prompt = cli.Cyan + prompt + cli.Reset
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("peers"),
			readline.PcItem("log"),
			readline.PcItem("term"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Error("failed to start shell: "+err.Error()))
		os.Exit(1)
	}
	defer rl.Close()

	cli.PrintInfo("inspecting %s (read-only, offline)", sh.path)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		sh.dispatch(line)
	}
}

func (sh *shell) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "status":
		sh.cmdStatus()
	case "peers":
		sh.cmdPeers()
	case "log":
		n := 0
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				n = v
			}
		}
		sh.cmdLog(n)
	case "term":
		sh.cmdTerm()
	case "help":
		sh.cmdHelp()
	default:
		cli.ErrUnknownCommand(fields[0]).Print()
	}
}

func (sh *shell) load() (raft.PersistentState, bool) {
	state, err := sh.store.Load()
	if err != nil {
		cli.ErrCorruptPersistentFile(sh.path, err).Print()
		return raft.PersistentState{}, false
	}
	return state, true
}

func (sh *shell) cmdStatus() {
	state, ok := sh.load()
	if !ok {
		return
	}
	t := cli.NewTable("field", "value")
	t.SetFormat(sh.outFmt)
	t.AddRow("server_id", sh.serverID)
	t.AddRow("current_term", strconv.FormatUint(state.CurrentTerm, 10))
	t.AddRow("voted_for", cli.VotedForLabel(state.VotedFor))
	t.AddRow("log_length", strconv.Itoa(len(state.Log)))
	if len(state.Log) > 0 {
		last := state.Log[len(state.Log)-1]
		t.AddRow("last_log_index", strconv.FormatUint(last.Index, 10))
		t.AddRow("last_log_term", strconv.FormatUint(last.Term, 10))
	}
	t.Print()
}

func (sh *shell) cmdTerm() {
	state, ok := sh.load()
	if !ok {
		return
	}
	fmt.Println(state.CurrentTerm)
}

func (sh *shell) cmdPeers() {
	// The persistent file holds no peer bookkeeping (peers are
	// reconstructed at startup from configuration, not persisted), so
	// this reports what the file itself can attest to: the candidate
	// this node most recently voted for.
	state, ok := sh.load()
	if !ok {
		return
	}
	t := cli.NewTable("voted_for_this_term")
	t.SetFormat(sh.outFmt)
	t.AddRow(cli.VotedForLabel(state.VotedFor))
	t.Print()
}

func (sh *shell) cmdLog(n int) {
	state, ok := sh.load()
	if !ok {
		return
	}
	entries := state.Log
	if n > 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	t := cli.NewTable("index", "term", "command_bytes", "command_preview")
	t.SetFormat(sh.outFmt)
	for _, e := range entries {
		t.AddRow(
			strconv.FormatUint(e.Index, 10),
			strconv.FormatUint(e.Term, 10),
			strconv.Itoa(len(e.Command)),
			cli.FormatCommandPreview(e.Command, 40),
		)
	}
	t.Print()
}

func (sh *shell) cmdHelp() {
	h := cli.NewHelpFormatter("raftctl", "1.0")
	h.AddCommand(cli.Command{Name: "status", Description: "show current term, voted-for, and log summary"})
	h.AddCommand(cli.Command{Name: "peers", Description: "show the last candidate this node voted for"})
	h.AddCommand(cli.Command{Name: "log", Description: "show the last n log entries (all, if omitted)", Usage: "log [n]"})
	h.AddCommand(cli.Command{Name: "term", Description: "print the current term"})
	h.AddCommand(cli.Command{Name: "help", Description: "show this help"})
	h.AddCommand(cli.Command{Name: "exit", Aliases: []string{"quit"}, Description: "quit raftctl"})
	h.PrintUsage()
}
