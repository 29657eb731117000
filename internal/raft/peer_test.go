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

func TestNormalizePeerLine(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1 7950": "10.0.0.1:7950",
		"node-a 7951":    "node-a:7951",
	}
	for in, want := range cases {
		if got := normalizePeerLine(in); got != want {
			t.Errorf("normalizePeerLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitPeerLine(t *testing.T) {
	addr, port, err := splitPeerLine("10.0.0.2 7950")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "10.0.0.2" || port != "7950" {
		t.Fatalf("got addr=%q port=%q", addr, port)
	}
}

func TestSplitPeerLine_Malformed(t *testing.T) {
	if _, _, err := splitPeerLine("not-a-valid-entry"); err == nil {
		t.Fatalf("expected an error for a malformed peer line")
	}
}

func TestBuildPeers_ElidesSelfByLocalhost(t *testing.T) {
	peers, err := BuildPeers("self-id", "localhost 7950\n10.0.0.9 7950", 7950, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !peers[0].IsSelf || peers[0].ID != "self-id" {
		t.Fatalf("expected self entry first, got %+v", peers[0])
	}
	for _, p := range peers {
		if p.Address == "localhost:7950" {
			t.Fatalf("expected localhost:7950 (same port as this server) to be elided as self, found %+v", p)
		}
	}
	// the non-self IPv4 peer on the same port must survive
	found := false
	for _, p := range peers {
		if p.Address == "10.0.0.9:7950" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected remote peer 10.0.0.9:7950 to remain in peer set")
	}
}

func TestBuildPeers_KeepsSameHostDifferentPort(t *testing.T) {
	peers, err := BuildPeers("self-id", "localhost 7951", 7950, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, p := range peers {
		if p.Address == "localhost:7951" {
			found = true
		}
	}
	if !found {
		t.Fatalf("a peer entry on a different port must not be elided as self")
	}
}

func TestBuildPeers_SelfOnlyConfigKeepsSelfEntry(t *testing.T) {
	peers, err := BuildPeers("self-id", "localhost 7950", 7950, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(peers) != 1 || !peers[0].IsSelf {
		t.Fatalf("expected only the self entry when the one configured peer elides to self, got %+v", peers)
	}
}

func TestBuildPeers_RejectsMalformedLine(t *testing.T) {
	if _, err := BuildPeers("self-id", "garbage-entry-no-port", 7950, ""); err == nil {
		t.Fatalf("expected an error for a malformed peer line")
	}
}

func TestSortPeersByID_OrdersDeterministically(t *testing.T) {
	peers := []*Peer{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	sortPeersByID(peers)
	want := []string{"a", "b", "c"}
	for i, p := range peers {
		if p.ID != want[i] {
			t.Fatalf("expected order %v, got peer[%d].ID=%q", want, i, p.ID)
		}
	}
}

func TestIPInList_NilNeverMatches(t *testing.T) {
	local, err := localAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ipInList(nil, local) {
		t.Fatalf("nil IP must never match")
	}
}
