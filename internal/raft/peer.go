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
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	raerr "raftd/internal/errors"
)

// Peer tracks bookkeeping for one remote server. The self entry (index
// 0) has Address == "" and is never dialed.
type Peer struct {
	Address     string
	ID          string
	IsSelf      bool
	VoteGranted bool
	RPCDue      time.Time

	// Leader-only replication cursors, reinitialized on election win.
	NextIndex  uint64
	MatchIndex uint64
}

// BuildPeers parses the newline-separated "address port" peer list,
// eliding any entry that resolves to a locally bound socket (the
// self-peer already represents this server) and returning the self
// entry first. serverID names the self entry; localPort is the port
// this server listens on for peer RPCs.
//
// Unlike a narrow literal match against 127.0.0.1/localhost/::1, self
// detection here resolves every configured peer address and compares
// it against this host's actual interface addresses, so a peer entry
// naming this machine by its LAN IP or hostname is correctly elided
// too. peerDNS, if set, names a resolver to use for peer hostnames
// instead of the system resolver (useful when peers are only
// addressable via a private DNS zone).
func BuildPeers(serverID string, peersConfig string, localPort int, peerDNS string) ([]*Peer, error) {
	localAddrs, err := localAddresses()
	if err != nil {
		return nil, raerr.NewConfigError("failed to enumerate local network addresses").WithCause(err)
	}

	peers := []*Peer{{ID: serverID, IsSelf: true}}

	resolver := newResolver(peerDNS)

	for _, line := range trimmedLines(peersConfig) {
		addr, portStr, err := splitPeerLine(line)
		if err != nil {
			return nil, raerr.InvalidPeerList(line)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, raerr.InvalidPeerList(line)
		}

		if isSelfAddress(addr, port, localPort, localAddrs, resolver) {
			continue
		}

		peers = append(peers, &Peer{
			Address: net.JoinHostPort(addr, portStr),
			ID:      fmt.Sprintf("%s:%d", addr, port),
		})
	}

	if len(peers) == 0 {
		return nil, raerr.NewConfigError("peer set is empty")
	}

	sortPeersByID(peers[1:])
	return peers, nil
}

// localAddresses returns every IP address bound to a local interface,
// used to detect a peer entry that names this host under any alias.
func localAddresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs)+1)
	ips = append(ips, net.ParseIP("127.0.0.1"), net.ParseIP("::1"))
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	return ips, nil
}

type resolveFunc func(host string) []net.IP

// newResolver returns a lookup function that uses the system resolver,
// or a specific DNS server (via miekg/dns) when peerDNS is configured.
func newResolver(peerDNS string) resolveFunc {
	if peerDNS == "" {
		return func(host string) []net.IP {
			ips, _ := net.LookupIP(host)
			return ips
		}
	}

	client := new(dns.Client)
	server := peerDNS
	return func(host string) []net.IP {
		fqdn := dns.Fqdn(host)
		var ips []net.IP
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			msg := new(dns.Msg)
			msg.SetQuestion(fqdn, qtype)
			resp, _, err := client.Exchange(msg, server)
			if err != nil || resp == nil {
				continue
			}
			for _, rr := range resp.Answer {
				switch rec := rr.(type) {
				case *dns.A:
					ips = append(ips, rec.A)
				case *dns.AAAA:
					ips = append(ips, rec.AAAA)
				}
			}
		}
		return ips
	}
}

// isSelfAddress reports whether host:port names a socket this process
// itself listens on.
func isSelfAddress(host string, port, localPort int, localAddrs []net.IP, resolve resolveFunc) bool {
	if port != localPort {
		return false
	}

	if ip := net.ParseIP(host); ip != nil {
		return ipInList(ip, localAddrs)
	}
	if host == "localhost" {
		return true
	}

	for _, ip := range resolve(host) {
		if ipInList(ip, localAddrs) {
			return true
		}
	}
	return false
}

func ipInList(ip net.IP, list []net.IP) bool {
	for _, candidate := range list {
		if candidate != nil && candidate.Equal(ip) {
			return true
		}
	}
	return false
}

func splitPeerLine(line string) (addr, port string, err error) {
	host, p, err := net.SplitHostPort(normalizePeerLine(line))
	if err != nil {
		return "", "", err
	}
	return host, p, nil
}

// normalizePeerLine turns the config's "address port" shorthand into
// "address:port" so net.SplitHostPort can parse it uniformly.
func normalizePeerLine(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			return line[:i] + ":" + line[i+1:]
		}
	}
	return line
}

// sortPeersByID orders non-self peers deterministically by ID, using a
// locale-aware collator so that peer IDs are ordered consistently
// across nodes regardless of process locale -- matters because peer
// iteration order affects nothing semantically but log readability.
func sortPeersByID(peers []*Peer) {
	col := collate.New(language.Und)
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && col.CompareString(peers[j-1].ID, peers[j].ID) > 0; j-- {
			peers[j-1], peers[j] = peers[j], peers[j-1]
		}
	}
}
