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

package transport

import (
	"crypto/tls"
	"net"

	"golang.org/x/net/netutil"
)

// MaxInboundConns bounds how many simultaneous peer connections a
// server accepts. A Raft cluster's peer count is small and static, so
// this is generous headroom rather than a real capacity limit -- its
// purpose is to stop a runaway client (or raftctl misuse) from
// exhausting file descriptors.
const MaxInboundConns = 256

// Listen opens a bounded TCP listener on addr. If tlsConfig is non-nil,
// accepted connections are wrapped in TLS; a client certificate is
// required only if tlsConfig sets ClientAuth.
func Listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	bounded := netutil.LimitListener(ln, MaxInboundConns)
	if tlsConfig != nil {
		return tls.NewListener(bounded, tlsConfig), nil
	}
	return bounded, nil
}

// Dial opens a connection to a peer, optionally over TLS.
func Dial(addr string, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig != nil {
		return tls.Dial("tcp", addr, tlsConfig)
	}
	return net.Dial("tcp", addr)
}
