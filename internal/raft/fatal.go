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

import "os"

// exitFunc terminates the process. It is a variable, not a direct
// os.Exit call, so tests can observe a halt without killing the test
// binary; production code never overrides it.
var exitFunc = os.Exit

// haltLocked reports a fatal persistence failure and terminates the
// process. Per the durability contract (spec.md §4.7), a server that
// cannot durably record a state change must never reply to an RPC with
// that change still only in memory -- it must leave the cluster instead.
// Callers must still return their own safe reply afterward: in tests
// exitFunc does not actually exit, so control returns here and the
// caller's own return statement is what prevents the reply from
// disclosing unpersisted state.
func (s *Server) haltLocked(reason string, err error) {
	s.log.Error("halting: persistence failure", "reason", reason, "error", err.Error())
	exitFunc(1)
}
