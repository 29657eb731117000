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
Package transport implements raftd's binary wire protocol for peer-to-peer
RPCs: AppendEntries, RequestVote, and their results.

Message Format:
===============

	+--------+--------+--------+--------+--------+--------+--------+--------+...
	| Magic  | Version| MsgType| Flags  |    StreamID (4B) |    Length (4B)   | Payload...
	+--------+--------+--------+--------+--------+--------+--------+--------+...

	- Magic (1 byte): protocol magic number (0xF7 for raftd)
	- Version (1 byte): protocol version
	- MsgType (1 byte): message type identifier
	- Flags (1 byte): FlagCompressed / FlagEncrypted
	- StreamID (4 bytes): logical stream on a multiplexed connection
	- Length (4 bytes): payload length in big-endian

Message Types:
==============

	- 0x01: AppendEntries - leader replication / heartbeat request
	- 0x02: AppendEntriesResult - follower response
	- 0x03: RequestVote - candidate vote request
	- 0x04: RequestVoteResult - voter response
	- 0x05: Error - malformed/stale RPC rejection
	- 0x0A: Ping - keep-alive probe, answered with Pong
	- 0x0B: Pong - keep-alive response

When FlagCompressed is set, Payload has been run through the algorithm
named by the connection's negotiated compression.Algorithm before
framing. When FlagEncrypted is set, Payload is a chacha20poly1305
sealed box keyed by the cluster's pre-shared key (see crypto.go); the
nonce is carried inline as its first 12 bytes.
*/
package transport

import (
	"encoding/binary"
	"errors"
	"io"
)

// Protocol constants.
const (
	MagicByte       byte = 0xF7 // raftd magic byte
	ProtocolVersion byte = 0x01

	// MaxMessageSize bounds a single frame payload (4 MB). The
	// replication layer sends every entry from a peer's nextIndex in one
	// frame without splitting it; ReadHeader rejects a larger frame.
	MaxMessageSize = 4 * 1024 * 1024

	// HeaderSize is the on-wire size of Header, in bytes.
	HeaderSize = 12
)

// MessageType identifies the RPC carried by a frame.
type MessageType byte

const (
	MsgAppendEntries       MessageType = 0x01
	MsgAppendEntriesResult MessageType = 0x02
	MsgRequestVote         MessageType = 0x03
	MsgRequestVoteResult   MessageType = 0x04
	MsgError               MessageType = 0x05
	MsgPing                MessageType = 0x0A
	MsgPong                MessageType = 0x0B
)

// MessageFlag is a bitmask of frame-level transforms applied to Payload.
type MessageFlag byte

const (
	FlagNone       MessageFlag = 0x00
	FlagCompressed MessageFlag = 0x01
	FlagEncrypted  MessageFlag = 0x02
)

// Header is the fixed-size prefix of every frame.
type Header struct {
	Magic    byte
	Version  byte
	Type     MessageType
	Flags    MessageFlag
	StreamID uint32
	Length   uint32
}

// Message is a complete frame: header plus payload.
type Message struct {
	Header  Header
	Payload []byte
}

// Common errors.
var (
	ErrInvalidMagic    = errors.New("transport: invalid protocol magic byte")
	ErrInvalidVersion  = errors.New("transport: unsupported protocol version")
	ErrMessageTooLarge = errors.New("transport: message exceeds maximum size")
	ErrInvalidMessage  = errors.New("transport: invalid message format")
)

// WriteHeader writes a frame header to w.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Type)
	buf[3] = byte(h.Flags)
	binary.BigEndian.PutUint32(buf[4:8], h.StreamID)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a frame header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		Magic:    buf[0],
		Version:  buf[1],
		Type:     MessageType(buf[2]),
		Flags:    MessageFlag(buf[3]),
		StreamID: binary.BigEndian.Uint32(buf[4:8]),
		Length:   binary.BigEndian.Uint32(buf[8:12]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.Length > MaxMessageSize {
		return Header{}, ErrMessageTooLarge
	}

	return h, nil
}

// WriteMessage writes a complete frame to w.
func WriteMessage(w io.Writer, streamID uint32, msgType MessageType, flags MessageFlag, payload []byte) error {
	h := Header{
		Magic:    MagicByte,
		Version:  ProtocolVersion,
		Type:     msgType,
		Flags:    flags,
		StreamID: streamID,
		Length:   uint32(len(payload)),
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: h}
	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
