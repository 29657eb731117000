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
	"net"
	"sync"
	"sync/atomic"

	"raftd/internal/compression"
)

// Conn wraps a net.Conn with raftd's framing, optional payload
// compression, and optional payload encryption. A single Conn is used
// for every RPC exchanged with one peer; StreamID lets the calling side
// match a reply back to the request that triggered it when several are
// in flight on the same connection.
type Conn struct {
	nc         net.Conn
	writeMu    sync.Mutex
	compressor *compression.Compressor
	algo       compression.Algorithm
	cipher     *FrameCipher
	nextStream uint32
}

// Options configures a Conn's optional transforms.
type Options struct {
	CompressionAlgo compression.Algorithm
	Compressor      *compression.Compressor // required if CompressionAlgo != AlgorithmNone
	Cipher          *FrameCipher            // nil disables encryption
}

// NewConn wraps an established net.Conn (plain or TLS) for framed I/O.
func NewConn(nc net.Conn, opts Options) *Conn {
	return &Conn{
		nc:         nc,
		compressor: opts.Compressor,
		algo:       opts.CompressionAlgo,
		cipher:     opts.Cipher,
	}
}

// NextStreamID returns the next odd stream id used to correlate an
// outbound request with its eventual response.
func (c *Conn) NextStreamID() uint32 {
	return atomic.AddUint32(&c.nextStream, 2) - 1
}

// Send frames and writes payload, applying compression then encryption
// in that order (compress first so encryption sees less data).
func (c *Conn) Send(streamID uint32, msgType MessageType, payload []byte) error {
	flags := FlagNone
	out := payload

	if c.algo != compression.AlgorithmNone && c.compressor != nil {
		compressed, err := c.compressor.Compress(out)
		if err != nil {
			return err
		}
		if len(compressed) < len(out) {
			out = compressed
			flags |= FlagCompressed
		}
	}

	if c.cipher != nil {
		sealed, err := c.cipher.Seal(out)
		if err != nil {
			return err
		}
		out = sealed
		flags |= FlagEncrypted
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.nc, streamID, msgType, flags, out)
}

// Recv reads one frame and reverses encryption then decompression.
func (c *Conn) Recv() (*Message, error) {
	msg, err := ReadMessage(c.nc)
	if err != nil {
		return nil, err
	}

	payload := msg.Payload
	if msg.Header.Flags&FlagEncrypted != 0 {
		if c.cipher == nil {
			return nil, ErrNoClusterKey
		}
		opened, err := c.cipher.Open(payload)
		if err != nil {
			return nil, err
		}
		payload = opened
	}

	if msg.Header.Flags&FlagCompressed != 0 {
		if c.compressor == nil {
			return nil, ErrInvalidMessage
		}
		decompressed, err := c.compressor.Decompress(payload, c.algo)
		if err != nil {
			return nil, err
		}
		payload = decompressed
	}

	msg.Payload = payload
	return msg, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr reports the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
