// Copyright (c) 2025 Niema Moshiri and The Zaparoo Project.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-gameid.
//
// go-gameid is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-gameid is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-gameid.  If not, see <https://www.gnu.org/licenses/>.

package lzma2mt

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/OneOfOne/xxhash"
)

// streamHash wraps a running XXH32 over the decoded plaintext, updated in
// emission order (never concurrently from workers, per the concurrency
// model) and compared against the trailing 4-byte canonical digest.
type streamHash struct {
	h hash.Hash32
}

func newStreamHash() *streamHash {
	return &streamHash{h: xxhash.New32()}
}

// write feeds p into the running hash.
func (s *streamHash) write(p []byte) {
	_, _ = s.h.Write(p)
}

// verify checks digest (4 bytes, big-endian canonical form per the LZMA2
// raw-stream framing) against the finalized hash.
func (s *streamHash) verify(digest []byte) error {
	if len(digest) != 4 {
		return fmt.Errorf("lzma2mt: short hash digest: %w", ErrCorruptData)
	}
	want := binary.BigEndian.Uint32(digest)
	got := uint32(s.h.Sum32())
	if want != got {
		return fmt.Errorf("lzma2mt: expected %08X, got %08X: %w", want, got, ErrChecksum)
	}
	return nil
}

// sum32 returns the current digest without finalizing (xxhash's Sum32 is
// non-destructive, matching XXH32_digest's semantics of being callable
// before the stream is known to be complete).
func (s *streamHash) sum32() uint32 {
	return uint32(s.h.Sum32())
}
