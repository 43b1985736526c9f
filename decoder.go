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
	"fmt"
	"io"
)

const (
	// ContentSizeUnknown is returned by FindDecompressedSize when the
	// supplied prefix ends before a FINAL chunk marker.
	ContentSizeUnknown = -1
	// ContentSizeError is returned by FindDecompressedSize when the
	// supplied prefix contains a malformed chunk header.
	ContentSizeError = -2
)

// Decoder is a one-shot parallel LZMA2 decoder: create it and call
// Decompress with the whole compressed input and a destination large enough
// to hold the whole plaintext. The property byte is always read from the
// first byte of src; Decoder has no method to supply it separately.
type Decoder struct {
	bc *BlockCoordinator
}

// NewDecoder allocates a one-shot decoder with a pool of nbThreads-1
// background workers.
func NewDecoder(nbThreads int) *Decoder {
	return &Decoder{bc: NewBlockCoordinator(nbThreads)}
}

// Decompress runs a full one-shot parallel decode of src into dst and
// returns the number of bytes produced. src must be a full raw LZMA2
// stream: a leading property byte, LZMA2 chunks, a FINAL marker, and (if
// the property byte's hash bit is set) a trailing 4-byte XXH32 digest.
func (d *Decoder) Decompress(dst, src []byte) (int, error) {
	return d.bc.Decompress(dst, src)
}

// NewReader adapts a streaming LZMA2 source into an io.Reader, driving a
// StreamDecoder internally. Grounded on the teacher's chd.go pattern of
// wrapping a raw block-oriented API in a standard io interface.
func NewReader(r io.Reader, nbThreads int) io.Reader {
	return &streamReader{r: r, d: NewStreamDecoder(nbThreads), in: make([]byte, 64*1024)}
}

type streamReader struct {
	r      io.Reader
	d      *StreamDecoder
	in     []byte
	inLen  int
	inOff  int
	eof    bool
	err    error
}

func (sr *streamReader) Read(p []byte) (int, error) {
	if sr.err != nil {
		return 0, sr.err
	}
	for {
		if sr.inOff == sr.inLen && !sr.eof {
			n, rerr := sr.r.Read(sr.in)
			sr.inLen, sr.inOff = n, 0
			if rerr == io.EOF {
				sr.eof = true
			} else if rerr != nil {
				sr.err = rerr
				return 0, rerr
			}
		}
		written, consumed, derr := sr.d.Decompress(p, sr.in[sr.inOff:sr.inLen])
		sr.inOff += consumed
		if derr != nil {
			sr.err = derr
			return written, derr
		}
		if written > 0 {
			return written, nil
		}
		if sr.d.Finished() {
			sr.err = io.EOF
			return 0, io.EOF
		}
		if sr.eof && consumed == 0 && written == 0 {
			sr.err = fmt.Errorf("lzma2mt: input ended before stream finished: %w", ErrShortSrc)
			return 0, sr.err
		}
	}
}

// FindDecompressedSize sums unpackSize across the LZMA2 chunks in src
// (which must not include a leading property byte) until a FINAL marker,
// without running any decoder. It reports ContentSizeUnknown if src ends
// before FINAL and ContentSizeError for a malformed header; err carries
// additional detail for callers that want it, while the numeric return
// alone satisfies the documented contract.
func FindDecompressedSize(src []byte) (int64, error) {
	var total int64
	pos := 0
	for pos < len(src) {
		hdr, consumed, err := parseChunkHeader(src[pos:])
		if err != nil {
			if isMoreDataErr(err) {
				return ContentSizeUnknown, nil
			}
			return ContentSizeError, err
		}
		if hdr.isFinal() {
			return total, nil
		}
		total += int64(hdr.unpackSize)
		pos += consumed
		if hdr.kind == chunkUncompressedKind || hdr.kind == chunkUncompressedResetKind {
			pos += int(hdr.unpackSize)
		} else {
			pos += int(hdr.packSize)
		}
	}
	return ContentSizeUnknown, nil
}

// EstimateDecoderSize upper-bounds the memory a one-shot Decoder with
// nbThreads will use: one maximum-size probability table and one input
// chain node (mtInputNodeSize) per thread. The destination buffer is not
// counted. Grounded on
// original_source/fl2_decompress.c's FL2_estimateDCtxSize.
func EstimateDecoderSize(nbThreads int) uint64 {
	if nbThreads < 1 {
		nbThreads = 1
	}
	const maxProbTable = uint64(lzmaBaseSize+lzmaLitSize<<lzma2LcLpPbMax) * 2
	return uint64(nbThreads) * (maxProbTable + mtInputNodeSize)
}

// EstimateStreamDecoderSize upper-bounds the memory a StreamDecoder with
// the given dictSize and nbThreads will use. It assumes (as the source
// decoder's own estimator does) roughly a 50% compression ratio, so each
// in-flight block's decoded output buffer is sized up to 4x the
// dictionary, doubled for the overlap between the batch being written out
// and the batch being decoded concurrently.
func EstimateStreamDecoderSize(dictSize uint32, nbThreads int) uint64 {
	if nbThreads < 1 {
		nbThreads = 1
	}
	perThread := uint64(2*4*uint64(dictSize)) + mtInputNodeSize
	return uint64(nbThreads) * perThread
}
