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
	"errors"
	"fmt"
)

// chunkKind classifies an LZMA2 chunk header's first byte.
type chunkKind int

const (
	chunkLzmaKind chunkKind = iota
	chunkUncompressedKind
	chunkUncompressedResetKind
	chunkFinalKind
)

// resetKind classifies the reset flags carried by an LZMA chunk header (the
// upper bits of a control byte >= 0x80); meaningless for other chunkKinds.
type resetKind int

const (
	resetNone resetKind = iota
	resetState
	resetStateNewProp
	resetDict
)

// chunkInfo is the result of classifying one LZMA2 chunk header: its kind,
// any reset it carries, and the packed/unpacked byte counts that follow.
type chunkInfo struct {
	kind       chunkKind
	resetKind  resetKind
	packSize   uint32
	unpackSize uint32
	props      *Props
}

// isBoundary reports whether hdr begins a new independently-decodable
// block: an uncompressed chunk with dictionary reset, or an LZMA chunk
// whose reset flags include a dictionary reset.
func (c chunkInfo) isBoundary() bool {
	return c.kind == chunkUncompressedResetKind || (c.kind == chunkLzmaKind && c.resetKind == resetDict)
}

// isFinal reports whether hdr is the LZMA2 end-of-stream marker (0x00).
func (c chunkInfo) isFinal() bool {
	return c.kind == chunkFinalKind
}

// errNeedMoreHeader signals that fewer bytes were supplied than required to
// classify the next chunk header; it is not a format error, only a request
// for more input. Use errors.Is against it (isMoreDataErr wraps this check).
var errNeedMoreHeader = errors.New("lzma2mt: insufficient bytes for chunk header")

func isMoreDataErr(err error) bool {
	return errors.Is(err, errNeedMoreHeader)
}

// parseChunkHeader classifies the chunk header at the start of src,
// returning the classification and the number of header bytes consumed
// (the payload itself is never consumed). It is a pure function: given the
// same bytes it always returns the same result, independent of any prior
// parsing state. Grounded on the byte layout in
// other_examples' lzma-chunks.go (readChunkHeader) and
// original_source/fl2_decompress.c's FLzma2Dec_ParseInput.
func parseChunkHeader(src []byte) (chunkInfo, int, error) {
	if len(src) < 1 {
		return chunkInfo{}, 0, errNeedMoreHeader
	}
	c := src[0]

	switch {
	case c == 0x00:
		return chunkInfo{kind: chunkFinalKind}, 1, nil

	case c == 0x01 || c == 0x02:
		if len(src) < 3 {
			return chunkInfo{}, 0, errNeedMoreHeader
		}
		size := uint32(src[1])<<8 | uint32(src[2])
		kind := chunkUncompressedKind
		if c == 0x01 {
			kind = chunkUncompressedResetKind
		}
		return chunkInfo{kind: kind, unpackSize: size + 1}, 3, nil

	case c >= 0x80:
		hasProps := c >= 0xc0
		hdrLen := 5
		if hasProps {
			hdrLen = 6
		}
		if len(src) < hdrLen {
			return chunkInfo{}, 0, errNeedMoreHeader
		}
		unpack := (uint32(c&0x1f)<<16 | uint32(src[1])<<8 | uint32(src[2])) + 1
		pack := (uint32(src[3])<<8 | uint32(src[4])) + 1

		var rk resetKind
		switch (c >> 5) & 0x3 {
		case 0:
			rk = resetNone
		case 1:
			rk = resetState
		case 2:
			rk = resetStateNewProp
		case 3:
			rk = resetDict
		}
		hdr := chunkInfo{kind: chunkLzmaKind, resetKind: rk, packSize: pack, unpackSize: unpack}
		n := 5
		if hasProps {
			p, err := propsFromByte(src[5])
			if err != nil {
				return chunkInfo{}, 0, err
			}
			hdr.props = &p
			n = 6
		} else if rk == resetStateNewProp || rk == resetDict {
			return chunkInfo{}, 0, fmt.Errorf("lzma2mt: lzma chunk reset flags require a properties byte: %w", ErrCorruptData)
		}
		return hdr, n, nil

	default:
		return chunkInfo{}, 0, fmt.Errorf("lzma2mt: control byte 0x%02x is not a valid chunk header: %w", c, ErrCorruptData)
	}
}

// isBlockBoundary reports whether hdr should be treated as opening a new
// parallel-decodable block. A leading DICT_RESET at the very start of the
// stream is demoted to CONTINUE (first == true) so the stream's first
// block is not spuriously split before it has produced any bytes, per the
// source decoder's behavior.
func isBlockBoundary(hdr chunkInfo, first bool) bool {
	if first {
		return false
	}
	return hdr.isBoundary()
}
