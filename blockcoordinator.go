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
	"context"
	"fmt"
)

// blockDesc describes one parallel block of a one-shot decode: its
// compressed span within src, its destination span within dst, and the
// finish mode its engine must observe.
type blockDesc struct {
	src        []byte
	unpackPos  uint32
	unpackSize uint32
	finish     FinishMode
	props      Props
	dicSize    uint32
	result     error
}

// BlockCoordinator decodes a single contiguous LZMA2 stream in parallel,
// splitting it into independent blocks at dictionary-reset boundaries.
// Grounded on original_source/fl2_decompress.c's
// FL2_decompressDCtxMt/FL2_decompressCtxBlocksMt.
type BlockCoordinator struct {
	nbThreads int
}

// NewBlockCoordinator creates a coordinator that fans work out across up to
// nbThreads goroutines (nbThreads-1 background workers; the caller's own
// goroutine always runs block 0 of each batch).
func NewBlockCoordinator(nbThreads int) *BlockCoordinator {
	if nbThreads < 1 {
		nbThreads = 1
	}
	return &BlockCoordinator{nbThreads: nbThreads}
}

// Decompress runs a full one-shot parallel decode of src (a property byte
// followed by LZMA2 chunks, per the raw-stream wire format) into dst,
// returning the number of bytes produced.
func (bc *BlockCoordinator) Decompress(dst, src []byte) (int, error) {
	if len(src) < 1 {
		return 0, fmt.Errorf("lzma2mt: empty source: %w", ErrShortSrc)
	}
	prop := src[0]
	doHash := prop&0x40 != 0
	propByte := prop & 0x3F
	if propByte > 40 {
		return 0, fmt.Errorf("lzma2mt: property byte %d exceeds 40: %w", propByte, ErrBadProperties)
	}
	props, err := propsFromByte(propByte)
	if err != nil {
		return 0, err
	}
	body := src[1:]

	dicPos, srcPos, isFinal, err := bc.decompressChunks(dst, body, props)
	if err != nil {
		return int(dicPos), err
	}
	if !isFinal {
		return int(dicPos), fmt.Errorf("lzma2mt: source ended without a final chunk marker: %w", ErrShortSrc)
	}

	if doHash {
		if len(body)-srcPos < 4 {
			return int(dicPos), fmt.Errorf("lzma2mt: truncated trailing hash: %w", ErrShortSrc)
		}
		h := newStreamHash()
		h.write(dst[:dicPos])
		if err := h.verify(body[srcPos : srcPos+4]); err != nil {
			return int(dicPos), err
		}
	}
	return int(dicPos), nil
}

// decompressChunks scans body with the chunk parser, grouping chunks into
// batches of up to bc.nbThreads blocks at DICT_RESET boundaries, flushing
// each batch in parallel, until a FINAL marker is seen or the source is
// exhausted.
func (bc *BlockCoordinator) decompressChunks(dst, body []byte, props Props) (dicPos uint32, srcPos int, isFinal bool, err error) {
	first := true
	blockStart := 0
	var blocks []blockDesc
	curUnpack := uint32(0)
	// openPos is the dst offset the next pushed-but-not-yet-flushed block
	// will start at: dicPos plus every block already appended to blocks
	// since the last flush. dicPos itself only ever changes inside flush,
	// so it always names the start of the batch currently being assembled.
	openPos := uint32(0)

	flush := func(finishLast FinishMode) error {
		if len(blocks) == 0 {
			return nil
		}
		n, ferr := bc.decodeBatch(dst[dicPos:], blocks, finishLast)
		dicPos += n
		openPos = dicPos
		blocks = blocks[:0]
		return ferr
	}

	for srcPos < len(body) {
		hdr, consumed, perr := parseChunkHeader(body[srcPos:])
		if perr != nil {
			if isMoreDataErr(perr) {
				err = fmt.Errorf("lzma2mt: truncated chunk header: %w", ErrShortSrc)
				return
			}
			err = perr
			return
		}

		if hdr.isFinal() {
			blocks = append(blocks, blockDesc{
				src:        body[blockStart:srcPos],
				unpackPos:  openPos,
				unpackSize: curUnpack,
				finish:     FinishEnd,
				props:      props,
				dicSize:    curUnpack,
			})
			srcPos += consumed
			if ferr := flush(FinishEnd); ferr != nil {
				err = ferr
				return
			}
			isFinal = true
			return
		}

		if isBlockBoundary(hdr, first) {
			if curUnpack > 0 || len(blocks) > 0 {
				blocks = append(blocks, blockDesc{
					src:        body[blockStart:srcPos],
					unpackPos:  openPos,
					unpackSize: curUnpack,
					finish:     FinishAny,
					props:      props,
					dicSize:    curUnpack,
				})
				openPos += curUnpack
				blockStart = srcPos
				curUnpack = 0
			}
			if len(blocks) >= bc.nbThreads {
				if ferr := flush(FinishAny); ferr != nil {
					err = ferr
					return
				}
				blockStart = srcPos
			}
		}
		first = false
		curUnpack += hdr.unpackSize
		srcPos += consumed
		if hdr.kind == chunkUncompressedKind || hdr.kind == chunkUncompressedResetKind {
			srcPos += int(hdr.unpackSize)
		} else {
			srcPos += int(hdr.packSize)
		}
	}
	err = fmt.Errorf("lzma2mt: source exhausted before final chunk marker: %w", ErrShortSrc)
	return
}

// decodeBatch initializes one Engine per block onto its disjoint dst slice
// and runs them to completion, block 0 inline and the rest on the pool.
func (bc *BlockCoordinator) decodeBatch(dst []byte, blocks []blockDesc, lastFinish FinishMode) (uint32, error) {
	var total uint32
	for _, b := range blocks {
		total += b.unpackSize
	}
	if uint32(len(dst)) < total {
		return 0, fmt.Errorf("lzma2mt: destination too small for batch: %w", ErrDstTooSmall)
	}

	jobs := make([]func() error, len(blocks))
	for i := range blocks {
		i := i
		b := blocks[i]
		finish := FinishAny
		if i == len(blocks)-1 {
			finish = lastFinish
		}
		off := b.unpackPos - blocks[0].unpackPos
		jobs[i] = func() error {
			eng, eerr := NewEngine(b.props, b.unpackSize, dst[off:off+b.unpackSize])
			if eerr != nil {
				return eerr
			}
			pos := 0
			for eng.dicPos < b.unpackSize {
				var srcLen int
				st, derr := eng.DecodeToDic(b.unpackSize, b.src[pos:], &srcLen, finish)
				pos += srcLen
				if derr != nil {
					return derr
				}
				if st == StatusFinishedWithMark || st == StatusMaybeFinishedWithoutMark {
					break
				}
				if srcLen == 0 {
					return fmt.Errorf("lzma2mt: block made no forward progress: %w", ErrCorruptData)
				}
			}
			if eng.dicPos != b.unpackSize {
				return fmt.Errorf("lzma2mt: block produced %d bytes, expected %d: %w", eng.dicPos, b.unpackSize, ErrCorruptData)
			}
			return nil
		}
	}

	if err := runBatch(context.Background(), bc.nbThreads-1, jobs); err != nil {
		return 0, err
	}
	return total, nil
}
