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

// streamStage is the StreamDecoder's state machine position, per the
// INIT/DECOMP/MT_WRITE/HASH/FINISHED diagram in the specification.
type streamStage int

const (
	stageInit streamStage = iota
	stageDecomp
	stageMTWrite
	stageHash
	stageFinished
)

// pendingBlock is one decoded batch member awaiting MT_WRITE drain.
type pendingBlock struct {
	buf    []byte
	drawn  int
}

// StreamDecoder decodes an LZMA2 stream delivered piecewise across
// repeated Decompress calls, exploiting parallelism across dictionary
// reset boundaries the same way BlockCoordinator does for a fully
// buffered stream. Grounded on original_source/fl2_decompress.c's
// FL2_DStream_s / FL2_decompressStreamMt / FL2_LoadInputMt.
//
// Unlike the source this is modeled on, the multi-threaded streaming path
// verifies the trailing XXH32 digest (see the HASH stage below) instead of
// leaving that check disabled.
type StreamDecoder struct {
	nbThreads int

	stage    streamStage
	chain    *inBufChain
	scanNode *inBufNode // chain node the header scan will resume from
	scanPos  int        // offset into scanNode, not yet scanned for chunk headers
	first    bool

	props  Props
	doHash bool
	hash   *streamHash

	curUnpack     uint32
	blockStart    *inBufNode // first node of the currently open, unflushed block
	blockStartOff int

	pending      []pendingBlock
	writeIdx     int
	batchIsFinal bool

	loopCount int
	poisoned  bool
}

// NewStreamDecoder allocates a streaming decoder backed by up to nbThreads
// goroutines per batch.
func NewStreamDecoder(nbThreads int) *StreamDecoder {
	if nbThreads < 1 {
		nbThreads = 1
	}
	d := &StreamDecoder{nbThreads: nbThreads}
	d.Reset()
	return d
}

// Reset begins a new stream whose property byte will be read from the
// input (INIT stage).
func (d *StreamDecoder) Reset() {
	*d = StreamDecoder{nbThreads: d.nbThreads}
	d.chain = newInBufChain()
	d.scanNode = d.chain.head
	d.blockStart = d.chain.head
	d.first = true
	d.stage = stageInit
}

// ResetWithProp begins a new stream using an out-of-band property byte,
// skipping the INIT stage's input byte.
func (d *StreamDecoder) ResetWithProp(prop byte) error {
	d.Reset()
	if err := d.applyProp(prop); err != nil {
		return err
	}
	d.stage = stageDecomp
	return nil
}

func (d *StreamDecoder) applyProp(prop byte) error {
	d.doHash = prop&0x40 != 0
	propByte := prop & 0x3F
	if propByte > 40 {
		return fmt.Errorf("lzma2mt: property byte %d exceeds 40: %w", propByte, ErrBadProperties)
	}
	p, err := propsFromByte(propByte)
	if err != nil {
		return err
	}
	d.props = p
	if d.doHash {
		d.hash = newStreamHash()
	}
	return nil
}

// Decompress advances the stream through as many state-machine steps as the
// supplied input and output space allow, consuming as much of src and
// producing as much into dst as it can, and reports how many bytes of each
// it used. A
// non-nil error poisons the decoder: further calls return
// ErrDecoderPoisoned until Reset.
func (d *StreamDecoder) Decompress(dst, src []byte) (dstWritten, srcConsumed int, err error) {
	if d.poisoned {
		return 0, 0, ErrDecoderPoisoned
	}
	defer func() {
		if err != nil {
			d.poisoned = true
		}
	}()

	if d.stage == stageInit {
		if len(src) < 1 {
			return d.afterStep(0, 0, nil)
		}
		if perr := d.applyProp(src[0]); perr != nil {
			return 0, 0, perr
		}
		srcConsumed = 1
		d.stage = stageDecomp
	}

	consumedThisCall := d.chain.append(src[srcConsumed:])
	srcConsumed += consumedThisCall

	if d.stage == stageDecomp {
		advanced, derr := d.tryDecodeBatch()
		if derr != nil {
			return dstWritten, srcConsumed, derr
		}
		_ = advanced
	}

	if d.stage == stageMTWrite {
		n := d.drainPending(dst)
		dstWritten += n
		if d.allDrained() {
			d.pending = nil
			d.writeIdx = 0
			if d.batchIsFinal {
				if d.doHash {
					d.stage = stageHash
				} else {
					d.stage = stageFinished
				}
			} else {
				d.stage = stageDecomp
			}
		}
	}

	if d.stage == stageHash {
		// The 4-byte digest trails the chain exactly where chunk scanning
		// stopped (the FINAL marker byte was already consumed by the
		// scanner and excluded from any block's span).
		avail := d.chainRemaining()
		if avail < 4 {
			return d.afterStep(dstWritten, srcConsumed, nil)
		}
		digest := d.readChainBytes(4)
		if herr := d.hash.verify(digest); herr != nil {
			return dstWritten, srcConsumed, herr
		}
		d.stage = stageFinished
	}

	return d.afterStep(dstWritten, srcConsumed, nil)
}

// afterStep applies the stall-detection rule: two consecutive calls with
// no input consumed and no output produced, while not yet finished, is an
// infinite-loop error.
func (d *StreamDecoder) afterStep(dstWritten, srcConsumed int, err error) (int, int, error) {
	if err != nil {
		return dstWritten, srcConsumed, err
	}
	if d.stage == stageFinished {
		d.loopCount = 0
		return dstWritten, srcConsumed, nil
	}
	if dstWritten == 0 && srcConsumed == 0 {
		d.loopCount++
		if d.loopCount > 1 {
			return dstWritten, srcConsumed, ErrInfiniteLoop
		}
	} else {
		d.loopCount = 0
	}
	return dstWritten, srcConsumed, nil
}

// Finished reports whether the stream has reached its terminal state
// (FINISHED, with the hash, if any, already verified).
func (d *StreamDecoder) Finished() bool {
	return d.stage == stageFinished
}

// chainRemaining returns how many unscanned bytes remain in the chain from
// the current scan cursor to the tail.
func (d *StreamDecoder) chainRemaining() int {
	n := 0
	node := d.scanNode
	off := d.scanPos
	for node != nil {
		n += node.length - off
		off = 0
		node = node.next
	}
	return n
}

// readChainBytes consumes and returns n bytes from the scan cursor
// forward (used only for the trailing hash digest, always small).
func (d *StreamDecoder) readChainBytes(n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		avail := d.scanNode.length - d.scanPos
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, d.scanNode.buf[d.scanPos:d.scanPos+take]...)
		d.scanPos += take
		if d.scanPos >= d.scanNode.length && d.scanNode.next != nil {
			d.scanNode = d.scanNode.next
			d.scanPos = 0
		}
	}
	return out
}

// tryDecodeBatch scans forward from the current cursor, grouping
// complete chunks into blocks at DICT_RESET boundaries until either
// nbThreads blocks have accumulated or a FINAL marker is found. If the
// chain runs out of fully-buffered chunks first, it leaves state in
// place to resume on the next call once more input arrives.
func (d *StreamDecoder) tryDecodeBatch() (bool, error) {
	var blocks []inputBlock
	node, off := d.scanNode, d.scanPos
	blockFirstNode, blockFirstOff := d.blockStart, d.blockStartOff

	for {
		hdr, consumed, herr := peekChunkHeader(node, off)
		if herr != nil {
			if isMoreDataErr(herr) {
				// Not enough buffered bytes to classify the next header yet.
				break
			}
			return false, herr
		}

		if hdr.isFinal() {
			blocks = append(blocks, inputBlock{
				first: blockFirstNode, last: node,
				startPos: blockFirstOff, endPos: off,
				unpackSize: d.curUnpack,
			})
			node, off = advance(node, off, consumed)
			d.scanNode, d.scanPos = node, off
			if err := d.flushBatch(blocks, true); err != nil {
				return false, err
			}
			return true, nil
		}

		payloadLen := int(hdr.packSize)
		if hdr.kind == chunkUncompressedKind || hdr.kind == chunkUncompressedResetKind {
			payloadLen = int(hdr.unpackSize)
		}
		if !bytesAvailable(node, off, consumed+payloadLen) {
			break
		}

		if isBlockBoundary(hdr, d.first) && d.curUnpack > 0 {
			blocks = append(blocks, inputBlock{
				first: blockFirstNode, last: node,
				startPos: blockFirstOff, endPos: off,
				unpackSize: d.curUnpack,
			})
			blockFirstNode, blockFirstOff = node, off
			d.curUnpack = 0
		}
		d.first = false
		d.curUnpack += hdr.unpackSize
		node, off = advance(node, off, consumed+payloadLen)

		// Persist progress after every fully-parsed chunk so a call that
		// returns below without completing a batch resumes exactly here,
		// rather than re-scanning (and double-counting) chunks already
		// folded into d.curUnpack.
		d.scanNode, d.scanPos = node, off
		d.blockStart, d.blockStartOff = blockFirstNode, blockFirstOff

		if len(blocks) >= d.nbThreads {
			if err := d.flushBatch(blocks, false); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return len(blocks) > 0, nil
}

// flushBatch decodes the given blocks (all but the first on the pool, the
// first inline) and stores their output buffers for MT_WRITE to drain.
func (d *StreamDecoder) flushBatch(blocks []inputBlock, isFinal bool) error {
	d.pending = make([]pendingBlock, len(blocks))
	jobs := make([]func() error, len(blocks))
	for i := range blocks {
		i := i
		b := blocks[i]
		d.pending[i].buf = make([]byte, b.unpackSize)
		finish := FinishAny
		if isFinal && i == len(blocks)-1 {
			finish = FinishEnd
		}
		jobs[i] = func() error {
			eng, eerr := NewEngine(d.props, b.unpackSize, d.pending[i].buf)
			if eerr != nil {
				return eerr
			}
			src := b.bytes()
			pos := 0
			for eng.dicPos < b.unpackSize {
				var n int
				st, derr := eng.DecodeToDic(b.unpackSize, src[pos:], &n, finish)
				pos += n
				if derr != nil {
					return derr
				}
				if n == 0 && st != StatusFinishedWithMark {
					return fmt.Errorf("lzma2mt: stream block made no progress: %w", ErrCorruptData)
				}
			}
			return nil
		}
	}
	if err := runBatch(context.Background(), d.nbThreads-1, jobs); err != nil {
		return err
	}
	d.batchIsFinal = isFinal
	d.stage = stageMTWrite
	if len(blocks) > 0 {
		d.chain.freePrefixExcept(blocks[len(blocks)-1].last)
	}
	return nil
}

// drainPending copies as much of the pending decoded blocks into dst as
// fit, in block order, feeding the running hash over every byte copied.
func (d *StreamDecoder) drainPending(dst []byte) int {
	written := 0
	for written < len(dst) && d.writeIdx < len(d.pending) {
		pb := &d.pending[d.writeIdx]
		avail := len(pb.buf) - pb.drawn
		n := len(dst) - written
		if n > avail {
			n = avail
		}
		copy(dst[written:], pb.buf[pb.drawn:pb.drawn+n])
		if d.doHash {
			d.hash.write(pb.buf[pb.drawn : pb.drawn+n])
		}
		pb.drawn += n
		written += n
		if pb.drawn == len(pb.buf) {
			d.writeIdx++
		}
	}
	return written
}

func (d *StreamDecoder) allDrained() bool {
	return d.writeIdx >= len(d.pending)
}

// peekChunkHeader classifies the chunk header starting at (node, off)
// without consuming it. It materializes up to 6 header bytes (the
// largest header shape) across a node boundary when necessary, and
// returns errNeedMoreHeader (via parseChunkHeader) when the chain does not
// yet hold enough bytes to tell.
func peekChunkHeader(node *inBufNode, off int) (chunkInfo, int, error) {
	var buf [6]byte
	n := 0
	cn, coff := node, off
	for n < 6 && cn != nil {
		if coff >= cn.length {
			cn = cn.next
			coff = 0
			continue
		}
		buf[n] = cn.buf[coff]
		n++
		coff++
	}
	return parseChunkHeader(buf[:n])
}

func bytesAvailable(node *inBufNode, off, n int) bool {
	remaining := 0
	cn, coff := node, off
	for cn != nil && remaining < n {
		remaining += cn.length - coff
		coff = 0
		cn = cn.next
	}
	return remaining >= n
}

func advance(node *inBufNode, off, n int) (*inBufNode, int) {
	for n > 0 {
		left := node.length - off
		if n < left {
			return node, off + n
		}
		n -= left
		off = 0
		if node.next == nil {
			return node, node.length
		}
		node = node.next
	}
	return node, off
}
