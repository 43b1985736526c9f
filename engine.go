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

import "fmt"

// Probability-table region offsets, in the layout of the reference LZMA
// decoder: a single flat []prob slice backs every probability tree, sized
// lzmaBaseSize + lzmaLitSize<<(lc+lp) (see numProbs).
const (
	numPosStatesMax = 1 << numPosBitsMax
	numPosSlotBits  = 6

	probIsMatch     = 0
	probIsRep       = probIsMatch + numStates*numPosStatesMax
	probIsRepG0     = probIsRep + numStates
	probIsRepG1     = probIsRepG0 + numStates
	probIsRepG2     = probIsRepG1 + numStates
	probIsRep0Long  = probIsRepG2 + numStates
	probPosSlot     = probIsRep0Long + numStates*numPosStatesMax
	probSpecPos     = probPosSlot + numLenToPosStates*(1<<numPosSlotBits)
	probAlign       = probSpecPos + numFullDistances - endPosModelIndex
	probLenCoder    = probAlign + alignTableSize
	numLenProbs     = 2 + (numPosStatesMax << numLenLowBits) + (numPosStatesMax << numLenMidBits) + numLenHighSymbols
	probRepLenCoder = probLenCoder + numLenProbs
	probLiteral     = probRepLenCoder + numLenProbs
)

// len-coder sub-offsets, relative to probLenCoder/probRepLenCoder.
const (
	lenChoice  = 0
	lenChoice2 = 1
	lenLow     = 2
	lenMid     = lenLow + numPosStatesMax<<numLenLowBits
	lenHigh    = lenMid + numPosStatesMax<<numLenMidBits
)

// Status is the result of one DecodeToDic call.
type Status int

const (
	// StatusNotFinished indicates the engine stopped at the caller's limit
	// or ran out of source bytes mid-chunk; decoding may resume.
	StatusNotFinished Status = iota
	// StatusFinishedWithMark indicates the LZMA2 end-of-stream chunk (0x00)
	// was observed and consumed.
	StatusFinishedWithMark
	// StatusNeedsMoreInput indicates fewer than lzmaRequiredInputMax bytes
	// were available and the engine could not guarantee forward progress.
	StatusNeedsMoreInput
	// StatusMaybeFinishedWithoutMark indicates the output limit was reached
	// exactly at a point where the stream could validly end, without having
	// seen an explicit marker (used by FinishAny callers).
	StatusMaybeFinishedWithoutMark
)

// FinishMode controls whether DecodeToDic may return as soon as the output
// limit is reached (FinishAny) or must first observe the chunk's logical
// end (FinishEnd).
type FinishMode int

const (
	// FinishAny permits returning once the dictionary limit is reached.
	FinishAny FinishMode = iota
	// FinishEnd requires decoding through to a chunk/stream boundary.
	FinishEnd
)

// framing-layer state: what the engine is waiting for next.
type framingState int

const (
	stateAwaitingChunkHeader framingState = iota
	stateInLzmaChunk
	stateInUncompressedChunk
	stateFinished
)

// Engine is a single-instance LZMA2 decoder: a range-coded LZMA symbol
// decoder plus the LZMA2 chunk framing that resets it between chunks. One
// Engine owns one contiguous (or circular) dictionary region; parallel
// decoding uses one Engine per block.
type Engine struct {
	probs []prob
	rc    rangeDecoder

	dic          []byte
	dicPos       uint32
	dicBufSize   uint32
	checkDicSize uint32
	extDic       bool

	processedPos uint32
	state        uint32
	reps         [4]uint32
	remainLen    uint32

	props Props

	framing      framingState
	control      byte
	packSize     uint32
	unpackSize   uint32
	needInitProp bool

	// rcPrimed is true once the range coder has been primed for the
	// current LZMA chunk's payload.
	rcPrimed bool
}

// NewEngine allocates an Engine with a dictionary of dicBufSize bytes. If
// dic is non-nil it is used directly as the backing store (extDic = true,
// zero-copy, never wraps); otherwise one is allocated.
func NewEngine(props Props, dicBufSize uint32, dic []byte) (*Engine, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		props:      props,
		dicBufSize: dicBufSize,
		framing:    stateAwaitingChunkHeader,
	}
	if dic != nil {
		if uint32(len(dic)) < dicBufSize {
			return nil, fmt.Errorf("lzma2mt: dictionary buffer shorter than dicBufSize: %w", ErrMemory)
		}
		e.dic = dic
		e.extDic = true
	} else {
		e.dic = make([]byte, dicBufSize)
	}
	e.probs = make([]prob, numProbs(props.LC, props.LP))
	e.resetDict()
	return e, nil
}

// resetDict performs a full dictionary reset: state, reps, processedPos and
// probabilities are reinitialized; dictionary contents are considered
// empty from this point (dicPos is left untouched — callers controlling a
// shared dst slice across blocks rebase it externally).
func (e *Engine) resetDict() {
	e.state = 0
	e.reps = [4]uint32{1, 1, 1, 1}
	e.processedPos = 0
	e.checkDicSize = 0
	e.resetState()
}

// resetState reinitializes probabilities only, leaving the dictionary,
// processedPos and reps untouched (an LZMA2 "state reset").
func (e *Engine) resetState() {
	initProbs(e.probs)
	e.rcPrimed = false
}

// setProps reallocates the probability table if lc+lp changed and resets
// state, as an LZMA2 "new properties" event requires.
func (e *Engine) setProps(p Props) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.LC != e.props.LC || p.LP != e.props.LP {
		e.probs = make([]prob, numProbs(p.LC, p.LP))
	}
	e.props = p
	e.resetState()
	return nil
}

// DecodeToDic consumes compressed bytes from src, producing uncompressed
// bytes into the engine's dictionary until dicPos reaches limit, src is
// exhausted, or a chunk/stream boundary is reached. srcLen is updated in
// place to the number of bytes consumed. It never writes past limit and
// never reads past len(src).
func (e *Engine) DecodeToDic(limit uint32, src []byte, srcLen *int, finish FinishMode) (Status, error) {
	if limit > e.dicBufSize {
		return StatusNotFinished, fmt.Errorf("lzma2mt: limit exceeds dicBufSize: %w", ErrDstTooSmall)
	}
	pos := 0
	defer func() { *srcLen = pos }()

	for {
		if e.dicPos >= limit {
			if finish == FinishAny {
				return StatusMaybeFinishedWithoutMark, nil
			}
			return StatusNotFinished, nil
		}
		switch e.framing {
		case stateFinished:
			return StatusFinishedWithMark, nil

		case stateAwaitingChunkHeader:
			hdr, consumed, err := parseChunkHeader(src[pos:])
			if err != nil {
				if isMoreDataErr(err) {
					if len(src)-pos >= lzmaRequiredInputMax {
						// A genuinely malformed header longer than the
						// margin will never resolve by waiting.
						return StatusNotFinished, fmt.Errorf("lzma2mt: truncated chunk header: %w", ErrShortSrc)
					}
					return StatusNeedsMoreInput, nil
				}
				return StatusNotFinished, err
			}
			pos += consumed
			if err := e.beginChunk(hdr); err != nil {
				return StatusNotFinished, err
			}
			continue

		case stateInUncompressedChunk:
			n := e.unpackSize
			if n > limit-e.dicPos {
				n = limit - e.dicPos
			}
			avail := uint32(len(src) - pos)
			if n > avail {
				n = avail
			}
			if n == 0 {
				if e.unpackSize > 0 {
					return StatusNeedsMoreInput, nil
				}
			}
			for i := uint32(0); i < n; i++ {
				e.putByte(src[pos+int(i)])
			}
			pos += int(n)
			e.unpackSize -= n
			if e.unpackSize == 0 {
				e.framing = stateAwaitingChunkHeader
			}
			continue

		case stateInLzmaChunk:
			// The range decoder reads src directly, bounded to this chunk's
			// remaining payload, so its position stays an offset into src.
			end := len(src)
			if uint32(end-pos) > e.packSize {
				end = pos + int(e.packSize)
			}
			if !e.rcPrimed {
				if !e.rc.init(src[pos:end]) {
					if len(src)-pos >= lzmaRequiredInputMax {
						return StatusNotFinished, fmt.Errorf("lzma2mt: truncated range-coder prime: %w", ErrShortSrc)
					}
					return StatusNeedsMoreInput, nil
				}
				e.rcPrimed = true
				pos += 5
				e.packSize -= 5
			}
			e.rc.setSrc(src[:end], pos)
			e.rc.corrupt = false

			avail := len(src) - pos
			if uint32(avail) < lzmaRequiredInputMax && e.packSize > uint32(avail) {
				return StatusNeedsMoreInput, nil
			}

			st, err := e.decodeChunkPayload(limit)
			consumed := e.rc.pos - pos
			pos += consumed
			if e.packSize >= uint32(consumed) {
				e.packSize -= uint32(consumed)
			} else {
				e.packSize = 0
			}
			if err != nil {
				return StatusNotFinished, err
			}
			switch st {
			case chunkPayloadNeedInput:
				return StatusNeedsMoreInput, nil
			case chunkPayloadLimitReached:
				if finish == FinishAny {
					return StatusMaybeFinishedWithoutMark, nil
				}
				return StatusNotFinished, nil
			case chunkPayloadDone:
				// Payload bytes the symbols did not read (at most the one a
				// final normalization would take) still belong to the chunk.
				if uint32(len(src)-pos) < e.packSize {
					return StatusNeedsMoreInput, nil
				}
				pos += int(e.packSize)
				e.packSize = 0
				e.framing = stateAwaitingChunkHeader
				continue
			}
		}
	}
}

func (e *Engine) putByte(b byte) {
	e.dic[e.dicPos] = b
	e.dicPos++
	e.processedPos++
}

// beginChunk applies the reset semantics implied by hdr and transitions
// framing state, per the LZMA2 chunk-header table in the specification.
func (e *Engine) beginChunk(hdr chunkInfo) error {
	switch hdr.kind {
	case chunkFinalKind:
		e.framing = stateFinished
		return nil
	case chunkUncompressedKind, chunkUncompressedResetKind:
		if hdr.kind == chunkUncompressedResetKind {
			e.resetDict()
		}
		e.unpackSize = hdr.unpackSize
		e.framing = stateInUncompressedChunk
		e.state = 0
		e.reps = [4]uint32{1, 1, 1, 1}
		return nil
	case chunkLzmaKind:
		switch hdr.resetKind {
		case resetDict:
			e.resetDict()
			if hdr.props == nil {
				return fmt.Errorf("lzma2mt: lzma chunk requires new properties: %w", ErrCorruptData)
			}
			if err := e.setProps(*hdr.props); err != nil {
				return err
			}
		case resetStateNewProp:
			if hdr.props == nil {
				return fmt.Errorf("lzma2mt: lzma chunk requires new properties: %w", ErrCorruptData)
			}
			if err := e.setProps(*hdr.props); err != nil {
				return err
			}
		case resetState:
			e.resetState()
		case resetNone:
			// continue with existing state/props
		}
		e.packSize = hdr.packSize
		e.unpackSize = hdr.unpackSize
		e.framing = stateInLzmaChunk
		e.rcPrimed = false
		return nil
	default:
		return fmt.Errorf("lzma2mt: unrecognized chunk kind: %w", ErrCorruptData)
	}
}

type chunkPayloadStatus int

const (
	chunkPayloadNeedInput chunkPayloadStatus = iota
	chunkPayloadLimitReached
	chunkPayloadDone
)

// decodeChunkPayload runs the LZMA symbol decode loop against the current
// chunk until dicPos reaches limit, the chunk's unpackSize is exhausted, or
// the range coder runs out of primed input. When only part of the chunk's
// payload is buffered, it stops before a symbol once fewer than
// lzmaRequiredInputMax bytes remain, so no symbol is decoded from missing
// input.
func (e *Engine) decodeChunkPayload(limit uint32) (chunkPayloadStatus, error) {
	whole := uint32(len(e.rc.src)-e.rc.pos) >= e.packSize
	for e.unpackSize > 0 && e.dicPos < limit {
		if !whole && len(e.rc.src)-e.rc.pos < lzmaRequiredInputMax {
			return chunkPayloadNeedInput, nil
		}
		if e.rc.corrupt {
			return chunkPayloadNeedInput, nil
		}
		n, err := e.decodeSymbol()
		if err != nil {
			return 0, err
		}
		e.unpackSize -= n
		if e.rc.corrupt {
			return chunkPayloadNeedInput, nil
		}
	}
	if e.rc.corrupt {
		return chunkPayloadNeedInput, nil
	}
	if e.unpackSize == 0 {
		return chunkPayloadDone, nil
	}
	return chunkPayloadLimitReached, nil
}

func (e *Engine) posState() uint32 {
	return e.processedPos & (1<<e.props.PB - 1)
}

// decodeSymbol decodes exactly one literal or match operation, writing its
// output bytes to the dictionary, and returns how many unpacked bytes it
// produced. Grounded on ulikunitz/xz's lzbase.Reader.readOp/decodeLiteral
// and the reference decoder's symbol dispatch.
func (e *Engine) decodeSymbol() (uint32, error) {
	posState := e.posState()
	state2 := (e.state << numPosBitsMax) + posState

	if e.rc.decodeBit(&e.probs[probIsMatch+state2]) == 0 {
		sym, err := e.decodeLiteral()
		if err != nil {
			return 0, err
		}
		e.putByte(sym)
		if e.state < 4 {
			e.state = 0
		} else if e.state < 10 {
			e.state -= 3
		} else {
			e.state -= 6
		}
		return 1, nil
	}

	var length uint32
	if e.rc.decodeBit(&e.probs[probIsRep+e.state]) == 0 {
		// new match
		e.reps[3], e.reps[2], e.reps[1] = e.reps[2], e.reps[1], e.reps[0]
		l, err := e.decodeLen(probLenCoder, posState)
		if err != nil {
			return 0, err
		}
		length = l
		if e.state < 7 {
			e.state = 7
		} else {
			e.state = 10
		}
		lenState := length
		if lenState > numLenToPosStates-1 {
			lenState = numLenToPosStates - 1
		}
		posSlot := e.rc.decodeBitTree(e.probs[probPosSlot+lenState*(1<<numPosSlotBits):], numPosSlotBits)
		dist, err := e.decodeDistance(posSlot)
		if err != nil {
			return 0, err
		}
		e.reps[0] = dist
		if e.reps[0] == 0xFFFFFFFF {
			// The encoder always pairs this sentinel distance with the
			// maximum length code; decoders conventionally do not
			// re-verify that length, since the distance value alone is
			// already unambiguous.
			e.framing = stateFinished
			return 0, nil
		}
	} else {
		if e.processedPos == 0 && e.checkDicSize == 0 {
			return 0, fmt.Errorf("lzma2mt: rep match before any output: %w", ErrCorruptData)
		}
		if e.rc.decodeBit(&e.probs[probIsRepG0+e.state]) == 0 {
			if e.rc.decodeBit(&e.probs[probIsRep0Long+state2]) == 0 {
				if e.state < 7 {
					e.state = 9
				} else {
					e.state = 11
				}
				b, err := e.matchByte(e.reps[0])
				if err != nil {
					return 0, err
				}
				e.putByte(b)
				return 1, nil
			}
		} else {
			var dist uint32
			if e.rc.decodeBit(&e.probs[probIsRepG1+e.state]) == 0 {
				dist = e.reps[1]
			} else if e.rc.decodeBit(&e.probs[probIsRepG2+e.state]) == 0 {
				dist = e.reps[2]
				e.reps[2] = e.reps[1]
			} else {
				dist = e.reps[3]
				e.reps[3] = e.reps[2]
				e.reps[2] = e.reps[1]
			}
			e.reps[1] = e.reps[0]
			e.reps[0] = dist
		}
		l, err := e.decodeLen(probRepLenCoder, posState)
		if err != nil {
			return 0, err
		}
		length = l
		if e.state < 7 {
			e.state = 8
		} else {
			e.state = 11
		}
	}

	length += matchMinLen
	if err := e.copyMatch(e.reps[0], length); err != nil {
		return 0, err
	}
	return length, nil
}

// decodeLiteral decodes one literal byte, including the matched-literal
// XOR-guided path used immediately after a match.
func (e *Engine) decodeLiteral() (byte, error) {
	var prevByte byte
	if e.processedPos > 0 || e.dicPos > 0 {
		prevByte = e.byteBack(1)
	}
	litState := ((e.processedPos & (1<<e.props.LP - 1)) << e.props.LC) | uint32(prevByte>>(8-e.props.LC))
	base := probLiteral + int(0x300*litState)
	probs := e.probs[base : base+0x300]

	symbol := uint32(1)
	if e.state >= numLitStates {
		matchByte, err := e.matchByte(e.reps[0])
		if err != nil {
			return 0, err
		}
		for symbol < 0x100 {
			matchBit := uint32(matchByte>>7) & 1
			matchByte <<= 1
			bit := e.rc.decodeBit(&probs[((1+matchBit)<<8)+symbol])
			symbol = (symbol << 1) | bit
			if matchBit != bit {
				break
			}
		}
	}
	for symbol < 0x100 {
		symbol = (symbol << 1) | e.rc.decodeBit(&probs[symbol])
	}
	return byte(symbol), nil
}

func (e *Engine) decodeLen(base int, posState uint32) (uint32, error) {
	if e.rc.decodeBit(&e.probs[base+lenChoice]) == 0 {
		off := base + lenLow + int(posState)<<numLenLowBits
		return e.rc.decodeBitTree(e.probs[off:], numLenLowBits), nil
	}
	if e.rc.decodeBit(&e.probs[base+lenChoice2]) == 0 {
		off := base + lenMid + int(posState)<<numLenMidBits
		return numLenLowSymbols + e.rc.decodeBitTree(e.probs[off:], numLenMidBits), nil
	}
	off := base + lenHigh
	return numLenLowSymbols + numLenMidSymbols + e.rc.decodeBitTree(e.probs[off:], numLenHighBits), nil
}

func (e *Engine) decodeDistance(posSlot uint32) (uint32, error) {
	if posSlot < startPosModelIndex {
		return posSlot, nil
	}
	numDirectBits := (posSlot >> 1) - 1
	dist := (2 | (posSlot & 1)) << numDirectBits
	if posSlot < endPosModelIndex {
		off := probSpecPos + int(dist) - int(posSlot) - 1
		dist += e.rc.decodeBitTreeReverse(e.probs, uint32(off), numDirectBits)
		return dist, nil
	}
	dist += e.rc.decodeDirectBits(numDirectBits-numAlignBits) << numAlignBits
	dist += e.rc.decodeBitTreeReverse(e.probs, probAlign, numAlignBits)
	return dist, nil
}

// byteBack returns the dictionary byte dist positions before dicPos,
// wrapping modularly when the dictionary is a circular (non-external)
// buffer smaller than the full dictionary size.
func (e *Engine) byteBack(dist uint32) byte {
	if dist <= e.dicPos {
		return e.dic[e.dicPos-dist]
	}
	if e.extDic {
		return 0
	}
	return e.dic[e.dicBufSize+e.dicPos-dist]
}

func (e *Engine) matchByte(rep0 uint32) (byte, error) {
	dist := rep0 + 1
	if dist > e.dicPos && (e.extDic || dist > e.checkDicSizeOrProcessed()) {
		return 0, fmt.Errorf("lzma2mt: match distance %d exceeds available dictionary: %w", dist, ErrCorruptData)
	}
	return e.byteBack(dist), nil
}

func (e *Engine) checkDicSizeOrProcessed() uint32 {
	if e.checkDicSize != 0 {
		return e.checkDicSize
	}
	return e.processedPos
}

// copyMatch copies length bytes from dist bytes back in the dictionary to
// the current write position, one byte at a time (matches may overlap
// themselves, e.g. run-length patterns, so a bulk copy is not valid).
func (e *Engine) copyMatch(rep0 uint32, length uint32) error {
	dist := rep0 + 1
	if dist > e.dicPos && (e.extDic || dist > e.checkDicSizeOrProcessed()) {
		return fmt.Errorf("lzma2mt: match distance %d exceeds available dictionary: %w", dist, ErrCorruptData)
	}
	for i := uint32(0); i < length; i++ {
		e.putByte(e.byteBack(dist))
	}
	return nil
}
