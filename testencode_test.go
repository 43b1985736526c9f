package lzma2mt

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// rangeEncoder is a test-only binary arithmetic encoder, the mirror image of
// rangeDecoder, used to build known-good compressed fixtures for the engine
// and coordinator tests. No production encoder is in scope for this
// package; this exists purely so tests can construct valid LZMA2 streams
// without vendoring an external compressor.
type rangeEncoder struct {
	low       uint64
	rng       uint32
	cacheSize uint64
	cache     byte
	dst       []byte
}

func newRangeEncoder() *rangeEncoder {
	return &rangeEncoder{rng: 0xFFFFFFFF, cacheSize: 1}
}

func (e *rangeEncoder) shiftLow() {
	if uint32(e.low>>32) != 0 || e.low < 0xFF000000 {
		temp := e.cache
		for {
			e.dst = append(e.dst, temp+byte(e.low>>32))
			temp = 0xFF
			e.cacheSize--
			if e.cacheSize == 0 {
				break
			}
		}
		e.cache = byte(e.low >> 24)
	}
	e.cacheSize++
	e.low = (e.low << 8) & 0xFFFFFFFF
}

func (e *rangeEncoder) encodeBit(p *prob, bit uint32) {
	bound := (e.rng >> probBits) * uint32(*p)
	if bit == 0 {
		e.rng = bound
		*p += (1<<probBits - *p) >> adaptShift
	} else {
		e.low += uint64(bound)
		e.rng -= bound
		*p -= *p >> adaptShift
	}
	for e.rng < topValue {
		e.rng <<= 8
		e.shiftLow()
	}
}

func (e *rangeEncoder) encodeDirectBits(v uint32, numBits uint32) {
	for numBits > 0 {
		numBits--
		e.rng >>= 1
		if (v>>numBits)&1 != 0 {
			e.low += uint64(e.rng)
		}
		for e.rng < topValue {
			e.rng <<= 8
			e.shiftLow()
		}
	}
}

func (e *rangeEncoder) encodeBitTree(probs []prob, numBits uint32, sym uint32) {
	m := uint32(1)
	for i := numBits; i > 0; i-- {
		bit := (sym >> (i - 1)) & 1
		e.encodeBit(&probs[m], bit)
		m = (m << 1) | bit
	}
}

func (e *rangeEncoder) encodeBitTreeReverse(probs []prob, offset uint32, numBits uint32, sym uint32) {
	m := uint32(1)
	for i := uint32(0); i < numBits; i++ {
		bit := sym & 1
		sym >>= 1
		e.encodeBit(&probs[offset+m], bit)
		m = (m << 1) | bit
	}
}

func (e *rangeEncoder) flush() {
	for i := 0; i < 5; i++ {
		e.shiftLow()
	}
}

// encodeLiteralChunkPayload range-codes data as an all-literal LZMA chunk
// payload (no matches), mirroring Engine.decodeLiteral's bit-tree layout in
// reverse. The state never leaves the literal region (0), so the
// matched-literal path is never exercised by fixtures built this way.
func encodeLiteralChunkPayload(data []byte, props Props) []byte {
	probs := make([]prob, numProbs(props.LC, props.LP))
	initProbs(probs)
	enc := newRangeEncoder()
	var prevByte byte
	for i, b := range data {
		posState := uint32(i) & (1<<props.PB - 1)
		enc.encodeBit(&probs[probIsMatch+posState], 0)
		litState := ((uint32(i) & (1<<props.LP - 1)) << props.LC) | uint32(prevByte>>(8-props.LC))
		base := probLiteral + int(0x300*litState)
		enc.encodeBitTree(probs[base:base+0x300], 8, uint32(b))
		prevByte = b
	}
	enc.flush()
	return enc.dst
}

// encodeLiteralsThenMatchPayload range-codes literals followed by one new
// match reusing them (distance == len(literals), so decodeDistance's
// direct small-slot path applies with no extra bits) and one short rep0
// match extending the run by a further byte, mirroring
// Engine.decodeSymbol's match dispatch, decodeLen, decodeDistance,
// copyMatch, and matchByte in reverse, in lockstep with the state
// transitions decodeSymbol applies for each op. encodeLiteralChunkPayload's
// all-literal fixtures never leave state 0 and so never exercise any of
// this. Returns the chunk payload and the full plaintext it decodes to.
func encodeLiteralsThenMatchPayload(literals []byte, props Props) ([]byte, []byte) {
	probs := make([]prob, numProbs(props.LC, props.LP))
	initProbs(probs)
	enc := newRangeEncoder()

	state := uint32(0)
	pos := uint32(0)
	var prevByte byte

	posStateOf := func() uint32 { return pos & (1<<props.PB - 1) }

	for _, b := range literals {
		posState := posStateOf()
		state2 := (state << numPosBitsMax) + posState
		enc.encodeBit(&probs[probIsMatch+state2], 0)
		litState := ((pos & (1<<props.LP - 1)) << props.LC) | uint32(prevByte>>(8-props.LC))
		base := probLiteral + int(0x300*litState)
		enc.encodeBitTree(probs[base:base+0x300], 8, uint32(b))
		if state < 4 {
			state = 0
		} else if state < 10 {
			state -= 3
		} else {
			state -= 6
		}
		prevByte = b
		pos++
	}

	// New match: distance == len(literals) (posSlot == dist, since
	// dist < startPosModelIndex takes decodeDistance's direct-return path),
	// length == 1 + matchMinLen via the lenLow tree.
	dist := uint32(len(literals)) - 1
	const lenLowValue = 1
	posState := posStateOf()
	state2 := (state << numPosBitsMax) + posState
	enc.encodeBit(&probs[probIsMatch+state2], 1)
	enc.encodeBit(&probs[probIsRep+state], 0)
	enc.encodeBit(&probs[probLenCoder+lenChoice], 0)
	offLow := probLenCoder + lenLow + int(posState)<<numLenLowBits
	enc.encodeBitTree(probs[offLow:], numLenLowBits, lenLowValue)
	lenState := uint32(lenLowValue)
	if lenState > numLenToPosStates-1 {
		lenState = numLenToPosStates - 1
	}
	enc.encodeBitTree(probs[probPosSlot+int(lenState)*(1<<numPosSlotBits):], numPosSlotBits, dist)
	if state < 7 {
		state = 7
	} else {
		state = 10
	}
	matchLen := uint32(lenLowValue) + matchMinLen
	matched := append([]byte{}, literals[uint32(len(literals))-dist-1:]...)
	for len(matched) < int(matchLen) {
		matched = append(matched, matched[len(matched)-int(dist)-1])
	}
	matched = matched[:matchLen]
	for _, b := range matched {
		prevByte = b
		pos++
	}

	// Short rep0: one more byte at the same distance, via the
	// probIsRep/probIsRepG0/probIsRep0Long==0 branch.
	posState = posStateOf()
	state2 = (state << numPosBitsMax) + posState
	enc.encodeBit(&probs[probIsMatch+state2], 1)
	enc.encodeBit(&probs[probIsRep+state], 1)
	enc.encodeBit(&probs[probIsRepG0+state], 0)
	enc.encodeBit(&probs[probIsRep0Long+state2], 0)
	if state < 7 {
		state = 9
	} else {
		state = 11
	}
	repByte := matched[uint32(len(matched))-dist-1]
	prevByte = repByte
	pos++

	enc.flush()

	plaintext := append([]byte{}, literals...)
	plaintext = append(plaintext, matched...)
	plaintext = append(plaintext, repByte)
	return enc.dst, plaintext
}

// propsToByte is the forward direction of propsFromByte: d = (pb*5+lp)*9+lc.
func propsToByte(p Props) byte {
	return byte((p.PB*5+p.LP)*9 + p.LC)
}

// lzmaChunkHeader builds an LZMA chunk header (control byte + size fields,
// plus a trailing properties byte when rk requires one) for a payload of
// packSize bytes decoding to unpackSize bytes.
func lzmaChunkHeader(rk resetKind, unpackSize, packSize uint32, props Props) []byte {
	u := unpackSize - 1
	pk := packSize - 1
	c := byte(0x80) | byte(rk)<<5 | byte((u>>16)&0x1F)
	hdr := []byte{c, byte(u >> 8), byte(u), byte(pk >> 8), byte(pk)}
	if rk == resetStateNewProp || rk == resetDict {
		hdr = append(hdr, propsToByte(props))
	}
	return hdr
}

// buildLiteralLzmaChunk builds one complete LZMA chunk (header + payload)
// that decodes to data via an all-literal payload.
func buildLiteralLzmaChunk(data []byte, props Props, rk resetKind) []byte {
	payload := encodeLiteralChunkPayload(data, props)
	hdr := lzmaChunkHeader(rk, uint32(len(data)), uint32(len(payload)), props)
	return append(hdr, payload...)
}

// uncompressedChunkHeader builds a 0x01/0x02 uncompressed chunk header for a
// payload of len(data) bytes.
func uncompressedChunkHeader(data []byte, resetDic bool) []byte {
	n := uint32(len(data)) - 1
	c := byte(0x02)
	if resetDic {
		c = 0x01
	}
	return []byte{c, byte(n >> 8), byte(n)}
}

// streamHeaderByte builds the single property byte that precedes the first
// LZMA2 chunk: a stream-level properties hint (capped at 40, matching
// FL2_LZMA_PROP_MASK in fast-lzma2's fl2_decompress.c) plus the
// hash-presence flag in bit 6. Every block's first chunk is a dict reset
// and carries its own properties byte (chunk.go's hasProps), which
// supersedes this one before any real decoding happens, so callers that
// need a specific lc/lp/pb in the decoded body don't need this header byte
// to match it exactly — it only needs to parse without error.
func streamHeaderByte(props Props, withHash bool) byte {
	b := propsToByte(props)
	if b > 40 {
		b = 0
	}
	if withHash {
		b |= 0x40
	}
	return b
}

func appendHashIfNeeded(stream []byte, plaintext []byte, withHash bool) []byte {
	if !withHash {
		return stream
	}
	digest := make([]byte, 4)
	binary.BigEndian.PutUint32(digest, xxhash.Checksum32(plaintext))
	return append(stream, digest...)
}

// buildEmptyStream builds a raw LZMA2 stream with no chunks at all: just the
// header byte and the FINAL marker (concrete scenario: empty payload).
func buildEmptyStream(withHash bool) []byte {
	stream := []byte{streamHeaderByte(Props{}, withHash), 0x00}
	return appendHashIfNeeded(stream, nil, withHash)
}

// buildUncompressedStream builds a raw LZMA2 stream containing a single
// uncompressed chunk (with dictionary reset) holding data verbatim.
func buildUncompressedStream(data []byte, withHash bool) []byte {
	stream := []byte{streamHeaderByte(Props{}, withHash)}
	stream = append(stream, uncompressedChunkHeader(data, true)...)
	stream = append(stream, data...)
	stream = append(stream, 0x00)
	return appendHashIfNeeded(stream, data, withHash)
}

// buildSingleChunkStream builds a raw LZMA2 stream containing one LZMA
// chunk (dict reset + new properties) holding data, all-literal.
func buildSingleChunkStream(data []byte, props Props, withHash bool) []byte {
	stream := []byte{streamHeaderByte(props, withHash)}
	stream = append(stream, buildLiteralLzmaChunk(data, props, resetDict)...)
	stream = append(stream, 0x00)
	return appendHashIfNeeded(stream, data, withHash)
}

// buildMultiUncompressedChunkStream builds a raw LZMA2 stream holding many
// independent uncompressed chunks inside a single block (only the first
// resets the dictionary), used to exercise a streaming scan that must
// resume mid-block across many small Decompress calls.
func buildMultiUncompressedChunkStream(chunks [][]byte, withHash bool) []byte {
	stream := []byte{streamHeaderByte(Props{}, withHash)}
	var all []byte
	for i, c := range chunks {
		stream = append(stream, uncompressedChunkHeader(c, i == 0)...)
		stream = append(stream, c...)
		all = append(all, c...)
	}
	stream = append(stream, 0x00)
	return appendHashIfNeeded(stream, all, withHash)
}

// buildTwoChunkStream builds a raw LZMA2 stream with two independent
// dict-reset LZMA chunks, each all-literal, used to exercise parallel
// block splitting (the second chunk's dict reset is a genuine block
// boundary; the first's is demoted since it opens the stream).
func buildTwoChunkStream(data1, data2 []byte, props Props, withHash bool) []byte {
	stream := []byte{streamHeaderByte(props, withHash)}
	stream = append(stream, buildLiteralLzmaChunk(data1, props, resetDict)...)
	stream = append(stream, buildLiteralLzmaChunk(data2, props, resetDict)...)
	stream = append(stream, 0x00)
	full := append(append([]byte{}, data1...), data2...)
	return appendHashIfNeeded(stream, full, withHash)
}
