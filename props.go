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

const (
	numStates          = 12
	numLitStates       = 7
	numPosBitsMax      = 4
	numLenToPosStates  = 4
	numAlignBits       = 4
	alignTableSize     = 1 << numAlignBits
	startPosModelIndex = 4
	endPosModelIndex   = 14
	numFullDistances   = 1 << (endPosModelIndex >> 1)
	matchMinLen        = 2
	lzmaBaseSize       = 1846
	lzmaLitSize        = 0x300
	lzma2LcLpPbMax     = 4
	numLenLowBits      = 3
	numLenLowSymbols   = 1 << numLenLowBits
	numLenMidBits      = 3
	numLenMidSymbols   = 1 << numLenMidBits
	numLenHighBits     = 8
	numLenHighSymbols  = 1 << numLenHighBits
)

// Props holds the three packed LZMA literal/position parameters plus the
// dictionary size used to size a decoder's dictionary and probability
// tables.
type Props struct {
	// LC is the number of high bits of the previous byte used as literal
	// context, 0..8.
	LC uint32
	// LP is the number of low bits of the output position used as literal
	// position bits, 0..4.
	LP uint32
	// PB is the number of low bits of the output position used as the
	// match/literal position state, 0..4.
	PB uint32
	// DictSize is the LZMA dictionary size in bytes.
	DictSize uint32
}

// Validate reports whether p satisfies the documented bounds: lc+lp<=4 for
// the LZMA2 in-stream property byte encoding, and pb<=4. DictSize is not
// checked.
func (p Props) Validate() error {
	if p.LC+p.LP > lzma2LcLpPbMax {
		return fmt.Errorf("lzma2mt: lc+lp=%d exceeds %d: %w", p.LC+p.LP, lzma2LcLpPbMax, ErrBadProperties)
	}
	if p.PB > numPosBitsMax {
		return fmt.Errorf("lzma2mt: pb=%d exceeds %d: %w", p.PB, numPosBitsMax, ErrBadProperties)
	}
	return nil
}

// propsFromByte unpacks the single-byte combined (lc,lp,pb) encoding used
// both by raw LZMA headers and by LZMA2 chunk property bytes: d = (pb*5+lp)*9+lc.
func propsFromByte(d byte) (Props, error) {
	if d >= 9*5*5 {
		return Props{}, fmt.Errorf("lzma2mt: property byte %d exceeds 224: %w", d, ErrBadProperties)
	}
	v := uint32(d)
	lc := v % 9
	v /= 9
	lp := v % 5
	pb := v / 5
	p := Props{LC: lc, LP: lp, PB: pb}
	if err := p.Validate(); err != nil {
		return Props{}, err
	}
	return p, nil
}

// lzma2DicSizeFromByte decodes the dictionary-size byte that precedes an
// LZMA2 stream in some containers (not used by the raw chunk format this
// package decodes, but kept for callers wiring in a container layer).
func lzma2DicSizeFromByte(b byte) (uint32, error) {
	if b > 40 {
		return 0, fmt.Errorf("lzma2mt: dictionary size byte %d exceeds 40: %w", b, ErrBadProperties)
	}
	if b == 40 {
		return 0xFFFFFFFF, nil
	}
	dicSize := uint32(2|(uint32(b)&1)) << (uint32(b)/2 + 11)
	return dicSize, nil
}

// numProbs returns the number of 11-bit probability slots a decoder needs
// for the combined literal-context/position-bits dimension lc+lp, per
// lzmaBaseSize + lzmaLitSize * 2^(lc+lp).
func numProbs(lc, lp uint32) int {
	return lzmaBaseSize + (lzmaLitSize << (lc + lp))
}
