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

import "errors"

// Limits to prevent unbounded allocation from malformed or hostile streams.
const (
	// maxPropByte is the largest valid lc+9*lp+45*pb combined property value.
	maxPropByte = 40

	// lzmaRequiredInputMax is the number of trailing input bytes the engine
	// guarantees are enough to make forward progress on any valid chunk.
	lzmaRequiredInputMax = 20

	// mtInputNodeSize is the capacity of one InBufChain node.
	mtInputNodeSize = 1 << 20
)

// ErrorCode classifies a decode failure per the library's error taxonomy.
type ErrorCode int

const (
	// ErrNoError indicates no error; it is never returned, only used as a
	// zero value for ErrorCode.
	ErrNoError ErrorCode = iota
	// ErrCodeCorruption indicates malformed chunk framing or range-coder data.
	ErrCodeCorruption
	// ErrCodeSrcSizeWrong indicates the compressed input ended before a FINAL
	// marker, or contains bytes beyond what framing accounts for.
	ErrCodeSrcSizeWrong
	// ErrCodeDstTooSmall indicates the destination buffer cannot hold a
	// block's declared unpacked size.
	ErrCodeDstTooSmall
	// ErrCodeChecksum indicates the trailing XXH32 digest did not match.
	ErrCodeChecksum
	// ErrCodeInfiniteLoop indicates a streaming call made no progress twice
	// in a row.
	ErrCodeInfiniteLoop
	// ErrCodeMemory indicates an allocation could not be satisfied.
	ErrCodeMemory
)

// Sentinel errors for the decode error taxonomy. Wrap these with
// fmt.Errorf("%w: ...") for additional context; use errors.Is to test for
// them through a *DecodeError.
var (
	// ErrCorruptData indicates a malformed chunk header, broken range-coder
	// invariant, or a match distance referencing undefined dictionary content.
	ErrCorruptData = errors.New("lzma2mt: data corruption detected")

	// ErrBadProperties indicates a property byte exceeding the documented
	// (lc,lp,pb) bound.
	ErrBadProperties = errors.New("lzma2mt: invalid lc/lp/pb property byte")

	// ErrShortSrc indicates the compressed input ended before a FINAL marker.
	ErrShortSrc = errors.New("lzma2mt: compressed input ended before final marker")

	// ErrDstTooSmall indicates the destination buffer is smaller than a
	// block's declared unpacked size.
	ErrDstTooSmall = errors.New("lzma2mt: destination buffer too small")

	// ErrChecksum indicates the trailing XXH32 digest did not match.
	ErrChecksum = errors.New("lzma2mt: checksum mismatch")

	// ErrInfiniteLoop indicates a streaming call made no progress on input
	// or output across two consecutive calls.
	ErrInfiniteLoop = errors.New("lzma2mt: no forward progress, stream may be malformed")

	// ErrMemory indicates an allocation could not be satisfied.
	ErrMemory = errors.New("lzma2mt: allocation failed")

	// ErrDecoderPoisoned indicates the decoder returned an error previously
	// and must be reinitialized before further use.
	ErrDecoderPoisoned = errors.New("lzma2mt: decoder must be reinitialized after an error")
)

// DecodeError wraps a sentinel error with its taxonomy code. Callers that
// only need an errors.Is comparison can ignore Code entirely.
type DecodeError struct {
	Code ErrorCode
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped sentinel so errors.Is/errors.As reach it.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(code ErrorCode, err error) *DecodeError {
	return &DecodeError{Code: code, Err: err}
}

func codeForErr(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrCorruptData), errors.Is(err, ErrBadProperties):
		return ErrCodeCorruption
	case errors.Is(err, ErrShortSrc):
		return ErrCodeSrcSizeWrong
	case errors.Is(err, ErrDstTooSmall):
		return ErrCodeDstTooSmall
	case errors.Is(err, ErrChecksum):
		return ErrCodeChecksum
	case errors.Is(err, ErrInfiniteLoop):
		return ErrCodeInfiniteLoop
	case errors.Is(err, ErrMemory):
		return ErrCodeMemory
	default:
		return ErrCodeCorruption
	}
}
