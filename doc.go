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

// Package lzma2mt implements a block-parallel LZMA2 decoder.
//
// It decodes the raw LZMA2 chunk format (as used inside 7z and xz
// containers, and standalone) in three modes: a one-shot call against a
// fully-buffered source and destination, an incremental streaming call
// that accepts arbitrary-sized input and output chunks across repeated
// calls, and both of the above split into independent concurrently
// decoded blocks at LZMA2 dictionary-reset boundaries. A trailing 32-bit
// XXH32 content hash is optional and, when present, is verified in both
// the one-shot and streaming (including multi-threaded streaming) paths.
package lzma2mt
