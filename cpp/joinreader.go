// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cpp

import (
	"bufio"
	"io"
)

// joinReader turns a raw character stream into a logical-character stream:
//
//   - a backslash immediately followed by a newline is removed, splicing the
//     surrounding halves into one logical line;
//   - '\r', "\r\n" and the Unicode line separators U+000B, U+000C, U+0085,
//     U+2028 and U+2029 are all exposed as a single '\n'.
//
// Trigraphs are not recognised; digraph handling belongs to the lexer.
//
// The number of newlines swallowed by splices is reported through
// takeSpliced so the lexer can keep physical line numbers advancing.
type joinReader struct {
	in      *bufio.Reader
	unread  []rune // LIFO push-back buffer
	spliced int    // newlines removed by line splicing since last takeSpliced
}

func newJoinReader(r io.Reader) *joinReader {
	return &joinReader{in: bufio.NewReader(r)}
}

// rawRead reads one rune with line-terminator normalisation but without
// splicing.
func (jr *joinReader) rawRead() (rune, error) {
	if n := len(jr.unread); n > 0 {
		c := jr.unread[n-1]
		jr.unread = jr.unread[:n-1]
		return c, nil
	}
	c, _, err := jr.in.ReadRune()
	if err != nil {
		return 0, err
	}
	switch c {
	case '\r':
		// Collapse "\r\n" into one newline; bare '\r' also maps to '\n'.
		d, _, err := jr.in.ReadRune()
		if err == nil && d != '\n' {
			jr.in.UnreadRune()
		}
		return '\n', nil
	case '\v', '\f', '\u0085', '\u2028', '\u2029':
		return '\n', nil
	default:
		return c, nil
	}
}

// read returns the next logical character, performing line splicing.
func (jr *joinReader) read() (rune, error) {
	for {
		c, err := jr.rawRead()
		if err != nil {
			return 0, err
		}
		if c != '\\' {
			return c, nil
		}
		d, err := jr.rawRead()
		if err != nil {
			// Trailing backslash at end of input stands for itself.
			return '\\', nil
		}
		if d != '\n' {
			jr.unreadRune(d)
			return '\\', nil
		}
		jr.spliced++
	}
}

// unreadRune pushes a logical character back; the next read returns it.
func (jr *joinReader) unreadRune(c rune) {
	jr.unread = append(jr.unread, c)
}

// takeSpliced returns the number of newlines removed by splicing since the
// previous call and resets the counter.
func (jr *joinReader) takeSpliced() int {
	n := jr.spliced
	jr.spliced = 0
	return n
}
