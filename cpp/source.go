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

// Source is a pull-based producer of preprocessing tokens. Sources form a
// singly linked stack through their parent link: the top source is consulted
// first, and a source whose autopop flag is set is popped and closed as soon
// as it reports EOF.
//
// A Source is constructed externally (files, strings) or by the driver
// (macro expansions, fixed playback) and is closed exactly once when popped;
// a popped source is never reused.
type Source interface {
	// NextToken returns the next token. Once the source is exhausted it
	// returns a token of kind TokenKind_EOF; the error return is reserved
	// for I/O failures of the underlying reader.
	NextToken() (Token, error)

	// Name returns a human-readable description of the source, used in
	// diagnostics, line markers and __FILE__.
	Name() string

	// Path returns the file path backing this source, or the nearest
	// enclosing one; include resolution uses its directory for quoted
	// includes.
	Path() string

	// Line and Column report the current reading position (1-based line,
	// 0-based column) of this source or of the nearest position-tracking
	// ancestor.
	Line() int
	Column() int

	// Close releases the underlying reader, if any. Close is idempotent.
	Close() error

	header() *sourceHeader
}

// sourceHeader is the state shared by every Source implementation: the
// parent link, the owning preprocessor, and the stack-discipline flags.
type sourceHeader struct {
	parent   Source
	pp       *Preprocessor
	autopop  bool // pop this source automatically when it reports EOF
	numbered bool // file-backed: participates in line-marker emission
}

func (h *sourceHeader) header() *sourceHeader { return h }

// Parent accessors used by sources that track no position of their own. With
// no parent they return the zero value.

func (h *sourceHeader) parentName() string {
	if h.parent != nil {
		return h.parent.Name()
	}
	return ""
}

func (h *sourceHeader) parentPath() string {
	if h.parent != nil {
		return h.parent.Path()
	}
	return ""
}

func (h *sourceHeader) parentLine() int {
	if h.parent != nil {
		return h.parent.Line()
	}
	return 0
}

func (h *sourceHeader) parentColumn() int {
	if h.parent != nil {
		return h.parent.Column()
	}
	return 0
}

// isExpanding reports whether macro m is already being expanded somewhere on
// the source stack rooted at s. Identifiers naming such a macro are not
// re-expanded. Argument pre-expansion is not affected: it runs before the
// macro's own source is pushed, so legitimate nested references to m inside
// an argument still expand.
func isExpanding(s Source, m *Macro) bool {
	for cur := s; cur != nil; cur = cur.header().parent {
		if ms, ok := cur.(*MacroTokenSource); ok && ms.macro == m {
			return true
		}
	}
	return false
}
