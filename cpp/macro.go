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
	"strings"

	"github.com/EngFlow/cpreproc/internal/collections"
)

// Macro is a stored #define. The replacement list may contain MacroArg,
// MacroString and MacroPaste marker tokens; everything else plays back
// verbatim.
//
// A MacroPaste marker never ends the replacement list and is never directly
// followed by another MacroPaste: the definition parser rejects such lists.
type Macro struct {
	Name string

	// Args holds the parameter names; a nil slice marks an object-like
	// macro. Variadic macros carry a trailing synthetic "__VA_ARGS__"
	// parameter.
	Args     []string
	Variadic bool

	tokens []Token
}

func (m *Macro) IsFunctionLike() bool { return m.Args != nil }

// Replacement returns the stored replacement list. The slice is shared;
// callers must not modify it.
func (m *Macro) Replacement() []Token { return m.tokens }

func (m *Macro) addToken(tok Token) { m.tokens = append(m.tokens, tok) }

// addPaste records a "##" as a prefix marker inserted before the preceding
// replacement token, so that playback never needs look-back. Chained pastes
// nest: a##b##c stores as [paste a [paste] b c].
func (m *Macro) addPaste(tok Token) {
	last := len(m.tokens) - 1
	m.tokens = append(m.tokens[:last], append([]Token{tok}, m.tokens[last:]...)...)
}

func (m *Macro) String() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	if m.IsFunctionLike() {
		sb.WriteByte('(')
		sb.WriteString(strings.Join(m.Args, ", "))
		sb.WriteByte(')')
	}
	if len(m.tokens) > 0 {
		sb.WriteByte(' ')
		// Paste markers print in their stored prefix form.
		sb.WriteString(strings.Join(collections.MapSlice(m.tokens, Token.text), " "))
	}
	return sb.String()
}

func (t Token) text() string { return t.Text }

// Argument is one actual argument of a function-like macro invocation: the
// raw tokens as delimited at the call site, plus a lazily computed and then
// cached full expansion. Stringification and pasting always read the raw
// form; MacroArg playback reads the cached expansion.
type Argument struct {
	tokens    []Token
	expansion []Token
	expanded  bool
}

func (a *Argument) addToken(tok Token) { a.tokens = append(a.tokens, tok) }

func (a *Argument) isEmpty() bool { return len(a.tokens) == 0 }

// rawText concatenates the argument's raw token spellings.
func (a *Argument) rawText() string {
	var sb strings.Builder
	for _, tok := range a.tokens {
		sb.WriteString(tok.Text)
	}
	return sb.String()
}

// expand computes the argument's macro expansion once; every later call
// reuses the cached list.
func (a *Argument) expand(pp *Preprocessor) error {
	if a.expanded {
		return nil
	}
	expansion, err := pp.expand(a.tokens)
	if err != nil {
		return err
	}
	a.expansion = expansion
	a.expanded = true
	return nil
}
