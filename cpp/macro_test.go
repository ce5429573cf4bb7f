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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defineMacro runs a single #define through the driver and returns the
// installed macro.
func defineMacro(t *testing.T, directive string) *Macro {
	t.Helper()
	pp, listener := newTestPreprocessor(directive)
	drainTokens(t, pp)
	require.Empty(t, listener.Errors)

	name := ""
	for _, m := range pp.macros {
		if !isReservedMacroName(m.Name) {
			name = m.Name
		}
	}
	require.NotEmpty(t, name, "no macro was installed")
	m, ok := pp.LookupMacro(name)
	require.True(t, ok)
	return m
}

func replacementKinds(m *Macro) []TokenKind {
	var kinds []TokenKind
	for _, tok := range m.Replacement() {
		kinds = append(kinds, tok.Kind)
	}
	return kinds
}

func TestDefineStoresParameterMarkers(t *testing.T) {
	m := defineMacro(t, "#define F(a,b) a b\n")
	assert.Equal(t, []string{"a", "b"}, m.Args)
	assert.False(t, m.Variadic)
	assert.Equal(t, []TokenKind{TokenKind_MacroArg, TokenKind_Whitespace, TokenKind_MacroArg},
		replacementKinds(m))
	assert.Equal(t, 0, m.Replacement()[0].Value)
	assert.Equal(t, 1, m.Replacement()[2].Value)
}

func TestDefineStoresStringifyMarker(t *testing.T) {
	m := defineMacro(t, "#define S(x) #x\n")
	assert.Equal(t, []TokenKind{TokenKind_MacroString}, replacementKinds(m))
	assert.Equal(t, 0, m.Replacement()[0].Value)
	assert.Equal(t, "#x", m.Replacement()[0].Text)
}

func TestDefineStoresPasteAsPrefixMarker(t *testing.T) {
	m := defineMacro(t, "#define P(a,b) a##b\n")
	assert.Equal(t, []TokenKind{TokenKind_MacroPaste, TokenKind_MacroArg, TokenKind_MacroArg},
		replacementKinds(m))

	// Chained pastes nest in the stored prefix form.
	m = defineMacro(t, "#define J(a,b,c) a##b##c\n")
	assert.Equal(t, []TokenKind{
		TokenKind_MacroPaste, TokenKind_MacroArg,
		TokenKind_MacroPaste, TokenKind_MacroArg, TokenKind_MacroArg,
	}, replacementKinds(m))
}

func TestDefineTrimsAndCoalescesWhitespace(t *testing.T) {
	m := defineMacro(t, "#define X   a  +\tb  \n")
	kinds := replacementKinds(m)
	assert.Equal(t, []TokenKind{
		TokenKind_Identifier, TokenKind_Whitespace, TokenKind('+'),
		TokenKind_Whitespace, TokenKind_Identifier,
	}, kinds)
	assert.Equal(t, " ", m.Replacement()[1].Text, "interior runs coalesce to one space")
}

func TestDefineObjectLikeHashIsLiteral(t *testing.T) {
	m := defineMacro(t, "#define H a#b\n")
	assert.Equal(t, []TokenKind{TokenKind_Identifier, TokenKind('#'), TokenKind_Identifier},
		replacementKinds(m))
}

func TestDefineVariadicForms(t *testing.T) {
	m := defineMacro(t, "#define L(fmt, ...) fmt\n")
	assert.True(t, m.Variadic)
	assert.Equal(t, []string{"fmt", "__VA_ARGS__"}, m.Args)

	m = defineMacro(t, "#define E(...) __VA_ARGS__\n")
	assert.True(t, m.Variadic)
	assert.Equal(t, []string{"__VA_ARGS__"}, m.Args)
	assert.Equal(t, []TokenKind{TokenKind_MacroArg}, replacementKinds(m))
}

func TestDefineRejectsMalformedReplacement(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		message string
	}{
		{"paste at end", "#define B(x) x##\n", "'##' cannot end"},
		{"paste at start", "#define C ##x\n", "'##' cannot begin"},
		{"stringify non-parameter", "#define D(x) #y\n", "'#' must be followed by a macro parameter"},
		{"duplicate parameter", "#define E(a,a) a\n", "duplicate macro parameter"},
		{"missing name", "#define 1x\n", "macro name must be an identifier"},
		{"unterminated parameters", "#define F(a\n", "unterminated macro parameter list"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pp, listener := newTestPreprocessor(tc.input)
			drainTokens(t, pp)
			require.NotEmpty(t, listener.Errors)
			assert.Contains(t, listener.Errors[0], tc.message)

			for name := range pp.macros {
				assert.True(t, isReservedMacroName(name), "malformed macro %s must not be installed", name)
			}
		})
	}
}

func TestMacroString(t *testing.T) {
	m := defineMacro(t, "#define MAX(a, b) ((a) > (b) ? (a) : (b))\n")
	s := m.String()
	assert.Contains(t, s, "MAX(a, b)")
	assert.Contains(t, s, "(")

	obj := defineMacro(t, "#define N 42\n")
	assert.Equal(t, "N 42", obj.String())
}

func TestArgumentCachesExpansion(t *testing.T) {
	pp, listener := newTestPreprocessor("#define N 3\n#define PAIR(x) x x\nPAIR(N)\n")
	counted := 0
	for _, tok := range drainTokens(t, pp) {
		if tok.Kind == TokenKind_Integer {
			counted++
			assert.Equal(t, int64(3), tok.Value)
		}
	}
	require.Empty(t, listener.Errors)
	assert.Equal(t, 2, counted, "both parameter references replay the cached expansion")
}

func TestStringifyUsesRawArgument(t *testing.T) {
	// The raw spelling, not the expansion, is stringified.
	got := meat(t, "#define N 3\n#define S(x) #x\nS(N)\n")
	assert.Equal(t, []string{"str(N)"}, got)
}

func TestPasteUsesRawArgument(t *testing.T) {
	got := meat(t, "#define N 3\n#define GLUE(a,b) a##b\nGLUE(N, N)\n")
	assert.Equal(t, []string{"ident(NN)"}, got)
}
