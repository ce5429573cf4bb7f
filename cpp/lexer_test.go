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

type lexerOption func(*LexerSource)

func withDigraphs(s *LexerSource)    { s.setDigraphs(true) }
func withIncludeMode(s *LexerSource) { s.setInclude(true) }

func lexAll(t *testing.T, input string, opts ...lexerOption) []Token {
	t.Helper()
	lexer := NewStringLexerSource(input)
	for _, opt := range opts {
		opt(lexer)
	}
	var tokens []Token
	for {
		tok, err := lexer.NextToken()
		require.NoError(t, err)
		if tok.Kind == TokenKind_EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

// kindText is the compact shape most lexer assertions compare against.
type kindText struct {
	kind TokenKind
	text string
}

func kindTexts(tokens []Token) []kindText {
	var result []kindText
	for _, tok := range tokens {
		result = append(result, kindText{tok.Kind, tok.Text})
	}
	return result
}

func TestLexerTokenKinds(t *testing.T) {
	testCases := []struct {
		input    string
		expected []kindText
	}{
		{
			input: "int x;",
			expected: []kindText{
				{TokenKind_Identifier, "int"},
				{TokenKind_Whitespace, " "},
				{TokenKind_Identifier, "x"},
				{TokenKind(';'), ";"},
			},
		},
		{
			input: "a+b",
			expected: []kindText{
				{TokenKind_Identifier, "a"},
				{TokenKind('+'), "+"},
				{TokenKind_Identifier, "b"},
			},
		},
		{
			input: "x <<= y >>= z",
			expected: []kindText{
				{TokenKind_Identifier, "x"},
				{TokenKind_Whitespace, " "},
				{TokenKind_ShiftLeftAssign, "<<="},
				{TokenKind_Whitespace, " "},
				{TokenKind_Identifier, "y"},
				{TokenKind_Whitespace, " "},
				{TokenKind_ShiftRightAssign, ">>="},
				{TokenKind_Whitespace, " "},
				{TokenKind_Identifier, "z"},
			},
		},
		{
			input: "a->b++ -- ...",
			expected: []kindText{
				{TokenKind_Identifier, "a"},
				{TokenKind_Arrow, "->"},
				{TokenKind_Identifier, "b"},
				{TokenKind_Increment, "++"},
				{TokenKind_Whitespace, " "},
				{TokenKind_Decrement, "--"},
				{TokenKind_Whitespace, " "},
				{TokenKind_Ellipsis, "..."},
			},
		},
		{
			input: "a..b",
			expected: []kindText{
				{TokenKind_Identifier, "a"},
				{TokenKind_Range, ".."},
				{TokenKind_Identifier, "b"},
			},
		},
		{
			input: "&&= ||= &= |= ^=",
			expected: []kindText{
				{TokenKind_LogicalAndAssign, "&&="},
				{TokenKind_Whitespace, " "},
				{TokenKind_LogicalOrAssign, "||="},
				{TokenKind_Whitespace, " "},
				{TokenKind_AndAssign, "&="},
				{TokenKind_Whitespace, " "},
				{TokenKind_OrAssign, "|="},
				{TokenKind_Whitespace, " "},
				{TokenKind_XorAssign, "^="},
			},
		},
		{
			// '#' opens a directive only at the beginning of a line.
			input: "#define",
			expected: []kindText{
				{TokenKind_Hash, "#"},
				{TokenKind_Identifier, "define"},
			},
		},
		{
			input: "a#b##c",
			expected: []kindText{
				{TokenKind_Identifier, "a"},
				{TokenKind('#'), "#"},
				{TokenKind_Identifier, "b"},
				{TokenKind_Paste, "##"},
				{TokenKind_Identifier, "c"},
			},
		},
		{
			input: "// trailing comment\n",
			expected: []kindText{
				{TokenKind_CommentSingleLine, "// trailing comment"},
				{TokenKind_Newline, "\n"},
			},
		},
		{
			input: "a/*m*/b",
			expected: []kindText{
				{TokenKind_Identifier, "a"},
				{TokenKind_CommentMultiLine, "/*m*/"},
				{TokenKind_Identifier, "b"},
			},
		},
		{
			// Identifiers may contain '$' and Unicode letters.
			input: "a$b é",
			expected: []kindText{
				{TokenKind_Identifier, "a$b"},
				{TokenKind_Whitespace, " "},
				{TokenKind_Identifier, "é"},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, kindTexts(lexAll(t, tc.input)))
		})
	}
}

func TestLexerNumbers(t *testing.T) {
	testCases := []struct {
		input    string
		kind     TokenKind
		value    int64  // for valid integers
		reason   string // for invalid tokens, matched as substring
	}{
		{input: "0", kind: TokenKind_Integer, value: 0},
		{input: "42", kind: TokenKind_Integer, value: 42},
		{input: "0755", kind: TokenKind_Integer, value: 0o755},
		{input: "0x1F", kind: TokenKind_Integer, value: 0x1f},
		{input: "0XABCDEF", kind: TokenKind_Integer, value: 0xabcdef},
		{input: "42u", kind: TokenKind_Integer, value: 42},
		{input: "42UL", kind: TokenKind_Integer, value: 42},
		{input: "42ull", kind: TokenKind_Integer, value: 42},
		{input: "9223372036854775807", kind: TokenKind_Integer, value: 9223372036854775807},
		{input: "08", kind: TokenKind_Invalid, reason: "octal"},
		{input: "42q", kind: TokenKind_Invalid, reason: "suffix"},
		{input: "0x", kind: TokenKind_Invalid, reason: "no digits"},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			tokens := lexAll(t, tc.input)
			require.Len(t, tokens, 1)
			tok := tokens[0]
			assert.Equal(t, tc.kind, tok.Kind)
			assert.Equal(t, tc.input, tok.Text, "number text is preserved verbatim")
			if tc.kind == TokenKind_Integer {
				assert.Equal(t, tc.value, tok.Value)
			} else {
				assert.Contains(t, tok.Value.(string), tc.reason)
			}
		})
	}
}

func TestLexerStringsAndCharacters(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		kind  TokenKind
		value any
	}{
		{name: "plain string", input: `"abc"`, kind: TokenKind_String, value: "abc"},
		{name: "escaped string", input: `"a\nb\t\\\""`, kind: TokenKind_String, value: "a\nb\t\\\""},
		{name: "octal escape", input: `"\101"`, kind: TokenKind_String, value: "A"},
		{name: "hex escape", input: `"\x41"`, kind: TokenKind_String, value: "A"},
		{name: "plain char", input: `'a'`, kind: TokenKind_Character, value: int64('a')},
		{name: "newline escape char", input: `'\n'`, kind: TokenKind_Character, value: int64(10)},
		{name: "octal char", input: `'\101'`, kind: TokenKind_Character, value: int64(65)},
		{name: "hex char", input: `'\x41'`, kind: TokenKind_Character, value: int64(65)},
		{name: "quote char", input: `'\''`, kind: TokenKind_Character, value: int64('\'')},
		{name: "empty char", input: `''`, kind: TokenKind_Invalid, value: "empty character literal"},
		{name: "multi char", input: `'ab'`, kind: TokenKind_Invalid, value: "multi-character literal"},
		{name: "unterminated string", input: `"abc`, kind: TokenKind_Invalid, value: "unterminated string literal"},
		{name: "unterminated comment", input: "/* abc", kind: TokenKind_Invalid, value: "unterminated comment"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tokens := lexAll(t, tc.input)
			require.Len(t, tokens, 1)
			assert.Equal(t, tc.kind, tokens[0].Kind)
			assert.Equal(t, tc.value, tokens[0].Value)
			assert.Equal(t, tc.input, tokens[0].Text, "literal text is preserved verbatim")
		})
	}
}

func TestLexerUnterminatedLiteralStopsAtNewline(t *testing.T) {
	tokens := lexAll(t, "\"abc\nx")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenKind_Invalid, tokens[0].Kind)
	assert.Equal(t, TokenKind_Newline, tokens[1].Kind)
	assert.Equal(t, TokenKind_Identifier, tokens[2].Kind)
}

func TestLexerHeaderNames(t *testing.T) {
	tokens := lexAll(t, `<stdio.h> "sys\path.h"`, withIncludeMode)
	require.Len(t, tokens, 3)

	assert.Equal(t, TokenKind_Header, tokens[0].Kind)
	assert.Equal(t, "<stdio.h>", tokens[0].Text)
	assert.Equal(t, "stdio.h", tokens[0].Value)

	// Inside an #include argument, backslashes are not escapes.
	assert.Equal(t, TokenKind_String, tokens[2].Kind)
	assert.Equal(t, `sys\path.h`, tokens[2].Value)
}

func TestLexerDigraphs(t *testing.T) {
	tokens := lexAll(t, "<:x:>y<%z%>w%:v", withDigraphs)
	expected := []kindText{
		{TokenKind('['), "["},
		{TokenKind_Identifier, "x"},
		{TokenKind(']'), "]"},
		{TokenKind_Identifier, "y"},
		{TokenKind('{'), "{"},
		{TokenKind_Identifier, "z"},
		{TokenKind('}'), "}"},
		{TokenKind_Identifier, "w"},
		{TokenKind('#'), "#"}, // mid-line digraph hash is plain punctuation
		{TokenKind_Identifier, "v"},
	}
	assert.Equal(t, expected, kindTexts(tokens))

	pasteTokens := lexAll(t, "a %:%: b", withDigraphs)
	require.Len(t, pasteTokens, 5)
	assert.Equal(t, TokenKind_Paste, pasteTokens[2].Kind)
	assert.Equal(t, "##", pasteTokens[2].Text)

	// Without the feature the same input stays punctuation soup.
	plain := lexAll(t, "<:x")
	assert.Equal(t, []kindText{
		{TokenKind('<'), "<"},
		{TokenKind(':'), ":"},
		{TokenKind_Identifier, "x"},
	}, kindTexts(plain))
}

func TestLexerNewlineCollapsing(t *testing.T) {
	tokens := lexAll(t, "a\n\n\nb")
	expected := []kindText{
		{TokenKind_Identifier, "a"},
		{TokenKind_Newline, "\n"},     // ends a's line
		{TokenKind_Newline, "\n\n"},   // blank lines collapse into one token
		{TokenKind_Identifier, "b"},
	}
	assert.Equal(t, expected, kindTexts(tokens))
}

func TestLexerLineSplicing(t *testing.T) {
	tokens := lexAll(t, "ab\\\ncd e")
	require.Len(t, tokens, 3)
	assert.Equal(t, "abcd", tokens[0].Text)

	// The spliced line still advances the physical line counter.
	assert.Equal(t, 2, tokens[2].Line)
	assert.Equal(t, "e", tokens[2].Text)
}

func TestLexerPositions(t *testing.T) {
	tokens := lexAll(t, "ab cd\nef")
	require.Len(t, tokens, 5)

	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 0, tokens[0].Column)
	assert.Equal(t, 1, tokens[2].Line)
	assert.Equal(t, 3, tokens[2].Column)
	assert.Equal(t, 2, tokens[4].Line)
	assert.Equal(t, 0, tokens[4].Column)
}

func TestLexerIgnorableCharactersInIdentifiers(t *testing.T) {
	// U+00AD (soft hyphen) is a format character and vanishes from the
	// identifier spelling.
	tokens := lexAll(t, "a­b")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenKind_Identifier, tokens[0].Kind)
	assert.Equal(t, "ab", tokens[0].Text)
}

func TestLexerEOFRepeats(t *testing.T) {
	lexer := NewStringLexerSource("x")
	tok, err := lexer.NextToken()
	require.NoError(t, err)
	assert.Equal(t, TokenKind_Identifier, tok.Kind)

	for range 3 {
		tok, err = lexer.NextToken()
		require.NoError(t, err)
		assert.Equal(t, TokenKind_EOF, tok.Kind)
	}
}

// Every produced token must re-lex to itself in isolation (newline runs and
// coalesced whitespace excepted).
func TestLexerTokenTextRoundTrips(t *testing.T) {
	input := "int main(void) { return x[1] + 0x2f * 'c' - \"s\\n\"; } // done\n"
	for _, tok := range lexAll(t, input) {
		switch tok.Kind {
		case TokenKind_Newline, TokenKind_Whitespace:
			continue
		}
		relexed := lexAll(t, tok.Text)
		require.Len(t, relexed, 1, "token %v should re-lex to one token", tok)
		assert.Equal(t, tok.Kind, relexed[0].Kind)
		assert.Equal(t, tok.Text, relexed[0].Text)
	}
}
