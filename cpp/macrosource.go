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

import "strings"

// MacroTokenSource plays back a macro's replacement list for one invocation:
// MacroArg markers switch to the referenced argument's cached expansion,
// MacroString markers stringify the raw argument, and MacroPaste markers
// concatenate their operands' raw text and re-lex the result in place.
//
// The source holds a non-owning reference to the macro's replacement list
// and owns its copy of the invocation arguments.
type MacroTokenSource struct {
	sourceHeader
	macro *Macro
	args  []*Argument

	index  int // next replacement-list element
	sub    []Token
	subPos int
}

func newMacroTokenSource(m *Macro, args []*Argument) *MacroTokenSource {
	return &MacroTokenSource{macro: m, args: args}
}

func (ms *MacroTokenSource) Name() string { return ms.parentName() }
func (ms *MacroTokenSource) Path() string { return ms.parentPath() }
func (ms *MacroTokenSource) Line() int    { return ms.parentLine() }
func (ms *MacroTokenSource) Column() int  { return ms.parentColumn() }
func (ms *MacroTokenSource) Close() error { return nil }

func (ms *MacroTokenSource) NextToken() (Token, error) {
	for {
		if ms.sub != nil {
			if ms.subPos < len(ms.sub) {
				tok := ms.sub[ms.subPos]
				ms.subPos++
				return tok, nil
			}
			ms.sub = nil
		}
		if ms.index >= len(ms.macro.tokens) {
			return TokenEOF, nil
		}
		tok := ms.macro.tokens[ms.index]
		ms.index++
		switch tok.Kind {
		case TokenKind_MacroArg:
			ms.sub = ms.args[tok.Value.(int)].expansion
			ms.subPos = 0
		case TokenKind_MacroString:
			return stringify(tok, ms.args[tok.Value.(int)]), nil
		case TokenKind_MacroPaste:
			if err := ms.paste(tok); err != nil {
				return Token{}, err
			}
		default:
			return tok, nil
		}
	}
}

// stringify wraps an argument's raw spelling in double quotes, escaping
// backslashes and quotes.
func stringify(marker Token, arg *Argument) Token {
	raw := arg.rawText()
	var text strings.Builder
	text.WriteByte('"')
	for _, c := range raw {
		if c == '"' || c == '\\' {
			text.WriteByte('\\')
		}
		text.WriteRune(c)
	}
	text.WriteByte('"')
	return Token{
		Kind:   TokenKind_String,
		Line:   marker.Line,
		Column: marker.Column,
		Text:   text.String(),
		Value:  raw,
	}
}

// paste consumes the marker's operands from the replacement list, splices
// their raw text and re-lexes the buffer; the produced tokens are delivered
// in place of the marker. Each nested paste marker among the operands adds
// two more operands.
func (ms *MacroTokenSource) paste(ptok Token) error {
	var buf strings.Builder
	count := 2
	for i := 0; i < count; i++ {
		if ms.index >= len(ms.macro.tokens) {
			// A well-formed replacement list never ends in a dangling
			// paste; recover by emitting the marker's own spelling.
			ms.warn(ptok, "paste at end of macro expansion")
			buf.WriteString(ptok.Text)
			break
		}
		tok := ms.macro.tokens[ms.index]
		ms.index++
		switch tok.Kind {
		case TokenKind_MacroPaste:
			count += 2
		case TokenKind_Whitespace, TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
			i--
		case TokenKind_MacroArg:
			buf.WriteString(ms.args[tok.Value.(int)].rawText())
		default:
			buf.WriteString(tok.Text)
		}
	}

	lexer := newLexerSource(strings.NewReader(buf.String()), ms.macro.Name, "", false)
	var out []Token
	for {
		tok, err := lexer.NextToken()
		if err != nil {
			return err
		}
		if tok.Kind == TokenKind_EOF {
			break
		}
		tok.Line, tok.Column = ptok.Line, ptok.Column
		out = append(out, tok)
	}
	ms.sub = out
	ms.subPos = 0
	return nil
}

func (ms *MacroTokenSource) warn(tok Token, msg string) {
	if ms.pp != nil && ms.pp.listener != nil {
		ms.pp.listener.HandleWarning(ms, tok.Line, tok.Column, msg)
	}
}
