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

import "fmt"

// Operator precedences for the #if expression grammar; higher binds tighter.
// Unary ~ ! - all bind at 11. Zero marks a non-operator, ending the
// expression.
func exprPriority(kind TokenKind) int {
	switch kind {
	case TokenKind('/'), TokenKind('%'), TokenKind('*'):
		return 11
	case TokenKind('+'), TokenKind('-'):
		return 10
	case TokenKind_ShiftLeft, TokenKind_ShiftRight:
		return 9
	case TokenKind('<'), TokenKind('>'), TokenKind_LessOrEqual, TokenKind_GreaterOrEqual:
		return 8
	case TokenKind_Equal, TokenKind_NotEqual:
		return 7
	case TokenKind('&'):
		return 6
	case TokenKind('^'):
		return 5
	case TokenKind('|'):
		return 4
	case TokenKind_LogicalAnd:
		return 3
	case TokenKind_LogicalOr:
		return 2
	case TokenKind('?'):
		return 1
	default:
		return 0
	}
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// exprToken reads the next non-whitespace, macro-expanded token of a #if
// expression. The operators defined, __has_include, __has_include_next and
// __has_feature are folded into integer tokens here; their operands are read
// unexpanded. Newlines end the expression and are left for the caller.
func (pp *Preprocessor) exprToken() (Token, error) {
	for {
		tok, err := pp.expandedToken()
		if err != nil {
			return Token{}, err
		}
		if isWhitespaceKind(tok.Kind) {
			continue
		}
		if tok.Kind == TokenKind_Identifier {
			switch tok.Text {
			case "defined":
				return pp.exprDefined()
			case "__has_include":
				return pp.exprHasInclude(tok, false)
			case "__has_include_next":
				return pp.exprHasInclude(tok, true)
			case "__has_feature":
				return pp.exprHasFeature(tok)
			}
		}
		return tok, nil
	}
}

func exprResult(at Token, value int64) Token {
	text := "0"
	if value != 0 {
		text = "1"
	}
	return Token{Kind: TokenKind_Integer, Line: at.Line, Column: at.Column, Text: text, Value: value}
}

// exprDefined evaluates `defined NAME` and `defined(NAME)`. The operand is
// read without macro expansion.
func (pp *Preprocessor) exprDefined() (Token, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	paren := false
	if tok.Kind == TokenKind('(') {
		paren = true
		tok, err = pp.sourceTokenNonWhite()
		if err != nil {
			return Token{}, err
		}
	}
	var value int64
	if tok.Kind == TokenKind_Identifier {
		value = boolValue(pp.Defined(tok.Text))
	} else {
		if err := pp.errorTok(tok, "identifier expected after 'defined'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(tok)
		return exprResult(tok, 0), nil
	}
	if paren {
		la, err := pp.sourceTokenNonWhite()
		if err != nil {
			return Token{}, err
		}
		if la.Kind != TokenKind(')') {
			if err := pp.errorTok(la, "missing ')' after 'defined'"); err != nil {
				return Token{}, err
			}
			pp.ungetToken(la)
		}
	}
	return exprResult(tok, value), nil
}

// exprHasInclude evaluates __has_include("name") / __has_include(<name>) by
// running include resolution in check-only mode.
func (pp *Preprocessor) exprHasInclude(at Token, next bool) (Token, error) {
	lexer, _ := pp.source.(*LexerSource)
	if lexer != nil {
		lexer.setInclude(true)
		defer lexer.setInclude(false)
	}
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	if tok.Kind != TokenKind('(') {
		if err := pp.errorTok(tok, "missing '(' after '"+at.Text+"'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(tok)
		return exprResult(at, 0), nil
	}
	tok, err = pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	var name string
	var quoted bool
	switch tok.Kind {
	case TokenKind_Header:
		name = tok.Value.(string)
	case TokenKind_String:
		name = tok.Value.(string)
		quoted = true
	default:
		if err := pp.errorTok(tok, "expected a header name in '"+at.Text+"'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(tok)
		return exprResult(at, 0), nil
	}
	la, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	if la.Kind != TokenKind(')') {
		if err := pp.errorTok(la, "missing ')' after '"+at.Text+"'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(la)
	}
	file, _ := pp.resolveInclude(name, quoted, next)
	return exprResult(at, boolValue(file != nil)), nil
}

// exprHasFeature evaluates __has_feature(NAME) against the feature bitset.
func (pp *Preprocessor) exprHasFeature(at Token) (Token, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	if tok.Kind != TokenKind('(') {
		if err := pp.errorTok(tok, "missing '(' after '__has_feature'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(tok)
		return exprResult(at, 0), nil
	}
	tok, err = pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	var value int64
	if tok.Kind == TokenKind_Identifier {
		if f, ok := LookupFeature(lowerASCII(tok.Text)); ok {
			value = boolValue(pp.features.has(f))
		}
	} else if err := pp.errorTok(tok, "expected a feature name in '__has_feature'"); err != nil {
		return Token{}, err
	}
	la, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, err
	}
	if la.Kind != TokenKind(')') {
		if err := pp.errorTok(la, "missing ')' after '__has_feature'"); err != nil {
			return Token{}, err
		}
		pp.ungetToken(la)
	}
	return exprResult(at, value), nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// expr evaluates a #if expression by precedence climbing. Signed 64-bit
// arithmetic throughout; malformed subexpressions and division by zero are
// reported and evaluate to 0 so the directive line can still be consumed.
func (pp *Preprocessor) expr(priority int) (int64, error) {
	tok, err := pp.exprToken()
	if err != nil {
		return 0, err
	}

	var lhs int64
	switch tok.Kind {
	case TokenKind('('):
		lhs, err = pp.expr(0)
		if err != nil {
			return 0, err
		}
		la, err := pp.exprToken()
		if err != nil {
			return 0, err
		}
		if la.Kind != TokenKind(')') {
			if err := pp.errorTok(la, "missing ')' in expression"); err != nil {
				return 0, err
			}
			pp.ungetToken(la)
			return 0, nil
		}
	case TokenKind('~'):
		v, err := pp.expr(11)
		if err != nil {
			return 0, err
		}
		lhs = ^v
	case TokenKind('!'):
		v, err := pp.expr(11)
		if err != nil {
			return 0, err
		}
		lhs = boolValue(v == 0)
	case TokenKind('-'):
		v, err := pp.expr(11)
		if err != nil {
			return 0, err
		}
		lhs = -v
	case TokenKind_Integer, TokenKind_Character:
		lhs = tok.Value.(int64)
	case TokenKind_Identifier:
		if pp.warnings.has(WarningUndef) {
			if err := pp.warningTok(tok, fmt.Sprintf("undefined identifier %s evaluates to 0", tok.Text)); err != nil {
				return 0, err
			}
		}
		lhs = 0
	default:
		if err := pp.errorTok(tok, fmt.Sprintf("bad token in expression: %v", tok.Kind)); err != nil {
			return 0, err
		}
		pp.ungetToken(tok)
		return 0, nil
	}

	for {
		op, err := pp.exprToken()
		if err != nil {
			return 0, err
		}
		pri := exprPriority(op.Kind)
		if pri == 0 || priority >= pri {
			pp.ungetToken(op)
			return lhs, nil
		}

		if op.Kind == TokenKind('?') {
			// Right-associative ternary; the colon is consumed explicitly.
			thenValue, err := pp.expr(0)
			if err != nil {
				return 0, err
			}
			colon, err := pp.exprToken()
			if err != nil {
				return 0, err
			}
			if colon.Kind != TokenKind(':') {
				if err := pp.errorTok(colon, "missing ':' in conditional expression"); err != nil {
					return 0, err
				}
				pp.ungetToken(colon)
				return 0, nil
			}
			elseValue, err := pp.expr(0)
			if err != nil {
				return 0, err
			}
			if lhs != 0 {
				lhs = thenValue
			} else {
				lhs = elseValue
			}
			continue
		}

		rhs, err := pp.expr(pri)
		if err != nil {
			return 0, err
		}
		lhs, err = pp.exprBinary(op, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

func (pp *Preprocessor) exprBinary(op Token, lhs, rhs int64) (int64, error) {
	switch op.Kind {
	case TokenKind('*'):
		return lhs * rhs, nil
	case TokenKind('/'):
		if rhs == 0 {
			return 0, pp.errorTok(op, "division by zero in expression")
		}
		return lhs / rhs, nil
	case TokenKind('%'):
		if rhs == 0 {
			return 0, pp.errorTok(op, "modulus by zero in expression")
		}
		return lhs % rhs, nil
	case TokenKind('+'):
		return lhs + rhs, nil
	case TokenKind('-'):
		return lhs - rhs, nil
	case TokenKind_ShiftLeft:
		if rhs < 0 || rhs >= 64 {
			return 0, nil
		}
		return lhs << uint(rhs), nil
	case TokenKind_ShiftRight:
		if rhs < 0 || rhs >= 64 {
			return 0, nil
		}
		return lhs >> uint(rhs), nil
	case TokenKind('<'):
		return boolValue(lhs < rhs), nil
	case TokenKind('>'):
		return boolValue(lhs > rhs), nil
	case TokenKind_LessOrEqual:
		return boolValue(lhs <= rhs), nil
	case TokenKind_GreaterOrEqual:
		return boolValue(lhs >= rhs), nil
	case TokenKind_Equal:
		return boolValue(lhs == rhs), nil
	case TokenKind_NotEqual:
		return boolValue(lhs != rhs), nil
	case TokenKind('&'):
		return lhs & rhs, nil
	case TokenKind('^'):
		return lhs ^ rhs, nil
	case TokenKind('|'):
		return lhs | rhs, nil
	case TokenKind_LogicalAnd:
		return boolValue(lhs != 0 && rhs != 0), nil
	case TokenKind_LogicalOr:
		return boolValue(lhs != 0 || rhs != 0), nil
	default:
		return 0, pp.errorTok(op, fmt.Sprintf("bad operator in expression: %v", op.Kind))
	}
}
