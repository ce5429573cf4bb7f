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

// Package cpp implements a streaming C/Objective-C preprocessor: a pull-based
// token pipeline that performs macro replacement, conditional compilation,
// file inclusion and line-marker insertion.
//
// Characters flow from a reader through line splicing into the lexer; the
// driver maintains a stack of token sources (files, macro expansions, fixed
// playback) and hands the caller one fully preprocessed token per Token()
// call. The preprocessor is single-threaded: all state is owned by the
// Preprocessor instance and mutated only from within Token().
package cpp

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/EngFlow/cpreproc/internal/collections"
)

// PragmaHandler receives the contents of #pragma lines: the pragma name and
// the remaining tokens of the line, whitespace stripped.
type PragmaHandler func(name Token, args []Token)

// Preprocessor is the driver of the pipeline. It owns the macro table, the
// conditional state stack and the source stack; tokens it produces are
// self-contained values.
//
// A Preprocessor must be driven from a single goroutine.
type Preprocessor struct {
	inputs []Source // pending top-level inputs, consumed in order
	source Source   // top of the source stack, nil when between inputs

	macros map[string]*Macro
	states []state

	features Feature
	warnings Warning

	quoteIncludePath  []string
	systemIncludePath []string
	frameworkPath     []string

	filesystem VirtualFileSystem
	listener   Listener
	pragma     PragmaHandler

	onceSeenPaths collections.Set[string]
	counter       int64

	macroLine, macroFile, macroCounter *Macro

	unget         *Token // one-token look-back for the source stack
	pendingMarker *Token // line marker to deliver before the next token

	eofReported bool
}

// tokenSpace is the synthetic single space inserted where whitespace runs
// were coalesced.
var tokenSpace = Token{Kind: TokenKind_Whitespace, Line: -1, Column: -1, Text: " "}

func NewPreprocessor() *Preprocessor {
	pp := &Preprocessor{
		macros:        map[string]*Macro{},
		states:        []state{{parentActive: true, active: true}},
		filesystem:    OSFileSystem{},
		onceSeenPaths: collections.Set[string]{},
	}
	pp.macroLine = &Macro{Name: "__LINE__"}
	pp.macroFile = &Macro{Name: "__FILE__"}
	pp.macroCounter = &Macro{Name: "__COUNTER__"}
	for _, m := range []*Macro{pp.macroLine, pp.macroFile, pp.macroCounter} {
		pp.macros[m.Name] = m
	}
	return pp
}

// SetListener registers the diagnostic listener. Without one, the first
// warning or error terminates preprocessing as a Go error from Token().
func (pp *Preprocessor) SetListener(listener Listener) { pp.listener = listener }

// SetFileSystem replaces the file system used by #include resolution. The
// default maps onto the real filesystem.
func (pp *Preprocessor) SetFileSystem(fs VirtualFileSystem) { pp.filesystem = fs }

// SetPragmaHandler installs the hook receiving #pragma lines. Without one,
// every pragma produces an "unknown pragma" warning.
func (pp *Preprocessor) SetPragmaHandler(h PragmaHandler) { pp.pragma = h }

func (pp *Preprocessor) AddFeature(f Feature)      { pp.features |= f }
func (pp *Preprocessor) AddWarning(w Warning)      { pp.warnings |= w }
func (pp *Preprocessor) HasFeature(f Feature) bool { return pp.features.has(f) }
func (pp *Preprocessor) HasWarning(w Warning) bool { return pp.warnings.has(w) }

func (pp *Preprocessor) AddQuoteIncludePath(dir string) {
	pp.quoteIncludePath = append(pp.quoteIncludePath, dir)
}

func (pp *Preprocessor) AddSystemIncludePath(dir string) {
	pp.systemIncludePath = append(pp.systemIncludePath, dir)
}

func (pp *Preprocessor) AddFrameworkPath(dir string) {
	pp.frameworkPath = append(pp.frameworkPath, dir)
}

// AddInput queues a top-level input. Inputs are preprocessed in order, as if
// concatenated.
func (pp *Preprocessor) AddInput(s Source) { pp.inputs = append(pp.inputs, s) }

// AddInputFile queues a file from the configured file system.
func (pp *Preprocessor) AddInputFile(path string) error {
	file := pp.filesystem.File(path)
	if !file.IsFile() {
		return fmt.Errorf("input %s is not a file", path)
	}
	src, err := file.OpenSource()
	if err != nil {
		return err
	}
	pp.AddInput(src)
	return nil
}

// A valid macro identifier starts with '_', '$' or a letter, followed by '_',
// '$', letters or decimal digits.
var macroIdentifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func isReservedMacroName(name string) bool {
	switch name {
	case "defined", "__LINE__", "__FILE__", "__COUNTER__":
		return true
	default:
		return false
	}
}

// Define installs an object-like macro from a -D style definition: either
// "NAME" (which defines NAME as 1) or "NAME=VALUE". The value is lexed the
// same way source text is.
func (pp *Preprocessor) Define(definition string) error {
	definition = strings.TrimPrefix(definition, "-D") // tolerate gcc/clang style
	name, value := definition, "1"
	if eqIdx := strings.IndexByte(definition, '='); eqIdx >= 0 {
		name, value = definition[:eqIdx], definition[eqIdx+1:]
	}
	if !macroIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid macro name %q", name)
	}
	if isReservedMacroName(name) {
		return fmt.Errorf("cannot define reserved name %q", name)
	}

	m := &Macro{Name: name}
	lexer := NewStringLexerSource(value)
	for {
		tok, err := lexer.NextToken()
		if err != nil {
			return err
		}
		if tok.Kind == TokenKind_EOF {
			break
		}
		if tok.Kind == TokenKind_Newline {
			continue
		}
		m.addToken(tok)
	}
	m.tokens = trimWhitespace(m.tokens)
	pp.macros[name] = m
	return nil
}

// Undefine removes a macro, mirroring #undef.
func (pp *Preprocessor) Undefine(name string) error {
	if isReservedMacroName(name) {
		return fmt.Errorf("cannot undefine reserved name %q", name)
	}
	delete(pp.macros, name)
	return nil
}

// LookupMacro returns the installed macro of that name, if any.
func (pp *Preprocessor) LookupMacro(name string) (*Macro, bool) {
	m, ok := pp.macros[name]
	return m, ok
}

// Defined reports whether a macro of that name is installed.
func (pp *Preprocessor) Defined(name string) bool {
	_, ok := pp.macros[name]
	return ok
}

func trimWhitespace(tokens []Token) []Token {
	isWhite := func(t Token) bool { return t.Kind == TokenKind_Whitespace }
	for len(tokens) > 0 && isWhite(tokens[0]) {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && isWhite(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// Close pops and closes every source on the stack, top to bottom, then every
// unconsumed pending input. The Preprocessor must not be used afterwards.
func (pp *Preprocessor) Close() error {
	var errs []error
	for pp.source != nil {
		errs = append(errs, pp.popSource())
	}
	for _, s := range pp.inputs {
		errs = append(errs, s.Close())
	}
	pp.inputs = nil
	return errors.Join(errs...)
}

// Diagnostics.

func (pp *Preprocessor) errorAt(line, column int, msg string) error {
	if pp.listener == nil {
		return fmt.Errorf("%s:%d:%d: %s", sourceLabel(pp.source), line, column, msg)
	}
	pp.listener.HandleError(pp.source, line, column, msg)
	return nil
}

func (pp *Preprocessor) errorTok(tok Token, msg string) error {
	return pp.errorAt(tok.Line, tok.Column, msg)
}

func (pp *Preprocessor) warningAt(line, column int, msg string) error {
	if pp.warnings.has(WarningError) {
		return pp.errorAt(line, column, msg)
	}
	if pp.listener == nil {
		return fmt.Errorf("%s:%d:%d: warning: %s", sourceLabel(pp.source), line, column, msg)
	}
	pp.listener.HandleWarning(pp.source, line, column, msg)
	return nil
}

func (pp *Preprocessor) warningTok(tok Token, msg string) error {
	return pp.warningAt(tok.Line, tok.Column, msg)
}

// Source stack.

func (pp *Preprocessor) pushSource(s Source, autopop bool) {
	h := s.header()
	h.parent = pp.source
	h.pp = pp
	h.autopop = autopop
	if ls, ok := s.(*LexerSource); ok {
		ls.setDigraphs(pp.features.has(FeatureDigraphs))
	}
	if pp.listener != nil {
		if pp.source != nil {
			pp.listener.HandleSourceChange(pp.source, SourceChangeSuspend)
		}
		pp.listener.HandleSourceChange(s, SourceChangePush)
	}
	pp.source = s
}

func (pp *Preprocessor) popSource() error {
	s := pp.source
	if pp.listener != nil {
		pp.listener.HandleSourceChange(s, SourceChangePop)
	}
	pp.source = s.header().parent
	err := s.Close()
	if pp.listener != nil && pp.source != nil {
		pp.listener.HandleSourceChange(pp.source, SourceChangeResume)
	}
	return err
}

func (pp *Preprocessor) ungetToken(tok Token) { pp.unget = &tok }

const (
	lineMarkerEnter  = " 1"
	lineMarkerReturn = " 2"
)

func lineMarker(line int, name, flags string) Token {
	return Token{
		Kind: TokenKind_LineMarker, Line: -1, Column: -1,
		Text:  fmt.Sprintf("# %d \"%s\"%s\n", line, escapePath(name), flags),
		Value: int64(line),
	}
}

// escapePath doubles backslashes and quotes, and spells newlines and
// carriage returns as escapes, for use inside line markers and __FILE__.
func escapePath(p string) string {
	var sb strings.Builder
	for _, c := range p {
		switch c {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// sourceToken reads the next raw token from the source stack, popping
// exhausted auto-pop sources, dequeuing pending inputs and interleaving line
// markers at file transitions.
func (pp *Preprocessor) sourceToken() (Token, error) {
	if pp.unget != nil {
		tok := *pp.unget
		pp.unget = nil
		return tok, nil
	}
	if pp.pendingMarker != nil {
		tok := *pp.pendingMarker
		pp.pendingMarker = nil
		return tok, nil
	}
	for {
		if pp.source == nil {
			if len(pp.inputs) == 0 {
				return TokenEOF, nil
			}
			s := pp.inputs[0]
			pp.inputs = pp.inputs[1:]
			pp.pushSource(s, true)
			if pp.features.has(FeatureLineMarkers) && s.header().numbered {
				return lineMarker(1, s.Name(), lineMarkerEnter), nil
			}
			continue
		}
		tok, err := pp.source.NextToken()
		if err != nil {
			return Token{}, err
		}
		if tok.Kind == TokenKind_EOF && pp.source.header().autopop {
			popped := pp.source
			if err := pp.popSource(); err != nil {
				return Token{}, err
			}
			if pp.features.has(FeatureLineMarkers) && popped.header().numbered &&
				pp.source != nil && pp.source.header().numbered {
				return lineMarker(pp.source.Line(), pp.source.Name(), lineMarkerReturn), nil
			}
			continue
		}
		return tok, nil
	}
}

func isWhitespaceKind(kind TokenKind) bool {
	switch kind {
	case TokenKind_Whitespace, TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
		return true
	default:
		return false
	}
}

// sourceTokenNonWhite skips whitespace and comments but stops at newlines.
func (pp *Preprocessor) sourceTokenNonWhite() (Token, error) {
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return Token{}, err
		}
		if !isWhitespaceKind(tok.Kind) {
			return tok, nil
		}
	}
}

// skipLine consumes the remainder of the current directive line and returns
// its terminating newline (or EOF). With warnExtra set, the first non-white
// leftover token produces a warning.
func (pp *Preprocessor) skipLine(warnExtra bool) (Token, error) {
	warned := false
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return Token{}, err
		}
		switch tok.Kind {
		case TokenKind_EOF, TokenKind_Newline:
			return tok, nil
		case TokenKind_Whitespace, TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
		default:
			if warnExtra && !warned {
				warned = true
				if err := pp.warningTok(tok, "extra tokens at end of directive"); err != nil {
					return Token{}, err
				}
			}
		}
	}
}

// toWhitespace rewrites a comment (or any token) into whitespace covering
// the same number of lines, keeping line numbers of subsequent tokens
// stable.
func toWhitespace(tok Token) Token {
	var sb strings.Builder
	for _, c := range tok.Text {
		if c == '\n' {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}
	tok.Kind = TokenKind_Whitespace
	tok.Text = sb.String()
	tok.Value = nil
	return tok
}

// expandedToken reads the next token with macro expansion applied but
// without directive processing.
func (pp *Preprocessor) expandedToken() (Token, error) {
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return Token{}, err
		}
		if tok.Kind == TokenKind_Identifier {
			if m, ok := pp.macros[tok.Text]; ok && !isExpanding(pp.source, m) {
				done, err := pp.macroCall(m, tok)
				if err != nil {
					return Token{}, err
				}
				if done {
					continue
				}
			}
		}
		return tok, nil
	}
}

// expand fully macro-expands a token list in isolation: the list is played
// back through a non-auto-pop source so its EOF marks the end of the
// expansion. Whitespace runs collapse into single spaces. Argument
// pre-expansion is built on this.
func (pp *Preprocessor) expand(tokens []Token) ([]Token, error) {
	pp.pushSource(NewFixedTokenSource(tokens), false)
	var out []Token
	space := false
	for {
		tok, err := pp.expandedToken()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokenKind_EOF {
			break
		}
		switch tok.Kind {
		case TokenKind_Whitespace, TokenKind_Newline,
			TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
			space = true
		default:
			if space && len(out) > 0 {
				out = append(out, tokenSpace)
			}
			space = false
			out = append(out, tok)
		}
	}
	if err := pp.popSource(); err != nil {
		return nil, err
	}
	return out, nil
}

// macroCall expands an invocation of m whose name token has just been read.
// It returns false when the invocation does not happen (a function-like
// macro name without a following parenthesis) and the identifier should be
// emitted literally; true when a source has been pushed or the invocation
// was abandoned after a diagnostic.
func (pp *Preprocessor) macroCall(m *Macro, orig Token) (bool, error) {
	switch m {
	case pp.macroLine:
		line := int64(orig.Line)
		pp.pushFixed(Token{Kind: TokenKind_Integer, Line: orig.Line, Column: orig.Column,
			Text: strconv.FormatInt(line, 10), Value: line})
		return true, nil
	case pp.macroFile:
		name := ""
		if pp.source != nil {
			name = pp.source.Name()
		}
		pp.pushFixed(Token{Kind: TokenKind_String, Line: orig.Line, Column: orig.Column,
			Text: `"` + escapePath(name) + `"`, Value: name})
		return true, nil
	case pp.macroCounter:
		value := pp.counter
		pp.counter++
		pp.pushFixed(Token{Kind: TokenKind_Integer, Line: orig.Line, Column: orig.Column,
			Text: strconv.FormatInt(value, 10), Value: value})
		return true, nil
	}

	var args []*Argument
	if m.IsFunctionLike() {
		opened := false
	OPEN:
		for {
			tok, err := pp.sourceToken()
			if err != nil {
				return false, err
			}
			switch tok.Kind {
			case TokenKind_Whitespace, TokenKind_Newline,
				TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
			case TokenKind('('):
				opened = true
				break OPEN
			default:
				pp.ungetToken(tok)
				break OPEN
			}
		}
		if !opened {
			return false, nil
		}
		var ok bool
		var err error
		args, ok, err = pp.macroArgs(m, orig)
		if err != nil {
			return false, err
		}
		if !ok {
			// Diagnosed; the invocation and its consumed material are
			// dropped.
			return true, nil
		}
		for _, arg := range args {
			if err := arg.expand(pp); err != nil {
				return false, err
			}
		}
	}
	pp.pushSource(newMacroTokenSource(m, args), true)
	return true, nil
}

func (pp *Preprocessor) pushFixed(tok Token) {
	pp.pushSource(NewFixedTokenSource([]Token{tok}), true)
}

// macroArgs parses the argument list of a function-like invocation; the
// opening parenthesis has been consumed. Top-level commas separate
// arguments, except that a variadic macro's trailing parameter absorbs them.
func (pp *Preprocessor) macroArgs(m *Macro, orig Token) ([]*Argument, bool, error) {
	args := []*Argument{}
	cur := &Argument{}
	depth := 0
	space := false
	appendTok := func(tok Token) {
		if space && !cur.isEmpty() {
			cur.addToken(tokenSpace)
		}
		space = false
		cur.addToken(tok)
	}
ARGS:
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return nil, false, err
		}
		switch {
		case tok.Kind == TokenKind_EOF:
			err := pp.errorTok(orig, fmt.Sprintf("end of input inside arguments of macro %s", m.Name))
			return nil, false, err
		case tok.Kind == TokenKind_Newline || isWhitespaceKind(tok.Kind):
			space = true
		case tok.Kind == TokenKind(',') && depth == 0:
			if m.Variadic && len(args) == len(m.Args)-1 {
				appendTok(tok)
			} else {
				args = append(args, cur)
				cur = &Argument{}
				space = false
			}
		case tok.Kind == TokenKind('('):
			depth++
			appendTok(tok)
		case tok.Kind == TokenKind(')'):
			if depth == 0 {
				args = append(args, cur)
				break ARGS
			}
			depth--
			appendTok(tok)
		default:
			appendTok(tok)
		}
	}

	// M() supplies no arguments to a macro with an empty parameter list.
	if len(m.Args) == 0 && len(args) == 1 && args[0].isEmpty() {
		args = args[:0]
	}
	if len(args) != len(m.Args) {
		if m.Variadic && len(args) == len(m.Args)-1 {
			args = append(args, &Argument{})
		} else {
			err := pp.errorTok(orig, fmt.Sprintf("macro %s requires %d argument(s) but was given %d",
				m.Name, len(m.Args), len(args)))
			return nil, false, err
		}
	}
	return args, true, nil
}

// Token returns the next preprocessed token. After the last input is
// exhausted it keeps returning the EOF sentinel.
func (pp *Preprocessor) Token() (Token, error) {
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return Token{}, err
		}

		if !pp.isActive() {
			// Inside a dead conditional branch only directives, line
			// structure and spacing survive.
			switch tok.Kind {
			case TokenKind_Hash:
			case TokenKind_EOF:
				return pp.finishEOF(tok)
			case TokenKind_Newline, TokenKind_Whitespace:
				return tok, nil
			case TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
				if pp.features.has(FeatureKeepAllComments) {
					return tok, nil
				}
				return toWhitespace(tok), nil
			default:
				continue
			}
			out, have, err := pp.directive()
			if err != nil {
				return Token{}, err
			}
			if have {
				return out, nil
			}
			continue
		}

		switch tok.Kind {
		case TokenKind_EOF:
			return pp.finishEOF(tok)
		case TokenKind_Identifier:
			m, ok := pp.macros[tok.Text]
			if !ok || isExpanding(pp.source, m) {
				return tok, nil
			}
			done, err := pp.macroCall(m, tok)
			if err != nil {
				return Token{}, err
			}
			if done {
				continue
			}
			return tok, nil
		case TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
			if pp.features.has(FeatureKeepComments) || pp.features.has(FeatureKeepAllComments) {
				return tok, nil
			}
			return toWhitespace(tok), nil
		case TokenKind_Invalid:
			if pp.features.has(FeatureCSyntax) {
				if reason, ok := tok.Value.(string); ok {
					if err := pp.errorTok(tok, reason); err != nil {
						return Token{}, err
					}
				}
			}
			return tok, nil
		case TokenKind_Hash:
			out, have, err := pp.directive()
			if err != nil {
				return Token{}, err
			}
			if have {
				return out, nil
			}
		default:
			return tok, nil
		}
	}
}

func (pp *Preprocessor) finishEOF(tok Token) (Token, error) {
	if !pp.eofReported {
		pp.eofReported = true
		if len(pp.states) > 1 {
			if err := pp.errorTok(tok, "unterminated conditional directive at end of input"); err != nil {
				return Token{}, err
			}
		}
	}
	return tok, nil
}

// directive dispatches the directive following a beginning-of-line '#'. The
// returned flag reports whether a token should be delivered to the caller;
// without one the driver re-enters its loop (after an #include, the next
// token comes from the new file).
func (pp *Preprocessor) directive() (Token, bool, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	switch tok.Kind {
	case TokenKind_Newline, TokenKind_EOF:
		// A bare '#' line is legal and empty.
		return tok, true, nil
	case TokenKind_Identifier:
	default:
		if pp.isActive() {
			if err := pp.errorTok(tok, fmt.Sprintf("preprocessor directive must be named, found %v", tok.Kind)); err != nil {
				return Token{}, false, err
			}
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}

	active := pp.isActive()
	switch tok.Text {
	case "define":
		if active {
			return pp.directiveDefine()
		}
	case "undef":
		if active {
			return pp.directiveUndef()
		}
	case "include":
		if active {
			return pp.directiveInclude(tok, false, false)
		}
	case "include_next":
		if active {
			if !pp.features.has(FeatureIncludeNext) {
				if err := pp.errorTok(tok, "#include_next is not enabled"); err != nil {
					return Token{}, false, err
				}
				nl, err := pp.skipLine(false)
				return nl, true, err
			}
			return pp.directiveInclude(tok, true, false)
		}
	case "import":
		if active {
			return pp.directiveInclude(tok, false, true)
		}
	case "if":
		return pp.directiveIf()
	case "ifdef":
		return pp.directiveIfdef(false)
	case "ifndef":
		return pp.directiveIfdef(true)
	case "elif":
		return pp.directiveElif(tok)
	case "else":
		return pp.directiveElse(tok)
	case "endif":
		return pp.directiveEndif(tok)
	case "line":
		// The line is consumed and its tokens are discarded; token
		// locations are not adjusted.
		if active {
			nl, err := pp.skipLine(false)
			return nl, true, err
		}
	case "pragma":
		if active {
			return pp.directivePragma()
		}
	case "warning", "error":
		if active {
			return pp.directiveDiagnostic(tok)
		}
	default:
		if active {
			if err := pp.errorTok(tok, "unknown preprocessor directive #"+tok.Text); err != nil {
				return Token{}, false, err
			}
		}
	}
	nl, err := pp.skipLine(false)
	return nl, true, err
}

func (pp *Preprocessor) directiveDefine() (Token, bool, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind != TokenKind_Identifier {
		if err := pp.errorTok(tok, "macro name must be an identifier"); err != nil {
			return Token{}, false, err
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	name := tok.Text
	if isReservedMacroName(name) {
		if err := pp.errorTok(tok, fmt.Sprintf("cannot define reserved name %q", name)); err != nil {
			return Token{}, false, err
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}

	m := &Macro{Name: name}

	// A parameter list only counts when the parenthesis is glued to the
	// name; otherwise the macro is object-like and '(' starts the
	// replacement.
	tok, err = pp.sourceToken()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind == TokenKind('(') {
		m.Args = []string{}
		nl, done, err := pp.defineParams(m)
		if err != nil || done {
			return nl, done, err
		}
		tok, err = pp.sourceToken()
		if err != nil {
			return Token{}, false, err
		}
	} else if isWhitespaceKind(tok.Kind) {
		tok, err = pp.sourceToken()
		if err != nil {
			return Token{}, false, err
		}
	}
	return pp.defineReplacement(m, tok)
}

// defineParams parses the parameter list after the opening parenthesis. The
// done flag (with its token) reports that the definition was abandoned after
// a diagnostic.
func (pp *Preprocessor) defineParams(m *Macro) (Token, bool, error) {
	abandon := func(tok Token, msg string) (Token, bool, error) {
		if err := pp.errorTok(tok, msg); err != nil {
			return Token{}, false, err
		}
		if tok.Kind == TokenKind_Newline || tok.Kind == TokenKind_EOF {
			return tok, true, nil
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}

	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind == TokenKind(')') {
		return Token{}, false, nil
	}
	for {
		switch tok.Kind {
		case TokenKind_Identifier:
			if slices.Contains(m.Args, tok.Text) {
				return abandon(tok, fmt.Sprintf("duplicate macro parameter %q", tok.Text))
			}
			m.Args = append(m.Args, tok.Text)
		case TokenKind_Ellipsis:
			m.Variadic = true
			m.Args = append(m.Args, "__VA_ARGS__")
			tok, err = pp.sourceTokenNonWhite()
			if err != nil {
				return Token{}, false, err
			}
			if tok.Kind != TokenKind(')') {
				return abandon(tok, "expected ')' after '...'")
			}
			return Token{}, false, nil
		default:
			return abandon(tok, "macro parameter must be an identifier")
		}

		tok, err = pp.sourceTokenNonWhite()
		if err != nil {
			return Token{}, false, err
		}
		switch tok.Kind {
		case TokenKind(','):
			tok, err = pp.sourceTokenNonWhite()
			if err != nil {
				return Token{}, false, err
			}
		case TokenKind_Ellipsis:
			// GNU-style named variadic parameter: the last name collects
			// the remaining arguments.
			m.Variadic = true
			tok, err = pp.sourceTokenNonWhite()
			if err != nil {
				return Token{}, false, err
			}
			if tok.Kind != TokenKind(')') {
				return abandon(tok, "expected ')' after '...'")
			}
			return Token{}, false, nil
		case TokenKind(')'):
			return Token{}, false, nil
		case TokenKind_Newline, TokenKind_EOF:
			return abandon(tok, "unterminated macro parameter list")
		default:
			return abandon(tok, "expected ',' or ')' in macro parameter list")
		}
	}
}

// defineReplacement parses the replacement list, rewriting parameter
// references to MacroArg, '#'-parameter to MacroString and '##' to a prefix
// MacroPaste marker, then installs the macro.
func (pp *Preprocessor) defineReplacement(m *Macro, tok Token) (Token, bool, error) {
	abandon := func(at Token, msg string) (Token, bool, error) {
		if err := pp.errorTok(at, msg); err != nil {
			return Token{}, false, err
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}

	space := false
	paste := false
	flush := func() {
		if space && len(m.tokens) > 0 {
			m.addToken(tokenSpace)
		}
		space = false
	}

	var err error
	for {
		switch tok.Kind {
		case TokenKind_EOF, TokenKind_Newline:
			if paste {
				if e := pp.errorTok(tok, "'##' cannot end a replacement list"); e != nil {
					return Token{}, false, e
				}
				return tok, true, nil
			}
			if old, ok := pp.macros[m.Name]; ok && old.String() != m.String() {
				if e := pp.warningTok(tok, fmt.Sprintf("macro %s redefined", m.Name)); e != nil {
					return Token{}, false, e
				}
			}
			pp.macros[m.Name] = m
			return tok, true, nil

		case TokenKind_Whitespace, TokenKind_CommentSingleLine, TokenKind_CommentMultiLine:
			if !paste {
				space = true
			}

		case TokenKind_Paste:
			if len(m.tokens) == 0 {
				return abandon(tok, "'##' cannot begin a replacement list")
			}
			if paste {
				return abandon(tok, "'##' cannot follow '##'")
			}
			space = false
			paste = true
			m.addPaste(Token{Kind: TokenKind_MacroPaste, Line: tok.Line, Column: tok.Column, Text: "##"})

		case TokenKind('#'):
			if m.IsFunctionLike() {
				la, err := pp.sourceTokenNonWhite()
				if err != nil {
					return Token{}, false, err
				}
				idx := slices.Index(m.Args, la.Text)
				if la.Kind != TokenKind_Identifier || idx < 0 {
					return abandon(la, "'#' must be followed by a macro parameter")
				}
				flush()
				paste = false
				m.addToken(Token{Kind: TokenKind_MacroString, Line: la.Line, Column: la.Column,
					Text: "#" + la.Text, Value: idx})
			} else {
				flush()
				paste = false
				m.addToken(tok)
			}

		case TokenKind_Identifier:
			flush()
			paste = false
			if idx := slices.Index(m.Args, tok.Text); m.IsFunctionLike() && idx >= 0 {
				m.addToken(Token{Kind: TokenKind_MacroArg, Line: tok.Line, Column: tok.Column,
					Text: tok.Text, Value: idx})
			} else {
				m.addToken(tok)
			}

		default:
			flush()
			paste = false
			m.addToken(tok)
		}

		tok, err = pp.sourceToken()
		if err != nil {
			return Token{}, false, err
		}
	}
}

func (pp *Preprocessor) directiveUndef() (Token, bool, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind != TokenKind_Identifier {
		if err := pp.errorTok(tok, "macro name must be an identifier"); err != nil {
			return Token{}, false, err
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	if isReservedMacroName(tok.Text) {
		if err := pp.errorTok(tok, fmt.Sprintf("cannot undefine reserved name %q", tok.Text)); err != nil {
			return Token{}, false, err
		}
	} else {
		delete(pp.macros, tok.Text)
	}
	nl, err := pp.skipLine(true)
	return nl, true, err
}

func (pp *Preprocessor) directiveIf() (Token, bool, error) {
	pp.pushState()
	if !pp.isActive() {
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	value, err := pp.expr(0)
	if err != nil {
		return Token{}, false, err
	}
	pp.topState().active = value != 0
	nl, err := pp.skipLine(true)
	return nl, true, err
}

func (pp *Preprocessor) directiveIfdef(negate bool) (Token, bool, error) {
	pp.pushState()
	if !pp.isActive() {
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind != TokenKind_Identifier {
		if err := pp.errorTok(tok, "expected identifier after #ifdef"); err != nil {
			return Token{}, false, err
		}
		pp.topState().active = false
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	pp.topState().active = pp.Defined(tok.Text) != negate
	nl, err := pp.skipLine(true)
	return nl, true, err
}

func (pp *Preprocessor) directiveElif(dir Token) (Token, bool, error) {
	st := pp.topState()
	switch {
	case len(pp.states) == 1:
		if err := pp.errorTok(dir, "#elif without #if"); err != nil {
			return Token{}, false, err
		}
	case st.sawElse:
		if err := pp.errorTok(dir, "#elif after #else"); err != nil {
			return Token{}, false, err
		}
	case !st.parentActive:
		// Enclosing region is dead; nothing can activate.
	case st.active:
		// A previous branch was taken; every further branch stays dead.
		st.parentActive = false
		st.active = false
	default:
		value, err := pp.expr(0)
		if err != nil {
			return Token{}, false, err
		}
		st.active = value != 0
		nl, err := pp.skipLine(true)
		return nl, true, err
	}
	nl, err := pp.skipLine(false)
	return nl, true, err
}

func (pp *Preprocessor) directiveElse(dir Token) (Token, bool, error) {
	st := pp.topState()
	switch {
	case len(pp.states) == 1:
		if err := pp.errorTok(dir, "#else without #if"); err != nil {
			return Token{}, false, err
		}
	case st.sawElse:
		if err := pp.errorTok(dir, "#else after #else"); err != nil {
			return Token{}, false, err
		}
	default:
		st.sawElse = true
		st.active = !st.active
	}
	nl, err := pp.skipLine(pp.warnings.has(WarningEndifLabels))
	return nl, true, err
}

func (pp *Preprocessor) directiveEndif(dir Token) (Token, bool, error) {
	if !pp.popState() {
		if err := pp.errorTok(dir, "#endif without #if"); err != nil {
			return Token{}, false, err
		}
	}
	nl, err := pp.skipLine(pp.warnings.has(WarningEndifLabels))
	return nl, true, err
}

func (pp *Preprocessor) directivePragma() (Token, bool, error) {
	tok, err := pp.sourceTokenNonWhite()
	if err != nil {
		return Token{}, false, err
	}
	if tok.Kind == TokenKind_Newline || tok.Kind == TokenKind_EOF {
		if err := pp.warningTok(tok, "empty #pragma"); err != nil {
			return Token{}, false, err
		}
		return tok, true, nil
	}
	if tok.Kind != TokenKind_Identifier {
		if err := pp.errorTok(tok, "#pragma must name a pragma"); err != nil {
			return Token{}, false, err
		}
		nl, err := pp.skipLine(false)
		return nl, true, err
	}
	name := tok
	var args []Token
	for {
		tok, err = pp.sourceToken()
		if err != nil {
			return Token{}, false, err
		}
		if tok.Kind == TokenKind_Newline || tok.Kind == TokenKind_EOF {
			break
		}
		if !isWhitespaceKind(tok.Kind) {
			args = append(args, tok)
		}
	}
	if pp.pragma != nil {
		pp.pragma(name, args)
	} else if err := pp.warningTok(name, "unknown pragma: "+name.Text); err != nil {
		return Token{}, false, err
	}
	return tok, true, nil
}

func (pp *Preprocessor) directiveDiagnostic(dir Token) (Token, bool, error) {
	var sb strings.Builder
	var end Token
	for {
		tok, err := pp.sourceToken()
		if err != nil {
			return Token{}, false, err
		}
		if tok.Kind == TokenKind_Newline || tok.Kind == TokenKind_EOF {
			end = tok
			break
		}
		sb.WriteString(tok.Text)
	}
	msg := strings.TrimSpace(sb.String())
	var err error
	if dir.Text == "error" {
		err = pp.errorTok(dir, "#error "+msg)
	} else {
		err = pp.warningTok(dir, "#warning "+msg)
	}
	if err != nil {
		return Token{}, false, err
	}
	return end, true, nil
}
