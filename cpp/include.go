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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AddSearchPathGlob expands a doublestar pattern (e.g.
// "third_party/*/include") into concrete directories and appends every match
// to the quote or system search list.
func (pp *Preprocessor) AddSearchPathGlob(pattern string, system bool) error {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("invalid search path pattern %q: %v", pattern, err)
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.IsDir() {
			continue
		}
		if system {
			pp.AddSystemIncludePath(match)
		} else {
			pp.AddQuoteIncludePath(match)
		}
	}
	return nil
}

// directiveInclude parses and executes #include, #include_next and #import.
// On success it pushes the resolved file and the driver re-enters its loop;
// on failure the terminating newline is delivered so line structure holds.
func (pp *Preprocessor) directiveInclude(dir Token, next, isImport bool) (Token, bool, error) {
	if lexer, ok := pp.source.(*LexerSource); ok {
		lexer.setInclude(true)
		defer lexer.setInclude(false)
	}

	tok, err := pp.includeArgToken()
	if err != nil {
		return Token{}, false, err
	}

	var name string
	var quoted bool
	var nl Token
	switch tok.Kind {
	case TokenKind_Header:
		name = tok.Value.(string)
		nl, err = pp.skipLine(true)
	case TokenKind_String:
		name = tok.Value.(string)
		quoted = true
		nl, err = pp.skipLine(true)
	case TokenKind_Newline, TokenKind_EOF:
		if e := pp.errorTok(dir, "missing file name after #"+dir.Text); e != nil {
			return Token{}, false, e
		}
		return tok, true, nil
	default:
		// Macro-expanded or multi-token spelling: splice the texts of the
		// rest of the line and re-parse the delimiters.
		var sb strings.Builder
		for tok.Kind != TokenKind_Newline && tok.Kind != TokenKind_EOF {
			sb.WriteString(tok.Text)
			tok, err = pp.expandedToken()
			if err != nil {
				return Token{}, false, err
			}
		}
		nl = tok
		text := strings.TrimSpace(sb.String())
		switch {
		case len(text) > 2 && text[0] == '<' && text[len(text)-1] == '>':
			name = text[1 : len(text)-1]
		case len(text) > 2 && text[0] == '"' && text[len(text)-1] == '"':
			name = text[1 : len(text)-1]
			quoted = true
		default:
			if e := pp.errorTok(dir, fmt.Sprintf("malformed #%s argument %q", dir.Text, text)); e != nil {
				return Token{}, false, e
			}
			return nl, true, nil
		}
	}
	if err != nil {
		return Token{}, false, err
	}
	if name == "" {
		if e := pp.errorTok(dir, "empty file name in #"+dir.Text); e != nil {
			return Token{}, false, e
		}
		return nl, true, nil
	}

	pushed, err := pp.includeFile(dir, name, quoted, next, isImport)
	if err != nil {
		return Token{}, false, err
	}
	if !pushed {
		return nl, true, nil
	}
	return Token{}, false, nil
}

// includeArgToken reads the first token of an include argument with macro
// expansion; whitespace and comments are skipped, newlines are not.
func (pp *Preprocessor) includeArgToken() (Token, error) {
	for {
		tok, err := pp.expandedToken()
		if err != nil {
			return Token{}, err
		}
		if !isWhitespaceKind(tok.Kind) {
			return tok, nil
		}
	}
}

// includeFile resolves an include name and pushes the file. It reports true
// when the driver should continue into new-file content (also for an #import
// that was already satisfied).
func (pp *Preprocessor) includeFile(dir Token, name string, quoted, next, isImport bool) (bool, error) {
	file, searched := pp.resolveInclude(name, quoted, next)
	if file == nil {
		spelled := "<" + name + ">"
		if quoted {
			spelled = `"` + name + `"`
		}
		err := pp.errorTok(dir, fmt.Sprintf("file %s not found; searched: %s",
			spelled, strings.Join(searched, ", ")))
		return false, err
	}

	if isImport {
		canonical := file.Path()
		if pp.onceSeenPaths.Contains(canonical) {
			return true, nil
		}
		pp.onceSeenPaths.Add(canonical)
	}

	src, err := file.OpenSource()
	if err != nil {
		if e := pp.errorTok(dir, fmt.Sprintf("failed to open %s: %v", file.Path(), err)); e != nil {
			return false, e
		}
		return false, nil
	}
	pp.pushSource(src, true)
	if pp.features.has(FeatureLineMarkers) {
		marker := lineMarker(1, src.Name(), lineMarkerEnter)
		pp.pendingMarker = &marker
	}
	return true, nil
}

// currentDir returns the directory of the file backing the current source.
func (pp *Preprocessor) currentDir() string {
	if pp.source == nil {
		return ""
	}
	path := pp.source.Path()
	if path == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Dir(path))
}

// resolveInclude performs the include search: for quoted names the
// directory of the current file, then each quote path; then each system
// path; then the framework directories with Foo/Bar.h split into
// Foo.framework/Headers/Bar.h. With next set, the search resumes after the
// directory that produced the current file.
func (pp *Preprocessor) resolveInclude(name string, quoted, next bool) (VirtualFile, []string) {
	var searched []string
	try := func(dirname string) VirtualFile {
		searched = append(searched, dirname)
		f := pp.filesystem.File(dirname).ChildFile(name)
		if f.IsFile() {
			return f
		}
		return nil
	}

	currentDir := pp.currentDir()
	skipping := next && currentDir != ""
	if skipping {
		// Only meaningful when the current file came from a configured
		// directory; otherwise search everything.
		found := false
		for _, dirname := range append(append([]string{}, pp.quoteIncludePath...), pp.systemIncludePath...) {
			if filepath.Clean(dirname) == filepath.Clean(currentDir) {
				found = true
				break
			}
		}
		skipping = found
	}
	consider := func(dirname string) VirtualFile {
		if skipping {
			if filepath.Clean(dirname) == filepath.Clean(currentDir) {
				skipping = false
			}
			return nil
		}
		return try(dirname)
	}

	if quoted {
		if !next && currentDir != "" {
			if f := try(currentDir); f != nil {
				return f, searched
			}
		}
		for _, dirname := range pp.quoteIncludePath {
			if f := consider(dirname); f != nil {
				return f, searched
			}
		}
	}
	for _, dirname := range pp.systemIncludePath {
		if f := consider(dirname); f != nil {
			return f, searched
		}
	}
	if slash := strings.IndexByte(name, '/'); slash > 0 {
		framework, rest := name[:slash], name[slash+1:]
		for _, dirname := range pp.frameworkPath {
			headerDir := dirname + "/" + framework + ".framework/Headers"
			searched = append(searched, headerDir)
			f := pp.filesystem.File(headerDir).ChildFile(rest)
			if f.IsFile() {
				return f, searched
			}
		}
	}
	return nil, searched
}
