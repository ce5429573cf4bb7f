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
	"os"
	"path/filepath"
	"strings"
)

// VirtualFileSystem resolves include paths to files. Implementations must be
// safe for repeated lookups of the same path; the preprocessor performs no
// caching of its own.
type VirtualFileSystem interface {
	// File resolves a slash- or OS-separated path. The returned handle may
	// name a file that does not exist; IsFile distinguishes.
	File(path string) VirtualFile
}

// VirtualFile is a handle into a VirtualFileSystem.
type VirtualFile interface {
	IsFile() bool
	Path() string
	Name() string
	ParentFile() VirtualFile
	ChildFile(name string) VirtualFile

	// OpenSource opens the file as a token source. The source owns the
	// underlying reader and closes it when popped.
	OpenSource() (*LexerSource, error)
}

// OSFileSystem maps virtual paths onto the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) File(path string) VirtualFile {
	return osFile{path: filepath.Clean(path)}
}

type osFile struct {
	path string
}

func (f osFile) IsFile() bool {
	info, err := os.Stat(f.path)
	return err == nil && info.Mode().IsRegular()
}

func (f osFile) Path() string { return f.path }
func (f osFile) Name() string { return filepath.Base(f.path) }

func (f osFile) ParentFile() VirtualFile {
	return osFile{path: filepath.Dir(f.path)}
}

func (f osFile) ChildFile(name string) VirtualFile {
	return osFile{path: filepath.Join(f.path, name)}
}

func (f osFile) OpenSource() (*LexerSource, error) {
	r, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return newLexerSource(r, f.path, f.path, true), nil
}

// MemoryFileSystem serves files from an in-memory map of slash-separated
// paths to contents. It backs the archive file system and is convenient for
// tests and for embedders preprocessing generated text.
type MemoryFileSystem struct {
	files map[string]string
}

func NewMemoryFileSystem(files map[string]string) *MemoryFileSystem {
	normalized := make(map[string]string, len(files))
	for name, content := range files {
		normalized[memPathClean(name)] = content
	}
	return &MemoryFileSystem{files: normalized}
}

func memPathClean(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(filepath.FromSlash(p))), "./")
}

func (fs *MemoryFileSystem) File(path string) VirtualFile {
	return memFile{fs: fs, path: memPathClean(path)}
}

type memFile struct {
	fs   *MemoryFileSystem
	path string
}

func (f memFile) IsFile() bool {
	_, ok := f.fs.files[f.path]
	return ok
}

func (f memFile) Path() string { return f.path }

func (f memFile) Name() string {
	if i := strings.LastIndexByte(f.path, '/'); i >= 0 {
		return f.path[i+1:]
	}
	return f.path
}

func (f memFile) ParentFile() VirtualFile {
	if i := strings.LastIndexByte(f.path, '/'); i >= 0 {
		return memFile{fs: f.fs, path: f.path[:i]}
	}
	return memFile{fs: f.fs, path: "."}
}

func (f memFile) ChildFile(name string) VirtualFile {
	return memFile{fs: f.fs, path: memPathClean(f.path + "/" + name)}
}

func (f memFile) OpenSource() (*LexerSource, error) {
	content, ok := f.fs.files[f.path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return newLexerSource(strings.NewReader(content), f.path, f.path, true), nil
}
