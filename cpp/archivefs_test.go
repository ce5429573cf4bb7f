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
	"archive/tar"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// buildArchive produces a tar.xz bundle of the given files.
func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func TestArchiveFileSystemLookup(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"include/stdio.h": "#define STDIO 1\n",
		"include/deep/nested.h": "nested\n",
	})
	fs, err := NewArchiveFileSystem(bytes.NewReader(archive))
	require.NoError(t, err)

	assert.True(t, fs.File("include/stdio.h").IsFile())
	assert.True(t, fs.File("include/deep/nested.h").IsFile())
	assert.False(t, fs.File("include/missing.h").IsFile())

	src, err := fs.File("include/stdio.h").OpenSource()
	require.NoError(t, err)
	tok, err := src.NextToken()
	require.NoError(t, err)
	assert.Equal(t, TokenKind_Hash, tok.Kind)
	require.NoError(t, src.Close())
}

func TestArchiveFileSystemServesIncludes(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"include/stdio.h": "#define STDIO 1\n",
	})
	fs, err := NewArchiveFileSystem(bytes.NewReader(archive))
	require.NoError(t, err)

	pp := NewPreprocessor()
	listener := &RecordingListener{}
	pp.SetListener(listener)
	pp.SetFileSystem(fs)
	pp.AddSystemIncludePath("include")
	pp.AddInput(NewStringLexerSource("#include <stdio.h>\nSTDIO\n"))

	var got []string
	for _, tok := range drainTokens(t, pp) {
		if tok.Kind == TokenKind_Integer {
			got = append(got, describe(tok))
		}
	}
	require.Empty(t, listener.Errors)
	assert.Equal(t, []string{"int(1)"}, got)
}

func TestArchiveFileSystemRejectsGarbage(t *testing.T) {
	_, err := NewArchiveFileSystem(bytes.NewReader([]byte("not an archive")))
	require.Error(t, err)
}
