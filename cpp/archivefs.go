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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// ArchiveFileSystem serves headers out of a tar.xz bundle, such as a
// hermetic sysroot snapshot. The whole archive is decompressed into memory
// when the file system is constructed; lookups never touch the disk again.
type ArchiveFileSystem struct {
	*MemoryFileSystem
}

// NewArchiveFileSystem reads a tar.xz stream and indexes its regular files.
func NewArchiveFileSystem(r io.Reader) (*ArchiveFileSystem, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xz stream: %v", err)
	}
	tr := tar.NewReader(xr)
	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = string(content)
	}
	return &ArchiveFileSystem{MemoryFileSystem: NewMemoryFileSystem(files)}, nil
}

// OpenArchiveFileSystem reads a tar.xz bundle from disk.
func OpenArchiveFileSystem(path string) (*ArchiveFileSystem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewArchiveFileSystem(f)
}
