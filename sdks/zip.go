// Copyright (C) 2022 The Android Open Source Project
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

package sdks

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/blueprint/pathtools"
)

// replacedEntryTime is the fixed timestamp given to replaced zip entries so
// that a repackaged snapshot is a deterministic function of its logical
// inputs, independent of when the repackaging ran.
var replacedEntryTime = time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC)

// ExtractMatchingFilesFromZip extracts the entries of the zip file at zipPath
// that match any of the glob patterns into destDir, preserving the entry
// paths.
func ExtractMatchingFilesFromZip(zipPath string, destDir string, patterns []string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if filepath.IsAbs(f.Name) {
			return fmt.Errorf("%q in %q is an absolute path", f.Name, zipPath)
		}
		match, err := matchAnyPattern(patterns, f.Name)
		if err != nil {
			return err
		}
		if !match {
			continue
		}
		if err := extractZipEntry(f, filepath.Join(destDir, f.Name)); err != nil {
			return fmt.Errorf("failed to extract %s from %s: %w", f.Name, zipPath, err)
		}
	}
	return nil
}

func matchAnyPattern(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		match, err := pathtools.Match(pattern, name)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func extractZipEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return err
	}
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.FileInfo().Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyZipAndReplace copies the zip file at srcZip to destZip, replacing the
// entries named in paths with the files of the same path under srcDir.
//
// All other entries are copied bit for bit in their original order so that
// the output differs from the input only in the replaced entries. Replaced
// entries are written at their original position with a fixed timestamp.
func CopyZipAndReplace(srcZip, destZip, srcDir string, paths []string) error {
	reader, err := zip.OpenReader(srcZip)
	if err != nil {
		return err
	}
	defer reader.Close()

	replace := make(map[string]string, len(paths))
	for _, path := range paths {
		replace[path] = filepath.Join(srcDir, path)
	}

	out, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	for _, f := range reader.File {
		src, replaced := replace[f.Name]
		if !replaced {
			if err := writer.Copy(f); err != nil {
				return fmt.Errorf("failed to copy %s from %s: %w", f.Name, srcZip, err)
			}
			continue
		}
		delete(replace, f.Name)
		if err := writeZipEntry(writer, f.Name, src); err != nil {
			return fmt.Errorf("failed to replace %s in %s: %w", f.Name, destZip, err)
		}
	}

	if len(replace) > 0 {
		missing := make([]string, 0, len(replace))
		for path := range replace {
			missing = append(missing, path)
		}
		sort.Strings(missing)
		return fmt.Errorf("entries %v not present in %s", missing, srcZip)
	}

	if err := writer.Close(); err != nil {
		return err
	}
	return out.Close()
}

func writeZipEntry(writer *zip.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := writer.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: replacedEntryTime,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// copyFile copies the file at src to dest, overwriting an existing file.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
