// Copyright (C) 2021-2022  Ambassador Labs
// Copyright (C) 2023-2025  The mesonpy-go Authors
//
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/pmezard/go-difflib/difflib"
)

// DumpZipListing renders a deterministic, sorted-by-name directory listing of a zip archive
// (a wheel, most often), in the same "mode uid gid size name" tabular style the teacher used to
// dump OCI layer listings for test diffing.
func DumpZipListing(zr *zip.Reader) (string, error) {
	ret := new(strings.Builder)
	table := tabwriter.NewWriter(ret, 0, 1, 1, ' ', 0)

	files := append([]*zip.File(nil), zr.File...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if _, err := fmt.Fprintln(table, strings.Join([]string{
			"",
			f.Mode().String(),
			fmt.Sprintf("% 10d", int64(f.UncompressedSize64)),
			f.Name,
		}, "\t")); err != nil {
			return "", err
		}
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpZipFull renders every entry's name and content, for a byte-for-byte comparison once the
// listings already match.
func DumpZipFull(zr *zip.Reader) (string, error) {
	ret := new(strings.Builder)

	files := append([]*zip.File(nil), zr.File...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return "", err
		}
		if closeErr != nil {
			return "", closeErr
		}
		if _, err := fmt.Fprintf(ret, "name = %q\ncontent =\n%s\n", f.Name, content); err != nil {
			return "", err
		}
	}
	return ret.String(), nil
}

// AssertEqualZips fails t with a unified diff if exp and act contain different entries or
// content, checking the (cheaper) listing first so a name mismatch doesn't get buried under a
// full-content diff.
func AssertEqualZips(t *testing.T, exp, act *zip.Reader) bool {
	t.Helper()

	expListing, err := DumpZipListing(exp)
	if err != nil {
		t.Errorf("error dumping expected zip listing: %v", err)
		return false
	}
	actListing, err := DumpZipListing(act)
	if err != nil {
		t.Errorf("error dumping actual zip listing: %v", err)
		return false
	}
	if expListing != actListing {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(expListing),
			B:        difflib.SplitLines(actListing),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		t.Errorf("Listing diff:\n%s", diff)
		return false
	}

	expFull, err := DumpZipFull(exp)
	if err != nil {
		t.Errorf("error dumping expected zip: %v", err)
		return false
	}
	actFull, err := DumpZipFull(act)
	if err != nil {
		t.Errorf("error dumping actual zip: %v", err)
		return false
	}
	if expFull != actFull {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(expFull),
			B:        difflib.SplitLines(actFull),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  10,
		})
		t.Errorf("Full diff:\n%s", diff)
		return false
	}

	return true
}
