// Package sdist assembles the sdist (.tar.gz) artifact: a directory walk that tars up the project
// source tree plus a generated PKG-INFO, the same directory-walking technique the teacher used to
// build an OCI layer from a directory (hardlink detection via os.SameFile, mtime clamping,
// deterministic header fields), but writing a plain gzip'd tar instead of wrapping the bytes in an
// OCI layer.
package sdist

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/reproducible"
)

// Plan describes one sdist to build.
type Plan struct {
	DistName  string
	Version   string
	SourceDir string
	// PkgInfo is the rendered PKG-INFO content to inject at "{prefix}/PKG-INFO", overriding any
	// PKG-INFO Meson's own `meson dist` might have produced.
	PkgInfo []byte
	// ClampTime is used for every entry's ModTime, making the archive byte-for-byte
	// reproducible across builds run at different wall-clock times, the same property
	// LayerFromDir's clampTime argument provides.
	ClampTime time.Time
	// Excludes are shell-style globs (matched against the path relative to SourceDir)
	// skipped during the walk, e.g. ".git", "build".
	Excludes []string
}

func (p Plan) prefix() string {
	return p.DistName + "-" + p.Version
}

// Filename renders the sdist's own filename: "{name}-{version}.tar.gz".
func (p Plan) Filename() string {
	return p.prefix() + ".tar.gz"
}

// Write renders the whole sdist to w.
func Write(w io.Writer, p Plan) error {
	if p.ClampTime.IsZero() {
		p.ClampTime = reproducible.Now()
	}
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	type seen struct {
		name string
		info fs.FileInfo
	}
	var entries []seen

	err := filepath.Walk(p.SourceDir, func(filename string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(p.SourceDir, filename)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchesExclude(rel, p.Excludes) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := path.Join(p.prefix(), rel)

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		header.Uid, header.Gid = 0, 0
		header.Uname, header.Gname = "", ""

		for _, e := range entries {
			if os.SameFile(e.info, info) {
				header.Typeflag = tar.TypeLink
				header.Linkname = e.name
				break
			}
		}
		if header.Typeflag == tar.TypeSymlink {
			target, err := os.Readlink(filename)
			if err != nil {
				return err
			}
			header.Linkname = target
		}

		header.ModTime = p.ClampTime
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		entries = append(entries, seen{name: name, info: info})

		if header.Typeflag == tar.TypeReg {
			f, err := os.Open(filename)
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(tw, f)
			closeErr := f.Close()
			if copyErr != nil {
				return copyErr
			}
			if closeErr != nil {
				return closeErr
			}
		}
		return nil
	})
	if err != nil {
		return &mesonerrors.IoError{Op: "walk", Path: p.SourceDir, Cause: err}
	}

	if len(p.PkgInfo) > 0 {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     path.Join(p.prefix(), "PKG-INFO"),
			Mode:     0o644,
			Size:     int64(len(p.PkgInfo)),
			ModTime:  p.ClampTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := tw.Write(p.PkgInfo); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// RepackOptions describes how to normalize an existing tar.gz (as produced by `meson dist`) into
// a reproducible sdist.
type RepackOptions struct {
	// PkgInfo, if non-empty, is written as "{prefix}/PKG-INFO", replacing any entry Meson's
	// own dist already produced under that name.
	PkgInfo []byte
	// ClampTime is used for every entry's ModTime; zero means reproducible.Now().
	ClampTime time.Time
}

// Repack re-reads an existing tar.gz (typically the one `meson dist` just produced) and rewrites
// it with normalized permissions (0644/0755), zeroed uid/gid, clamped mtimes, and PKG-INFO
// injected or overwritten — the same normalization Write applies to a fresh directory walk, just
// starting from an archive instead of a source tree.
func Repack(w io.Writer, r io.Reader, opts RepackOptions) error {
	if opts.ClampTime.IsZero() {
		opts.ClampTime = reproducible.Now()
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return &mesonerrors.IoError{Op: "gunzip", Path: "<sdist>", Cause: err}
	}
	tr := tar.NewReader(gzr)

	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	var pkgInfoName string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &mesonerrors.IoError{Op: "read", Path: "<sdist>", Cause: err}
		}

		if pkgInfoName == "" {
			if prefix := strings.SplitN(header.Name, "/", 2); len(prefix) > 0 {
				pkgInfoName = path.Join(prefix[0], "PKG-INFO")
			}
		}
		if len(opts.PkgInfo) > 0 && header.Name == pkgInfoName {
			continue // replaced below, after the loop, so it's written exactly once
		}

		header.Uid, header.Gid = 0, 0
		header.Uname, header.Gname = "", ""
		header.ModTime = opts.ClampTime
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}
		switch {
		case header.Typeflag == tar.TypeDir:
			header.Mode = 0o755
		case header.Mode&0o111 != 0:
			header.Mode = 0o755
		case header.Typeflag == tar.TypeReg:
			header.Mode = 0o644
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return err
			}
		}
	}

	if len(opts.PkgInfo) > 0 && pkgInfoName != "" {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     pkgInfoName,
			Mode:     0o644,
			Size:     int64(len(opts.PkgInfo)),
			ModTime:  opts.ClampTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := tw.Write(opts.PkgInfo); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

func matchesExclude(rel string, excludes []string) bool {
	base := path.Base(rel)
	for _, g := range excludes {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}

