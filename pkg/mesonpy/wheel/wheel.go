// Package wheel assembles the mapped install plan, rendered metadata, and generated entry-point
// scripts into a .whl archive (a zip with a well-known .dist-info layout).
//
// The RECORD generation here is grounded directly on the teacher's recording_installs.Record hook:
// same hash algorithm default, same RawURLEncoding-of-sha256 content hash, same CRLF CSV rendering
// via encoding/csv, same "skip .pyc files" rule — adapted from "record what got installed" to
// "record what's being packed".
package wheel

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/installplan"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/metadata"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pyabi"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
)

const generator = "mesonpy-go"

// FileSource supplies file content and the POSIX permission bits to record it under, abstracting
// over "a file mapped from the install plan" vs. "a generated entry-point script or metadata
// file" so both feed the same archive-writing path.
type FileSource interface {
	Open() (io.ReadCloser, error)
	Mode() pyabi.StatMode
}

// Entry is one file destined for the wheel archive.
type Entry struct {
	// ArcName is the path within the wheel archive, using forward slashes.
	ArcName string
	Source  FileSource
}

// Plan is everything the packager needs to produce one wheel.
type Plan struct {
	DistName      string
	Version       string
	Tag           tag.WheelTag
	Mapped        []installplan.Mapped
	OpenMapped    func(src installplan.Mapped) (io.ReadCloser, error)
	ModeOf        func(src installplan.Mapped) pyabi.StatMode
	Metadata      *metadata.Metadata
	EntryPointsTxt string
	ExtraScripts  []Entry // extra files (launchers, editable loader and .pth), each written at its own ArcName
	Generator     string
	HashAlgorithm string
}

func (p Plan) distInfoDir() string {
	return fmt.Sprintf("%s-%s.dist-info", p.DistName, p.Version)
}

// Filename renders the wheel's own filename: "{name}-{version}-{tag}.whl".
func (p Plan) Filename() string {
	return fmt.Sprintf("%s-%s-%s.whl", p.DistName, p.Version, p.Tag.String())
}

// Write renders the whole wheel archive to w.
func Write(w io.Writer, p Plan) error {
	zw := zip.NewWriter(w)

	hashAlgo := p.HashAlgorithm
	if hashAlgo == "" {
		hashAlgo = "sha256"
	}
	newHasher, ok := pyabi.HashlibAlgorithmsGuaranteed[hashAlgo]
	if !ok {
		return fmt.Errorf("wheel: unsupported hash algorithm %q", hashAlgo)
	}

	type recordRow struct {
		name string
		hash string
		size string
	}
	var records []recordRow

	writeEntry := func(arcName string, mode pyabi.StatMode, r io.Reader) error {
		fh := &zip.FileHeader{
			Name:   arcName,
			Method: zip.Deflate,
		}
		fh.SetMode(mode.ToGo())
		attrs := pyabi.ZIPExternalAttributes{UNIX: mode}
		fh.ExternalAttrs = attrs.Raw()

		fw, err := zw.CreateHeader(fh)
		if err != nil {
			return err
		}
		hasher := newHasher()
		size := int64(0)
		if isRecordable(arcName) {
			tee := io.TeeReader(r, hasher)
			n, err := io.Copy(fw, tee)
			if err != nil {
				return err
			}
			size = n
		} else {
			n, err := io.Copy(fw, r)
			if err != nil {
				return err
			}
			size = n
		}
		row := recordRow{name: arcName}
		if isRecordable(arcName) {
			row.hash = hashAlgo + "=" + base64.RawURLEncoding.EncodeToString(hasher.Sum(nil))
			row.size = fmt.Sprint(size)
		}
		records = append(records, row)
		return nil
	}

	sortedMapped := append([]installplan.Mapped(nil), p.Mapped...)
	sort.Slice(sortedMapped, func(i, j int) bool { return sortedMapped[i].RelPath < sortedMapped[j].RelPath })

	dataDir := fmt.Sprintf("%s-%s.data", p.DistName, p.Version)
	for _, m := range sortedMapped {
		arcName := arcNameFor(m, dataDir)
		r, err := p.OpenMapped(m)
		if err != nil {
			return fmt.Errorf("wheel: opening %s: %w", m.Source, err)
		}
		err = writeEntry(arcName, p.ModeOf(m), r)
		closeErr := r.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	sortedScripts := append([]Entry(nil), p.ExtraScripts...)
	sort.Slice(sortedScripts, func(i, j int) bool { return sortedScripts[i].ArcName < sortedScripts[j].ArcName })
	for _, e := range sortedScripts {
		r, err := e.Source.Open()
		if err != nil {
			return err
		}
		err = writeEntry(e.ArcName, e.Source.Mode(), r)
		closeErr := r.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	distInfo := p.distInfoDir()

	if p.Metadata != nil {
		if err := writeEntry(path.Join(distInfo, "METADATA"), pyabi.ModeFromGo(0o644), bytes.NewReader([]byte(p.Metadata.Render()))); err != nil {
			return err
		}
	}

	gen := p.Generator
	if gen == "" {
		gen = generator
	}
	wheelFile := fmt.Sprintf("Wheel-Version: 1.0\nGenerator: %s\nRoot-Is-Purelib: %v\nTag: %s\n", gen, !anyPlatformDependent(p.Mapped), p.Tag.String())
	if err := writeEntry(path.Join(distInfo, "WHEEL"), pyabi.ModeFromGo(0o644), bytes.NewReader([]byte(wheelFile))); err != nil {
		return err
	}

	if p.EntryPointsTxt != "" {
		if err := writeEntry(path.Join(distInfo, "entry_points.txt"), pyabi.ModeFromGo(0o644), bytes.NewReader([]byte(p.EntryPointsTxt))); err != nil {
			return err
		}
	}

	// RECORD is written last, per the teacher's own ordering: every other file must already
	// have been hashed before RECORD itself can be written, and RECORD's self-entry has an
	// empty hash/size the way the teacher's Record hook writes it.
	csvData := [][]string{{path.Join(distInfo, "RECORD"), "", ""}}
	for _, row := range records {
		csvData = append(csvData, []string{row.name, row.hash, row.size})
	}
	sort.Slice(csvData, func(i, j int) bool { return csvData[i][0] < csvData[j][0] })

	var recordBuf bytes.Buffer
	csvWriter := csv.NewWriter(&recordBuf)
	csvWriter.UseCRLF = true
	if err := csvWriter.WriteAll(csvData); err != nil {
		return err
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return err
	}
	if err := writeEntry(path.Join(distInfo, "RECORD"), pyabi.ModeFromGo(0o644), bytes.NewReader(recordBuf.Bytes())); err != nil {
		return err
	}

	return zw.Close()
}

// arcNameFor maps a classified install-plan entry onto its place in the wheel archive. purelib
// and platlib files live at the archive root (that's what makes them importable once unpacked
// into site-packages), and so do internal_libs, whose RelPath already carries the hidden
// top-level libs directory; scripts, headers and arbitrary data live under the wheel's
// "{name}-{version}.data/" convention, as PEP 427 requires for any payload that an installer
// must redistribute to a scheme location other than {purelib,platlib}.
func arcNameFor(m installplan.Mapped, dataDir string) string {
	switch m.Location {
	case installplan.LocationPurelib, installplan.LocationPlatlib, installplan.LocationInternalLibs:
		return m.RelPath
	case installplan.LocationScripts:
		return path.Join(dataDir, "scripts", m.RelPath)
	case installplan.LocationHeaders:
		return path.Join(dataDir, "headers", m.RelPath)
	case installplan.LocationData:
		return path.Join(dataDir, "data", m.RelPath)
	default:
		return m.RelPath
	}
}

// isRecordable mirrors the teacher's "skip .pyc" rule: compiled bytecode caches are excluded from
// hashing because pip regenerates them locally and a recorded hash would immediately go stale.
func isRecordable(name string) bool {
	return path.Ext(name) != ".pyc"
}

func anyPlatformDependent(mapped []installplan.Mapped) bool {
	for _, m := range mapped {
		switch m.Location {
		case installplan.LocationPlatlib, installplan.LocationScripts, installplan.LocationHeaders, installplan.LocationData, installplan.LocationInternalLibs:
			return true
		}
	}
	return false
}
