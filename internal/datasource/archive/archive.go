// Package archive streams certificate rows out of a zip archive.
//
// The archive is scanned in entry order and the first entry whose base name
// equals the target file (case-sensitive) is decoded as UTF-8 CSV with a
// header row. Rows are handed to the caller one at a time as they are read;
// the file is never materialised in memory.
package archive

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"

	"epcloader/internal/domain"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultTarget is the entry name looked up when Options.Target is empty.
const DefaultTarget = "certificates.csv"

const readBufSize = 1 << 20

// Options controls Read.
type Options struct {
	// MaxRecords stops reading after this many rows; 0 reads everything.
	MaxRecords int
	// Target is the base name of the entry to decode.
	Target string
}

// EmitFunc receives one row. A non-nil error stops the read and is returned
// by Read.
type EmitFunc func(ctx context.Context, row domain.RawRow) error

// Read opens the zip at archivePath, finds the target entry and emits its
// rows. It returns the number of rows emitted. A missing or unreadable
// archive is an error; an archive without the target yields 0 rows and no
// error.
func Read(ctx context.Context, archivePath string, opts Options, emit EmitFunc) (int, error) {
	target := opts.Target
	if target == "" {
		target = DefaultTarget
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	adviseSequential(f)

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return 0, fmt.Errorf("read archive %s: %w", archivePath, err)
	}

	for _, zf := range zr.File {
		log.Printf("archive: assessing entry %s", zf.Name)
		if path.Base(zf.Name) != target {
			continue
		}
		n, err := readEntry(ctx, zf, opts.MaxRecords, emit)
		log.Printf("archive: entry=%s rows=%d", zf.Name, n)
		return n, err
	}

	log.Printf("archive: no entry named %s in %s", target, archivePath)
	return 0, nil
}

func readEntry(ctx context.Context, zf *zip.File, maxRecords int, emit EmitFunc) (int, error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	// BOMOverride drops a leading UTF-8 BOM so the first header is clean.
	dec := transform.NewReader(rc, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return readCSV(ctx, bufio.NewReaderSize(dec, readBufSize), zf.Name, maxRecords, emit)
}

// readCSV emits one RawRow per data line of r. Only cells present in a line
// are set, so a short line lacks the trailing header keys; cells beyond the
// header are ignored. Quoting is lenient: a stray quote inside a field is
// kept as text instead of failing the file.
func readCSV(ctx context.Context, r io.Reader, name string, maxRecords int, emit EmitFunc) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", name, err)
	}
	header = append([]string(nil), header...)

	n := 0
	for maxRecords <= 0 || n < maxRecords {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read %s: %w", name, err)
		}

		row := make(domain.RawRow, len(header))
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			row[header[i]] = v
		}
		if err := emit(ctx, row); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
