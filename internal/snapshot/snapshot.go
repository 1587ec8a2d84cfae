// Package snapshot implements periodic, atomically-written full-book
// snapshots used both for disk persistence and for fast-forwarding new
// publisher subscribers, per spec.md §6's snapshot file format.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.hybscloud.com/obengine/internal/book"
)

// Magic identifies an obengine snapshot file.
var Magic = [8]byte{'O', 'B', 'S', 'N', 'A', 'P', 0, 0}

const formatVersion = 1

// Write serializes exp to path atomically: encode to a temp file in the
// same directory, fsync, then rename over the destination.
func Write(path string, exp book.BookExport, timestampNs uint64) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, exp, timestampNs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

func encode(w io.Writer, exp book.BookExport, timestampNs uint64) error {
	var hdr bytes.Buffer
	hdr.Write(Magic[:])
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], formatVersion)
	hdr.Write(v[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampNs)
	hdr.Write(ts[:])

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(exp); err != nil {
		return fmt.Errorf("snapshot: encode body: %w", err)
	}

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// Load reads and validates a snapshot file written by Write.
func Load(path string) (book.BookExport, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: read magic: %w", err)
	}
	if magic != Magic {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: bad magic")
	}
	var verBuf [4]byte
	if _, err := io.ReadFull(f, verBuf[:]); err != nil {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: read version: %w", err)
	}
	version := binary.BigEndian.Uint32(verBuf[:])
	if version != formatVersion {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: unsupported version %d", version)
	}
	var tsB [8]byte
	if _, err := io.ReadFull(f, tsB[:]); err != nil {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: read timestamp: %w", err)
	}
	ts := binary.BigEndian.Uint64(tsB[:])

	var exp book.BookExport
	if err := gob.NewDecoder(f).Decode(&exp); err != nil {
		return book.BookExport{}, 0, fmt.Errorf("snapshot: decode body: %w", err)
	}
	return exp, ts, nil
}
