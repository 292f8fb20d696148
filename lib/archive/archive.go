// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive stores rendered transcripts on local disk,
// content-addressed and compressed. The local copy exists so a closed
// ticket's transcript survives even if the homeserver copy is purged.
//
// Files are named by the BLAKE3 keyed hash of the uncompressed
// transcript, so storing the same transcript twice is a no-op and a
// damaged file is detectable by rehashing.
package archive

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// transcriptDomainKey is the BLAKE3 key for transcript hashing. Domain
// separation keeps transcript hashes distinct from any other BLAKE3
// use of the same bytes. The value is the ASCII domain name,
// zero-padded to 32 bytes.
var transcriptDomainKey = [32]byte{
	'm', 'o', 'd', 'm', 'a', 'i', 'l', '.',
	't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// fileMagic identifies a transcript archive file. Followed by one
// codec byte and the little-endian uncompressed size.
var fileMagic = [4]byte{'M', 'M', 'T', '1'}

const headerSize = 4 + 1 + 8

// ErrNotFound is returned by Get for an unknown transcript ID.
var ErrNotFound = errors.New("archive: transcript not found")

// Entry describes one stored transcript.
type Entry struct {
	// ID is the hex-encoded BLAKE3 hash of the uncompressed
	// transcript.
	ID string

	// Path is the file's location on disk.
	Path string

	// Size is the uncompressed transcript size in bytes.
	Size int64

	// StoredSize is the on-disk payload size after compression,
	// excluding the header.
	StoredSize int64

	// Codec is the compression actually applied. May differ from the
	// store's configured codec when the data was incompressible.
	Codec Codec
}

// Store is a directory of archived transcripts.
type Store struct {
	dir   string
	codec Codec
}

// Open creates a store rooted at dir, creating the directory if
// needed. codec selects the compression applied to new transcripts.
func Open(dir string, codec Codec) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive: dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, codec: codec}, nil
}

// Put stores a transcript and returns its entry. Storing the same
// bytes twice returns the same ID without rewriting the file.
func (s *Store) Put(transcript []byte) (Entry, error) {
	id := hashTranscript(transcript)
	path := filepath.Join(s.dir, id+".mmt")

	if info, err := os.Stat(path); err == nil {
		return Entry{
			ID:         id,
			Path:       path,
			Size:       int64(len(transcript)),
			StoredSize: info.Size() - headerSize,
			Codec:      s.codec,
		}, nil
	}

	payload, codec, err := compress(transcript, s.codec)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, fileMagic[:])
	header[4] = byte(codec)
	binary.LittleEndian.PutUint64(header[5:], uint64(len(transcript)))

	// Write to a temp file and rename so a crash never leaves a
	// half-written transcript under its final name.
	tmp, err := os.CreateTemp(s.dir, ".mmt-*")
	if err != nil {
		return Entry{}, fmt.Errorf("archive: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(header)
	if writeErr == nil {
		_, writeErr = tmp.Write(payload)
	}
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		return Entry{}, fmt.Errorf("archive: writing %s: %w", path, writeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("archive: %w", err)
	}

	return Entry{
		ID:         id,
		Path:       path,
		Size:       int64(len(transcript)),
		StoredSize: int64(len(payload)),
		Codec:      codec,
	}, nil
}

// Get returns the uncompressed transcript for an ID. The content is
// verified against the ID before returning; a mismatch means the file
// was corrupted on disk.
func (s *Store) Get(id string) ([]byte, error) {
	if !validID(id) {
		return nil, fmt.Errorf("archive: malformed transcript ID %q", id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".mmt"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("archive: %w", err)
	}
	if len(data) < headerSize || [4]byte(data[:4]) != fileMagic {
		return nil, fmt.Errorf("archive: %s: not a transcript archive file", id)
	}

	codec := Codec(data[4])
	size := binary.LittleEndian.Uint64(data[5:headerSize])

	transcript, err := decompress(data[headerSize:], codec, int(size))
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", id, err)
	}

	if hashTranscript(transcript) != id {
		return nil, fmt.Errorf("archive: %s: content does not match its hash", id)
	}
	return transcript, nil
}

// List returns the IDs of every stored transcript, in directory order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".mmt" {
			continue
		}
		id := name[:len(name)-len(".mmt")]
		if validID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func hashTranscript(data []byte) string {
	hasher, err := blake3.NewKeyed(transcriptDomainKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func validID(id string) bool {
	if len(id) != 64 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
