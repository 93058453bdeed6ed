package lut

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	apperrors "tableware-inspector/internal/errors"
)

const (
	// Magic identifies a classification cache file.
	Magic = "HSVLUT01"
	// Version is bumped whenever the header or payload layout changes.
	Version uint32 = 1
	// HeaderSize is the packed little-endian header length in bytes.
	HeaderSize = 8 + 4 + 4 + 8 + 4
)

// Header is the fixed preamble of a cache file.
type Header struct {
	Magic     [8]byte
	Version   uint32
	Checksum  uint32
	Timestamp uint64
	ParamHash uint32
}

// CreatedAt converts the stored unix timestamp.
func (h Header) CreatedAt() time.Time {
	return time.Unix(int64(h.Timestamp), 0)
}

func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.Checksum)
	binary.LittleEndian.PutUint64(buf[16:24], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[24:28], h.ParamHash)
	return buf, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(data))
	}
	copy(h.Magic[:], data[0:8])
	h.Version = binary.LittleEndian.Uint32(data[8:12])
	h.Checksum = binary.LittleEndian.Uint32(data[12:16])
	h.Timestamp = binary.LittleEndian.Uint64(data[16:24])
	h.ParamHash = binary.LittleEndian.Uint32(data[24:28])
	return nil
}

// Checksum is the 31-multiplier rolling hash over every payload byte.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = sum*31 + uint32(b)
	}
	return sum
}

// LoadStatus is the outcome of reading a cache file. Only Loaded leaves the
// cache ready; Miss and Corrupt both mean "rebuild".
type LoadStatus int

const (
	Loaded LoadStatus = iota
	Miss
	Corrupt
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Miss:
		return "miss"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult explains a LoadStatus.
type LoadResult struct {
	Status LoadStatus
	Reason string
	Header Header
}

func miss(reason string, h Header) LoadResult {
	return LoadResult{Status: Miss, Reason: reason, Header: h}
}

func corrupt(reason string, h Header) LoadResult {
	return LoadResult{Status: Corrupt, Reason: reason, Header: h}
}

// readCacheFile validates the file at path against paramHash. The payload is
// returned only when the status is Loaded. An error is returned for I/O
// failures; every format problem is reported through the status instead.
func readCacheFile(path string, paramHash uint32) ([]byte, LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, miss("cache file not found", Header{}), nil
		}
		return nil, LoadResult{}, apperrors.NewIOError("failed to open cache file", err)
	}
	defer f.Close()

	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corrupt("short header", Header{}), nil
		}
		return nil, LoadResult{}, apperrors.NewIOError("failed to read cache header", err)
	}

	var header Header
	if err := header.UnmarshalBinary(raw); err != nil {
		return nil, corrupt(err.Error(), Header{}), nil
	}

	if string(header.Magic[:]) != Magic {
		return nil, miss("magic mismatch", header), nil
	}
	if header.Version != Version {
		return nil, miss(fmt.Sprintf("version %d, expected %d", header.Version, Version), header), nil
	}
	if header.ParamHash != paramHash {
		return nil, miss("color range parameters changed", header), nil
	}

	payload := make([]byte, Size)
	if _, err := io.ReadFull(f, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corrupt("short payload", header), nil
		}
		return nil, LoadResult{}, apperrors.NewIOError("failed to read cache payload", err)
	}

	var extra [1]byte
	if n, _ := f.Read(extra[:]); n > 0 {
		return nil, corrupt("payload longer than expected", header), nil
	}

	if Checksum(payload) != header.Checksum {
		return nil, corrupt("checksum mismatch", header), nil
	}

	return payload, LoadResult{Status: Loaded, Header: header}, nil
}

// writeCacheFile writes header and payload to a sibling temp file and renames
// it into place, so readers see either the old file or the complete new one.
func writeCacheFile(path string, header Header, payload []byte) error {
	raw, err := header.MarshalBinary()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.NewIOError("failed to create cache file", err)
	}

	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.NewIOError("failed to write cache header", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.NewIOError("failed to write cache payload", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.NewIOError("failed to sync cache file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.NewIOError("failed to close cache file", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.NewIOError("failed to move cache file into place", err)
	}
	return nil
}
