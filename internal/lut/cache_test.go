package lut

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tableware-inspector/internal/classify"
	"tableware-inspector/internal/opencv/conversion"

	"gocv.io/x/gocv"
)

func defaultRanges() classify.RangeSet {
	return classify.RangeSet{{Name: "wood", Min: [3]int{8, 151, 0}, Max: [3]int{20, 255, 255}}}
}

func newTestCache(t *testing.T, path string, ranges classify.RangeSet) *Cache {
	t.Helper()
	c, err := New(Options{Path: path, Ranges: ranges, Space: conversion.ColorSpaceHSV})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func newBuiltCache(t *testing.T, path string) *Cache {
	t.Helper()
	c := newTestCache(t, path, defaultRanges())
	if err := c.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestChecksum(t *testing.T) {
	// ((0*31+1)*31+2)*31+3
	if got := Checksum([]byte{1, 2, 3}); got != 1026 {
		t.Errorf("Checksum = %d, want 1026", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = %d, want 0", got)
	}
}

func TestHeader_BinaryRoundTrip(t *testing.T) {
	var h Header
	copy(h.Magic[:], Magic)
	h.Version = Version
	h.Checksum = 0xdeadbeef
	h.Timestamp = 1700000000
	h.ParamHash = 42

	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(raw) != HeaderSize {
		t.Fatalf("header length = %d, want %d", len(raw), HeaderSize)
	}
	if !bytes.Equal(raw[:8], []byte(Magic)) {
		t.Errorf("magic bytes = %q", raw[:8])
	}

	var back Header
	if err := back.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if back != h {
		t.Errorf("round trip = %+v, want %+v", back, h)
	}
}

func TestCache_ClassifyBeforeReady(t *testing.T) {
	c := newTestCache(t, filepath.Join(t.TempDir(), "lut.bin"), defaultRanges())

	img := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer img.Close()

	mask, err := c.Classify(img)
	defer mask.Close()
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Classify error = %v, want ErrNotReady", err)
	}
	if !mask.Empty() {
		t.Error("expected empty mask before the cache is ready")
	}
	if _, err := c.Stats(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Stats error = %v, want ErrNotReady", err)
	}
}

func TestCache_MatchesDirectClassifierForEveryTriple(t *testing.T) {
	if testing.Short() {
		t.Skip("full color cube comparison skipped in short mode")
	}

	c := newBuiltCache(t, filepath.Join(t.TempDir(), "lut.bin"))
	direct, err := classify.NewDirectClassifier(defaultRanges(), conversion.ColorSpaceHSV)
	if err != nil {
		t.Fatalf("NewDirectClassifier: %v", err)
	}

	cube, err := gocv.NewMatFromBytes(cubeDim, cubeDim, gocv.MatTypeCV8UC3, enumerateCube())
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer cube.Close()

	cached, err := c.Classify(cube)
	if err != nil {
		t.Fatalf("cached Classify: %v", err)
	}
	defer cached.Close()

	reference, err := direct.Classify(cube)
	if err != nil {
		t.Fatalf("direct Classify: %v", err)
	}
	defer reference.Close()

	got, want := cached.ToBytes(), reference.ToBytes()
	if len(got) != Size || len(want) != Size {
		t.Fatalf("mask sizes = %d/%d, want %d", len(got), len(want), Size)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("triple b=%d g=%d r=%d: cached %d, direct %d",
				i>>16, (i>>8)&0xff, i&0xff, got[i], want[i])
		}
	}
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lut.bin")
	saved := newBuiltCache(t, path)
	if err := saved.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != HeaderSize+Size {
		t.Fatalf("file size = %d, want %d", info.Size(), HeaderSize+Size)
	}

	loaded := newTestCache(t, path, defaultRanges())
	result, err := loaded.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Status != Loaded {
		t.Fatalf("Load status = %s (%s), want loaded", result.Status, result.Reason)
	}
	if !loaded.IsReady() {
		t.Fatal("cache should be ready after a successful load")
	}
	if !bytes.Equal(loaded.table, saved.table) {
		t.Fatal("loaded table differs from saved table")
	}
	if got := loaded.Header().CreatedAt(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreatedAt = %v", got)
	}

	// An orange and a blue pixel classify the same through both caches.
	img, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, []byte{0, 100, 255, 255, 0, 0})
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer img.Close()

	a, err := saved.Classify(img)
	if err != nil {
		t.Fatalf("Classify saved: %v", err)
	}
	defer a.Close()
	b, err := loaded.Classify(img)
	if err != nil {
		t.Fatalf("Classify loaded: %v", err)
	}
	defer b.Close()
	if !bytes.Equal(a.ToBytes(), b.ToBytes()) {
		t.Errorf("masks differ: %v vs %v", a.ToBytes(), b.ToBytes())
	}
	if got := b.ToBytes(); got[0] != 255 || got[1] != 0 {
		t.Errorf("mask = %v, want [255 0]", got)
	}
}

func TestCache_LoadReportsMissWhenAnyBoundChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lut.bin")
	if err := newBuiltCache(t, path).Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for bound := 0; bound < 6; bound++ {
		changed := defaultRanges()
		ch := bound / 2
		if bound%2 == 0 {
			changed[0].Min[ch]++
		} else {
			changed[0].Max[ch]--
		}

		c := newTestCache(t, path, changed)
		result, err := c.Load()
		if err != nil {
			t.Fatalf("bound %d: Load: %v", bound, err)
		}
		if result.Status != Miss {
			t.Errorf("bound %d: status = %s, want miss", bound, result.Status)
		}
		if c.IsReady() {
			t.Errorf("bound %d: a stale cache must not become ready", bound)
		}
	}
}

func TestCache_LoadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lut.bin")
	if err := newBuiltCache(t, path).Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	pristine, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   LoadStatus
	}{
		{"flipped first payload byte", func(b []byte) []byte { b[HeaderSize] ^= 0xff; return b }, Corrupt},
		{"flipped middle payload byte", func(b []byte) []byte { b[HeaderSize+Size/2] ^= 0x01; return b }, Corrupt},
		{"flipped last payload byte", func(b []byte) []byte { b[len(b)-1] ^= 0x80; return b }, Corrupt},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-10] }, Corrupt},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }, Corrupt},
		{"truncated header", func(b []byte) []byte { return b[:HeaderSize-1] }, Corrupt},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, Miss},
		{"bad version", func(b []byte) []byte { b[8] = 99; return b }, Miss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), pristine...))
			target := filepath.Join(dir, "mutated.bin")
			if err := os.WriteFile(target, data, 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			c := newTestCache(t, target, defaultRanges())
			result, err := c.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s (%s), want %s", result.Status, result.Reason, tt.want)
			}
			if c.IsReady() {
				t.Error("cache must not be ready after a rejected load")
			}
		})
	}
}

func TestCache_LoadMissingFileIsMiss(t *testing.T) {
	c := newTestCache(t, filepath.Join(t.TempDir(), "absent.bin"), defaultRanges())
	result, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Status != Miss {
		t.Errorf("status = %s, want miss", result.Status)
	}
}

func TestCache_InitRebuildsStaleFileAndCleanupResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lut.bin")
	if err := newBuiltCache(t, path).Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	changed := defaultRanges()
	changed[0].Max[0] = 25
	c := newTestCache(t, path, changed)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !c.IsReady() || c.State() != StateReady {
		t.Fatal("cache should be ready after Init")
	}

	// The rebuilt file now carries the new parameter hash.
	reloaded := newTestCache(t, path, changed)
	result, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Status != Loaded || result.Header.ParamHash != changed.ParamHash() {
		t.Errorf("after Init: status %s, hash %d, want loaded with %d",
			result.Status, result.Header.ParamHash, changed.ParamHash())
	}

	c.Cleanup()
	if c.IsReady() || c.MemoryUsageMB() != 0 {
		t.Error("Cleanup should release the table and reset state")
	}
	if c.StatusInfo() != "uninitialized" {
		t.Errorf("StatusInfo = %q", c.StatusInfo())
	}
}

func TestCache_StatsAndLookup(t *testing.T) {
	c := newBuiltCache(t, filepath.Join(t.TempDir(), "lut.bin"))

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != Size || stats.Target+stats.Background != Size {
		t.Errorf("inconsistent stats: %+v", stats)
	}
	if stats.Target == 0 {
		t.Error("default ranges should accept some colors")
	}

	orange, err := c.Lookup(0, 100, 255)
	if err != nil || !orange {
		t.Errorf("Lookup(orange) = %v, %v; want true", orange, err)
	}
	blue, err := c.Lookup(255, 0, 0)
	if err != nil || blue {
		t.Errorf("Lookup(blue) = %v, %v; want false", blue, err)
	}

	if got := c.MemoryUsageMB(); got != 16 {
		t.Errorf("MemoryUsageMB = %v, want 16", got)
	}
}

func TestCache_ClearFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lut.bin")
	c := newBuiltCache(t, path)
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.ClearFile(); err != nil {
		t.Fatalf("ClearFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be gone, stat err = %v", err)
	}
	if err := c.ClearFile(); err != nil {
		t.Errorf("second ClearFile should be a no-op, got %v", err)
	}
}
