// Package lut precomputes a color classifier over every 8-bit BGR triple and
// persists the table so later runs classify with one indexed read per pixel.
package lut

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"tableware-inspector/internal/classify"
	apperrors "tableware-inspector/internal/errors"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/opencv/conversion"
	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	// Side is the number of values per 8-bit channel.
	Side = 256
	// Size is the payload length: one byte per BGR triple.
	Size = Side * Side * Side

	// cubeDim lays the 2^24 triples out as a square image for bulk conversion.
	cubeDim = 4096

	component = "ClassificationCache"
)

// ErrNotReady is returned by Classify before a successful Build or Load.
var ErrNotReady = errors.New("classification cache is not ready")

// State is the cache lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Options configures a Cache.
type Options struct {
	Path   string
	Ranges classify.RangeSet
	Space  conversion.ColorSpace
	Logger logger.Logger
}

// Cache is the table-backed MaskClassifier. It is owned by one process and
// injected where classification is needed. It is not safe to Classify while
// Build, Load or Save are running on another goroutine.
type Cache struct {
	path      string
	ranges    classify.RangeSet
	space     conversion.ColorSpace
	paramHash uint32
	logger    logger.Logger

	table  []byte
	state  State
	header Header
	now    func() time.Time
}

func New(opts Options) (*Cache, error) {
	if opts.Path == "" {
		return nil, apperrors.NewValidationError("cache path is required", nil)
	}
	if err := opts.Ranges.Validate(opts.Space.ChannelLimits()); err != nil {
		return nil, apperrors.NewValidationError("invalid color ranges", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	ranges := append(classify.RangeSet(nil), opts.Ranges...)
	return &Cache{
		path:      opts.Path,
		ranges:    ranges,
		space:     opts.Space,
		paramHash: ranges.ParamHash(),
		logger:    opts.Logger,
		state:     StateUninitialized,
		now:       time.Now,
	}, nil
}

func (c *Cache) Name() string {
	return "cached_classifier"
}

// Path is the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// ParamHash is the hash of the active range configuration.
func (c *Cache) ParamHash() uint32 {
	return c.paramHash
}

func (c *Cache) IsReady() bool {
	return c.state == StateReady
}

func (c *Cache) State() State {
	return c.state
}

// Header returns the header of the last file loaded or saved.
func (c *Cache) Header() Header {
	return c.header
}

// Init makes the cache ready, preferring the file on disk and rebuilding when
// it is missing, stale or corrupt. A failed save only costs a rebuild on the
// next start, so it is logged and not returned.
func (c *Cache) Init() error {
	if c.IsReady() {
		return nil
	}

	result, err := c.Load()
	switch {
	case err != nil:
		c.logger.Error(component, err, map[string]interface{}{"path": c.path})
	case result.Status == Loaded:
		c.logger.Info(component, "loaded classification cache", map[string]interface{}{
			"path":       c.path,
			"created_at": result.Header.CreatedAt().Format(time.RFC3339),
		})
		return nil
	default:
		c.logger.Info(component, "cache unusable, rebuilding", map[string]interface{}{
			"path":   c.path,
			"status": result.Status.String(),
			"reason": result.Reason,
		})
	}

	if err := c.Build(); err != nil {
		return err
	}

	if err := c.Save(); err != nil {
		c.logger.Warning(component, "failed to save cache, next start will rebuild", map[string]interface{}{
			"path":  c.path,
			"error": err.Error(),
		})
	}
	return nil
}

// Build evaluates the classifier for all 2^24 BGR triples. The triples are
// packed into one 4096x4096 image so the color conversion runs in a single
// call; conversion is per pixel, so this equals converting each triple alone.
func (c *Cache) Build() error {
	start := c.now()

	cube, err := gocv.NewMatFromBytes(cubeDim, cubeDim, gocv.MatTypeCV8UC3, enumerateCube())
	if err != nil {
		return apperrors.NewInternalError("failed to allocate color cube", err)
	}
	defer cube.Close()

	converted, err := conversion.ConvertFromBGR(cube, c.space)
	if err != nil {
		return apperrors.NewProcessingError("failed to convert color cube", err)
	}
	defer converted.Close()

	samples := converted.ToBytes()
	if len(samples) != 3*Size {
		return apperrors.NewProcessingError(
			fmt.Sprintf("converted cube has %d bytes, expected %d", len(samples), 3*Size), nil)
	}

	table := make([]byte, Size)
	for i := range table {
		s := samples[3*i : 3*i+3]
		if c.ranges.Contains(s[0], s[1], s[2]) {
			table[i] = 255
		}
	}

	c.table = table
	c.state = StateReady

	c.logger.Info(component, "classification cache built", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"color_space": string(c.space),
	})
	return nil
}

// Load replaces the table with the file contents when the file is valid for
// the current ranges. Miss and Corrupt leave the cache state untouched.
func (c *Cache) Load() (LoadResult, error) {
	payload, result, err := readCacheFile(c.path, c.paramHash)
	if err != nil {
		return result, err
	}

	switch result.Status {
	case Loaded:
		c.table = payload
		c.header = result.Header
		c.state = StateReady
	case Corrupt:
		c.logger.Warning(component, "cache file is corrupt", map[string]interface{}{
			"path":   c.path,
			"reason": result.Reason,
		})
	default:
		c.logger.Debug(component, "cache miss", map[string]interface{}{
			"path":   c.path,
			"reason": result.Reason,
		})
	}

	return result, nil
}

// Save persists the current table with a fresh checksum, timestamp and
// parameter hash.
func (c *Cache) Save() error {
	if len(c.table) != Size {
		return apperrors.NewCacheError("nothing to save", ErrNotReady)
	}

	var header Header
	copy(header.Magic[:], Magic)
	header.Version = Version
	header.Checksum = Checksum(c.table)
	header.Timestamp = uint64(c.now().Unix())
	header.ParamHash = c.paramHash

	if err := writeCacheFile(c.path, header, c.table); err != nil {
		return err
	}

	c.header = header
	c.logger.Debug(component, "classification cache saved", map[string]interface{}{
		"path":     c.path,
		"checksum": header.Checksum,
	})
	return nil
}

// ForceRebuild rebuilds and saves regardless of what is on disk.
func (c *Cache) ForceRebuild() error {
	c.logger.Info(component, "forcing cache rebuild", nil)
	if err := c.Build(); err != nil {
		return err
	}
	return c.Save()
}

// ClearFile removes the cache file. A missing file is not an error.
func (c *Cache) ClearFile() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewIOError("failed to remove cache file", err)
	}
	return nil
}

// Classify looks up every pixel's BGR value in the table.
func (c *Cache) Classify(bgr gocv.Mat) (gocv.Mat, error) {
	if !c.IsReady() {
		c.logger.Warning(component, "classify called before init", nil)
		return gocv.NewMat(), ErrNotReady
	}
	if err := safe.ValidateBGR(bgr, "cached classification"); err != nil {
		return gocv.NewMat(), err
	}

	pixels := safe.ContinuousBytes(bgr)
	mask := make([]byte, bgr.Rows()*bgr.Cols())
	table := c.table
	for i := range mask {
		p := pixels[3*i : 3*i+3]
		mask[i] = table[int(p[0])<<16|int(p[1])<<8|int(p[2])]
	}

	return gocv.NewMatFromBytes(bgr.Rows(), bgr.Cols(), gocv.MatTypeCV8UC1, mask)
}

// Lookup returns the stored classification for one BGR triple.
func (c *Cache) Lookup(b, g, r uint8) (bool, error) {
	if !c.IsReady() {
		return false, ErrNotReady
	}
	return c.table[int(b)<<16|int(g)<<8|int(r)] == 255, nil
}

// Cleanup releases the table and returns to the uninitialized state.
func (c *Cache) Cleanup() {
	c.table = nil
	c.state = StateUninitialized
	c.logger.Info(component, "classification cache released", nil)
}

// Shutdown lets the shutdown manager tear the cache down.
func (c *Cache) Shutdown() {
	c.Cleanup()
}

// Stats counts target triples in the table.
type Stats struct {
	Total      int     `json:"total"`
	Target     int     `json:"target"`
	Background int     `json:"background"`
	TargetPct  float64 `json:"target_pct"`
}

func (c *Cache) Stats() (Stats, error) {
	if !c.IsReady() {
		return Stats{}, ErrNotReady
	}

	target := 0
	for _, v := range c.table {
		if v == 255 {
			target++
		}
	}
	return Stats{
		Total:      Size,
		Target:     target,
		Background: Size - target,
		TargetPct:  float64(target) * 100 / Size,
	}, nil
}

// MemoryUsageMB is the resident size of the table.
func (c *Cache) MemoryUsageMB() float64 {
	return float64(len(c.table)) / (1024 * 1024)
}

// StatusInfo is a one-line summary for logs and the status endpoint.
func (c *Cache) StatusInfo() string {
	if !c.IsReady() {
		return "uninitialized"
	}

	file := "absent"
	if _, err := os.Stat(c.path); err == nil {
		file = "present"
	}
	return fmt.Sprintf("ready | memory: %.0fMB | cache file: %s", c.MemoryUsageMB(), file)
}

// enumerateCube lists every BGR triple in table index order.
func enumerateCube() []byte {
	data := make([]byte, 3*Size)
	for i := 0; i < Size; i++ {
		data[3*i] = byte(i >> 16)
		data[3*i+1] = byte(i >> 8)
		data[3*i+2] = byte(i)
	}
	return data
}
