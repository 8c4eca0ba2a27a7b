package imagecodec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultThreshold      int64 = 50 * 1024 * 1024
	DefaultChunkSize            = 8 * 1024
	DefaultMaxLegacyBytes int64 = 256 * 1024 * 1024
	// DefaultMaxPixels admits 8K frames with headroom (about 64 MP).
	DefaultMaxPixels int64 = 64 * 1024 * 1024
)

var (
	ErrPayloadIncomplete = errors.New("imagecodec: payload incomplete")
	ErrPayloadTooLarge   = errors.New("imagecodec: payload too large")
	ErrDecodeFailure     = errors.New("imagecodec: decode failure")
)

// TempFileProvider creates and removes uniquely named spill files.
type TempFileProvider interface {
	Create() (*os.File, error)
	Remove(path string) error
}

// OSTempFiles spills into Dir (os.TempDir when empty).
type OSTempFiles struct {
	Dir     string
	Pattern string
}

func (p OSTempFiles) Create() (*os.File, error) {
	pattern := p.Pattern
	if pattern == "" {
		pattern = "kioskpush-*.img"
	}
	return os.CreateTemp(p.Dir, pattern)
}

func (p OSTempFiles) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Decoder reads one payload and decodes it with the registered codecs.
type Decoder struct {
	Threshold      int64
	ChunkSize      int
	MaxLegacyBytes int64
	MaxPixels      int64
	Temp           TempFileProvider
}

// Result describes one successful decode.
type Result struct {
	Image   image.Image
	Format  string
	Bytes   int64
	Spilled bool
}

func NewDecoder() *Decoder {
	return &Decoder{
		Threshold:      DefaultThreshold,
		ChunkSize:      DefaultChunkSize,
		MaxLegacyBytes: DefaultMaxLegacyBytes,
		MaxPixels:      DefaultMaxPixels,
		Temp:           OSTempFiles{},
	}
}

func (d *Decoder) withDefaults() Decoder {
	out := *d
	if out.Threshold <= 0 {
		out.Threshold = DefaultThreshold
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.MaxLegacyBytes <= 0 {
		out.MaxLegacyBytes = DefaultMaxLegacyBytes
	}
	if out.MaxPixels <= 0 {
		out.MaxPixels = DefaultMaxPixels
	}
	if out.Temp == nil {
		out.Temp = OSTempFiles{}
	}
	return out
}

// Decode consumes the payload from r and decodes it.
//
// length <= 0 reads until EOF (legacy bare streams). Otherwise exactly
// length bytes are consumed; fewer before EOF is ErrPayloadIncomplete.
// On error the returned Result never carries an image.
func (d *Decoder) Decode(r io.Reader, length int64) (Result, error) {
	cfg := d.withDefaults()
	switch {
	case length <= 0:
		return cfg.decodeUntilEOF(r)
	case length <= cfg.Threshold:
		return cfg.decodeInMemory(r, length)
	default:
		return cfg.decodeSpilled(r, length)
	}
}

func (d Decoder) decodeUntilEOF(r io.Reader) (Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, d.MaxLegacyBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPayloadIncomplete, err)
	}
	if int64(len(data)) > d.MaxLegacyBytes {
		return Result{}, fmt.Errorf("%w: legacy stream exceeds %d bytes", ErrPayloadTooLarge, d.MaxLegacyBytes)
	}
	img, format, err := decodeImage(bytes.NewReader(data), d.MaxPixels)
	if err != nil {
		return Result{}, err
	}
	return Result{Image: img, Format: format, Bytes: int64(len(data))}, nil
}

func (d Decoder) decodeInMemory(r io.Reader, length int64) (Result, error) {
	buf := make([]byte, length)
	if n, err := io.ReadFull(r, buf); err != nil {
		return Result{}, incomplete(int64(n), length, err)
	}
	img, format, err := decodeImage(bytes.NewReader(buf), d.MaxPixels)
	if err != nil {
		return Result{}, err
	}
	return Result{Image: img, Format: format, Bytes: length}, nil
}

func (d Decoder) decodeSpilled(r io.Reader, length int64) (res Result, err error) {
	f, err := d.Temp.Create()
	if err != nil {
		return Result{}, fmt.Errorf("imagecodec: create spill file: %w", err)
	}
	path := f.Name()
	defer func() {
		_ = f.Close()
		if rmErr := d.Temp.Remove(path); rmErr != nil && err == nil {
			res, err = Result{}, fmt.Errorf("imagecodec: remove spill file: %w", rmErr)
		}
	}()

	if err := copyChunks(f, r, length, d.ChunkSize); err != nil {
		return Result{}, err
	}
	img, format, err := decodeImage(f, d.MaxPixels)
	if err != nil {
		return Result{}, err
	}
	return Result{Image: img, Format: format, Bytes: length, Spilled: true}, nil
}

// copyChunks moves exactly length bytes, never holding more than chunk
// bytes in memory.
func copyChunks(dst io.Writer, src io.Reader, length int64, chunk int) error {
	buf := make([]byte, chunk)
	var done int64
	for done < length {
		want := min(int64(chunk), length-done)
		n, err := io.ReadFull(src, buf[:want])
		done += int64(n)
		if err != nil {
			return incomplete(done, length, err)
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return fmt.Errorf("imagecodec: write spill file: %w", err)
		}
	}
	return nil
}

func incomplete(got, want int64, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrPayloadIncomplete, got, want)
	}
	return fmt.Errorf("%w: got %d of %d bytes: %w", ErrPayloadIncomplete, got, want, err)
}

// decodeImage checks the declared dimensions before decoding so a small
// header cannot make the codec allocate an oversized frame.
func decodeImage(r io.ReadSeeker, maxPixels int64) (image.Image, string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("imagecodec: rewind payload: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bufio.NewReader(r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if err := checkDimensions(cfg, maxPixels); err != nil {
		return nil, "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("imagecodec: rewind payload: %w", err)
	}
	img, format, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if img == nil {
		return nil, "", fmt.Errorf("%w: codec returned no image", ErrDecodeFailure)
	}
	return img, format, nil
}

func checkDimensions(cfg image.Config, maxPixels int64) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecodeFailure, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeFailure, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// LoadFile decodes an image file from disk, e.g. the configured default
// image, with the DefaultMaxPixels guard.
func LoadFile(path string) (image.Image, string, error) {
	return LoadFileLimit(path, DefaultMaxPixels)
}

// LoadFileLimit is LoadFile with an explicit pixel cap; <= 0 means default.
func LoadFileLimit(path string, maxPixels int64) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return decodeImage(f, maxPixels)
}

// Probe reads only the image header of path.
func Probe(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	return cfg, format, nil
}
