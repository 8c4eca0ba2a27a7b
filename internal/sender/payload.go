package sender

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/danmuck/kioskpush/internal/imagecodec"
	"github.com/danmuck/kioskpush/internal/protocol/frame"
)

var ErrPayloadTooLarge = errors.New("sender: payload exceeds 32-bit length field")

// Payload is an image file ready to stream.
type Payload struct {
	Path            string
	Size            int64
	Format          string
	Width           int
	Height          int
	DurationSeconds uint64
}

// OpenPayload stats path and checks it carries a decodable image header.
// A positive durationSeconds makes the kiosk revert after that long.
func OpenPayload(path string, durationSeconds uint64) (Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Payload{}, err
	}
	if info.IsDir() {
		return Payload{}, fmt.Errorf("sender: %s is a directory", path)
	}
	if info.Size() > math.MaxUint32 {
		return Payload{}, fmt.Errorf("%w: size=%d", ErrPayloadTooLarge, info.Size())
	}
	cfg, format, err := imagecodec.Probe(path)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Path:            path,
		Size:            info.Size(),
		Format:          format,
		Width:           cfg.Width,
		Height:          cfg.Height,
		DurationSeconds: durationSeconds,
	}, nil
}

// Command is the header line announcing this payload.
func (p Payload) Command() frame.Command {
	if p.DurationSeconds > 0 {
		return frame.SendPhotoWithTimer(uint32(p.Size), p.DurationSeconds)
	}
	return frame.SendPhoto(uint32(p.Size))
}
