package convert

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// preflightImage decodes only the image header so corrupt files and
// decompression bombs are refused before the image tool is launched.
func preflightImage(path string, maxPixels int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("reading image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%s image has no pixels", format)
	}

	pixels := int64(cfg.Width) * int64(cfg.Height)
	if maxPixels > 0 && pixels > maxPixels {
		return fmt.Errorf(
			"%s image too large: %dx%d pixels exceeds limit of %d",
			format, cfg.Width, cfg.Height, maxPixels,
		)
	}
	return nil
}
