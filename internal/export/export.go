// Package export converts finished mosaics to other formats with
// ImageMagick.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var supportedFormats = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
}

// Convert reads input and writes it as the format implied by output's
// extension. quality applies to lossy formats, 1-100.
func Convert(input, output string, quality int) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	if _, ok := supportedFormats[ext]; !ok {
		return fmt.Errorf("export: unsupported output format %q", ext)
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("export: input: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = 92
	}

	imagick.Initialize()
	defer imagick.Terminate()

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(input); err != nil {
		return fmt.Errorf("export: read %s: %w", input, err)
	}
	if err := wand.SetImageFormat(strings.ToUpper(ext)); err != nil {
		return fmt.Errorf("export: set format: %w", err)
	}
	if ext == "jpg" || ext == "jpeg" {
		if err := wand.SetImageCompressionQuality(uint(quality)); err != nil {
			return fmt.Errorf("export: set quality: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("export: output dir: %w", err)
	}
	if err := wand.WriteImage(output); err != nil {
		return fmt.Errorf("export: write %s: %w", output, err)
	}
	return nil
}
