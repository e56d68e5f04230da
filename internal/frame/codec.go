package frame

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/google/renameio/v2"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ImageFormat names a still-image container by its output extension.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPG  ImageFormat = "jpg"
	FormatWebP ImageFormat = "webp"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
	FormatTIF  ImageFormat = "tif"
)

// FormatFromPath maps a file extension to its output format. "jpeg" is
// normalized to "jpg".
func FormatFromPath(path string) (ImageFormat, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "jpeg", "jpg":
		return FormatJPG, nil
	case "png", "webp", "bmp", "tiff", "tif":
		return ImageFormat(ext), nil
	default:
		return "", fmt.Errorf("unsupported image format: %q", ext)
	}
}

// DecodeImageFile reads an image from disk. Formats are recognised by
// content via the registered decoders.
func DecodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// EncodeImage writes img in the given format.
func EncodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF, FormatTIF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported image format: %q", format)
	}
}

// WriteImageFile encodes img to path atomically.
func WriteImageFile(path string, img image.Image, format ImageFormat) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending image file: %w", err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck

	if err := EncodeImage(pendingFile, img, format); err != nil {
		return fmt.Errorf("encode %s image: %w", format, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace image file: %w", err)
	}
	return nil
}
