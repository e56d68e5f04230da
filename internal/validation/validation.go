// Package validation checks user-supplied paths and options before a request
// is accepted.
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	uerrors "upscaler/internal/errors"
)

// MediaKind classifies an input by extension.
type MediaKind string

const (
	MediaImage       MediaKind = "image"
	MediaVideo       MediaKind = "video"
	MediaUnsupported MediaKind = "unsupported"
)

// MaxFPS is the highest output frame rate accepted.
const MaxFPS = 120

// SupportedImageFormats lists accepted still-image extensions
var SupportedImageFormats = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif"}

// SupportedVideoFormats lists accepted video container extensions
var SupportedVideoFormats = []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv", ".webm", ".m4v"}

// Classify returns the media kind of path based on its extension.
func Classify(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedImageFormats {
		if ext == e {
			return MediaImage
		}
	}
	for _, e := range SupportedVideoFormats {
		if ext == e {
			return MediaVideo
		}
	}
	return MediaUnsupported
}

// getSystemDirectories returns platform-specific system directories to protect
func getSystemDirectories() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			"C:\\Windows",
			"C:\\Program Files",
			"C:\\Program Files (x86)",
			"C:\\System Volume Information",
			"C:\\ProgramData",
		}
	case "darwin": // macOS
		return []string{
			"/System",
			"/usr",
			"/bin",
			"/sbin",
			"/etc",
			"/private/etc",
			"/Applications",
		}
	case "linux":
		return []string{
			"/etc",
			"/usr",
			"/bin",
			"/sbin",
			"/boot",
			"/sys",
			"/proc",
		}
	default:
		return []string{
			"/etc",
			"/usr",
			"/bin",
			"/sbin",
		}
	}
}

// getMaxPathLength returns platform-specific maximum path length
func getMaxPathLength() int {
	switch runtime.GOOS {
	case "windows":
		return 260
	case "darwin":
		return 1024
	case "linux":
		return 4096
	default:
		return 1024
	}
}

func normalizePathForComparison(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(filepath.Clean(path))
	}
	return filepath.Clean(path)
}

// CleanPath trims whitespace and the quotes a file manager adds on drag and
// drop, and makes the path absolute.
func CleanPath(input string) string {
	cleaned := stripQuotes(input)
	if cleaned == "" {
		return ""
	}
	if absPath, err := filepath.Abs(cleaned); err == nil {
		return filepath.Clean(absPath)
	}
	return filepath.Clean(cleaned)
}

func stripQuotes(input string) string {
	cleaned := strings.TrimSpace(input)
	if len(cleaned) >= 2 {
		if (cleaned[0] == '\'' && cleaned[len(cleaned)-1] == '\'') ||
			(cleaned[0] == '"' && cleaned[len(cleaned)-1] == '"') {
			cleaned = cleaned[1 : len(cleaned)-1]
		}
	}
	return strings.TrimSpace(cleaned)
}

// ValidateInputPath checks that input names a readable, non-empty image or
// video file and returns its media kind.
func ValidateInputPath(input string) (MediaKind, error) {
	raw := stripQuotes(input)
	if raw == "" {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", errors.New("path cannot be empty"))
	}

	// Security: Check for directory traversal attempts
	if strings.Contains(raw, "..") {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", errors.New("path cannot contain '..' (directory traversal)"))
	}

	path := CleanPath(raw)
	if err := validatePathCharacters(path); err != nil {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", err)
	}

	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", fmt.Errorf("file does not exist: %s", path))
	}
	if err != nil {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", fmt.Errorf("cannot access file: %w", err))
	}
	if fileInfo.IsDir() {
		return MediaUnsupported, uerrors.InvalidInput("validate_input", fmt.Errorf("path points to a directory, not a file: %s", path))
	}

	kind := Classify(path)
	if kind == MediaUnsupported {
		return kind, uerrors.UnsupportedMedia("validate_input",
			fmt.Errorf("unsupported file format: %s. Supported formats: %s",
				filepath.Ext(path), strings.Join(append(append([]string{}, SupportedImageFormats...), SupportedVideoFormats...), ", ")))
	}

	if fileInfo.Size() == 0 {
		return kind, uerrors.InvalidInput("validate_input", errors.New("file is empty"))
	}

	file, err := os.Open(path)
	if err != nil {
		return kind, uerrors.InvalidInput("validate_input", fmt.Errorf("cannot read file (permission denied): %w", err))
	}
	file.Close()

	return kind, nil
}

// ValidateFPS accepts 0 (keep the source rate) up to MaxFPS.
func ValidateFPS(fps float64) error {
	if fps < 0 || fps > MaxFPS {
		return uerrors.InvalidInput("validate_fps", fmt.Errorf("fps must be between 0 and %d, got %g", MaxFPS, fps))
	}
	return nil
}

// DefaultOutputPath places "<stem>_upscaled<ext>" next to input. ext
// includes the dot.
func DefaultOutputPath(input, ext string) string {
	dir := filepath.Dir(input)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+"_upscaled"+ext)
}

// ValidateOutputPath checks that the deliverable can be written to
// outputPath. An existing file is overwritten; an existing directory is not
// a valid target.
func ValidateOutputPath(outputPath string) error {
	raw := stripQuotes(outputPath)
	if raw == "" {
		return uerrors.InvalidInput("validate_output", errors.New("output path cannot be empty"))
	}
	if strings.Contains(raw, "..") {
		return uerrors.InvalidInput("validate_output", errors.New("path cannot contain '..' (directory traversal)"))
	}

	path := CleanPath(raw)
	if err := validatePathCharacters(path); err != nil {
		return uerrors.InvalidInput("validate_output", err)
	}

	if fileInfo, err := os.Stat(path); err == nil && fileInfo.IsDir() {
		return uerrors.InvalidInput("validate_output", fmt.Errorf("output path points to an existing directory: %s", path))
	}

	parentDir := filepath.Dir(path)
	parentInfo, err := os.Stat(parentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return uerrors.InvalidInput("validate_output", fmt.Errorf("output directory does not exist: %s", parentDir))
		}
		return uerrors.InvalidInput("validate_output", fmt.Errorf("cannot access output directory: %w", err))
	}
	if !parentInfo.IsDir() {
		return uerrors.InvalidInput("validate_output", fmt.Errorf("output parent path is not a directory: %s", parentDir))
	}

	if err := validatePathSecurity(path); err != nil {
		return uerrors.InvalidInput("validate_output", fmt.Errorf("security validation failed: %w", err))
	}
	if err := checkWritePermission(parentDir); err != nil {
		return uerrors.InvalidInput("validate_output", fmt.Errorf("cannot write to output directory: %w", err))
	}
	return nil
}

// checkWritePermission tests if we can create a file in dir
func checkWritePermission(dir string) error {
	file, err := os.CreateTemp(dir, ".upscaler_write_test_*")
	if err != nil {
		return fmt.Errorf("no write permission: %w", err)
	}
	name := file.Name()
	file.Close()
	os.Remove(name)
	return nil
}

// validatePathSecurity rejects overlong paths and system directories.
func validatePathSecurity(path string) error {
	maxLen := getMaxPathLength()
	if len(path) > maxLen {
		return fmt.Errorf("path too long (max %d characters)", maxLen)
	}

	normalizedPath := normalizePathForComparison(path)
	for _, sysDir := range getSystemDirectories() {
		normalizedSysDir := normalizePathForComparison(sysDir)
		if normalizedPath == normalizedSysDir ||
			strings.HasPrefix(normalizedPath, normalizedSysDir+string(filepath.Separator)) {
			return fmt.Errorf("cannot write to system directory: %s", sysDir)
		}
	}
	return nil
}

// validatePathCharacters checks for invalid characters based on OS
func validatePathCharacters(path string) error {
	if runtime.GOOS == "windows" {
		// the drive colon is legal
		rest := path
		if len(rest) >= 2 && rest[1] == ':' {
			rest = rest[2:]
		}
		for _, char := range []string{"<", ">", ":", "\"", "|", "?", "*"} {
			if strings.Contains(rest, char) {
				return fmt.Errorf("path contains invalid character: %s", char)
			}
		}

		baseName := strings.ToUpper(filepath.Base(path))
		if idx := strings.LastIndex(baseName, "."); idx != -1 {
			baseName = baseName[:idx]
		}
		reservedNames := []string{
			"CON", "PRN", "AUX", "NUL",
			"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
			"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
		}
		for _, reserved := range reservedNames {
			if baseName == reserved {
				return fmt.Errorf("path uses reserved Windows name: %s", reserved)
			}
		}
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains null bytes")
	}
	return nil
}
