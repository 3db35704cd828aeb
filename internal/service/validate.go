package service

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// validateUpload rejects files the parse pipeline cannot handle before any
// byte reaches storage: unknown extensions, oversized payloads and image
// files whose header does not decode.
func validateUpload(fileName string, content []byte, cfg *config.SubmitConfig) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return fmt.Errorf("%w: file %q has no extension", domain.ErrValidation, fileName)
	}

	allowed := false
	for _, e := range cfg.AllowedExts {
		if ext == strings.ToLower(e) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: unsupported file type %s", domain.ErrValidation, ext)
	}

	if cfg.MaxFileSize > 0 && int64(len(content)) > cfg.MaxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrValidation, cfg.MaxFileSize)
	}
	if len(content) == 0 {
		return fmt.Errorf("%w: empty file", domain.ErrValidation)
	}

	if ext == ".pdf" {
		if !bytes.HasPrefix(content, pdfMagic) {
			return fmt.Errorf("%w: file is not a valid PDF", domain.ErrValidation)
		}
		return nil
	}

	// Image submissions must at least carry a decodable header.
	if _, _, err := image.DecodeConfig(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("%w: file is not a valid %s image: %v", domain.ErrValidation, ext, err)
	}
	return nil
}
