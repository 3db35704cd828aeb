package parser

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wzdavid/mineru-api/internal/logger"
)

// mimeTypes maps image extensions to the MIME type used in data URLs.
var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

var imageLinkRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// EmbedImages inlines every image referenced by the markdown as a base64
// data URL, so the result document is self-contained. Images that cannot be
// read are logged and left as-is.
func EmbedImages(md string, imageDir string, log *logger.Logger) string {
	if imageDir == "" {
		return md
	}
	if _, err := os.Stat(imageDir); err != nil {
		log.WithField("dir", imageDir).Warn("Image directory missing, skipping embed")
		return md
	}

	matches := imageLinkRe.FindAllStringSubmatch(md, -1)
	for _, m := range matches {
		altText, imagePath := m[1], m[2]
		if strings.HasPrefix(imagePath, "data:") {
			continue
		}
		name := strings.TrimPrefix(imagePath, "images/")
		full := filepath.Join(imageDir, name)

		data, err := os.ReadFile(full)
		if err != nil {
			log.WithError(err).WithField("image", imagePath).Error("Failed to read image for embedding")
			continue
		}

		mime, ok := mimeTypes[strings.ToLower(filepath.Ext(full))]
		if !ok {
			mime = "image/png"
		}

		dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
		old := fmt.Sprintf("![%s](%s)", altText, imagePath)
		md = strings.Replace(md, old, fmt.Sprintf("![%s](%s)", altText, dataURL), 1)

		log.WithFields(logger.Fields{
			"image":          imagePath,
			logger.FieldSize: len(data),
		}).Debug("Embedded image as base64")
	}
	return md
}
