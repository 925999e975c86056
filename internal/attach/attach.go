// ABOUTME: Attachment encoder turning uploaded files into inline message payloads
// ABOUTME: Text files are decoded as UTF-8, images become self-contained data URIs

package attach

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-chat/parley/internal/store"
)

// ErrUnsupported is returned for media types that are neither image nor
// text-like; parley only embeds what the model request format can carry.
var ErrUnsupported = errors.New("unsupported attachment type")

// textLikeTypes are non-"text/" MIME types treated as text attachments
var textLikeTypes = map[string]bool{
	"application/json":         true,
	"application/xml":          true,
	"application/x-yaml":       true,
	"application/yaml":         true,
	"application/javascript":   true,
	"application/toml":         true,
	"application/sql":          true,
	"application/x-sh":         true,
	"application/octet-stream": false, // explicit: never guess binary as text
}

// Encode converts a raw uploaded file into the inline attachment
// representation embedded in model requests. Image content becomes a data
// URI; text content is decoded as UTF-8 and inlined as-is.
func Encode(name, mimeType string, data []byte) (*store.Attachment, error) {
	// Strip MIME parameters like "; charset=utf-8"
	mediaType := mimeType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return &store.Attachment{
			Name:    name,
			Kind:    store.KindImage,
			Content: fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
		}, nil

	case strings.HasPrefix(mediaType, "text/") || textLikeTypes[mediaType]:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrUnsupported, name)
		}
		return &store.Attachment{
			Name:    name,
			Kind:    store.KindText,
			Content: string(data),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupported, name, mimeType)
	}
}

var unsafeChars = regexp.MustCompile(`[^\w\-_]`)

// SafeFilename sanitizes an uploaded filename and appends a timestamp to
// prevent collisions when files are written to disk for inspection.
func SafeFilename(original string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(filepath.Base(original), ext)
	base = unsafeChars.ReplaceAllString(base, "_")
	return fmt.Sprintf("%s_%s%s", base, time.Now().Format("20060102_150405"), ext)
}
