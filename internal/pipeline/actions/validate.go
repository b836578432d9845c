package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/timmy/mediavault/internal/pipeline"
)

// Validate checks size and sniffed MIME type against the Context limits.
type Validate struct {
	base
}

// NewValidate creates the validate action.
func NewValidate() *Validate {
	return &Validate{base{
		name:     "validate",
		priority: PriorityValidate,
		options: []pipeline.Option{
			{Key: "max_size", Type: pipeline.OptionInt, Description: "Maximum file size in bytes, 0 for unlimited."},
			{Key: "allowed_mimes", Type: pipeline.OptionString, Description: "Allowed MIME types; entries like image/* match a whole family."},
		},
	}}
}

func (a *Validate) Applies(*pipeline.Context) bool { return true }

func (a *Validate) Execute(_ context.Context, c *pipeline.Context) pipeline.Result {
	file := c.File()
	info, err := os.Stat(file.Path)
	if err != nil {
		return pipeline.Fail(pipeline.ErrValidation, "file is not readable", map[string]string{"file": err.Error()})
	}
	size := info.Size()
	if size == 0 {
		return pipeline.Fail(pipeline.ErrValidation, "file is empty", map[string]string{"file": "empty file"})
	}
	if max := c.MaxSize(); max > 0 && size > max {
		msg := fmt.Sprintf("file size %d exceeds the limit of %d bytes", size, max)
		return pipeline.Fail(pipeline.ErrValidation, msg, map[string]string{"file": msg})
	}

	mt, err := mimetype.DetectFile(file.Path)
	if err != nil {
		return pipeline.Fail(pipeline.ErrValidation, "could not detect file type", map[string]string{"file": err.Error()})
	}
	detected := mt.String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = strings.TrimSpace(detected[:i])
	}
	if !MimeAllowed(detected, c.AllowedMimes()) {
		msg := fmt.Sprintf("file type %s is not allowed", detected)
		return pipeline.Fail(pipeline.ErrValidation, msg, map[string]string{"mime_type": msg})
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	if ext == "" {
		ext = mt.Extension()
	}

	return pipeline.Next(c.WithFile(pipeline.File{
		Path:     file.Path,
		Name:     file.Name,
		Size:     size,
		MimeType: detected,
	}).WithMetadataMap(map[string]any{
		pipeline.MetaMimeType:  detected,
		pipeline.MetaSize:      size,
		pipeline.MetaExtension: ext,
		pipeline.MetaOriginal:  file.Name,
	}))
}

// MimeAllowed reports whether mime matches one of patterns. An empty pattern
// list allows everything; "image/*" matches every image type.
func MimeAllowed(mime string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	mime = strings.ToLower(mime)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*" || p == "*/*" || p == mime:
			return true
		case strings.HasSuffix(p, "/*") && strings.HasPrefix(mime, strings.TrimSuffix(p, "*")):
			return true
		}
	}
	return false
}
