package actions

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
)

// Dimensions records width and height of images. Undecodable images continue
// without dimensions.
type Dimensions struct {
	base
}

// NewDimensions creates the dimensions action.
func NewDimensions() *Dimensions {
	return &Dimensions{base{name: "dimensions", priority: PriorityDimensions}}
}

func (a *Dimensions) Applies(c *pipeline.Context) bool {
	return strings.HasPrefix(c.File().MimeType, "image/")
}

func (a *Dimensions) Execute(ctx context.Context, c *pipeline.Context) pipeline.Result {
	f, err := os.Open(c.File().Path)
	if err != nil {
		return pipeline.Fail(pipeline.ErrValidation, "file is not readable", map[string]string{"file": err.Error()})
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to get image dimensions")
		return pipeline.Next(c)
	}
	return pipeline.Next(c.WithMetadataMap(map[string]any{
		pipeline.MetaWidth:  cfg.Width,
		pipeline.MetaHeight: cfg.Height,
	}))
}
