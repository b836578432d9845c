package actions

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/timmy/mediavault/internal/pipeline"
)

const (
	maxFilenameLength = 200
	maxUniqueAttempts = 1000
)

// Filename decides the stored object name and key.
type Filename struct {
	base
	disks DiskResolver
}

// NewFilename creates the filename action.
func NewFilename(disks DiskResolver) *Filename {
	return &Filename{
		base: base{
			name:     "filename",
			priority: PriorityFilename,
			options: []pipeline.Option{
				{Key: "preserve_filename", Type: pipeline.OptionBool, Default: false, Description: "Keep the sanitized original name instead of a random one."},
				{Key: "unique_filename", Type: pipeline.OptionBool, Default: false, Description: "Append -1, -2, ... until the name is free on the disk."},
			},
		},
		disks: disks,
	}
}

func (a *Filename) Applies(*pipeline.Context) bool { return true }

func (a *Filename) Execute(ctx context.Context, c *pipeline.Context) pipeline.Result {
	ext := c.MetadataString(pipeline.MetaExtension)
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(c.File().Name))
	}

	stem := uuid.New().String()
	if c.PreserveFilename() {
		stem = SanitizeFilename(strings.TrimSuffix(c.File().Name, filepath.Ext(c.File().Name)))
	}

	name := stem + ext
	key := objectKey(c.Directory(), name)

	if c.UniqueFilename() {
		disk, err := a.disks.Disk(ctx, c.Disk())
		if err != nil {
			return pipeline.Fail(pipeline.ErrConfiguration, "storage disk unavailable", map[string]string{"disk": err.Error()})
		}
		for n := 1; ; n++ {
			exists, err := disk.Exists(ctx, key)
			if err != nil {
				return pipeline.Fail(pipeline.ErrStorage, "could not check filename", map[string]string{"storage": err.Error()})
			}
			if !exists {
				break
			}
			if n > maxUniqueAttempts {
				return pipeline.Fail(pipeline.ErrStorage, "no free filename found", map[string]string{"filename": name})
			}
			name = fmt.Sprintf("%s-%d%s", stem, n, ext)
			key = objectKey(c.Directory(), name)
		}
	}

	return pipeline.Next(c.
		WithState(pipeline.StateFilename, name).
		WithState(pipeline.StateTargetPath, key))
}

func objectKey(dir, name string) string {
	dir = strings.Trim(path.Clean("/"+filepath.ToSlash(dir)), "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// SanitizeFilename keeps letters, digits, '.', '-' and '_', collapsing every
// other run of characters into a single '-'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-.")
	if r := []rune(out); len(r) > maxFilenameLength {
		out = string(r[:maxFilenameLength])
	}
	if out == "" {
		return "file"
	}
	return out
}
