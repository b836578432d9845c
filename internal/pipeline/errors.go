package pipeline

import "errors"

var (
	// ErrValidation marks bad input; never retried.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks a failed write or delete; eligible for item retry.
	ErrStorage = errors.New("storage operation failed")
	// ErrConfiguration marks a broken pipeline setup; treated as a defect.
	ErrConfiguration = errors.New("pipeline misconfigured")
	// ErrAction marks an unexpected fault raised inside an Action.
	ErrAction = errors.New("action fault")
)

// Keys shared between actions and callers.
const (
	MetaDuplicate   = "duplicate"
	MetaDuplicateOf = "duplicate_of"
	MetaMimeType    = "mime_type"
	MetaSize        = "size"
	MetaExtension   = "extension"
	MetaWidth       = "width"
	MetaHeight      = "height"
	MetaOriginal    = "original_filename"

	StateContentHash = "content_hash"
	StateFilename    = "filename"
	StateTargetPath  = "target_path"

	ConfigDuplicateStrategy = "duplicate_strategy"
	ConfigSource            = "source"
	ConfigTags              = "tags"
)

// Retryable reports whether a failed run may succeed if attempted again.
func (f *Failure) Retryable() bool {
	return errors.Is(f.Err, ErrStorage)
}
