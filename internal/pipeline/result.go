package pipeline

import (
	"github.com/timmy/mediavault/internal/domain"
)

// Result is the outcome of one Action: *Continue, *Success or *Failure.
type Result interface {
	Terminal() bool
	result()
}

// Continue hands a derived Context to the next Action.
type Continue struct {
	Context *Context
}

// Success ends the pipeline with a stored (or already existing) record.
type Success struct {
	Record   *domain.Media
	Path     string
	URL      string
	Filename string
	Size     int64
	MimeType string
	Metadata map[string]any
}

// Failure ends the pipeline with an error message and per-key details.
type Failure struct {
	Message string
	Errors  map[string]string
	// Err carries the sentinel class (ErrValidation, ErrStorage, ...) for errors.Is.
	Err error
}

func (*Continue) Terminal() bool { return false }
func (*Success) Terminal() bool  { return true }
func (*Failure) Terminal() bool  { return true }

func (*Continue) result() {}
func (*Success) result()  {}
func (*Failure) result()  {}

// Next wraps c in a Continue result.
func Next(c *Context) *Continue {
	return &Continue{Context: c}
}

// Duplicate reports whether the Success reused an existing record.
func (s *Success) Duplicate() bool {
	dup, _ := s.Metadata[MetaDuplicate].(bool)
	return dup
}

// Error implements error so a Failure can be returned or wrapped directly.
func (f *Failure) Error() string {
	return f.Message
}

// Unwrap exposes the failure class.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail builds a Failure of the given class.
func Fail(class error, message string, errs map[string]string) *Failure {
	if errs == nil {
		errs = map[string]string{}
	}
	return &Failure{Message: message, Errors: errs, Err: class}
}
