// Package matcherr provides sentinel and custom error types for the matcher.
package matcherr

// ErrInvalidInput represents a request that violates the matching contract.
// Use when client input fails validation.
var ErrInvalidInput = &InvalidInputError{}

// InvalidInputError is a sentinel error for validation failures.
type InvalidInputError struct {
	Field   string
	Message string
}

// NewInvalidInput creates a new InvalidInputError with a custom message.
func NewInvalidInput(field, message string) *InvalidInputError {
	return &InvalidInputError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	if e.Message != "" {
		if e.Field != "" {
			return e.Field + ": " + e.Message
		}
		return e.Message
	}
	if e.Field != "" {
		return "invalid input for field: " + e.Field
	}
	return "invalid input"
}

// Is implements the error interface for error comparison.
func (e *InvalidInputError) Is(target error) bool {
	_, ok := target.(*InvalidInputError)
	return ok
}

// ErrExtraction represents a feature extractor failure.
var ErrExtraction = &ExtractionError{}

// ExtractionError wraps the underlying extractor error.
type ExtractionError struct {
	Modality string
	Err      error
}

// NewExtraction creates a new ExtractionError for modality.
func NewExtraction(modality string, err error) *ExtractionError {
	return &ExtractionError{Modality: modality, Err: err}
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := "feature extraction failed"
	if e.Modality != "" {
		msg = e.Modality + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the extractor error.
func (e *ExtractionError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ExtractionError) Is(target error) bool {
	_, ok := target.(*ExtractionError)
	return ok
}

// ErrStaleModel is returned internally when the text model has not been fit.
var ErrStaleModel = &StaleModelError{}

// StaleModelError is a sentinel error for an unfitted or outdated vectorizer.
type StaleModelError struct {
	Version int64
}

// Error implements the error interface.
func (e *StaleModelError) Error() string {
	if e.Version == 0 {
		return "text model not fitted"
	}
	return "text model is stale"
}

// Is implements the error interface for error comparison.
func (e *StaleModelError) Is(target error) bool {
	_, ok := target.(*StaleModelError)
	return ok
}

// ErrFeedbackPersist marks a failed feedback write or statistics update.
var ErrFeedbackPersist = &FeedbackPersistError{}

// FeedbackPersistError wraps a storage failure for feedback.
type FeedbackPersistError struct {
	Err error
}

// Error implements the error interface.
func (e *FeedbackPersistError) Error() string {
	if e.Err == nil {
		return "failed to persist feedback"
	}
	return "failed to persist feedback: " + e.Err.Error()
}

// Unwrap returns the storage error.
func (e *FeedbackPersistError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *FeedbackPersistError) Is(target error) bool {
	_, ok := target.(*FeedbackPersistError)
	return ok
}

// ErrThresholdPersist marks a failed threshold configuration write.
var ErrThresholdPersist = &ThresholdPersistError{}

// ThresholdPersistError wraps a storage failure for the threshold configuration.
type ThresholdPersistError struct {
	Err error
}

// Error implements the error interface.
func (e *ThresholdPersistError) Error() string {
	if e.Err == nil {
		return "failed to persist threshold config"
	}
	return "failed to persist threshold config: " + e.Err.Error()
}

// Unwrap returns the storage error.
func (e *ThresholdPersistError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ThresholdPersistError) Is(target error) bool {
	_, ok := target.(*ThresholdPersistError)
	return ok
}

// ErrNotFound represents a missing item.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFound creates a new NotFoundError.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "resource not found"
	}
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return e.Resource + " not found: " + e.ID
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
