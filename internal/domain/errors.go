package domain

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction          = errors.New("text extraction failed")
	ErrDuplicate           = errors.New("duplicate document")
	ErrInsufficientContent = errors.New("insufficient content")
	ErrAlreadyProcessed    = errors.New("document already processed")
	ErrLLMProcessing       = errors.New("llm processing failed")
	ErrJobExecution        = errors.New("job execution failed")
	ErrNotFound            = errors.New("not found")
	ErrSourceInactive      = errors.New("data source inactive")
	ErrRobotsDisallowed    = errors.New("disallowed by robots.txt")
	ErrJobNotFound         = errors.New("job not found")
)

// NetworkError is returned once a fetch has exhausted its retries.
type NetworkError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
