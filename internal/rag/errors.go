package rag

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuestion   = errors.New("rag: question is empty")
	ErrEmptyCompletion = errors.New("rag: model returned an empty completion")
)

// GenerationError marks a failure of the language-model collaborator.
// Callers must not show Err to end users.
type GenerationError struct {
	Err error
}

// Error описывает сбой генерации
func (e *GenerationError) Error() string { return fmt.Sprintf("rag: generation failed: %v", e.Err) }

// Unwrap возвращает исходную ошибку
func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationFailure reports whether err (or anything it wraps) is a GenerationError.
func IsGenerationFailure(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
