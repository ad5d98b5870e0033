package compile

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable matches any dataset fetch failure.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrSerialization matches any failure to encode a dataset token.
	ErrSerialization = errors.New("serialization failed")
)

// DataUnavailableError reports that a dataset could not be fetched.
type DataUnavailableError struct {
	Dataset string
	Err     error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Dataset, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// SerializationError reports that a token value could not be encoded.
type SerializationError struct {
	Token string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s: %v", e.Token, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}
