package service

import "errors"

// ErrValidationFailed is returned when input fails structural validation
var ErrValidationFailed = errors.New("validation failed")
