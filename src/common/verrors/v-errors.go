package vox_err

import (
	"errors"
	"fmt"
)

// Code is the wire-visible error taxonomy. Every code is reported back to the
// originating connection as a typed error event; none of them tear the
// connection down.
type Code string

const (
	CodeUnauthorized      Code = "Unauthorized"
	CodeInvalidTransition Code = "InvalidTransition"
	CodePeerUnreachable   Code = "PeerUnreachable"
	CodeAlreadyInProgress Code = "AlreadyInProgress"
	CodeNotFound          Code = "NotFound"
	CodeInternal          Code = "Internal"
)

type VoxError struct {
	Code    Code
	ErrId   string
	Message string
}

func (e *VoxError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Code, e.ErrId, e.Message)
}

func New(code Code, id string, format string, args ...interface{}) *VoxError {
	return &VoxError{
		Code:    code,
		ErrId:   id,
		Message: fmt.Sprintf(format, args...),
	}
}

func Unauthorized(id string, format string, args ...interface{}) *VoxError {
	return New(CodeUnauthorized, id, format, args...)
}

func InvalidTransition(id string, format string, args ...interface{}) *VoxError {
	return New(CodeInvalidTransition, id, format, args...)
}

func PeerUnreachable(id string, format string, args ...interface{}) *VoxError {
	return New(CodePeerUnreachable, id, format, args...)
}

func AlreadyInProgress(id string, format string, args ...interface{}) *VoxError {
	return New(CodeAlreadyInProgress, id, format, args...)
}

func NotFound(id string, format string, args ...interface{}) *VoxError {
	return New(CodeNotFound, id, format, args...)
}

// CodeOf extracts the taxonomy code from an error chain.
func CodeOf(err error) (Code, bool) {
	var ve *VoxError
	if errors.As(err, &ve) {
		return ve.Code, true
	}
	return "", false
}
