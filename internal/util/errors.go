package util

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailRegistered     = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrSessionNotFound     = errors.New("session not found")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrStepNotFound        = errors.New("step not found")
	ErrPageNotFound        = errors.New("page not found")
	ErrAnswerKeyNotFound   = errors.New("answer key not found")
	ErrInvalidAnswerKey    = errors.New("invalid answer key")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyUpload         = errors.New("uploaded file is empty")
	ErrFileTooLarge        = errors.New("uploaded file is too large")
	ErrSessionFinalised    = errors.New("session is finalised")
	ErrSessionNotReady     = errors.New("session is not ready for review")
	ErrInvalidTransition   = errors.New("invalid session status transition")
	ErrInvalidMarks        = errors.New("obtained marks out of range")
	ErrNoPages             = errors.New("no pages could be rasterized")
	ErrToolUnavailable     = errors.New("external tool unavailable")
	ErrUnparsableResponse  = errors.New("could not parse model response")
)
