package model

import "errors"

// Виды ошибок. Конкретные ошибки пакетов оборачивают один из них через %w,
// HTTP-слой выбирает код ответа по виду.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrExternalService = errors.New("external service error")
	ErrValidation      = errors.New("validation error")
)
