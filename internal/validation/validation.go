// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/mmeshcher/courseplatform/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct проверяет структуру по тегам validate. Ошибка оборачивает model.ErrValidation
// и перечисляет поля, не прошедшие проверку.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(fields, ", "))
}

// CourseInput проверяет поля курса после удаления пробелов по краям.
func CourseInput(in *model.CourseInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	return Struct(in)
}

// Slugify строит адрес курса из названия.
func Slugify(title string) string {
	s := slug.Make(title)
	if s == "" {
		return "course"
	}
	return s
}

// IsValidEnrollmentID проверяет, что идентификатор записи на курс является UUID.
func IsValidEnrollmentID(id string) bool {
	return uuid.Validate(id) == nil
}

// IsValidLogin проверяет логин: непустой, без пробелов, не длиннее 64 символов.
func IsValidLogin(login string) bool {
	if login == "" || len(login) > 64 {
		return false
	}
	return !strings.ContainsAny(login, " \t\r\n")
}
