package portal

import (
	"fmt"

	"github.com/pkg/errors"
)

type FailureCode string

const (
	// FailureTimeout — портал не ответил в рамках бюджета. Retryable.
	FailureTimeout FailureCode = "timeout"
	// FailureElementNotFound — ожидаемый элемент UI не появился. Retryable
	// один раз; повтор похож на смену вёрстки портала.
	FailureElementNotFound FailureCode = "element_not_found"
	// FailureValidationRejected — портал сам отклонил ввод (например,
	// неизвестный гуш/хелка). Fatal, показывается клиенту.
	FailureValidationRejected FailureCode = "validation_rejected"
	// FailureSessionError — браузер/сеть. Retryable.
	FailureSessionError FailureCode = "session_error"
)

type Error struct {
	Code    FailureCode
	Message string
	cause   error
}

func NewError(code FailureCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf достаёт классифицированный код; всё неклассифицированное считаем
// сбоем сессии (retryable).
func CodeOf(err error) FailureCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return FailureSessionError
}

// Fatal codes are never retried automatically.
func Fatal(code FailureCode) bool {
	return code == FailureValidationRejected
}
