package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode одновременно служит полем error.kind в JSON ответах.
type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "ValidationError"
	ErrCodeInvalidAmount      ErrorCode = "InvalidAmount"
	ErrCodeConflict           ErrorCode = "Conflict"
	ErrCodeInvalidTransition  ErrorCode = "InvalidTransition"
	ErrCodeForbidden          ErrorCode = "Forbidden"
	ErrCodeWindowExpired      ErrorCode = "WindowExpired"
	ErrCodeGatewayUnavailable ErrorCode = "GatewayUnavailable"
	ErrCodeAmountMismatch     ErrorCode = "AmountMismatch"
	ErrCodeAlreadyCaptured    ErrorCode = "AlreadyCaptured"
	ErrCodeDuplicateIntent    ErrorCode = "DuplicateIntent"
	ErrCodeDivergence         ErrorCode = "ReconciliationDivergence"

	ErrCodeNotFound      ErrorCode = "NotFound"
	ErrCodeUnauthorized  ErrorCode = "Unauthorized"
	ErrCodeRateLimited   ErrorCode = "RateLimited"
	ErrCodeInternal      ErrorCode = "InternalError"
	ErrCodeDatabaseError ErrorCode = "DatabaseError"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с сентинелами.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation, ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeAlreadyCaptured, ErrCodeDuplicateIntent:
		return http.StatusConflict
	case ErrCodeInvalidTransition, ErrCodeWindowExpired, ErrCodeAmountMismatch:
		return http.StatusUnprocessableEntity
	case ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или InternalError для неизвестных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return Is(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

func IsConflict(err error) bool {
	return Is(err, ErrCodeConflict)
}

// Retryable сообщает, имеет ли смысл клиенту повторить запрос.
func Retryable(err error) bool {
	return Is(err, ErrCodeGatewayUnavailable) || Is(err, ErrCodeConflict)
}

// MoneyGuard ошибки защиты денежных инвариантов, которые логируются с полным контекстом.
func MoneyGuard(err error) bool {
	return Is(err, ErrCodeAmountMismatch) || Is(err, ErrCodeAlreadyCaptured) || Is(err, ErrCodeDivergence)
}

var (
	ErrRequestNotFound    = New(ErrCodeNotFound, "заявка не найдена")
	ErrPaymentNotFound    = New(ErrCodeNotFound, "платёж не найден")
	ErrDisputeNotFound    = New(ErrCodeNotFound, "спор не найден")
	ErrWithdrawalNotFound = New(ErrCodeNotFound, "заявка на вывод не найдена")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
	ErrAcceptConflict     = New(ErrCodeConflict, "заявка уже изменена другим участником, обновите данные")
	ErrWindowExpired      = New(ErrCodeWindowExpired, "окно отмены истекло")
	ErrDisputeOpen        = New(ErrCodeForbidden, "по заявке открыт спор")
	ErrDisputeExists      = New(ErrCodeConflict, "спор по заявке уже открыт")
	ErrInvalidAmount      = New(ErrCodeInvalidAmount, "сумма должна быть положительной")
	ErrAlreadyCaptured    = New(ErrCodeAlreadyCaptured, "средства по заявке уже зафиксированы")
	ErrDuplicateIntent    = New(ErrCodeDuplicateIntent, "по заявке уже есть активный платёж")
	ErrGatewayUnavailable = New(ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, повторите позже")
	ErrAmountMismatch     = New(ErrCodeAmountMismatch, "сумма платежа не совпадает с ожидаемой")
)
