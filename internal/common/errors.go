// errors.go определяет таксономию ошибок кассы.
// Каждая ошибка несёт код, который транспорты (бот, HTTP) отдают наружу
// в виде {code, message}. Места вызова оборачивают sentinel через %w.
package common

import "errors"

// Code: машинно-читаемый код ошибки.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeIllegalTransition  Code = "ILLEGAL_TRANSITION"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeInsufficientFunds  Code = "INSUFFICIENT_BALANCE"
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeLockTimeout        Code = "LOCK_TIMEOUT"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// Error: ошибка с кодом.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Ошибки предметной области (не ретраятся)
var (
	// ErrNotFound: неизвестный заказ, счёт, игра или правило
	ErrNotFound = &Error{Code: CodeNotFound, Message: "не найдено"}
	// ErrIllegalTransition: переход отсутствует в таблице состояний
	ErrIllegalTransition = &Error{Code: CodeIllegalTransition, Message: "недопустимый переход состояния"}
	// ErrPermissionDenied: у актора нет прав на это решение
	ErrPermissionDenied = &Error{Code: CodePermissionDenied, Message: "недостаточно прав"}
	// ErrInsufficientBalance: списание увело бы корзину в минус
	ErrInsufficientBalance = &Error{Code: CodeInsufficientFunds, Message: "недостаточно средств"}
	// ErrConfiguration: глобальное правило заполнено не полностью
	ErrConfiguration = &Error{Code: CodeConfiguration, Message: "ошибка конфигурации правил"}
	// ErrInvalidAmount: сумма ноль или отрицательная
	ErrInvalidAmount = &Error{Code: CodeInvalidAmount, Message: "сумма должна быть положительной"}
	// ErrReasonRequired: отклонение без причины
	ErrReasonRequired = &Error{Code: CodeInvalidRequest, Message: "для отклонения нужна причина"}
	// ErrInvalidRequest: прочие ошибки валидации входа
	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Message: "некорректный запрос"}
)

// Инфраструктурные ошибки (вызывающий может повторить с backoff)
var (
	// ErrLockTimeout: не дождались блокировки строки заказа
	ErrLockTimeout = &Error{Code: CodeLockTimeout, Message: "таймаут блокировки"}
	// ErrStorageUnavailable: хранилище недоступно
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable, Message: "хранилище недоступно"}
)

// ErrInternal: нарушен внутренний инвариант (битые данные и т.п.)
var ErrInternal = &Error{Code: CodeInternal, Message: "внутренняя ошибка"}

// CodeOf возвращает код первой *Error в цепочке или CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable: true только для транзиентных ошибок инфраструктуры.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeLockTimeout, CodeStorageUnavailable:
		return true
	}
	return false
}
