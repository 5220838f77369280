// Package apperr описывает типизированные ошибки леджера, пригодные для показа пользователю.
package apperr

import "fmt"

// Kind задаёт класс ошибки.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindNotFound
	KindProcessor
	KindStore
	KindInsufficientBalance
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindProcessor:
		return "processor"
	case KindStore:
		return "store"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error описывает ошибку с классом и машинным кодом.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New создаёт ошибку-образец, с которой сравнивают через errors.Is.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает ошибки по классу и коду, чтобы образцы совпадали с их копиями.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// With возвращает копию ошибки с другим сообщением и причиной.
func (e *Error) With(message string, cause error) *Error {
	c := *e
	if message != "" {
		c.Message = message
	}
	c.Err = cause
	return &c
}

// Wrap привязывает причину к ошибке-образцу, сохраняя сообщение.
func (e *Error) Wrap(cause error) *Error {
	return e.With("", cause)
}

// Store оборачивает ошибку хранилища в общую ошибку без подробностей для пользователя.
func Store(cause error) *Error {
	return &Error{Kind: KindStore, Code: "store_error", Message: "ledger storage failure", Err: cause}
}

// Forbidden возвращается при недостаточных правах.
var Forbidden = New(KindAuthorization, "forbidden", "administrator privileges required")
