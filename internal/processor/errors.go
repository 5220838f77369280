package processor

import (
	"errors"
	"fmt"
)

// Коды ошибок, которые формирует сам клиент.
const (
	CodeNotConfigured = "not_configured"
	CodeTransport     = "transport_error"
	CodeTimeout       = "timeout"
	CodeDecode        = "decode_error"
)

// Error является единственным типом ошибки, возвращаемым клиентом процессора.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("processor error %s (status %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("processor error %s: %s", e.Code, e.Message)
}

// IsNotConfigured сообщает, что процессор не настроен (нет секретного ключа).
func IsNotConfigured(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == CodeNotConfigured
}
