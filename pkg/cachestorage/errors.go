package cachestorage

import "errors"

// Operation results. A nil error is OK.
var (
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("exists")
	ErrStorage       = errors.New("storage error")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeExists
	CodeStorage
	CodeQuotaExceeded
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not_found"
	case CodeExists:
		return "exists"
	case CodeQuotaExceeded:
		return "quota_exceeded"
	default:
		return "storage_error"
	}
}

// ErrorCode maps err to its Code. Unknown errors are CodeStorage.
func ErrorCode(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrExists):
		return CodeExists
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	default:
		return CodeStorage
	}
}
