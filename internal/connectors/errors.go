package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout оборачивается всеми отказами по дедлайну исходящего вызова.
var ErrTimeout = errors.New("downstream timeout")

// DownstreamError — отказ downstream. Message уходит клиенту как есть.
type DownstreamError struct {
	Downstream string
	Status     int // HTTP-статус; 0, если ответа не было
	Message    string
	Err        error

	// transport=true: сбой канала (сеть, 5xx, таймаут, битый кадр), а не
	// осмысленный отказ провайдера. Считается Circuit Breaker'ом.
	transport bool
}

func (e *DownstreamError) Error() string { return e.Message }

func (e *DownstreamError) Unwrap() error { return e.Err }

// IsTransport сообщает, является ли отказ сбоем канала.
func (e *DownstreamError) IsTransport() bool { return e.transport }

// ThrottleError — downstream ответил 429; RetryAfter взят из заголовка Retry-After.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

func providerError(name string, status int, msg string) *DownstreamError {
	return &DownstreamError{Downstream: name, Status: status, Message: msg}
}

func transportError(name string, status int, msg string, err error) *DownstreamError {
	return &DownstreamError{Downstream: name, Status: status, Message: msg, Err: err, transport: true}
}

func statusError(name string, status int) *DownstreamError {
	msg := fmt.Sprintf("Downstream error (%d)", status)
	if status >= 500 {
		return transportError(name, status, msg, nil)
	}
	return providerError(name, status, msg)
}
