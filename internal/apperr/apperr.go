// Package apperr is the error taxonomy shared by every ledger, the validator
// and the processor. HTTP handlers return it as is; ErrorHandler logs and
// renders it.
package apperr

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindStockRace  Kind = "stock_race"
	KindIntegrity  Kind = "integrity"
	KindPermission Kind = "permission"
	KindStore      Kind = "store"
	KindNotFound   Kind = "not_found"
)

type Error struct {
	Kind    Kind
	Message string
	// Details carries every collected problem for fail-soft validation.
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func StockRace(msg string) *Error {
	return &Error{Kind: KindStockRace, Message: msg}
}

func Integrity(msg string, err error) *Error {
	return &Error{Kind: KindIntegrity, Message: msg, Err: err}
}

func Permission(msg string) *Error {
	return &Error{Kind: KindPermission, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Store wraps a persistence failure. op names the failed step for logs.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindStore
// for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ToFiber converts err into the response error the fiber ErrorHandler renders.
// Store and integrity failures are surfaced generically.
func ToFiber(err error) *fiber.Error {
	var e *Error
	if !errors.As(err, &e) {
		return fiber.NewError(fiber.StatusInternalServerError, "could not complete operation")
	}
	switch e.Kind {
	case KindValidation:
		msg := e.Message
		if len(e.Details) > 0 {
			msg += ": " + strings.Join(e.Details, "; ")
		}
		return fiber.NewError(fiber.StatusBadRequest, msg)
	case KindStockRace:
		return fiber.NewError(fiber.StatusConflict, e.Message)
	case KindPermission:
		return fiber.NewError(fiber.StatusForbidden, e.Message)
	case KindNotFound:
		return fiber.NewError(fiber.StatusNotFound, e.Message)
	case KindIntegrity:
		return fiber.NewError(fiber.StatusInternalServerError, "sale could not be processed")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "could not complete operation")
	}
}

// ErrorHandler is the application's single fiber ErrorHandler. Store,
// integrity and foreign errors are logged with their cause before the
// generic response is sent.
func ErrorHandler(lg *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
			})
		}
		switch KindOf(err) {
		case KindStore, KindIntegrity:
			lg.Error("unexpected error",
				"method", c.Method(),
				"path", c.Path(),
				"kind", KindOf(err),
				"err", err,
			)
		}
		e := ToFiber(err)
		return c.Status(e.Code).JSON(fiber.Map{
			"error": e.Message,
		})
	}
}
