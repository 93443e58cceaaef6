package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
)

// InputError is the handler-level 4xx taxonomy member (§7): malformed
// requests and schema-rejected state, never retried by a caller. It is
// never wrapped further — handlers construct it directly from whatever
// made the request unprocessable.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "api: invalid input: " + e.Err.Error()
	}
	return "api: invalid input for " + e.Field + ": " + e.Err.Error()
}

func (e *InputError) Unwrap() error { return e.Err }

// mapError maps a handler-layer error to an echo.HTTPError: InputError and
// schema-validation errors become 400s, a missing checkpoint/run becomes a
// 404, and everything else is logged and collapsed to a 500 (§7).
func mapError(err error) *echo.HTTPError {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return echo.NewHTTPError(http.StatusBadRequest, inputErr.Error())
	}
	var schemaErr *jsonschema.ValidationError
	if errors.As(err, &schemaErr) {
		return echo.NewHTTPError(http.StatusBadRequest, "state rejected by schema: "+schemaErr.Error())
	}
	if errors.Is(err, checkpoint.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	slog.Error("unexpected handler error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
