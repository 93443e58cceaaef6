package api

import (
	"encoding/json"
	"errors"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
)

// idempotencyHeader is the token header creation endpoints accept; a
// re-submission with the same token returns the original response without
// re-invoking the handler's side effects (§6 Idempotency).
const idempotencyHeader = "Idempotency-Key"

// replayIdempotent checks for a cached response under the request's
// Idempotency-Key header. When found it writes the cached response directly
// and returns cached=true so the caller skips its side-effecting work;
// requests without the header always fall through (idempotency is opt-in).
func (s *Server) replayIdempotent(c *echo.Context, endpoint string) (cached bool, err error) {
	token := c.Request().Header.Get(idempotencyHeader)
	if token == "" {
		return false, nil
	}
	resp, lookupErr := s.store.LookupIdempotencyKey(c.Request().Context(), endpoint, token)
	if errors.Is(lookupErr, checkpoint.ErrNotFound) {
		return false, nil
	}
	if lookupErr != nil {
		return false, mapError(lookupErr)
	}
	return true, c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, resp.Body)
}

// respondIdempotent writes body as the JSON response and, if the request
// carried an Idempotency-Key, caches it for future replay.
func (s *Server) respondIdempotent(c *echo.Context, endpoint string, status int, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return mapError(err)
	}
	if token := c.Request().Header.Get(idempotencyHeader); token != "" {
		if err := s.store.SaveIdempotencyKey(c.Request().Context(), endpoint, token, status, raw); err != nil {
			return mapError(err)
		}
	}
	return c.Blob(status, echo.MIMEApplicationJSON, raw)
}
