package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// startRunHandler handles POST /scenarios/:id/runs (§4.6). The request body
// carries the scenario's fixed inputs; there is no separate scenario-create
// endpoint, so the initial CanonicalState is built here before the
// scheduler's two-pass pipeline (§4.3) takes over.
func (s *Server) startRunHandler(c *echo.Context) error {
	scenarioID := c.Param("id")
	if scenarioID == "" {
		return mapError(&InputError{Field: "id", Err: fmt.Errorf("scenario id is required")})
	}

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return mapError(&InputError{Field: "body", Err: err})
	}

	if cached, err := s.replayIdempotent(c, "POST /scenarios/:id/runs"); err != nil {
		return err
	} else if cached {
		return nil
	}

	if len(req.IntakeAnswers) == 0 {
		return c.JSON(http.StatusOK, &RequiredInputsResponse{
			Message:        "intake answers are required before a run can start",
			RequiredInputs: state.RequiredIntakeQuestions,
		})
	}

	initial := state.New(scenarioID, scenarioID, req.Idea, req.Constraints, time.Now().UTC())
	initial.Inputs.IntakeAnswers = req.IntakeAnswers

	runID, err := s.scheduler.StartRun(c.Request().Context(), scenarioID, initial)
	if err != nil {
		return mapError(err)
	}

	resp := &RunResponse{RunID: runID, StreamURL: "/api/v1/runs/" + runID + "/stream"}
	return s.respondIdempotent(c, "POST /scenarios/:id/runs", http.StatusAccepted, resp)
}

// resumeRunHandler handles POST /runs/:id/resume (§4.6, §8 scenario 4):
// re-enters the initial sweep at the first agent with no recorded timing,
// not at the beginning.
func (s *Server) resumeRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if err := s.scheduler.Resume(c.Request().Context(), runID); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, &RunResponse{RunID: runID, StreamURL: "/api/v1/runs/" + runID + "/stream"})
}

// getRunHandler handles GET /runs/:id (§4.6).
func (s *Server) getRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	rec, err := s.store.GetRun(c.Request().Context(), runID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &RunStatusResponse{
		Status:          rec.Status,
		CheckpointIndex: rec.LastCheckpoint,
		FailureCause:    rec.FailureCause,
	})
}

// streamRunHandler handles GET /runs/:id/stream (§4.5, §4.6): replays the
// backlog after the client's Last-Event-ID (0 if absent or unparsable),
// then streams live events as they're published, catch-up-then-live over
// text/event-stream.
func (s *Server) streamRunHandler(c *echo.Context) error {
	runID := c.Param("id")

	afterSeq := int64(0)
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		if parsed, err := strconv.ParseInt(last, 10, 64); err == nil {
			afterSeq = parsed
		}
	}

	sub, backlog, err := s.bus.Subscribe(c.Request().Context(), runID, afterSeq)
	if err != nil {
		return mapError(err)
	}
	defer s.bus.Unsubscribe(runID, sub)

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range backlog {
		if err := writeSSEEvent(w, ev.Seq, ev.Type, ev.Data); err != nil {
			return nil
		}
	}
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Lagged():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, ev.Seq, ev.Type, ev.Data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeSSEEvent(w *echo.Response, seq int64, typ events.Type, data json.RawMessage) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, data)
	return err
}
