package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gtmcore/pkg/graph"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
	"github.com/codeready-toolchain/gtmcore/pkg/validatorrules"
)

// decisionSlot returns a pointer to the named decision on s, or nil if key
// isn't one of the five recognized slots (§3 Decisions).
func decisionSlot(s *state.CanonicalState, key string) *state.Decision {
	switch key {
	case "icp":
		return &s.Decisions.ICP
	case "positioning":
		return &s.Decisions.Positioning
	case "pricing":
		return &s.Decisions.Pricing
	case "channels":
		return &s.Decisions.Channels
	case "sales_motion":
		return &s.Decisions.SalesMotion
	default:
		return nil
	}
}

// selectDecisionHandler handles POST /scenarios/:id/decisions/:key/select
// (§4.6). Only this handler may write selected_option_id (§4.1 rule 3); it
// resolves the override's cascade via pkg/graph and hands the mutated state
// to the scheduler's TriggerOverride for partial rerun (§4.3, §8 scenario 3).
func (s *Server) selectDecisionHandler(c *echo.Context) error {
	scenarioID := c.Param("id")
	key := c.Param("key")

	var req SelectDecisionRequest
	if err := c.Bind(&req); err != nil {
		return mapError(&InputError{Field: "body", Err: err})
	}
	if req.SelectedOptionID == "" {
		return mapError(&InputError{Field: "selected_option_id", Err: fmt.Errorf("is required")})
	}
	if req.IsCustom && req.Justification == "" {
		return mapError(&InputError{Field: "justification", Err: fmt.Errorf("is required for a custom override")})
	}
	if cached, err := s.replayIdempotent(c, "POST /scenarios/:id/decisions/:key/select"); err != nil {
		return err
	} else if cached {
		return nil
	}

	rec, err := s.store.LatestRunForScenario(c.Request().Context(), scenarioID)
	if err != nil {
		return mapError(err)
	}
	_, current, err := s.store.Latest(c.Request().Context(), rec.RunID)
	if err != nil {
		return mapError(err)
	}

	decision := decisionSlot(current, key)
	if decision == nil {
		return mapError(&InputError{Field: "key", Err: fmt.Errorf("unknown decision key %q", key)})
	}
	found := false
	for _, opt := range decision.Options {
		if opt.OptionID == req.SelectedOptionID {
			found = true
			break
		}
	}
	if !found && !req.IsCustom {
		return mapError(&InputError{Field: "selected_option_id", Err: fmt.Errorf("option %q is not among the proposed options", req.SelectedOptionID)})
	}

	current = current.MustClone()
	current.Meta.UpdatedAt = time.Now().UTC()
	decision = decisionSlot(current, key)
	decision.SelectedOptionID = req.SelectedOptionID
	decision.Override = &state.Override{IsCustom: req.IsCustom, Justification: req.Justification}

	cascade := graph.OverrideCascade(key)
	if err := s.scheduler.TriggerOverride(c.Request().Context(), rec.RunID, scenarioID, current, cascade); err != nil {
		return mapError(err)
	}

	return s.respondIdempotent(c, "POST /scenarios/:id/decisions/:key/select", http.StatusAccepted, &RunResponse{RunID: rec.RunID, StreamURL: "/api/v1/runs/" + rec.RunID + "/stream"})
}

// completeScenarioHandler handles POST /scenarios/:id/complete (§4.6): the
// completion gate re-runs the validator with AtCompletion set and refuses to
// complete while critical contradictions remain unresolved.
func (s *Server) completeScenarioHandler(c *echo.Context) error {
	scenarioID := c.Param("id")

	rec, err := s.store.LatestRunForScenario(c.Request().Context(), scenarioID)
	if err != nil {
		return mapError(err)
	}
	_, current, err := s.store.Latest(c.Request().Context(), rec.RunID)
	if err != nil {
		return mapError(err)
	}

	contradictions := validatorrules.Validate(current, validatorrules.Options{AtCompletion: true})
	var blocking []state.Contradiction
	for _, ctr := range contradictions {
		if ctr.Severity == state.SeverityCritical {
			blocking = append(blocking, ctr)
		}
	}
	if len(blocking) > 0 {
		return c.JSON(http.StatusConflict, &BlockedResponse{
			Message:        "scenario has unresolved contradictions",
			Contradictions: blocking,
		})
	}

	return c.NoContent(http.StatusOK)
}
