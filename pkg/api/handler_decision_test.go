package api

import (
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

func blockedScenario(t *testing.T) (*Server, *checkpoint.Store, string, string) {
	t.Helper()
	s, store := testServer(t)
	c, rec := newCtx(s, http.MethodPost, "/api/v1/scenarios/scn_1/runs",
		`{"idea":{"name":"n","one_liner":"o","problem":"p","region":"us","category":"b2b_saas"},
		  "constraints":{"team_size":2,"timeline_weeks":8,"budget_usd":50000,"compliance_level":"low"},
		  "intake_answers":[{"question_id":"company_type","question":"q","answer":"startup"}]}`)
	c.SetParamNames("id")
	c.SetParamValues("scn_1")
	require.NoError(t, s.startRunHandler(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunResponse
	decodeJSON(t, rec.Body.Bytes(), &resp)
	rr := waitForTerminal(t, store, resp.RunID)
	require.Equal(t, checkpoint.RunStatusBlocked, rr.Status)
	return s, store, "scn_1", resp.RunID
}

func seedICPOptions(t *testing.T, store *checkpoint.Store, runID string) {
	t.Helper()
	_, current, err := store.Latest(t.Context(), runID)
	require.NoError(t, err)
	current = current.MustClone()
	current.Decisions.ICP.Options = []state.DecisionOption{{OptionID: "opt_a", Label: "A"}}
	_, err = store.Append(t.Context(), runID, current.Meta.ScenarioID, current)
	require.NoError(t, err)
}

func TestSelectDecisionHandler_MissingSelectedOptionID(t *testing.T) {
	s, _, scenarioID, _ := blockedScenario(t)
	c, _ := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/decisions/icp/select", `{}`)
	c.SetParamNames("id", "key")
	c.SetParamValues(scenarioID, "icp")

	err := s.selectDecisionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSelectDecisionHandler_CustomWithoutJustification(t *testing.T) {
	s, _, scenarioID, _ := blockedScenario(t)
	c, _ := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/decisions/icp/select",
		`{"selected_option_id":"opt_custom","is_custom":true}`)
	c.SetParamNames("id", "key")
	c.SetParamValues(scenarioID, "icp")

	err := s.selectDecisionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSelectDecisionHandler_UnknownKey(t *testing.T) {
	s, _, scenarioID, _ := blockedScenario(t)
	c, _ := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/decisions/bogus/select",
		`{"selected_option_id":"opt_a"}`)
	c.SetParamNames("id", "key")
	c.SetParamValues(scenarioID, "bogus")

	err := s.selectDecisionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSelectDecisionHandler_OptionNotProposed(t *testing.T) {
	s, store, scenarioID, runID := blockedScenario(t)
	seedICPOptions(t, store, runID)

	c, _ := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/decisions/icp/select",
		`{"selected_option_id":"opt_nonexistent"}`)
	c.SetParamNames("id", "key")
	c.SetParamValues(scenarioID, "icp")

	err := s.selectDecisionHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestSelectDecisionHandler_ValidSelectionResumesRun(t *testing.T) {
	s, store, scenarioID, runID := blockedScenario(t)
	seedICPOptions(t, store, runID)

	c, rec := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/decisions/icp/select",
		`{"selected_option_id":"opt_a"}`)
	c.SetParamNames("id", "key")
	c.SetParamValues(scenarioID, "icp")

	require.NoError(t, s.selectDecisionHandler(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunResponse
	decodeJSON(t, rec.Body.Bytes(), &resp)
	require.Equal(t, runID, resp.RunID)
	waitForTerminal(t, store, runID)
}

func TestCompleteScenarioHandler_BlocksOnContradictions(t *testing.T) {
	s, _, scenarioID, _ := blockedScenario(t)
	c, rec := newCtx(s, http.MethodPost, "/api/v1/scenarios/"+scenarioID+"/complete", "")
	c.SetParamNames("id")
	c.SetParamValues(scenarioID)

	require.NoError(t, s.completeScenarioHandler(c))
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp BlockedResponse
	decodeJSON(t, rec.Body.Bytes(), &resp)
	require.NotEmpty(t, resp.Contradictions)
}
