package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/casepilot/internal/automation/automationtest"
	"github.com/lance13c/casepilot/internal/runner"
	"github.com/lance13c/casepilot/internal/types"
)

const checkoutCode = `
- aiTap: checkout button
- aiAssert: order confirmation is shown
`

func runCase(t *testing.T, code string, attach func(*runner.Orchestrator), assertErr error) {
	t.Helper()
	f := automationtest.NewFactory()
	if assertErr != nil {
		f.Errors["Assert"] = assertErr
	}
	o, err := runner.New(types.NewCaseFromCode("checkout", "buy a mug", code), f)
	require.NoError(t, err)
	defer o.Destroy()
	attach(o)
	if err := o.Parse(); err != nil {
		return
	}
	require.NoError(t, o.Execute(context.Background()))
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsCountRuns(t *testing.T) {
	m := NewMetrics()
	runCase(t, checkoutCode, m.Attach, nil)
	runCase(t, checkoutCode, m.Attach, errors.New("no confirmation"))
	runCase(t, `- aiTap: {}`, m.Attach, nil)

	body := scrape(t, m)
	assert.Contains(t, body, `casepilot_cases_total{status="completed"} 1`)
	assert.Contains(t, body, `casepilot_cases_total{status="failed"} 1`)
	assert.Contains(t, body, `casepilot_steps_total{status="success",type="aiTap"} 2`)
	assert.Contains(t, body, `casepilot_steps_total{status="failed",type="aiAssert"} 1`)
	assert.Contains(t, body, `casepilot_parse_failures_total 1`)
	assert.Contains(t, body, `casepilot_cases_running 0`)
	assert.Contains(t, body, `casepilot_step_duration_seconds_count{type="aiTap"} 2`)
}

func TestStreamDeliversEvents(t *testing.T) {
	stream := NewStream()
	srv := httptest.NewServer(stream)
	defer srv.Close()
	defer stream.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return stream.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	runCase(t, checkoutCode, stream.Attach, nil)

	var names []runner.EventName
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(names) < 8 {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		names = append(names, msg.Type)
		if msg.Type == runner.EventStepCompleted {
			require.NotNil(t, msg.Step)
			assert.Equal(t, types.StepSuccess, msg.Step.Status)
		}
	}
	assert.Equal(t, []runner.EventName{
		runner.EventCaseParsed,
		runner.EventCaseStatusChanged,
		runner.EventStepStarted,
		runner.EventStepCompleted,
		runner.EventStepStarted,
		runner.EventStepCompleted,
		runner.EventCaseStatusChanged,
		runner.EventCaseExecutionFinished,
	}, names)
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	s := NewServer(NewMetrics(), NewStream())
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "casepilot_cases_running")
}
