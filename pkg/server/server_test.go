package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/systemstart/shipyard/pkg/processing"
)

type dispatchRecorder struct {
	mu     sync.Mutex
	events []processing.Event
}

func (d *dispatchRecorder) dispatch(event processing.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *dispatchRecorder) dispatched() []processing.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

func newTestServer(t *testing.T) (*httptest.Server, *dispatchRecorder, *processing.RunStore) {
	t.Helper()
	rec := &dispatchRecorder{}
	store := processing.NewRunStore(0)
	srv := New(Config{
		Dispatch: rec.dispatch,
		Jobs:     []string{"build", "Run tests"},
		Store:    store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("shipyard_job_runs_total 0\n"))
		}),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, rec, store
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestGitPushHook(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/hooks/git-push", `{"ref":"refs/heads/main"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}

	want := []processing.Event{{Kind: processing.EventGitPush, Ref: "refs/heads/main"}}
	if diff := cmp.Diff(want, rec.dispatched()); diff != "" {
		t.Errorf("dispatched events mismatch (-want +got):\n%s", diff)
	}

	var accepted AcceptedResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.Event.Ref != "refs/heads/main" {
		t.Errorf("unexpected response: %s", body)
	}
}

func TestGitPushHook_BadRequests(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"invalid json", `{"ref":`, "couldn't decode request body"},
		{"missing ref", `{}`, "ref is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+"/hooks/git-push", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			var errResp ErrorResponse
			if err := json.Unmarshal(body, &errResp); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(errResp.Error, tt.errMsg) {
				t.Errorf("unexpected error %q", errResp.Error)
			}
		})
	}

	if events := rec.dispatched(); len(events) != 0 {
		t.Errorf("nothing may be dispatched, got %v", events)
	}
}

func TestRunJob(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, ts.URL+"/jobs/Run%20tests/run", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	want := []processing.Event{{Kind: processing.EventManual, Jobs: []string{"Run tests"}}}
	if diff := cmp.Diff(want, rec.dispatched()); diff != "" {
		t.Errorf("dispatched events mismatch (-want +got):\n%s", diff)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/jobs/deploy/run", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}

func TestRuns(t *testing.T) {
	ts, _, store := newTestServer(t)
	store.Add(&processing.JobRun{ID: "1", Job: "build", State: processing.StateSucceeded})
	store.Add(&processing.JobRun{ID: "2", Job: "Run tests", State: processing.StateFailed, ErrorKind: "ScriptFailure"})

	resp, body := do(t, http.MethodGet, ts.URL+"/runs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var runs []processing.JobRun
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "2" {
		t.Errorf("expected newest first, got %+v", runs)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/runs?job=build", "")
	runs = nil
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Job != "build" {
		t.Errorf("unexpected filtered runs: %+v", runs)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/runs/2", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"errorKind":"ScriptFailure"`) {
		t.Errorf("unexpected run response %d: %s", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/runs/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("unexpected health response %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "shipyard_job_runs_total") {
		t.Errorf("unexpected metrics response %d: %s", resp.StatusCode, body)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := New(Config{Dispatch: func(processing.Event) {}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
