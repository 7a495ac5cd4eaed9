package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veridia/adscan/config"
	"github.com/veridia/adscan/engine"
	"github.com/veridia/adscan/results"
)

const validConfig = `{
	"mode": "itemsOnly",
	"pairs": [{"region": "Thailand", "query": "properties"}]
}`

// blockingRunner returns a runner that waits on release before
// finishing with the given outcome.
func blockingRunner(release <-chan struct{}, report *engine.Report, err error) Runner {
	return func(ctx context.Context, cfg *config.Config) (*engine.Report, error) {
		<-release
		return report, err
	}
}

func testRegistry(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	opts.Log = slog.New(slog.DiscardHandler)
	reg := NewRegistry(context.Background(), opts)
	srv := httptest.NewServer(reg.Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJob(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]string
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func getJob(t *testing.T, srv *httptest.Server, id string) (int, Job) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/jobs/" + id)
	if err != nil {
		t.Fatalf("GET /jobs/%s: %v", id, err)
	}
	defer resp.Body.Close()
	var job Job
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
	}
	return resp.StatusCode, job
}

// waitStatus polls until the job leaves the running state.
func waitStatus(t *testing.T, srv *httptest.Server, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, job := getJob(t, srv, id)
		if code != http.StatusOK {
			t.Fatalf("GET /jobs/%s = %d", id, code)
		}
		if job.Status != StatusRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never settled")
	return Job{}
}

func TestCreate_RunsAndCompletes(t *testing.T) {
	release := make(chan struct{})
	report := &engine.Report{Completed: 2, Skipped: 1, Items: 7}
	srv := testRegistry(t, Options{Runner: blockingRunner(release, report, nil)})

	resp, created := postJob(t, srv, validConfig)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	id := created["job_id"]
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("job_id = %q", id)
	}
	if created["status"] != StatusRunning {
		t.Errorf("status = %q", created["status"])
	}

	close(release)
	job := waitStatus(t, srv, id)
	if job.Status != StatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if job.Completed != 2 || job.Skipped != 1 || job.Items != 7 {
		t.Errorf("counts = %+v", job)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestCreate_FailedRun(t *testing.T) {
	release := make(chan struct{})
	report := &engine.Report{Failures: []engine.TaskFailure{{}}}
	srv := testRegistry(t, Options{
		Runner: blockingRunner(release, report, errors.New("browser exploded")),
	})

	_, created := postJob(t, srv, validConfig)
	close(release)
	job := waitStatus(t, srv, created["job_id"])
	if job.Status != StatusFailed {
		t.Fatalf("job = %+v", job)
	}
	if !strings.Contains(job.Error, "browser exploded") {
		t.Errorf("Error = %q", job.Error)
	}
	if job.TaskFailures != 1 {
		t.Errorf("TaskFailures = %d", job.TaskFailures)
	}
}

func TestCreate_RejectsInvalidConfig(t *testing.T) {
	srv := testRegistry(t, Options{Runner: blockingRunner(nil, nil, nil)})
	resp, _ := postJob(t, srv, `{"mode": "bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCreate_SingleRunAtATime(t *testing.T) {
	release := make(chan struct{})
	srv := testRegistry(t, Options{Runner: blockingRunner(release, &engine.Report{}, nil)})

	resp, created := postJob(t, srv, validConfig)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first job status = %d", resp.StatusCode)
	}
	resp2, _ := postJob(t, srv, validConfig)
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("second job status = %d, want conflict", resp2.StatusCode)
	}

	close(release)
	waitStatus(t, srv, created["job_id"])

	// A finished run frees the slot.
	resp3, _ := postJob(t, srv, validConfig)
	if resp3.StatusCode != http.StatusAccepted {
		t.Fatalf("third job status = %d", resp3.StatusCode)
	}
}

func TestStatus_Unknown(t *testing.T) {
	srv := testRegistry(t, Options{Runner: blockingRunner(nil, nil, nil)})
	code, _ := getJob(t, srv, "job_missing")
	if code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestResults_ServedAfterCompletion(t *testing.T) {
	release := make(chan struct{})
	loaded := []results.Record{{Region: "Thailand", Query: "properties"}}
	srv := testRegistry(t, Options{
		Runner: blockingRunner(release, &engine.Report{Completed: 1}, nil),
		Results: func(cfg *config.Config) ([]results.Record, error) {
			return loaded, nil
		},
	})

	_, created := postJob(t, srv, validConfig)
	id := created["job_id"]

	// Still running: results are not served yet.
	resp, err := http.Get(srv.URL + "/results/" + id)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("running results status = %d", resp.StatusCode)
	}

	close(release)
	waitStatus(t, srv, id)

	resp, err = http.Get(srv.URL + "/results/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d", resp.StatusCode)
	}
	var records []results.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Region != "Thailand" {
		t.Fatalf("records = %+v", records)
	}
}

func TestResults_Unknown(t *testing.T) {
	srv := testRegistry(t, Options{Runner: blockingRunner(nil, nil, nil)})
	resp, err := http.Get(srv.URL + "/results/job_missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCreate_ForcesAppendMode(t *testing.T) {
	release := make(chan struct{})
	var got *config.Config
	srv := testRegistry(t, Options{
		Runner: func(ctx context.Context, cfg *config.Config) (*engine.Report, error) {
			got = cfg
			<-release
			return &engine.Report{}, nil
		},
	})
	_, created := postJob(t, srv, `{
		"pairs": [{"region": "A", "query": "b"}],
		"append_results": false
	}`)
	close(release)
	waitStatus(t, srv, created["job_id"])
	if got == nil || got.AppendResults == nil || !*got.AppendResults {
		t.Fatal("API run did not force append mode")
	}
}
