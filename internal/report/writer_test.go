package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/pipeline"
)

func testRun() *Run {
	start := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

	done := model.NewCheckpoint("run-1", "f1")
	done.State = model.StateDone
	done.Counters = model.Counters{
		PagesFetched:           12,
		ThreadsDiscovered:      4,
		PostsExtracted:         1500,
		PostsDuplicate:         3,
		IndicatorsFound:        7,
		AttachmentsQuarantined: 2,
	}
	done.Counters.AddRejection("oversized_body")
	done.Counters.AddError("network")

	aborted := model.NewCheckpoint("run-1", "f2")
	aborted.State = model.StateAborted
	aborted.AbortReason = "11 consecutive page failures"
	aborted.Counters.AddError("http_status")
	aborted.Counters.AddError("http_status")

	summary := &pipeline.Summary{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Forums: []pipeline.Outcome{
			{Forum: "f1", Engine: config.EngineProtocol, Checkpoint: done},
			{Forum: "f2", Engine: config.EngineRendering, Checkpoint: aborted},
			{Forum: "f3", Engine: config.EngineProtocol, Err: context.Canceled},
		},
	}
	return FromSummary(summary, "v1.0.0", Outputs{PostLog: "/out/crawl.jsonl", Database: "/out/crawl.db"})
}

func TestFromSummary(t *testing.T) {
	t.Parallel()

	r := testRun()
	if len(r.Forums) != 3 {
		t.Fatalf("expected 3 forums, got %d", len(r.Forums))
	}
	if r.Forums[1].AbortReason == "" || r.Forums[1].State != model.StateAborted {
		t.Errorf("aborted forum = %+v", r.Forums[1])
	}
	if r.Forums[2].State != model.StatePending || r.Forums[2].Error != context.Canceled.Error() {
		t.Errorf("forum without checkpoint = %+v", r.Forums[2])
	}
	if r.Totals.TotalErrors() != 3 || r.Totals.PostsExtracted != 1500 {
		t.Errorf("totals = %+v", r.Totals)
	}
	if r.Aborted() != 1 {
		t.Errorf("aborted = %d", r.Aborted())
	}
	if r.Elapsed() != 90*time.Second {
		t.Errorf("elapsed = %s", r.Elapsed())
	}
}

func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes forums and totals", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(testRun()); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{
			"DARKWATCH CRAWL SUMMARY",
			"run-1",
			"f1 [protocol-client] DONE",
			"f2 [rendering-engine] ABORTED",
			"Abort reason: 11 consecutive page failures",
			"1,500",
			"Indicators found:",
			"Rejected oversized_body:",
			"Errors http_status:",
			"TOTAL (3 forums, 1 aborted)",
			"/out/crawl.db",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q\n%s", want, out)
			}
		}
	})

	t.Run("hides zero counters unless verbose", func(t *testing.T) {
		t.Parallel()

		var quiet, verbose bytes.Buffer
		r := testRun()
		if _, err := NewSimpleWriter(&quiet).Write(r); err != nil {
			t.Fatal(err)
		}
		if _, err := NewSimpleWriter(&verbose, WithVerbose(true)).Write(r); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(quiet.String(), "Missing fields:") {
			t.Error("zero counter shown without verbose")
		}
		if !strings.Contains(verbose.String(), "Missing fields:") {
			t.Error("zero counter hidden in verbose mode")
		}
	})

	t.Run("database totals only with a database", func(t *testing.T) {
		t.Parallel()

		var without bytes.Buffer
		if _, err := NewSimpleWriter(&without).Write(testRun()); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(without.String(), "DATABASE") {
			t.Error("database section shown without a database")
		}

		r := testRun()
		r.Stored = &Stored{Posts: 12345, Quarantined: 4, Indicators: map[string]int{"email": 3, "bitcoin": 1}}
		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(r); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"DATABASE (all runs)", "12,345", "Quarantine records:", "Indicators bitcoin:", "Indicators email:"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q\n%s", want, out)
			}
		}
		if strings.Index(out, "Indicators bitcoin:") > strings.Index(out, "Indicators email:") {
			t.Error("indicator kinds are not sorted")
		}
	})

	t.Run("marks interrupted runs", func(t *testing.T) {
		t.Parallel()

		r := testRun()
		r.Interrupted = true
		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(r); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "INTERRUPTED") {
			t.Error("interrupted status missing")
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("round trips", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(testRun()); err != nil {
			t.Fatal(err)
		}
		var got Run
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if got.RunID != "run-1" || len(got.Forums) != 3 || got.Forums[0].Counters.PostsExtracted != 1500 {
			t.Errorf("unexpected decoded run %+v", got)
		}
		if got.Totals.AttachmentsRejected["oversized_body"] != 1 {
			t.Errorf("rejections = %v", got.Totals.AttachmentsRejected)
		}
	})

	t.Run("compact by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(testRun()); err != nil {
			t.Fatal(err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("compact output should be a single line")
		}
	})

	t.Run("pretty print", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(testRun()); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "\n  \"run_id\"") {
			t.Errorf("expected indented output, got %s", buf.String())
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	r := testRun()
	r.Stored = &Stored{Posts: 10, Quarantined: 2, Indicators: map[string]int{"cve": 5}}
	var buf bytes.Buffer
	if _, err := NewMarkdownWriter(&buf).Write(r); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"# DarkWatch Crawl Summary",
		"## Forums",
		"`f1`",
		"**Total**",
		"## Rejected Attachments",
		"mermaid",
		"## Errors",
		"http_status",
		"## Database",
		"Indicators: cve",
		"v1.0.0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, ok := NewWriter(FormatText, &buf).(*SimpleWriter); !ok {
		t.Error("text format should use SimpleWriter")
	}
	if _, ok := NewWriter(FormatJSON, &buf).(*JSONWriter); !ok {
		t.Error("json format should use JSONWriter")
	}
	if _, ok := NewWriter(FormatMarkdown, &buf).(*MarkdownWriter); !ok {
		t.Error("markdown format should use MarkdownWriter")
	}
	if _, ok := NewWriter("unknown", &buf).(*SimpleWriter); !ok {
		t.Error("unknown format should fall back to SimpleWriter")
	}
}

type failingWriter struct{}

func (failingWriter) Write(*Run) (int, error) { return 0, errors.New("closed") }

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	n, err := NewMultiWriter(NewSimpleWriter(&a), NewJSONWriter(&b)).Write(testRun())
	if err != nil {
		t.Fatal(err)
	}
	if n != a.Len()+b.Len() || a.Len() == 0 || b.Len() == 0 {
		t.Errorf("n=%d a=%d b=%d", n, a.Len(), b.Len())
	}

	var c bytes.Buffer
	if _, err := NewMultiWriter(failingWriter{}, NewSimpleWriter(&c)).Write(testRun()); err == nil {
		t.Error("expected error from failing writer")
	}
	if c.Len() != 0 {
		t.Error("writers after a failure should not run")
	}
}
