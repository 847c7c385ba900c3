package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/darkwatch/internal/model"
	"github.com/nao1215/darkwatch/internal/quarantine"
)

// writeQuarantine stores contents under root the way the quarantine does
// and writes a manifest listing them.
func writeQuarantine(t *testing.T, root string, contents ...string) []string {
	t.Helper()

	dir := filepath.Join(root, "f1", "0123456789abcdef")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}

	var paths []string
	var manifest strings.Builder
	for _, c := range contents {
		storedName, data, sum := quarantine.Neutralize([]byte(c), "file.bin")
		path := filepath.Join(dir, storedName)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		rec := model.QuarantineRecord{
			ForumKey:   "f1",
			StoredName: storedName,
			StoredPath: path,
			SHA256:     sum,
			Size:       int64(len(data)),
			SourceURL:  "http://example.test/" + storedName,
			FetchedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		line, err := json.Marshal(rec)
		if err != nil {
			t.Fatal(err)
		}
		manifest.Write(line)
		manifest.WriteByte('\n')
		paths = append(paths, path)
	}
	if err := os.WriteFile(filepath.Join(root, quarantine.ManifestName), []byte(manifest.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return paths
}

func TestRunVerifyCmd(t *testing.T) {
	t.Parallel()

	t.Run("intact quarantine", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeQuarantine(t, root, "first", "second")

		stdout, _, err := executeRoot("verify", "-q", root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "Checked 2 files: 2 ok, 0 problems") {
			t.Errorf("unexpected output %q", stdout)
		}
	})

	t.Run("tampered and missing files", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		paths := writeQuarantine(t, root, "first", "second", "third")
		if err := os.WriteFile(paths[0], []byte("FIRST"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Remove(paths[1]); err != nil {
			t.Fatal(err)
		}

		stdout, _, err := executeRoot("verify", "-q", root)
		if !errors.Is(err, errVerifyFailed) {
			t.Fatalf("expected errVerifyFailed, got %v", err)
		}
		for _, want := range []string{"1 ok, 2 problems", "[" + quarantine.ProblemMismatch + "]", "[" + quarantine.ProblemMissing + "]"} {
			if !strings.Contains(stdout, want) {
				t.Errorf("expected %q in output %q", want, stdout)
			}
		}
	})

	t.Run("json output", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		paths := writeQuarantine(t, root, "payload")
		if err := os.Truncate(paths[0], 3); err != nil {
			t.Fatal(err)
		}

		stdout, _, err := executeRoot("verify", "-q", root, "--json")
		if !errors.Is(err, errVerifyFailed) {
			t.Fatalf("expected errVerifyFailed, got %v", err)
		}
		var res quarantine.VerifyResult
		if err := json.Unmarshal([]byte(stdout), &res); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, stdout)
		}
		if res.Checked != 1 || len(res.Problems) != 1 || res.Problems[0].Kind != quarantine.ProblemSize {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("missing manifest", func(t *testing.T) {
		t.Parallel()
		if _, _, err := executeRoot("verify", "-q", t.TempDir()); err == nil {
			t.Error("expected an error without a manifest")
		}
	})
}
