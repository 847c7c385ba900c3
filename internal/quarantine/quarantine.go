package quarantine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/darkwatch/internal/fetch"
	"github.com/nao1215/darkwatch/internal/jsonl"
	"github.com/nao1215/darkwatch/internal/model"
)

// ManifestName is the manifest file inside the quarantine root.
const ManifestName = "manifest.jsonl"

const threadDirChars = 16

// Recorder receives every new manifest entry, for example to mirror it into
// the relational store. A Recorder failure is logged and does not undo the
// stored file.
type Recorder func(ctx context.Context, rec *model.QuarantineRecord) error

// Quarantine stores attachments under one root directory. It is safe for
// concurrent use by several forums.
type Quarantine struct {
	root     string
	policy   Policy
	manifest *jsonl.Writer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	perThread map[string]int
	stored    []string
}

// Option configures a Quarantine.
type Option func(*Quarantine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Quarantine) {
		q.logger = logger
	}
}

// WithRecorder sets the Recorder.
func WithRecorder(r Recorder) Option {
	return func(q *Quarantine) {
		q.recorder = r
	}
}

// New opens the quarantine rooted at root and its manifest.
func New(root string, policy Policy, opts ...Option) (*Quarantine, error) {
	q := &Quarantine{
		root:      root,
		policy:    policy,
		logger:    slog.Default(),
		now:       time.Now,
		perThread: make(map[string]int),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	manifest, err := jsonl.Open(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, err
	}
	q.manifest = manifest
	return q, nil
}

// Root returns the quarantine root directory.
func (q *Quarantine) Root() string {
	return q.root
}

// Store checks ref against the policy, downloads it with dl and stores it.
// Rejections are *RejectedError values matching ErrPolicyRejected. A file
// identical to one stored by an earlier run is reported with Duplicate set
// and gets no second manifest entry.
func (q *Quarantine) Store(ctx context.Context, dl fetch.Downloader, ref model.AttachmentRef) (*model.QuarantineRecord, error) {
	threadKey := ref.ForumKey + "\x00" + ref.ThreadPermalink

	q.mu.Lock()
	count := q.perThread[threadKey]
	q.mu.Unlock()

	if err := q.policy.CheckBeforeFetch(ref, count); err != nil {
		return nil, err
	}

	res, err := dl.Download(ctx, ref.URL, q.policy.MaxSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		reason := ReasonFetchFailed
		if errors.Is(err, fetch.ErrOversizedBody) {
			reason = ReasonOversized
		}
		return nil, &RejectedError{Reason: reason, URL: ref.URL, Detail: fetch.KindLabel(err), Err: err}
	}
	if err := q.policy.CheckAfterFetch(ref, res.FinalURL, res.ContentType, int64(len(res.Body))); err != nil {
		return nil, err
	}

	name := declaredName(ref.DeclaredName, res.Filename, ref.URL)
	storedName, data, sum := Neutralize(res.Body, name)

	dir := filepath.Join(q.root, SanitizeName(ref.ForumKey), threadDir(ref))
	rec := &model.QuarantineRecord{
		ForumKey:        ref.ForumKey,
		OriginalName:    name,
		StoredName:      storedName,
		StoredPath:      filepath.Join(dir, storedName),
		SHA256:          sum,
		Size:            int64(len(data)),
		ContentType:     res.ContentType,
		SourceURL:       ref.URL,
		ThreadPermalink: ref.ThreadPermalink,
		FetchedAt:       q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if same, err := sameContent(rec.StoredPath, sum); err != nil {
		return nil, err
	} else if same {
		rec.Duplicate = true
		q.perThread[threadKey]++
		q.logger.Debug("attachment already quarantined", "path", rec.StoredPath)
		return rec, nil
	}

	if err := writeFileAtomic(dir, storedName, data); err != nil {
		return nil, err
	}
	if err := q.manifest.Append(rec); err != nil {
		_ = os.Remove(rec.StoredPath)
		return nil, fmt.Errorf("failed to append manifest entry: %w", err)
	}
	q.perThread[threadKey]++
	q.stored = append(q.stored, rec.StoredPath)

	if q.recorder != nil {
		if err := q.recorder(ctx, rec); err != nil {
			q.logger.Warn("failed to record quarantine entry", "path", rec.StoredPath, "error", err)
		}
	}
	q.logger.Info("attachment quarantined",
		"forum", rec.ForumKey,
		"name", rec.StoredName,
		"size", rec.Size,
		"sha256", rec.SHA256,
	)
	return rec, nil
}

// Stored returns the paths of the files stored by this Quarantine.
func (q *Quarantine) Stored() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.stored...)
}

// Close closes the manifest.
func (q *Quarantine) Close() error {
	return q.manifest.Close()
}

func threadDir(ref model.AttachmentRef) string {
	h := ref.ThreadHash
	if len(h) < threadDirChars {
		h = model.ThreadHash(ref.ThreadPermalink, nil)
	}
	return h[:threadDirChars]
}

// sameContent reports whether path exists and hashes to sum.
func sameContent(path, sum string) (bool, error) {
	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	got, err := hashReader(f)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return got == sum, nil
}

func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileAtomic writes data to dir/name with mode 0600 through a temporary
// file, so a crash never leaves a partial file under the final name.
func writeFileAtomic(dir, name string, data []byte) (err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if _, err = io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}
