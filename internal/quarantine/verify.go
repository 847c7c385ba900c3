package quarantine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/darkwatch/internal/jsonl"
	"github.com/nao1215/darkwatch/internal/model"
)

// Problem kinds reported by Verify.
const (
	ProblemMissing  = "missing"
	ProblemMismatch = "hash_mismatch"
	ProblemSize     = "size_mismatch"
	ProblemSuffix   = "missing_suffix"
)

// Problem is one manifest entry that does not match the disk.
type Problem struct {
	Kind   string                 `json:"kind"`
	Record model.QuarantineRecord `json:"record"`
	Detail string                 `json:"detail,omitempty"`
}

// VerifyResult summarises a manifest check.
type VerifyResult struct {
	Checked  int       `json:"checked"`
	OK       int       `json:"ok"`
	Problems []Problem `json:"problems,omitempty"`
}

// Verify rehashes every file named in the manifest under root.
func Verify(root string) (*VerifyResult, error) {
	manifestPath := filepath.Join(root, ManifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	records, err := jsonl.ReadFile[model.QuarantineRecord](manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	res := &VerifyResult{}
	for _, rec := range records {
		res.Checked++
		if p := verifyRecord(rec); p != nil {
			res.Problems = append(res.Problems, *p)
			continue
		}
		res.OK++
	}
	return res, nil
}

func verifyRecord(rec model.QuarantineRecord) *Problem {
	if filepath.Ext(rec.StoredPath) != Suffix {
		return &Problem{Kind: ProblemSuffix, Record: rec}
	}
	info, err := os.Stat(rec.StoredPath)
	if errors.Is(err, os.ErrNotExist) {
		return &Problem{Kind: ProblemMissing, Record: rec}
	}
	if err != nil {
		return &Problem{Kind: ProblemMissing, Record: rec, Detail: err.Error()}
	}
	if info.Size() != rec.Size {
		return &Problem{Kind: ProblemSize, Record: rec, Detail: fmt.Sprintf("%d bytes on disk", info.Size())}
	}
	same, err := sameContent(rec.StoredPath, rec.SHA256)
	if err != nil {
		return &Problem{Kind: ProblemMismatch, Record: rec, Detail: err.Error()}
	}
	if !same {
		return &Problem{Kind: ProblemMismatch, Record: rec}
	}
	return nil
}
