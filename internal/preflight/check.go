// Package preflight checks that recall can run in a project before it
// touches the datastore: the data directory is writable and has room, the
// SQLite build has FTS5, the process may open enough files, and the
// configured providers can be built.
//
//	checker := preflight.New(cfg, root)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to continue
//	}
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/recall/internal/config"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the status label.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its lowercase label.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the checks for one project.
type Checker struct {
	cfg      *config.Config
	root     string
	diskFree func(path string) (uint64, error)
	fdLimit  func() (uint64, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithDiskFree replaces the free-space probe.
func WithDiskFree(fn func(path string) (uint64, error)) Option {
	return func(c *Checker) { c.diskFree = fn }
}

// WithFileLimit replaces the open-file limit probe.
func WithFileLimit(fn func() (uint64, error)) Option {
	return func(c *Checker) { c.fdLimit = fn }
}

// New creates a checker for the project at root.
func New(cfg *config.Config, root string, opts ...Option) *Checker {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := &Checker{
		cfg:      cfg,
		root:     root,
		diskFree: statfsFree,
		fdLimit:  openFileLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DataDir is the directory the datastore lives in.
func (c *Checker) DataDir() string {
	return filepath.Dir(c.cfg.StorePath(c.root))
}

// RunAll runs every check in a fixed order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	dir := c.DataDir()
	return []CheckResult{
		c.CheckWritePermissions(dir),
		c.CheckDiskSpace(dir),
		c.CheckFTS5(ctx),
		c.CheckFileDescriptors(),
		c.CheckEmbeddings(),
		c.CheckLLM(),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary is "failed", "ready_with_warnings" or "ready".
func Summary(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckWritePermissions checks that dir, or its nearest existing parent
// when dir does not exist yet, accepts new files.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}

	target, err := existingAncestor(dir)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	f, err := os.CreateTemp(target, ".recall-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable", target)
		result.Details = err.Error()
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = dir
	if target != dir {
		result.Details = fmt.Sprintf("will be created under %s", target)
	}
	return result
}

// existingAncestor returns path or its closest parent that exists.
func existingAncestor(path string) (string, error) {
	for p := path; ; {
		info, err := os.Stat(p)
		switch {
		case err == nil && info.IsDir():
			return p, nil
		case err == nil:
			return "", fmt.Errorf("%s is not a directory", p)
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		p = parent
	}
}
