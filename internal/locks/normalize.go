package locks

import (
	"path/filepath"
	"strings"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Normalizer canonicalizes lock operands. The case policy is decided once at
// startup and pinned in store metadata, so every lock row in one database
// was normalized the same way.
type Normalizer struct {
	fold bool
}

// NewNormalizer builds a Normalizer for the given path policy.
func NewNormalizer(policy string) *Normalizer {
	return &Normalizer{fold: policy == config.PolicyFold}
}

// Normalize resolves file to the canonical form used as the lock key:
// absolute, symlinks resolved, forward slashes, case folded per policy.
// Paths that do not exist yet normalize through their deepest existing
// ancestor so a lock can cover a file about to be created.
func (n *Normalizer) Normalize(file string) (string, error) {
	if strings.TrimSpace(file) == "" {
		return "", types.Validationf("file path is required")
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", types.WrapError(types.KindValidation, err, "path cannot be normalized")
	}
	abs = filepath.Clean(abs)
	resolved := resolveBestEffort(abs)
	p := filepath.ToSlash(resolved)
	if n.fold {
		p = strings.ToLower(p)
	}
	return p, nil
}

// resolveBestEffort resolves symlinks in the longest existing prefix of abs
// and reattaches the non-existing remainder.
func resolveBestEffort(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	remainder := ""
	path := abs
	for {
		parent := filepath.Dir(path)
		if parent == path {
			return abs
		}
		remainder = filepath.Join(filepath.Base(path), remainder)
		path = parent
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			return filepath.Join(resolved, remainder)
		}
	}
}
