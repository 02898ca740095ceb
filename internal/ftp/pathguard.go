package ftp

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Guard resolves a client-supplied path against a session's jailed root,
// rejecting any path that would escape it. A lexical-only filepath.Clean
// check is insufficient against symlinks pointing outside the root, so
// every candidate is resolved with filepath.EvalSymlinks before the
// prefix comparison.
type Guard struct {
	root string
}

// NewGuard builds a Guard rooted at root. A relative root is made
// absolute against the working directory, then its symlinks are resolved.
func NewGuard(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving jail root %s", root)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving jail root %s", root)
	}
	return &Guard{root: resolved}, nil
}

// Resolve joins cwd and requested, resolves symlinks, and verifies the
// result stays within the jailed root. cwd is relative to the root
// (e.g. "/" or "/pub"); requested may be relative or absolute within
// that same space.
func (g *Guard) Resolve(cwd, requested string) (string, error) {
	var candidate string
	if filepath.IsAbs(requested) {
		candidate = filepath.Join(g.root, requested)
	} else {
		candidate = filepath.Join(g.root, cwd, requested)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", errors.Wrap(err, "resolving path")
	}

	if resolved != g.root && !strings.HasPrefix(resolved, g.root+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes jailed root", requested)
	}

	rel, err := filepath.Rel(g.root, resolved)
	if err != nil {
		return "", errors.Wrap(err, "computing path relative to root")
	}
	return filepath.ToSlash("/" + rel), nil
}

// resolveExisting resolves symlinks along candidate, walking up to the
// nearest existing ancestor for paths that do not yet exist (e.g. a STOR
// or MKD target), then rejoining the non-existent suffix. This keeps
// symlink resolution meaningful for write operations that create a new
// path, while still catching a symlinked ancestor directory that points
// outside the jail.
func resolveExisting(candidate string) (string, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err == nil {
		return resolved, nil
	}

	dir, base := filepath.Split(candidate)
	dir = filepath.Clean(dir)
	if dir == candidate {
		return "", err
	}
	resolvedDir, dirErr := resolveExisting(dir)
	if dirErr != nil {
		return "", dirErr
	}
	return filepath.Join(resolvedDir, base), nil
}
