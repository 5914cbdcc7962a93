// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/lexers"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Kind is the origin of a source.
type Kind string

const (
	KindFolder Kind = "folder"
	KindGit    Kind = "git"
)

// DefaultMaxFileSize is the largest file ReadFile returns.
const DefaultMaxFileSize int64 = 100 * 1024

// Source is one registered file root.
type Source struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`

	// Path is the absolute root on disk. For git sources it is the clone.
	Path string `yaml:"path" json:"path"`

	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	AddedAt    int64 `yaml:"added_at" json:"addedAt"`
	LastPulled int64 `yaml:"last_pulled,omitempty" json:"lastPulled,omitempty"`
}

// FileEntry is one item of a directory listing.
type FileEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsDir    bool   `json:"isDir"`
	Size     int64  `json:"size"`
	Language string `json:"language,omitempty"`
}

// Errors returned by the registry.
var (
	ErrSourceNotFound = errors.New("source not found")
	ErrPathEscape     = errors.New("path escapes source root")
	ErrFileTooLarge   = errors.New("file too large")
	ErrNotDirectory   = errors.New("not a directory")
	ErrIsDirectory    = errors.New("path is a directory")
)

type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// =============================================================================
// REGISTRY
// =============================================================================

// Options configures a Registry.
type Options struct {
	// Path is the YAML registry file.
	Path string

	// CloneDir receives git clones, one subdirectory per source id.
	CloneDir string

	// MaxFileSize caps ReadFile (default: 100KB).
	MaxFileSize int64

	// Runner executes git. Defaults to ExecRunner.
	Runner Runner

	Logger *logger.Logger
}

// Registry holds the registered sources and resolves file reads against
// them. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	path     string
	cloneDir string
	maxSize  int64
	git      Git
	log      *logger.Logger
	sources  []Source

	// ids handed out to clones still in progress
	pending map[string]bool

	now func() time.Time
}

// Open loads the registry file at opts.Path, creating an empty registry when
// the file does not exist yet.
func Open(opts Options) (*Registry, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}

	r := &Registry{
		path:     opts.Path,
		cloneDir: opts.CloneDir,
		maxSize:  opts.MaxFileSize,
		git:      Git{Runner: opts.Runner},
		log:      logger.OrNop(opts.Logger).Component("sources"),
		pending:  make(map[string]bool),
		now:      time.Now,
	}

	data, err := os.ReadFile(opts.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("read source registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source registry %s: %w", opts.Path, err)
	}
	r.sources = file.Sources
	return r, nil
}

// List returns the sources ordered by id.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(id); i >= 0 {
		return r.sources[i], nil
	}
	return Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
}

// AddFolder registers an existing local directory.
func (r *Registry) AddFolder(path, name string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Source{}, fmt.Errorf("add folder: %w", err)
	}
	if !info.IsDir() {
		return Source{}, fmt.Errorf("add folder %s: %w", abs, ErrNotDirectory)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src := Source{
		ID:      r.newIDLocked("folder"),
		Name:    name,
		Kind:    KindFolder,
		Path:    abs,
		AddedAt: r.now().UnixMilli(),
	}
	if err := r.appendLocked(src); err != nil {
		return Source{}, err
	}

	r.log.Info("SOURCE_ADDED").Str("id", src.ID).Str("kind", string(src.Kind)).Str("path", abs).Msg("Folder source added")
	return src, nil
}

// AddGit clones a repository into the clone directory and registers it.
// The registry lock is not held while git runs.
func (r *Registry) AddGit(ctx context.Context, url, name, branch string) (Source, error) {
	if err := validateRepoURL(url); err != nil {
		return Source{}, err
	}

	r.mu.Lock()
	id := r.newIDLocked("repo")
	r.pending[id] = true
	r.mu.Unlock()

	dest := filepath.Join(r.cloneDir, id)
	err := os.MkdirAll(r.cloneDir, 0700)
	if err == nil {
		err = r.git.Clone(ctx, url, dest, branch)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)

	if err != nil {
		_ = os.RemoveAll(dest)
		r.log.Warn("SOURCE_CLONE_FAILED").Str("url", url).Err(err).Msg("Git clone failed")
		return Source{}, err
	}

	if name == "" {
		name = repoName(url)
	}
	now := r.now().UnixMilli()
	src := Source{
		ID:         id,
		Name:       name,
		Kind:       KindGit,
		Path:       dest,
		URL:        url,
		Branch:     branch,
		AddedAt:    now,
		LastPulled: now,
	}
	if err := r.appendLocked(src); err != nil {
		_ = os.RemoveAll(dest)
		return Source{}, err
	}

	r.log.Info("SOURCE_ADDED").Str("id", id).Str("kind", string(src.Kind)).Str("url", url).Msg("Repository cloned")
	return src, nil
}

// Pull updates a git source. Folder sources are left as they are.
func (r *Registry) Pull(ctx context.Context, id string) (Source, error) {
	src, err := r.Get(id)
	if err != nil {
		return Source{}, err
	}
	if src.Kind != KindGit {
		return src, nil
	}

	if err := r.git.Pull(ctx, src.Path); err != nil {
		r.log.Warn("SOURCE_PULL_FAILED").Str("id", id).Err(err).Msg("Git pull failed")
		return Source{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	r.sources[i].LastPulled = r.now().UnixMilli()
	if err := r.saveLocked(); err != nil {
		return Source{}, err
	}
	return r.sources[i], nil
}

// Remove unregisters a source. A git clone is deleted from disk; a folder
// source is never touched.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	src := r.sources[i]
	r.removeLocked(id)
	if err := r.saveLocked(); err != nil {
		return err
	}

	if src.Kind == KindGit && src.Path != "" {
		if err := os.RemoveAll(src.Path); err != nil {
			r.log.Warn("SOURCE_CLEANUP_FAILED").Str("id", id).Err(err).Msg("Could not delete clone")
		}
	}
	r.log.Info("SOURCE_REMOVED").Str("id", id).Msg("Source removed")
	return nil
}

// =============================================================================
// FILE ACCESS
// =============================================================================

// ReadFile returns the content of rel inside source id.
func (r *Registry) ReadFile(ctx context.Context, id, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := r.Get(id)
	if err != nil {
		return "", err
	}
	full, err := resolveInside(src.Path, rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", id, rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}
	if info.Size() > r.maxSize {
		return "", fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, rel, info.Size(), r.maxSize)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", id, rel, err)
	}
	return string(data), nil
}

// ListFiles lists the directory rel inside source id. Directories come
// first, then files, each alphabetically. The .git directory is hidden.
func (r *Registry) ListFiles(id, rel string) ([]FileEntry, error) {
	src, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	dir, err := resolveInside(src.Path, rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", id, rel, err)
	}

	base := strings.Trim(filepath.ToSlash(filepath.Clean("/"+rel)), "/")
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		entry := FileEntry{
			Name:  e.Name(),
			Path:  strings.TrimPrefix(base+"/"+e.Name(), "/"),
			IsDir: e.IsDir(),
		}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				entry.Size = info.Size()
			}
			entry.Language = DetectLanguage(e.Name())
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// DetectLanguage names the language of a file from its name, or "" when no
// lexer claims it.
func DetectLanguage(name string) string {
	if lexer := lexers.Match(name); lexer != nil {
		return lexer.Config().Name
	}
	return ""
}

// resolveInside joins rel onto root and rejects results outside root,
// including escapes through symlinks.
//
// SECURITY: rel comes from chat messages and HTTP query strings.
func resolveInside(root, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash("/" + rel))
	full := filepath.Join(root, cleaned)

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("source root: %w", err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", rel, os.ErrNotExist)
		}
		return "", err
	}

	relToRoot, err := filepath.Rel(realRoot, realFull)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return realFull, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (r *Registry) indexLocked(id string) int {
	for i, s := range r.sources {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) removeLocked(id string) {
	if i := r.indexLocked(id); i >= 0 {
		r.sources = append(r.sources[:i], r.sources[i+1:]...)
	}
}

func (r *Registry) appendLocked(src Source) error {
	r.sources = append(r.sources, src)
	if err := r.saveLocked(); err != nil {
		r.removeLocked(src.ID)
		return err
	}
	return nil
}

// newIDLocked returns "<prefix>_<ms>", bumping the millisecond value until
// the id is unused.
func (r *Registry) newIDLocked(prefix string) string {
	ms := r.now().UnixMilli()
	for {
		id := prefix + "_" + strconv.FormatInt(ms, 10)
		if r.indexLocked(id) < 0 && !r.pending[id] {
			return id
		}
		ms++
	}
}

func (r *Registry) saveLocked() error {
	data, err := yaml.Marshal(registryFile{Sources: r.sources})
	if err != nil {
		return fmt.Errorf("encode source registry: %w", err)
	}
	if err := util.AtomicWriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write source registry: %w", err)
	}
	return nil
}

// repoName derives a display name from a repository URL.
func repoName(url string) string {
	url = strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 && i < len(url)-1 {
		return url[i+1:]
	}
	return url
}
