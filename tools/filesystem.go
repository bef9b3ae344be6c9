package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

const (
	defaultMaxReadBytes = 64 * 1024
	defaultSearchLimit  = 100
)

// validateWorkspacePath resolves targetPath against workspace and rejects
// anything that escapes it, lexically or through a symlink.
func validateWorkspacePath(workspace, targetPath string) (string, error) {
	absWorkspace, err := filepath.Abs(filepath.Clean(workspace))
	if err != nil {
		return "", fmt.Errorf("invalid workspace path: %w", err)
	}

	var absTarget string
	if filepath.IsAbs(targetPath) {
		absTarget = filepath.Clean(targetPath)
	} else {
		absTarget, err = filepath.Abs(filepath.Join(absWorkspace, targetPath))
		if err != nil {
			return "", fmt.Errorf("invalid path: %w", err)
		}
	}
	if !within(absWorkspace, absTarget) {
		return "", fmt.Errorf("path outside workspace: %s", targetPath)
	}

	realWorkspace, err := evalExisting(absWorkspace)
	if err != nil {
		return "", fmt.Errorf("invalid workspace path: %w", err)
	}
	realTarget, err := evalExisting(absTarget)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !within(realWorkspace, realTarget) {
		return "", fmt.Errorf("path outside workspace: %s", targetPath)
	}
	return absTarget, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// re-appends the part that does not exist yet.
func evalExisting(path string) (string, error) {
	missing := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, missing), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return filepath.Join(path, missing), nil
		}
		missing = filepath.Join(filepath.Base(path), missing)
		path = parent
	}
}

// RegisterFilesystemTools registers read-only file functions confined to
// workspace: read_file, list_directory, file_info and file_search.
func RegisterFilesystemTools(r *Registry, workspace string) error {
	fs := workspaceFS{root: workspace}
	functions := []*Function{
		{
			Name:        "read_file",
			Description: "Reads a text file from the workspace.",
			Parameters: llm.ObjectSchema().
				WithProperty("path", llm.StringProperty("Path relative to the workspace"), true).
				WithProperty("max_bytes", llm.IntegerProperty("Maximum bytes to read (default 65536)"), false),
			Handler: fs.readFile,
		},
		{
			Name:        "list_directory",
			Description: "Lists the entries of a workspace directory.",
			Parameters: llm.ObjectSchema().
				WithProperty("path", llm.StringProperty("Directory relative to the workspace (default \".\")"), false).
				WithProperty("include_hidden", llm.BooleanProperty("Include dot files"), false),
			Handler: fs.listDirectory,
		},
		{
			Name:        "file_info",
			Description: "Returns size, mode and modification time of a workspace path.",
			Parameters: llm.ObjectSchema().
				WithProperty("path", llm.StringProperty("Path relative to the workspace"), true),
			Handler: fs.fileInfo,
		},
		{
			Name:        "file_search",
			Description: "Finds workspace files whose name matches a glob pattern.",
			Parameters: llm.ObjectSchema().
				WithProperty("pattern", llm.StringProperty("Glob matched against file names, e.g. *.go"), true).
				WithProperty("root", llm.StringProperty("Directory to search from (default \".\")"), false).
				WithProperty("limit", llm.IntegerProperty("Maximum matches (default 100)"), false),
			Handler: fs.fileSearch,
		},
	}
	for _, fn := range functions {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	r.logger.Info().Str("workspace", workspace).Int("count", len(functions)).Msg("Registered filesystem tools")
	return nil
}

type workspaceFS struct {
	root string
}

func (w workspaceFS) resolve(args map[string]any, key, fallback string) (string, string, error) {
	rel, _ := args[key].(string)
	if rel == "" {
		rel = fallback
	}
	if rel == "" {
		return "", "", fmt.Errorf("%s is required", key)
	}
	abs, err := validateWorkspacePath(w.root, rel)
	return rel, abs, err
}

func (w workspaceFS) readFile(_ context.Context, args map[string]any) (any, error) {
	rel, path, err := w.resolve(args, "path", "")
	if err != nil {
		return nil, err
	}
	maxBytes := int64(defaultMaxReadBytes)
	if n, err := number(args, "max_bytes"); err == nil && n > 0 {
		maxBytes = int64(n)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", rel)
	}
	f, err := os.Open(path) //#nosec 304 -- validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close() //nolint:errcheck // File close error can be ignored

	content, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return map[string]any{
		"path":      rel,
		"content":   string(content),
		"size":      info.Size(),
		"truncated": info.Size() > int64(len(content)),
	}, nil
}

func (w workspaceFS) listDirectory(_ context.Context, args map[string]any) (any, error) {
	rel, path, err := w.resolve(args, "path", ".")
	if err != nil {
		return nil, err
	}
	includeHidden, _ := args["include_hidden"].(bool)

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	entries := make([]map[string]any, 0, len(dirEntries))
	for _, entry := range dirEntries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, map[string]any{
			"name":   name,
			"is_dir": entry.IsDir(),
			"size":   info.Size(),
		})
	}
	return map[string]any{"path": rel, "entries": entries, "count": len(entries)}, nil
}

func (w workspaceFS) fileInfo(_ context.Context, args map[string]any) (any, error) {
	rel, path, err := w.resolve(args, "path", "")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return map[string]any{"path": rel, "exists": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return map[string]any{
		"path":     rel,
		"exists":   true,
		"is_dir":   info.IsDir(),
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

func (w workspaceFS) fileSearch(ctx context.Context, args map[string]any) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	_, root, err := w.resolve(args, "root", ".")
	if err != nil {
		return nil, err
	}
	limit := defaultSearchLimit
	if n, err := number(args, "limit"); err == nil && n > 0 {
		limit = int(n)
	}
	base, err := filepath.Abs(w.root)
	if err != nil {
		return nil, err
	}

	matches := []string{}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok && !d.IsDir() {
			if rel, err := filepath.Rel(base, path); err == nil {
				matches = append(matches, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"pattern": pattern, "matches": matches, "count": len(matches)}, nil
}
