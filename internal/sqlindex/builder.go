package sqlindex

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	apperr "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/errors"
)

// Extension is the file extension that marks a document as in scope.
const Extension = ".sql"

// Build walks root recursively, indexes every .sql file and returns the
// objects in walk order with aggregate statistics. A file that cannot be read
// is counted in Stats.FailedFiles and skipped.
func Build(ctx context.Context, root string, progress Progress) ([]*Object, Stats, error) {
	if progress == nil {
		progress = NopProgress{}
	}
	start := time.Now()

	info, err := os.Stat(root)
	if err != nil {
		return nil, Stats{}, apperr.Wrapf(err, apperr.ErrTypeNotFound, "Path does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, Stats{}, apperr.Newf(apperr.ErrTypeFileSystem, "Path is not a directory: %s", root)
	}

	files, err := findFiles(root)
	if err != nil {
		return nil, Stats{}, apperr.Wrapf(err, apperr.ErrTypeFileSystem, "scan %s", root)
	}

	stats := Stats{TotalFiles: len(files)}
	objects := make([]*Object, 0, len(files))
	progress.Start(root, len(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			stats.TotalObjects = len(objects)
			stats.Elapsed = time.Since(start)
			progress.Finish(stats)
			return nil, Stats{}, fmt.Errorf("index %s: %w", root, err)
		}
		obj, err := indexFile(path)
		if err != nil {
			stats.FailedFiles++
			progress.Fail(path, err)
		} else {
			objects = append(objects, obj)
			stats.TotalBytes += obj.Size
			stats.count(obj.Kind)
		}
		progress.Advance(path)
	}

	stats.TotalObjects = len(objects)
	stats.Elapsed = time.Since(start)
	progress.Finish(stats)
	return objects, stats, nil
}

// findFiles lists in-scope files under root in lexical walk order. Entries
// that cannot be visited are skipped rather than aborting the walk.
func findFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), Extension) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func indexFile(path string) (*Object, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}
	ext := Extract(content)
	return NewObject(ext.Name, ext.Kind, path, content, info.Size(), info.ModTime(), ext), nil
}
