package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/store"
)

// FolderOptions controls ingest-folder behavior.
type FolderOptions struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.xlsx"}
	// ProcessedDir receives imported files; relative paths are resolved against Dir.
	ProcessedDir string
	DateColumns  []string
	// Debounce delays processing after the last write so partially copied files are not read.
	Debounce time.Duration
	Logger   *log.Logger
}

// ImportedFile is reported for every workbook the ingestor stores.
type ImportedFile struct {
	Path    string
	Dataset *store.Dataset
}

// FolderIngestor imports workbooks from a directory (one-shot or watch mode).
type FolderIngestor struct {
	store *store.Store
	bus   bus.Bus
	opts  FolderOptions

	mu       sync.Mutex
	timers   map[string]*time.Timer
	imported []ImportedFile
	errors   int

	// OnImport, when set, is called after each successful import.
	OnImport func(ImportedFile)
}

// NewFolderIngestor constructs a folder ingestor.
func NewFolderIngestor(st *store.Store, b bus.Bus, opts FolderOptions) *FolderIngestor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[ingest-folder] ", log.LstdFlags)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.xlsx"}
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = "processed"
	}
	if !filepath.IsAbs(opts.ProcessedDir) {
		opts.ProcessedDir = filepath.Join(opts.Dir, opts.ProcessedDir)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if b == nil {
		b = bus.NewNullBus(opts.Logger)
	}
	return &FolderIngestor{
		store:  st,
		bus:    b,
		opts:   opts,
		timers: make(map[string]*time.Timer),
	}
}

// Run executes the ingestion per options (one-shot or watch).
func (fi *FolderIngestor) Run(ctx context.Context) error {
	if err := os.MkdirAll(fi.opts.Dir, 0755); err != nil {
		return fmt.Errorf("create ingest dir: %w", err)
	}

	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		fi.opts.Logger.Printf("Completed one-shot ingest: imported=%d errors=%d", len(fi.Imported()), fi.errorCount())
		return nil
	}

	return fi.watchLoop(ctx)
}

// Imported returns the files imported so far.
func (fi *FolderIngestor) Imported() []ImportedFile {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	out := make([]ImportedFile, len(fi.imported))
	copy(out, fi.imported)
	return out
}

func (fi *FolderIngestor) errorCount() int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.errors
}

func (fi *FolderIngestor) matches(name string) bool {
	lower := strings.ToLower(name)
	// Office lock files
	if strings.HasPrefix(lower, "~$") {
		return false
	}
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		ok, _ := filepath.Match(p, lower)
		if ok {
			return true
		}
	}
	return false
}

func (fi *FolderIngestor) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !fi.matches(e.Name()) {
			continue
		}
		fi.processFile(ctx, filepath.Join(fi.opts.Dir, e.Name()))
	}
	return nil
}

func (fi *FolderIngestor) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.opts.Logger.Printf("Watching directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))

	for {
		select {
		case <-ctx.Done():
			fi.stopTimers()
			fi.opts.Logger.Printf("Watch stopping: imported=%d errors=%d", len(fi.Imported()), fi.errorCount())
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !fi.matches(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				fi.schedule(ctx, ev.Name)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fi.cancel(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fi.opts.Logger.Printf("watch error: %v", err)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (fi *FolderIngestor) schedule(ctx context.Context, path string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if t, ok := fi.timers[path]; ok {
		t.Stop()
	}
	fi.timers[path] = time.AfterFunc(fi.opts.Debounce, func() {
		fi.mu.Lock()
		delete(fi.timers, path)
		fi.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fi.processFile(ctx, path)
	})
}

func (fi *FolderIngestor) cancel(path string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if t, ok := fi.timers[path]; ok {
		t.Stop()
		delete(fi.timers, path)
	}
}

func (fi *FolderIngestor) stopTimers() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for path, t := range fi.timers {
		t.Stop()
		delete(fi.timers, path)
	}
}

func (fi *FolderIngestor) processFile(ctx context.Context, path string) {
	ds, err := fi.importFile(ctx, path)
	if err != nil {
		fi.opts.Logger.Printf("error processing %s: %v", path, err)
		fi.mu.Lock()
		fi.errors++
		fi.mu.Unlock()
		return
	}

	moved, err := fi.moveProcessed(path)
	if err != nil {
		fi.opts.Logger.Printf("imported %s but could not move it: %v", path, err)
		moved = path
	}

	item := ImportedFile{Path: moved, Dataset: ds}
	fi.mu.Lock()
	fi.imported = append(fi.imported, item)
	onImport := fi.OnImport
	fi.mu.Unlock()

	fi.opts.Logger.Printf("Imported %s as dataset %s (%d rows)", filepath.Base(path), ds.ID, ds.RowCount)

	// Best-effort publish to bus (optional, no-op on NullBus)
	_ = fi.bus.PublishChange(ctx, bus.ChangeMessage{
		DatasetID: ds.ID,
		Action:    "import",
		Origin:    "ingest-folder",
		Timestamp: time.Now().Unix(),
	})

	if onImport != nil {
		onImport(item)
	}
}

func (fi *FolderIngestor) importFile(ctx context.Context, path string) (*store.Dataset, error) {
	sheet, err := LoadWorkbookFile(path)
	if err != nil {
		return nil, err
	}
	return Import(ctx, fi.store, sheet, fi.opts.DateColumns, "ingest-folder")
}

func (fi *FolderIngestor) moveProcessed(path string) (string, error) {
	if err := os.MkdirAll(fi.opts.ProcessedDir, 0755); err != nil {
		return "", err
	}
	base := filepath.Base(path)
	dest := filepath.Join(fi.opts.ProcessedDir, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		dest = filepath.Join(fi.opts.ProcessedDir,
			fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
