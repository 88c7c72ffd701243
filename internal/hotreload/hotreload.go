// Package hotreload rebuilds the fog kernels when their override files
// change on disk.
//
// A Watcher observes one directory for density.wgsl and reduction.wgsl.
// After a burst of writes settles it reads both files, compiles each with
// naga and hands the pair to a Reloader. A kernel that does not compile is
// rejected with a warning and the running kernels stay in place. A missing
// or empty file selects the embedded kernel for that stage.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/fog/internal/gpu"
)

// DefaultDebounce is how long the watcher waits after the last event.
const DefaultDebounce = 150 * time.Millisecond

// Kernel override file names, one per stage.
const (
	DensityFile   = "density.wgsl"
	ReductionFile = "reduction.wgsl"
)

// ErrRejected is returned by Reload when a kernel does not compile.
var ErrRejected = errors.New("hotreload: kernel rejected")

// Reloader receives validated kernel sources.
type Reloader interface {
	Rebuild(k gpu.KernelSources) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last file event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithCompiler replaces the kernel validator, gpu.CompileKernel by default.
func WithCompiler(compile func(string) ([]uint32, error)) Option {
	return func(w *Watcher) { w.compile = compile }
}

// WithLogger sets the logger of one watcher. By default the package
// logger set with SetLogger is used.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// Watcher watches a kernel override directory.
type Watcher struct {
	dir      string
	target   Reloader
	debounce time.Duration
	compile  func(string) ([]uint32, error)
	log      *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	current gpu.KernelSources
	reloads int
}

// New starts watching dir. Call Run to process events and Close when done.
func New(dir string, target Reloader, opts ...Option) (*Watcher, error) {
	if target == nil {
		return nil, fmt.Errorf("hotreload: nil reloader")
	}
	w := &Watcher{
		dir:      dir,
		target:   target,
		debounce: DefaultDebounce,
		compile:  gpu.CompileKernel,
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotreload: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("hotreload: watch %s: %w", dir, err)
	}
	w.fsw = fsw
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !isKernelFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := w.Reload(); err != nil {
				w.logger().Warn("hotreload: kernels not reloaded", "dir", w.dir, "err", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("hotreload: watcher error", "err", err)
		}
	}
}

// Reload reads, validates and applies the override files now. Unchanged
// sources are not applied again.
func (w *Watcher) Reload() error {
	k, err := w.read()
	if err != nil {
		return err
	}
	for _, role := range gpu.StageRoles() {
		src := k.For(role)
		if src == "" {
			continue
		}
		if _, err := w.compile(src); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRejected, role, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if k == w.current && w.reloads > 0 {
		return nil
	}
	if err := w.target.Rebuild(k); err != nil {
		return fmt.Errorf("hotreload: rebuild: %w", err)
	}
	w.current = k
	w.reloads++
	w.logger().Info("hotreload: kernels reloaded", "dir", w.dir, "reloads", w.reloads)
	return nil
}

func (w *Watcher) logger() *slog.Logger {
	if w.log != nil {
		return w.log
	}
	return slogger()
}

// Reloads returns the number of applied reloads.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Close stops watching. Run returns once the event channel closes.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) read() (gpu.KernelSources, error) {
	var k gpu.KernelSources
	for role, name := range map[gpu.StageRole]string{
		gpu.StageDensity:   DensityFile,
		gpu.StageReduction: ReductionFile,
	} {
		b, err := os.ReadFile(filepath.Join(w.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return gpu.KernelSources{}, fmt.Errorf("hotreload: %w", err)
		}
		k = k.With(role, string(b))
	}
	return k, nil
}

func isKernelFile(path string) bool {
	base := filepath.Base(path)
	return base == DensityFile || base == ReductionFile
}
