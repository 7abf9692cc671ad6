package ingress

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the file ingress stage configuration.
const (
	DefaultFileConfigPath         = "ring.in"
	DefaultFileConfigChunkSize    = 4096
	DefaultFileConfigWriteWait    = 0
	DefaultFileConfigReadExisting = true
)

// FileConfig structs contains the configuration for the file ingress stage.
type FileConfig struct {
	// Path is the path of the file to follow.
	// The file does not need to exist when the stage starts.
	//
	// Default: ring.in
	Path string

	// ChunkSize is the maximum number of bytes written into the ring buffer at once.
	//
	// Default: 4096
	ChunkSize int

	// WriteWait is how long a chunk that does not fit waits for free space
	// before the rest of it is dropped. If 0, the bytes that do not fit
	// are dropped straight away.
	//
	// Default: 0
	WriteWait time.Duration

	// ReadExisting states whether the content already in the file
	// when the stage starts is written too.
	// If false, only the bytes appended afterwards are.
	//
	// Default: true
	ReadExisting bool
}

// NewFileConfig returns the default configuration for the file ingress stage.
func NewFileConfig() *FileConfig {
	return &FileConfig{
		Path:         DefaultFileConfigPath,
		ChunkSize:    DefaultFileConfigChunkSize,
		WriteWait:    DefaultFileConfigWriteWait,
		ReadExisting: DefaultFileConfigReadExisting,
	}
}

// Validate checks the configuration.
func (c *FileConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Path", &c.Path, DefaultFileConfigPath)
	config.CheckPositive(ac, "ChunkSize", &c.ChunkSize, DefaultFileConfigChunkSize)
	config.CheckNotNegative(ac, "WriteWait", &c.WriteWait, DefaultFileConfigWriteWait)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*fileSource)(nil)

type fileSource struct {
	tel *internal.Telemetry

	path         string
	writeWait    time.Duration
	readExisting bool

	watcher   *fsnotify.Watcher
	closeOnce sync.Once

	file   *os.File
	offset int64
	chunk  []byte

	// Metrics
	readBytes   atomic.Int64
	truncations atomic.Int64
}

func newFileSource() *fileSource {
	return &fileSource{}
}

func (fs *fileSource) setTelemetry(tel *internal.Telemetry) {
	fs.tel = tel
}

func (fs *fileSource) init(cfg *FileConfig) error {
	fs.path = filepath.Clean(cfg.Path)
	fs.writeWait = cfg.WriteWait
	fs.readExisting = cfg.ReadExisting
	fs.chunk = make([]byte, cfg.ChunkSize)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// The directory is watched instead of the file,
	// so the file can be created, removed and re-created
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		watcher.Close()
		return err
	}

	fs.watcher = watcher

	fs.tel.NewCounter("read_bytes", func() int64 { return fs.readBytes.Load() })
	fs.tel.NewCounter("truncations", func() int64 { return fs.truncations.Load() })

	return nil
}

func (fs *fileSource) run(ctx context.Context, w *writer) {
	defer fs.closeFile()

	if err := fs.openFile(); err == nil {
		if fs.readExisting {
			if stop := fs.readAppended(ctx, w); stop {
				return
			}
		} else if info, err := fs.file.Stat(); err == nil {
			fs.offset = info.Size()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}

			if stop := fs.handleEvent(ctx, w, event); stop {
				return
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}

			fs.tel.LogError("watcher error", err)
		}
	}
}

// handleEvent returns whether the source must stop.
func (fs *fileSource) handleEvent(ctx context.Context, w *writer, event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fs.path {
		return false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		fs.tel.LogInfo("file removed", "path", fs.path)
		fs.closeFile()

	case event.Has(fsnotify.Create):
		fs.closeFile()
		return fs.readAppended(ctx, w)

	case event.Has(fsnotify.Write):
		return fs.readAppended(ctx, w)
	}

	return false
}

func (fs *fileSource) openFile() error {
	file, err := os.Open(fs.path)
	if err != nil {
		return err
	}

	fs.file = file
	fs.offset = 0

	return nil
}

func (fs *fileSource) closeFile() {
	if fs.file == nil {
		return
	}

	fs.file.Close()
	fs.file = nil
	fs.offset = 0
}

// readAppended writes into the ring buffer everything appended
// to the file since the last read. It returns whether the source must stop.
func (fs *fileSource) readAppended(ctx context.Context, w *writer) bool {
	if fs.file == nil {
		if err := fs.openFile(); err != nil {
			fs.tel.LogError("failed to open file", err, "path", fs.path)
			return false
		}
	}

	info, err := fs.file.Stat()
	if err != nil {
		fs.tel.LogError("failed to stat file", err, "path", fs.path)
		return false
	}

	if info.Size() < fs.offset {
		fs.tel.LogWarn("file truncated, reading from the start", "path", fs.path, "offset", fs.offset)
		fs.truncations.Add(1)
		fs.offset = 0
	}

	for {
		n, err := fs.file.ReadAt(fs.chunk, fs.offset)
		if n > 0 {
			fs.offset += int64(n)
			fs.readBytes.Add(int64(n))

			if stop := fs.deliver(ctx, w, fs.chunk[:n]); stop {
				return true
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				fs.tel.LogError("failed to read file", err, "path", fs.path)
			}
			return false
		}
	}
}

// deliver writes the chunk, waiting up to writeWait for free space,
// and returns whether the source must stop.
func (fs *fileSource) deliver(ctx context.Context, w *writer, chunk []byte) bool {
	ctx, span := fs.tel.NewTrace(ctx, "deliver file chunk")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chunk_size", len(chunk)),
		attribute.Int64("offset", fs.offset),
	)

	deadline := time.Now().Add(fs.writeWait)
	remaining := chunk

	for {
		n, err := w.write(ctx, remaining)
		if err != nil {
			fs.logStop(err)
			return true
		}

		remaining = remaining[n:]
		if len(remaining) == 0 {
			return false
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			fs.tel.LogWarn("ring buffer full, dropping bytes", "dropped", len(remaining))
			w.drop(len(remaining))
			return false
		}

		if err := w.waitFree(wait); err != nil {
			fs.logStop(err)
			return true
		}
	}
}

func (fs *fileSource) logStop(err error) {
	if isClosed(err) {
		fs.tel.LogInfo("ring buffer closed, stopping")
		return
	}
	fs.tel.LogError("failed to write data to ring buffer", err)
}

func (fs *fileSource) close() {
	fs.closeOnce.Do(func() {
		if fs.watcher == nil {
			return
		}

		if err := fs.watcher.Close(); err != nil {
			fs.tel.LogError("failed to close watcher", err)
		}
	})
}

/////////////
//  STAGE  //
/////////////

// FileStage is an ingress stage that follows a file
// and writes the bytes appended to it into the ring buffer.
type FileStage struct {
	*stage[*FileConfig]

	source *fileSource
}

// NewFileStage returns a new file ingress stage.
func NewFileStage(outConnector conn, cfg *FileConfig) *FileStage {
	source := newFileSource()

	return &FileStage{
		stage: newStage("file", source, outConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (fs *FileStage) Init(ctx context.Context) error {
	if err := fs.stage.Init(ctx); err != nil {
		return err
	}

	return fs.source.init(fs.cfg)
}

// Close closes the stage.
func (fs *FileStage) Close() {
	fs.stage.Close()
	fs.source.close()
}
