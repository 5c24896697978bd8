package cmdbuilder

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// Whitelist enumerates the codec and filter identifiers the command builder
// will accept. It can be hot-reloaded from a YAML file via fsnotify so an
// operator can extend the allowed set without a restart.
type Whitelist struct {
	mu      sync.RWMutex
	codecs  map[string]bool
	filters map[string]bool
}

// defaultCodecs is the built-in codec whitelist from spec §4.F.
var defaultCodecs = []string{
	"h264", "h265", "hevc", "av1", "vp8", "vp9",
	"aac", "opus", "mp3", "flac", "pcm",
}

// defaultFilters is the built-in filter-name whitelist.
var defaultFilters = []string{
	"scale", "crop", "rotate", "denoise", "sharpen", "blur", "deinterlace", "overlay",
}

var defaultOperations = map[OperationKind]bool{
	OpTranscode: true, OpTrim: true, OpWatermark: true, OpFilter: true, OpStreamMap: true,
}

// NewDefaultWhitelist returns the built-in whitelist from spec §4.F.
func NewDefaultWhitelist() *Whitelist {
	w := &Whitelist{codecs: map[string]bool{}, filters: map[string]bool{}}
	for _, c := range defaultCodecs {
		w.codecs[c] = true
	}
	for _, f := range defaultFilters {
		w.filters[f] = true
	}
	return w
}

func (w *Whitelist) AllowsCodec(codec string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.codecs[strings.ToLower(codec)]
}

func (w *Whitelist) AllowsFilter(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filters[strings.ToLower(name)]
}

func (w *Whitelist) AllowsOperation(kind OperationKind) bool {
	return defaultOperations[kind]
}

type whitelistFile struct {
	Codecs  []string `yaml:"codecs"`
	Filters []string `yaml:"filters"`
}

func (w *Whitelist) reload(data []byte) error {
	var f whitelistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	codecs := map[string]bool{}
	for _, c := range defaultCodecs {
		codecs[c] = true
	}
	for _, c := range f.Codecs {
		codecs[strings.ToLower(c)] = true
	}
	filters := map[string]bool{}
	for _, fl := range defaultFilters {
		filters[fl] = true
	}
	for _, fl := range f.Filters {
		filters[strings.ToLower(fl)] = true
	}

	w.mu.Lock()
	w.codecs = codecs
	w.filters = filters
	w.mu.Unlock()
	return nil
}

// WatchFile loads path immediately and then hot-reloads it on every write
// event for the remainder of the process lifetime. The returned watcher
// must be closed by the caller on shutdown.
func WatchFile(w *Whitelist, path string, logger logr.Logger, readFile func(string) ([]byte, error)) (*fsnotify.Watcher, error) {
	if data, err := readFile(path); err == nil {
		if err := w.reload(data); err != nil {
			logger.Error(err, "failed to parse whitelist file on initial load", "path", path)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := readFile(path)
				if err != nil {
					continue
				}
				if err := w.reload(data); err != nil {
					logger.Error(err, "failed to parse whitelist file on reload", "path", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error(err, "whitelist file watcher error")
			}
		}
	}()

	return watcher, nil
}
