package supervisor

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// outputSet hands out one rotating log file per service under the
// configured log directory. With no log directory, service output goes to
// the supervisor's own stdout.
type outputSet struct {
	dir string

	mu   sync.Mutex
	open map[string]*lumberjack.Logger
}

func newOutputSet(dir string) *outputSet {
	return &outputSet{
		dir:  dir,
		open: make(map[string]*lumberjack.Logger),
	}
}

func (o *outputSet) writer(name string) io.Writer {
	if o.dir == "" {
		return os.Stdout
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.open[name]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(o.dir, name+".log"),
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	o.open[name] = w
	return w
}

func (o *outputSet) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for _, w := range o.open {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	o.open = map[string]*lumberjack.Logger{}
	return errors.Join(errs...)
}
