package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
)

// Watcher holds the current profile and swaps it atomically when the file
// changes. An invalid edit is rejected and the previous profile kept.
type Watcher struct {
	v        *viper.Viper
	current  atomic.Pointer[Profile]
	validate func(*Profile) error
	logger   *slog.Logger
	reloaded chan struct{}
}

// Load reads path (YAML). An empty path yields a static default profile.
// validate, when set, vets both the initial and every reloaded profile.
func Load(path string, validate func(*Profile) error, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{validate: validate, logger: logger, reloaded: make(chan struct{}, 1)}
	if path == "" {
		p := Default()
		if err := w.check(p); err != nil {
			return nil, err
		}
		w.current.Store(p)
		return w, nil
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	p, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := w.check(p); err != nil {
		return nil, err
	}
	w.v = v
	w.current.Store(p)
	return w, nil
}

func (w *Watcher) check(p *Profile) error {
	if w.validate == nil {
		return nil
	}
	if err := w.validate(p); err != nil {
		return fmt.Errorf("profile: rejected: %w", err)
	}
	return nil
}

// Current returns the active profile. Callers keep the pointer for the
// whole request so one poll sees one configuration.
func (w *Watcher) Current() *Profile {
	return w.current.Load()
}

// Watch starts hot reload. It is a no-op for the static default profile.
func (w *Watcher) Watch() {
	if w.v == nil {
		return
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.v.WatchConfig()
}

func (w *Watcher) reload(name string) {
	p, err := decode(w.v)
	if err == nil {
		err = w.check(p)
	}
	if err != nil {
		metrics.ProfileReloadsTotal.WithLabelValues("rejected").Inc()
		w.logger.Error("scoring profile reload rejected, keeping previous", "file", name, "error", err)
		return
	}
	w.current.Store(p)
	metrics.ProfileReloadsTotal.WithLabelValues("applied").Inc()
	w.logger.Info("scoring profile reloaded",
		"file", name, "layout", p.Layout, "threshold_method", p.Threshold.Method)
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}

// ErrLayoutChanged is returned by LockLayout validators.
var ErrLayoutChanged = errors.New("profile: feature layout cannot change while models are loaded")

// LockLayout returns a validator accepting only profiles whose layout
// equals the first one seen. Loaded models are bound to one input schema.
func LockLayout(check func(*Profile) error) func(*Profile) error {
	var first atomic.Pointer[string]
	return func(p *Profile) error {
		if check != nil {
			if err := check(p); err != nil {
				return err
			}
		}
		l := string(p.FeatureLayout())
		if !first.CompareAndSwap(nil, &l) && *first.Load() != l {
			return ErrLayoutChanged
		}
		return nil
	}
}
