package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Pool holds the fallback reply corpora used while generation is offline.
type Pool struct {
	mu       sync.RWMutex
	facebook []string
	whatsapp []string

	fbPath string
	waPath string
	logger *slog.Logger
}

type templateFile struct {
	Templates []string `yaml:"templates" json:"templates"`
}

// New builds an in-memory pool.
func New(facebook, whatsapp []string) *Pool {
	return &Pool{
		facebook: clean(facebook),
		whatsapp: clean(whatsapp),
	}
}

// Load reads both corpora, creating missing files with the defaults.
func Load(fbPath, waPath string, logger *slog.Logger) (*Pool, error) {
	p := &Pool{fbPath: fbPath, waPath: waPath, logger: logger}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the backing files. Pools built with New are left untouched.
func (p *Pool) Reload() error {
	if p.fbPath == "" && p.waPath == "" {
		return nil
	}

	fb, err := loadOrCreate(p.fbPath, DefaultFacebook())
	if err != nil {
		return err
	}
	wa, err := loadOrCreate(p.waPath, DefaultWhatsApp())
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.facebook = clean(fb)
	p.whatsapp = clean(wa)
	p.mu.Unlock()

	p.debug("templates loaded", "facebook", len(fb), "whatsapp", len(wa))
	return nil
}

// Facebook returns a copy of the public-group corpus.
func (p *Pool) Facebook() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.facebook...)
}

// WhatsApp returns a copy of the direct-message corpus.
func (p *Pool) WhatsApp() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.whatsapp...)
}

// Combined returns Facebook followed by WhatsApp templates.
func (p *Pool) Combined() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.facebook)+len(p.whatsapp))
	out = append(out, p.facebook...)
	return append(out, p.whatsapp...)
}

// Pick draws uniformly from the combined corpus using intn (e.g. rand.IntN).
func (p *Pool) Pick(intn func(int) int) (string, bool) {
	all := p.Combined()
	if len(all) == 0 {
		return "", false
	}
	return all[intn(len(all))], true
}

// Watch reloads the pool whenever one of its files changes, until ctx ends.
func (p *Pool) Watch(ctx context.Context) error {
	if p.fbPath == "" && p.waPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template watcher: %w", err)
	}
	defer watcher.Close()

	targets := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, path := range []string{p.fbPath, p.waPath} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Editors usually replace files, so watch the directories.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, tracked := targets[filepath.Clean(event.Name)]; !tracked {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := p.Reload(); err != nil && p.logger != nil {
				p.logger.Warn("template reload failed", "file", event.Name, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if p.logger != nil {
				p.logger.Warn("template watcher error", "error", err)
			}
		}
	}
}

// loadOrCreate accepts JSON or YAML ({"templates": [...]}).
func loadOrCreate(path string, defaults []string) ([]string, error) {
	if path == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		out, mErr := json.MarshalIndent(templateFile{Templates: defaults}, "", "    ")
		if mErr != nil {
			return nil, fmt.Errorf("marshal default templates: %w", mErr)
		}
		if wErr := os.WriteFile(path, out, 0o644); wErr != nil {
			return nil, fmt.Errorf("write default templates %s: %w", path, wErr)
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if file.Templates == nil {
		return defaults, nil
	}
	return file.Templates, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pool) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
