package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// fileRule is the YAML shape of one rule in a rules file.
type fileRule struct {
	ID                string   `mapstructure:"id"`
	Name              string   `mapstructure:"name"`
	EventTypes        []string `mapstructure:"event_types"`
	Threshold         *int     `mapstructure:"threshold"`
	TimeWindowMinutes *int     `mapstructure:"time_window_minutes"`
	Severity          string   `mapstructure:"severity"`
	Channels          []string `mapstructure:"channels"`
	Enabled           bool     `mapstructure:"enabled"`
}

// FileStore serves rules from a watched YAML file. The file is parsed once at
// construction and re-parsed on every write the OS reports; a parse failure
// keeps the last good rule set, so a half-saved edit never blanks the catalog.
//
// The file shape is a top-level "rules" list:
//
//	rules:
//	  - id: failed-logins
//	    name: Excessive Failed Logins
//	    event_types: [LOGIN_FAILED]
//	    threshold: 5
//	    time_window_minutes: 15
//	    severity: WARNING
//	    channels: [slack, email]
//	    enabled: true
type FileStore struct {
	v *viper.Viper

	mu    sync.RWMutex
	rules []*models.AlertRule
}

// NewFileStore loads the rules file at path and begins watching it for
// changes. The initial load must succeed; subsequent reload failures only
// log.
func NewFileStore(path string) (*FileStore, error) {
	v := viper.New()
	v.SetConfigFile(path)

	fs := &FileStore{v: v}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := fs.parse()
	if err != nil {
		return nil, err
	}
	fs.rules = rules

	v.OnConfigChange(func(e fsnotify.Event) {
		reloaded, err := fs.parse()
		if err != nil {
			slog.Warn("rules file changed but failed to parse, keeping previous rule set",
				"file", e.Name, "error", err)
			return
		}
		fs.mu.Lock()
		fs.rules = reloaded
		fs.mu.Unlock()
		slog.Info("rules file reloaded", "file", e.Name, "rules", len(reloaded))
	})
	v.WatchConfig()

	return fs, nil
}

// ListRules implements Store.
func (fs *FileStore) ListRules(_ context.Context) ([]*models.AlertRule, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*models.AlertRule, len(fs.rules))
	copy(out, fs.rules)
	return out, nil
}

func (fs *FileStore) parse() ([]*models.AlertRule, error) {
	if err := fs.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var raw struct {
		Rules []fileRule `mapstructure:"rules"`
	}
	if err := fs.v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal rules file: %w", err)
	}

	rules := make([]*models.AlertRule, 0, len(raw.Rules))
	for _, fr := range raw.Rules {
		rule := &models.AlertRule{
			ID:                fr.ID,
			Name:              fr.Name,
			EventTypes:        pq.StringArray(fr.EventTypes),
			Threshold:         fr.Threshold,
			TimeWindowMinutes: fr.TimeWindowMinutes,
			Severity:          fr.Severity,
			Channels:          pq.StringArray(fr.Channels),
			Enabled:           fr.Enabled,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules file: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
