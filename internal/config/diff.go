package config

import (
	"reflect"
	"strings"

	logx "tempod/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging (never includes secrets like the
// Telegram token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)))
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) ||
		oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("timezone", strings.TrimSpace(newCfg.Timezone)),
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Timer, newCfg.Timer) {
		changed = append(changed, "timer")
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if (oldN == nil) != (newN == nil) ||
		(oldN != nil && newN != nil &&
			(oldN.Enabled != newN.Enabled ||
				oldN.QueueSize != newN.QueueSize ||
				oldN.RatePerSec != newN.RatePerSec ||
				!telegramEqual(oldN.Telegram, newN.Telegram))) {
		changed = append(changed, "notifier")
		if newN != nil {
			attrs = append(attrs, logx.Bool("notifier.enabled", newN.Enabled))
		}
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.count", len(newCfg.Jobs)))
	}

	return changed, attrs
}

// telegramEqual compares the delivery settings without treating a token
// rotation as "unchanged".
func telegramEqual(a, b *TelegramConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

// JobsChanged reports whether the job definitions differ between two
// configs; the reload path uses it to decide whether to re-sync the
// scheduler.
func JobsChanged(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return true
	}
	return !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs)
}
