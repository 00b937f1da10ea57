package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader builds a Config from an optional configuration file and the flags
// of the invoked command.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the file named by --config, applies it over the defaults and
// then applies every flag the user set. The result is validated for role.
func (Loader) Load(fs *pflag.FlagSet, role Role) (*Config, error) {
	var configPath string
	if f := fs.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
			return nil, err
		}
	}

	if err := applyFlagOverrides(&cfg, fs, role); err != nil {
		return nil, err
	}

	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseRun decodes run settings as they appear under the run section of a
// configuration file or inside a SETUP_REQUEST. Missing keys keep their
// defaults.
func ParseRun(settings map[string]interface{}) (RunConfig, error) {
	run := DefaultRun()
	if err := applyRunSettings(&run, settings); err != nil {
		return RunConfig{}, err
	}
	if err := run.Validate(); err != nil {
		return RunConfig{}, err
	}
	return run, nil
}

// Fields encodes r in the form ParseRun accepts. Durations travel as
// strings so they survive a JSON round trip unchanged.
func (r RunConfig) Fields() map[string]interface{} {
	users := make(map[string]interface{}, len(r.Users))
	for mix, n := range r.Users {
		users[mix] = n
	}
	return map[string]interface{}{
		"users":           users,
		"report_interval": r.ReportInterval.String(),
		"fail_timeout":    r.FailTimeout.String(),
		"warmup":          r.Warmup.String(),
		"duration":        r.Duration.String(),
		"rate":            r.Rate,
		"arrival_model":   r.ArrivalModel,
		"report_format":   r.ReportFormat,
		"dump":            r.Dump,
		"log_failures":    r.LogFailures,
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	sections := []struct {
		name  string
		apply func(map[string]interface{}) error
	}{
		{"controller", func(s map[string]interface{}) error { return applyControllerSettings(&cfg.Controller, s) }},
		{"driver", func(s map[string]interface{}) error { return applyDriverSettings(&cfg.Driver, s) }},
		{"admin", func(s map[string]interface{}) error { return applyAdminSettings(&cfg.Admin, s) }},
		{"run", func(s map[string]interface{}) error { return applyRunSettings(&cfg.Run, s) }},
		{"log", func(s map[string]interface{}) error { return applyLogSettings(&cfg.Log, s) }},
		{"tracing", func(s map[string]interface{}) error { return applyTracingSettings(&cfg.Tracing, s) }},
	}

	for _, section := range sections {
		raw, ok := lookupSetting(settings, section.name)
		if !ok || raw == nil {
			continue
		}
		values, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
		if err := section.apply(values); err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
	}
	return nil
}

func applyControllerSettings(c *ControllerConfig, settings map[string]interface{}) error {
	return errors.Join(
		readString(settings, "driver_addr", &c.DriverAddr),
		readString(settings, "admin_addr", &c.AdminAddr),
		readString(settings, "repo_dir", &c.RepoDir),
		readString(settings, "gather_dir", &c.GatherDir),
		readDuration(settings, "rpc_timeout", &c.RPCTimeout),
	)
}

func applyDriverSettings(d *DriverConfig, settings map[string]interface{}) error {
	return errors.Join(
		readString(settings, "controller_addr", &d.ControllerAddr),
		readString(settings, "name", &d.Name),
		readString(settings, "work_dir", &d.WorkDir),
		readString(settings, "log_dir", &d.LogDir),
		readString(settings, "metrics_addr", &d.MetricsAddr),
		readDuration(settings, "dial_timeout", &d.DialTimeout),
	)
}

func applyAdminSettings(a *AdminConfig, settings map[string]interface{}) error {
	return errors.Join(
		readString(settings, "controller_addr", &a.ControllerAddr),
		readString(settings, "name", &a.Name),
	)
}

func applyRunSettings(r *RunConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, keyCandidates("users")...); ok {
		users, err := asIntMap(raw)
		if err != nil {
			return fmt.Errorf("users: %w", err)
		}
		if r.Users == nil {
			r.Users = map[string]int{}
		}
		for mix, n := range users {
			r.Users[mix] = n
		}
	}
	err := errors.Join(
		readDuration(settings, "report_interval", &r.ReportInterval),
		readDuration(settings, "fail_timeout", &r.FailTimeout),
		readDuration(settings, "warmup", &r.Warmup),
		readDuration(settings, "duration", &r.Duration),
		readFloat(settings, "rate", &r.Rate),
		readString(settings, "arrival_model", &r.ArrivalModel),
		readString(settings, "report_format", &r.ReportFormat),
		readBool(settings, "dump", &r.Dump),
		readBool(settings, "log_failures", &r.LogFailures),
	)
	r.ArrivalModel = strings.ToLower(r.ArrivalModel)
	r.ReportFormat = strings.ToLower(r.ReportFormat)
	return err
}

func applyLogSettings(l *LogConfig, settings map[string]interface{}) error {
	return errors.Join(
		readString(settings, "level", &l.Level),
		readString(settings, "format", &l.Format),
	)
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	return errors.Join(
		readString(settings, "endpoint", &t.Endpoint),
		readString(settings, "protocol", &t.Protocol),
		readBool(settings, "insecure", &t.Insecure),
		readFloat(settings, "sample_rate", &t.SampleRate),
		readString(settings, "service_name", &t.ServiceName),
		readBool(settings, "propagate", &t.Propagate),
	)
}

// keyCandidates accepts snake_case, kebab-case and run-together spellings.
func keyCandidates(key string) []string {
	return []string{
		key,
		strings.ReplaceAll(key, "_", "-"),
		strings.ReplaceAll(key, "_", ""),
	}
}

func readString(settings map[string]interface{}, key string, dst *string) error {
	raw, ok := lookupSetting(settings, keyCandidates(key)...)
	if !ok {
		return nil
	}
	val, err := asString(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = strings.TrimSpace(val)
	return nil
}

func readDuration(settings map[string]interface{}, key string, dst *time.Duration) error {
	raw, ok := lookupSetting(settings, keyCandidates(key)...)
	if !ok {
		return nil
	}
	val, err := asDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = val
	return nil
}

func readFloat(settings map[string]interface{}, key string, dst *float64) error {
	raw, ok := lookupSetting(settings, keyCandidates(key)...)
	if !ok {
		return nil
	}
	val, err := asFloat64(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = val
	return nil
}

func readBool(settings map[string]interface{}, key string, dst *bool) error {
	raw, ok := lookupSetting(settings, keyCandidates(key)...)
	if !ok {
		return nil
	}
	val, err := asBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = val
	return nil
}
