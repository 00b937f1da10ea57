package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterCommonFlags registers the flags every subcommand accepts.
func RegisterCommonFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (empty disables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS towards the OTLP collector")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces to sample (0.0 to 1.0)")
	flags.String("tracing-service-name", "fleetbench", "Service name reported with spans")
}

// RegisterControllerFlags registers the controller listener flags.
func RegisterControllerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("driver-addr", DefaultDriverAddr, "Address drivers connect to")
	flags.String("admin-addr", DefaultAdminAddr, "Address the admin connects to")
	flags.String("repo-dir", "repo", "Directory holding one subdirectory per benchmark")
	flags.String("gather-dir", "gathered", "Directory receiving gathered driver logs")
	flags.Duration("rpc-timeout", DefaultRPCTimeout, "Upper bound on one driver round trip")
}

// RegisterDriverFlags registers the load generator flags.
func RegisterDriverFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("controller", DefaultDriverAddr, "Controller driver address")
	flags.String("name", "", "Driver name announced to the controller")
	flags.String("work-dir", "work", "Directory receiving prepared benchmarks")
	flags.String("log-dir", "logs", "Directory for run logs and dump files")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	flags.Duration("dial-timeout", 10*time.Second, "Timeout for connecting to the controller")
}

// RegisterAdminFlags registers the admin client flags.
func RegisterAdminFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("controller", DefaultAdminAddr, "Controller admin address")
	flags.String("name", "admin", "Name announced to the controller")
}

// RegisterRunFlags registers the benchmark run settings.
func RegisterRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringToInt("users", nil, "Virtual users per mix in mix=count form")
	flags.Duration("report-interval", 10*time.Second, "Statistics reporting interval")
	flags.Duration("fail-timeout", 30*time.Second, "Latency recorded for failed transactions")
	flags.Duration("warmup", 0, "Warm-up period whose statistics are discarded")
	flags.DurationP("duration", "d", 0, "Measured run length (0 runs until interrupted)")
	flags.Float64P("rate", "r", 0, "Mix executions per second per virtual user (0 means unpaced)")
	flags.String("arrival-model", "uniform", "Pacing model: uniform or poisson")
	flags.String("report-format", "text", "Run log format: text or json")
	flags.Bool("dump", false, "Write a per-client transaction dump")
	flags.Bool("log-failures", false, "Log each failed transaction")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file. Only flags the user set are applied.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet, role Role) error {
	if err := overrideString(fs, "log-level", &cfg.Log.Level); err != nil {
		return err
	}
	if err := overrideString(fs, "log-format", &cfg.Log.Format); err != nil {
		return err
	}
	if err := applyTracingFlags(&cfg.Tracing, fs); err != nil {
		return err
	}

	switch role {
	case RoleController:
		return applyControllerFlags(&cfg.Controller, fs)
	case RoleDriver:
		return applyDriverFlags(&cfg.Driver, fs)
	case RoleAdmin:
		if err := overrideString(fs, "controller", &cfg.Admin.ControllerAddr); err != nil {
			return err
		}
		if err := overrideString(fs, "name", &cfg.Admin.Name); err != nil {
			return err
		}
		return applyRunFlags(&cfg.Run, fs)
	case RoleRun:
		return applyRunFlags(&cfg.Run, fs)
	}
	return nil
}

func applyTracingFlags(t *TracingConfig, fs *pflag.FlagSet) error {
	if err := overrideString(fs, "tracing-endpoint", &t.Endpoint); err != nil {
		return err
	}
	if err := overrideString(fs, "tracing-protocol", &t.Protocol); err != nil {
		return err
	}
	if err := overrideString(fs, "tracing-service-name", &t.ServiceName); err != nil {
		return err
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	return nil
}

func applyControllerFlags(c *ControllerConfig, fs *pflag.FlagSet) error {
	if err := overrideString(fs, "driver-addr", &c.DriverAddr); err != nil {
		return err
	}
	if err := overrideString(fs, "admin-addr", &c.AdminAddr); err != nil {
		return err
	}
	if err := overrideString(fs, "repo-dir", &c.RepoDir); err != nil {
		return err
	}
	if err := overrideString(fs, "gather-dir", &c.GatherDir); err != nil {
		return err
	}
	if fs.Changed("rpc-timeout") {
		val, err := fs.GetDuration("rpc-timeout")
		if err != nil {
			return err
		}
		c.RPCTimeout = val
	}
	return nil
}

func applyDriverFlags(d *DriverConfig, fs *pflag.FlagSet) error {
	if err := overrideString(fs, "controller", &d.ControllerAddr); err != nil {
		return err
	}
	if err := overrideString(fs, "name", &d.Name); err != nil {
		return err
	}
	if err := overrideString(fs, "work-dir", &d.WorkDir); err != nil {
		return err
	}
	if err := overrideString(fs, "log-dir", &d.LogDir); err != nil {
		return err
	}
	if err := overrideString(fs, "metrics-addr", &d.MetricsAddr); err != nil {
		return err
	}
	if fs.Changed("dial-timeout") {
		val, err := fs.GetDuration("dial-timeout")
		if err != nil {
			return err
		}
		d.DialTimeout = val
	}
	return nil
}

func applyRunFlags(r *RunConfig, fs *pflag.FlagSet) error {
	if fs.Changed("users") {
		val, err := fs.GetStringToInt("users")
		if err != nil {
			return err
		}
		if r.Users == nil {
			r.Users = map[string]int{}
		}
		for mix, n := range val {
			r.Users[strings.TrimSpace(mix)] = n
		}
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"report-interval", &r.ReportInterval},
		{"fail-timeout", &r.FailTimeout},
		{"warmup", &r.Warmup},
		{"duration", &r.Duration},
	}
	for _, d := range durations {
		if !fs.Changed(d.name) {
			continue
		}
		val, err := fs.GetDuration(d.name)
		if err != nil {
			return err
		}
		*d.dst = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		r.Rate = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		r.ArrivalModel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("report-format") {
		val, err := fs.GetString("report-format")
		if err != nil {
			return err
		}
		r.ReportFormat = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("dump") {
		val, err := fs.GetBool("dump")
		if err != nil {
			return err
		}
		r.Dump = val
	}
	if fs.Changed("log-failures") {
		val, err := fs.GetBool("log-failures")
		if err != nil {
			return err
		}
		r.LogFailures = val
	}
	return nil
}

func overrideString(fs *pflag.FlagSet, name string, dst *string) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetString(name)
	if err != nil {
		return err
	}
	*dst = strings.TrimSpace(val)
	return nil
}
