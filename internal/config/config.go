package config

import (
	"fmt"
	"strings"
	"time"
)

// Role selects which sections Validate checks.
type Role string

const (
	RoleController Role = "controller"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleRun        Role = "run"
)

const (
	DefaultDriverAddr = "127.0.0.1:7700"
	DefaultAdminAddr  = "127.0.0.1:7701"
	DefaultRPCTimeout = 5 * time.Minute
)

type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Driver     DriverConfig     `mapstructure:"driver"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Run        RunConfig        `mapstructure:"run"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	ConfigFile string           `mapstructure:"-"`
}

type ControllerConfig struct {
	DriverAddr string        `mapstructure:"driver_addr"`
	AdminAddr  string        `mapstructure:"admin_addr"`
	RepoDir    string        `mapstructure:"repo_dir"`
	GatherDir  string        `mapstructure:"gather_dir"`
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`
}

type DriverConfig struct {
	ControllerAddr string        `mapstructure:"controller_addr"`
	Name           string        `mapstructure:"name"`
	WorkDir        string        `mapstructure:"work_dir"`
	LogDir         string        `mapstructure:"log_dir"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

type AdminConfig struct {
	ControllerAddr string `mapstructure:"controller_addr"`
	Name           string `mapstructure:"name"`
}

// RunConfig holds the settings of one benchmark run. It travels from the
// admin to every driver inside SETUP_REQUEST, see Fields and ParseRun.
type RunConfig struct {
	Users          map[string]int `mapstructure:"users"`
	ReportInterval time.Duration  `mapstructure:"report_interval"`
	FailTimeout    time.Duration  `mapstructure:"fail_timeout"`
	Warmup         time.Duration  `mapstructure:"warmup"`
	Duration       time.Duration  `mapstructure:"duration"`
	Rate           float64        `mapstructure:"rate"`
	ArrivalModel   string         `mapstructure:"arrival_model"`
	ReportFormat   string         `mapstructure:"report_format"`
	Dump           bool           `mapstructure:"dump"`
	LogFailures    bool           `mapstructure:"log_failures"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether spans are exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether trace context is carried to drivers.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && t.Propagate
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		Controller: ControllerConfig{
			DriverAddr: DefaultDriverAddr,
			AdminAddr:  DefaultAdminAddr,
			RepoDir:    "repo",
			GatherDir:  "gathered",
			RPCTimeout: DefaultRPCTimeout,
		},
		Driver: DriverConfig{
			ControllerAddr: DefaultDriverAddr,
			WorkDir:        "work",
			LogDir:         "logs",
			DialTimeout:    10 * time.Second,
		},
		Admin: AdminConfig{
			ControllerAddr: DefaultAdminAddr,
			Name:           "admin",
		},
		Run: DefaultRun(),
		Log: LogConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			SampleRate:  1.0,
			ServiceName: "fleetbench",
			Propagate:   true,
		},
	}
}

// DefaultRun returns the run settings used when neither a file nor the
// admin supplies a value.
func DefaultRun() RunConfig {
	return RunConfig{
		Users:          map[string]int{},
		ReportInterval: 10 * time.Second,
		FailTimeout:    30 * time.Second,
		ArrivalModel:   "uniform",
		ReportFormat:   "text",
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the sections the given role depends on.
func (c Config) Validate(role Role) error {
	var issues []string

	switch role {
	case RoleController:
		issues = append(issues, validateController(c.Controller)...)
	case RoleDriver:
		issues = append(issues, validateDriver(c.Driver)...)
	case RoleAdmin:
		if strings.TrimSpace(c.Admin.ControllerAddr) == "" {
			issues = append(issues, "admin.controller_addr is required")
		}
	case RoleRun:
		issues = append(issues, c.Run.issues()...)
	default:
		issues = append(issues, fmt.Sprintf("unknown role %q", role))
	}

	issues = append(issues, validateLog(c.Log)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Validate checks run settings on their own, as a driver does on SETUP.
func (r RunConfig) Validate() error {
	if issues := r.issues(); len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (r RunConfig) issues() []string {
	var issues []string
	for mix, n := range r.Users {
		if n < 0 {
			issues = append(issues, fmt.Sprintf("run.users[%s] must be non-negative", mix))
		}
	}
	if r.ReportInterval < 0 {
		issues = append(issues, "run.report_interval must be non-negative")
	}
	if r.FailTimeout < 0 {
		issues = append(issues, "run.fail_timeout must be non-negative")
	}
	if r.Warmup < 0 {
		issues = append(issues, "run.warmup must be non-negative")
	}
	if r.Duration < 0 {
		issues = append(issues, "run.duration must be non-negative")
	}
	if r.Rate < 0 {
		issues = append(issues, "run.rate must be non-negative")
	}
	switch strings.ToLower(r.ArrivalModel) {
	case "", "uniform", "poisson":
	default:
		issues = append(issues, fmt.Sprintf("run.arrival_model must be uniform or poisson, got %q", r.ArrivalModel))
	}
	switch strings.ToLower(r.ReportFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("run.report_format must be text or json, got %q", r.ReportFormat))
	}
	return issues
}

func validateController(c ControllerConfig) []string {
	var issues []string
	if strings.TrimSpace(c.DriverAddr) == "" {
		issues = append(issues, "controller.driver_addr is required")
	}
	if strings.TrimSpace(c.AdminAddr) == "" {
		issues = append(issues, "controller.admin_addr is required")
	}
	if strings.TrimSpace(c.RepoDir) == "" {
		issues = append(issues, "controller.repo_dir is required")
	}
	if strings.TrimSpace(c.GatherDir) == "" {
		issues = append(issues, "controller.gather_dir is required")
	}
	if c.RPCTimeout < 0 {
		issues = append(issues, "controller.rpc_timeout must be non-negative")
	}
	return issues
}

func validateDriver(d DriverConfig) []string {
	var issues []string
	if strings.TrimSpace(d.ControllerAddr) == "" {
		issues = append(issues, "driver.controller_addr is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		issues = append(issues, "driver.name is required")
	}
	if strings.TrimSpace(d.WorkDir) == "" {
		issues = append(issues, "driver.work_dir is required")
	}
	if d.DialTimeout < 0 {
		issues = append(issues, "driver.dial_timeout must be non-negative")
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log.level must be debug, info, warn or error, got %q", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log.format must be console or json, got %q", l.Format))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
