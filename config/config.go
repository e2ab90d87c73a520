// Package config holds the validated run configuration. Values come from any
// number of TOML files merged in order, with command-line overrides applied on
// top of the last file. The record is read-only for the lifetime of a sweep.
package config

import (
	"bytes"
	"fmt"
	"maps"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/storageperf/fiosweep/units"
)

// ReloadPolicy controls whether the kernel module under test is reloaded
// around every measurement or once per sweep.
type ReloadPolicy string

const (
	ReloadAlways ReloadPolicy = "always"
	ReloadOnce   ReloadPolicy = "once"
)

// BlockSize is one configured block size, kept both as written (for artifact
// names) and parsed to bytes (for fio arguments and huge-page sizing).
type BlockSize struct {
	Raw   string
	Bytes units.Bytes
}

type Config struct {
	Samples     int      `mapstructure:"samples" toml:"samples"`
	Runtime     int      `mapstructure:"runtime" toml:"runtime"`
	Ramp        int      `mapstructure:"ramp" toml:"ramp"`
	Device      string   `mapstructure:"device" toml:"device"`
	Jobcounts   []int    `mapstructure:"jobcounts" toml:"jobcounts"`
	Workloads   []string `mapstructure:"workloads" toml:"workloads"`
	QueueDepths []int    `mapstructure:"queue_depths" toml:"queue_depths"`
	BlockSizes  []string `mapstructure:"block_sizes" toml:"block_sizes"`

	Prep    bool   `mapstructure:"prep" toml:"prep"`
	Fio     string `mapstructure:"fio" toml:"fio"`
	Verify  bool   `mapstructure:"verify" toml:"verify"`
	Capture bool   `mapstructure:"capture" toml:"capture"`
	Hipri   bool   `mapstructure:"hipri" toml:"hipri"`

	ConfigureNullBlk bool `mapstructure:"configure_null_blk" toml:"configure_null_blk"`

	Module             string       `mapstructure:"module" toml:"module"`
	ModuleArgs         []string     `mapstructure:"module_args" toml:"module_args"`
	Modprobe           bool         `mapstructure:"modprobe" toml:"modprobe"`
	Insmod             bool         `mapstructure:"insmod" toml:"insmod"`
	ModuleReloadPolicy ReloadPolicy `mapstructure:"module_reload_policy" toml:"module_reload_policy"`

	CpufreqGovernorPerformance bool `mapstructure:"cpufreq_governor_performance" toml:"cpufreq_governor_performance"`
	DisableBoostAMD            bool `mapstructure:"disable_boost_amd" toml:"disable_boost_amd"`
	DisableBoostIntel          bool `mapstructure:"disable_boost_intel" toml:"disable_boost_intel"`
	AMDPstateFixed3GHz         bool `mapstructure:"amd_pstate_fixed_3ghz" toml:"amd_pstate_fixed_3ghz"`
	HugePages                  bool `mapstructure:"hugepages" toml:"hugepages"`

	Compress   bool   `mapstructure:"compress" toml:"compress"`
	Tag        string `mapstructure:"tag" toml:"tag"`
	OutputPath string `mapstructure:"output_path" toml:"output_path"`
	Remote     string `mapstructure:"remote" toml:"remote"`

	blockSizes []BlockSize
	remoteURL  *url.URL
}

func Default() *Config {
	return &Config{
		Samples:            30,
		Runtime:            30,
		Ramp:               10,
		Device:             "nullb0",
		Jobcounts:          []int{1},
		Workloads:          []string{"read"},
		QueueDepths:        []int{1},
		BlockSizes:         []string{"4k"},
		Fio:                "fio",
		ModuleReloadPolicy: ReloadAlways,
	}
}

// Load merges the given TOML files in order, applies the command-line
// overrides on top, and validates the result.
func Load(files []string, overrides map[string]any) (*Config, error) {
	merged := map[string]any{}
	for _, file := range files {
		raw := map[string]any{}
		if _, err := toml.DecodeFile(file, &raw); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
		maps.Copy(merged, raw)
	}
	maps.Copy(merged, overrides)

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(merged); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules and resolves derived values (parsed
// block sizes, remote URL). It must pass before any host mutation happens.
func (c *Config) Validate() error {
	if c.Insmod && c.Modprobe {
		return fmt.Errorf("cannot set insmod and modprobe at the same time")
	}
	if c.Module != "" && !(c.Insmod || c.Modprobe) {
		return fmt.Errorf("module %s needs either insmod or modprobe", c.Module)
	}
	if c.Compress && !c.Capture {
		return fmt.Errorf("cannot compress without capture")
	}
	if c.Remote != "" && !c.Compress {
		return fmt.Errorf("cannot upload without compress")
	}
	if c.Remote != "" && !c.Capture {
		return fmt.Errorf("cannot upload without capture")
	}

	switch c.ModuleReloadPolicy {
	case ReloadAlways, ReloadOnce:
	default:
		return fmt.Errorf("unknown module reload policy %q", c.ModuleReloadPolicy)
	}

	if c.Samples < 1 {
		return fmt.Errorf("samples must be at least 1, got %d", c.Samples)
	}
	if c.Runtime < 1 {
		return fmt.Errorf("runtime must be at least 1 second, got %d", c.Runtime)
	}
	if c.Ramp < 0 {
		return fmt.Errorf("ramp cannot be negative, got %d", c.Ramp)
	}
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if len(c.Jobcounts) == 0 || len(c.Workloads) == 0 || len(c.QueueDepths) == 0 || len(c.BlockSizes) == 0 {
		return fmt.Errorf("jobcounts, workloads, queue_depths and block_sizes all need at least one entry")
	}
	for _, jobs := range c.Jobcounts {
		if jobs < 1 {
			return fmt.Errorf("jobcount must be at least 1, got %d", jobs)
		}
	}
	for _, qd := range c.QueueDepths {
		if qd < 1 {
			return fmt.Errorf("queue depth must be at least 1, got %d", qd)
		}
	}

	c.blockSizes = c.blockSizes[:0]
	for _, raw := range c.BlockSizes {
		parsed, err := units.ParseSize(raw)
		if err != nil {
			return fmt.Errorf("block size %q: %w", raw, err)
		}
		c.blockSizes = append(c.blockSizes, BlockSize{Raw: raw, Bytes: parsed})
	}

	c.remoteURL = nil
	if c.Remote != "" {
		u, err := url.Parse(c.Remote)
		if err != nil {
			return fmt.Errorf("remote endpoint %q: %w", c.Remote, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote endpoint %q must be an absolute URL", c.Remote)
		}
		c.remoteURL = u
	}

	return nil
}

// ParsedBlockSizes returns the block-size axis with byte values resolved.
// Only valid after Validate.
func (c *Config) ParsedBlockSizes() []BlockSize {
	return c.blockSizes
}

// RemoteURL returns the parsed remote endpoint, or nil when none is
// configured. Only valid after Validate.
func (c *Config) RemoteURL() *url.URL {
	return c.remoteURL
}

// MaxJobs returns the largest configured job count.
func (c *Config) MaxJobs() int {
	m := 0
	for _, jobs := range c.Jobcounts {
		m = max(m, jobs)
	}
	return m
}

// MaxQueueDepth returns the largest configured queue depth.
func (c *Config) MaxQueueDepth() int {
	m := 0
	for _, qd := range c.QueueDepths {
		m = max(m, qd)
	}
	return m
}

// MaxBlockSize returns the largest configured block size in bytes.
// Only valid after Validate.
func (c *Config) MaxBlockSize() units.Bytes {
	var m units.Bytes
	for _, bs := range c.blockSizes {
		m = max(m, bs.Bytes)
	}
	return m
}

// Dump renders the effective configuration as TOML.
func (c *Config) Dump() (string, error) {
	buf := &bytes.Buffer{}
	if err := toml.NewEncoder(buf).Encode(c); err != nil {
		return "", fmt.Errorf("encoding configuration: %w", err)
	}
	return buf.String(), nil
}

// FileExists reports whether a config file path points at a regular file,
// so a missing file is reported before the merge starts.
func FileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("could not find config file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %s is a directory", path)
	}
	return nil
}
