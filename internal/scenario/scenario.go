// Package scenario drives a kernel from a declarative TOML description:
// named locks, conditions and channels, and threads that execute a list of
// steps against them.
package scenario

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"weft/internal/kthread"
)

// Scenario is a parsed and validated scenario file.
type Scenario struct {
	Path       string
	Name       string
	Kernel     KernelSpec
	Locks      []LockSpec
	Conditions []ConditionSpec
	Channels   []ChannelSpec
	Threads    []ThreadSpec
}

// KernelSpec is the [kernel] table. Unset fields keep kthread defaults.
type KernelSpec struct {
	Scheduler       string `toml:"scheduler"`
	TickInterval    uint64 `toml:"tick_interval"`
	KernelTick      uint64 `toml:"kernel_tick"`
	PriorityMin     *int   `toml:"priority_min"`
	PriorityMax     *int   `toml:"priority_max"`
	PriorityDefault *int   `toml:"priority_default"`
	JoinDonation    bool   `toml:"join_donation"`
	Clock           string `toml:"clock"`
	TickDuration    string `toml:"tick_duration"`
}

type LockSpec struct {
	Name string `toml:"name"`
}

type ConditionSpec struct {
	Name string `toml:"name"`
	Lock string `toml:"lock"`
}

type ChannelSpec struct {
	Name string `toml:"name"`
}

// ThreadSpec is one [[thread]] entry. Threads start when main forks them
// unless autostart is false, in which case a "fork" step must start them.
type ThreadSpec struct {
	Name      string   `toml:"name"`
	Priority  *int     `toml:"priority"`
	Autostart *bool    `toml:"autostart"`
	Steps     []string `toml:"steps"`

	parsed []Step
}

// AutoStarts reports whether main forks the thread.
func (t *ThreadSpec) AutoStarts() bool {
	return t.Autostart == nil || *t.Autostart
}

// Program returns the parsed steps.
func (t *ThreadSpec) Program() []Step { return t.parsed }

type fileConfig struct {
	Name       string          `toml:"name"`
	Kernel     KernelSpec      `toml:"kernel"`
	Locks      []LockSpec      `toml:"lock"`
	Conditions []ConditionSpec `toml:"condition"`
	Channels   []ChannelSpec   `toml:"channel"`
	Threads    []ThreadSpec    `toml:"thread"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	var cfg fileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to parse TOML", path)
	}
	return build(path, cfg, meta)
}

// Parse decodes a scenario from TOML text. path is used for messages only.
func Parse(path, text string) (*Scenario, error) {
	var cfg fileConfig
	meta, err := toml.Decode(text, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to parse TOML", path)
	}
	return build(path, cfg, meta)
}

func build(path string, cfg fileConfig, meta toml.MetaData) (*Scenario, error) {
	if !meta.IsDefined("thread") || len(cfg.Threads) == 0 {
		return nil, errors.Newf("%s: missing [[thread]]", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	sc := &Scenario{
		Path:       path,
		Name:       name,
		Kernel:     cfg.Kernel,
		Locks:      cfg.Locks,
		Conditions: cfg.Conditions,
		Channels:   cfg.Channels,
		Threads:    cfg.Threads,
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// KernelConfig converts the [kernel] table to a kthread.Config.
func (s *Scenario) KernelConfig() (kthread.Config, error) {
	k := s.Kernel
	cfg := kthread.DefaultConfig()

	sched, err := kthread.ParseSchedulerKind(k.Scheduler)
	if err != nil {
		return cfg, errors.Wrapf(err, "%s: [kernel].scheduler", s.Path)
	}
	cfg.Scheduler = sched

	clock, err := kthread.ParseClockMode(k.Clock)
	if err != nil {
		return cfg, errors.Wrapf(err, "%s: [kernel].clock", s.Path)
	}
	cfg.Clock = clock

	if k.TickInterval != 0 {
		cfg.TickInterval = k.TickInterval
	}
	if k.KernelTick != 0 {
		cfg.KernelTick = k.KernelTick
	}
	if k.PriorityMin != nil {
		cfg.Priority.Min = *k.PriorityMin
	}
	if k.PriorityMax != nil {
		cfg.Priority.Max = *k.PriorityMax
	}
	if k.PriorityDefault != nil {
		cfg.Priority.Default = *k.PriorityDefault
	}
	cfg.JoinDonation = k.JoinDonation
	if k.TickDuration != "" {
		d, err := time.ParseDuration(k.TickDuration)
		if err != nil {
			return cfg, errors.Wrapf(err, "%s: [kernel].tick_duration", s.Path)
		}
		cfg.TickDuration = d
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "%s: [kernel]", s.Path)
	}
	return cfg, nil
}

// Thread returns the thread spec named name.
func (s *Scenario) Thread(name string) (*ThreadSpec, bool) {
	for i := range s.Threads {
		if s.Threads[i].Name == name {
			return &s.Threads[i], true
		}
	}
	return nil, false
}
