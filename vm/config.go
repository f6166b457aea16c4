package vm

import (
	"time"

	"github.com/rs/zerolog"
)

// MailboxFullBehavior selects what happens when a Send targets a mailbox
// already at capacity (spec §4.4).
type MailboxFullBehavior uint8

const (
	MailboxFullBlock MailboxFullBehavior = iota
	MailboxFullDrop
	MailboxFullKillSender
)

// Config holds the tunables of an Engine, with the defaults spec §9 settles
// on for the open questions around capacity and timeouts.
type Config struct {
	MaxProcesses               int
	MaxStackSize                int
	MaxMailboxSize              int
	MaxReductionsPerSlice       int
	IterationLimit              int
	DefaultMessageTTL           time.Duration
	DefaultReceiveTimeout       time.Duration
	MailboxFullBehavior         MailboxFullBehavior
	EnableMessageAcknowledgments bool
	AutoReactivateProcesses     bool
	MessageCleanupInterval      time.Duration
	Logger                      zerolog.Logger
}

// Option configures a Config during NewEngine, mirroring the teacher pack's
// functional-option idiom (eventloop.LoopOption).
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		MaxProcesses:                 100,
		MaxStackSize:                 1000,
		MaxMailboxSize:               100,
		MaxReductionsPerSlice:        4000,
		IterationLimit:               10000,
		DefaultMessageTTL:            30 * time.Second,
		DefaultReceiveTimeout:        5 * time.Second,
		MailboxFullBehavior:          MailboxFullBlock,
		EnableMessageAcknowledgments: false,
		AutoReactivateProcesses:      true,
		MessageCleanupInterval:       5 * time.Second,
		Logger:                       zerolog.Nop(),
	}
}

func WithMaxProcesses(n int) Option { return func(c *Config) { c.MaxProcesses = n } }

func WithMaxStackSize(n int) Option { return func(c *Config) { c.MaxStackSize = n } }

func WithMaxMailboxSize(n int) Option { return func(c *Config) { c.MaxMailboxSize = n } }

func WithMaxReductionsPerSlice(n int) Option {
	return func(c *Config) { c.MaxReductionsPerSlice = n }
}

func WithIterationLimit(n int) Option { return func(c *Config) { c.IterationLimit = n } }

func WithDefaultMessageTTL(d time.Duration) Option {
	return func(c *Config) { c.DefaultMessageTTL = d }
}

func WithDefaultReceiveTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultReceiveTimeout = d }
}

func WithMailboxFullBehavior(b MailboxFullBehavior) Option {
	return func(c *Config) { c.MailboxFullBehavior = b }
}

func WithMessageAcknowledgments(enabled bool) Option {
	return func(c *Config) { c.EnableMessageAcknowledgments = enabled }
}

func WithAutoReactivateProcesses(enabled bool) Option {
	return func(c *Config) { c.AutoReactivateProcesses = enabled }
}

func WithMessageCleanupInterval(d time.Duration) Option {
	return func(c *Config) { c.MessageCleanupInterval = d }
}

func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// resolveConfig applies opts over defaultConfig and validates the result.
func resolveConfig(opts []Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.MaxProcesses <= 0 {
		return cfg, NewFault(KindValue, "max_processes must be positive")
	}
	if cfg.MaxStackSize <= 0 {
		return cfg, NewFault(KindValue, "max_stack_size must be positive")
	}
	if cfg.MaxMailboxSize <= 0 {
		return cfg, NewFault(KindValue, "max_mailbox_size must be positive")
	}
	if cfg.MaxReductionsPerSlice <= 0 {
		return cfg, NewFault(KindValue, "max_reductions_per_slice must be positive")
	}
	return cfg, nil
}
