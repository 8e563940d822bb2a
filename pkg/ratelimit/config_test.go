package ratelimit

import (
	"errors"
	"testing"
)

func TestParseNoKeyPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    NoKeyPolicy
		wantErr bool
	}{
		{"", NoKeyWarn, false},
		{"warn", NoKeyWarn, false},
		{"BLOCK", NoKeyBlock, false},
		{" allow ", NoKeyAllow, false},
		{"deny", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNoKeyPolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNoKeyPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error = %v, want ErrInvalidPolicy", err)
			}
			if got != tt.want {
				t.Errorf("ParseNoKeyPolicy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRateLimitRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    RateLimitRule
		wantErr bool
	}{
		{"valid", RateLimitRule{Limit: 10, Period: 60}, false},
		{"zero limit without period", RateLimitRule{}, false},
		{"zero limit with period", RateLimitRule{Period: 60}, false},
		{"negative limit", RateLimitRule{Limit: -1, Period: 60}, true},
		{"positive limit zero period", RateLimitRule{Limit: 1}, true},
		{"negative period", RateLimitRule{Period: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRule) {
				t.Errorf("error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	valid := func() *RateLimitConfig {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		mutate  func(*RateLimitConfig)
		wantErr error
	}{
		{
			name:   "defaults are valid",
			mutate: func(*RateLimitConfig) {},
		},
		{
			name: "disabled default skips its validation",
			mutate: func(c *RateLimitConfig) {
				c.Default = DefaultRoute{Disabled: true}
			},
		},
		{
			name:    "bad default pattern",
			mutate:  func(c *RateLimitConfig) { c.Default.Route = "api" },
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "bad default rule",
			mutate:  func(c *RateLimitConfig) { c.Default.Rule = RateLimitRule{Limit: 5} },
			wantErr: ErrInvalidRule,
		},
		{
			name:    "bad explicit rule",
			mutate:  func(c *RateLimitConfig) { c.Rules["/a"] = RateLimitRule{Limit: -1} },
			wantErr: ErrInvalidRule,
		},
		{
			name:    "bad policy",
			mutate:  func(c *RateLimitConfig) { c.NoKeyPolicy = "maybe" },
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "bad driver",
			mutate:  func(c *RateLimitConfig) { c.Driver = "fs" },
			wantErr: ErrConfiguration,
		},
		{
			name:    "negative max keys",
			mutate:  func(c *RateLimitConfig) { c.MaxKeys = -1 },
			wantErr: ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitConfig_ApplyDefaults(t *testing.T) {
	cfg := &RateLimitConfig{}
	cfg.ApplyDefaults()

	if cfg.Default.Route != "/api/**" {
		t.Errorf("Default.Route = %q, want /api/**", cfg.Default.Route)
	}
	if cfg.Default.Rule != (RateLimitRule{Limit: 300, Period: 60}) {
		t.Errorf("Default.Rule = %v, want 300/60s", cfg.Default.Rule)
	}
	if cfg.NoKeyPolicy != NoKeyWarn {
		t.Errorf("NoKeyPolicy = %q, want warn", cfg.NoKeyPolicy)
	}
	if cfg.Driver != DriverMemory {
		t.Errorf("Driver = %q, want memory", cfg.Driver)
	}
	if cfg.MaxKeys != DefaultMaxKeys {
		t.Errorf("MaxKeys = %d, want %d", cfg.MaxKeys, DefaultMaxKeys)
	}
	if cfg.Rules == nil {
		t.Error("Rules should be initialized")
	}
	if cfg.SweepSchedule != DefaultSweepSchedule {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}

	// Explicit values are kept.
	custom := &RateLimitConfig{
		Default:     DefaultRoute{Route: "/v1/**", Rule: RateLimitRule{Limit: 5, Period: 1}},
		NoKeyPolicy: NoKeyBlock,
		Driver:      DriverRedis,
	}
	custom.ApplyDefaults()
	if custom.Default.Route != "/v1/**" || custom.Default.Rule.Limit != 5 || custom.NoKeyPolicy != NoKeyBlock || custom.Driver != DriverRedis {
		t.Errorf("ApplyDefaults() overwrote explicit values: %+v", custom)
	}
}

func TestRateLimitConfig_Hash(t *testing.T) {
	a := DefaultConfig()
	a.Rules["/a"] = RateLimitRule{Limit: 1, Period: 1}
	a.Rules["/b"] = RateLimitRule{Limit: 2, Period: 2}

	b := DefaultConfig()
	b.Rules["/b"] = RateLimitRule{Limit: 2, Period: 2}
	b.Rules["/a"] = RateLimitRule{Limit: 1, Period: 1}

	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := b.Hash()
	if ha != hb {
		t.Error("equal configs hash differently")
	}

	b.Rules["/a"] = RateLimitRule{Limit: 3, Period: 1}
	if hb2, _ := b.Hash(); hb2 == ha {
		t.Error("changed config kept its hash")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled || !cfg.Headers {
		t.Errorf("DefaultConfig() = %+v, want enabled with headers", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}
