package txmanager

import "time"

const defaultMeterName = "lingo-uow.txmanager"

// Config controls default behaviour of the transaction manager component.
type Config struct {
	DefaultIsolation string `json:"defaultIsolation" yaml:"defaultIsolation"`
	// DefaultTimeout bounds every root transaction when positive. Zero leaves
	// the deadline to the caller's context.
	DefaultTimeout time.Duration `json:"defaultTimeout" yaml:"defaultTimeout"`
	LockTimeout    time.Duration `json:"lockTimeout" yaml:"lockTimeout"`
	// Propagation selects the behaviour of nested WithinTx calls: required,
	// nested, requires_new or never.
	Propagation    string `json:"propagation" yaml:"propagation"`
	MeterName      string `json:"meterName" yaml:"meterName"`
	MetricsEnabled *bool  `json:"metricsEnabled" yaml:"metricsEnabled"`
}

func (c Config) sanitized() Config {
	if c.DefaultIsolation == "" {
		c.DefaultIsolation = "read_committed"
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	if c.LockTimeout < 0 {
		c.LockTimeout = 0
	}
	if c.Propagation == "" {
		c.Propagation = PropagationRequired.String()
	}
	if c.MeterName == "" {
		c.MeterName = defaultMeterName
	}
	if c.MetricsEnabled == nil {
		enabled := true
		c.MetricsEnabled = &enabled
	}
	return c
}

func (c Config) metricsEnabledValue() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

// TxOptionPreset groups the most commonly used transaction presets derived from
// configuration defaults.
type TxOptionPreset struct {
	Default      TxOptions
	Serializable TxOptions
	ReadOnly     TxOptions
}

// BuildPresets builds the preset transaction options using the provided
// configuration values.
func (c Config) BuildPresets() TxOptionPreset {
	cfg := c.sanitized()
	defaultOpt := TxOptions{
		Isolation:   ParseIsolation(cfg.DefaultIsolation),
		AccessMode:  ReadWrite,
		Propagation: ParsePropagation(cfg.Propagation),
		Timeout:     cfg.DefaultTimeout,
		LockTimeout: cfg.LockTimeout,
	}
	serializable := defaultOpt
	serializable.Isolation = Serializable

	readOnly := defaultOpt
	readOnly.AccessMode = ReadOnly

	return TxOptionPreset{
		Default:      defaultOpt,
		Serializable: serializable,
		ReadOnly:     readOnly,
	}
}
