package display

import (
	"fmt"
	"io"
	"os"
	"slices"
)

// Config holds output options
type Config struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`
	Quiet         bool   `mapstructure:"quiet" yaml:"quiet"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the default output configuration
func DefaultConfig() *Config {
	return &Config{
		ColorEnabled:  true,
		Theme:         "dark",
		OutputFormat:  string(FormatTable),
		TableStyle:    "default",
		MaxTableWidth: 0,
		Writer:        os.Stdout,
	}
}

// SetDefaults fills unset options
func (c *Config) SetDefaults() {
	if c.Theme == "" {
		c.Theme = "dark"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = string(FormatTable)
	}
	if c.TableStyle == "" {
		c.TableStyle = "default"
	}
	if c.Writer == nil {
		c.Writer = os.Stdout
	}
}

// Validate checks option values
func (c *Config) Validate() error {
	formats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
	if !slices.Contains(formats, c.OutputFormat) {
		return fmt.Errorf("invalid output format '%s', must be one of: table, json, yaml", c.OutputFormat)
	}
	if !slices.Contains([]string{"dark", "light", "plain", "none"}, c.Theme) {
		return fmt.Errorf("invalid theme '%s'", c.Theme)
	}
	if !slices.Contains([]string{"default", "rounded", "compact"}, c.TableStyle) {
		return fmt.Errorf("invalid table style '%s'", c.TableStyle)
	}
	return nil
}
