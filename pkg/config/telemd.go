package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"telemlink/pkg/protocol"
)

const DefaultConfigPath = "telemd.toml"

type TelemdConfig struct {
	Decoder    DecoderConfig `toml:"decoder"`
	Source     SourceConfig  `toml:"source"`
	Feed       FeedConfig    `toml:"feed"`
	Log        LogConfig     `toml:"log"`
	Layouts    []LayoutDef   `toml:"layouts,omitempty"`
	configPath string        `toml:"-"`
}

type DecoderConfig struct {
	Layout    string `toml:"layout"`
	FrameSize int    `toml:"frame_size"`
	// Header holds the two frame start bytes.
	Header               []int  `toml:"header"`
	OnTotalResyncFailure string `toml:"on_total_resync_failure"`
}

type SourceConfig struct {
	Addr         string `toml:"addr"`
	Reconnect    string `toml:"reconnect"`
	ReconnectMax string `toml:"reconnect_max"`
	DialTimeout  string `toml:"dial_timeout"`
	ReadTimeout  string `toml:"read_timeout,omitempty"`
	Buf          int    `toml:"buf"`
	ReaderBuf    int    `toml:"reader_buf"`
}

type FeedConfig struct {
	Addr    string `toml:"addr"`
	SendBuf int    `toml:"send_buf"`
	History int    `toml:"history"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	NoColor bool   `toml:"no_color"`
}

// LayoutDef describes a custom payload layout. Offsets are relative to the
// payload, which starts right after the length byte.
type LayoutDef struct {
	Name           string     `toml:"name"`
	TimestampField string     `toml:"timestamp_field,omitempty"`
	Fields         []FieldDef `toml:"fields"`
}

// FieldDef maps one payload field. The physical value is raw*scale/div;
// zero or absent scale and div mean 1.
type FieldDef struct {
	Name   string  `toml:"name"`
	CType  string  `toml:"c_type"`
	Offset int     `toml:"offset"`
	Scale  float64 `toml:"scale,omitempty"`
	Div    float64 `toml:"div,omitempty"`
}

func Default() TelemdConfig {
	return TelemdConfig{
		Decoder: DecoderConfig{
			Layout:               "canphon",
			FrameSize:            protocol.DefaultFrameSize,
			Header:               []int{protocol.DefaultHeader1, protocol.DefaultHeader2},
			OnTotalResyncFailure: protocol.DropBuffer.String(),
		},
		Source: SourceConfig{
			Addr:         "127.0.0.1:19021",
			Reconnect:    "1s",
			ReconnectMax: "30s",
			DialTimeout:  "5s",
			Buf:          256,
			ReaderBuf:    4 * 1024,
		},
		Feed: FeedConfig{
			Addr:    "127.0.0.1:8765",
			SendBuf: 64,
			History: 500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Layouts: []LayoutDef{},
	}
}

func Load(path string) (TelemdConfig, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return TelemdConfig{}, err
	}
	if !exists {
		return TelemdConfig{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to Default when the file does not
// exist. Keys the file leaves out keep their defaults.
func LoadOrDefault(path string) (TelemdConfig, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return TelemdConfig{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return TelemdConfig{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return TelemdConfig{}, true, err
	}
	return cfg, true, nil
}

func (cfg *TelemdConfig) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *TelemdConfig) ConfigPath() string {
	return cfg.configPath
}

func (cfg *TelemdConfig) Validate() error {
	if cfg.Decoder.FrameSize <= protocol.FrameOverhead {
		return fmt.Errorf("decoder.frame_size too small: %d", cfg.Decoder.FrameSize)
	}
	if cfg.Decoder.FrameSize-protocol.PayloadOffset > 0xFF {
		return fmt.Errorf("decoder.frame_size too large for a one byte length: %d", cfg.Decoder.FrameSize)
	}
	if len(cfg.Decoder.Header) != 2 {
		return fmt.Errorf("decoder.header needs exactly 2 bytes, got %d", len(cfg.Decoder.Header))
	}
	for _, b := range cfg.Decoder.Header {
		if b < 0 || b > 0xFF {
			return fmt.Errorf("decoder.header byte out of range: %d", b)
		}
	}
	if _, err := protocol.ParseResyncPolicy(cfg.Decoder.OnTotalResyncFailure); err != nil {
		return fmt.Errorf("decoder.on_total_resync_failure: %w", err)
	}

	for key, raw := range map[string]string{
		"source.reconnect":     cfg.Source.Reconnect,
		"source.reconnect_max": cfg.Source.ReconnectMax,
		"source.dial_timeout":  cfg.Source.DialTimeout,
		"source.read_timeout":  cfg.Source.ReadTimeout,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			return fmt.Errorf("%s: invalid duration %q", key, raw)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Layouts))
	for _, def := range cfg.Layouts {
		if def.Name == "" {
			return fmt.Errorf("layout has empty name")
		}
		if _, ok := seen[def.Name]; ok {
			return fmt.Errorf("duplicate layout: %s", def.Name)
		}
		seen[def.Name] = struct{}{}
		if _, err := def.Build(); err != nil {
			return err
		}
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	layout, err := catalog.Lookup(cfg.Decoder.Layout)
	if err != nil {
		return fmt.Errorf("decoder.layout: %w", err)
	}
	if layout.MinFrameSize() > cfg.Decoder.FrameSize {
		return fmt.Errorf("decoder.layout %s needs frame_size >= %d, got %d",
			layout.Name(), layout.MinFrameSize(), cfg.Decoder.FrameSize)
	}
	return nil
}

func (cfg *TelemdConfig) normalize(path string) {
	def := Default()

	cfg.Decoder.Layout = strings.TrimSpace(cfg.Decoder.Layout)
	if cfg.Decoder.Layout == "" {
		cfg.Decoder.Layout = def.Decoder.Layout
	}
	if cfg.Decoder.FrameSize == 0 {
		cfg.Decoder.FrameSize = def.Decoder.FrameSize
	}
	if len(cfg.Decoder.Header) == 0 {
		cfg.Decoder.Header = append([]int(nil), def.Decoder.Header...)
	}
	cfg.Decoder.OnTotalResyncFailure = strings.ToLower(strings.TrimSpace(cfg.Decoder.OnTotalResyncFailure))
	if cfg.Decoder.OnTotalResyncFailure == "" {
		cfg.Decoder.OnTotalResyncFailure = def.Decoder.OnTotalResyncFailure
	}

	if cfg.Source.Addr == "" {
		cfg.Source.Addr = def.Source.Addr
	}
	if cfg.Source.Reconnect == "" {
		cfg.Source.Reconnect = def.Source.Reconnect
	}
	if cfg.Source.ReconnectMax == "" {
		cfg.Source.ReconnectMax = def.Source.ReconnectMax
	}
	if cfg.Source.DialTimeout == "" {
		cfg.Source.DialTimeout = def.Source.DialTimeout
	}
	if cfg.Source.Buf <= 0 {
		cfg.Source.Buf = def.Source.Buf
	}
	if cfg.Source.ReaderBuf <= 0 {
		cfg.Source.ReaderBuf = def.Source.ReaderBuf
	}

	if cfg.Feed.Addr == "" {
		cfg.Feed.Addr = def.Feed.Addr
	}
	if cfg.Feed.SendBuf <= 0 {
		cfg.Feed.SendBuf = def.Feed.SendBuf
	}
	if cfg.Feed.History <= 0 {
		cfg.Feed.History = def.Feed.History
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	if cfg.Layouts == nil {
		cfg.Layouts = []LayoutDef{}
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}

// Build turns the definition into a layout. Without timestamp_field the
// layout's first field is used.
func (def LayoutDef) Build() (*protocol.FieldLayout, error) {
	fields := make([]protocol.Field, 0, len(def.Fields))
	for _, fd := range def.Fields {
		typ, err := protocol.ParseFieldType(fd.CType)
		if err != nil {
			return nil, fmt.Errorf("layout %s field %s: %w", def.Name, fd.Name, err)
		}
		fields = append(fields, protocol.Field{
			Name:   fd.Name,
			Offset: fd.Offset,
			Type:   typ,
			Scale:  fd.Scale,
			Div:    fd.Div,
		})
	}

	ts := def.TimestampField
	if ts == "" && len(def.Fields) > 0 {
		ts = def.Fields[0].Name
	}
	layout, err := protocol.NewFieldLayout(def.Name, ts, fields...)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", def.Name, err)
	}
	return layout, nil
}

// BuildCatalog returns the built-in layouts with the custom ones
// registered over them.
func (cfg *TelemdConfig) BuildCatalog() (*protocol.Catalog, error) {
	catalog := protocol.DefaultCatalog()
	for _, def := range cfg.Layouts {
		layout, err := def.Build()
		if err != nil {
			return nil, err
		}
		catalog.Register(layout)
	}
	return catalog, nil
}

// NewDecoder builds the decoder described by the [decoder] section.
func (cfg *TelemdConfig) NewDecoder() (*protocol.Decoder, error) {
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}
	layout, err := catalog.Lookup(cfg.Decoder.Layout)
	if err != nil {
		return nil, err
	}
	policy, err := protocol.ParseResyncPolicy(cfg.Decoder.OnTotalResyncFailure)
	if err != nil {
		return nil, err
	}
	h1, h2 := cfg.HeaderBytes()
	return protocol.NewDecoder(layout, cfg.Decoder.FrameSize,
		protocol.WithHeader(h1, h2),
		protocol.WithResyncPolicy(policy),
	)
}

func (cfg *TelemdConfig) HeaderBytes() (byte, byte) {
	if len(cfg.Decoder.Header) != 2 {
		return protocol.DefaultHeader1, protocol.DefaultHeader2
	}
	return byte(cfg.Decoder.Header[0]), byte(cfg.Decoder.Header[1])
}

// Durations returns reconnect, reconnect_max, dial_timeout and
// read_timeout. Unparseable values come back as zero, which the
// transport treats as "keep default".
func (s SourceConfig) Durations() (reconnect, reconnectMax, dial, read time.Duration) {
	return parseDuration(s.Reconnect), parseDuration(s.ReconnectMax),
		parseDuration(s.DialTimeout), parseDuration(s.ReadTimeout)
}

func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
