package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hostagent/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	General    GeneralConfig      `json:"General"`
	Listener   rawListenerConfig  `json:"Listener"`
	Passive    rawPassiveConfig   `json:"Passive"`
	Storage    StorageConfig      `json:"Storage"`
	File       FileConfig         `json:"File"`
	Kafka      rawKafkaConfig     `json:"Kafka"`
	KafkaRest  rawKafkaRestConfig `json:"KafkaRest"`
	Redis      RedisConfig        `json:"Redis"`
	SOCKSProxy SOCKSConfig        `json:"SocksProxy"`
}

type rawListenerConfig struct {
	DelayStart     string   `json:"DelayStart"`
	Address        string   `json:"Address"`
	Port           int      `json:"Port"`
	Certificate    string   `json:"Certificate"`
	TLSMinVersion  string   `json:"TLSMinVersion"`
	Ciphers        []string `json:"Ciphers"`
	MaxConnections int      `json:"MaxConnections"`
	Token          string   `json:"Token"`
}

type rawPassiveConfig struct {
	DelayStart     string            `json:"DelayStart"`
	Handlers       []string          `json:"Handlers"`
	HandlerTimeout string            `json:"HandlerTimeout"`
	Checks         []rawPassiveCheck `json:"Checks"`
}

type rawPassiveCheck struct {
	Host     string              `json:"Host"`
	Service  string              `json:"Service"`
	Path     string              `json:"Path"`
	Params   map[string][]string `json:"Params"`
	Interval string              `json:"Interval"`
}

type rawKafkaConfig struct {
	Brokers        []string `json:"Brokers"`
	Topic          string   `json:"Topic"`
	Compression    string   `json:"Compression"`
	RequiredAcks   int      `json:"RequiredAcks"`
	MaxRetries     int      `json:"MaxRetries"`
	RetryBackoff   string   `json:"RetryBackoff"`
	FlushFrequency string   `json:"FlushFrequency"`
	FlushMessages  int      `json:"FlushMessages"`
	Timeout        string   `json:"Timeout"`
	EnableTLS      bool     `json:"EnableTLS"`
	TLSCertFile    string   `json:"TLSCertFile"`
	TLSKeyFile     string   `json:"TLSKeyFile"`
	TLSCAFile      string   `json:"TLSCAFile"`
	SASLEnabled    bool     `json:"SASLEnabled"`
	SASLMechanism  string   `json:"SASLMechanism"`
	SASLUser       string   `json:"SASLUser"`
	SASLPassword   string   `json:"SASLPassword"`
}

type rawKafkaRestConfig struct {
	Address string `json:"Address"`
	Topic   string `json:"Topic"`
	Timeout string `json:"Timeout"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"`
}

// Load reads configuration from path and then merges every *.json file of
// overlayDir on top of it in lexical order. overlayDir may be empty or missing.
func Load(path, overlayDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if overlayDir == "" {
		return cfg, nil
	}

	overlays, err := filepath.Glob(filepath.Join(overlayDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list config overlays: %w", err)
	}
	sort.Strings(overlays)

	for _, overlay := range overlays {
		data, err := os.ReadFile(overlay)
		if err != nil {
			return nil, fmt.Errorf("failed to read config overlay %s: %w", overlay, err)
		}
		parsed, err := parseRaw(data)
		if err != nil {
			return nil, fmt.Errorf("config overlay %s: %w", overlay, err)
		}
		cfg.Merge(parsed)
	}

	return cfg, nil
}

// Parse parses configuration from JSON bytes and merges it over the defaults.
func Parse(data []byte) (*Config, error) {
	parsed, err := parseRaw(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(parsed)
	return cfg, nil
}

func parseRaw(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return convertRawConfig(&raw)
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		General:    raw.General,
		Storage:    raw.Storage,
		File:       raw.File,
		Redis:      raw.Redis,
		SOCKSProxy: raw.SOCKSProxy,
	}

	listener, err := convertRawListener(&raw.Listener)
	if err != nil {
		return nil, err
	}
	cfg.Listener = *listener

	passive, err := convertRawPassive(&raw.Passive)
	if err != nil {
		return nil, err
	}
	cfg.Passive = *passive

	kafka, err := convertRawKafka(&raw.Kafka)
	if err != nil {
		return nil, err
	}
	cfg.Kafka = *kafka

	cfg.KafkaRest = KafkaRestConfig{
		Address: raw.KafkaRest.Address,
		Topic:   raw.KafkaRest.Topic,
	}
	if cfg.KafkaRest.Timeout, err = parseDuration("KafkaRest.Timeout", raw.KafkaRest.Timeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

func convertRawListener(raw *rawListenerConfig) (*ListenerConfig, error) {
	l := &ListenerConfig{
		Address:        raw.Address,
		Port:           raw.Port,
		Certificate:    raw.Certificate,
		TLSMinVersion:  raw.TLSMinVersion,
		Ciphers:        raw.Ciphers,
		MaxConnections: raw.MaxConnections,
		Token:          raw.Token,
	}

	var err error
	if l.DelayStart, err = parseDuration("Listener.DelayStart", raw.DelayStart); err != nil {
		return nil, err
	}
	if l.Port < 0 || l.Port > 65535 {
		return nil, fmt.Errorf("invalid Listener.Port %d", l.Port)
	}
	if l.MaxConnections < 0 {
		return nil, fmt.Errorf("invalid Listener.MaxConnections %d", l.MaxConnections)
	}
	return l, nil
}

func convertRawPassive(raw *rawPassiveConfig) (*PassiveConfig, error) {
	p := &PassiveConfig{
		Handlers: raw.Handlers,
	}

	var err error
	if p.DelayStart, err = parseDuration("Passive.DelayStart", raw.DelayStart); err != nil {
		return nil, err
	}
	if p.HandlerTimeout, err = parseDuration("Passive.HandlerTimeout", raw.HandlerTimeout); err != nil {
		return nil, err
	}

	for i, rc := range raw.Checks {
		if rc.Path == "" {
			return nil, fmt.Errorf("passive check %d (%s) has no Path", i, rc.Service)
		}
		interval, err := parseDuration(fmt.Sprintf("Passive.Checks[%d].Interval", i), rc.Interval)
		if err != nil {
			return nil, err
		}
		p.Checks = append(p.Checks, PassiveCheck{
			Host:     rc.Host,
			Service:  rc.Service,
			Path:     rc.Path,
			Params:   rc.Params,
			Interval: interval,
		})
	}
	return p, nil
}

func convertRawKafka(raw *rawKafkaConfig) (*KafkaConfig, error) {
	kafka := &KafkaConfig{
		Brokers:       raw.Brokers,
		Topic:         raw.Topic,
		Compression:   raw.Compression,
		RequiredAcks:  raw.RequiredAcks,
		MaxRetries:    raw.MaxRetries,
		FlushMessages: raw.FlushMessages,
		EnableTLS:     raw.EnableTLS,
		TLSCertFile:   raw.TLSCertFile,
		TLSKeyFile:    raw.TLSKeyFile,
		TLSCAFile:     raw.TLSCAFile,
		SASLEnabled:   raw.SASLEnabled,
		SASLMechanism: raw.SASLMechanism,
		SASLUser:      raw.SASLUser,
		SASLPassword:  raw.SASLPassword,
	}

	var err error
	if kafka.RetryBackoff, err = parseDuration("Kafka.RetryBackoff", raw.RetryBackoff); err != nil {
		return nil, err
	}
	if kafka.FlushFrequency, err = parseDuration("Kafka.FlushFrequency", raw.FlushFrequency); err != nil {
		return nil, err
	}
	if kafka.Timeout, err = parseDuration("Kafka.Timeout", raw.Timeout); err != nil {
		return nil, err
	}
	return kafka, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	return d, nil
}

// LoadLogging reads logging configuration from the specified file path.
// A missing file yields the defaults.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := logger.DefaultConfig()
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()

	// Merge: apply non-zero parsed values over defaults
	if raw.Level != "" {
		def.Level = raw.Level
	}
	if raw.FilePath != "" {
		def.FilePath = raw.FilePath
	}
	if raw.MaxSizeMB != 0 {
		def.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		def.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		def.MaxAgeDays = raw.MaxAgeDays
	}
	if raw.Format != "" {
		def.Format = raw.Format
	}
	def.Compress = raw.Compress
	def.Console = raw.Console

	return &def, nil
}

// ResolvePaths makes every relative file path in the configuration relative
// to baseDir. The agent is usually started by an init system whose working
// directory has nothing to do with the install location.
func (c *Config) ResolvePaths(baseDir string) {
	c.General.PidFile = resolve(baseDir, c.General.PidFile)
	c.Storage.Path = resolve(baseDir, c.Storage.Path)
	c.File.FilePath = resolve(baseDir, c.File.FilePath)
}

// ResolveLoggingPath does the same as ResolvePaths for the log file.
func ResolveLoggingPath(lc *logger.Config, baseDir string) {
	lc.FilePath = resolve(baseDir, lc.FilePath)
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// GetHostname returns the configured hostname or the system hostname.
func GetHostname(cfg *Config) string {
	if cfg.General.Hostname != "" {
		return cfg.General.Hostname
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
