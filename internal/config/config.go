// Package config provides configuration management for hostagent.
package config

import (
	"time"
)

// Config is the root configuration structure.
type Config struct {
	General    GeneralConfig   `json:"General"`
	Listener   ListenerConfig  `json:"Listener"`
	Passive    PassiveConfig   `json:"Passive"`
	Storage    StorageConfig   `json:"Storage"`
	File       FileConfig      `json:"File"`
	Kafka      KafkaConfig     `json:"Kafka"`
	KafkaRest  KafkaRestConfig `json:"KafkaRest"`
	Redis      RedisConfig     `json:"Redis"`
	SOCKSProxy SOCKSConfig     `json:"SocksProxy"`
}

// GeneralConfig holds daemon-wide settings.
type GeneralConfig struct {
	PidFile  string `json:"PidFile"`
	User     string `json:"User"`  // name or numeric uid
	Group    string `json:"Group"` // name or numeric gid
	Hostname string `json:"Hostname"`
}

// ListenerConfig holds the API listener settings.
type ListenerConfig struct {
	DelayStart     time.Duration `json:"DelayStart"`
	Address        string        `json:"Address"`
	Port           int           `json:"Port"`
	Certificate    string        `json:"Certificate"` // "adhoc" or "cert.pem,key.pem"
	TLSMinVersion  string        `json:"TLSMinVersion"`
	Ciphers        []string      `json:"Ciphers,omitempty"`
	MaxConnections int           `json:"MaxConnections"`
	Token          string        `json:"Token"`
}

// PassiveConfig holds the passive worker settings.
type PassiveConfig struct {
	DelayStart     time.Duration  `json:"DelayStart"`
	Handlers       []string       `json:"Handlers"`
	HandlerTimeout time.Duration  `json:"HandlerTimeout"`
	Checks         []PassiveCheck `json:"Checks"`
}

// PassiveCheck is a single scheduled check pushed by the passive handlers.
type PassiveCheck struct {
	Host     string              `json:"Host"`
	Service  string              `json:"Service"`
	Path     string              `json:"Path"` // e.g. "services"
	Params   map[string][]string `json:"Params,omitempty"`
	Interval time.Duration       `json:"Interval"`
}

// StorageConfig holds the check history database settings.
type StorageConfig struct {
	Path          string `json:"Path"`
	RetentionDays int    `json:"RetentionDays"`
}

// FileConfig contains settings for the file handler.
type FileConfig struct {
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	Console    bool   `json:"Console"`
	Pretty     bool   `json:"Pretty"`
}

// KafkaConfig contains Kafka connection settings.
type KafkaConfig struct {
	Brokers        []string      `json:"Brokers"`
	Topic          string        `json:"Topic"`
	Compression    string        `json:"Compression"`
	RequiredAcks   int           `json:"RequiredAcks"`
	MaxRetries     int           `json:"MaxRetries"`
	RetryBackoff   time.Duration `json:"RetryBackoff"`
	FlushFrequency time.Duration `json:"FlushFrequency"`
	FlushMessages  int           `json:"FlushMessages"`
	Timeout        time.Duration `json:"Timeout"`
	EnableTLS      bool          `json:"EnableTLS"`
	TLSCertFile    string        `json:"TLSCertFile"`
	TLSKeyFile     string        `json:"TLSKeyFile"`
	TLSCAFile      string        `json:"TLSCAFile"`
	SASLEnabled    bool          `json:"SASLEnabled"`
	SASLMechanism  string        `json:"SASLMechanism"`
	SASLUser       string        `json:"SASLUser"`
	SASLPassword   string        `json:"SASLPassword"`
}

// KafkaRestConfig contains settings for the Kafka REST proxy handler.
type KafkaRestConfig struct {
	Address string        `json:"Address"`
	Topic   string        `json:"Topic"`
	Timeout time.Duration `json:"Timeout"`
}

// RedisConfig contains settings for the redis handler.
type RedisConfig struct {
	Address  string `json:"Address"`
	Password string `json:"Password"`
	DB       int    `json:"DB"`
	Key      string `json:"Key"`    // list the results are pushed to
	MaxLen   int64  `json:"MaxLen"` // list is trimmed to this length, 0 = unbounded
}

// SOCKSConfig contains SOCKS5 proxy settings.
type SOCKSConfig struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// DefaultListenerAddress is the listen address used when none is configured.
const DefaultListenerAddress = "::"

// DebugPort is the listener port forced in debug mode.
const DebugPort = 5700

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			PidFile: "var/run/hostagent.pid",
			User:    "nagios",
			Group:   "nagios",
		},
		Listener: ListenerConfig{
			Address:        DefaultListenerAddress,
			Port:           5693,
			Certificate:    "adhoc",
			TLSMinVersion:  "1.2",
			MaxConnections: 200,
		},
		Passive: PassiveConfig{
			HandlerTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:          "var/run/hostagent.db",
			RetentionDays: 30,
		},
		File: FileConfig{
			FilePath:   "var/log/passive.jsonl",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "hostagent-checks",
			Compression:    "snappy",
			RequiredAcks:   1,
			MaxRetries:     3,
			RetryBackoff:   100 * time.Millisecond,
			FlushFrequency: 500 * time.Millisecond,
			FlushMessages:  100,
			Timeout:        10 * time.Second,
		},
		KafkaRest: KafkaRestConfig{
			Topic:   "hostagent-checks",
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Key:     "hostagent:checks",
			MaxLen:  10000,
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// General
	if other.General.PidFile != "" {
		c.General.PidFile = other.General.PidFile
	}
	if other.General.User != "" {
		c.General.User = other.General.User
	}
	if other.General.Group != "" {
		c.General.Group = other.General.Group
	}
	if other.General.Hostname != "" {
		c.General.Hostname = other.General.Hostname
	}

	// Listener
	if other.Listener.DelayStart != 0 {
		c.Listener.DelayStart = other.Listener.DelayStart
	}
	if other.Listener.Address != "" {
		c.Listener.Address = other.Listener.Address
	}
	if other.Listener.Port != 0 {
		c.Listener.Port = other.Listener.Port
	}
	if other.Listener.Certificate != "" {
		c.Listener.Certificate = other.Listener.Certificate
	}
	if other.Listener.TLSMinVersion != "" {
		c.Listener.TLSMinVersion = other.Listener.TLSMinVersion
	}
	if len(other.Listener.Ciphers) > 0 {
		c.Listener.Ciphers = other.Listener.Ciphers
	}
	if other.Listener.MaxConnections != 0 {
		c.Listener.MaxConnections = other.Listener.MaxConnections
	}
	if other.Listener.Token != "" {
		c.Listener.Token = other.Listener.Token
	}

	// Passive
	if other.Passive.DelayStart != 0 {
		c.Passive.DelayStart = other.Passive.DelayStart
	}
	if other.Passive.Handlers != nil {
		c.Passive.Handlers = other.Passive.Handlers
	}
	if other.Passive.HandlerTimeout != 0 {
		c.Passive.HandlerTimeout = other.Passive.HandlerTimeout
	}
	// Overlay files add checks rather than replacing them.
	c.Passive.Checks = append(c.Passive.Checks, other.Passive.Checks...)

	// Storage
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.RetentionDays != 0 {
		c.Storage.RetentionDays = other.Storage.RetentionDays
	}

	// File handler
	if other.File.FilePath != "" {
		c.File.FilePath = other.File.FilePath
	}
	if other.File.MaxSizeMB != 0 {
		c.File.MaxSizeMB = other.File.MaxSizeMB
	}
	if other.File.MaxBackups != 0 {
		c.File.MaxBackups = other.File.MaxBackups
	}
	c.File.Console = c.File.Console || other.File.Console
	c.File.Pretty = c.File.Pretty || other.File.Pretty

	// Kafka handler
	if len(other.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = other.Kafka.Brokers
	}
	if other.Kafka.Topic != "" {
		c.Kafka.Topic = other.Kafka.Topic
	}
	if other.Kafka.Compression != "" {
		c.Kafka.Compression = other.Kafka.Compression
	}
	if other.Kafka.RequiredAcks != 0 {
		c.Kafka.RequiredAcks = other.Kafka.RequiredAcks
	}
	if other.Kafka.MaxRetries != 0 {
		c.Kafka.MaxRetries = other.Kafka.MaxRetries
	}
	if other.Kafka.RetryBackoff != 0 {
		c.Kafka.RetryBackoff = other.Kafka.RetryBackoff
	}
	if other.Kafka.FlushFrequency != 0 {
		c.Kafka.FlushFrequency = other.Kafka.FlushFrequency
	}
	if other.Kafka.FlushMessages != 0 {
		c.Kafka.FlushMessages = other.Kafka.FlushMessages
	}
	if other.Kafka.Timeout != 0 {
		c.Kafka.Timeout = other.Kafka.Timeout
	}
	c.Kafka.EnableTLS = c.Kafka.EnableTLS || other.Kafka.EnableTLS
	if other.Kafka.TLSCertFile != "" {
		c.Kafka.TLSCertFile = other.Kafka.TLSCertFile
	}
	if other.Kafka.TLSKeyFile != "" {
		c.Kafka.TLSKeyFile = other.Kafka.TLSKeyFile
	}
	if other.Kafka.TLSCAFile != "" {
		c.Kafka.TLSCAFile = other.Kafka.TLSCAFile
	}
	c.Kafka.SASLEnabled = c.Kafka.SASLEnabled || other.Kafka.SASLEnabled
	if other.Kafka.SASLMechanism != "" {
		c.Kafka.SASLMechanism = other.Kafka.SASLMechanism
	}
	if other.Kafka.SASLUser != "" {
		c.Kafka.SASLUser = other.Kafka.SASLUser
	}
	if other.Kafka.SASLPassword != "" {
		c.Kafka.SASLPassword = other.Kafka.SASLPassword
	}

	// KafkaRest handler
	if other.KafkaRest.Address != "" {
		c.KafkaRest.Address = other.KafkaRest.Address
	}
	if other.KafkaRest.Topic != "" {
		c.KafkaRest.Topic = other.KafkaRest.Topic
	}
	if other.KafkaRest.Timeout != 0 {
		c.KafkaRest.Timeout = other.KafkaRest.Timeout
	}

	// Redis handler
	if other.Redis.Address != "" {
		c.Redis.Address = other.Redis.Address
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	if other.Redis.Key != "" {
		c.Redis.Key = other.Redis.Key
	}
	if other.Redis.MaxLen != 0 {
		c.Redis.MaxLen = other.Redis.MaxLen
	}

	// SOCKS proxy
	if other.SOCKSProxy.Host != "" {
		c.SOCKSProxy.Host = other.SOCKSProxy.Host
	}
	if other.SOCKSProxy.Port != 0 {
		c.SOCKSProxy.Port = other.SOCKSProxy.Port
	}
}
