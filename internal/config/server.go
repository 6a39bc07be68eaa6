// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ServerConfig representa a configuração completa do nupload-server.
type ServerConfig struct {
	Server   ServerListen   `yaml:"server"`
	TLS      TLSServer      `yaml:"tls"`
	Staging  StagingConfig  `yaml:"staging"`
	Sessions SessionsConfig `yaml:"sessions"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Publish  PublishConfig  `yaml:"publish"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingInfo    `yaml:"logging"`
}

// ServerListen contém o endereço e os timeouts do listener HTTP.
type ServerListen struct {
	Listen          string        `yaml:"listen"`           // default: "0.0.0.0:8080"
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 5m
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 5m
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// TLSServer contém os caminhos dos certificados. Sem server_cert o listener é HTTP puro;
// com client_ca o server exige certificado de cliente (mTLS).
type TLSServer struct {
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
	ClientCA   string `yaml:"client_ca"`
}

// Enabled informa se o listener deve usar TLS.
func (t TLSServer) Enabled() bool {
	return t.ServerCert != ""
}

// StagingConfig configura o staging root e os limites de escrita.
type StagingConfig struct {
	Root           string `yaml:"root"`
	MaxChunkSize   string `yaml:"max_chunk_size"`   // default: "256MiB"
	MaxBatchFiles  int    `yaml:"max_batch_files"`  // default: 10
	WriteRateLimit string `yaml:"write_rate_limit"` // bytes/s por write; vazio = sem limite
	MinFreeSpace   string `yaml:"min_free_space"`   // "10%" ou tamanho absoluto; vazio = sem guarda
	RequireSession bool   `yaml:"require_session"`
	UploadLogDir   string `yaml:"upload_log_dir"` // vazio desativa logs por upload

	MaxChunkSizeRaw   int64   `yaml:"-"`
	WriteRateLimitRaw int64   `yaml:"-"`
	MinFreeBytes      uint64  `yaml:"-"`
	MinFreePercent    float64 `yaml:"-"`
}

// SessionsConfig configura o registro persistente de sessões.
type SessionsConfig struct {
	DBPath string `yaml:"db_path"` // default: {staging.root}/.sessions.db
}

// JanitorConfig configura a expiração de uploads abandonados.
type JanitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // default: "@every 1h"
	MaxAge   time.Duration `yaml:"max_age"`  // default: 24h
}

// PublishConfig configura destinos remotos para os arquivos montados.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config configura o envio do arquivo montado para um bucket S3-compatível.
type S3Config struct {
	Enabled     bool   `yaml:"enabled"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`   // default: "us-east-1"
	Endpoint    string `yaml:"endpoint"` // vazio = AWS
	Prefix      string `yaml:"prefix"`
	AccessKey   string `yaml:"access_key"` // vazio = cadeia padrão de credenciais
	SecretKey   string `yaml:"secret_key"`
	PathStyle   bool   `yaml:"path_style"`
	PartSize    string `yaml:"part_size"` // default: "16MiB"
	Concurrency int    `yaml:"concurrency"`
	RemoveLocal bool   `yaml:"remove_local"`
	PartSizeRaw int64  `yaml:"-"`
}

// AdminConfig configura as rotas administrativas (health, eventos, métricas).
type AdminConfig struct {
	AllowOrigins   []string `yaml:"allow_origins"`    // IP ou CIDR (deny-by-default)
	EventsFile     string   `yaml:"events_file"`      // vazio = só memória
	EventsMaxLines int      `yaml:"events_max_lines"` // default: 10000
	EventsRing     int      `yaml:"events_ring"`      // default: 500

	// Parsed é preenchido em validate(); não vem do YAML.
	ParsedCIDRs []*net.IPNet `yaml:"-"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadServerConfig lê e valida o arquivo YAML de configuração do server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 5 * time.Minute
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.TLS.ServerCert != "" && c.TLS.ServerKey == "" {
		return fmt.Errorf("tls.server_key is required when tls.server_cert is set")
	}
	if c.TLS.ClientCA != "" && c.TLS.ServerCert == "" {
		return fmt.Errorf("tls.client_ca requires tls.server_cert")
	}

	if err := c.validateStaging(); err != nil {
		return err
	}

	if c.Sessions.DBPath == "" {
		c.Sessions.DBPath = strings.TrimRight(c.Staging.Root, "/") + "/.sessions.db"
	}

	if c.Janitor.Enabled {
		if c.Janitor.Schedule == "" {
			c.Janitor.Schedule = "@every 1h"
		}
		if _, err := cron.ParseStandard(c.Janitor.Schedule); err != nil {
			return fmt.Errorf("janitor.schedule: invalid cron expression %q: %w", c.Janitor.Schedule, err)
		}
		if c.Janitor.MaxAge <= 0 {
			c.Janitor.MaxAge = 24 * time.Hour
		}
	}

	if err := c.validatePublish(); err != nil {
		return err
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Admin.EventsMaxLines <= 0 {
		c.Admin.EventsMaxLines = 10000
	}
	if c.Admin.EventsRing <= 0 {
		c.Admin.EventsRing = 500
	}
	for _, origin := range c.Admin.AllowOrigins {
		cidr, err := parseOrigin(origin)
		if err != nil {
			return fmt.Errorf("admin.allow_origins: %w", err)
		}
		c.Admin.ParsedCIDRs = append(c.Admin.ParsedCIDRs, cidr)
	}

	return nil
}

func (c *ServerConfig) validateStaging() error {
	s := &c.Staging
	if s.Root == "" {
		return fmt.Errorf("staging.root is required")
	}

	if s.MaxChunkSize == "" {
		s.MaxChunkSize = "256MiB"
	}
	parsed, err := ParseByteSize(s.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("staging.max_chunk_size: %w", err)
	}
	if parsed <= 0 {
		return fmt.Errorf("staging.max_chunk_size must be > 0, got %s", s.MaxChunkSize)
	}
	s.MaxChunkSizeRaw = parsed

	if s.MaxBatchFiles <= 0 {
		s.MaxBatchFiles = 10
	}

	if s.WriteRateLimit != "" {
		rate, err := ParseByteSize(s.WriteRateLimit)
		if err != nil {
			return fmt.Errorf("staging.write_rate_limit: %w", err)
		}
		s.WriteRateLimitRaw = rate
	}

	if s.MinFreeSpace != "" {
		raw := strings.TrimSpace(s.MinFreeSpace)
		if strings.HasSuffix(raw, "%") {
			var pct float64
			if _, err := fmt.Sscanf(strings.TrimSuffix(raw, "%"), "%g", &pct); err != nil {
				return fmt.Errorf("staging.min_free_space: invalid percentage %q", s.MinFreeSpace)
			}
			if pct <= 0 || pct >= 100 {
				return fmt.Errorf("staging.min_free_space must be between 0%% and 100%%, got %s", s.MinFreeSpace)
			}
			s.MinFreePercent = pct
		} else {
			b, err := humanize.ParseBytes(raw)
			if err != nil {
				return fmt.Errorf("staging.min_free_space: %w", err)
			}
			s.MinFreeBytes = b
		}
	}

	return nil
}

func (c *ServerConfig) validatePublish() error {
	s3 := &c.Publish.S3
	if !s3.Enabled {
		return nil
	}
	if s3.Bucket == "" {
		return fmt.Errorf("publish.s3.bucket is required when publish.s3 is enabled")
	}
	if (s3.AccessKey == "") != (s3.SecretKey == "") {
		return fmt.Errorf("publish.s3.access_key and publish.s3.secret_key must be set together")
	}
	if s3.Region == "" {
		s3.Region = "us-east-1"
	}
	if s3.PartSize == "" {
		s3.PartSize = "16MiB"
	}
	parsed, err := ParseByteSize(s3.PartSize)
	if err != nil {
		return fmt.Errorf("publish.s3.part_size: %w", err)
	}
	// Limite mínimo de parte do multipart upload do S3
	if parsed < 5*1024*1024 {
		return fmt.Errorf("publish.s3.part_size must be at least 5MiB, got %s", s3.PartSize)
	}
	s3.PartSizeRaw = parsed
	if s3.Concurrency <= 0 {
		s3.Concurrency = 4
	}
	s3.Prefix = strings.Trim(s3.Prefix, "/")
	return nil
}

// parseOrigin aceita CIDR ou IP único (convertido para /32 ou /128).
func parseOrigin(origin string) (*net.IPNet, error) {
	origin = strings.TrimSpace(origin)
	if _, cidr, err := net.ParseCIDR(origin); err == nil {
		return cidr, nil
	}
	ip := net.ParseIP(origin)
	if ip == nil {
		return nil, fmt.Errorf("%q is not a valid IP or CIDR", origin)
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// ParseByteSize converte tamanhos human-readable ("256MiB", "1gb", "64kb") ou números puros para bytes.
// Sufixos SI (kb, mb, gb) são decimais; sufixos IEC (KiB, MiB, GiB) são binários.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(n), nil
}
