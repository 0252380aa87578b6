package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de botfleet.
type Config struct {
	Worker      WorkerConfig      `yaml:"worker"`
	API         APIConfig         `yaml:"api"`
	Trading     TradingConfig     `yaml:"trading"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
	Notify      NotifyConfig      `yaml:"notify"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// WorkerConfig controla el ciclo de cada bot.
type WorkerConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`      // espera entre ciclos con el bot activo
	IdleSeconds            int `yaml:"idle_seconds"`          // espera con el bot pausado
	CooldownSeconds        int `yaml:"cooldown_seconds"`      // espera tras un ciclo abortado
	MaxErrors              int `yaml:"max_errors"`            // errores consecutivos antes de escalar
	InventoryRefreshEvery  int `yaml:"inventory_refresh_every"`
	InventoryMaxAgeSeconds int `yaml:"inventory_max_age_seconds"`
	NotifyTimeoutSeconds   int `yaml:"notify_timeout_seconds"`
}

// APIConfig controla el servidor HTTP de administración.
type APIConfig struct {
	Addr string `yaml:"addr"` // vacío o "off" desactiva el servidor
}

// TradingConfig apunta al gateway de trading.
type TradingConfig struct {
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	RatePerSecond       float64 `yaml:"rate_per_second"` // por bot
	Burst               int     `yaml:"burst"`
	ProbeURL            string  `yaml:"probe_url"` // vacío desactiva la comprobación del proxy
	ProbeTimeoutSeconds int     `yaml:"probe_timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN           string `yaml:"dsn"`            // ruta al archivo SQLite, o ":memory:"
	BadgerDir     string `yaml:"badger_dir"`     // configuración de los bots
	EncryptionKey string `yaml:"encryption_key"` // 16, 24 o 32 bytes; vacío = sin cifrado
}

// LogConfig controla el formato y nivel de logging, y los logs de llamadas por bot.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NotifyConfig controla el historial de notificaciones de admin.
type NotifyConfig struct {
	File string `yaml:"file"`
}

// MaintenanceConfig controla las tareas periódicas.
type MaintenanceConfig struct {
	HealthIntervalMinutes int    `yaml:"health_interval_minutes"`
	WarnErrors            int    `yaml:"warn_errors"`
	AutoResume            bool   `yaml:"auto_resume"`
	BackupDir             string `yaml:"backup_dir"`
	BackupIntervalHours   int    `yaml:"backup_interval_hours"`
	BackupKeep            int    `yaml:"backup_keep"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if n := len(cfg.Storage.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("config.Load: storage.encryption_key must be 16, 24 or 32 bytes, got %d", n)
	}
	return &cfg, nil
}

// WorkerInterval devuelve la espera entre ciclos como time.Duration.
func (c *Config) WorkerInterval() time.Duration { return seconds(c.Worker.IntervalSeconds) }

// WorkerIdle devuelve la espera de un bot pausado.
func (c *Config) WorkerIdle() time.Duration { return seconds(c.Worker.IdleSeconds) }

// WorkerCooldown devuelve la espera tras un ciclo abortado.
func (c *Config) WorkerCooldown() time.Duration { return seconds(c.Worker.CooldownSeconds) }

// InventoryMaxAge devuelve la edad máxima del inventario antes de procesar órdenes.
func (c *Config) InventoryMaxAge() time.Duration { return seconds(c.Worker.InventoryMaxAgeSeconds) }

// NotifyTimeout acota cada entrega de notificación.
func (c *Config) NotifyTimeout() time.Duration { return seconds(c.Worker.NotifyTimeoutSeconds) }

// TradingTimeout acota cada llamada al gateway.
func (c *Config) TradingTimeout() time.Duration { return seconds(c.Trading.TimeoutSeconds) }

// ProbeTimeout acota la comprobación del proxy.
func (c *Config) ProbeTimeout() time.Duration { return seconds(c.Trading.ProbeTimeoutSeconds) }

// HealthInterval devuelve el intervalo del monitor de salud.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Maintenance.HealthIntervalMinutes) * time.Minute
}

// BackupInterval devuelve el intervalo entre backups.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Maintenance.BackupIntervalHours) * time.Hour
}

// APIEnabled indica si hay que levantar el servidor HTTP.
func (c *Config) APIEnabled() bool {
	return c.API.Addr != "" && c.API.Addr != "off"
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BOTFLEET_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("TRADE_API_BASE"); v != "" {
		cfg.Trading.BaseURL = v
	}
	if v := os.Getenv("BOTFLEET_BADGER_KEY"); v != "" {
		cfg.Storage.EncryptionKey = v
	}
	if v := os.Getenv("BOTFLEET_AUTO_RESUME"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config.Load: BOTFLEET_AUTO_RESUME: %w", err)
		}
		cfg.Maintenance.AutoResume = b
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	w := &cfg.Worker
	if w.IntervalSeconds <= 0 {
		w.IntervalSeconds = 30
	}
	if w.IdleSeconds <= 0 {
		w.IdleSeconds = 60
	}
	if w.CooldownSeconds <= 0 {
		w.CooldownSeconds = 300
	}
	if w.MaxErrors <= 0 {
		w.MaxErrors = 10
	}
	if w.InventoryRefreshEvery <= 0 {
		w.InventoryRefreshEvery = 10
	}
	if w.InventoryMaxAgeSeconds <= 0 {
		w.InventoryMaxAgeSeconds = 600
	}
	if w.NotifyTimeoutSeconds <= 0 {
		w.NotifyTimeoutSeconds = 5
	}

	if cfg.Trading.BaseURL == "" {
		cfg.Trading.BaseURL = "http://127.0.0.1:8090"
	}
	if cfg.Trading.TimeoutSeconds <= 0 {
		cfg.Trading.TimeoutSeconds = 15
	}
	if cfg.Trading.RatePerSecond <= 0 {
		cfg.Trading.RatePerSecond = 2
	}
	if cfg.Trading.Burst <= 0 {
		cfg.Trading.Burst = 5
	}
	if cfg.Trading.ProbeTimeoutSeconds <= 0 {
		cfg.Trading.ProbeTimeoutSeconds = 10
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "data/botfleet.db"
	}
	if cfg.Storage.BadgerDir == "" {
		cfg.Storage.BadgerDir = "data/bots"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = "logs"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30 // los logs viejos se borran al mes
	}

	if cfg.Notify.File == "" {
		cfg.Notify.File = "data/notifications.jsonl"
	}

	m := &cfg.Maintenance
	if m.HealthIntervalMinutes <= 0 {
		m.HealthIntervalMinutes = 15
	}
	if m.WarnErrors <= 0 {
		m.WarnErrors = 5
	}
	if m.BackupDir == "" {
		m.BackupDir = "backups"
	}
	if m.BackupIntervalHours <= 0 {
		m.BackupIntervalHours = 24
	}
	if m.BackupKeep <= 0 {
		m.BackupKeep = 50
	}
}
