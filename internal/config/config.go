package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Google       GoogleConfig       `mapstructure:"google"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Email        EmailConfig        `mapstructure:"email"`
	Event        EventConfig        `mapstructure:"event"`
	Sheet        SheetConfig        `mapstructure:"sheet"`
	Gate         GateConfig         `mapstructure:"gate"`
	Attendance   AttendanceConfig   `mapstructure:"attendance"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WriteTimeout bounds a whole request, including a full dispatch run.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GoogleConfig holds the service account used for the Sheets API (and the
// Gmail API when email.provider is "gmail").
type GoogleConfig struct {
	// CredentialsJSON is the full service account key file content.
	// When empty, the discrete fields below are assembled into one.
	CredentialsJSON   string `mapstructure:"credentials_json"`
	ProjectID         string `mapstructure:"project_id"`
	PrivateKeyID      string `mapstructure:"private_key_id"`
	PrivateKey        string `mapstructure:"private_key"`
	ClientEmail       string `mapstructure:"client_email"`
	ClientID          string `mapstructure:"client_id"`
	ClientX509CertURL string `mapstructure:"client_x509_cert_url"`
}

// ServiceAccountJSON returns the service account key as JSON.
func (c GoogleConfig) ServiceAccountJSON() ([]byte, error) {
	if c.CredentialsJSON != "" {
		return []byte(c.CredentialsJSON), nil
	}
	if c.ClientEmail == "" || c.PrivateKey == "" {
		return nil, fmt.Errorf("google: client_email and private_key are required")
	}

	// Keys pasted into env files usually carry escaped newlines
	key := strings.ReplaceAll(c.PrivateKey, `\n`, "\n")

	return json.Marshal(map[string]string{
		"type":                        "service_account",
		"project_id":                  c.ProjectID,
		"private_key_id":              c.PrivateKeyID,
		"private_key":                 key,
		"client_email":                c.ClientEmail,
		"client_id":                   c.ClientID,
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   "https://oauth2.googleapis.com/token",
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
		"client_x509_cert_url":        c.ClientX509CertURL,
		"universe_domain":             "googleapis.com",
	})
}

// ServiceAccountEmail returns the identity spreadsheets must be shared with.
func (c GoogleConfig) ServiceAccountEmail() string {
	if c.ClientEmail != "" {
		return c.ClientEmail
	}
	var key struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal([]byte(c.CredentialsJSON), &key); err != nil {
		return ""
	}
	return key.ClientEmail
}

// SMTPConfig holds SMTP transport configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// SSL selects implicit TLS (port 465). STARTTLS is used otherwise when offered.
	SSL bool `mapstructure:"ssl"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is the transport to use: "smtp" or "gmail"
	Provider string `mapstructure:"provider"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
	// GmailSender is the mailbox impersonated through domain-wide delegation
	GmailSender string `mapstructure:"gmail_sender"`
	// QRCode embeds a QR rendering of the attendance code in the email
	QRCode bool `mapstructure:"qr_code"`
}

// EventConfig holds the static event metadata rendered into every email
type EventConfig struct {
	Name       string   `mapstructure:"name"`
	CodePrefix string   `mapstructure:"code_prefix"`
	Subject    string   `mapstructure:"subject"`
	Date       string   `mapstructure:"date"`
	Time       string   `mapstructure:"time"`
	Venue      string   `mapstructure:"venue"`
	Location   string   `mapstructure:"location"`
	Team       string   `mapstructure:"team"`
	Notes      []string `mapstructure:"notes"`
}

// SheetConfig describes the spreadsheet layout
type SheetConfig struct {
	Range             string        `mapstructure:"range"`
	TrackingColumn    string        `mapstructure:"tracking_column"`
	NameColumn        string        `mapstructure:"name_column"`
	EmailColumn       string        `mapstructure:"email_column"`
	EligibilityColumn string        `mapstructure:"eligibility_column"`
	EligibleValue     string        `mapstructure:"eligible_value"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

// GateConfig holds the confirmation passcode
type GateConfig struct {
	Passcode string `mapstructure:"passcode"`
	// PasscodeHash is a bcrypt hash; it takes precedence over Passcode
	PasscodeHash string `mapstructure:"passcode_hash"`
	// EnforceAPI requires the passcode header on POST /send-emails
	EnforceAPI bool `mapstructure:"enforce_api"`
}

// AttendanceConfig holds attendance code verification settings
type AttendanceConfig struct {
	CodePattern string `mapstructure:"code_pattern"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// A local .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/automailer")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("AUTOMAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Google defaults (keys must be bound explicitly for AutomaticEnv to see them)
	v.SetDefault("google.credentials_json", "")
	v.SetDefault("google.project_id", "")
	v.SetDefault("google.private_key_id", "")
	v.SetDefault("google.private_key", "")
	v.SetDefault("google.client_email", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_x509_cert_url", "")

	// SMTP defaults
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 465)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.ssl", true)

	// Email defaults
	v.SetDefault("email.provider", "smtp")
	v.SetDefault("email.sender_name", "OSC HR Team")
	v.SetDefault("email.gmail_sender", "")
	v.SetDefault("email.qr_code", true)

	// Event defaults
	v.SetDefault("event.name", "Winter Blender Workshop")
	v.SetDefault("event.code_prefix", "OSC25WW")
	v.SetDefault("event.subject", "OSC Blender Workshop Registration Confirmation")
	v.SetDefault("event.date", "Sunday, 26th of January, 2025")
	v.SetDefault("event.time", "11:00 AM - 2:00 PM")
	v.SetDefault("event.venue", "Faculty of Computer and Information Sciences (FCIS)")
	v.SetDefault("event.location", "Saied Abdulwahab Hall")
	v.SetDefault("event.team", "The OSC HR Team")
	v.SetDefault("event.notes", []string{
		"Arrive 15 minutes before the start time",
		"Bring your laptop with Blender installed",
		"Keep your attendance code ready for check-in",
	})

	// Sheet defaults
	v.SetDefault("sheet.range", "A:ZZ")
	v.SetDefault("sheet.tracking_column", "Unique ID")
	v.SetDefault("sheet.name_column", "Name")
	v.SetDefault("sheet.email_column", "Email")
	v.SetDefault("sheet.eligibility_column", "Are you a student at FCIS?")
	v.SetDefault("sheet.eligible_value", "yes")
	v.SetDefault("sheet.lock_ttl", "15m")

	// Gate defaults
	v.SetDefault("gate.passcode", "OSC2025")
	v.SetDefault("gate.passcode_hash", "")
	v.SetDefault("gate.enforce_api", false)

	// Attendance defaults
	v.SetDefault("attendance.code_pattern", `^OSCWW\d{3}$`)

	// Rate limiting defaults
	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.limit", 30)
	v.SetDefault("rate_limiting.window", "1m")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}
