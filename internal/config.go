package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/language"

	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/units"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Documents DocumentsConfig   `yaml:"documents"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Engine    EngineConfig      `yaml:"engine"`
	Events    EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Documents.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Events.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DocumentsConfig points at the directory of XHTML documents.
//
// With WriteBack set, converted markup is written back to the file it was
// loaded from.
type DocumentsConfig struct {
	Path      string `yaml:"path"`
	WriteBack bool   `yaml:"write_back"`
}

// Validate validates the documents configuration.
func (c *DocumentsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EngineConfig selects which elements count as unit tags and how numbers
// are formatted. Empty TagName or TagClass disables that filter.
type EngineConfig struct {
	LabelAttribute     string  `yaml:"label_attribute"`
	MarkerAttribute    string  `yaml:"marker_attribute"`
	TagName            string  `yaml:"tag_name"`
	TagClass           string  `yaml:"tag_class"`
	FontSizeThreshold  float64 `yaml:"font_size_threshold"`
	DefaultFontSize    float64 `yaml:"default_font_size"`
	Locale             string  `yaml:"locale"`
	LegacyPaceRounding bool    `yaml:"legacy_pace_rounding"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LabelAttribute, validation.Required),
		validation.Field(&c.MarkerAttribute, validation.Required,
			validation.NotIn(c.LabelAttribute).Error("must differ from label_attribute")),
		validation.Field(&c.FontSizeThreshold, validation.Required, validation.Min(1.0)),
		validation.Field(&c.DefaultFontSize, validation.Required, validation.Min(1.0)),
		validation.Field(&c.Locale, validation.Required),
	); err != nil {
		return err
	}
	if _, err := language.Parse(c.Locale); err != nil {
		return fmt.Errorf("engine: locale %q: %w", c.Locale, err)
	}
	return nil
}

// Options returns the tag-matching options for the converter.
func (c *EngineConfig) Options() engine.Options {
	return engine.Options{
		LabelAttr:     c.LabelAttribute,
		MarkerAttr:    c.MarkerAttribute,
		TagName:       c.TagName,
		TagClass:      c.TagClass,
		FontSizeLimit: c.FontSizeThreshold,
	}
}

// UnitOptions returns the number formatting options. The locale must
// already have passed Validate.
func (c *EngineConfig) UnitOptions() units.Options {
	return units.Options{
		Locale:             language.Make(c.Locale),
		LegacyPaceRounding: c.LegacyPaceRounding,
	}
}

// EventsConfig tunes the SSE broker.
type EventsConfig struct {
	// Throttle is the minimum gap between document.updated events for the
	// same document.
	Throttle time.Duration `yaml:"throttle"`
	// KeepAlive is the idle interval between SSE comment pings; zero
	// disables them.
	KeepAlive time.Duration `yaml:"keepalive"`
	// ClientBuffer is how many frames a slow client may fall behind before
	// frames are dropped for it.
	ClientBuffer int `yaml:"client_buffer"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	if c.Throttle < 0 {
		return errors.New("events: throttle must not be negative")
	}
	if c.KeepAlive < 0 {
		return errors.New("events: keepalive must not be negative")
	}
	if c.ClientBuffer < 1 {
		return errors.New("events: client_buffer must be at least 1")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	defaults := engine.DefaultOptions()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Documents: DocumentsConfig{
			Path: "./documents",
		},
		SQLite: SQLiteConfig{
			Path: "./unitlens.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Engine: EngineConfig{
			LabelAttribute:    defaults.LabelAttr,
			MarkerAttribute:   defaults.MarkerAttr,
			TagName:           defaults.TagName,
			TagClass:          defaults.TagClass,
			FontSizeThreshold: defaults.FontSizeLimit,
			DefaultFontSize:   dom.DefaultFontSize,
			Locale:            "en-US",
		},
		Events: EventsConfig{
			Throttle:     2 * time.Second,
			KeepAlive:    15 * time.Second,
			ClientBuffer: 64,
		},
	}
}
