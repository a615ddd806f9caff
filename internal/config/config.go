package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const DefaultAPIHost = "https://api.cloudflare.com/client/v4"

// ExportSource selects which service produced the export file.
type ExportSource string

const (
	SourceSimpleLogin ExportSource = "simplelogin"
	SourceBitwarden   ExportSource = "bitwarden"
)

// ParseExportSource accepts the long names and the short aliases sl/bw.
func ParseExportSource(s string) (ExportSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simplelogin", "simple-login", "sl":
		return SourceSimpleLogin, nil
	case "bitwarden", "bw":
		return SourceBitwarden, nil
	}
	return "", fmt.Errorf("%w: unknown export source %q", ErrInvalidConfig, s)
}

// Label is appended to every imported rule name.
func (s ExportSource) Label() string {
	switch s {
	case SourceSimpleLogin:
		return "Imported from SimpleLogin"
	case SourceBitwarden:
		return "Imported from Bitwarden"
	}
	return "Imported from " + string(s)
}

// ExportFormat is the file format of a Bitwarden export.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", ErrInvalidConfig, s)
}

// Config holds runtime configuration for one run. It is built once by the
// entry point and treated as read-only afterwards.
type Config struct {
	APIToken         string
	ZoneID           string
	APIHost          string
	RateLimitRetries int
	DryRun           bool
	Debug            bool

	// import
	ExportPath         string
	Domain             string
	DestinationAddress string
	Source             ExportSource
	Format             ExportFormat

	// delete
	RouteIDs  []string
	DeleteAll bool
}

// LoadFromEnv reads configuration from environment variables and loads a local .env file if present.
// Missing credentials are not an error here since flags may still provide them; call Validate.
func LoadFromEnv() (*Config, error) {
	// Load .env if present (no-op if not found)
	_ = godotenv.Load()

	// Prefer token, fall back to the old variable name
	token := strings.TrimSpace(os.Getenv("CLOUDFLARE_API_TOKEN"))
	if token == "" {
		token = strings.TrimSpace(os.Getenv("CLOUDFLARE_API_KEY"))
	}

	retries := 0
	if s := strings.TrimSpace(os.Getenv("CLOUDFLARE_RATE_LIMIT_RETRIES")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: CLOUDFLARE_RATE_LIMIT_RETRIES must be a non-negative integer, got %q", ErrInvalidConfig, s)
		}
		retries = v
	}

	apiHost := strings.TrimSpace(os.Getenv("CLOUDFLARE_API_HOST"))
	if apiHost == "" {
		apiHost = DefaultAPIHost
	}

	dry := false
	if v := os.Getenv("DRY_RUN"); v == "1" || strings.ToLower(v) == "true" {
		dry = true
	}

	return &Config{
		APIToken:         token,
		ZoneID:           strings.TrimSpace(os.Getenv("CLOUDFLARE_ZONE_ID")),
		APIHost:          apiHost,
		RateLimitRetries: retries,
		DryRun:           dry,
		Format:           FormatCSV,
		RouteIDs:         readMultiEnv("CFER_ROUTE_IDS"),
	}, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("%w: an API token is required (--cf-api-key or CLOUDFLARE_API_TOKEN)", ErrInvalidConfig)
	}
	if c.ZoneID == "" {
		return fmt.Errorf("%w: a zone identifier is required (--zone-identifier or CLOUDFLARE_ZONE_ID)", ErrInvalidConfig)
	}
	if c.APIHost == "" {
		return fmt.Errorf("%w: API host is empty", ErrInvalidConfig)
	}
	return nil
}

// ValidateImport checks the settings of the import command.
func (c *Config) ValidateImport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ExportPath == "" {
		return fmt.Errorf("%w: an export path is required", ErrInvalidConfig)
	}
	if strings.TrimPrefix(c.Domain, "@") == "" {
		return fmt.Errorf("%w: a domain is required", ErrInvalidConfig)
	}
	if c.DestinationAddress == "" {
		return fmt.Errorf("%w: a destination address is required", ErrInvalidConfig)
	}
	switch c.Source {
	case SourceSimpleLogin, SourceBitwarden:
	default:
		return fmt.Errorf("%w: unknown export source %q", ErrInvalidConfig, c.Source)
	}
	return nil
}

// ValidateDelete checks that exactly one delete target was selected.
func (c *Config) ValidateDelete() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DeleteAll && len(c.RouteIDs) > 0 {
		return fmt.Errorf("%w: route ids and --delete-all are mutually exclusive", ErrInvalidConfig)
	}
	if !c.DeleteAll && len(c.RouteIDs) == 0 {
		return fmt.Errorf("%w: provide route ids or --delete-all", ErrInvalidConfig)
	}
	return nil
}

func readMultiEnv(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	// Accept newline or comma separated
	out := []string{}
	for _, line := range strings.Split(strings.ReplaceAll(v, "\r", ""), "\n") {
		for _, p := range strings.Split(line, ",") {
			if q := strings.TrimSpace(p); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}
