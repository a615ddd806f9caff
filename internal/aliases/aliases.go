// Package aliases turns password manager and alias service exports into the
// set of local-parts that should get a forwarding rule.
package aliases

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/galpt/go-cfer/internal/config"
	"github.com/galpt/go-cfer/internal/logging"
)

var (
	ErrNoHeaders         = errors.New("export has no headers")
	ErrMissingHeader     = errors.New("export is missing header")
	ErrMalformedExport   = errors.New("malformed export")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

const (
	bwUsernameHeader = "login_username"
	bwFieldsHeader   = "fields"
	slAliasHeader    = "alias"
	slEnabledHeader  = "enabled"
	slNoteHeader     = "note"
)

// Options for the extractor.
type Options struct {
	Logger *logging.Logger
}

type Extractor struct {
	logger *logging.Logger
}

func New(o *Options) *Extractor {
	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Extractor{logger: logger}
}

// Extract reads the export named by cfg and returns local-part -> note.
func (e *Extractor) Extract(cfg *config.Config) (map[string]string, error) {
	if cfg.Source == config.SourceBitwarden && cfg.Format == config.FormatJSON {
		return nil, fmt.Errorf("%w: Bitwarden JSON exports are not supported yet", ErrUnsupportedFormat)
	}

	f, err := os.Open(cfg.ExportPath)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	e.logger.Infof("Reading %s export from %s", cfg.Source, cfg.ExportPath)

	var out map[string]string
	switch cfg.Source {
	case config.SourceSimpleLogin:
		out, err = FromSimpleLogin(f)
	case config.SourceBitwarden:
		out, err = FromBitwardenCSV(f, cfg.Domain)
	default:
		return nil, fmt.Errorf("%w: export source %q", ErrUnsupportedFormat, cfg.Source)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Infof("Found %d unique alias(es)", len(out))
	return out, nil
}

// FromSimpleLogin parses a SimpleLogin alias CSV export. Only enabled aliases are kept.
func FromSimpleLogin(r io.Reader) (map[string]string, error) {
	header, records, err := readCSV(r, slAliasHeader, slEnabledHeader, slNoteHeader)
	if err != nil {
		return nil, err
	}
	aliasIdx, enabledIdx, noteIdx := header[slAliasHeader], header[slEnabledHeader], header[slNoteHeader]

	out := make(map[string]string)
	for _, rec := range records {
		if !strings.EqualFold(field(rec, enabledIdx), "true") {
			continue
		}
		local := RemoveDomain(field(rec, aliasIdx))
		if local == "" {
			continue
		}
		out[local] = field(rec, noteIdx)
	}
	return out, nil
}

// FromBitwardenCSV collects every address on domain found in the username
// and custom fields columns of a Bitwarden CSV export.
//
// Later entries overwrite earlier ones: records are applied in file order and,
// within a record, the username before the fields.
func FromBitwardenCSV(r io.Reader, domain string) (map[string]string, error) {
	header, records, err := readCSV(r, bwUsernameHeader, bwFieldsHeader)
	if err != nil {
		return nil, err
	}
	usernameIdx, fieldsIdx := header[bwUsernameHeader], header[bwFieldsHeader]

	suffix := domain
	if !strings.HasPrefix(suffix, "@") {
		suffix = "@" + suffix
	}

	out := make(map[string]string)
	add := func(candidate string) {
		local, ok := localPart(strings.TrimSpace(candidate), suffix)
		if ok {
			out[local] = "Used for " + local
		}
	}
	for _, rec := range records {
		add(field(rec, usernameIdx))
		for _, token := range strings.Split(field(rec, fieldsIdx), " ") {
			add(token)
		}
	}
	return out, nil
}

// RemoveDomain returns address up to the first '@', or address unchanged.
func RemoveDomain(address string) string {
	if i := strings.IndexByte(address, '@'); i >= 0 {
		return address[:i]
	}
	return address
}

// localPart strips every trailing copy of suffix. Results that are empty or
// still contain '@' are not usable local-parts.
func localPart(address, suffix string) (string, bool) {
	if !strings.HasSuffix(address, suffix) {
		return "", false
	}
	local := address
	for strings.HasSuffix(local, suffix) {
		local = strings.TrimSuffix(local, suffix)
	}
	if local == "" || strings.Contains(local, "@") {
		return "", false
	}
	return local, true
}

// readCSV reads the whole file, resolving the required headers before any row
// is looked at.
func readCSV(r io.Reader, required ...string) (map[string]int, [][]string, error) {
	cr := csv.NewReader(r)

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeaders
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, nil, fmt.Errorf("%w '%s'", ErrMissingHeader, name)
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
	}
	return index, records, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}
