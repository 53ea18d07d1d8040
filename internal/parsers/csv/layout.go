package csv

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var embeddedLayouts []byte

// Columns maps canonical fields to header names of a bank export
type Columns struct {
	Date                string   `yaml:"date"`
	ValueDate           string   `yaml:"value_date"`
	Amount              string   `yaml:"amount"`
	Debit               string   `yaml:"debit"`
	Credit              string   `yaml:"credit"`
	Direction           string   `yaml:"direction"`
	Currency            string   `yaml:"currency"`
	Status              string   `yaml:"status"`
	Account             string   `yaml:"account"`
	Description         []string `yaml:"description"`
	Reference           string   `yaml:"reference"`
	CounterpartyName    string   `yaml:"counterparty_name"`
	CounterpartyAccount string   `yaml:"counterparty_account"`
	ExternalID          string   `yaml:"external_id"`
}

// Layout describes one bank's CSV export
type Layout struct {
	Name               string   `yaml:"name"`
	Bank               string   `yaml:"bank"`
	Delimiter          string   `yaml:"delimiter"`
	Encoding           string   `yaml:"encoding"`
	SkipLines          int      `yaml:"skip_lines"`
	DateFormats        []string `yaml:"date_formats"`
	DecimalSeparator   string   `yaml:"decimal_separator"`
	ThousandsSeparator string   `yaml:"thousands_separator"`
	Currency           string   `yaml:"currency"`
	CreditMarker       string   `yaml:"credit_marker"`
	PendingValues      []string `yaml:"pending_values"`
	Columns            Columns  `yaml:"columns"`
	Detect             []string `yaml:"detect"`
}

type layoutFile struct {
	Layouts []Layout `yaml:"layouts"`
}

// Validate checks that the layout can be executed
func (l *Layout) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("layout name cannot be empty")
	}
	if utf8.RuneCountInString(l.Delimiter) != 1 {
		return fmt.Errorf("layout %s: delimiter must be a single character, got %q", l.Name, l.Delimiter)
	}
	if _, err := decoderFor(l.Encoding); err != nil {
		return fmt.Errorf("layout %s: %w", l.Name, err)
	}
	if l.SkipLines < 0 {
		return fmt.Errorf("layout %s: skip_lines cannot be negative", l.Name)
	}
	if len(l.DateFormats) == 0 {
		return fmt.Errorf("layout %s: at least one date format is required", l.Name)
	}
	c := l.Columns
	if c.Date == "" {
		return fmt.Errorf("layout %s: date column is required", l.Name)
	}
	if c.Amount == "" && (c.Debit == "" || c.Credit == "") {
		return fmt.Errorf("layout %s: amount column or debit and credit columns are required", l.Name)
	}
	if c.Direction != "" && l.CreditMarker == "" {
		return fmt.Errorf("layout %s: direction column requires credit_marker", l.Name)
	}
	if c.Currency == "" && l.Currency == "" {
		return fmt.Errorf("layout %s: currency column or fixed currency is required", l.Name)
	}
	if len(c.Description) == 0 {
		return fmt.Errorf("layout %s: at least one description column is required", l.Name)
	}
	return nil
}

// requiredHeaders lists the headers whose absence makes a file unusable
func (l *Layout) requiredHeaders() []string {
	c := l.Columns
	headers := []string{c.Date}
	if c.Amount != "" {
		headers = append(headers, c.Amount)
	} else {
		headers = append(headers, c.Debit, c.Credit)
	}
	if c.Direction != "" {
		headers = append(headers, c.Direction)
	}
	if c.Currency != "" {
		headers = append(headers, c.Currency)
	}
	return headers
}

// detectHeaders lists the headers that identify the layout
func (l *Layout) detectHeaders() []string {
	if len(l.Detect) > 0 {
		return l.Detect
	}
	headers := l.requiredHeaders()
	headers = append(headers, l.Columns.Description...)
	for _, h := range []string{l.Columns.ValueDate, l.Columns.Reference, l.Columns.CounterpartyName, l.Columns.CounterpartyAccount} {
		if h != "" {
			headers = append(headers, h)
		}
	}
	return headers
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// LoadLayouts parses a YAML layout file
func LoadLayouts(data []byte) ([]Layout, error) {
	var file layoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse CSV layouts: %w", err)
	}
	seen := make(map[string]bool)
	for i := range file.Layouts {
		if err := file.Layouts[i].Validate(); err != nil {
			return nil, fmt.Errorf("layout %d: %w", i, err)
		}
		if seen[file.Layouts[i].Name] {
			return nil, fmt.Errorf("duplicate layout name %q", file.Layouts[i].Name)
		}
		seen[file.Layouts[i].Name] = true
	}
	return file.Layouts, nil
}

// DefaultLayouts returns the built-in layouts
func DefaultLayouts() []Layout {
	layouts, err := LoadLayouts(embeddedLayouts)
	if err != nil {
		panic(fmt.Sprintf("embedded CSV layouts are invalid: %v", err))
	}
	return layouts
}

// LoadLayoutsFile reads layouts from path
func LoadLayoutsFile(path string) ([]Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV layouts file: %w", err)
	}
	return LoadLayouts(data)
}
