package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"whatsapp-campaign/internal/model"
)

// ErrInvalidNumber marks a phone number with fewer than 8 digits after
// stripping formatting.
var ErrInvalidNumber = errors.New("invalid phone number")

const minDigits = 8

// Normalize reduces a phone number to its canonical form: a leading "+"
// followed by digits only. Spaces, dashes, parentheses and an existing "+"
// are stripped. Normalizing an already normalized number is a no-op.
func Normalize(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	if digits.Len() < minDigits {
		return "", fmt.Errorf("%w: %q has %d digits, need at least %d", ErrInvalidNumber, raw, digits.Len(), minDigits)
	}

	return "+" + digits.String(), nil
}

// Dedup removes entries whose normalized number was already seen, keeping
// the first occurrence. Entries that cannot be normalized are keyed by
// their raw number so they survive to fail individually at send time.
func Dedup(entries []model.ContactEntry) []model.ContactEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]model.ContactEntry, 0, len(entries))

	for _, entry := range entries {
		key, err := Normalize(entry.Number)
		if err != nil {
			key = entry.Number
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}

	return out
}

// ParseList parses the newline contact format: one record per line,
// "number" or "number,name". Empty lines are skipped. Numbers come out
// normalized; a line whose number cannot be normalized fails the parse.
func ParseList(data string) ([]model.ContactEntry, error) {
	lines := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	entries := make([]model.ContactEntry, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		number := line
		name := ""
		if idx := strings.Index(line, ","); idx >= 0 {
			number = strings.TrimSpace(line[:idx])
			name = strings.TrimSpace(line[idx+1:])
		}

		normalized, err := Normalize(number)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}

		entries = append(entries, model.ContactEntry{
			Number: normalized,
			Name:   name,
		})
	}

	return entries, nil
}

// ParseCSV parses a header-driven contact CSV. The header must contain a
// "name" column and a "phone_number" (or "phone") column; every other
// column becomes a per-contact template variable keyed by its header.
func ParseCSV(r io.Reader) ([]model.ContactEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV is empty")
	}

	// Parse header
	header := records[0]
	nameIdx := -1
	phoneIdx := -1

	normalizedHeaders := make([]string, len(header))
	for i, col := range header {
		normalizedHeaders[i] = strings.TrimSpace(col)
		colLower := strings.ToLower(normalizedHeaders[i])
		if colLower == "name" {
			nameIdx = i
		} else if colLower == "phone_number" || colLower == "phone" {
			phoneIdx = i
		}
	}

	if nameIdx == -1 || phoneIdx == -1 {
		return nil, fmt.Errorf("CSV must contain 'name' and 'phone_number' columns")
	}

	entries := make([]model.ContactEntry, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := records[i]

		if rowEmpty(row) {
			continue
		}

		if len(row) <= nameIdx || len(row) <= phoneIdx {
			return nil, fmt.Errorf("row %d has insufficient columns", i+1)
		}

		number, err := Normalize(row[phoneIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		entry := model.ContactEntry{
			Number: number,
			Name:   strings.TrimSpace(row[nameIdx]),
			Vars:   make(map[string]string),
		}

		for j, value := range row {
			if j != nameIdx && j != phoneIdx && normalizedHeaders[j] != "" {
				entry.Vars[normalizedHeaders[j]] = strings.TrimSpace(value)
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// LoadFile reads a contact file, choosing the parser by extension:
// .csv uses the header CSV format, anything else the newline format.
func LoadFile(path string) ([]model.ContactEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contacts file: %w", err)
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ParseCSV(file)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}
	return ParseList(string(data))
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
