package core

// convert.go turns raw spreadsheet cells into typed values.
//
// Cells are read with RawCellValue, so a date formatted in Excel arrives as
// its serial number ("45292") while a date typed as text keeps its text.
// Both forms are accepted:
//   - Excel serial numbers (1900 date system)
//   - ISO and slash dates with 4-digit years
//   - Chinese dates (2024年1月2日)
//
// Ambiguous slash dates are read day-first (02/01/2024 is 2 January).

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/itassets/internal/store"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// DefaultLifeYears is used when the Life Years column is blank.
const DefaultLifeYears = 5

var dateLayouts = []string{
	"2006-1-2", "2006/1/2", "2006.1.2",
	"2006-1-2 15:04:05", "2006/1/2 15:04:05", "2006-1-2 15:04", "2006/1/2 15:04",
	"2/1/2006", "2-1-2006", "2.1.2006",
	"2006年1月2日",
	"20060102",
}

// excel serials outside this range are not plausible asset dates; a bare
// year such as "2024" falls below the floor
const (
	minExcelSerial = 10000   // 1927-05-18
	maxExcelSerial = 2958465 // 9999-12-31
)

// parseCellDate converts a date cell. Blank input returns ok=false and a
// nil error; unparseable input returns an error.
func parseCellDate(s string) (time.Time, bool, error) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false, nil
	}

	if numericRegex.MatchString(s) && !looksLikeCompactDate(s) {
		serial, err := strconv.ParseFloat(s, 64)
		if err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
			t, err := excelize.ExcelDateToTime(serial, false)
			if err == nil {
				return truncateDay(t), true, nil
			}
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return truncateDay(t), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised date %q", s)
}

// looksLikeCompactDate reports whether an 8-digit number reads as yyyymmdd.
func looksLikeCompactDate(s string) bool {
	if len(s) != 8 {
		return false
	}
	_, err := time.Parse("20060102", s)
	return err == nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// parseLifeYears reads the Life Years column. Fractions are truncated.
func parseLifeYears(s string) (int, error) {
	s = CleanCell(s)
	if s == "" {
		return DefaultLifeYears, nil
	}
	if !numericRegex.MatchString(s) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("%q must not be negative", s)
	}
	if f > 100 {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return int(f), nil
}

var statusAliases = map[string]string{
	"in_use":      store.StatusInUse,
	"in use":      store.StatusInUse,
	"使用中":         store.StatusInUse,
	"inventory":   store.StatusInventory,
	"库存":          store.StatusInventory,
	"闲置":          store.StatusInventory,
	"maintenance": store.StatusMaintenance,
	"维修":          store.StatusMaintenance,
	"维修中":         store.StatusMaintenance,
	"retired":     store.StatusRetired,
	"报废":          store.StatusRetired,
	"已报废":         store.StatusRetired,
}

// normalizeStatus maps a status cell to an asset status. Blank means
// INVENTORY.
func normalizeStatus(s string) (string, error) {
	s = CleanCell(s)
	if s == "" {
		return store.StatusInventory, nil
	}
	if st, ok := statusAliases[strings.ToLower(s)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Fingerprint identifies a row by its business fields, so the same
// spreadsheet imported twice is detected.
func Fingerprint(assetNo, name, serialNo, model string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{assetNo, name, serialNo, model}, "|")))
	return hex.EncodeToString(sum[:])
}

// NewBatchID returns IMPORT-yyyymmddHHMMSS-xxxxxx.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("IMPORT-%s-%s", now.Format("20060102150405"), randomHex(3))
}

// NewAssetUUID returns ASTyyyymmdd-xxxxxxxx.
func NewAssetUUID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("AST%s-%s", now.Format("20060102"), hex.EncodeToString(id[:4]))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		id := uuid.New()
		copy(b, id[:])
	}
	return hex.EncodeToString(b)
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace and non-breaking spaces
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
