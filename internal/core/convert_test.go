package core

import (
	"regexp"
	"testing"
	"time"
)

func TestParseCellDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	}

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantOK  bool
		wantErr bool
	}{
		{name: "blank", input: "  ", wantOK: false},
		{name: "excel serial", input: "45292", want: day(2024, 1, 1), wantOK: true},
		{name: "excel serial with time", input: "45292.75", want: day(2024, 1, 1), wantOK: true},
		{name: "iso", input: "2024-03-15", want: day(2024, 3, 15), wantOK: true},
		{name: "iso without padding", input: "2024-3-5", want: day(2024, 3, 5), wantOK: true},
		{name: "slashes", input: "2024/03/15", want: day(2024, 3, 15), wantOK: true},
		{name: "iso with time", input: "2024-03-15 08:30:00", want: day(2024, 3, 15), wantOK: true},
		{name: "day first", input: "02/01/2024", want: day(2024, 1, 2), wantOK: true},
		{name: "chinese", input: "2024年1月2日", want: day(2024, 1, 2), wantOK: true},
		{name: "compact", input: "20240102", want: day(2024, 1, 2), wantOK: true},
		{name: "formula prefix", input: `="2024-01-02"`, want: day(2024, 1, 2), wantOK: true},
		{name: "words", input: "next tuesday", wantErr: true},
		{name: "impossible date", input: "2024-02-30", wantErr: true},
		{name: "negative serial", input: "-5", wantErr: true},
		{name: "bare year", input: "2024", wantErr: true},
		{name: "small serial", input: "367", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseCellDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCellDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("parseCellDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if tt.wantOK && !got.Equal(tt.want) {
				t.Errorf("parseCellDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLifeYears(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"", DefaultLifeYears, false},
		{"3", 3, false},
		{"3.7", 3, false},
		{"0", 0, false},
		{"1e1", 10, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"5 years", 0, true},
		{"101", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLifeYears(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLifeYears(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLifeYears(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"", "INVENTORY", false},
		{"IN_USE", "IN_USE", false},
		{"in use", "IN_USE", false},
		{"使用中", "IN_USE", false},
		{"Maintenance", "MAINTENANCE", false},
		{"报废", "RETIRED", false},
		{"lost", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := normalizeStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeStatus(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("A-1", "Server", "SN1", "R740")
	if a != Fingerprint("A-1", "Server", "SN1", "R740") {
		t.Error("Fingerprint is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("len(Fingerprint) = %d, want 64", len(a))
	}
	if a == Fingerprint("A-1", "Server", "SN2", "R740") {
		t.Error("different serial numbers produced the same fingerprint")
	}
}

func TestGeneratedIDs(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

	batch := NewBatchID(now)
	if !regexp.MustCompile(`^IMPORT-20240506070809-[0-9a-f]{6}$`).MatchString(batch) {
		t.Errorf("NewBatchID() = %q", batch)
	}
	if batch == NewBatchID(now) {
		t.Error("NewBatchID returned the same id twice")
	}

	asset := NewAssetUUID(now)
	if !regexp.MustCompile(`^AST20240506-[0-9a-f]{8}$`).MatchString(asset) {
		t.Errorf("NewAssetUUID() = %q", asset)
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  plain  ", "plain"},
		{`="00123"`, "00123"},
		{`"quoted"`, "quoted"},
		{"\u00a0nbsp\u00a0", "nbsp"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCanonicalColumn(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Asset No", ColAssetNo},
		{"asset no", ColAssetNo},
		{"\ufeffAsset No", ColAssetNo},
		{" 资产编号 ", ColAssetNo},
		{"资产使用年限（年）", ColLifeYears},
		{"变更后U位", ColNewUPosition},
		{"Owner", "Owner"},
	}

	for _, tt := range tests {
		if got := CanonicalColumn(tt.header); got != tt.want {
			t.Errorf("CanonicalColumn(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
