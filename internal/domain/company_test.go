package domain

import (
	"testing"
	"time"
)

func TestParseUpstreamBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantOK      bool
		wantName    string
		wantVersion int
	}{
		{
			name:        "v1 company",
			contentType: ContentTypeV1,
			body:        `{"cn":"FakeCo V1","closed_on":"2024-01-01T00:00:00Z"}`,
			wantOK:      true,
			wantName:    "FakeCo V1",
			wantVersion: 1,
		},
		{
			name:        "v2 company",
			contentType: ContentTypeV2,
			body:        `{"company_name":"FakeCo V2"}`,
			wantOK:      true,
			wantName:    "FakeCo V2",
			wantVersion: 2,
		},
		{
			name:        "unknown content type",
			contentType: "application/x-company-v3",
			body:        `{"cn":"whatever"}`,
			wantOK:      false,
		},
		{
			name:        "malformed json",
			contentType: ContentTypeV1,
			body:        `not json`,
			wantOK:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ParseUpstreamBody("123", tt.contentType, []byte(tt.body))
			if rec.ParseOK != tt.wantOK {
				t.Fatalf("ParseOK = %v, want %v", rec.ParseOK, tt.wantOK)
			}
			if tt.wantOK && rec.Name != tt.wantName {
				t.Fatalf("Name = %q, want %q", rec.Name, tt.wantName)
			}
			if tt.wantOK && rec.SchemaVersion != tt.wantVersion {
				t.Fatalf("SchemaVersion = %d, want %d", rec.SchemaVersion, tt.wantVersion)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		rec            CompanyRecord
		wantActive     bool
		wantActiveTill string
	}{
		{
			name:       "v2 no dissolved_on stays active",
			rec:        CompanyRecord{ID: "1", Name: "X", SchemaVersion: 2},
			wantActive: true,
		},
		{
			name:           "v1 closed_on in the past becomes inactive",
			rec:            CompanyRecord{ID: "1", Name: "X", SchemaVersion: 1, ClosedOn: "2024-01-01T00:00:00Z"},
			wantActive:     false,
			wantActiveTill: "2024-01-01T00:00:00Z",
		},
		{
			name:           "v1 closed_on in the future stays active but sets active_until",
			rec:            CompanyRecord{ID: "1", Name: "X", SchemaVersion: 1, ClosedOn: "2026-01-01T00:00:00Z"},
			wantActive:     true,
			wantActiveTill: "2026-01-01T00:00:00Z",
		},
		{
			name:       "v1 created_on in the future becomes inactive",
			rec:        CompanyRecord{ID: "1", Name: "X", SchemaVersion: 1, CreatedOn: "2026-01-01T00:00:00Z"},
			wantActive: false,
		},
		{
			name:           "v2 dissolved_on exactly now is not future, becomes inactive",
			rec:            CompanyRecord{ID: "1", Name: "X", SchemaVersion: 2, DissolvedOn: "2025-01-01T00:00:00Z"},
			wantActive:     false,
			wantActiveTill: "2025-01-01T00:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.rec, now)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if out.Active != tt.wantActive {
				t.Fatalf("Active = %v, want %v", out.Active, tt.wantActive)
			}
			if out.ActiveUntil != tt.wantActiveTill {
				t.Fatalf("ActiveUntil = %q, want %q", out.ActiveUntil, tt.wantActiveTill)
			}
		})
	}
}

func TestFutureUTC(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		t       string
		want    bool
		wantErr bool
	}{
		{name: "future", t: "2030-01-01T00:00:00Z", want: true},
		{name: "past", t: "2020-01-01T00:00:00Z", want: false},
		{name: "fractional seconds accepted", t: "2030-01-01T00:00:00.123456Z", want: true},
		{name: "missing trailing Z is an error", t: "2030-01-01T00:00:00", wantErr: true},
		{name: "garbage is an error", t: "not-a-date", wantErr: true},
		{name: "before host epoch range treated as not future", t: "0001-01-01T00:00:00Z", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FutureUTC(tt.t, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("FutureUTC() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("FutureUTC() = %v, want %v", got, tt.want)
			}
		})
	}
}
