package domain

import (
	"encoding/json"
	"time"
)

// CompanyRecord is the request-scoped intermediate form produced by parsing
// one of the two upstream response schemas.
type CompanyRecord struct {
	ID            string
	Name          string
	SchemaVersion int // 1 or 2; 0 when ParseOK is false
	CreatedOn     string
	ClosedOn      string
	TIN           string
	DissolvedOn   string
	ParseOK       bool
}

// NormalizedResponse is the egress schema returned to inbound clients
// regardless of which upstream schema produced it.
type NormalizedResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	ActiveUntil string `json:"active_until,omitempty"`
}

// ContentTypeV1 and ContentTypeV2 are the two content types an upstream may
// answer with; any other content type yields a record with ParseOK=false.
const (
	ContentTypeV1 = "application/x-company-v1"
	ContentTypeV2 = "application/x-company-v2"
)

// ParseUpstreamBody parses body according to contentType into a CompanyRecord.
// An unrecognized content type, or a body that fails to decode as JSON,
// yields ParseOK=false rather than an error — this is a data-shape outcome
// the pipeline maps to a specific response, not a Go error.
func ParseUpstreamBody(id, contentType string, body []byte) CompanyRecord {
	rec := CompanyRecord{ID: id}

	switch contentType {
	case ContentTypeV1:
		var v struct {
			CN        string `json:"cn"`
			CreatedOn string `json:"created_on"`
			ClosedOn  string `json:"closed_on"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return rec
		}
		rec.SchemaVersion = 1
		rec.Name = v.CN
		rec.CreatedOn = v.CreatedOn
		rec.ClosedOn = v.ClosedOn
		rec.ParseOK = true

	case ContentTypeV2:
		var v struct {
			CompanyName string `json:"company_name"`
			TIN         string `json:"tin"`
			DissolvedOn string `json:"dissolved_on"`
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return rec
		}
		rec.SchemaVersion = 2
		rec.Name = v.CompanyName
		rec.TIN = v.TIN
		rec.DissolvedOn = v.DissolvedOn
		rec.ParseOK = true
	}

	return rec
}

// Normalize computes the egress NormalizedResponse from a parsed
// CompanyRecord, per the activity-state rules of each upstream schema.
//
// The schema-1 rule below ("created_on in the future implies inactive") is
// preserved exactly as specified even though a future creation date
// implying an *inactive* company reads oddly; it is not "fixed" here.
func Normalize(rec CompanyRecord, now time.Time) (NormalizedResponse, error) {
	out := NormalizedResponse{ID: rec.ID, Name: rec.Name, Active: true}

	switch rec.SchemaVersion {
	case 1:
		if rec.CreatedOn != "" {
			future, err := FutureUTC(rec.CreatedOn, now)
			if err != nil {
				return NormalizedResponse{}, err
			}
			if future {
				out.Active = false
			}
		}
		if rec.ClosedOn != "" {
			out.ActiveUntil = rec.ClosedOn
			future, err := FutureUTC(rec.ClosedOn, now)
			if err != nil {
				return NormalizedResponse{}, err
			}
			if !future {
				out.Active = false
			}
		}

	case 2:
		if rec.DissolvedOn != "" {
			out.ActiveUntil = rec.DissolvedOn
			future, err := FutureUTC(rec.DissolvedOn, now)
			if err != nil {
				return NormalizedResponse{}, err
			}
			if !future {
				out.Active = false
			}
		}
	}

	return out, nil
}

// MarshalIndented serializes resp with 4-space indentation, matching the
// wire format the cache stores and the client receives.
func MarshalIndented(resp NormalizedResponse) ([]byte, error) {
	return json.MarshalIndent(resp, "", "    ")
}
