package asc

import (
	"encoding/json"
	"fmt"
	"time"
)

// PagedLinks carries the JSON:API pagination links of a listing response.
// Only the next link matters here; an absent link ends the sequence.
type PagedLinks struct {
	Next string `json:"next"`
}

// App is one app visible to the API key.
type App struct {
	ID         string        `json:"id"`
	Attributes AppAttributes `json:"attributes"`
}

// AppAttributes are the app fields requested from the listing endpoint.
type AppAttributes struct {
	BundleID string `json:"bundleId"`
	Name     string `json:"name"`
}

type appsResponse struct {
	Data []App `json:"data"`
}

// Submission is one crash or screenshot feedback submission resource.
// Crash and feedback submissions share a common attribute set; fields the
// server doesn't populate for a kind simply stay zero. Unknown fields in
// the payload are ignored for forward compatibility.
type Submission struct {
	ID            string                  `json:"id"`
	Attributes    SubmissionAttributes    `json:"attributes"`
	Relationships SubmissionRelationships `json:"relationships"`
}

// SubmissionAttributes mirrors the betaFeedback*Submissions attribute set.
type SubmissionAttributes struct {
	CreatedDate             *time.Time `json:"createdDate"`
	Comment                 string     `json:"comment"`
	Email                   string     `json:"email"`
	DeviceModel             string     `json:"deviceModel"`
	OSVersion               string     `json:"osVersion"`
	Locale                  string     `json:"locale"`
	TimeZone                string     `json:"timeZone"`
	Architecture            string     `json:"architecture"`
	ConnectionType          string     `json:"connectionType"`
	AppUptimeInMilliseconds *int64     `json:"appUptimeInMilliseconds"`
	BatteryPercentage       *int       `json:"batteryPercentage"`
	AppPlatform             string     `json:"appPlatform"`
	DevicePlatform          string     `json:"devicePlatform"`
	DeviceFamily            string     `json:"deviceFamily"`
	BuildBundleID           string     `json:"buildBundleId"`
}

// SubmissionRelationships holds the relationship references we care about.
type SubmissionRelationships struct {
	Build RelationshipData `json:"build"`
}

// RelationshipData is a JSON:API to-one relationship.
type RelationshipData struct {
	Data *ResourceID `json:"data"`
}

// ResourceID identifies a related resource.
type ResourceID struct {
	ID string `json:"id"`
}

// BuildID returns the related build's resource id, or "".
func (s *Submission) BuildID() string {
	if s.Relationships.Build.Data == nil {
		return ""
	}
	return s.Relationships.Build.Data.ID
}

// SubmissionPage is one page of a submission listing.
type SubmissionPage struct {
	Data  []Submission `json:"data"`
	Links PagedLinks   `json:"links"`
}

// validate fails closed on resources missing required fields.
func (p *SubmissionPage) validate() error {
	for i := range p.Data {
		if p.Data[i].ID == "" {
			return fmt.Errorf("submission %d in page has no id", i)
		}
	}
	return nil
}

type crashLogResponse struct {
	Data struct {
		Attributes struct {
			LogText string `json:"logText"`
		} `json:"attributes"`
	} `json:"data"`
}

// errorDocument is the JSON:API error payload returned on 4xx/5xx.
type errorDocument struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (d *errorDocument) detail() string {
	if len(d.Errors) == 0 {
		return ""
	}
	e := d.Errors[0]
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// decodeErrorDocument attempts to parse an error body; returns "" when the
// body isn't a JSON:API error document.
func decodeErrorDocument(body []byte) string {
	var doc errorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.detail()
}
