package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// Domain is the functional category of a cataloged model.
type Domain string

const (
	DomainLLM               Domain = "LLM"
	DomainVLM               Domain = "VLM"
	DomainImageGen          Domain = "ImageGen"
	DomainVideoGen          Domain = "VideoGen"
	DomainAudio             Domain = "Audio"
	DomainASR               Domain = "ASR"
	DomainTTS               Domain = "TTS"
	Domain3D                Domain = "3D"
	DomainWorldSim          Domain = "WorldSim"
	DomainLoRA              Domain = "LoRA"
	DomainFineTune          Domain = "FineTune"
	DomainBackgroundRemoval Domain = "BackgroundRemoval"
	DomainUpscaler          Domain = "Upscaler"
	DomainOther             Domain = "Other"
)

var knownDomains = []Domain{
	DomainLLM, DomainVLM, DomainImageGen, DomainVideoGen, DomainAudio, DomainASR, DomainTTS,
	Domain3D, DomainWorldSim, DomainLoRA, DomainFineTune, DomainBackgroundRemoval,
	DomainUpscaler, DomainOther,
}

// ParseDomain maps free text onto a known Domain, case-insensitively.
// Unrecognized or empty values become DomainOther.
func ParseDomain(s string) Domain {
	s = strings.TrimSpace(s)
	for _, d := range knownDomains {
		if strings.EqualFold(s, string(d)) {
			return d
		}
	}
	return DomainOther
}

// Known reports whether the domain carries information (set and not Other).
func (d Domain) Known() bool {
	return d != "" && d != DomainOther
}

// LicenseType classifies a license.
type LicenseType string

const (
	LicenseOSI           LicenseType = "OSI"
	LicenseCopyleft      LicenseType = "Copyleft"
	LicenseNonCommercial LicenseType = "Non-Commercial"
	LicenseCustom        LicenseType = "Custom"
	LicenseProprietary   LicenseType = "Proprietary"
)

// ParseLicenseType maps free text onto a LicenseType. Unknown values default to Custom.
func ParseLicenseType(s string) LicenseType {
	s = strings.TrimSpace(s)
	for _, t := range []LicenseType{LicenseOSI, LicenseCopyleft, LicenseNonCommercial, LicenseCustom, LicenseProprietary} {
		if strings.EqualFold(s, string(t)) {
			return t
		}
	}
	if strings.EqualFold(s, "noncommercial") || strings.EqualFold(s, "non commercial") {
		return LicenseNonCommercial
	}
	return LicenseCustom
}

// Indemnity describes vendor legal cover for model outputs.
type Indemnity string

const (
	IndemnityNone           Indemnity = "None"
	IndemnityVendorProgram  Indemnity = "VendorProgram"
	IndemnityEnterpriseOnly Indemnity = "EnterpriseOnly"
	IndemnityUnknown        Indemnity = "Unknown"
)

// ParseIndemnity maps free text onto an Indemnity value, defaulting to Unknown.
func ParseIndemnity(s string) Indemnity {
	s = strings.TrimSpace(s)
	for _, i := range []Indemnity{IndemnityNone, IndemnityVendorProgram, IndemnityEnterpriseOnly, IndemnityUnknown} {
		if strings.EqualFold(s, string(i)) {
			return i
		}
	}
	return IndemnityUnknown
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// License describes the terms a model is released under.
type License struct {
	Name                string      `json:"name"`
	Type                LicenseType `json:"type"`
	CommercialUse       bool        `json:"commercial_use"`
	AttributionRequired bool        `json:"attribution_required"`
	ShareAlike          bool        `json:"share_alike"`
	Copyleft            bool        `json:"copyleft"`
}

// Hosting describes where and how a model can be run.
type Hosting struct {
	WeightsAvailable  bool     `json:"weights_available"`
	APIAvailable      bool     `json:"api_available"`
	OnPremiseFriendly bool     `json:"on_premise_friendly"`
	Providers         []string `json:"providers"`
}

// PricingEntry is one pricing tier. Every field is independently optional.
type PricingEntry struct {
	Model    *string  `json:"model,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	Input    *float64 `json:"input,omitempty"`
	Output   *float64 `json:"output,omitempty"`
	Flat     *float64 `json:"flat,omitempty"`
	Currency *string  `json:"currency,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	URL      *string  `json:"url,omitempty"`
}

// IsZero reports whether no field of the entry is set.
func (p PricingEntry) IsZero() bool {
	return p.Model == nil && p.Unit == nil && p.Input == nil && p.Output == nil &&
		p.Flat == nil && p.Currency == nil && p.Notes == nil && p.URL == nil
}

// Record is one catalog entry describing an AI model.
// Empty strings stand in for absent optional text fields.
type Record struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	Name        string      `gorm:"type:text;not null;index:idx_records_name" json:"name"`
	Provider    string      `gorm:"type:text" json:"provider,omitempty"`
	Domain      Domain      `gorm:"type:text;index:idx_records_domain" json:"domain"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	Tags        StringArray `gorm:"type:text" json:"tags"`

	Source string `gorm:"type:text" json:"source,omitempty"`
	URL    string `gorm:"type:text" json:"url,omitempty"`
	Repo   string `gorm:"type:text" json:"repo,omitempty"`

	License License `gorm:"serializer:json;type:text" json:"license"`
	Hosting Hosting `gorm:"serializer:json;type:text" json:"hosting"`

	Parameters    string         `gorm:"type:text" json:"parameters,omitempty"`
	ContextWindow string         `gorm:"type:text" json:"context_window,omitempty"`
	Pricing       []PricingEntry `gorm:"serializer:json;type:text" json:"pricing,omitempty"`

	ReleaseDate string `gorm:"type:text" json:"release_date,omitempty"`
	UpdatedAt   string `gorm:"type:text;column:updated_at_source" json:"updated_at,omitempty"`
	Downloads   *int64 `json:"downloads,omitempty"`

	// User flags. Automated enrichment and validation never change these.
	IsFavorite       bool        `json:"isFavorite"`
	IsNSFWFlagged    bool        `gorm:"column:is_nsfw_flagged" json:"isNSFWFlagged"`
	FlaggedImageURLs StringArray `gorm:"type:text" json:"flaggedImageUrls"`

	Indemnity         Indemnity   `gorm:"type:text" json:"indemnity,omitempty"`
	DataProvenance    string      `gorm:"type:text" json:"data_provenance,omitempty"`
	UsageRestrictions StringArray `gorm:"type:text" json:"usage_restrictions"`

	// MachineTranslated marks Name/Description as the output of a translation step.
	MachineTranslated bool `json:"machine_translated,omitempty"`
}

// TableName returns the database table name for Record.
func (Record) TableName() string {
	return "records"
}

// Clone returns a deep copy so callers can mutate slices without aliasing.
func (r Record) Clone() Record {
	out := r
	out.Tags = cloneStrings(r.Tags)
	out.FlaggedImageURLs = cloneStrings(r.FlaggedImageURLs)
	out.UsageRestrictions = cloneStrings(r.UsageRestrictions)
	out.Hosting.Providers = cloneStrings(r.Hosting.Providers)
	if r.Pricing != nil {
		out.Pricing = make([]PricingEntry, len(r.Pricing))
		copy(out.Pricing, r.Pricing)
	}
	if r.Downloads != nil {
		d := *r.Downloads
		out.Downloads = &d
	}
	return out
}

// UserFlags is the subset of a Record owned exclusively by the user.
type UserFlags struct {
	IsFavorite       bool
	IsNSFWFlagged    bool
	FlaggedImageURLs []string
}

// Flags extracts the record's user flags.
func (r Record) Flags() UserFlags {
	return UserFlags{
		IsFavorite:       r.IsFavorite,
		IsNSFWFlagged:    r.IsNSFWFlagged,
		FlaggedImageURLs: cloneStrings(r.FlaggedImageURLs),
	}
}

// ApplyFlags overwrites the record's user flags with f.
func (r *Record) ApplyFlags(f UserFlags) {
	r.IsFavorite = f.IsFavorite
	r.IsNSFWFlagged = f.IsNSFWFlagged
	r.FlaggedImageURLs = cloneStrings(f.FlaggedImageURLs)
}

func cloneStrings[S ~[]string](in S) S {
	if in == nil {
		return nil
	}
	out := make(S, len(in))
	copy(out, in)
	return out
}
