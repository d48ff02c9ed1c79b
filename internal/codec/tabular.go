// Package codec exchanges catalog records with text-generation providers as a
// delimited table.
//
// Encode always quotes every cell and doubles embedded quotes. Decode is
// tolerant of what providers actually send back: prose or code fences around
// the table, reordered or dropped columns, unquoted cells, and a few stray or
// missing cells per row. Rows drifting by more than MaxColumnDrift cells, or
// rows with neither id nor name, are skipped rather than failing the decode.
// The only hard failure is a reply with no recognizable header row.
package codec

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/timmy/modelcatalog/internal/domain"
)

// ErrNoTabularHeader is returned when the reply contains no header row at all.
var ErrNoTabularHeader = errors.New("no tabular header found in reply")

const (
	// ColumnDelimiter separates cells within a row.
	ColumnDelimiter = ','
	// ListDelimiter separates items of list-valued cells.
	ListDelimiter = ';'
	// MaxColumnDrift is the largest tolerated difference between a row's cell
	// count and the header's.
	MaxColumnDrift = 3
)

// Column names, in encoding order.
const (
	ColID                 = "id"
	ColName               = "name"
	ColProvider           = "provider"
	ColDomain             = "domain"
	ColDescription        = "description"
	ColTags               = "tags"
	ColSource             = "source"
	ColURL                = "url"
	ColRepo               = "repo"
	ColLicenseName        = "license_name"
	ColLicenseType        = "license_type"
	ColLicenseCommercial  = "license_commercial_use"
	ColLicenseAttribution = "license_attribution_required"
	ColLicenseShareAlike  = "license_share_alike"
	ColLicenseCopyleft    = "license_copyleft"
	ColHostingWeights     = "hosting_weights_available"
	ColHostingAPI         = "hosting_api_available"
	ColHostingOnPremise   = "hosting_on_premise_friendly"
	ColHostingProviders   = "hosting_providers"
	ColParameters         = "parameters"
	ColContextWindow      = "context_window"
	ColPricingModel       = "pricing_model"
	ColPricingUnit        = "pricing_unit"
	ColPricingInput       = "pricing_input"
	ColPricingOutput      = "pricing_output"
	ColPricingFlat        = "pricing_flat"
	ColPricingCurrency    = "pricing_currency"
	ColPricingNotes       = "pricing_notes"
	ColPricingURL         = "pricing_url"
	ColReleaseDate        = "release_date"
	ColUpdatedAt          = "updated_at"
	ColDownloads          = "downloads"
	ColIndemnity          = "indemnity"
	ColDataProvenance     = "data_provenance"
	ColUsageRestrictions  = "usage_restrictions"
	ColIsFavorite         = "is_favorite"
	ColIsNSFWFlagged      = "is_nsfw_flagged"
	ColFlaggedImageURLs   = "flagged_image_urls"
	ColMachineTranslated  = "machine_translated"
)

// Columns is the fixed header emitted by Encode.
var Columns = []string{
	ColID, ColName, ColProvider, ColDomain, ColDescription, ColTags,
	ColSource, ColURL, ColRepo,
	ColLicenseName, ColLicenseType, ColLicenseCommercial, ColLicenseAttribution,
	ColLicenseShareAlike, ColLicenseCopyleft,
	ColHostingWeights, ColHostingAPI, ColHostingOnPremise, ColHostingProviders,
	ColParameters, ColContextWindow,
	ColPricingModel, ColPricingUnit, ColPricingInput, ColPricingOutput, ColPricingFlat,
	ColPricingCurrency, ColPricingNotes, ColPricingURL,
	ColReleaseDate, ColUpdatedAt, ColDownloads,
	ColIndemnity, ColDataProvenance, ColUsageRestrictions,
	ColIsFavorite, ColIsNSFWFlagged, ColFlaggedImageURLs, ColMachineTranslated,
}

// Encode renders records as a header row followed by one row per record.
func Encode(records []domain.Record) string {
	var b strings.Builder
	writeRow(&b, Columns)
	for i := range records {
		writeRow(&b, recordCells(&records[i]))
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(ColumnDelimiter)
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(c, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

func recordCells(r *domain.Record) []string {
	var downloads string
	if r.Downloads != nil {
		downloads = strconv.FormatInt(*r.Downloads, 10)
	}
	values := map[string]string{
		ColID:                 r.ID,
		ColName:               r.Name,
		ColProvider:           r.Provider,
		ColDomain:             string(r.Domain),
		ColDescription:        r.Description,
		ColTags:               JoinList(r.Tags),
		ColSource:             r.Source,
		ColURL:                r.URL,
		ColRepo:               r.Repo,
		ColLicenseName:        r.License.Name,
		ColLicenseType:        string(r.License.Type),
		ColLicenseCommercial:  formatBool(r.License.CommercialUse),
		ColLicenseAttribution: formatBool(r.License.AttributionRequired),
		ColLicenseShareAlike:  formatBool(r.License.ShareAlike),
		ColLicenseCopyleft:    formatBool(r.License.Copyleft),
		ColHostingWeights:     formatBool(r.Hosting.WeightsAvailable),
		ColHostingAPI:         formatBool(r.Hosting.APIAvailable),
		ColHostingOnPremise:   formatBool(r.Hosting.OnPremiseFriendly),
		ColHostingProviders:   JoinList(r.Hosting.Providers),
		ColParameters:         r.Parameters,
		ColContextWindow:      r.ContextWindow,
		ColReleaseDate:        r.ReleaseDate,
		ColUpdatedAt:          r.UpdatedAt,
		ColDownloads:          downloads,
		ColIndemnity:          string(r.Indemnity),
		ColDataProvenance:     r.DataProvenance,
		ColUsageRestrictions:  JoinList(r.UsageRestrictions),
		ColIsFavorite:         formatBool(r.IsFavorite),
		ColIsNSFWFlagged:      formatBool(r.IsNSFWFlagged),
		ColFlaggedImageURLs:   JoinList(r.FlaggedImageURLs),
		ColMachineTranslated:  formatBool(r.MachineTranslated),
	}
	for col, cells := range encodePricing(r.Pricing) {
		values[col] = cells
	}

	cells := make([]string, len(Columns))
	for i, col := range Columns {
		cells[i] = values[col]
	}
	return cells
}

// DecodeResult carries decoded records plus the number of rows that were
// dropped for drift or missing identity. Columns is the normalized header the
// reply actually contained; cells of absent columns decode to defaults.
type DecodeResult struct {
	Records []domain.Record
	Columns []string
	Skipped int
}

// Decode parses a provider reply into records. See DecodeDetailed.
func Decode(text string) ([]domain.Record, error) {
	res, err := DecodeDetailed(text)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// DecodeDetailed parses a provider reply into records, reporting skipped rows.
func DecodeDetailed(text string) (*DecodeResult, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	header, body, ok := findHeader(text)
	if !ok {
		return nil, ErrNoTabularHeader
	}

	reader := csv.NewReader(strings.NewReader(body))
	reader.Comma = ColumnDelimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	res := &DecodeResult{Records: []domain.Record{}, Columns: header}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.Skipped++
				continue
			}
			break
		}
		// A closing fence ends the table; anything after it is commentary.
		if isFenceRow(row) {
			break
		}
		if abs(len(row)-len(header)) > MaxColumnDrift {
			res.Skipped++
			continue
		}

		cells := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				cells[col] = strings.TrimSpace(row[i])
			}
		}
		if cells[ColID] == "" && cells[ColName] == "" {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, buildRecord(cells))
	}
	return res, nil
}

// findHeader locates the first line whose cells include both the id and name
// columns. It returns the normalized header and the text following it.
func findHeader(text string) ([]string, string, bool) {
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text)
		if end == -1 {
			line = text[offset:]
		} else {
			line = text[offset : offset+end]
			next = offset + end + 1
		}

		if header := parseHeaderLine(line); header != nil {
			return header, text[next:], true
		}
		offset = next
	}
	return nil, "", false
}

func parseHeaderLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = ColumnDelimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	cells, err := r.Read()
	if err != nil {
		return nil
	}

	var hasID, hasName bool
	header := make([]string, len(cells))
	for i, c := range cells {
		col := normalizeColumn(c)
		header[i] = col
		switch col {
		case ColID:
			hasID = true
		case ColName:
			hasName = true
		}
	}
	if !hasID || !hasName {
		return nil
	}
	return header
}

func normalizeColumn(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.Trim(c, "`*")
	return strings.Join(strings.Fields(strings.ReplaceAll(c, "-", "_")), "_")
}

func isFenceRow(row []string) bool {
	return len(row) == 1 && strings.HasPrefix(strings.TrimSpace(row[0]), "```")
}

func buildRecord(cells map[string]string) domain.Record {
	r := domain.Record{
		ID:             cells[ColID],
		Name:           cells[ColName],
		Provider:       cells[ColProvider],
		Domain:         domain.ParseDomain(cells[ColDomain]),
		Description:    cells[ColDescription],
		Tags:           nonNil(SplitList(cells[ColTags])),
		Source:         cells[ColSource],
		URL:            cells[ColURL],
		Repo:           cells[ColRepo],
		Parameters:     cells[ColParameters],
		ContextWindow:  cells[ColContextWindow],
		ReleaseDate:    cells[ColReleaseDate],
		UpdatedAt:      cells[ColUpdatedAt],
		DataProvenance: cells[ColDataProvenance],
		License: domain.License{
			Name:                cells[ColLicenseName],
			Type:                domain.ParseLicenseType(cells[ColLicenseType]),
			CommercialUse:       parseBool(cells[ColLicenseCommercial], false),
			AttributionRequired: parseBool(cells[ColLicenseAttribution], false),
			ShareAlike:          parseBool(cells[ColLicenseShareAlike], false),
			Copyleft:            parseBool(cells[ColLicenseCopyleft], false),
		},
		Hosting: domain.Hosting{
			WeightsAvailable:  parseBool(cells[ColHostingWeights], true),
			APIAvailable:      parseBool(cells[ColHostingAPI], true),
			OnPremiseFriendly: parseBool(cells[ColHostingOnPremise], true),
			Providers:         SplitList(cells[ColHostingProviders]),
		},
		Pricing:           decodePricing(cells),
		UsageRestrictions: nonNil(SplitList(cells[ColUsageRestrictions])),
		IsFavorite:        parseBool(cells[ColIsFavorite], false),
		IsNSFWFlagged:     parseBool(cells[ColIsNSFWFlagged], false),
		FlaggedImageURLs:  nonNil(SplitList(cells[ColFlaggedImageURLs])),
		MachineTranslated: parseBool(cells[ColMachineTranslated], false),
	}
	if v := cells[ColIndemnity]; v != "" {
		r.Indemnity = domain.ParseIndemnity(v)
	}
	if v, ok := parseInt(cells[ColDownloads]); ok {
		r.Downloads = &v
	}
	return r
}

func nonNil(items []string) domain.StringArray {
	if items == nil {
		return domain.StringArray{}
	}
	return items
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
