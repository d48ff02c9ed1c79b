package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Catalog Validation Prompts
// ============================================================================

// ValidationSystemPrompt defines the role and output contract for catalog validation.
// The reply must be the same table shape that was sent, so it can be decoded row by row.
const ValidationSystemPrompt = `You are a meticulous AI model catalog auditor. You receive a table of AI model metadata records in CSV form and return the same table with factual errors corrected and missing values filled in.

Rules:
1. Return ONLY the CSV table. Keep the header row exactly as given, in the same column order.
2. Return every row you received, one row per model, with the original "id" value unchanged. Never drop, merge, or invent rows.
3. Quote every cell with double quotes and double any embedded quote.
4. List-valued cells (tags, usage_restrictions, hosting_providers, pricing_*) separate items with ";". Escape a literal ";" inside an item as "\;".
5. Leave a cell empty when you are not confident. Never guess release dates, parameter counts or prices.
6. Do not change is_favorite, is_nsfw_flagged or flagged_image_urls. They are owned by the user.
7. license_type must be one of: OSI, Copyleft, Non-Commercial, Custom, Proprietary.
8. domain must be one of: LLM, VLM, ImageGen, VideoGen, Audio, ASR, TTS, 3D, WorldSim, LoRA, FineTune, BackgroundRemoval, Upscaler, Other.
9. indemnity must be one of: None, VendorProgram, EnterpriseOnly, Unknown.`

// ValidationWebSearchAddendum is appended to the system prompt when the provider may search the web.
const ValidationWebSearchAddendum = `

You may search the web. Prefer official model cards, vendor documentation and repository READMEs over third-party aggregators.`

// ValidationUserPrompt wraps an encoded table for a validation request.
// batch and batches are 1-based; pass 1 and 1 for a single request.
func ValidationUserPrompt(table string, batch, batches int) string {
	var b strings.Builder
	if batches > 1 {
		fmt.Fprintf(&b, "This is batch %d of %d of the catalog.\n", batch, batches)
	}
	b.WriteString("Validate and correct the following model records. Return the full table.\n\n")
	b.WriteString(table)
	return b.String()
}

// ValidationSystem returns the validation system prompt, optionally allowing web search.
func ValidationSystem(webSearch bool) string {
	if webSearch {
		return ValidationSystemPrompt + ValidationWebSearchAddendum
	}
	return ValidationSystemPrompt
}

// ============================================================================
// Per-record Enrichment Prompts
// ============================================================================

// EnrichmentSystemPrompt defines the role and JSON contract for single-record enrichment.
const EnrichmentSystemPrompt = `You research AI models and fill in missing catalog metadata. Reply with a single JSON object and nothing else.

Fields (omit any you cannot confirm):
{
  "name": string,
  "provider": string,
  "domain": string,
  "description": string,
  "parameters": string,
  "context_window": string,
  "release_date": "YYYY-MM-DD",
  "updated_at": "YYYY-MM-DD",
  "url": string,
  "repo": string,
  "tags": [string],
  "license": {"name": string, "type": "OSI|Copyleft|Non-Commercial|Custom|Proprietary", "commercial_use": bool, "attribution_required": bool, "share_alike": bool, "copyleft": bool},
  "hosting": {"weights_available": bool, "api_available": bool, "on_premise_friendly": bool, "providers": [string]},
  "pricing": [{"model": string, "unit": string, "input": number, "output": number, "flat": number, "currency": string, "notes": string, "url": string}],
  "indemnity": "None|VendorProgram|EnterpriseOnly|Unknown",
  "data_provenance": string,
  "usage_restrictions": [string]
}

Write the description in English.`

// EnrichmentUserPrompt describes the record to enrich and the sources the caller wants consulted.
func EnrichmentUserPrompt(recordJSON string, sources []string) string {
	var b strings.Builder
	b.WriteString("Fill in the missing metadata for this model record:\n\n")
	b.WriteString(recordJSON)
	if len(sources) > 0 {
		fmt.Fprintf(&b, "\n\nPreferred sources: %s.", strings.Join(sources, ", "))
	}
	return b.String()
}
