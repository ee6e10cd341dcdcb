package enrichment

import (
	"fmt"
	"strings"

	"visitor-tracker/internal/models"
)

// aliasTable maps a provider's field names onto canonical keys. Lookups
// fall through to defaultAliases when a provider has no entry for a key.
type aliasTable map[string]string

// defaultAliases covers the field-name variants seen across common
// enrichment APIs.
var defaultAliases = aliasTable{
	"company_name":      "company",
	"organization":      "company",
	"org":               "company",
	"employer":          "company",
	"job_title":         "title",
	"position":          "title",
	"role":              "title",
	"sector":            "industry",
	"vertical":          "industry",
	"company_size":      "size",
	"employees":         "size",
	"employee_count":    "size",
	"headcount":         "size",
	"annual_revenue":    "revenue",
	"estimated_revenue": "revenue",
	"domain":            "website",
	"website_url":       "website",
	"company_domain":    "website",
	"tech_stack":        "technologies",
	"tech":              "technologies",
	"linkedin":          "linkedin_url",
	"linkedin_handle":   "linkedin_url",
}

// providerAliases holds per-provider overrides layered over the defaults.
// Keyed by the provider name from configuration.
var providerAliases = map[string]aliasTable{
	"clearbit": {
		"name":     "company",
		"category": "industry",
		"metrics":  "custom_metrics",
	},
	"apollo": {
		"organization_name": "company",
		"seniority":         "custom_seniority",
	},
	"hunter": {
		"value": "email_confidence",
	},
}

// normalizeFields renames a provider's raw response keys to canonical ones.
// Provider-specific aliases win over the default table; unmapped keys pass
// through unchanged.
func normalizeFields(provider string, raw map[string]interface{}) map[string]interface{} {
	overrides := providerAliases[provider]
	out := make(map[string]interface{}, len(raw))

	for key, value := range raw {
		lower := strings.ToLower(key)
		canonical := lower
		if mapped, ok := overrides[lower]; ok {
			canonical = mapped
		} else if mapped, ok := defaultAliases[lower]; ok {
			canonical = mapped
		}
		out[canonical] = value
	}

	return out
}

// extractCanonical maps a merged, normalized field set into the enriched
// record. Keys ending in "_url" become social profile entries keyed by
// platform; anything unrecognized lands in custom fields.
func extractCanonical(merged map[string]interface{}) *models.EnrichedData {
	enriched := &models.EnrichedData{}

	for key, value := range merged {
		switch key {
		case "company":
			enriched.Company = asString(value)
		case "title":
			enriched.Title = asString(value)
		case "industry":
			enriched.Industry = asString(value)
		case "size":
			enriched.Size = asString(value)
		case "revenue":
			enriched.Revenue = asString(value)
		case "website":
			enriched.Website = asString(value)
		case "technologies":
			enriched.Technologies = asStringSlice(value)
		case "linkedin_url":
			enriched.LinkedInURL = asString(value)
		default:
			if platform, ok := strings.CutSuffix(key, "_url"); ok && platform != "" {
				if enriched.SocialProfiles == nil {
					enriched.SocialProfiles = make(map[string]string)
				}
				enriched.SocialProfiles[platform] = asString(value)
				continue
			}
			if enriched.CustomFields == nil {
				enriched.CustomFields = make(map[string]interface{})
			}
			enriched.CustomFields[key] = value
		}
	}

	return enriched
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing fraction.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}
