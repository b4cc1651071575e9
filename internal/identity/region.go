package identity

import "strings"

// continentByCountry maps ISO 3166-1 alpha-2 country codes to the coarse
// region tag carried on every measurement.
var continentByCountry = map[string]string{}

func init() {
	groups := map[string][]string{
		"EU": {"FR", "ES", "PT", "BE", "NL", "DE", "LU", "IT", "GB", "IE", "CH", "AT", "SE", "NO", "DK", "FI", "PL", "CZ", "SK", "HU", "RO", "BG", "GR", "HR", "SI", "EE", "LV", "LT"},
		"NA": {"US", "CA", "MX"},
		"SA": {"BR", "AR", "CL", "CO", "PE", "UY", "PY", "BO", "EC", "VE"},
		"AF": {"MA", "DZ", "TN", "EG", "ZA", "NG", "KE", "GH", "SN", "CI", "CM", "ET", "UG", "TZ", "RW"},
		"AS": {"TR", "SA", "AE", "QA", "KW", "OM", "BH", "IN", "PK", "BD", "CN", "JP", "KR", "SG", "MY", "TH", "VN", "ID", "PH", "HK", "TW"},
		"OC": {"AU", "NZ"},
	}
	for region, codes := range groups {
		for _, cc := range codes {
			continentByCountry[cc] = region
		}
	}
}

// RegionForCountry maps a country code to a region tag. Unknown but non-empty
// codes map to "OTHER"; an empty code maps to "UNKNOWN".
func RegionForCountry(countryCode string) string {
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if cc == "" {
		return "UNKNOWN"
	}
	if region, ok := continentByCountry[cc]; ok {
		return region
	}
	return "OTHER"
}
