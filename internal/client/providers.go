package client

import "sort"

// ProviderList maps each utility provider code (the watersmart.com subdomain)
// to the district name shown to users
var ProviderList = map[string]string{
	"arlingtontx":  "Arlington, TX",
	"bend":         "Bend, OR",
	"castlerockco": "Castle Rock, CO",
	"fresno":       "Fresno, CA",
	"gilbert":      "Gilbert, AZ",
	"glendaleaz":   "Glendale, AZ",
	"greeley":      "Greeley, CO",
	"napa":         "Napa, CA",
	"provo":        "Provo, UT",
	"santafe":      "Santa Fe, NM",
}

// ProviderCodes returns the known provider codes in sorted order
func ProviderCodes() []string {
	codes := make([]string, 0, len(ProviderList))
	for code := range ProviderList {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// CodeForDistrict resolves a district display name back to its provider code
func CodeForDistrict(district string) (string, bool) {
	for code, name := range ProviderList {
		if name == district {
			return code, true
		}
	}
	return "", false
}
