package models

import "strings"

// Location is one business storefront.
type Location struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Address    *Address `json:"storefrontAddress,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	WebsiteURI string   `json:"websiteUri,omitempty"`
}

// Address is a postal address.
type Address struct {
	AddressLines       []string `json:"addressLines,omitempty"`
	Locality           string   `json:"locality,omitempty"`
	AdministrativeArea string   `json:"administrativeArea,omitempty"`
	PostalCode         string   `json:"postalCode,omitempty"`
	RegionCode         string   `json:"regionCode,omitempty"`
}

// ID returns the trailing location id of Name.
func (l Location) ID() string {
	return NormalizeLocationID(l.Name)
}

// NormalizeLocationID accepts "123", "locations/123" or
// "accounts/9/locations/123" and returns "123".
func NormalizeLocationID(raw string) string {
	id := strings.Trim(strings.TrimSpace(raw), "/")
	if i := strings.LastIndex(id, "locations/"); i >= 0 {
		id = id[i+len("locations/"):]
	}
	if i := strings.Index(id, "/"); i >= 0 {
		id = id[:i]
	}
	return id
}
