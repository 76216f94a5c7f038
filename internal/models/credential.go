package models

import "time"

// Credential is the stored OAuth token pair.
type Credential struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// HasAccess reports whether an access token is present.
func (c Credential) HasAccess() bool {
	return c.AccessToken != ""
}

// CanRefresh reports whether a refresh token is present.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// UserInfo is the profile of the connected Google account.
type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}
