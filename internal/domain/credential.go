// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

import "strings"

// Credential is one upstream browser session.
type Credential struct {
	// SessionKey is the value of the upstream sessionKey cookie.
	SessionKey string `json:"session_key" mapstructure:"session_key"`

	// OrganizationID scopes every conversation operation. Empty until resolved.
	OrganizationID string `json:"org_id" mapstructure:"org_id"`
}

// IsValid checks if the credential has a session key.
func (c Credential) IsValid() bool {
	return c.SessionKey != ""
}

// HasOrganization reports whether the organization id is already known.
func (c Credential) HasOrganization() bool {
	return c.OrganizationID != ""
}

// ParseCredential parses "sessionKey" or "sessionKey:orgId".
func ParseCredential(raw string) Credential {
	raw = strings.TrimSpace(raw)
	key, org, _ := strings.Cut(raw, ":")
	return Credential{
		SessionKey:     strings.TrimSpace(key),
		OrganizationID: strings.TrimSpace(org),
	}
}

// Conversation is an upstream conversation created for a single attempt.
type Conversation struct {
	ID             string
	OrganizationID string
}

// TextAttachment is an inline text file sent alongside a completion request.
// The upstream reads ExtractedContent as if the file had been uploaded.
type TextAttachment struct {
	FileName         string `json:"file_name"`
	FileType         string `json:"file_type"`
	FileSize         int    `json:"file_size"`
	ExtractedContent string `json:"extracted_content"`
}
