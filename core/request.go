package core

import "strings"

// Credentials identify the caller on whose behalf a run executes. All four
// fields are required.
type Credentials struct {
	ClientUserID         string `json:"clientUserId"`
	ClientOrganizationID string `json:"clientOrganizationId"`
	PlatformUserID       string `json:"platformUserId"`
	PlatformAPIKey       string `json:"platformApiKey"`
}

// Validate reports every absent field at once.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientUserID) == "" {
		missing = append(missing, "clientUserId")
	}
	if strings.TrimSpace(c.ClientOrganizationID) == "" {
		missing = append(missing, "clientOrganizationId")
	}
	if strings.TrimSpace(c.PlatformUserID) == "" {
		missing = append(missing, "platformUserId")
	}
	if strings.TrimSpace(c.PlatformAPIKey) == "" {
		missing = append(missing, "platformApiKey")
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Fields: missing}
	}
	return nil
}

// RunRequest is the inbound request that starts one run.
type RunRequest struct {
	ConversationID string      `json:"conversationId"`
	Messages       []Message   `json:"messages"`
	Credentials    Credentials `json:"callerCredentials"`
}

// AgentIdentity is the persona loaded once per run. It is read-only for the
// lifetime of the run.
type AgentIdentity struct {
	Name                 string  `json:"name"`
	SystemPromptOverride *string `json:"systemPromptOverride,omitempty"`
	Memory               string  `json:"memory"`
}
