package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nft-syncer/internal/types"
)

// flexString accepts a JSON string, number or bool and keeps its text
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString(scalarString(data))
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

// rawMetadata is the token metadata JSON as found behind a token URI
type rawMetadata struct {
	Name            flexString      `json:"name"`
	Description     flexString      `json:"description"`
	Image           flexString      `json:"image"`
	ImageURL        flexString      `json:"image_url"`
	ImageData       flexString      `json:"image_data"`
	ExternalURL     flexString      `json:"external_url"`
	ExternalLink    flexString      `json:"external_link"`
	BackgroundColor flexString      `json:"background_color"`
	AnimationURL    flexString      `json:"animation_url"`
	AnimationType   flexString      `json:"animation_type"`
	Attributes      json.RawMessage `json:"attributes"`
	Traits          json.RawMessage `json:"traits"`
}

func (r *rawMetadata) canonical() *types.Metadata {
	m := &types.Metadata{
		Name:            r.Name.String(),
		Description:     r.Description.String(),
		Image:           r.Image.String(),
		ImageURL:        r.ImageURL.String(),
		ImageData:       r.ImageData.String(),
		ExternalURL:     r.ExternalURL.String(),
		BackgroundColor: r.BackgroundColor.String(),
		AnimationURL:    r.AnimationURL.String(),
		AnimationType:   r.AnimationType.String(),
		Attributes:      ParseAttributes(r.Attributes),
	}
	if m.ExternalURL == "" {
		m.ExternalURL = r.ExternalLink.String()
	}
	if m.Attributes == nil {
		m.Attributes = ParseAttributes(r.Traits)
	}
	return m
}

// ParseMetadata decodes a metadata JSON document
func ParseMetadata(data []byte) (*types.Metadata, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("metadata is not a JSON object")
	}
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return raw.canonical(), nil
}

// parseMetadataString decodes metadata delivered as a JSON string field, returning nil when absent or invalid
func parseMetadataString(s string) *types.Metadata {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	m, err := ParseMetadata([]byte(s))
	if err != nil {
		return nil
	}
	return m
}

// isEmptyMetadata reports whether m carries none of the display fields
func isEmptyMetadata(m *types.Metadata) bool {
	if m == nil {
		return true
	}
	return m.Name == "" && m.Description == "" && !m.HasImage() &&
		m.AnimationURL == "" && len(m.Attributes) == 0
}
