package automation

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Templates holds the default outreach subject and message attached to
// outbound submissions when the operator supplies none.
//
// LoadTemplates returns usable defaults alongside every error so callers
// can log the problem and keep going.
type Templates struct {
	Subject string `yaml:"subject" json:"subject"`
	Message string `yaml:"message" json:"message"`
}

func LoadTemplates(path string) (Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultTemplates(), err
	}

	var t Templates
	if err := yaml.Unmarshal(content, &t); err != nil {
		return DefaultTemplates(), err
	}
	if t.Subject == "" && t.Message == "" {
		return DefaultTemplates(), errors.New("no outreach templates configured")
	}
	return t, nil
}

func DefaultTemplates() Templates {
	return Templates{
		Subject: "Quick question about {{company}}",
		Message: "Hi {{first_name}},\n\n{{icebreaker}}\n\nWould it make sense to connect this week?",
	}
}
