package store

import (
	"regexp"
	"strings"
)

// maxFontSize bounds SettingsInput.FontSize.
const maxFontSize = 128

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func validateChatName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "must not be empty")
	}
	return name, nil
}

func validateMessage(m NewMessage) error {
	if m.ChatID <= 0 {
		return invalid("chat_id", "must be a positive integer")
	}
	if strings.TrimSpace(m.Sender) == "" {
		return invalid("sender", "must not be empty")
	}
	if m.Content == "" && !(m.IsAttachment && m.FileType != "") {
		return invalid("content", "must not be empty")
	}
	return nil
}

// resolveSettings validates in and merges it over DefaultSettings.
func resolveSettings(in SettingsInput) (Settings, error) {
	s := DefaultSettings()

	if in.HeaderColor != nil && *in.HeaderColor != "" {
		if !hexColor.MatchString(*in.HeaderColor) {
			return Settings{}, invalid("headerColor", "must be a #rgb or #rrggbb hex color")
		}
		s.HeaderColor = *in.HeaderColor
	}
	if in.GradientColor != nil && *in.GradientColor != "" {
		if !hexColor.MatchString(*in.GradientColor) {
			return Settings{}, invalid("gradientColor", "must be a #rgb or #rrggbb hex color")
		}
		s.GradientColor = *in.GradientColor
	}
	if in.IsGradient != nil {
		s.IsGradient = *in.IsGradient
	}
	if in.FontSize != nil {
		switch fs := *in.FontSize; {
		case fs < 0:
			return Settings{}, invalid("fontSize", "must not be negative")
		case fs > maxFontSize:
			return Settings{}, invalid("fontSize", "must not exceed 128")
		case fs > 0:
			s.FontSize = fs
		}
	}
	if in.TextSpeed != nil && strings.TrimSpace(*in.TextSpeed) != "" {
		s.TextSpeed = strings.TrimSpace(*in.TextSpeed)
	}
	if in.RunTime != nil && strings.TrimSpace(*in.RunTime) != "" {
		s.RunTime = strings.TrimSpace(*in.RunTime)
	}
	if in.Model != nil {
		s.Model = *in.Model
	}
	return s, nil
}
