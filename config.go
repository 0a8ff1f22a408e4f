package youtube_downloader

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

const DefaultOutputTemplate = "{{.Info.Title}}"

// NamingConfig resolves where a playlist's files are saved.
type NamingConfig interface {
	GetTargetPath(baseDir string, info *PlaylistInfo) (string, error)
}

type namingConfig struct {
	targetTemplate *template.Template
}

// NewNamingConfig parses an output template, falling back to
// DefaultOutputTemplate when tmpl is empty.
func NewNamingConfig(tmpl string) (NamingConfig, error) {
	if tmpl == "" {
		tmpl = DefaultOutputTemplate
	}
	t, err := template.New("target_path").Parse(tmpl)
	if err != nil {
		return nil, err
	}
	return &namingConfig{targetTemplate: t}, nil
}

type targetTemplateArgs struct {
	Info *PlaylistInfo
}

func (c *namingConfig) GetTargetPath(baseDir string, info *PlaylistInfo) (string, error) {
	builder := strings.Builder{}
	if err := c.targetTemplate.Execute(&builder, &targetTemplateArgs{Info: info}); err != nil {
		return "", err
	}
	return filepath.Join(baseDir, SanitizeFilename(builder.String())), nil
}

// ParseBandwidthLimit converts a limit like "500K", "2M" or "1.5M" into bytes
// per second. Empty string and "0" mean unlimited. Suffixes are binary
// multiples (K=1024 and so on), matching what download tools accept.
func ParseBandwidthLimit(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	multiplier := int64(1)
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case "M":
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case "G":
		multiplier = 1 << 30
		s = s[:len(s)-1]
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bandwidth limit %q", orig)
	}
	return int64(value * float64(multiplier)), nil
}

var invalidFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

const maxFilenameLength = 100

// SanitizeFilename makes a single path component safe across platforms:
// invalid characters become underscores and overlong names are truncated,
// preserving the extension.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]
		// A leading-dot name is all extension to filepath.Ext; there is no
		// base to shorten, so truncate the whole name instead.
		if base == "" {
			return name[:maxFilenameLength]
		}
		keep := maxFilenameLength - len(ext) - 3
		if keep < 1 {
			keep = 1
		}
		name = base[:keep] + "..." + ext
	}
	return name
}
