package ffmpeg

import (
	"sort"
	"strings"
)

// Preset is a named set of H.264/AAC encoder parameters.
type Preset struct {
	Name         string
	CRF          int
	MaxRate      string
	BufSize      string
	X264Preset   string
	AudioBitrate string
}

var presets = map[string]Preset{
	"high":   {Name: "high", CRF: 20, MaxRate: "6M", BufSize: "12M", X264Preset: "slow", AudioBitrate: "192k"},
	"medium": {Name: "medium", CRF: 23, MaxRate: "4M", BufSize: "8M", X264Preset: "medium", AudioBitrate: "128k"},
	"low":    {Name: "low", CRF: 28, MaxRate: "2M", BufSize: "4M", X264Preset: "fast", AudioBitrate: "96k"},
}

// LookupPreset returns the preset with the given name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// PresetNames lists the known preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
