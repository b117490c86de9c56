package jobs

import (
	"fmt"
	"strings"
)

// DefaultProfile is the 720x1280 vertical story encode.
func DefaultProfile() Profile {
	return Profile{
		Width:        720,
		Height:       1280,
		FPS:          30,
		CRF:          28,
		Preset:       "fast",
		AudioBitrate: "96k",
	}
}

// Merge returns p with every non-zero field of override applied.
func (p Profile) Merge(override *Profile) Profile {
	if override == nil {
		return p
	}
	if override.Width > 0 {
		p.Width = override.Width
	}
	if override.Height > 0 {
		p.Height = override.Height
	}
	if override.FPS > 0 {
		p.FPS = override.FPS
	}
	if override.CRF > 0 {
		p.CRF = override.CRF
	}
	if strings.TrimSpace(override.Preset) != "" {
		p.Preset = strings.TrimSpace(override.Preset)
	}
	if strings.TrimSpace(override.AudioBitrate) != "" {
		p.AudioBitrate = strings.TrimSpace(override.AudioBitrate)
	}
	return p
}

var validPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
}

func (p Profile) Validate() error {
	if p.Width <= 0 || p.Width > 4096 || p.Width%2 != 0 {
		return &ValidationError{Field: "profile.width", Message: fmt.Sprintf("invalid width %d", p.Width)}
	}
	if p.Height <= 0 || p.Height > 4096 || p.Height%2 != 0 {
		return &ValidationError{Field: "profile.height", Message: fmt.Sprintf("invalid height %d", p.Height)}
	}
	if p.FPS <= 0 || p.FPS > 120 {
		return &ValidationError{Field: "profile.fps", Message: fmt.Sprintf("invalid fps %d", p.FPS)}
	}
	if p.CRF < 0 || p.CRF > 51 {
		return &ValidationError{Field: "profile.crf", Message: fmt.Sprintf("invalid crf %d", p.CRF)}
	}
	if !validPresets[p.Preset] {
		return &ValidationError{Field: "profile.preset", Message: fmt.Sprintf("unknown preset %q", p.Preset)}
	}
	if strings.TrimSpace(p.AudioBitrate) == "" {
		return &ValidationError{Field: "profile.audio_bitrate", Message: "is required"}
	}
	return nil
}
