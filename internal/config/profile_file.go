package config

import (
	"fmt"
	"os"

	"github.com/MimeLyc/storyclip/internal/jobs"
	"gopkg.in/yaml.v3"
)

// LoadProfileFile reads transcode profile overrides from YAML:
//
//	width: 1080
//	height: 1920
//	fps: 30
//	crf: 23
//	preset: veryfast
//	audio_bitrate: 128k
//
// Omitted fields keep their defaults when merged.
func LoadProfileFile(path string) (jobs.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jobs.Profile{}, fmt.Errorf("failed to read profile file: %w", err)
	}

	var profile jobs.Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return jobs.Profile{}, fmt.Errorf("failed to parse profile file: %w", err)
	}
	return profile, nil
}
