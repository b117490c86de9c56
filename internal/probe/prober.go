package probe

import (
	"context"

	"github.com/MimeLyc/storyclip/pkg/log"
	"golang.org/x/sync/singleflight"
)

// Result is what the prober learned about a source. Duration is only
// meaningful when Known is true.
type Result struct {
	DurationSec float64
	Known       bool
	VideoID     string
	Title       string
}

type metadataLookup interface {
	Lookup(ctx context.Context, videoID string) (VideoInfo, error)
}

type durationPrinter interface {
	PrintDuration(ctx context.Context, sourceURL string) (float64, error)
}

// Prober estimates the duration of a source URL. It never fails: every
// error degrades to an unknown duration.
type Prober struct {
	lookup   metadataLookup
	fallback durationPrinter
	group    singleflight.Group
}

// NewProber builds a prober. lookup may be nil to go straight to fallback.
func NewProber(lookup metadataLookup, fallback durationPrinter) *Prober {
	return &Prober{
		lookup:   lookup,
		fallback: fallback,
	}
}

func (p *Prober) Probe(ctx context.Context, sourceURL string) Result {
	v, _, _ := p.group.Do(sourceURL, func() (any, error) {
		return p.probe(ctx, sourceURL), nil
	})
	res, _ := v.(Result)
	return res
}

func (p *Prober) probe(ctx context.Context, sourceURL string) Result {
	res := Result{VideoID: ExtractVideoID(sourceURL)}

	if p.lookup != nil && res.VideoID != "" {
		info, err := p.lookup.Lookup(ctx, res.VideoID)
		if err == nil && info.DurationSec > 0 {
			res.DurationSec = info.DurationSec
			res.Known = true
			res.Title = info.Title
			return res
		}
		if err != nil {
			log.Debug("Metadata lookup for %s failed: %v", res.VideoID, err)
		}
	}

	if p.fallback == nil {
		return res
	}
	d, err := p.fallback.PrintDuration(ctx, sourceURL)
	if err != nil || d <= 0 {
		log.Warn("Duration probe for %s failed, duration unknown: %v", sourceURL, err)
		return res
	}
	res.DurationSec = d
	res.Known = true
	return res
}
