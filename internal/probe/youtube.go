package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const defaultYouTubeAPIURL = "https://www.googleapis.com/youtube/v3/videos"

// VideoInfo is the subset of platform metadata the pipeline uses.
type VideoInfo struct {
	DurationSec float64
	Title       string
}

// YouTubeClient looks up video metadata through the YouTube Data API.
type YouTubeClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

func NewYouTubeClient(apiKey string, apiURL string, timeout time.Duration) *YouTubeClient {
	if apiURL == "" {
		apiURL = defaultYouTubeAPIURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &YouTubeClient{
		apiKey:     apiKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type videosResponse struct {
	Items []struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (c *YouTubeClient) Lookup(ctx context.Context, videoID string) (VideoInfo, error) {
	if c.apiKey == "" {
		return VideoInfo{}, fmt.Errorf("youtube api key is not configured")
	}
	q := url.Values{}
	q.Set("id", videoID)
	q.Set("part", "contentDetails,snippet")
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return VideoInfo{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("youtube api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VideoInfo{}, fmt.Errorf("youtube api status %d", resp.StatusCode)
	}

	var body videosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VideoInfo{}, fmt.Errorf("decode youtube api response: %w", err)
	}
	if len(body.Items) == 0 {
		return VideoInfo{}, fmt.Errorf("video %s not found", videoID)
	}
	item := body.Items[0]
	d, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return VideoInfo{}, err
	}
	return VideoInfo{DurationSec: d, Title: item.Snippet.Title}, nil
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses the ISO-8601 durations the Data API returns,
// e.g. "PT2M5S" or "P1DT3H".
func ParseISODuration(v string) (float64, error) {
	m := isoDurationPattern.FindStringSubmatch(v)
	if m == nil || v == "P" || v == "PT" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", v)
	}
	units := []float64{86400, 3600, 60, 1}
	var total float64
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", v, err)
		}
		total += n * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("non-positive duration %q", v)
	}
	return total, nil
}
