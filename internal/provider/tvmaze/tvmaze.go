// Package tvmaze implements the TVmaze metadata provider. The API is keyless
// and English-only, and covers series exclusively.
package tvmaze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/provider"
)

const (
	defaultBaseURL = "https://api.tvmaze.com"
	dailyLimit     = 1000
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	recorder   provider.Recorder
}

func New(recorder provider.Recorder) *Client {
	if recorder == nil {
		recorder = provider.NopRecorder{}
	}
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		recorder:   recorder,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

func (c *Client) Name() string    { return provider.SourceTVmaze }
func (c *Client) DailyLimit() int { return dailyLimit }

type showResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Premiered      string `json:"premiered"`
	Summary        string `json:"summary"`
	Runtime        int    `json:"runtime"`
	AverageRuntime int    `json:"averageRuntime"`
	Rating         struct {
		Average float64 `json:"average"`
	} `json:"rating"`
	Genres []string `json:"genres"`
	Image  struct {
		Medium string `json:"medium"`
	} `json:"image"`
	Externals struct {
		IMDb string `json:"imdb"`
	} `json:"externals"`
}

type episodeResponse struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, ""))
}

// Search resolves a series via /singlesearch/shows. When season and episode
// are present the episode synopsis replaces the show synopsis. A requested
// year that disagrees with the premiere year rejects the match.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	if !c.recorder.Allowed(c.Name(), dailyLimit) {
		log.Printf("tvmaze: daily quota exhausted, skipping lookup for %q", q.Title)
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", q.Title)

	var show showResponse
	found, err := c.get(ctx, "/singlesearch/shows", params, &show)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	year := ""
	if len(show.Premiered) >= 4 {
		year = show.Premiered[:4]
	}
	if q.Year != "" && year != "" && year != q.Year {
		log.Printf("tvmaze: year mismatch for %q: requested %s, premiered %s, rejecting", q.Title, q.Year, year)
		return nil, nil
	}

	plot := stripHTML(show.Summary)
	if plot == "" {
		plot = "No plot available"
	}
	if q.Season != nil && q.Episode != nil {
		if ep := c.episode(ctx, show.ID, *q.Season, *q.Episode); ep != "" {
			plot = ep
		}
	}

	rating := "N/A"
	if show.Rating.Average > 0 {
		rating = fmt.Sprintf("%.1f", show.Rating.Average)
	}
	runtime := "N/A"
	switch {
	case show.Runtime > 0:
		runtime = fmt.Sprintf("%d min", show.Runtime)
	case show.AverageRuntime > 0:
		runtime = fmt.Sprintf("%d min", show.AverageRuntime)
	}
	if year == "" {
		year = "N/A"
	}

	return []model.MetadataRecord{{
		Title:      show.Name,
		Year:       year,
		Plot:       plot,
		Runtime:    runtime,
		IMDbRating: rating,
		MediaType:  "series",
		Poster:     show.Image.Medium,
		IMDbID:     show.Externals.IMDb,
		ProviderID: fmt.Sprintf("%d", show.ID),
		Released:   show.Premiered,
		Genre:      strings.Join(show.Genres, ", "),
		Provider:   c.Name(),
	}}, nil
}

func (c *Client) episode(ctx context.Context, showID int64, season, episode int) string {
	params := url.Values{}
	params.Set("season", fmt.Sprintf("%d", season))
	params.Set("number", fmt.Sprintf("%d", episode))

	var ep episodeResponse
	found, err := c.get(ctx, fmt.Sprintf("/shows/%d/episodebynumber", showID), params, &ep)
	if err != nil || !found {
		return ""
	}
	return stripHTML(ep.Summary)
}

// get returns found=false on a 404, which TVmaze uses for "no match".
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return false, fmt.Errorf("tvmaze: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, fmt.Errorf("tvmaze: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return false, fmt.Errorf("tvmaze: decode failed: %w", err)
	}
	c.recorder.Record(c.Name(), endpoint, true, elapsed)
	return true, nil
}
