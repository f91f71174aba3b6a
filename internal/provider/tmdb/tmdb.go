// Package tmdb implements the TMDb metadata provider. It is the only
// provider that honors a language override.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/provider"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL  = "https://image.tmdb.org/t/p/w185"
	dailyLimit     = 1000
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	recorder   provider.Recorder
}

func New(apiKey string, recorder provider.Recorder) *Client {
	if recorder == nil {
		recorder = provider.NopRecorder{}
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		recorder:   recorder,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

func (c *Client) Name() string    { return provider.SourceTMDb }
func (c *Client) DailyLimit() int { return dailyLimit }

type multiSearchResponse struct {
	Results []struct {
		ID           int64   `json:"id"`
		MediaType    string  `json:"media_type"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		Overview     string  `json:"overview"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		PosterPath   string  `json:"poster_path"`
		VoteAverage  float64 `json:"vote_average"`
	} `json:"results"`
}

type detailsResponse struct {
	Overview       string  `json:"overview"`
	Runtime        int     `json:"runtime"`
	EpisodeRunTime []int   `json:"episode_run_time"`
	VoteAverage    float64 `json:"vote_average"`
	Genres         []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

// Search queries /search/multi, keeping movie and tv hits only. Quick mode
// returns the top hit; full mode returns up to five, each enriched with a
// detail fetch for runtime and genres.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tmdb: api key not configured")
	}
	if !c.recorder.Allowed(c.Name(), dailyLimit) {
		log.Printf("tmdb: daily quota exhausted, skipping lookup for %q", q.Title)
		return nil, nil
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", q.Title)
	if q.Language != "" {
		params.Set("language", q.Language)
	}

	var data multiSearchResponse
	if err := c.get(ctx, "/search/multi", params, &data); err != nil {
		return nil, err
	}

	keep := 1
	if q.Mode == provider.ModeFull {
		keep = 5
	}

	var results []model.MetadataRecord
	for _, item := range data.Results {
		if item.MediaType != "movie" && item.MediaType != "tv" {
			continue
		}
		title := item.Title
		if title == "" {
			title = item.Name
		}
		date := item.ReleaseDate
		if date == "" {
			date = item.FirstAirDate
		}
		year := "N/A"
		if len(date) >= 4 {
			year = date[:4]
		}
		poster := ""
		if item.PosterPath != "" {
			poster = posterBaseURL + item.PosterPath
		}
		plot := item.Overview
		if plot == "" {
			plot = "No plot available"
		}

		rec := model.MetadataRecord{
			Title:      title,
			Year:       year,
			Plot:       plot,
			IMDbRating: fmt.Sprintf("%.1f/10", item.VoteAverage),
			MediaType:  item.MediaType,
			Poster:     poster,
			ProviderID: fmt.Sprintf("%d", item.ID),
			Released:   date,
			Provider:   c.Name(),
		}
		if q.Mode == provider.ModeFull {
			c.enrich(ctx, &rec, item.MediaType, item.ID, q.Language)
		}

		results = append(results, rec)
		if len(results) >= keep {
			break
		}
	}
	return results, nil
}

// enrich fills runtime and genres from the per-title detail endpoint.
// Detail failures leave the search-level record as is.
func (c *Client) enrich(ctx context.Context, rec *model.MetadataRecord, mediaType string, id int64, language string) {
	endpoint := fmt.Sprintf("/movie/%d", id)
	if mediaType == "tv" {
		endpoint = fmt.Sprintf("/tv/%d", id)
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	if language != "" {
		params.Set("language", language)
	}

	var detail detailsResponse
	if err := c.get(ctx, endpoint, params, &detail); err != nil {
		log.Printf("tmdb: detail fetch failed for %s: %v", endpoint, err)
		return
	}

	switch {
	case detail.Runtime > 0:
		rec.Runtime = fmt.Sprintf("%d min", detail.Runtime)
	case len(detail.EpisodeRunTime) > 0:
		rec.Runtime = fmt.Sprintf("%d min", detail.EpisodeRunTime[0])
	}
	if detail.Overview != "" {
		rec.Plot = detail.Overview
	}
	if len(detail.Genres) > 0 {
		names := make([]string, len(detail.Genres))
		for i, g := range detail.Genres {
			names[i] = g.Name
		}
		rec.Genre = strings.Join(names, ", ")
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return fmt.Errorf("tmdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tmdb: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return fmt.Errorf("tmdb: decode failed: %w", err)
	}
	c.recorder.Record(c.Name(), endpoint, true, elapsed)
	return nil
}
