// Package omdb implements the OMDb metadata provider.
package omdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/provider"
)

const (
	defaultBaseURL = "https://www.omdbapi.com/"
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

func (c *Client) Name() string    { return provider.SourceOMDb }
func (c *Client) DailyLimit() int { return dailyLimit }

type titleResponse struct {
	Response   string `json:"Response"`
	Error      string `json:"Error"`
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Plot       string `json:"Plot"`
	Runtime    string `json:"Runtime"`
	IMDbRating string `json:"imdbRating"`
	IMDbID     string `json:"imdbID"`
	Type       string `json:"Type"`
	Poster     string `json:"Poster"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Released   string `json:"Released"`
	Genre      string `json:"Genre"`
	Ratings    []struct {
		Source string `json:"Source"`
		Value  string `json:"Value"`
	} `json:"Ratings"`
}

type searchResponse struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
	Search   []struct {
		Title  string `json:"Title"`
		Year   string `json:"Year"`
		IMDbID string `json:"imdbID"`
		Type   string `json:"Type"`
		Poster string `json:"Poster"`
	} `json:"Search"`
}

// Search looks a title up on OMDb. Quick mode is a single t= lookup; full
// mode runs an s= search and a detail fetch per hit so manual selection has
// complete metadata. A requested year that disagrees with the returned year
// rejects the match rather than enriching the wrong film.
func (c *Client) Search(ctx context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("omdb: api key not configured")
	}
	if !c.recorder.Allowed(c.Name(), dailyLimit) {
		log.Printf("omdb: daily quota exhausted, skipping lookup for %q", q.Title)
		return nil, nil
	}

	if q.Mode == provider.ModeFull {
		return c.fullSearch(ctx, q)
	}
	return c.quickSearch(ctx, q)
}

func (c *Client) quickSearch(ctx context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("t", q.Title)
	params.Set("plot", "short")
	if q.Year != "" {
		params.Set("y", q.Year)
	}
	if q.IsSeries {
		params.Set("type", "series")
	} else {
		params.Set("type", "movie")
	}
	if q.Season != nil {
		params.Set("Season", strconv.Itoa(*q.Season))
	}
	if q.Episode != nil {
		params.Set("Episode", strconv.Itoa(*q.Episode))
	}

	var data titleResponse
	if err := c.get(ctx, "/?t="+q.Title, params, &data); err != nil {
		return nil, err
	}
	if data.Response != "True" {
		log.Printf("omdb: no match for %q: %s", q.Title, data.Error)
		return nil, nil
	}
	if q.Year != "" && !yearMatches(q.Year, data.Year) {
		log.Printf("omdb: year mismatch for %q: requested %s, got %s (%q), rejecting",
			q.Title, q.Year, data.Year, data.Title)
		return nil, nil
	}
	return []model.MetadataRecord{c.toRecord(data)}, nil
}

func (c *Client) fullSearch(ctx context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("s", q.Title)
	if q.IsSeries {
		params.Set("type", "series")
	} else {
		params.Set("type", "movie")
	}

	var data searchResponse
	if err := c.get(ctx, "/?s="+q.Title, params, &data); err != nil {
		return nil, err
	}
	if data.Response != "True" || len(data.Search) == 0 {
		return nil, nil
	}

	hits := data.Search
	if len(hits) > 5 {
		hits = hits[:5]
	}

	results := make([]model.MetadataRecord, 0, len(hits))
	for _, hit := range hits {
		detail, err := c.FetchByIMDbID(ctx, hit.IMDbID)
		if err != nil || detail == nil {
			// Keep the basic hit so the result set stays complete.
			results = append(results, model.MetadataRecord{
				Title:      hit.Title,
				Year:       hit.Year,
				MediaType:  hit.Type,
				Poster:     hit.Poster,
				IMDbID:     hit.IMDbID,
				Provider:   c.Name(),
				ProviderID: hit.IMDbID,
			})
			continue
		}
		results = append(results, *detail)
	}
	return results, nil
}

// FetchByIMDbID fetches full details for one IMDb id. Used by full search and
// to enrich overrides that carry an id but lack director/cast fields.
func (c *Client) FetchByIMDbID(ctx context.Context, imdbID string) (*model.MetadataRecord, error) {
	if imdbID == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("i", imdbID)
	params.Set("plot", "short")

	var data titleResponse
	if err := c.get(ctx, "/?i="+imdbID, params, &data); err != nil {
		return nil, err
	}
	if data.Response != "True" {
		return nil, nil
	}
	rec := c.toRecord(data)
	return &rec, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return fmt.Errorf("omdb: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("omdb: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.recorder.Record(c.Name(), endpoint, false, elapsed)
		return fmt.Errorf("omdb: decode failed: %w", err)
	}
	c.recorder.Record(c.Name(), endpoint, true, elapsed)
	return nil
}

func (c *Client) toRecord(data titleResponse) model.MetadataRecord {
	rt := "N/A"
	for _, r := range data.Ratings {
		if r.Source == "Rotten Tomatoes" {
			rt = r.Value
			break
		}
	}
	return model.MetadataRecord{
		Title:          data.Title,
		Year:           data.Year,
		Plot:           data.Plot,
		Runtime:        data.Runtime,
		IMDbRating:     data.IMDbRating,
		RottenTomatoes: rt,
		MediaType:      data.Type,
		Poster:         data.Poster,
		IMDbID:         data.IMDbID,
		ProviderID:     data.IMDbID,
		Director:       data.Director,
		Actors:         data.Actors,
		Released:       data.Released,
		Genre:          data.Genre,
		Provider:       c.Name(),
	}
}

// yearMatches tolerates series ranges like "2020-2023" in the returned year.
func yearMatches(requested, returned string) bool {
	if returned == "" {
		return true
	}
	if i := strings.IndexByte(returned, '-'); i >= 0 {
		returned = returned[:i]
	}
	return returned == requested
}
