// Package gbfs reads station metadata and live status from a GBFS
// auto-discovery endpoint.
package gbfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kilianp07/bikeflow/core/logger"
	"github.com/kilianp07/bikeflow/core/model"
	logpkg "github.com/kilianp07/bikeflow/infra/logger"
)

// ErrUnknownFeed is returned when the discovery document lacks a required feed.
var ErrUnknownFeed = errors.New("gbfs feed not found")

// DefaultTimeout bounds every HTTP request.
const DefaultTimeout = 30 * time.Second

const (
	FeedStationInformation = "station_information"
	FeedStationStatus      = "station_status"
)

// languageOrder is the preference used when a feed is published in several languages.
var languageOrder = []string{"", "en", "pt", "pt-BR"}

// AuthConfig enables OAuth2 client credentials on feed requests.
type AuthConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Config defines the feed location.
type Config struct {
	DiscoveryURL   string      `json:"discovery_url"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Auth           *AuthConfig `json:"auth"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(DefaultTimeout / time.Second)
	}
}

// Validate checks that a discovery URL is set.
func (c Config) Validate() error {
	if c.DiscoveryURL == "" {
		return errors.New("feed.discovery_url required")
	}
	if c.Auth != nil && c.Auth.TokenURL == "" {
		return errors.New("feed.auth.token_url required")
	}
	return nil
}

// Feed is one entry of the discovery document.
type Feed struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Language string `json:"language,omitempty"`
}

// StationStatus is one station entry of station_status.
type StationStatus struct {
	StationID         string          `json:"station_id"`
	NumBikesAvailable decimal.Decimal `json:"num_bikes_available"`
	NumDocksAvailable *int            `json:"num_docks_available"`
	LastReported      int64           `json:"last_reported"`
}

// Snapshot holds both station feeds fetched in one pass.
type Snapshot struct {
	Stations []model.Station
	Status   []StationStatus
	// SkippedStations counts station_information entries without coordinates.
	SkippedStations int
}

// Client fetches GBFS feeds.
type Client struct {
	http         *http.Client
	discoveryURL string
	log          logger.Logger
}

// NewClient builds a Client. When cfg.Auth is set, requests carry a bearer
// token obtained with the client credentials grant.
func NewClient(cfg Config) *Client {
	cfg.SetDefaults()
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	hc := &http.Client{Timeout: timeout}
	if cfg.Auth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		hc = cc.Client(ctx)
		hc.Timeout = timeout
	}
	return &Client{http: hc, discoveryURL: cfg.DiscoveryURL, log: logpkg.New("gbfs")}
}

type discovery struct {
	Data json.RawMessage `json:"data"`
}

// Discover reads the auto-discovery document. Feeds are read from data.feeds
// or, failing that, from the first of data.en, data.pt and data["pt-BR"].
func (c *Client) Discover(ctx context.Context) ([]Feed, error) {
	var doc discovery
	if err := c.getJSON(ctx, c.discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	var flat struct {
		Feeds []Feed `json:"feeds"`
	}
	if err := json.Unmarshal(doc.Data, &flat); err == nil && len(flat.Feeds) > 0 {
		return flat.Feeds, nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(doc.Data, &nested); err != nil {
		return nil, fmt.Errorf("discovery data: %w", err)
	}
	for _, lang := range languageOrder[1:] {
		raw, ok := nested[lang]
		if !ok {
			continue
		}
		var l struct {
			Feeds []Feed `json:"feeds"`
		}
		if err := json.Unmarshal(raw, &l); err != nil || len(l.Feeds) == 0 {
			continue
		}
		for i := range l.Feeds {
			if l.Feeds[i].Language == "" {
				l.Feeds[i].Language = lang
			}
		}
		return l.Feeds, nil
	}
	return nil, fmt.Errorf("%w: discovery document lists no feeds", ErrUnknownFeed)
}

// PickFeedURL returns the URL of the named feed, preferring languages in the
// order "", en, pt, pt-BR and otherwise the first match.
func PickFeedURL(feeds []Feed, name string) (string, error) {
	byLang := make(map[string]string)
	first := ""
	for _, f := range feeds {
		if f.Name != name {
			continue
		}
		if first == "" {
			first = f.URL
		}
		if _, ok := byLang[f.Language]; !ok {
			byLang[f.Language] = f.URL
		}
	}
	for _, lang := range languageOrder {
		if u, ok := byLang[lang]; ok {
			return u, nil
		}
	}
	if first == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}
	return first, nil
}

type stationInformation struct {
	Data struct {
		Stations []struct {
			StationID string   `json:"station_id"`
			Name      string   `json:"name"`
			Lat       *float64 `json:"lat"`
			Lon       *float64 `json:"lon"`
			Capacity  int      `json:"capacity"`
		} `json:"stations"`
	} `json:"data"`
}

type stationStatus struct {
	Data struct {
		Stations []StationStatus `json:"stations"`
	} `json:"data"`
}

// Fetch discovers the feeds then reads station_information and station_status.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	feeds, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	infoURL, err := PickFeedURL(feeds, FeedStationInformation)
	if err != nil {
		return nil, err
	}
	statusURL, err := PickFeedURL(feeds, FeedStationStatus)
	if err != nil {
		return nil, err
	}

	var info stationInformation
	if err := c.getJSON(ctx, infoURL, &info); err != nil {
		return nil, fmt.Errorf("%s: %w", FeedStationInformation, err)
	}
	var status stationStatus
	if err := c.getJSON(ctx, statusURL, &status); err != nil {
		return nil, fmt.Errorf("%s: %w", FeedStationStatus, err)
	}

	snap := &Snapshot{Status: status.Data.Stations}
	for _, st := range info.Data.Stations {
		if st.Lat == nil || st.Lon == nil {
			snap.SkippedStations++
			continue
		}
		snap.Stations = append(snap.Stations, model.Station{
			ID: st.StationID, Name: st.Name, Lat: *st.Lat, Lon: *st.Lon, Capacity: st.Capacity,
		})
	}
	if snap.SkippedStations > 0 {
		c.log.Warnf("%d stations without coordinates skipped", snap.SkippedStations)
	}
	c.log.Debugw("gbfs fetched", map[string]any{"stations": len(snap.Stations), "status": len(snap.Status)})
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
