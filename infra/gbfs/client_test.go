package gbfs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, discovery func(base string) string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/gbfs.json":
			_, _ = w.Write([]byte(discovery(srv.URL)))
		case "/station_information.json":
			_, _ = w.Write([]byte(`{"data":{"stations":[
				{"station_id":"1","name":"Centro","lat":-30.03,"lon":-51.22,"capacity":12},
				{"station_id":"2","name":"Ghost"}
			]}}`))
		case "/station_status.json":
			_, _ = w.Write([]byte(`{"data":{"stations":[
				{"station_id":"1","num_bikes_available":4,"num_docks_available":8,"last_reported":1740823200},
				{"station_id":"2","num_bikes_available":0}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFlatFeeds(t *testing.T) {
	srv := feedServer(t, func(base string) string {
		return fmt.Sprintf(`{"data":{"feeds":[
			{"name":"station_information","url":"%[1]s/station_information.json"},
			{"name":"station_status","url":"%[1]s/station_status.json"}
		]}}`, base)
	})
	c := NewClient(Config{DiscoveryURL: srv.URL + "/gbfs.json"})
	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Stations, 1)
	assert.Equal(t, "Centro", snap.Stations[0].Name)
	assert.Equal(t, 1, snap.SkippedStations)
	require.Len(t, snap.Status, 2)
	assert.True(t, snap.Status[0].NumBikesAvailable.Equal(decimal.NewFromInt(4)))
	require.NotNil(t, snap.Status[0].NumDocksAvailable)
	assert.Equal(t, 8, *snap.Status[0].NumDocksAvailable)
	assert.Nil(t, snap.Status[1].NumDocksAvailable)
}

func TestFetchNestedLanguageFeeds(t *testing.T) {
	srv := feedServer(t, func(base string) string {
		return fmt.Sprintf(`{"data":{"pt":{"feeds":[
			{"name":"station_information","url":"%[1]s/station_information.json"},
			{"name":"station_status","url":"%[1]s/station_status.json"}
		]}}}`, base)
	})
	c := NewClient(Config{DiscoveryURL: srv.URL + "/gbfs.json"})
	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Stations, 1)
}

func TestDiscoverFlatFeedLanguages(t *testing.T) {
	srv := feedServer(t, func(base string) string {
		return fmt.Sprintf(`{"data":{"feeds":[
			{"name":"station_status","url":"%[1]s/fr/station_status.json","language":"fr"},
			{"name":"station_status","url":"%[1]s/station_status.json","language":"pt"}
		]}}`, base)
	})
	c := NewClient(Config{DiscoveryURL: srv.URL + "/gbfs.json"})
	feeds, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "fr", feeds[0].Language)

	u, err := PickFeedURL(feeds, "station_status")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/station_status.json", u)
}

func TestFetchMissingFeed(t *testing.T) {
	srv := feedServer(t, func(base string) string {
		return fmt.Sprintf(`{"data":{"feeds":[{"name":"station_information","url":"%s/station_information.json"}]}}`, base)
	})
	c := NewClient(Config{DiscoveryURL: srv.URL + "/gbfs.json"})
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestFetchNoFeeds(t *testing.T) {
	srv := feedServer(t, func(string) string { return `{"data":{}}` })
	c := NewClient(Config{DiscoveryURL: srv.URL + "/gbfs.json"})
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestFetchHTTPError(t *testing.T) {
	srv := feedServer(t, func(string) string { return "" })
	c := NewClient(Config{DiscoveryURL: srv.URL + "/missing.json"})
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPickFeedURL(t *testing.T) {
	feeds := []Feed{
		{Name: "station_status", URL: "fr", Language: "fr"},
		{Name: "station_status", URL: "pt", Language: "pt"},
		{Name: "station_status", URL: "en", Language: "en"},
		{Name: "station_information", URL: "info-fr", Language: "fr"},
	}
	u, err := PickFeedURL(feeds, "station_status")
	require.NoError(t, err)
	assert.Equal(t, "en", u)

	u, err = PickFeedURL(feeds, "station_information")
	require.NoError(t, err)
	assert.Equal(t, "info-fr", u)

	_, err = PickFeedURL(feeds, "system_alerts")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestOAuthBearer(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"feeds":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{DiscoveryURL: srv.URL, Auth: &AuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL}})
	_, err := c.Discover(context.Background())
	assert.ErrorIs(t, err, ErrUnknownFeed)
	assert.Equal(t, "Bearer token123", auth)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{DiscoveryURL: "x", Auth: &AuthConfig{}}.Validate())
	c := Config{DiscoveryURL: "x"}
	c.SetDefaults()
	assert.NoError(t, c.Validate())
	assert.Equal(t, 30, c.TimeoutSeconds)
}
