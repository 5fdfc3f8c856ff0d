package app

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/JiscSD/lightning-observation-map/cache"
	"github.com/JiscSD/lightning-observation-map/internal/testutil"
	"github.com/JiscSD/lightning-observation-map/render"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainHelp(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"lightning-observation-map", "help"}

	var (
		output    bytes.Buffer
		errOutput bytes.Buffer
	)
	err := Run(&output, &errOutput)

	if err != nil {
		t.Error(err)
	}
	if have, want := output.String(), "Available Commands"; !strings.Contains(have, want) {
		t.Errorf("expected output %s not found in output: %s", want, have)
	}
	if errOutput.String() != "" {
		t.Errorf("error output is not empty")
	}
}

func TestMainUnknownCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"lightning-observation-map", "unknown"}

	err := Run(ioutil.Discard, ioutil.Discard)

	if err == nil {
		t.Error("error expected")
	}
}

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, ok := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if ok {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	c := &Config{}
	require.NoError(t, loadConfig(c))
	return c
}

func TestLoadConfig_Defaults(t *testing.T) {
	c := testConfig(t)

	assert.Equal(t, "INFO", c.Logging.Level)
	assert.Equal(t, time.Hour, c.Refresh.Interval)
	assert.Equal(t, time.Minute, c.Feed.Timeout)
	assert.Equal(t, ":4444", c.Server.Addr)
	assert.Equal(t, "localhost:6060", c.Server.OpsAddr)
	assert.Equal(t, time.Minute, c.Publish.Timeout)

	src := c.Source()
	assert.Equal(t, "WEB", src.DownloadType)
	assert.Equal(t, "KMZ", src.Format)

	opts, err := c.RenderOptions()
	require.NoError(t, err)
	assert.Equal(t, render.DefaultOptions(), opts)
}

func TestLoadConfig_Environment(t *testing.T) {
	setEnv(t, "LIGHTNING_MAP_REFRESH_INTERVAL", "30m")
	setEnv(t, "LIGHTNING_MAP_RENDER_EXTENT", "118 124 21 27")
	setEnv(t, "LIGHTNING_MAP_RENDER_PALETTE", "#fff,#ccc,#999,#666,#333")
	setEnv(t, "LIGHTNING_MAP_FEED_AUTHORIZATION", "CWA-SECRET")

	c := testConfig(t)

	assert.Equal(t, 30*time.Minute, c.Refresh.Interval)
	opts, err := c.RenderOptions()
	require.NoError(t, err)
	assert.Equal(t, render.Extent{MinLon: 118, MaxLon: 124, MinLat: 21, MaxLat: 27}, opts.Extent)
	assert.Equal(t, uint8(0x33), opts.Palette[4].R)
	assert.Equal(t, "CWA-SECRET", c.Source().Authorization)

	var out bytes.Buffer
	require.NoError(t, doConfig(&out, c))
	assert.Contains(t, out.String(), "[feed]")
	assert.NotContains(t, out.String(), "CWA-SECRET")
}

func TestConfig_StringRedactsCredential(t *testing.T) {
	setEnv(t, "LIGHTNING_MAP_FEED_AUTHORIZATION", "a")

	c := testConfig(t)
	out := c.String()

	assert.Contains(t, out, `authorization = "********"`)
	assert.Contains(t, out, "Real-time Lightning Observation Map")
	assert.Contains(t, out, "opendata.cwa.gov.tw")
	assert.Equal(t, "a", c.Feed.Authorization)
	assert.Equal(t, "a", c.v.GetString("feed.authorization"))
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]func(c *Config){
		"empty feed url":     func(c *Config) { c.Feed.URL = "" },
		"zero interval":      func(c *Config) { c.Refresh.Interval = 0 },
		"negative timeout":   func(c *Config) { c.Feed.Timeout = -time.Second },
		"short palette":      func(c *Config) { c.Render.Palette = []interface{}{"#ffffff"} },
		"bad color":          func(c *Config) { c.Render.Palette[2] = "orange" },
		"degenerate extent":  func(c *Config) { c.Render.Extent = []interface{}{120.0, 120.0, 20.0, 28.0} },
		"short extent":       func(c *Config) { c.Render.Extent = []interface{}{120.0, 121.0} },
		"non numeric extent": func(c *Config) { c.Render.Extent = []interface{}{"west", 121.0, 20.0, 28.0} },
		"tiny raster":        func(c *Config) { c.Render.Width = 0 },
		"empty address":      func(c *Config) { c.Server.Addr = "" },
		"shared ops address": func(c *Config) { c.Server.OpsAddr = c.Server.Addr },
		"zero publish time":  func(c *Config) { c.Publish.Timeout = 0 },
		"mirror without key": func(c *Config) { c.Publish.S3Bucket, c.Publish.S3Key = "maps", "" },
	}
	for name, mutate := range tests {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			c := testConfig(t)
			require.NoError(t, c.Validate())
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestMapHandler(t *testing.T) {
	store := cache.New()
	h := mapHandler(store)

	// Empty cache.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, notReadyMessage, rec.Body.String())

	generatedAt := time.Date(2025, 7, 14, 6, 0, 0, 0, time.UTC)
	store.Set(&render.Artifact{Image: []byte("\x89PNG map"), ContentType: render.ContentType, GeneratedAt: generatedAt, Points: 3})

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Mon, 14 Jul 2025 06:00:00 GMT", rec.Header().Get("Last-Modified"))
	assert.Equal(t, "\x89PNG map", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-Modified-Since", "Mon, 14 Jul 2025 06:00:00 GMT")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewMux(t *testing.T) {
	ts := httptest.NewServer(newMux(cache.New()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, notReadyMessage, string(body))

	for _, path := range []string{"/health", "/metrics", "/debug/pprof/"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestNewOpsMux(t *testing.T) {
	ts := httptest.NewServer(newOpsMux())
	defer ts.Close()

	for _, path := range []string{"/health", "/metrics", "/debug/pprof/"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NotEqual(t, notReadyMessage, string(body))
}

func feedServer(t *testing.T, kml []byte) *httptest.Server {
	archive := testutil.KMZ(t, testutil.Entry{Name: "O-A0039-001.kml", Body: kml})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestDoRender(t *testing.T) {
	ts := feedServer(t, testutil.Fixture(t, "lightning.kml"))
	c := testConfig(t)
	c.Feed.URL = ts.URL
	c.Feed.Authorization = "CWA-SECRET"
	fs := afero.NewMemMapFs()
	logger, _ := logtest.NewNullLogger()

	require.NoError(t, doRender(context.Background(), logger, c, fs, "/out/map.png"))

	blob, err := afero.ReadFile(fs, "/out/map.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(blob, []byte("\x89PNG\r\n\x1a\n")))
}

func TestDoRender_Errors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	t.Run("empty feed", func(t *testing.T) {
		ts := feedServer(t, testutil.KML())
		c := testConfig(t)
		c.Feed.URL, c.Feed.Authorization = ts.URL, "CWA-SECRET"
		fs := afero.NewMemMapFs()

		assert.Error(t, doRender(context.Background(), logger, c, fs, "map.png"))
		exists, _ := afero.Exists(fs, "map.png")
		assert.False(t, exists)
	})

	t.Run("unauthorized", func(t *testing.T) {
		ts := feedServer(t, testutil.KML())
		c := testConfig(t)
		c.Feed.URL, c.Feed.Authorization = ts.URL, ""

		err := doRender(context.Background(), logger, c, afero.NewMemMapFs(), "map.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("missing base map", func(t *testing.T) {
		c := testConfig(t)
		c.Render.BaseMap = "/etc/basemap.geojson"

		assert.Error(t, doRender(context.Background(), logger, c, afero.NewMemMapFs(), "map.png"))
	})
}

func TestServer(t *testing.T) {
	ts := feedServer(t, testutil.Fixture(t, "lightning.kml"))
	c := testConfig(t)
	c.Feed.URL, c.Feed.Authorization = ts.URL, "CWA-SECRET"
	logger, _ := logtest.NewNullLogger()

	scheduler, store, err := server(logger, c, prometheus.NewRegistry())
	require.NoError(t, err)
	go scheduler.Run()
	defer scheduler.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for store.Get() == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first map")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 4, store.Get().Points)
}

func TestLogStatus(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	store := cache.New()

	logStatus(logger, store)
	assert.Equal(t, "Cache status: empty", hook.LastEntry().Message)

	store.Set(&render.Artifact{Image: []byte("x"), GeneratedAt: time.Now(), Points: 7})
	logStatus(logger, store)
	entry := hook.LastEntry()
	assert.Equal(t, "Cache status: ready", entry.Message)
	assert.Equal(t, 7, entry.Data["points"])
	assert.Equal(t, logrus.InfoLevel, entry.Level)
}
