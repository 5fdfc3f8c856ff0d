package app

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/JiscSD/lightning-observation-map/bucket"
	"github.com/JiscSD/lightning-observation-map/feed"
	"github.com/JiscSD/lightning-observation-map/render"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const defaultConfig = `# Lightning Observation Map

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

################################## FEED #######################################

[feed]

#
# Location of the lightning observation archive (KMZ). Use a s3://bucket/key
# URL to read a mirrored copy from object storage instead.
#
url = "https://opendata.cwa.gov.tw/fileapi/v1/opendataapi/O-A0039-001"

#
# Provider credential, sent as the "Authorization" query parameter.
#
authorization = ""

download_type = "WEB"
format = "KMZ"

#
# Maximum duration of a single download.
#
timeout = "60s"

################################## REFRESH ####################################

[refresh]

#
# Wait between the end of a refresh cycle and the start of the next one.
#
interval = "1h"

################################## RENDER #####################################

[render]

width = 1280
height = 1160
title = "Real-time Lightning Observation Map"

#
# Map window: [min longitude, max longitude, min latitude, max latitude].
#
extent = [116.0, 126.0, 20.0, 28.0]

#
# One color per time bucket, from the earliest to the latest observation.
#
palette = ["#ffff00", "#ffd700", "#ffa500", "#ff4500", "#ff0000"]

#
# Degrees between grid lines.
#
grid_step = 2.0

marker_size = 9
marker_width = 3

#
# Optional GeoJSON base map. Features need a "layer" property set to "land",
# "lake", "river" or "border". The embedded base map is used when empty.
#
basemap = ""

################################## SERVER #####################################

[server]

#
# Address of the map endpoint.
#
addr = ":4444"

#
# Address of the operations endpoints: /health, /metrics and /debug/pprof.
# Disabled when empty.
#
ops_addr = "localhost:6060"

################################## PUBLISH ####################################

[publish]

#
# Upload every new map to s3://<s3_bucket>/<s3_key>. Disabled when empty.
#
s3_bucket = ""
s3_key = "lightning.png"

#
# AWS SNS topic ARN notified after every new map. Disabled when empty.
#
sns_topic = ""

#
# Maximum duration of each upload or notification.
#
timeout = "60s"

################################## AWS ########################################

[aws]

s3_profile = ""
s3_endpoint = ""

sns_profile = ""
sns_endpoint = ""
`

// redacted replaces the feed credential when the configuration is printed.
const redacted = "********"

type Config struct {
	v *viper.Viper

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Feed struct {
		URL           string        `mapstructure:"url"`
		Authorization string        `mapstructure:"authorization"`
		DownloadType  string        `mapstructure:"download_type"`
		Format        string        `mapstructure:"format"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"feed"`

	Refresh struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"refresh"`

	Render struct {
		Width       int           `mapstructure:"width"`
		Height      int           `mapstructure:"height"`
		Title       string        `mapstructure:"title"`
		Extent      []interface{} `mapstructure:"extent"`
		Palette     []interface{} `mapstructure:"palette"`
		GridStep    float64       `mapstructure:"grid_step"`
		MarkerSize  int           `mapstructure:"marker_size"`
		MarkerWidth int           `mapstructure:"marker_width"`
		BaseMap     string        `mapstructure:"basemap"`
	} `mapstructure:"render"`

	Server struct {
		Addr    string `mapstructure:"addr"`
		OpsAddr string `mapstructure:"ops_addr"`
	} `mapstructure:"server"`

	Publish struct {
		S3Bucket string `mapstructure:"s3_bucket"`
		S3Key    string `mapstructure:"s3_key"`
		SNSTopic string        `mapstructure:"sns_topic"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"publish"`

	AWS struct {
		S3Profile   string `mapstructure:"s3_profile"`
		S3Endpoint  string `mapstructure:"s3_endpoint"`
		SNSProfile  string `mapstructure:"sns_profile"`
		SNSEndpoint string `mapstructure:"sns_endpoint"`
	} `mapstructure:"aws"`
}

func (c Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is empty")
	}
	if c.Feed.Timeout < 0 {
		return errors.New("feed.timeout is negative")
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be positive")
	}
	opts, err := c.RenderOptions()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return errors.Wrap(err, "render")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is empty")
	}
	if c.Server.OpsAddr != "" && c.Server.OpsAddr == c.Server.Addr {
		return errors.New("server.ops_addr must differ from server.addr")
	}
	if c.Publish.Timeout <= 0 {
		return errors.New("publish.timeout must be positive")
	}
	if c.Publish.S3Bucket != "" && c.Publish.S3Key == "" {
		return errors.New("publish.s3_key is required when publish.s3_bucket is set")
	}
	return nil
}

// Source returns the location of the feed.
func (c Config) Source() feed.Source {
	return feed.Source{
		URL:           c.Feed.URL,
		Authorization: c.Feed.Authorization,
		DownloadType:  c.Feed.DownloadType,
		Format:        c.Feed.Format,
		Timeout:       c.Feed.Timeout,
	}
}

// RenderOptions converts the render section. Environment variables deliver
// lists as a single string, e.g. "116 126 20 28".
func (c Config) RenderOptions() (render.Options, error) {
	opts := render.Options{
		Width:       c.Render.Width,
		Height:      c.Render.Height,
		Title:       c.Render.Title,
		GridStep:    c.Render.GridStep,
		MarkerSize:  c.Render.MarkerSize,
		MarkerWidth: c.Render.MarkerWidth,
	}

	extent, err := floats(c.Render.Extent)
	if err != nil {
		return opts, errors.Wrap(err, "render.extent")
	}
	if len(extent) != 4 {
		return opts, errors.Errorf("render.extent needs 4 values, got %d", len(extent))
	}
	opts.Extent = render.Extent{MinLon: extent[0], MaxLon: extent[1], MinLat: extent[2], MaxLat: extent[3]}

	colors := cast.ToStringSlice(list(c.Render.Palette))
	if len(colors) != bucket.K {
		return opts, errors.Errorf("render.palette needs %d colors, got %d", bucket.K, len(colors))
	}
	if opts.Palette, err = render.ParsePalette(colors); err != nil {
		return opts, errors.Wrap(err, "render.palette")
	}

	return opts, nil
}

// list splits a single string value into fields.
func list(values []interface{}) []interface{} {
	if len(values) != 1 {
		return values
	}
	s, ok := values[0].(string)
	if !ok {
		return values
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	ret := make([]interface{}, len(fields))
	for i, f := range fields {
		ret[i] = f
	}
	return ret
}

func floats(values []interface{}) ([]float64, error) {
	values = list(values)
	ret := make([]float64, len(values))
	for i, v := range values {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		ret[i] = f
	}
	return ret, nil
}

func (c Config) String() string {
	tmpfile, err := ioutil.TempFile("", "config.*.toml")
	if err != nil {
		return err.Error()
	}
	defer os.Remove(tmpfile.Name())

	// Write a copy of the settings so the credential can be masked without
	// touching the live configuration.
	w := viper.New()
	w.SetConfigType("toml")
	if err := w.MergeConfigMap(c.v.AllSettings()); err != nil {
		return err.Error()
	}
	if w.GetString("feed.authorization") != "" {
		w.Set("feed.authorization", redacted)
	}
	err = w.WriteConfigAs(tmpfile.Name())
	if err != nil {
		return err.Error()
	}
	blob, err := ioutil.ReadAll(tmpfile)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

func loadConfig(c *Config) error {
	v := viper.New()

	v.SetEnvPrefix("LIGHTNING_MAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lightning-observation-map")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/lightning-observation-map/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(err) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config did not pass validation")
	}

	c.v = v

	return nil
}
