package app

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JiscSD/lightning-observation-map/cache"
	"github.com/JiscSD/lightning-observation-map/feed"
	"github.com/JiscSD/lightning-observation-map/publish"
	"github.com/JiscSD/lightning-observation-map/refresh"
	"github.com/JiscSD/lightning-observation-map/render"
	"github.com/JiscSD/lightning-observation-map/s3"
	"github.com/JiscSD/lightning-observation-map/version"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	scheduler, store, err := server(logger, config, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	var g run.Group
	{
		g.Add(func() error {
			scheduler.Run()
			return nil
		}, func(error) {
			scheduler.Stop()
		})
	}
	{
		ln, err := net.Listen("tcp", config.Server.Addr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

		g.Add(func() error {
			return http.Serve(ln, newMux(store))
		}, func(error) {
			ln.Close()
		})
	}
	if config.Server.OpsAddr != "" {
		ln, err := net.Listen("tcp", config.Server.OpsAddr)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("Operations server listening")

		g.Add(func() error {
			return http.Serve(ln, newOpsMux())
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel, logger, scheduler, store)
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

// newMux serves the cached map only.
func newMux(store *cache.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", mapHandler(store))
	return mux
}

func newOpsMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Prometheus metrics.
	mux.Handle("/metrics", promhttp.Handler())

	// Profiling data.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

	return mux
}

func server(logger logrus.FieldLogger, config *Config, reg prometheus.Registerer) (*refresh.Scheduler, *cache.Store, error) {
	metrics := refresh.NewMetrics()
	metrics.MustRegister(reg)

	fetcher, renderer, err := pipeline(logger, config, afero.NewOsFs())
	if err != nil {
		return nil, nil, err
	}

	var publishers []refresh.Publisher
	{
		var location string
		if config.Publish.S3Bucket != "" {
			sess, err := awsSession(logger, config.AWS.S3Profile, config.AWS.S3Endpoint)
			if err != nil {
				return nil, nil, err
			}
			mirror, err := publish.NewMirror(s3.New(sess), config.Publish.S3Bucket, config.Publish.S3Key)
			if err != nil {
				return nil, nil, err
			}
			location = mirror.URI()
			publishers = append(publishers, mirror)
			logger.WithField("uri", location).Info("Map mirror enabled")
		}
		if config.Publish.SNSTopic != "" {
			sess, err := awsSession(logger, config.AWS.SNSProfile, config.AWS.SNSEndpoint)
			if err != nil {
				return nil, nil, err
			}
			notifier, err := publish.NewNotifier(sns.New(sess), config.Publish.SNSTopic, location)
			if err != nil {
				return nil, nil, err
			}
			publishers = append(publishers, notifier)
			logger.WithField("topic", config.Publish.SNSTopic).Info("Map notifications enabled")
		}
	}

	store := cache.New()
	scheduler := refresh.New(
		logger.WithField("component", "scheduler"),
		fetcher, renderer, store,
		refresh.WithInterval(config.Refresh.Interval),
		refresh.WithPublishers(publishers...),
		refresh.WithPublishTimeout(config.Publish.Timeout),
		refresh.WithMetrics(metrics))

	return scheduler, store, nil
}

// pipeline returns the fetcher and the renderer described by the config.
func pipeline(logger logrus.FieldLogger, config *Config, fs afero.Fs) (feed.Fetcher, *render.Renderer, error) {
	var storage s3.ObjectStorage
	if strings.HasPrefix(config.Feed.URL, "s3://") {
		sess, err := awsSession(logger, config.AWS.S3Profile, config.AWS.S3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		storage = s3.New(sess)
	}
	fetcher, err := feed.New(config.Source(), &http.Client{}, storage)
	if err != nil {
		return nil, nil, err
	}

	opts, err := config.RenderOptions()
	if err != nil {
		return nil, nil, err
	}
	var base *render.BaseMap
	if config.Render.BaseMap != "" {
		base, err = render.LoadBaseMap(fs, config.Render.BaseMap)
	} else {
		base, err = render.DefaultBaseMap()
	}
	if err != nil {
		return nil, nil, err
	}
	renderer, err := render.New(opts, base)
	if err != nil {
		return nil, nil, err
	}

	return fetcher, renderer, nil
}

// logStatus describes the cached map.
func logStatus(logger logrus.FieldLogger, store *cache.Store) {
	a := store.Get()
	if a == nil {
		logger.Info("Cache status: empty")
		return
	}
	logger.WithFields(logrus.Fields{
		"generatedAt": a.GeneratedAt.Format(time.RFC3339),
		"age":         time.Since(a.GeneratedAt).Round(time.Second).String(),
		"points":      a.Points,
		"bytes":       len(a.Image),
	}).Info("Cache status: ready")
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
//
// AWS_S3_FORCE_PATH_STYLE is not read by the SDK, it is useful when the
// endpoint is a local S3-compatible server.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if res, ok := os.LookupEnv("AWS_S3_FORCE_PATH_STYLE"); ok {
		enabled, _ := strconv.ParseBool(res)
		options.Config.WithS3ForcePathStyle(enabled)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}
