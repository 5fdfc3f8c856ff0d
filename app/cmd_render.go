package app

import (
	"context"

	"github.com/JiscSD/lightning-observation-map/cache"
	"github.com/JiscSD/lightning-observation-map/refresh"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var outputFile string

func NewCmdRender(logger logrus.FieldLogger, config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the map once and write it to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRender(context.Background(), logger, config, afero.NewOsFs(), outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "map.png", "Output file")

	return cmd
}

func doRender(ctx context.Context, logger logrus.FieldLogger, config *Config, fs afero.Fs, path string) error {
	fetcher, renderer, err := pipeline(logger, config, fs)
	if err != nil {
		return err
	}
	s := refresh.New(logger, fetcher, renderer, cache.New())
	a, err := s.Cycle(ctx)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.New("the feed has no observations")
	}
	if err := afero.WriteFile(fs, path, a.Image, 0644); err != nil {
		return errors.Wrapf(err, "cannot write %s", path)
	}
	logger.WithFields(logrus.Fields{
		"path":   path,
		"points": a.Points,
	}).Info("Map written")
	return nil
}
