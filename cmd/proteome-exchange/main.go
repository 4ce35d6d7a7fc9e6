package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/rcrowley/go-metrics"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"

	"github.com/proteome-exchange/pxget/dataset"
	"github.com/proteome-exchange/pxget/download"
	"github.com/proteome-exchange/pxget/internal/config"
	"github.com/proteome-exchange/pxget/internal/jsonutil"
	"github.com/proteome-exchange/pxget/internal/logger"
	"github.com/proteome-exchange/pxget/internal/metacache"
)

// Version is set at build time.
var Version = "0.0.0"

var (
	cfg *config.Config
	log = logger.New("proteome-exchange")
)

func main() {
	app := cli.NewApp()
	app.Name = "proteome-exchange"
	app.Usage = "Describe and download ProteomeXchange datasets"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: config.DefaultPath,
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug log",
		},
		cli.BoolFlag{
			Name:  "no-cache",
			Usage: "do not read or write the metadata cache",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "describe",
			Usage:     "list the data files of a dataset",
			ArgsUsage: "IDENTIFIER",
			Action:    handleDescribe,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "verbose, v",
					Usage: "also print summary, species, instruments and contacts",
				},
			},
		},
		{
			Name:      "download",
			Usage:     "download the data files of a dataset",
			ArgsUsage: "IDENTIFIER",
			Action:    handleDownload,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "destination, d",
					Usage: "download files into `DIR` (default: the identifier)",
				},
				cli.IntFlag{
					Name:  "threads, t",
					Usage: "number of parallel downloads; 1 downloads in order, 0 starts one per file (default: number of CPUs)",
				},
				cli.StringFlag{
					Name:  "filter, f",
					Usage: "skip files whose id, name, type or uri matches `REGEXP`",
				},
			},
		},
		{
			Name:   "config",
			Usage:  "print the effective configuration",
			Action: handleConfig,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	var err error
	cfg, err = config.Load(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if c.GlobalBool("debug") {
		level, _ = logger.ParseLevel("debug")
	}
	logger.SetLevel(level)
	if c.GlobalBool("no-cache") {
		cfg.MetadataCache = ""
	}
	return nil
}

// newClient returns a metadata client and a function releasing the cache.
func newClient() (*dataset.Client, func()) {
	var cache dataset.Cache
	release := func() {}
	if cfg.MetadataCache != "" {
		mc, err := metacache.Open(cfg.MetadataCache)
		if err != nil {
			log.Warningf("Metadata cache disabled: %s", err)
		} else {
			cache = mc
			release = func() { mc.Close() }
		}
	}
	return dataset.NewClient(cfg.Metadata, cache, logger.New("metadata")), release
}

func identifierArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("exactly one dataset identifier is required")
	}
	return c.Args().First(), nil
}

func handleDescribe(c *cli.Context) error {
	id, err := identifierArg(c)
	if err != nil {
		return err
	}
	client, release := newClient()
	defer release()

	ds, err := client.Get(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Println("ID: " + ds.ID)
	if c.Bool("verbose") {
		if err = printDetails(ds); err != nil {
			return err
		}
	}
	for _, f := range ds.Files {
		fmt.Printf("%s - %s\n", f.Name, f.Type)
	}
	return nil
}

func printDetails(ds *dataset.Dataset) error {
	b, err := jsonutil.MarshalCompactPretty(ds.Summary)
	if err != nil {
		return err
	}
	os.Stdout.Write(b)
	sections := []struct {
		name    string
		entries []dataset.Params
	}{
		{"Species", ds.Species},
		{"Instrument", ds.Instruments},
		{"Contact", ds.Contacts},
	}
	for _, s := range sections {
		for i, params := range s.entries {
			fmt.Printf("\n%s #%d\n", s.name, i+1)
			b, err = jsonutil.MarshalMapCompactPretty(params.Strings())
			if err != nil {
				return err
			}
			os.Stdout.Write(b)
		}
	}
	fmt.Println()
	return nil
}

func handleDownload(c *cli.Context) error {
	id, err := identifierArg(c)
	if err != nil {
		return err
	}
	dest := c.String("destination")
	if dest == "" {
		dest = id
	}
	dest, err = homedir.Expand(dest)
	if err != nil {
		return err
	}
	threads := c.Int("threads")
	if !c.IsSet("threads") {
		threads = cfg.Threads
		if threads == 0 {
			threads = runtime.NumCPU()
		}
	}
	var filter download.Filter
	if pattern := c.String("filter"); pattern != "" {
		filter, err = download.RegexpFilter(pattern)
		if err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)
	go func() {
		select {
		case <-sigC:
			log.Notice("Received interrupt, stopping downloads...")
			cancel()
		case <-ctx.Done():
		}
	}()

	client, release := newClient()
	defer release()
	ds, err := client.Get(ctx, id)
	if err != nil {
		return err
	}
	err = os.MkdirAll(dest, 0750)
	if err != nil {
		return err
	}

	d := download.New(cfg.Download, nil, logger.New("download"))
	results, err := d.DownloadAll(ctx, ds.Files, dest, filter, threads)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Errorf("Not downloaded: %s", r.File.Name)
		}
	}
	m := d.Metrics()
	log.Infof("Downloaded %d of %d files (%d bytes) to %s, %d failed, %d skipped, %d retries",
		m.DownloadsCompleted.Count(), len(ds.Files), m.BytesDownloaded.Count(), dest,
		failed, m.FilesSkipped.Count(), m.Retries.Count())
	if c.GlobalBool("debug") {
		metrics.WriteOnce(m.Registry(), os.Stderr)
	}
	return err
}

func handleConfig(c *cli.Context) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
