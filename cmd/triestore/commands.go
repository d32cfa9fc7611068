package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/triestore/internal/config"
	"github.com/nainya/triestore/internal/logger"
	"github.com/nainya/triestore/internal/metrics"
	"github.com/nainya/triestore/internal/server"
	"github.com/nainya/triestore/pkg/index"
	"github.com/nainya/triestore/pkg/storage"
)

type cli struct {
	stdin          io.Reader
	stdout, stderr io.Writer
}

// common holds the flags every command accepts
type common struct {
	configPath string
	indexPath  string
}

func (c *cli) flags(name string, cf *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&cf.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&cf.indexPath, "index", "", "Index file path")
	return fs
}

func (c *cli) loadConfig(cf common) (*config.Config, error) {
	cfg := config.Default()
	if cf.configPath != "" {
		var err error
		if cfg, err = config.Load(cf.configPath); err != nil {
			return nil, err
		}
	}
	if cf.indexPath != "" {
		cfg.Index.Path = cf.indexPath
	}
	if cfg.Log.Output == nil {
		cfg.Log.Output = c.stderr
	}
	return cfg, nil
}

func openIndex(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*index.Index[string], error) {
	opts := cfg.IndexOptions()
	opts.Logger = log
	opts.Metrics = m
	return index.Open[string](cfg.Index.Path, storage.StringKeys{}, opts)
}

// withIndex loads the configuration, opens the index, runs fn and closes it
func (c *cli) withIndex(cf common, fn func(*index.Index[string]) error) int {
	cfg, err := c.loadConfig(cf)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	ix, err := openIndex(cfg, logger.NewLogger(cfg.Log), nil)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error opening index: %v\n", err)
		return 1
	}
	err = errors.Join(fn(ix), ix.Close())
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) indexCmd(args []string) int {
	var cf common
	fs := c.flags("index", &cf)
	file := fs.String("file", "", "Read the text from this file; the key defaults to the path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	var key, text string
	switch {
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
		key, text = *file, string(data)
		if len(rest) > 0 {
			key = rest[0]
		}
	case len(rest) >= 2:
		key, text = rest[0], strings.Join(rest[1:], " ")
	default:
		fmt.Fprintln(c.stderr, "Error: index needs a key and text, or -file")
		return 1
	}

	return c.withIndex(cf, func(ix *index.Index[string]) error {
		if err := ix.Index(key, text); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "indexed %s\n", key)
		return nil
	})
}

func (c *cli) searchCmd(args []string) int {
	var cf common
	fs := c.flags("search", &cf)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(c.stderr, "Error: search needs a query")
		return 1
	}
	return c.withIndex(cf, func(ix *index.Index[string]) error {
		keys, err := ix.Search(strings.Join(fs.Args(), " "))
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(c.stdout, k)
		}
		return nil
	})
}

func (c *cli) removeCmd(args []string) int {
	var cf common
	fs := c.flags("remove", &cf)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "Error: remove needs exactly one key")
		return 1
	}
	return c.withIndex(cf, func(ix *index.Index[string]) error {
		if err := ix.Remove(fs.Arg(0)); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "removed %s\n", fs.Arg(0))
		return nil
	})
}

func (c *cli) statsCmd(args []string) int {
	var cf common
	fs := c.flags("stats", &cf)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return c.withIndex(cf, func(ix *index.Index[string]) error {
		st, err := ix.Stats()
		if err != nil {
			return err
		}
		printStats(c.stdout, st)
		return nil
	})
}

func printStats(w io.Writer, st index.Stats) {
	fmt.Fprintf(w, "items:          %d\n", st.Items)
	fmt.Fprintf(w, "resident nodes: %d\n", st.ResidentNodes)
	fmt.Fprintf(w, "total pages:    %d\n", st.TotalPages)
	fmt.Fprintf(w, "unused pages:   %d\n", st.UnusedPages)
	fmt.Fprintf(w, "cached pages:   %d\n", st.CachedPages)
}

func (c *cli) serveCmd(args []string) int {
	var cf common
	fs := c.flags("serve", &cf)
	listen := fs.String("listen", "", "Metrics listen address, overrides metrics.listen")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := c.loadConfig(cf)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Metrics.Listen = *listen
	}

	log := logger.NewLogger(cfg.Log)
	reg := prometheus.NewRegistry()
	ix, err := openIndex(cfg, log, metrics.NewMetrics(reg))
	if err != nil {
		fmt.Fprintf(c.stderr, "Error opening index: %v\n", err)
		return 1
	}
	defer ix.Close()

	srv := server.NewObservabilityServer(cfg.Metrics.Listen, reg, func() (any, error) {
		return ix.Stats()
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}
