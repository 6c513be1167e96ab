package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"research-analyzer/internal/arxiv"
	"research-analyzer/internal/config"
	"research-analyzer/internal/logging"
)

const upstreamTimeout = 30 * time.Second

func newArxivCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "arxiv",
		Short: "Run the academic-search tool service",
		Long:  `Run the HTTP service the reasoning platform calls as its arxiv_search function tool.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Read()
			if addr != "" {
				cfg.ArxivAddr = addr
			}

			logger, err := logging.New(cfg.Debug, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync()

			source := arxiv.NewAtomSource(cfg.ArxivAPIURL, upstreamTimeout)
			searcher := arxiv.NewCachedSearcher(source, cfg.ArxivCacheSize, cfg.ArxivCacheTTL)
			svc := arxiv.NewService(searcher, logger)

			logger.Info("academic-search tool service configured",
				zap.String("upstream", cfg.ArxivAPIURL),
				zap.Int("cache_size", cfg.ArxivCacheSize),
				zap.Duration("cache_ttl", cfg.ArxivCacheTTL))

			return listenAndServe(cmd.Context(), &http.Server{
				Addr:         cfg.ArxivAddr,
				Handler:      svc.Router(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 90 * time.Second,
				IdleTimeout:  120 * time.Second,
			}, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default $ARXIV_ADDR or :8001)")
	return cmd
}

func newSearchCommand() *cobra.Command {
	var (
		url        string
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query a running academic-search tool service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = config.Read().ArxivServiceURL
			}
			if url == "" {
				return fmt.Errorf("no service URL: pass --url or set ARXIV_SERVICE_URL")
			}

			client := arxiv.NewClient(url, upstreamTimeout*2)
			resp, err := client.Search(cmd.Context(), args[0], maxResults)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Tool service URL (default $ARXIV_SERVICE_URL)")
	cmd.Flags().IntVarP(&maxResults, "max", "n", arxiv.DefaultMaxResults, "Maximum number of papers")
	return cmd
}
