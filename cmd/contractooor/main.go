package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Sternrassler/contractooor/pkg/config"
	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// flagValues holds every flag; they are copied onto the loaded configuration
// only when set on the command line.
type flagValues struct {
	configPath  string
	logLevel    string
	pretty      bool
	metricsAddr string
	redisURL    string

	rpcURL        string
	contract      string
	multicall     string
	data          string
	confirmations uint64
	batchSize     int
	startBatch    int
	allowFailure  bool
	runID         string
	resume        bool
	startTokenID  int64

	relicContract string
	out           string
	outJSON       string

	apiKey              string
	slug                string
	dir                 string
	tokenIDs            []string
	from                int64
	to                  int64
	testnet             bool
	scanConcurrency     int
	downloadConcurrency int
	fetchConcurrency    int
}

var (
	flags flagValues
	cfg   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "contractooor",
	Short: "Bulk on-chain airdrops and collection metadata tooling",
	Long: `contractooor sends large airdrops as batched Multicall3 transactions and
pulls collection metadata from OpenSea.

Batched runs are resumable: a halted run reports the batch to restart from,
and with --redis-url every confirmed batch is checkpointed so --resume can
pick up where the run stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Log.Level
		logCfg.Pretty = cfg.Log.Pretty
		logging.Setup(logCfg)
		if cfg.Metrics.Addr != "" {
			metrics.Serve(cmd.Context(), cfg.Metrics.Addr)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&flags.pretty, "pretty", false, "human-readable console logs")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&flags.redisURL, "redis-url", "", "Redis URL for checkpoints and cursors")

	rootCmd.AddCommand(airdropCmd, seasonsAirdropCmd, holdersCmd, metadataCmd)
}

func changed[T any](cmd *cobra.Command, name string, dst *T, val T) {
	if cmd.Flags().Changed(name) {
		*dst = val
	}
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed(cmd, "log-level", &c.Log.Level, flags.logLevel)
	changed(cmd, "pretty", &c.Log.Pretty, flags.pretty)
	changed(cmd, "metrics-addr", &c.Metrics.Addr, flags.metricsAddr)
	changed(cmd, "redis-url", &c.Redis.URL, flags.redisURL)

	changed(cmd, "rpc-url", &c.Chain.RPCURL, flags.rpcURL)
	changed(cmd, "contract", &c.Chain.Contract, flags.contract)
	changed(cmd, "multicall", &c.Chain.Multicall, flags.multicall)
	changed(cmd, "confirmations", &c.Chain.Confirmations, flags.confirmations)
	changed(cmd, "data", &c.Executor.TransferData, flags.data)
	changed(cmd, "batch-size", &c.Executor.BatchSize, flags.batchSize)
	changed(cmd, "start-batch", &c.Executor.StartBatch, flags.startBatch)
	changed(cmd, "allow-failure", &c.Executor.AllowFailure, flags.allowFailure)

	changed(cmd, "api-key", &c.OpenSea.APIKey, flags.apiKey)
	changed(cmd, "testnet", &c.OpenSea.Testnet, flags.testnet)
}

// openRedis accepts a redis:// URL or a bare host:port.
func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts := &redis.Options{Addr: rawURL}
	if strings.Contains(rawURL, "://") {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
