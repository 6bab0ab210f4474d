package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/Sternrassler/contractooor/pkg/airdrop"
	"github.com/Sternrassler/contractooor/pkg/chain/evm"
	"github.com/Sternrassler/contractooor/pkg/checkpoint"
	"github.com/Sternrassler/contractooor/pkg/opensea"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Collection metadata from OpenSea",
}

var metadataDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download images, owners and events of every asset in a collection",
	Long: `Walks the assets of --slug and stores <tokenId>.<ext> and <tokenId>.json under
--dir/<slug>. With --redis-url the listing cursor is checkpointed after each
page and an interrupted download resumes from it.`,
	RunE: runMetadataDownload,
}

var metadataFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download metadata and images of specific tokens",
	RunE:  runMetadataFetch,
}

var metadataRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask OpenSea to refresh the metadata of a token range",
	Long: `Requests a forced metadata update for token ids in [--from, --to). Without
--to the range covers the whole collection, read from totalSupply.`,
	RunE: runMetadataRefresh,
}

var metadataOwnersOfCmd = &cobra.Command{
	Use:   "owners-of",
	Short: "List the current owner of every downloaded token",
	RunE:  runMetadataOwnersOf,
}

var metadataVerifyOwnersCmd = &cobra.Command{
	Use:   "verify-owners",
	Short: "Compare downloaded owners with the live owner lists",
	RunE:  runMetadataVerifyOwners,
}

func init() {
	pf := metadataCmd.PersistentFlags()
	pf.StringVar(&flags.apiKey, "api-key", "", "OpenSea API key (or OPENSEA_API_KEY)")
	pf.StringVarP(&flags.slug, "slug", "s", "", "collection slug")
	pf.StringVar(&flags.dir, "dir", ".metadata", "metadata root directory")

	metadataDownloadCmd.Flags().IntVar(&flags.downloadConcurrency, "concurrency", 1, "assets processed at once")

	f := metadataFetchCmd.Flags()
	f.StringVarP(&flags.contract, "contract", "c", "", "collection contract address")
	f.StringSliceVarP(&flags.tokenIDs, "token-ids", "t", nil, "comma-separated token ids")
	f.IntVar(&flags.fetchConcurrency, "concurrency", 6, "tokens fetched at once")

	f = metadataRefreshCmd.Flags()
	f.StringVarP(&flags.contract, "contract", "c", "", "collection contract address")
	f.StringVar(&flags.rpcURL, "rpc-url", "", "JSON-RPC endpoint used to read totalSupply")
	f.Int64Var(&flags.from, "from", -1, "first token id (default: first minted token)")
	f.Int64Var(&flags.to, "to", 0, "token id after the last one refreshed")
	f.BoolVar(&flags.testnet, "testnet", false, "use the testnet API without a key")

	f = metadataOwnersOfCmd.Flags()
	f.StringVarP(&flags.out, "out", "o", "", "output CSV file")
	f.StringVarP(&flags.outJSON, "out-json", "j", "", "output JSON file")

	metadataCmd.AddCommand(metadataDownloadCmd, metadataFetchCmd, metadataRefreshCmd, metadataOwnersOfCmd, metadataVerifyOwnersCmd)
}

func newOpenSea() *opensea.Client {
	osCfg := opensea.DefaultConfig()
	osCfg.APIKey = cfg.OpenSea.APIKey
	osCfg.ImageHost = cfg.OpenSea.ImageHost
	if cfg.OpenSea.BaseURL != "" {
		osCfg.BaseURL = cfg.OpenSea.BaseURL
	}
	if cfg.OpenSea.MetadataURL != "" {
		osCfg.MetadataURL = cfg.OpenSea.MetadataURL
	}
	if cfg.OpenSea.Testnet {
		osCfg.BaseURL = opensea.TestnetBaseURL
		osCfg.APIKey = ""
	}
	return opensea.New(osCfg)
}

func collectionDir() (string, error) {
	if flags.slug == "" {
		return "", errors.New("--slug is required")
	}
	return filepath.Join(flags.dir, flags.slug), nil
}

func runMetadataDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir, err := collectionDir()
	if err != nil {
		return err
	}

	opts := opensea.DownloadOptions{Concurrency: flags.downloadConcurrency}
	if cfg.Redis.URL != "" {
		rc, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		opts.Cursors = checkpoint.NewStore(rc, 0)
	}

	report, err := newOpenSea().DownloadCollection(ctx, flags.slug, opensea.DirStore{Dir: dir}, opts)
	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d of %d assets from %d pages in %s\n",
			report.Assets-len(report.Failures), report.Assets, report.Pages, dir)
		for _, f := range report.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", f.Item.TokenID, f.Err)
		}
	}
	return err
}

func runMetadataFetch(cmd *cobra.Command, args []string) error {
	dir, err := collectionDir()
	if err != nil {
		return err
	}
	if cfg.Chain.Contract == "" {
		return errors.New("--contract is required")
	}
	if len(flags.tokenIDs) == 0 {
		return errors.New("--token-ids is required")
	}
	changed(cmd, "concurrency", &cfg.OpenSea.Concurrency, flags.fetchConcurrency)

	failures, err := newOpenSea().FetchAssets(cmd.Context(), cfg.Chain.Contract, slices.Values(flags.tokenIDs), opensea.DirStore{Dir: dir}, cfg.OpenSea.Concurrency)
	for _, f := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", f.Item, f.Err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d of %d tokens in %s\n", len(flags.tokenIDs)-len(failures), len(flags.tokenIDs), dir)
	return nil
}

func runMetadataRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Chain.Contract == "" {
		return errors.New("--contract is required")
	}

	from, to := flags.from, flags.to
	if to == 0 {
		if cfg.Chain.RPCURL == "" {
			return errors.New("--rpc-url is required without --to")
		}
		ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer ec.Close()

		reader := evm.NewReader(ec, common.HexToAddress(cfg.Chain.Contract))
		supply, err := reader.TotalSupply(ctx)
		if err != nil {
			return err
		}
		first, err := airdrop.FirstTokenID(ctx, reader, retry.OwnerScan())
		if err != nil {
			return err
		}
		if from < 0 {
			from = first
		}
		to = first + supply.Int64()
	}
	if from < 0 {
		from = 0
	}

	failures, err := newOpenSea().RefreshMetadata(ctx, cfg.Chain.Contract, opensea.TokenIDs(from, to))
	for _, f := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", f.Item, f.Err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d of %d tokens\n", int(to-from)-len(failures), to-from)
	return nil
}

func runMetadataOwnersOf(cmd *cobra.Command, args []string) error {
	dir, err := collectionDir()
	if err != nil {
		return err
	}
	metas, err := opensea.LoadMetadataDir(dir)
	if err != nil {
		return err
	}
	owners, err := opensea.OwnersOf(metas)
	if err != nil {
		return err
	}

	if flags.out == "" && flags.outJSON == "" {
		return opensea.WriteOwnersCSV(cmd.OutOrStdout(), owners)
	}
	if flags.out != "" {
		if err := writeFile(flags.out, func(w io.Writer) error { return opensea.WriteOwnersCSV(w, owners) }); err != nil {
			return err
		}
	}
	if flags.outJSON != "" {
		if err := writeFile(flags.outJSON, func(w io.Writer) error { return opensea.WriteOwnersJSON(w, owners) }); err != nil {
			return err
		}
	}
	return nil
}

func runMetadataVerifyOwners(cmd *cobra.Command, args []string) error {
	dir, err := collectionDir()
	if err != nil {
		return err
	}
	metas, err := opensea.LoadMetadataDir(dir)
	if err != nil {
		return err
	}

	mismatches, err := newOpenSea().VerifyOwners(cmd.Context(), metas)
	for _, m := range mismatches {
		fmt.Fprintf(cmd.OutOrStdout(), "Owner data mismatch for %s (%s)\n", m.Name, m.TokenID)
	}
	return err
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
