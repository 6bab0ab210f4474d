package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/contractooor/pkg/airdrop"
	"github.com/Sternrassler/contractooor/pkg/chain/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var holdersCmd = &cobra.Command{
	Use:   "holders",
	Short: "Inspect token holders",
}

var holdersScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an ERC-721 collection and bucket holders into season tiers",
	Long: `Reads ownerOf for every token of --contract and writes a tier list suitable
for seasons-airdrop. Holders of --relic-contract are placed in the Relic tier.`,
	RunE: runHoldersScan,
}

func init() {
	f := holdersScanCmd.Flags()
	f.StringVar(&flags.rpcURL, "rpc-url", "", "JSON-RPC endpoint")
	f.StringVar(&flags.contract, "contract", "", "ERC-721 collection to scan")
	f.StringVar(&flags.relicContract, "relic-contract", "", "collection whose holders receive the Relic tier")
	f.StringVarP(&flags.out, "out", "o", "", "output file (default: stdout)")
	f.IntVar(&flags.scanConcurrency, "concurrency", airdrop.DefaultScanOptions().Concurrency, "ownerOf calls in flight")
	holdersCmd.AddCommand(holdersScanCmd)
}

func runHoldersScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cfg.Chain.Contract == "" {
		return errors.New("--contract is required")
	}
	if flags.relicContract != "" && !common.IsHexAddress(flags.relicContract) {
		return fmt.Errorf("relic contract %q is not an address", flags.relicContract)
	}

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer ec.Close()

	opts := airdrop.DefaultScanOptions()
	opts.Concurrency = flags.scanConcurrency

	holders, err := airdrop.ScanHolders(ctx, evm.NewReader(ec, common.HexToAddress(cfg.Chain.Contract)), opts)
	if err != nil {
		return err
	}
	relics := map[common.Address]int{}
	if flags.relicContract != "" {
		relics, err = airdrop.ScanHolders(ctx, evm.NewReader(ec, common.HexToAddress(flags.relicContract)), opts)
		if err != nil {
			return fmt.Errorf("relic scan: %w", err)
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if flags.out != "" {
		f, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return airdrop.BucketTiers(holders, relics).Write(out)
}
