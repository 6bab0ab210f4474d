package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/Sternrassler/contractooor/pkg/airdrop"
	"github.com/Sternrassler/contractooor/pkg/chain/evm"
	"github.com/Sternrassler/contractooor/pkg/checkpoint"
	"github.com/Sternrassler/contractooor/pkg/executor"
	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var airdropCmd = &cobra.Command{
	Use:   "airdrop <csv>",
	Short: "Send ERC-1155 tokens listed in a CSV file",
	Long: `Reads rows of holder,tokenId,amount (with a header row) and transfers them
from the PRIVATE_KEY account in batched Multicall3 transactions.

Example:
  contractooor airdrop drop.csv --contract 0x... --rpc-url http://localhost:8545 --batch-size 50`,
	Args: cobra.ExactArgs(1),
	RunE: runAirdrop,
}

var seasonsAirdropCmd = &cobra.Command{
	Use:   "seasons-airdrop <tiers.json>",
	Short: "Send season rewards to a tier list",
	Long: `Reads a tier list ({"Bunny": [...], "Relic": [...], "*": [...]}) and sends
one token per tier membership. Tier token ids start at --start-token-id in the
order Bunny, Bunny Knight, Bunny Duke, Royal Bunny, Relic.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeasonsAirdrop,
}

func addExecutorFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.rpcURL, "rpc-url", "", "JSON-RPC endpoint")
	f.StringVar(&flags.contract, "contract", "", "ERC-1155 contract to transfer from")
	f.StringVar(&flags.multicall, "multicall", "", "Multicall3 contract address")
	f.StringVar(&flags.data, "data", "", "hex data passed to every safeTransferFrom")
	f.Uint64Var(&flags.confirmations, "confirmations", 1, "blocks required to confirm a batch")
	f.IntVar(&flags.batchSize, "batch-size", 100, "operations per transaction")
	f.IntVar(&flags.startBatch, "start-batch", 1, "1-based batch to start from")
	f.BoolVar(&flags.allowFailure, "allow-failure", false, "let individual transfers fail without reverting the batch")
	f.StringVar(&flags.runID, "run-id", "", "run identifier (default: derived from the operations)")
	f.BoolVar(&flags.resume, "resume", false, "continue from the checkpoint of --run-id (requires --redis-url)")
}

func init() {
	addExecutorFlags(airdropCmd)
	addExecutorFlags(seasonsAirdropCmd)
	seasonsAirdropCmd.Flags().Int64Var(&flags.startTokenID, "start-token-id", 0, "token id of the Bunny tier")
}

func runAirdrop(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	ops, err := airdrop.ParseCSV(f)
	if err != nil {
		return err
	}
	return execute(cmd.Context(), cmd.OutOrStdout(), airdrop.DropSentinels(ops))
}

func runSeasonsAirdrop(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open tier list: %w", err)
	}
	defer f.Close()

	list, err := airdrop.LoadTiers(f)
	if err != nil {
		return err
	}
	ops := airdrop.ExpandTiers(list, big.NewInt(flags.startTokenID))
	return execute(cmd.Context(), cmd.OutOrStdout(), airdrop.DropSentinels(ops))
}

func execute(ctx context.Context, out io.Writer, ops []executor.Operation) error {
	if cfg.Chain.Contract == "" {
		return errors.New("--contract is required")
	}
	if cfg.Chain.PrivateKey == "" {
		return errors.New("PRIVATE_KEY is required")
	}
	if cfg.Chain.RPCURL == "" {
		return errors.New("--rpc-url is required")
	}

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer ec.Close()

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	key, err := evm.ParsePrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	sign, from := evm.KeySigner(key, chainID)

	ledgerCfg := evm.DefaultConfig()
	ledgerCfg.From = from
	ledgerCfg.Token = common.HexToAddress(cfg.Chain.Contract)
	ledgerCfg.Multicall = common.HexToAddress(cfg.Chain.Multicall)
	ledgerCfg.TransferData = common.FromHex(cfg.Executor.TransferData)
	ledgerCfg.MinConfirmations = cfg.Chain.Confirmations
	ledgerCfg.PollInterval = cfg.GetPollInterval()
	ledger, err := evm.NewLedger(ec, sign, ledgerCfg)
	if err != nil {
		return err
	}

	execCfg := executorConfig(ops)
	logger := logging.ForRun("executor", execCfg.RunID)
	sinks := executor.MultiSink{executor.LogSink{Logger: logger}}

	var store *checkpoint.Store
	if cfg.Redis.URL != "" {
		rc, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		store = checkpoint.NewStore(rc, 0)
		sinks = append(sinks, checkpoint.NewSink(store, execCfg.RunID))
	}

	exec, err := executor.New(ledger, execCfg, executor.WithSink(sinks), executor.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info().
		Str("from", from.Hex()).
		Str("chain_id", chainID.String()).
		Int("operations", len(ops)).
		Int("batch_size", execCfg.BatchSize).
		Str("policy", execCfg.Policy.String()).
		Msg("Starting run")

	state, err := startRun(ctx, exec, store, execCfg.RunID, ops)
	if err != nil {
		var failed *executor.BatchSubmissionFailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("%w; rerun with --start-batch %d, or --resume --run-id %s", err, failed.ResumeFrom, execCfg.RunID)
		}
		return err
	}

	fmt.Fprintf(out, "Sent %d operations (gas %s, fees %s ETH)\n",
		state.Count, state.TotalGas, executor.FormatEther(state.TotalFees))
	return nil
}

func executorConfig(ops []executor.Operation) executor.Config {
	execCfg := executor.DefaultConfig()
	execCfg.BatchSize = cfg.Executor.BatchSize
	if cfg.Executor.AllowFailure {
		execCfg.Policy = executor.BestEffort
	}
	execCfg.RunID = flags.runID
	if execCfg.RunID == "" {
		execCfg.RunID = executor.RunID(ops, execCfg.BatchSize)
	}
	return execCfg
}

// startRun starts the executor fresh, or from the stored checkpoint when --resume
// is set and one exists.
func startRun(ctx context.Context, exec *executor.Executor, store *checkpoint.Store, runID string, ops []executor.Operation) (executor.State, error) {
	if !flags.resume {
		return exec.Execute(ctx, ops, cfg.Executor.StartBatch)
	}
	if store == nil {
		return executor.State{}, errors.New("--resume requires --redis-url")
	}

	logger := logging.ForRun("executor", runID)
	saved, err := store.LoadRun(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		logger.Info().Msg("No checkpoint found, starting from the first batch")
		return exec.Execute(ctx, ops, cfg.Executor.StartBatch)
	}
	if err != nil {
		return executor.State{}, err
	}

	prev, err := saved.State()
	if err != nil {
		return executor.State{}, err
	}
	if saved.Status == checkpoint.StatusComplete {
		logger.Info().Msg("Run already complete")
		return prev, nil
	}
	return exec.Resume(ctx, ops, prev)
}
