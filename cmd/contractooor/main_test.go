package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/contractooor/pkg/config"
	"github.com/Sternrassler/contractooor/pkg/opensea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag of the command tree to its default so tests
// do not see values parsed by earlier ones.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfg = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestFile(t, dir, "contractooor.yaml", `
chain:
  rpc_url: http://file:8545
executor:
  batch_size: 10
`)
	t.Setenv(config.EnvRedisURL, "redis://env:6379")
	t.Setenv(config.EnvRPCURL, "http://env:8545")

	_, err := runCLI(t, "airdrop", filepath.Join(dir, "missing.csv"),
		"--config", configPath, "--batch-size", "5", "--rpc-url", "http://flag:8545")
	if err == nil || !strings.Contains(err.Error(), "open csv") {
		t.Fatalf("err = %v, want open csv failure", err)
	}

	if cfg.Executor.BatchSize != 5 {
		t.Errorf("batch size = %d, want flag value 5", cfg.Executor.BatchSize)
	}
	if cfg.Chain.RPCURL != "http://flag:8545" {
		t.Errorf("rpc url = %q, want flag value", cfg.Chain.RPCURL)
	}
	if cfg.Redis.URL != "redis://env:6379" {
		t.Errorf("redis url = %q, want env value", cfg.Redis.URL)
	}
}

func TestInvalidBatchSizeRejected(t *testing.T) {
	_, err := runCLI(t, "airdrop", "drop.csv", "--batch-size", "0")
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want config.ErrInvalid", err)
	}
}

func TestAirdropRequiresContract(t *testing.T) {
	csv := writeTestFile(t, t.TempDir(), "drop.csv", "holder,tokenId,amount\n0x000000000000000000000000000000000000a11c,1,1\n")

	_, err := runCLI(t, "airdrop", csv)
	if err == nil || !strings.Contains(err.Error(), "--contract is required") {
		t.Fatalf("err = %v, want missing contract", err)
	}
}

func TestResumeRequiresRedis(t *testing.T) {
	flags.resume = true
	defer func() { flags.resume = false }()

	_, err := startRun(context.Background(), nil, nil, "run", nil)
	if err == nil || !strings.Contains(err.Error(), "--redis-url") {
		t.Fatalf("err = %v, want missing redis", err)
	}
}

func TestMetadataOwnersOf(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bunnies")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, m := range []opensea.Metadata{
		{ID: "10", Name: "Bunny #10", Owners: []opensea.Owner{{Owner: opensea.Account{Address: "0xold"}}, {Owner: opensea.Account{Address: "0xten"}}}},
		{ID: "2", Name: "Bunny #2", Owners: []opensea.Owner{{Owner: opensea.Account{Address: "0xtwo"}}}},
	} {
		doc, _ := json.Marshal(m)
		writeTestFile(t, dir, m.ID+".json", string(doc))
	}

	out, err := runCLI(t, "metadata", "owners-of", "--dir", root, "--slug", "bunnies")
	if err != nil {
		t.Fatalf("owners-of: %v", err)
	}
	if want := "tokenId,ownerOf\n2,0xtwo\n10,0xten\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	jsonPath := filepath.Join(root, "owners.json")
	if _, err := runCLI(t, "metadata", "owners-of", "--dir", root, "--slug", "bunnies", "--out-json", jsonPath); err != nil {
		t.Fatalf("owners-of --out-json: %v", err)
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var addrs []string
	if err := json.Unmarshal(data, &addrs); err != nil || len(addrs) != 2 || addrs[1] != "0xten" {
		t.Errorf("owners.json = %s", data)
	}
}

func TestMetadataRequiresSlug(t *testing.T) {
	_, err := runCLI(t, "metadata", "owners-of")
	if err == nil || !strings.Contains(err.Error(), "--slug") {
		t.Fatalf("err = %v, want missing slug", err)
	}
}
