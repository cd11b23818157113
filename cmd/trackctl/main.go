package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"trackchain/go-client/internal/aliasstore"
	"trackchain/go-client/internal/app"
	"trackchain/go-client/internal/ledger"
	"trackchain/go-client/internal/ledgerconfig"
	"trackchain/go-client/internal/signer"
	"trackchain/go-client/pkg/models"
)

const (
	exitOK             = 0
	exitInvalidInput   = 10
	exitNetworkFailed  = 20
	exitRemoteRejected = 30
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "identity":
		runIdentity(os.Args[2:])
	case "register":
		runRegister(os.Args[2:])
	case "transfer":
		runTransfer(os.Args[2:])
	case "checkpoint":
		runCheckpoint(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "reject":
		runReject(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "show":
		runShow(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "verifications":
		runVerifications(os.Args[2:])
	case "alias":
		runAlias(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to trackchain.yaml (optional)")
}

func buildService(configPath string) (*app.Service, *ledgerconfig.Config) {
	cfg := ledgerconfig.LoadFromPath(configPath)

	owner := cfg.Client.Owner
	if owner == "" && cfg.Client.MnemonicFile != "" {
		data, err := os.ReadFile(cfg.Client.MnemonicFile)
		if err != nil {
			fail(fmt.Sprintf("read mnemonic file: %v", err), exitInvalidInput)
		}
		id, err := signer.FromMnemonic(string(data))
		if err != nil {
			fail(fmt.Sprintf("derive identity: %v", err), exitInvalidInput)
		}
		owner = id.Address
	}
	if owner == "" {
		fail("no owner configured: set client.owner, TRACK_OWNER, or client.mnemonicFile", exitInvalidInput)
	}

	aliases, err := aliasstore.Open(cfg.Client.AliasFile)
	if err != nil {
		fail(fmt.Sprintf("open alias registry: %v", err), exitInvalidInput)
	}

	gw, err := ledger.New(cfg.Ledger)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := app.NewService(gw, app.Options{
		ChainID:              cfg.Ledger.ChainID,
		Owner:                owner,
		StrictTerminalStates: cfg.Client.StrictTerminalStates,
		RefreshMinInterval:   cfg.Client.RefreshMinInterval,
		AliasLookup:          aliases.Lookup,
		Logger:               logger,
	})
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	return svc, &cfg
}

func runIdentity(args []string) {
	fs := flag.NewFlagSet("identity", flag.ExitOnError)
	configPath := commonFlags(fs)
	generate := fs.Bool("new", false, "generate a fresh mnemonic and print it once")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	if *generate {
		mnemonic, id, err := signer.New()
		if err != nil {
			fail(err.Error(), exitInvalidInput)
		}
		printJSON(map[string]any{
			"address":  id.Address,
			"mnemonic": mnemonic,
		})
		os.Exit(exitOK)
	}

	cfg := ledgerconfig.LoadFromPath(*configPath)
	if cfg.Client.MnemonicFile == "" {
		fail("no mnemonic file configured; use --new to generate an identity", exitInvalidInput)
	}
	data, err := os.ReadFile(cfg.Client.MnemonicFile)
	if err != nil {
		fail(fmt.Sprintf("read mnemonic file: %v", err), exitInvalidInput)
	}
	id, err := signer.FromMnemonic(string(data))
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	printJSON(map[string]any{"address": id.Address})
	os.Exit(exitOK)
}

func runRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := commonFlags(fs)
	name := fs.String("name", "", "product name")
	docPath := fs.String("document", "", "path to the product document blob")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*docPath) == "" {
		fail("document is required", exitInvalidInput)
	}
	document, err := os.ReadFile(*docPath)
	if err != nil {
		fail(fmt.Sprintf("read document: %v", err), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	receipt, err := svc.Register(context.Background(), *name, document)
	if err != nil {
		failOp(err)
	}
	printJSON(map[string]any{
		"tokenId":  receipt.TokenID,
		"blobHash": receipt.BlobHash,
	})
	os.Exit(exitOK)
}

func runTransfer(args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	targetChain := fs.String("target-chain", "", "destination chain id")
	targetOwner := fs.String("target-owner", "", "destination owner address or alias")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	err := svc.TransferCustody(context.Background(), *token, models.Account{
		ChainID: *targetChain,
		Owner:   *targetOwner,
	})
	if err != nil {
		failOp(err)
	}
	printJSON(map[string]any{"transferred": true, "tokenId": *token})
	os.Exit(exitOK)
}

func runCheckpoint(args []string) {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	location := fs.String("location", "", "checkpoint location")
	status := fs.String("status", "", "status token, e.g. IN_TRANSIT")
	notes := fs.String("notes", "", "optional notes")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	if err := svc.AddCheckpoint(context.Background(), *token, *location, *status, *notes); err != nil {
		failOp(err)
	}
	printJSON(map[string]any{"checkpointed": true, "tokenId": *token})
	os.Exit(exitOK)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	status := fs.String("status", "", "new status token, e.g. DELIVERED")
	location := fs.String("location", "", "where the status change happened")
	notes := fs.String("notes", "", "optional notes")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	if err := svc.UpdateStatus(context.Background(), *token, *status, *location, *notes); err != nil {
		failOp(err)
	}
	printJSON(map[string]any{"updated": true, "tokenId": *token, "status": *status})
	os.Exit(exitOK)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	passed := fs.Bool("passed", false, "verification outcome")
	details := fs.String("details", "", "verification details")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	if err := svc.Verify(context.Background(), *token, *passed, *details); err != nil {
		failOp(err)
	}
	printJSON(map[string]any{"verified": true, "tokenId": *token, "passed": *passed})
	os.Exit(exitOK)
}

func runReject(args []string) {
	fs := flag.NewFlagSet("reject", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	if err := svc.Reject(context.Background(), *token, *reason); err != nil {
		failOp(err)
	}
	printJSON(map[string]any{"rejected": true, "tokenId": *token})
	os.Exit(exitOK)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := commonFlags(fs)
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	products, err := svc.OwnedProducts(context.Background())
	if err != nil {
		failOp(err)
	}
	if *asJSON {
		printJSON(products)
	} else {
		for _, p := range products {
			fmt.Printf("%s  %-12s %s (by %s)\n", p.TokenID, p.Status, p.Name, svc.DisplayName(p.Manufacturer))
		}
	}
	os.Exit(exitOK)
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	product, found, err := svc.FetchProduct(context.Background(), *token)
	if err != nil {
		failOp(err)
	}
	if !found {
		fail(fmt.Sprintf("product %s not found", *token), exitRemoteRejected)
	}
	printJSON(product)
	os.Exit(exitOK)
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	history, err := svc.History(context.Background(), *token)
	if err != nil {
		failOp(err)
	}
	if *asJSON {
		printJSON(history)
	} else {
		for _, c := range history {
			line := fmt.Sprintf("%d  %-12s %s (%s)", c.Timestamp, c.Status, c.Location, svc.DisplayName(c.Party))
			if c.Notes != "" {
				line += "  " + c.Notes
			}
			fmt.Println(line)
		}
	}
	os.Exit(exitOK)
}

func runVerifications(args []string) {
	fs := flag.NewFlagSet("verifications", flag.ExitOnError)
	configPath := commonFlags(fs)
	token := fs.String("token", "", "token id")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	svc, _ := buildService(*configPath)
	records, err := svc.Verifications(context.Background(), *token)
	if err != nil {
		failOp(err)
	}
	if *asJSON {
		printJSON(records)
	} else {
		for _, r := range records {
			outcome := "FAIL"
			if r.Passed {
				outcome = "PASS"
			}
			fmt.Printf("%d  [%s] %s: %s\n", r.Timestamp, outcome, svc.DisplayName(r.Verifier), r.Details)
		}
	}
	os.Exit(exitOK)
}

func runAlias(args []string) {
	if len(args) < 1 {
		fail("alias <add|remove|list> [flags]", exitInvalidInput)
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("alias "+sub, flag.ExitOnError)
	configPath := commonFlags(fs)
	address := fs.String("address", "", "account address")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(rest); err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	cfg := ledgerconfig.LoadFromPath(*configPath)
	store, err := aliasstore.Open(cfg.Client.AliasFile)
	if err != nil {
		fail(err.Error(), exitInvalidInput)
	}

	switch sub {
	case "add":
		if err := store.Add(*address, *name); err != nil {
			fail(err.Error(), exitInvalidInput)
		}
		printJSON(map[string]any{"added": true, "address": models.CanonicalOwner(*address), "name": *name})
	case "remove":
		if err := store.Remove(*address); err != nil {
			fail(err.Error(), exitInvalidInput)
		}
		printJSON(map[string]any{"removed": true, "address": models.CanonicalOwner(*address)})
	case "list":
		printJSON(store.List())
	default:
		fail("alias <add|remove|list> [flags]", exitInvalidInput)
	}
	os.Exit(exitOK)
}

// failOp maps orchestration errors onto exit codes: bad input, remote
// rejection, or transport failure.
func failOp(err error) {
	code := exitNetworkFailed
	var vErr *app.ValidationError
	var rem *ledger.RemoteRejection
	switch {
	case errors.As(err, &vErr):
		code = exitInvalidInput
	case errors.As(err, &rem), errors.Is(err, ledger.ErrUnknownToken):
		code = exitRemoteRejected
	}
	fail(err.Error(), code)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err.Error(), exitNetworkFailed)
	}
}

func printUsage() {
	fmt.Println("trackctl <command> [flags]")
	fmt.Println("commands:")
	fmt.Println("  identity       [--new] [--config path]")
	fmt.Println("  register       --name <name> --document <path>")
	fmt.Println("  transfer       --token <id> --target-chain <chain> --target-owner <addr>")
	fmt.Println("  checkpoint     --token <id> --location <loc> --status <token> [--notes text]")
	fmt.Println("  status         --token <id> --status <token> --location <loc> [--notes text]")
	fmt.Println("  verify         --token <id> [--passed] --details <text>")
	fmt.Println("  reject         --token <id> --reason <text>")
	fmt.Println("  list           [--json]")
	fmt.Println("  show           --token <id>")
	fmt.Println("  history        --token <id> [--json]")
	fmt.Println("  verifications  --token <id> [--json]")
	fmt.Println("  alias          <add|remove|list> [--address addr --name name]")
}

func fail(msg string, exitCode int) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(exitCode)
}
