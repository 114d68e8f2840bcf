package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/vulpemventures/boltz-core-liquid/internal/backend"
	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
	"github.com/vulpemventures/boltz-core-liquid/internal/swap"
	"github.com/vulpemventures/boltz-core-liquid/pkg/helpers"
)

var (
	rootCtx     context.Context
	rootCtxOnce sync.Once
)

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(*cli.Context) context.Context {
	rootCtxOnce.Do(func() {
		rootCtx, _ = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	})
	return rootCtx
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func hexFlag(ctx *cli.Context, name string) ([]byte, error) {
	s := ctx.String(name)
	if s == "" {
		return nil, nil
	}
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return b, nil
}

func requireFlags(ctx *cli.Context, names ...string) error {
	var missing []string
	for _, name := range names {
		if !ctx.IsSet(name) {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseKind(s string) (swap.ScriptKind, error) {
	switch strings.ToLower(s) {
	case "swap", "submarine":
		return swap.KindSwap, nil
	case "reverse":
		return swap.KindReverseSwap, nil
	default:
		return 0, fmt.Errorf("unknown swap kind %q", s)
	}
}

func parseRole(s string) (storage.SwapRole, error) {
	switch role := storage.SwapRole(strings.ToLower(s)); role {
	case storage.SwapRoleClaim, storage.SwapRoleRefund:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

var scriptFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "kind",
		Value: "swap",
		Usage: "swap or reverse",
	},
	cli.StringFlag{
		Name:  "preimage",
		Usage: "hex preimage, its hash is used when --preimagehash is not set",
	},
	cli.StringFlag{
		Name:  "preimagehash",
		Usage: "hex SHA256 of the preimage",
	},
	cli.StringFlag{
		Name:  "claimkey",
		Usage: "hex compressed public key of the claim branch",
	},
	cli.StringFlag{
		Name:  "refundkey",
		Usage: "hex compressed public key of the refund branch",
	},
	cli.UintFlag{
		Name:  "timeout",
		Usage: "absolute block height after which the refund branch opens",
	},
	cli.StringFlag{
		Name:  "output",
		Value: "bech32",
		Usage: "bech32, compatibility or legacy",
	},
}

// parseHeight rejects block heights that do not fit a locktime.
func parseHeight(v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("block height %d out of range", v)
	}
	return uint32(v), nil
}

// createRequest reads scriptFlags.
func createRequest(ctx *cli.Context) (*swap.CreateRequest, error) {
	if err := requireFlags(ctx, "claimkey", "refundkey", "timeout"); err != nil {
		return nil, err
	}

	kind, err := parseKind(ctx.String("kind"))
	if err != nil {
		return nil, err
	}
	outputType, err := swap.ParseOutputType(ctx.String("output"))
	if err != nil {
		return nil, err
	}

	timeout, err := parseHeight(ctx.Uint("timeout"))
	if err != nil {
		return nil, err
	}

	req := &swap.CreateRequest{
		Kind:          kind,
		TimeoutHeight: timeout,
		OutputType:    outputType,
	}
	if req.Preimage, err = hexFlag(ctx, "preimage"); err != nil {
		return nil, err
	}
	if req.PreimageHash, err = hexFlag(ctx, "preimagehash"); err != nil {
		return nil, err
	}
	if req.ClaimPubKey, err = hexFlag(ctx, "claimkey"); err != nil {
		return nil, err
	}
	if req.RefundPubKey, err = hexFlag(ctx, "refundkey"); err != nil {
		return nil, err
	}

	if len(req.PreimageHash) == 0 {
		if len(req.Preimage) == 0 {
			return nil, errors.New("either --preimage or --preimagehash is required")
		}
		req.PreimageHash = swap.HashPreimage(req.Preimage)
	}
	return req, nil
}

var scriptCommand = cli.Command{
	Name:   "script",
	Usage:  "build a swap redeem script and its address without storing it",
	Flags:  scriptFlags,
	Action: buildScript,
}

func buildScript(ctx *cli.Context) error {
	network, err := chain.ParseNetwork(ctx.GlobalString("network"))
	if err != nil {
		return err
	}
	params := chain.MustGet(network)

	req, err := createRequest(ctx)
	if err != nil {
		return err
	}
	generator, err := swap.GeneratorFor(req.Kind)
	if err != nil {
		return err
	}
	redeemScript, err := generator(req.PreimageHash, req.ClaimPubKey, req.RefundPubKey, req.TimeoutHeight)
	if err != nil {
		return err
	}
	outputScript, err := swap.OutputScript(redeemScript, req.OutputType)
	if err != nil {
		return err
	}
	address, err := params.EncodeAddress(outputScript)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"redeem_script": hex.EncodeToString(redeemScript),
		"output_script": hex.EncodeToString(outputScript),
		"output_type":   req.OutputType.String(),
		"address":       address,
	})
}

var detectCommand = cli.Command{
	Name:  "detect",
	Usage: "find the output of a transaction locked to a redeem script",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "redeemscript", Usage: "hex redeem script"},
		cli.StringFlag{Name: "tx", Usage: "hex transaction"},
		cli.StringFlag{Name: "txid", Usage: "fetch the transaction from the backend"},
	},
	Action: detect,
}

func detect(ctx *cli.Context) error {
	redeemScript, err := hexFlag(ctx, "redeemscript")
	if err != nil {
		return err
	}
	if len(redeemScript) == 0 {
		return errors.New("missing --redeemscript")
	}

	var tx *transaction.Transaction
	switch {
	case ctx.String("tx") != "":
		tx, err = transaction.NewTxFromHex(ctx.String("tx"))
	case ctx.String("txid") != "":
		tx, err = fetchTx(ctx, ctx.String("txid"))
	default:
		return errors.New("either --tx or --txid is required")
	}
	if err != nil {
		return err
	}

	detected, err := swap.SwapOutputFromTransaction(tx, redeemScript, nil)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"txid":        displayTxID(tx),
		"vout":        detected.Vout,
		"output_type": detected.Type.String(),
		"confidential": detected.Value.Kind != swap.CommitmentExplicit ||
			detected.Asset.Kind != swap.CommitmentExplicit,
	}
	if amount, err := detected.Value.Amount(); err == nil {
		out["amount"] = amount
		out["amount_lbtc"] = helpers.SatoshisToLBTC(amount)
	}
	if asset, err := detected.Asset.ID(); err == nil {
		out["asset"] = asset
	}
	return printJSON(out)
}

func displayTxID(tx *transaction.Transaction) string {
	hash := tx.TxHash()
	return helpers.HashToTxID(hash[:])
}

func fetchTx(ctx *cli.Context, txID string) (*transaction.Transaction, error) {
	env, err := loadEnvironment(ctx)
	if err != nil {
		return nil, err
	}
	defer env.close()
	if err := env.connect(ctx); err != nil {
		return nil, err
	}

	raw, err := env.backend.GetRawTransaction(commandContext(ctx), txID)
	if err != nil {
		return nil, err
	}
	return transaction.NewTxFromHex(hex.EncodeToString(raw))
}

var swapFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "role",
		Value: "claim",
		Usage: "claim or refund, the branch we hold the key for",
	},
	cli.Uint64Flag{
		Name:  "amount",
		Usage: "minimum lockup amount in satoshis, 0 accepts any",
	},
}

var createCommand = cli.Command{
	Name:   "create",
	Usage:  "build a swap script and store it for watching",
	Flags:  append(append([]cli.Flag{}, scriptFlags...), swapFlags...),
	Action: create,
}

func create(ctx *cli.Context) error {
	req, err := createRequest(ctx)
	if err != nil {
		return err
	}
	if req.Role, err = parseRole(ctx.String("role")); err != nil {
		return err
	}
	req.ExpectedAmount = ctx.Uint64("amount")

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	rec, err := env.coordinator(nil, "").Create(req)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

var registerCommand = cli.Command{
	Name:  "register",
	Usage: "store an existing swap script for watching",
	Flags: append([]cli.Flag{
		cli.StringFlag{Name: "redeemscript", Usage: "hex redeem script"},
		cli.StringFlag{Name: "output", Value: "bech32", Usage: "bech32, compatibility or legacy"},
		cli.StringFlag{Name: "preimage", Usage: "hex preimage, required to claim"},
	}, swapFlags...),
	Action: register,
}

func register(ctx *cli.Context) error {
	redeemScript, err := hexFlag(ctx, "redeemscript")
	if err != nil {
		return err
	}
	if len(redeemScript) == 0 {
		return errors.New("missing --redeemscript")
	}
	preimage, err := hexFlag(ctx, "preimage")
	if err != nil {
		return err
	}
	outputType, err := swap.ParseOutputType(ctx.String("output"))
	if err != nil {
		return err
	}
	role, err := parseRole(ctx.String("role"))
	if err != nil {
		return err
	}

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	rec, err := env.coordinator(nil, "").Register(&swap.RegisterRequest{
		RedeemScript:   redeemScript,
		OutputType:     outputType,
		Role:           role,
		Preimage:       preimage,
		ExpectedAmount: ctx.Uint64("amount"),
	})
	if err != nil {
		return err
	}
	return printJSON(rec)
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list stored swaps",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all", Usage: "include completed swaps"},
		cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of swaps"},
	},
	Action: func(ctx *cli.Context) error {
		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		swaps, err := env.store.ListSwaps(ctx.Int("limit"), ctx.Bool("all"))
		if err != nil {
			return err
		}
		return printJSON(swaps)
	},
}

var showCommand = cli.Command{
	Name:      "show",
	Usage:     "show a stored swap by id or by address",
	ArgsUsage: "[id]",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "address", Usage: "swap address instead of an id"},
	},
	Action: func(ctx *cli.Context) error {
		address := ctx.String("address")
		if (ctx.NArg() == 1) == (address != "") {
			return cli.ShowCommandHelp(ctx, "show")
		}

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		var rec *storage.SwapRecord
		if address != "" {
			rec, err = env.store.GetSwapByAddress(address)
		} else {
			rec, err = env.store.GetSwap(ctx.Args().First())
		}
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var spendFlags = append([]cli.Flag{
	cli.StringFlag{Name: "id", Usage: "swap id"},
	cli.StringFlag{Name: "destination", Usage: "unconfidential address receiving the funds"},
	cli.StringFlag{Name: "preimage", Usage: "hex preimage, stored before claiming"},
}, keyFlags...)

var claimCommand = cli.Command{
	Name:   "claim",
	Usage:  "claim a swap with its preimage",
	Flags:  spendFlags,
	Action: func(ctx *cli.Context) error { return spend(ctx, storage.SwapRoleClaim) },
}

var refundCommand = cli.Command{
	Name:   "refund",
	Usage:  "refund a swap after its timeout",
	Flags:  spendFlags,
	Action: func(ctx *cli.Context) error { return spend(ctx, storage.SwapRoleRefund) },
}

func spend(ctx *cli.Context, role storage.SwapRole) error {
	if err := requireFlags(ctx, "id", "destination"); err != nil {
		return err
	}
	id := ctx.String("id")

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.connect(ctx); err != nil {
		return err
	}

	keys, err := keysFromFlags(ctx, env.params)
	if err != nil {
		return err
	}
	c := env.coordinator(keys, ctx.String("destination"))
	cmdCtx := commandContext(ctx)

	if ctx.String("preimage") != "" {
		preimage, err := hexFlag(ctx, "preimage")
		if err != nil {
			return err
		}
		if err := c.SetPreimage(id, preimage); err != nil {
			return err
		}
	}

	if _, err := c.FindLockup(cmdCtx, id); err != nil {
		return err
	}

	var result *swap.SpendResult
	if role == storage.SwapRoleClaim {
		result, err = c.Claim(cmdCtx, id)
	} else {
		result, err = c.Refund(cmdCtx, id)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

var checkCommand = cli.Command{
	Name:  "check",
	Usage: "refresh the lockup and spend status of a swap",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "id", Usage: "swap id"},
	},
	Action: func(ctx *cli.Context) error {
		if err := requireFlags(ctx, "id"); err != nil {
			return err
		}
		id := ctx.String("id")

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.close()
		if err := env.connect(ctx); err != nil {
			return err
		}

		c := env.coordinator(nil, "")
		cmdCtx := commandContext(ctx)
		if _, err := c.FindLockup(cmdCtx, id); err != nil &&
			!errors.Is(err, swap.ErrLockupNotFound) && !errors.Is(err, swap.ErrSwapCompleted) {
			return err
		}
		if _, err := c.CheckSpent(cmdCtx, id); err != nil {
			return err
		}

		rec, err := c.GetSwap(id)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var watchCommand = cli.Command{
	Name:  "watch",
	Usage: "watch stored swaps and claim or refund them automatically",
	Flags: append([]cli.Flag{
		cli.StringFlag{Name: "destination", Usage: "unconfidential address receiving the funds"},
	}, keyFlags...),
	Action: watch,
}

func watch(ctx *cli.Context) error {
	if err := requireFlags(ctx, "destination"); err != nil {
		return err
	}

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.connect(ctx); err != nil {
		return err
	}

	keys, err := keysFromFlags(ctx, env.params)
	if err != nil {
		return err
	}
	destType, err := env.params.AddressType(ctx.String("destination"))
	if err != nil {
		return err
	}

	c := env.coordinator(keys, ctx.String("destination"))
	eventLog := env.log.Component("events")
	c.OnEvent(func(e swap.SwapEvent) {
		eventLog.Info("Swap event", "id", e.SwapID, "event", e.EventType, "data", e.Data)
	})

	pending, completed, err := env.store.SwapCount()
	if err != nil {
		return err
	}
	env.log.Info("Watching swaps",
		"network", env.params.Network,
		"backend", env.backend.Type(),
		"destination", destType,
		"pending", pending,
		"completed", completed,
	)

	monitor := swap.NewMonitor(&swap.MonitorConfig{
		Coordinator: c,
		Interval:    env.cfg.Swap.PollInterval,
	})
	monitor.Start()

	<-commandContext(ctx).Done()
	env.log.Info("Shutting down...")
	monitor.Stop()
	return nil
}

var broadcastCommand = cli.Command{
	Name:      "broadcast",
	Usage:     "broadcast a raw transaction",
	ArgsUsage: "hex",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "broadcast")
		}
		if _, err := transaction.NewTxFromHex(ctx.Args().First()); err != nil {
			return fmt.Errorf("invalid transaction: %w", err)
		}

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.close()
		if err := env.connect(ctx); err != nil {
			return err
		}

		txID, err := env.backend.BroadcastTransaction(commandContext(ctx), ctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(txID)
		return nil
	},
}

var fundCommand = cli.Command{
	Name:  "fund",
	Usage: "pay to a swap from the elementsd wallet and mine blocks (regtest)",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "id", Usage: "swap id"},
		cli.StringFlag{Name: "address", Usage: "address to pay instead of a swap"},
		cli.Uint64Flag{Name: "amount", Usage: "amount in satoshis"},
		cli.StringFlag{Name: "lbtc", Usage: "amount in L-BTC, e.g. 0.001"},
		cli.IntFlag{Name: "mine", Value: 1, Usage: "blocks to mine after paying"},
	},
	Action: fund,
}

const (
	fundPollInterval = time.Second
	fundWaitTimeout  = 30 * time.Second
)

func fund(ctx *cli.Context) error {
	amount := ctx.Uint64("amount")
	if s := ctx.String("lbtc"); s != "" {
		var err error
		if amount, err = helpers.LBTCToSatoshis(s); err != nil {
			return err
		}
	}
	if amount == 0 {
		return errors.New("either --amount or --lbtc is required")
	}

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if env.params.Network != chain.Regtest {
		return fmt.Errorf("fund is only available on regtest")
	}
	if err := env.connect(ctx); err != nil {
		return err
	}
	funder, ok := env.backend.(backend.Funder)
	if !ok {
		return fmt.Errorf("backend %s cannot fund addresses", env.backend.Type())
	}

	address := ctx.String("address")
	if id := ctx.String("id"); id != "" {
		rec, err := env.store.GetSwap(id)
		if err != nil {
			return err
		}
		address = rec.Address
	}
	if address == "" {
		return errors.New("either --id or --address is required")
	}

	cmdCtx := commandContext(ctx)
	txID, err := funder.SendToAddress(cmdCtx, address, amount)
	if err != nil {
		return err
	}

	blocks := ctx.Int("mine")
	if blocks > 0 {
		miner, err := funder.GetNewAddress(cmdCtx)
		if err != nil {
			return err
		}
		if _, err := funder.GenerateToAddress(cmdCtx, blocks, miner); err != nil {
			return err
		}

		monitor := swap.NewMonitor(&swap.MonitorConfig{
			Coordinator: env.coordinator(nil, ""),
			Interval:    fundPollInterval,
		})
		waitCtx, cancel := context.WithTimeout(cmdCtx, fundWaitTimeout)
		defer cancel()
		if err := monitor.WaitForConfirmations(waitCtx, txID, uint32(blocks)); err != nil {
			return fmt.Errorf("funding %s not confirmed: %w", txID, err)
		}
	}

	return printJSON(map[string]interface{}{
		"txid":          txID,
		"address":       address,
		"amount":        amount,
		"confirmations": blocks,
	})
}
