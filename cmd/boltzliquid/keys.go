package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/urfave/cli"

	"github.com/vulpemventures/boltz-core-liquid/internal/chain"
	"github.com/vulpemventures/boltz-core-liquid/internal/storage"
	"github.com/vulpemventures/boltz-core-liquid/internal/swap"
)

var errNoKey = errors.New("either --privkey or --xprv is required")

var keyFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "privkey",
		Usage: "hex private key of the branch to spend",
	},
	cli.StringFlag{
		Name:  "xprv",
		Usage: "extended private key to derive the signing key from",
	},
	cli.StringFlag{
		Name: "path",
		Usage: "derivation path below --xprv, e.g. m/84'/1'/0'/0/3; " +
			"defaults to the first address of the network",
	},
}

// signerFromFlags returns the signer selected by keyFlags.
func signerFromFlags(ctx *cli.Context, params *chain.Params) (swap.Signer, error) {
	switch {
	case ctx.String("privkey") != "":
		key, err := parsePrivateKey(ctx.String("privkey"))
		if err != nil {
			return nil, err
		}
		return swap.NewPrivateKeySigner(key), nil

	case ctx.String("xprv") != "":
		p := ctx.String("path")
		if p == "" {
			p = params.DerivationPathString(0, 0, 0)
		}
		path, err := parsePath(p)
		if err != nil {
			return nil, err
		}
		key, err := deriveKey(ctx.String("xprv"), path, params)
		if err != nil {
			return nil, err
		}
		return swap.NewPrivateKeySigner(key), nil

	default:
		return nil, errNoKey
	}
}

// keysFromFlags returns a KeyFunc handing out the flag key for every swap.
// The coordinator rejects it for swaps it does not belong to.
func keysFromFlags(ctx *cli.Context, params *chain.Params) (swap.KeyFunc, error) {
	signer, err := signerFromFlags(ctx, params)
	if err != nil {
		return nil, err
	}
	return func(*storage.SwapRecord) (swap.Signer, error) {
		return signer, nil
	}, nil
}

func parsePrivateKey(s string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid private key: expected %d bytes, got %d",
			btcec.PrivKeyBytesLen, len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}

func deriveKey(xprv string, path []uint32, params *chain.Params) (*btcec.PrivateKey, error) {
	key, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, fmt.Errorf("invalid xprv: %w", err)
	}
	if !key.IsPrivate() {
		return nil, fmt.Errorf("invalid xprv: public key given")
	}
	if !bytes.Equal(key.Version(), params.HDPrivateKeyID[:]) {
		return nil, fmt.Errorf("invalid xprv: not a %s key", params.Name)
	}

	for _, index := range path {
		if key, err = key.Derive(index); err != nil {
			return nil, fmt.Errorf("derivation failed: %w", err)
		}
	}
	return key.ECPrivKey()
}

// parsePath parses paths like m/84'/1776'/0'/0/0. Both ' and h mark
// hardened indexes.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) > 0 && parts[0] == "m" {
		parts = parts[1:]
	}

	indexes := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid path %q: empty element", path)
		}

		var offset uint32
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			offset = hdkeychain.HardenedKeyStart
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("invalid path %q: bad index %q", path, part)
		}
		indexes = append(indexes, uint32(index)+offset)
	}
	return indexes, nil
}
