// Package chain defines the Liquid network parameters used to encode
// addresses, pick the policy asset and derive swap keys.
// All values are hardcoded here - no external configuration needed.
package chain

import (
	"fmt"
	"sort"
	"strings"
)

// Network identifies a Liquid network.
type Network string

const (
	Liquid  Network = "liquid"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// ParseNetwork parses a network name. "mainnet" is accepted for Liquid.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "liquid", "mainnet":
		return Liquid, nil
	case "testnet", "liquidtestnet":
		return Testnet, nil
	case "regtest", "elementsregtest":
		return Regtest, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// AddressType represents the address encoding format.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Base58 pubkey hash
	AddressP2SH   AddressType = "p2sh"   // Base58 script hash, also nested segwit
	AddressP2WPKH AddressType = "p2wpkh" // Native segwit v0 key hash
	AddressP2WSH  AddressType = "p2wsh"  // Native segwit v0 script hash
	AddressP2TR   AddressType = "p2tr"   // Segwit v1
)

// Params contains all parameters for a Liquid network.
type Params struct {
	Network Network
	Name    string

	// Decimals of the policy asset
	Decimals uint8

	// BIP44 derivation
	CoinType       uint32
	DefaultPurpose uint32

	// Address prefixes
	PubKeyHashAddrID   byte
	ScriptHashAddrID   byte
	ConfidentialAddrID byte
	Bech32HRP          string
	Blech32HRP         string
	WIF                byte

	// BIP32 HD key magic bytes
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// PolicyAsset is the display hex id of L-BTC on this network.
	PolicyAsset string

	DefaultAddressType AddressType
}

// DerivationPath returns the BIP44/84 derivation path for this network.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000, // purpose' (hardened)
		p.CoinType + 0x80000000,       // coin_type' (hardened)
		account + 0x80000000,          // account' (hardened)
		change,                        // change (0=external, 1=internal)
		index,                         // address_index
	}
}

// DerivationPathString returns the derivation path as a string.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return formatPath(p.DefaultPurpose, p.CoinType, account, change, index)
}

func formatPath(purpose, coinType, account, change, index uint32) string {
	return "m/" +
		itoa(purpose) + "'/" +
		itoa(coinType) + "'/" +
		itoa(account) + "'/" +
		itoa(change) + "/" +
		itoa(index)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Registry holds all network parameters.
var registry = make(map[Network]*Params)

// Register adds network params to the registry.
func Register(params *Params) {
	registry[params.Network] = params
}

// Get returns the params of a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet returns the params of a registered network and panics otherwise.
func MustGet(network Network) *Params {
	params, ok := Get(network)
	if !ok {
		panic("chain: unregistered network " + string(network))
	}
	return params
}

// List returns all registered networks in name order.
func List() []Network {
	networks := make([]Network, 0, len(registry))
	for network := range registry {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsSupported returns true if the network is registered.
func IsSupported(network Network) bool {
	_, ok := registry[network]
	return ok
}
