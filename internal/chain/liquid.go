package chain

import "github.com/vulpemventures/go-elements/network"

func init() {
	// Liquid mainnet, BIP44 coin type 1776
	Register(fromElements(Liquid, "Liquid", &network.Liquid, 1776,
		[4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		[4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub
	))

	// Liquid testnet uses coin type 1 like every test network
	Register(fromElements(Testnet, "Liquid Testnet", &network.Testnet, 1,
		[4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		[4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub
	))

	// Elements regtest
	Register(fromElements(Regtest, "Elements Regtest", &network.Regtest, 1,
		[4]byte{0x04, 0x35, 0x83, 0x94},
		[4]byte{0x04, 0x35, 0x87, 0xcf},
	))
}

func fromElements(n Network, name string, net *network.Network, coinType uint32,
	hdPrivate, hdPublic [4]byte) *Params {

	return &Params{
		Network:  n,
		Name:     name,
		Decimals: 8,

		CoinType:       coinType,
		DefaultPurpose: 84, // Native segwit (ex1q...)

		PubKeyHashAddrID:   net.PubKeyHash,
		ScriptHashAddrID:   net.ScriptHash,
		ConfidentialAddrID: net.Confidential,
		Bech32HRP:          net.Bech32,
		Blech32HRP:         net.Blech32,
		WIF:                net.Wif,

		HDPrivateKeyID: hdPrivate,
		HDPublicKeyID:  hdPublic,

		PolicyAsset: net.AssetID,

		DefaultAddressType: AddressP2WPKH,
	}
}
