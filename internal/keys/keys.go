// Package keys loads wallet credentials from the environment.
//
// Wallets are declared as numbered env var groups:
//
//	WALLET_1_PRIVATE_KEY=0x...   (required)
//	WALLET_1_NAME=lp-alpha       (optional, defaults to wallet_1)
//	WALLET_1_ENABLED=true        (optional, defaults to true)
//	WALLET_1_MAX_ORDERS=50       (optional, defaults to 50)
//
// A .env file in the working directory is loaded first if present. The
// account address and default subaccount are derived from the private key;
// key material itself is wrapped in Secret and never reaches logs.
package keys

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

const defaultMaxOrders = 50

// Wallet is one trading identity. Address is the 0x account address
// derived from the key; SubaccountID is the default (index-0) subaccount,
// the address left-padded with 24 zero bytes.
type Wallet struct {
	ID            string
	Name          string
	PrivateKey    Secret
	Address       string
	SubaccountID  string
	Enabled       bool
	MaxOpenOrders int
}

// Load reads all wallet definitions from the environment. Disabled wallets
// are filtered out. Returns wallets sorted by their numeric suffix.
func Load() ([]Wallet, error) {
	// Best-effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	indexes := discoverIndexes()
	if len(indexes) == 0 {
		return nil, fmt.Errorf("no wallets found in environment (expected WALLET_<N>_PRIVATE_KEY)")
	}

	wallets := make([]Wallet, 0, len(indexes))
	for _, n := range indexes {
		w, err := loadWallet(n)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", n, err)
		}
		if !w.Enabled {
			continue
		}
		wallets = append(wallets, w)
	}

	if len(wallets) == 0 {
		return nil, fmt.Errorf("all configured wallets are disabled")
	}
	return wallets, nil
}

func discoverIndexes() []int {
	seen := map[int]bool{}
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "WALLET_") || !strings.HasSuffix(name, "_PRIVATE_KEY") {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(name, "WALLET_"), "_PRIVATE_KEY")
		n, err := strconv.Atoi(mid)
		if err != nil || n <= 0 {
			continue
		}
		seen[n] = true
	}
	indexes := make([]int, 0, len(seen))
	for n := range seen {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	return indexes
}

func loadWallet(n int) (Wallet, error) {
	prefix := fmt.Sprintf("WALLET_%d_", n)

	raw := os.Getenv(prefix + "PRIVATE_KEY")
	if raw == "" {
		return Wallet{}, fmt.Errorf("%sPRIVATE_KEY is empty", prefix)
	}

	address, subaccount, err := deriveAddress(raw)
	if err != nil {
		return Wallet{}, fmt.Errorf("derive address: %w", err)
	}

	id := fmt.Sprintf("wallet_%d", n)
	name := os.Getenv(prefix + "NAME")
	if name == "" {
		name = id
	}

	enabled := true
	if v := os.Getenv(prefix + "ENABLED"); v != "" {
		enabled = v == "true" || v == "1"
	}

	maxOrders := defaultMaxOrders
	if v := os.Getenv(prefix + "MAX_ORDERS"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 {
			return Wallet{}, fmt.Errorf("%sMAX_ORDERS: invalid value %q", prefix, v)
		}
		maxOrders = m
	}

	return Wallet{
		ID:            id,
		Name:          name,
		PrivateKey:    Secret(raw),
		Address:       address,
		SubaccountID:  subaccount,
		Enabled:       enabled,
		MaxOpenOrders: maxOrders,
	}, nil
}

// deriveAddress computes the account address and default subaccount id
// from a hex-encoded secp256k1 private key.
func deriveAddress(rawKey string) (address, subaccount string, err error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
	if err != nil {
		return "", "", err
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	address = addr.Hex()
	subaccount = address + strings.Repeat("0", 48)
	return address, subaccount, nil
}
