// Package chain is the Polygon client for the Conditional Tokens Framework:
// collateral splits, outcome-token balances, and ERC-20 approvals.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// collateralDecimals scales USDC.e amounts; the token has six decimals.
const collateralDecimals = 1e6

// receiptPollInterval is how often a sent transaction is checked for a
// receipt.
const receiptPollInterval = 2 * time.Second

// Function selectors, keccak256 of the canonical signatures.
var (
	selSplitPosition  = ethcrypto.Keccak256([]byte("splitPosition(address,bytes32,bytes32,uint256[],uint256)"))[:4]
	selBalanceOf      = ethcrypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selBalanceOf1155  = ethcrypto.Keccak256([]byte("balanceOf(address,uint256)"))[:4]
	selApprove        = ethcrypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	selAllowance      = ethcrypto.Keccak256([]byte("allowance(address,address)"))[:4]
	selSetApprovalAll = ethcrypto.Keccak256([]byte("setApprovalForAll(address,bool)"))[:4]
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Polygon mainnet deployments, used when the config leaves addresses empty.
const (
	DefaultCtfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	DefaultCtfAddress         = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	DefaultUsdcAddress        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

// Config holds the addresses and transaction parameters for the client.
type Config struct {
	RpcURL             string
	ChainID            int64
	CtfAddress         string // Conditional Tokens contract
	CtfExchangeAddress string // CTF Exchange contract
	UsdcAddress        string // USDC.e collateral
	GasLimit           uint64
}

// Client talks to a Polygon JSON-RPC node. All transactions are signed
// locally with the trading wallet's key.
type Client struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	ctf      common.Address
	exchange common.Address
	usdc     common.Address
	gasLimit uint64
	logger   *slog.Logger
}

// Dial connects to the RPC node and verifies the key.
func Dial(ctx context.Context, cfg Config, privateKeyHex string, logger *slog.Logger) (*Client, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RpcURL, err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 300_000
	}
	if cfg.CtfAddress == "" {
		cfg.CtfAddress = DefaultCtfAddress
	}
	if cfg.CtfExchangeAddress == "" {
		cfg.CtfExchangeAddress = DefaultCtfExchangeAddress
	}
	if cfg.UsdcAddress == "" {
		cfg.UsdcAddress = DefaultUsdcAddress
	}

	return &Client{
		eth:      eth,
		key:      key,
		address:  ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		ctf:      common.HexToAddress(cfg.CtfAddress),
		exchange: common.HexToAddress(cfg.CtfExchangeAddress),
		usdc:     common.HexToAddress(cfg.UsdcAddress),
		gasLimit: gasLimit,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Address returns the trading wallet address.
func (c *Client) Address() common.Address {
	return c.address
}

// SplitCollateral splits amountUSD of collateral into equal YES and NO
// token amounts for the given condition. It blocks until the transaction is
// mined and returns the transaction hash.
func (c *Client) SplitCollateral(ctx context.Context, conditionID string, amountUSD float64) (string, error) {
	if amountUSD <= 0 {
		return "", errors.New("chain: split amount must be positive")
	}

	conditionHash, err := parseConditionID(conditionID)
	if err != nil {
		return "", err
	}

	amount := usdToMicros(amountUSD)
	data := encodeSplitPosition(c.usdc, conditionHash, amount)

	txHash, err := c.sendTransaction(ctx, c.ctf, data)
	if err != nil {
		return "", fmt.Errorf("chain: split %s: %w", conditionID, err)
	}

	c.logger.InfoContext(ctx, "collateral split mined",
		slog.String("condition_id", conditionID),
		slog.Float64("amount_usd", amountUSD),
		slog.String("tx", txHash),
	)
	return txHash, nil
}

// TokenBalance returns the wallet's ERC-1155 balance for an outcome token,
// scaled to whole tokens. Satisfies the ledger's balance reader.
func (c *Client) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("chain: token id %q is not a decimal integer", tokenID)
	}

	data := make([]byte, 0, 4+64)
	data = append(data, selBalanceOf1155...)
	data = append(data, common.LeftPadBytes(c.address.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(id.Bytes(), 32)...)

	raw, err := c.call(ctx, c.ctf, data)
	if err != nil {
		return 0, fmt.Errorf("chain: balanceOf token %s: %w", tokenID, err)
	}
	return microsToFloat(new(big.Int).SetBytes(raw)), nil
}

// CollateralBalance returns the wallet's USDC.e balance in dollars.
func (c *Client) CollateralBalance(ctx context.Context) (float64, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, selBalanceOf...)
	data = append(data, common.LeftPadBytes(c.address.Bytes(), 32)...)

	raw, err := c.call(ctx, c.usdc, data)
	if err != nil {
		return 0, fmt.Errorf("chain: usdc balanceOf: %w", err)
	}
	return microsToFloat(new(big.Int).SetBytes(raw)), nil
}

// NativeBalance returns the wallet's POL balance in ether units.
func (c *Client) NativeBalance(ctx context.Context) (float64, error) {
	wei, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: native balance: %w", err)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f, nil
}

// WalletStatus is a point-in-time snapshot of the trading wallet.
type WalletStatus struct {
	Address           string
	NativeBalance     float64 // POL
	CollateralBalance float64 // USDC.e
}

// Status reads the wallet's balances.
func (c *Client) Status(ctx context.Context) (WalletStatus, error) {
	native, err := c.NativeBalance(ctx)
	if err != nil {
		return WalletStatus{}, err
	}
	collateral, err := c.CollateralBalance(ctx)
	if err != nil {
		return WalletStatus{}, err
	}
	return WalletStatus{
		Address:           c.address.Hex(),
		NativeBalance:     native,
		CollateralBalance: collateral,
	}, nil
}

// ApprovalResult records the outcome of one approval in EnsureApprovals.
type ApprovalResult struct {
	Label  string
	Status string // "already_approved", "approved", "failed"
	TxHash string
}

// EnsureApprovals grants the CTF and exchange contracts max collateral
// allowance and lets the exchange move outcome tokens. Allowances already
// above half of max are left alone. One-time setup per wallet.
func (c *Client) EnsureApprovals(ctx context.Context) ([]ApprovalResult, error) {
	half := new(big.Int).Rsh(maxUint256, 1)
	var results []ApprovalResult

	for _, spender := range []struct {
		label string
		addr  common.Address
	}{
		{"usdc->ctf", c.ctf},
		{"usdc->exchange", c.exchange},
	} {
		current, err := c.allowance(ctx, spender.addr)
		if err != nil {
			return results, err
		}
		if current.Cmp(half) >= 0 {
			results = append(results, ApprovalResult{Label: spender.label, Status: "already_approved"})
			continue
		}

		data := make([]byte, 0, 4+64)
		data = append(data, selApprove...)
		data = append(data, common.LeftPadBytes(spender.addr.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(maxUint256.Bytes(), 32)...)

		txHash, err := c.sendTransaction(ctx, c.usdc, data)
		if err != nil {
			results = append(results, ApprovalResult{Label: spender.label, Status: "failed"})
			return results, fmt.Errorf("chain: approve %s: %w", spender.label, err)
		}
		results = append(results, ApprovalResult{Label: spender.label, Status: "approved", TxHash: txHash})
	}

	// The exchange settles hedge sells by moving outcome tokens.
	data := make([]byte, 0, 4+64)
	data = append(data, selSetApprovalAll...)
	data = append(data, common.LeftPadBytes(c.exchange.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)

	txHash, err := c.sendTransaction(ctx, c.ctf, data)
	if err != nil {
		results = append(results, ApprovalResult{Label: "ctf->exchange operator", Status: "failed"})
		return results, fmt.Errorf("chain: setApprovalForAll: %w", err)
	}
	results = append(results, ApprovalResult{Label: "ctf->exchange operator", Status: "approved", TxHash: txHash})

	return results, nil
}

func (c *Client) allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+64)
	data = append(data, selAllowance...)
	data = append(data, common.LeftPadBytes(c.address.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)

	raw, err := c.call(ctx, c.usdc, data)
	if err != nil {
		return nil, fmt.Errorf("chain: allowance: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("empty call result")
	}
	return out, nil
}

// sendTransaction signs and submits a legacy transaction, then waits for
// its receipt. A reverted transaction is an error.
func (c *Client) sendTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseConditionID normalizes a hex condition id into bytes32. HexToHash
// left-pads short values, matching the CTF's expectation.
func parseConditionID(conditionID string) (common.Hash, error) {
	cid := strings.TrimSpace(conditionID)
	trimmed := strings.TrimPrefix(cid, "0x")
	if trimmed == "" || len(trimmed) > 64 {
		return common.Hash{}, fmt.Errorf("chain: condition id %q is not bytes32 hex", conditionID)
	}
	for _, r := range strings.ToLower(trimmed) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return common.Hash{}, fmt.Errorf("chain: condition id %q is not valid hex (token id passed instead?)", conditionID)
		}
	}
	return common.HexToHash(cid), nil
}

// encodeSplitPosition ABI-encodes
// splitPosition(collateral, bytes32(0), conditionId, [1,2], amount).
// The [1,2] partition is the YES/NO index-set pair for binary markets.
func encodeSplitPosition(collateral common.Address, conditionID common.Hash, amount *big.Int) []byte {
	data := make([]byte, 0, 4+8*32)
	data = append(data, selSplitPosition...)
	data = append(data, common.LeftPadBytes(collateral.Bytes(), 32)...)
	data = append(data, make([]byte, 32)...) // parentCollectionId = bytes32(0)
	data = append(data, conditionID.Bytes()...)
	data = append(data, common.LeftPadBytes(big.NewInt(5*32).Bytes(), 32)...) // partition offset
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...) // partition length
	data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)
	return data
}

func usdToMicros(amountUSD float64) *big.Int {
	return big.NewInt(int64(math.Round(amountUSD * collateralDecimals)))
}

func microsToFloat(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(collateralDecimals)).Float64()
	return f
}
