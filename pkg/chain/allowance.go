package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var parsedERC20 = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return a
}()

// Backend is the subset of ethclient.Client the approver needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// TxSigner signs transactions with the wallet key.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Approver grants the exchange contract unlimited ERC-20 allowance.
type Approver struct {
	backend Backend
	signer  TxSigner
	chainID *big.Int
	logger  *zap.SugaredLogger
}

func NewApprover(backend Backend, signer TxSigner, chainID int64, logger *zap.SugaredLogger) *Approver {
	return &Approver{
		backend: backend,
		signer:  signer,
		chainID: big.NewInt(chainID),
		logger:  logger,
	}
}

// Dial connects to an RPC endpoint and returns an approver on top of it.
func Dial(ctx context.Context, rpcURL string, signer TxSigner, chainID int64, logger *zap.SugaredLogger) (*Approver, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewApprover(client, signer, chainID, logger), client.Close, nil
}

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	// allowances at or above half of maxUint256 count as unlimited
	approvedThreshold = new(big.Int).Rsh(maxUint256, 1)
)

// Approve makes sure spender may move each token on behalf of the wallet.
// Tokens already approved are skipped; the rest get approve(spender, MaxUint256)
// and Approve waits for every receipt.
func (a *Approver) Approve(ctx context.Context, spender common.Address, tokens []common.Address) error {
	seen := make(map[common.Address]bool)
	for _, token := range tokens {
		if token == (common.Address{}) || seen[token] {
			continue
		}
		seen[token] = true

		allowance, err := a.Allowance(ctx, token, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(approvedThreshold) >= 0 {
			a.logger.Debugw("allowance_sufficient", "token", token.Hex(), "spender", spender.Hex())
			continue
		}

		tx, err := a.sendApprove(ctx, token, spender)
		if err != nil {
			return err
		}
		a.logger.Infow("approve_sent", "token", token.Hex(), "spender", spender.Hex(), "tx", tx.Hash().Hex())
		if err := a.waitMined(ctx, tx); err != nil {
			return fmt.Errorf("approve %s: %w", token.Hex(), err)
		}
		a.logger.Infow("approve_mined", "token", token.Hex(), "tx", tx.Hash().Hex())
	}
	return nil
}

// Allowance reads token.allowance(wallet, spender).
func (a *Approver) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := parsedERC20.Pack("allowance", a.signer.Address(), spender)
	if err != nil {
		return nil, err
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{From: a.signer.Address(), To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance call on %s failed: %w", token.Hex(), err)
	}
	values, err := parsedERC20.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode allowance of %s: %w", token.Hex(), err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}

func (a *Approver) sendApprove(ctx context.Context, token, spender common.Address) (*types.Transaction, error) {
	from := a.signer.Address()
	data, err := parsedERC20.Pack("approve", spender, maxUint256)
	if err != nil {
		return nil, err
	}
	nonce, err := a.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas/5,
		To:       &token,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := a.signer.SignTx(tx, a.chainID)
	if err != nil {
		return nil, err
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send approve: %w", err)
	}
	return signed, nil
}

// waitMined blocks until tx has a receipt and fails if it reverted.
func (a *Approver) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, a.backend, tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return nil
}
