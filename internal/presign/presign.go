// Package presign builds and EIP-712 signs BUY orders. Per-token fee-rate
// and tick-size metadata can be fetched and cached ahead of a window's
// close; each order is signed when it is requested, so one local signature
// per order stays on the critical path after T+0.
package presign

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/types"
)

// Signer holds the wallet used to sign every pre-built order. It mirrors
// the L1 identity used once to derive the submitter's L2 session.
type Signer struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       int
}

// NewSigner creates a Signer from a hex-encoded private key (with or
// without a 0x prefix).
func NewSigner(privateKeyHex, funderAddress string, chainID int64, sigType int) (*Signer, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(pk.PublicKey)
	funder := address
	if funderAddress != "" {
		funder = common.HexToAddress(funderAddress)
	}

	return &Signer{
		privateKey:    pk,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(chainID),
		sigType:       sigType,
	}, nil
}

// Address returns the EOA address that signs every order.
func (s *Signer) Address() common.Address { return s.address }

// SignClobAuth signs the L1 "ClobAuth" typed-data message used once at
// startup to bootstrap L2 API credentials, proving wallet ownership without
// ever sending the private key over the wire.
func (s *Signer) SignClobAuth(timestamp string, nonce int) (string, error) {
	domain := &apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
	}
	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"ClobAuth": {
			{Name: "address", Type: "address"},
			{Name: "timestamp", Type: "string"},
			{Name: "nonce", Type: "uint256"},
			{Name: "message", Type: "string"},
		},
	}
	message := apitypes.TypedDataMessage{
		"address":   s.address.Hex(),
		"timestamp": timestamp,
		"nonce":     fmt.Sprintf("%d", nonce),
		"message":   "This message attests that I control the given wallet",
	}

	sig, err := signTypedData(s, domain, typesDef, message, "ClobAuth")
	if err != nil {
		return "", fmt.Errorf("sign clob auth: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// TokenMeta is the per-token fee-rate and tick-size metadata needed to
// build a conforming order. It is fetched once per token and cached for
// the life of the process.
type TokenMeta struct {
	FeeRateBps   int
	TickSize     decimal.Decimal
	AmountDecimals int
}

// MetaSource fetches per-token metadata. Out-of-scope collaborator: an HTTP
// client hitting the CLOB market endpoint.
type MetaSource interface {
	TokenMeta(ctx context.Context, tokenID string) (TokenMeta, error)
}

// Builder caches per-token metadata and signs BUY orders at the price rungs
// it is given, at the time it is called.
type Builder struct {
	signer *Signer
	meta   MetaSource

	mu    sync.Mutex
	cache map[string]TokenMeta
}

// NewBuilder creates a pre-builder.
func NewBuilder(signer *Signer, meta MetaSource) *Builder {
	return &Builder{
		signer: signer,
		meta:   meta,
		cache:  make(map[string]TokenMeta),
	}
}

func (b *Builder) tokenMeta(ctx context.Context, tokenID string) (TokenMeta, error) {
	b.mu.Lock()
	if m, ok := b.cache[tokenID]; ok {
		b.mu.Unlock()
		return m, nil
	}
	b.mu.Unlock()

	m, err := b.meta.TokenMeta(ctx, tokenID)
	if err != nil {
		return TokenMeta{}, fmt.Errorf("fetch token meta for %s: %w", tokenID, err)
	}

	b.mu.Lock()
	b.cache[tokenID] = m
	b.mu.Unlock()
	return m, nil
}

// TokenMeta fetches and caches tokenID's fee-rate and tick-size metadata,
// exported so callers can warm the cache ahead of a window's close without
// signing an order.
func (b *Builder) TokenMeta(ctx context.Context, tokenID string) (TokenMeta, error) {
	return b.tokenMeta(ctx, tokenID)
}

// BuildRungs signs one BUY order per price rung for tokenID at the given
// size. The coordinator's order pool calls it during the sweep, once for
// each (price, size) the sweep requests, so signing happens after the
// winner is decided; nothing is signed ahead of close.
func (b *Builder) BuildRungs(ctx context.Context, tokenID string, size decimal.Decimal, rungs []decimal.Decimal) ([]types.PreSignedOrder, error) {
	meta, err := b.tokenMeta(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	out := make([]types.PreSignedOrder, 0, len(rungs))
	for _, price := range rungs {
		order, err := b.sign(tokenID, price, size, meta)
		if err != nil {
			return nil, fmt.Errorf("sign rung %s: %w", price, err)
		}
		out = append(out, order)
	}
	return out, nil
}

func (b *Builder) sign(tokenID string, price, size decimal.Decimal, meta TokenMeta) (types.PreSignedOrder, error) {
	makerAmt, takerAmt := priceToAmounts(price, size, meta.AmountDecimals)

	salt := uuid.New().ID() // 32-bit value, sufficient entropy for replay protection within a session
	nonce := "0"
	expiration := "0" // zero-expiry: valid from signing through close and beyond

	orderMsg := apitypes.TypedDataMessage{
		"salt":          fmt.Sprintf("%d", salt),
		"maker":         b.signer.funderAddress.Hex(),
		"signer":        b.signer.address.Hex(),
		"taker":         "0x0000000000000000000000000000000000000000",
		"tokenId":       tokenID,
		"makerAmount":   makerAmt.String(),
		"takerAmount":   takerAmt.String(),
		"expiration":    expiration,
		"nonce":         nonce,
		"feeRateBps":    fmt.Sprintf("%d", meta.FeeRateBps),
		"side":          "0", // 0 = BUY in the CTF exchange order schema
		"signatureType": fmt.Sprintf("%d", b.signer.sigType),
	}

	sig, err := signTypedData(b.signer, orderDomain(b.signer.chainID), orderTypes(), orderMsg, "Order")
	if err != nil {
		return types.PreSignedOrder{}, err
	}

	body, err := orderPayloadJSON(tokenID, makerAmt, takerAmt, salt, nonce, expiration, meta.FeeRateBps, b.signer, sig)
	if err != nil {
		return types.PreSignedOrder{}, err
	}

	return types.PreSignedOrder{
		TokenID:    tokenID,
		Price:      price,
		Size:       size,
		Salt:       fmt.Sprintf("%d", salt),
		Nonce:      nonce,
		Expiration: expiration,
		FeeRateBps: fmt.Sprintf("%d", meta.FeeRateBps),
		SignedBody: body,
		SignedAt:   time.Now(),
	}, nil
}

func orderDomain(chainID *big.Int) *apitypes.TypedDataDomain {
	return &apitypes.TypedDataDomain{
		Name:    "Polymarket CTF Exchange",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(chainID)),
	}
}

func orderTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"Order": {
			{Name: "salt", Type: "uint256"},
			{Name: "maker", Type: "address"},
			{Name: "signer", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "tokenId", Type: "uint256"},
			{Name: "makerAmount", Type: "uint256"},
			{Name: "takerAmount", Type: "uint256"},
			{Name: "expiration", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "feeRateBps", Type: "uint256"},
			{Name: "side", Type: "uint8"},
			{Name: "signatureType", Type: "uint8"},
		},
	}
}

func signTypedData(signer *Signer, domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, signer.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// priceToAmounts converts a human-readable price and size to makerAmount
// (USDC the buyer pays, scaled to 6 decimals) and takerAmount (tokens the
// buyer receives, scaled to 6 decimals). The cost is rounded down at the
// token's amount-decimal precision so the signed payload never overpays;
// the size is rounded down to 2 decimals.
func priceToAmounts(price, size decimal.Decimal, amountDecimals int) (maker, taker *big.Int) {
	cost := price.Mul(size).Truncate(int32(amountDecimals))
	scale := decimal.New(1, 6)

	makerDec := cost.Mul(scale).Truncate(0)
	takerDec := size.Truncate(2).Mul(scale).Truncate(0)

	maker, _ = new(big.Int).SetString(makerDec.String(), 10)
	taker, _ = new(big.Int).SetString(takerDec.String(), 10)
	if maker == nil {
		maker = big.NewInt(0)
	}
	if taker == nil {
		taker = big.NewInt(0)
	}
	return maker, taker
}
