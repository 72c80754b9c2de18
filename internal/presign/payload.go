package presign

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// signedOrderPayload is the wire shape POSTed to the submission API: a
// signed CTF exchange order plus the owning API key and order type.
type signedOrderPayload struct {
	Order struct {
		Salt          string `json:"salt"`
		Maker         string `json:"maker"`
		Signer        string `json:"signer"`
		Taker         string `json:"taker"`
		TokenID       string `json:"tokenId"`
		MakerAmount   string `json:"makerAmount"`
		TakerAmount   string `json:"takerAmount"`
		Side          string `json:"side"`
		Expiration    string `json:"expiration"`
		Nonce         string `json:"nonce"`
		FeeRateBps    string `json:"feeRateBps"`
		SignatureType int    `json:"signatureType"`
		Signature     string `json:"signature"`
	} `json:"order"`
	OrderType string `json:"orderType"`
}

// orderPayloadJSON serializes the signed order into the exact body the
// submitter POSTs. Keeping serialization here, next to the signing that
// produced the signature, guarantees the bytes submitted are exactly the
// bytes that were signed.
func orderPayloadJSON(tokenID string, makerAmt, takerAmt *big.Int, salt uint32, nonce, expiration string, feeRateBps int, signer *Signer, sig []byte) ([]byte, error) {
	var payload signedOrderPayload
	payload.Order.Salt = fmt.Sprintf("%d", salt)
	payload.Order.Maker = signer.funderAddress.Hex()
	payload.Order.Signer = signer.address.Hex()
	payload.Order.Taker = "0x0000000000000000000000000000000000000000"
	payload.Order.TokenID = tokenID
	payload.Order.MakerAmount = makerAmt.String()
	payload.Order.TakerAmount = takerAmt.String()
	payload.Order.Side = "BUY"
	payload.Order.Expiration = expiration
	payload.Order.Nonce = nonce
	payload.Order.FeeRateBps = fmt.Sprintf("%d", feeRateBps)
	payload.Order.SignatureType = signer.sigType
	payload.Order.Signature = "0x" + fmt.Sprintf("%x", sig)
	payload.OrderType = "FOK"

	return json.Marshal(payload)
}
