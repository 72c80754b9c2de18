package submit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arbengine/post-close-arb/internal/presign"
)

// DeriveCredentials bootstraps L2 API credentials via L1 (EIP-712) auth,
// called once at startup when the config file doesn't already carry a
// pre-derived API key/secret/passphrase triplet.
func DeriveCredentials(ctx context.Context, clobBaseURL string, signer *presign.Signer) (Credentials, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := signer.SignClobAuth(timestamp, 0)
	if err != nil {
		return Credentials{}, fmt.Errorf("sign clob auth: %w", err)
	}

	client := resty.New().SetBaseURL(clobBaseURL).SetTimeout(10 * time.Second)

	var result Credentials
	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"POLY_ADDRESS":   signer.Address().Hex(),
			"POLY_SIGNATURE": sig,
			"POLY_TIMESTAMP": timestamp,
			"POLY_NONCE":     "0",
		}).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return Credentials{}, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Credentials{}, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}
