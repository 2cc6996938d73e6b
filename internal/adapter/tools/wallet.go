package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/config"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/resilience"
)

// coreChainID is the Core mainnet chain id.
const coreChainID = 1116

// weiPerCore converts whole CORE to wei (18 decimals).
var weiPerCore = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WalletTools builds the built-in wallet tool specs. The HTTP-backed
// tools share one client and the service's resilience breaker; the
// transaction builders are pure and never touch the network.
func WalletTools(cfg config.Tools, breaker *resilience.Breaker) []tool.Spec {
	w := &wallet{
		baseURL: strings.TrimRight(cfg.StakingAPI, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}

	return []tool.Spec{
		{
			Name:        "makeStakeCoreTransaction",
			Description: "Build an unsigned CORE staking transaction for a validator candidate.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"candidateAddress", "value"},
				"properties": map[string]any{
					"candidateAddress": map[string]any{"type": "string"},
					"value":            map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
			Invoke: makeStakeCoreTransaction,
		},
		{
			Name:        "getValidators",
			Description: "List active Core validators with their status and commission.",
			InputSchema: map[string]any{"type": "object"},
			Invoke:      w.getValidators,
		},
		{
			Name:        "getCoreWalletBalance",
			Description: "Fetch the CORE balance of a wallet address.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"address"},
				"properties": map[string]any{
					"address": map[string]any{"type": "string"},
				},
			},
			Invoke: w.getCoreWalletBalance,
		},
	}
}

// makeStakeCoreTransaction converts a whole-CORE stake amount to wei and
// returns the transaction parameters for client-side signing. Fractional
// amounts are accepted up to 18 decimal places.
func makeStakeCoreTransaction(_ context.Context, input map[string]any) (json.RawMessage, error) {
	candidate, _ := input["candidateAddress"].(string)
	if !strings.HasPrefix(candidate, "0x") {
		return nil, fmt.Errorf("candidateAddress %q is not a hex address", candidate)
	}

	value, _ := input["value"].(string)
	wei, err := coreToWei(value)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"candidateAddress": candidate,
		"valueInWei":       wei.String(),
		"chainId":          coreChainID,
	}
	return json.Marshal(out)
}

// coreToWei parses a decimal CORE amount into wei.
func coreToWei(value string) (*big.Int, error) {
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("value %q has more than 18 decimal places", value)
	}

	wei, ok := new(big.Int).SetString(whole, 10)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("value %q is not a positive decimal amount", value)
	}
	wei.Mul(wei, weiPerCore)

	if frac != "" {
		fracInt, ok := new(big.Int).SetString(frac+strings.Repeat("0", 18-len(frac)), 10)
		if !ok {
			return nil, fmt.Errorf("value %q is not a positive decimal amount", value)
		}
		wei.Add(wei, fracInt)
	}
	if wei.Sign() == 0 {
		return nil, fmt.Errorf("value must be greater than zero")
	}
	return wei, nil
}

// wallet groups the HTTP-backed tools around one client and breaker.
type wallet struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
}

func (w *wallet) getValidators(ctx context.Context, _ map[string]any) (json.RawMessage, error) {
	return w.fetch(ctx, "/api/staking/validators")
}

func (w *wallet) getCoreWalletBalance(ctx context.Context, input map[string]any) (json.RawMessage, error) {
	address, _ := input["address"].(string)
	if !strings.HasPrefix(address, "0x") {
		return nil, fmt.Errorf("address %q is not a hex address", address)
	}
	return w.fetch(ctx, "/api/accounts/"+url.PathEscape(address)+"/balance")
}

func (w *wallet) fetch(ctx context.Context, path string) (json.RawMessage, error) {
	var result json.RawMessage
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("staking API error %d: %s", resp.StatusCode, string(data))
		}
		if !json.Valid(data) {
			return fmt.Errorf("staking API returned invalid JSON")
		}
		result = data
		return nil
	}

	if w.breaker != nil {
		if err := w.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
