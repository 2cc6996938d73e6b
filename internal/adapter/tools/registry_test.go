package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/tools"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/config"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
)

func echoSpec(name string) tool.Spec {
	return tool.Spec{
		Name:        name,
		Description: "echoes its input",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Invoke: func(_ context.Context, input map[string]any) (json.RawMessage, error) {
			return json.Marshal(input)
		},
	}
}

func TestNewRegistryRejectsMalformedSpec(t *testing.T) {
	bad := tool.Spec{
		Name: "broken",
		InputSchema: map[string]any{
			"properties": "not an object",
		},
		Invoke: func(context.Context, map[string]any) (json.RawMessage, error) { return nil, nil },
	}
	if _, err := tools.NewRegistry(time.Second, bad); err == nil {
		t.Fatal("expected registration to fail on malformed schema")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	if _, err := tools.NewRegistry(time.Second, echoSpec("dup"), echoSpec("dup")); err == nil {
		t.Fatal("expected registration to fail on duplicate name")
	}
}

func TestLookupUnknownIsNotFound(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, echoSpec("echo"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if _, err := reg.Lookup("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilterProfiles(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, echoSpec("b"), echoSpec("a"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	all := reg.Filter(tool.ProfileAll)
	if len(all) != 2 || all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("expected sorted [a b], got %v", all)
	}
	if got := reg.Filter(tool.ProfileNone); len(got) != 0 {
		t.Fatalf("expected no tools for none profile, got %d", len(got))
	}
}

func TestInvokeChecksInput(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, echoSpec("echo"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	_, err = reg.Invoke(context.Background(), "echo", json.RawMessage(`{}`))
	var toolErr *tool.Error
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *tool.Error, got %v", err)
	}
	if toolErr.Name != "echo" {
		t.Fatalf("unexpected tool name in error: %q", toolErr.Name)
	}

	out, err := reg.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(out) != `{"text":"hi"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestInvokeTimeout(t *testing.T) {
	slow := tool.Spec{
		Name: "slow",
		Invoke: func(ctx context.Context, _ map[string]any) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	reg, err := tools.NewRegistry(10*time.Millisecond, slow)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	_, err = reg.Invoke(context.Background(), "slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMakeStakeCoreTransaction(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, tools.WalletTools(config.Tools{Timeout: time.Second}, nil)...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "makeStakeCoreTransaction",
		json.RawMessage(`{"candidateAddress":"0xV","value":"10"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var result struct {
		CandidateAddress string `json:"candidateAddress"`
		ValueInWei       string `json:"valueInWei"`
		ChainID          int    `json:"chainId"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ValueInWei != "10000000000000000000" {
		t.Fatalf("expected 10 CORE in wei, got %q", result.ValueInWei)
	}
	if result.ChainID != 1116 {
		t.Fatalf("expected chain id 1116, got %d", result.ChainID)
	}
	if result.CandidateAddress != "0xV" {
		t.Fatalf("unexpected candidate: %q", result.CandidateAddress)
	}
}

func TestMakeStakeCoreTransactionFractional(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, tools.WalletTools(config.Tools{Timeout: time.Second}, nil)...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "makeStakeCoreTransaction",
		json.RawMessage(`{"candidateAddress":"0xV","value":"1.5"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	var result struct {
		ValueInWei string `json:"valueInWei"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ValueInWei != "1500000000000000000" {
		t.Fatalf("expected 1.5 CORE in wei, got %q", result.ValueInWei)
	}
}

func TestMakeStakeCoreTransactionRejectsBadInput(t *testing.T) {
	reg, err := tools.NewRegistry(time.Second, tools.WalletTools(config.Tools{Timeout: time.Second}, nil)...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	cases := []string{
		`{"candidateAddress":"not-hex","value":"10"}`,
		`{"candidateAddress":"0xV","value":"-1"}`,
		`{"candidateAddress":"0xV","value":"abc"}`,
		`{"candidateAddress":"0xV","value":"0"}`,
		`{"candidateAddress":"0xV"}`,
	}
	for _, input := range cases {
		if _, err := reg.Invoke(context.Background(), "makeStakeCoreTransaction", json.RawMessage(input)); err == nil {
			t.Fatalf("expected error for input %s", input)
		}
	}
}

func TestGetCoreWalletBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/accounts/0xabc/balance" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"balance":"42000000000000000000"}`))
	}))
	defer srv.Close()

	reg, err := tools.NewRegistry(time.Second,
		tools.WalletTools(config.Tools{Timeout: time.Second, StakingAPI: srv.URL}, nil)...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "getCoreWalletBalance",
		json.RawMessage(`{"address":"0xabc"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(out) != `{"balance":"42000000000000000000"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}
