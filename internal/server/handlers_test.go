package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SynthVault/internal/engine"
	"SynthVault/internal/ledger"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/pricing"
	"SynthVault/internal/query"
	"SynthVault/internal/registry"
	"SynthVault/internal/solvency"
	"SynthVault/internal/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// newTestServer wires a full in-memory stack behind the HTTP handler. The
// query service gets no database, so only live-state endpoints are routed
// through it here.
func newTestServer(t *testing.T) (http.Handler, *engine.Engine, *token.Memory) {
	t.Helper()

	ethOracle := oracle.NewStaticOracleWithPrice(2000_00000000) // $2000, 8 decimals
	ethToken := token.NewMemory()
	synthToken := token.NewMemory()

	reg, err := registry.New(
		[]string{"WETH"},
		[]oracle.PriceOracle{ethOracle},
		[]token.CollateralToken{ethToken},
		[]uint8{18},
		synthToken,
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	led := ledger.New()
	prices := pricing.NewNormalizer(reg)
	checker := solvency.NewChecker(reg, led, prices)
	persistChan := make(chan engine.Output, 64)

	eng := engine.New(
		reg, led, prices, checker,
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		persistChan, nil,
		zerolog.Nop(),
		nil,
	)

	qs := query.NewQueryService(eng, reg, prices, nil)
	hc := observability.NewHealthChecker()
	hc.SetReady(true)

	srv := NewHTTPServer(eng, qs, hc, nil, ":0")
	srv.EnableDevFaucet(func(holder uuid.UUID, assetID string, amount *big.Int) error {
		if assetID != "WETH" {
			return fmt.Errorf("unknown asset %q", assetID)
		}
		return ethToken.Mint(holder, amount)
	})

	handler, err := srv.routes()
	if err != nil {
		t.Fatalf("build routes: %v", err)
	}
	return handler, eng, ethToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDepositEndpoint(t *testing.T) {
	handler, eng, _ := newTestServer(t)
	user := uuid.New()

	oneEth := "1000000000000000000"
	rec := doJSON(t, handler, http.MethodPost, "/v1/dev/fund",
		fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":%q}`, user, oneEth))
	if rec.Code != http.StatusOK {
		t.Fatalf("fund status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/vault/deposit",
		fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":%q}`, user, oneEth))
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Status   string `json:"status"`
		Sequence int64  `json:"sequence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "committed" {
		t.Errorf("status = %q, want %q", resp.Status, "committed")
	}
	if resp.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", resp.Sequence)
	}

	want := new(big.Int)
	want.SetString(oneEth, 10)
	if got := eng.CollateralOf(user, "WETH"); got.Cmp(want) != 0 {
		t.Errorf("collateral = %s, want %s", got, want)
	}
}

func TestDepositEndpointRejections(t *testing.T) {
	handler, _, _ := newTestServer(t)
	user := uuid.New()

	cases := []struct {
		name string
		body string
		want int
	}{
		{
			name: "broken json",
			body: `{"user_id":`,
			want: http.StatusBadRequest,
		},
		{
			name: "bad uuid",
			body: `{"user_id":"nope","asset_id":"WETH","amount":"1"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "bad amount",
			body: fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":"1.5"}`, user),
			want: http.StatusBadRequest,
		},
		{
			name: "zero amount",
			body: fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":"0"}`, user),
			want: http.StatusBadRequest,
		},
		{
			name: "unapproved asset",
			body: fmt.Sprintf(`{"user_id":%q,"asset_id":"DOGE","amount":"1"}`, user),
			want: http.StatusBadRequest,
		},
		{
			name: "no token balance",
			body: fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":"1"}`, user),
			want: http.StatusUnprocessableEntity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/v1/vault/deposit", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestMintBeyondCapacityReturns422(t *testing.T) {
	handler, _, ethToken := newTestServer(t)
	user := uuid.New()

	oneEth := big.NewInt(1_000_000_000_000_000_000)
	if err := ethToken.Mint(user, oneEth); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	rec := doJSON(t, handler, http.MethodPost, "/v1/vault/deposit",
		fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":"1000000000000000000"}`, user))
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body)
	}

	// $2000 collateral caps minting at $1000 of synth.
	rec = doJSON(t, handler, http.MethodPost, "/v1/vault/mint",
		fmt.Sprintf(`{"user_id":%q,"amount":"1000000000000000000001"}`, user))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("mint status = %d, want %d (body %s)", rec.Code, http.StatusUnprocessableEntity, rec.Body)
	}
}

func TestGetAccountEndpoint(t *testing.T) {
	handler, _, ethToken := newTestServer(t)
	user := uuid.New()

	oneEth := big.NewInt(1_000_000_000_000_000_000)
	if err := ethToken.Mint(user, oneEth); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	rec := doJSON(t, handler, http.MethodPost, "/v1/vault/deposit",
		fmt.Sprintf(`{"user_id":%q,"asset_id":"WETH","amount":"1000000000000000000"}`, user))
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/accounts/"+user.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("account status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Debt         string `json:"debt"`
		AccountValue string `json:"account_value"`
		HealthFactor string `json:"health_factor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Debt != "0" {
		t.Errorf("debt = %q, want %q", resp.Debt, "0")
	}
	if resp.AccountValue != "2000000000000000000000" {
		t.Errorf("account value = %q, want $2000 in value units", resp.AccountValue)
	}
	if resp.HealthFactor != "max" {
		t.Errorf("health factor = %q, want %q", resp.HealthFactor, "max")
	}
}

func TestConvertEndpoints(t *testing.T) {
	handler, _, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet,
		"/v1/convert/value?asset_id=WETH&amount=1000000000000000000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("convert status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Output != "2000000000000000000000" {
		t.Errorf("1 WETH = %q value units, want 2000e18", resp.Output)
	}

	rec = doJSON(t, handler, http.MethodGet,
		"/v1/convert/native?asset_id=WETH&value=2000000000000000000000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("convert status = %d, body %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Output != "1000000000000000000" {
		t.Errorf("$2000 = %q WETH, want 1e18", resp.Output)
	}
}

func TestHealthEndpoints(t *testing.T) {
	handler, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, handler, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
