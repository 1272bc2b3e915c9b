package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/chainledger"
	"github.com/facturo/facturo/internal/config"
	"github.com/facturo/facturo/internal/fingerprint"
	"github.com/facturo/facturo/internal/fiscalizer"
	"github.com/facturo/facturo/internal/health"
	"github.com/facturo/facturo/internal/httpapi"
	"github.com/facturo/facturo/internal/invoice"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := invoice.NewMemoryStore()
	chains := map[string]chainledger.Ledger{
		"registration": chainledger.NewMemoryLedger(),
		"submission":   chainledger.NewMemoryLedger(),
	}
	svc := fiscalizer.New(store, fiscalizer.Ledgers{
		Registration: chains["registration"],
		Submission:   chains["submission"],
	}, fingerprint.Detect(nil), nil)

	snap := &config.Snapshot{
		Issuer: config.IssuerProfile{TaxID: "B12345678", LegalName: "Facturo SL"},
	}

	return httpapi.NewRouter(httpapi.RouterDeps{
		Store:    store,
		Service:  svc,
		Chains:   chains,
		Snapshot: func() *config.Snapshot { return snap },
		Checker:  health.New(nil, chains, nil),
		Logger:   zap.NewNop(),
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

const createBody = `{
	"series": "INV",
	"number": "2024-0001",
	"issue_date": "2024-03-15",
	"type_code": "F1",
	"buyer_tax_id": "X9999999Z",
	"lines": [
		{"description": "consulting", "quantity": "10", "unit_price": "10", "tax_rate": "21"}
	]
}`

func createAndFinalize(t *testing.T, router *gin.Engine) (id string, finalizeResp map[string]any) {
	t.Helper()

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/invoices", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id = resp["id"].(string)

	w, finalizeResp = doJSON(t, router, http.MethodPost, "/api/v1/invoices/"+id+"/finalize", "")
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return id, finalizeResp
}

func TestCreateInvoice_validation(t *testing.T) {
	router := setupRouter(t)

	// Missing required number.
	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/invoices", `{"issue_date":"2024-03-15"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing number, got %d", w.Code)
	}

	// Bad decimal.
	bad := strings.Replace(createBody, `"quantity": "10"`, `"quantity": "ten"`, 1)
	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/invoices", bad)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad decimal, got %d", w.Code)
	}
}

func TestFinalize_commitsEntryAndEmbedsCache(t *testing.T) {
	router := setupRouter(t)
	id, resp := createAndFinalize(t, router)

	if resp["fingerprinted"] != true {
		t.Fatalf("expected fingerprinted=true: %v", resp)
	}
	entry := resp["entry"].(map[string]any)
	if entry["previous_fingerprint"] != chainledger.Genesis {
		t.Errorf("first entry must chain from genesis")
	}
	if entry["total_amount"] != "121.00" {
		t.Errorf("total amount: got %v", entry["total_amount"])
	}

	// The cache is visible on the invoice.
	w, inv := doJSON(t, router, http.MethodGet, "/api/v1/invoices/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if inv["fingerprint"] != entry["fingerprint"] {
		t.Errorf("fingerprint not embedded on invoice")
	}
	if code, _ := inv["verification_code"].(string); code == "" {
		t.Error("verification code not embedded")
	}

	// QR image is served.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/"+id+"/qr", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK || w2.Header().Get("Content-Type") != "image/png" {
		t.Errorf("qr: code=%d content-type=%q", w2.Code, w2.Header().Get("Content-Type"))
	}
}

func TestFinalize_twiceConflicts(t *testing.T) {
	router := setupRouter(t)
	id, _ := createAndFinalize(t, router)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/invoices/"+id+"/finalize", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on double finalize, got %d", w.Code)
	}
}

func TestRefingerprint_succeedsAfterFinalize(t *testing.T) {
	router := setupRouter(t)
	id, first := createAndFinalize(t, router)

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/invoices/"+id+"/refingerprint", "")
	if w.Code != http.StatusOK {
		t.Fatalf("refingerprint: %d: %s", w.Code, w.Body.String())
	}
	e1 := first["entry"].(map[string]any)
	e2 := resp["entry"].(map[string]any)
	if e1["fingerprint"] == e2["fingerprint"] {
		t.Error("refingerprint produced the identical fingerprint")
	}
	if e2["previous_fingerprint"] == e1["fingerprint"] {
		t.Error("refingerprint chained to the invoice's own prior entry")
	}
}

func TestLedgerEndpoints(t *testing.T) {
	router := setupRouter(t)
	_, finalizeResp := createAndFinalize(t, router)
	entry := finalizeResp["entry"].(map[string]any)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/ledgers/registration", "")
	if w.Code != http.StatusOK {
		t.Fatalf("overview: %d", w.Code)
	}
	if int(resp["entries"].(float64)) != 1 {
		t.Errorf("expected 1 entry, got %v", resp["entries"])
	}
	if resp["head"] != entry["fingerprint"] {
		t.Errorf("head mismatch")
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/ledgers/registration/verify", "")
	if w.Code != http.StatusOK || resp["valid"] != true {
		t.Errorf("verify: code=%d resp=%v", w.Code, resp)
	}

	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/ledgers/registration/entries/0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("entry: %d", w.Code)
	}
	if resp["fingerprint"] != entry["fingerprint"] {
		t.Errorf("entry 0 mismatch")
	}

	// Forward traversal from genesis finds the first entry.
	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/ledgers/registration/successor/"+chainledger.Genesis, "")
	if w.Code != http.StatusOK {
		t.Fatalf("successor: %d", w.Code)
	}
	if resp["fingerprint"] != entry["fingerprint"] {
		t.Errorf("successor of genesis mismatch")
	}

	// Latest entry for the invoice.
	w, resp = doJSON(t, router, http.MethodGet, "/api/v1/ledgers/registration/invoices/"+entry["invoice_id"].(string), "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest for invoice: %d", w.Code)
	}
	if resp["fingerprint"] != entry["fingerprint"] {
		t.Errorf("latest entry mismatch")
	}

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/ledgers/unknown", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown profile: expected 404, got %d", w.Code)
	}
}

func TestSubmitEndpoint_independentChain(t *testing.T) {
	router := setupRouter(t)
	id, _ := createAndFinalize(t, router)

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/invoices/"+id+"/submit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d: %s", w.Code, w.Body.String())
	}
	entry := resp["entry"].(map[string]any)
	if entry["previous_fingerprint"] != chainledger.Genesis {
		t.Errorf("submission chain must start at genesis independently")
	}
}

func TestHealthz(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", w.Code)
	}
}
