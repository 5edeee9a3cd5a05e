package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shardindex/internal/coordination/memory"
	"shardindex/internal/metadatastore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()
	coord := memory.New()
	store := metadatastore.NewServiceMetadataStore(ctx, coord)
	t.Cleanup(store.Close)
	return New(store, nil)
}

func doJSON(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetService(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{
		Name:            "checkout",
		ThroughputBytes: 1000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/services/checkout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got metadatastore.ServiceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ThroughputBytes != 1000 {
		t.Fatalf("unexpected throughput: %+v", got)
	}
}

func TestGetMissingServiceReturns404(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/services/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateDuplicateServiceReturns409(t *testing.T) {
	h := newTestHandler(t)
	meta := metadatastore.ServiceMetadata{Name: "checkout"}
	if rec := doJSON(t, h, http.MethodPost, "/services", meta); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/services", meta)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestUpdatePartitionAssignmentRejectsEmpty(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{Name: "checkout", ThroughputBytes: 1000})

	rec := doJSON(t, h, http.MethodPost, "/services/checkout/partitions", map[string]any{"partitionIds": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/services/checkout/partitions", map[string]any{"partitionIds": []string{"p0", "p1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got metadatastore.ServiceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.PartitionIDs) != 2 {
		t.Fatalf("expected 2 partitions, got %v", got.PartitionIDs)
	}
	if got.ThroughputBytes != 1000 {
		t.Fatalf("expected throughput to be kept unchanged when omitted, got %d", got.ThroughputBytes)
	}
}

func TestUpdatePartitionAssignmentReplacesThroughputWhenGiven(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{Name: "checkout", ThroughputBytes: 1000})

	rec := doJSON(t, h, http.MethodPost, "/services/checkout/partitions", map[string]any{
		"throughputBytes": 2000,
		"partitionIds":    []string{"p0"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got metadatastore.ServiceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ThroughputBytes != 2000 {
		t.Fatalf("expected throughput to be replaced, got %d", got.ThroughputBytes)
	}
}

func TestUpdateServiceOnlyChangesOwner(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{
		Name:            "checkout",
		Owner:           "team-payments",
		ThroughputBytes: 1000,
		PartitionIDs:    []string{"p0"},
	})

	rec := doJSON(t, h, http.MethodPut, "/services/checkout", map[string]any{"owner": "team-orders"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got metadatastore.ServiceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Owner != "team-orders" {
		t.Fatalf("expected owner to be updated, got %q", got.Owner)
	}
	if got.ThroughputBytes != 1000 || len(got.PartitionIDs) != 1 {
		t.Fatalf("expected throughput and partitions to be untouched, got %+v", got)
	}
}

func TestUpdateServiceMissingReturns404(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPut, "/services/nope", map[string]any{"owner": "team-orders"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListServicesReturnsCached(t *testing.T) {
	h := newTestHandler(t)
	doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{Name: "checkout"})
	doJSON(t, h, http.MethodPost, "/services", metadatastore.ServiceMetadata{Name: "billing"})

	var list []metadatastore.ServiceMetadata
	for range 20 {
		rec := doJSON(t, h, http.MethodGet, "/services", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(list) == 2 {
			return
		}
	}
	t.Fatalf("expected 2 cached services, got %v", list)
}
