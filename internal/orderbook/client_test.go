package orderbook_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/evetabi/marketmaker/internal/orderbook"
	"github.com/shopspring/decimal"
)

func testRequest() engine.OrderRequest {
	return engine.OrderRequest{
		MarketRef: "AIX-USDT",
		Side:      domain.SideBuy,
		Price:     decimal.NewFromFloat(1.5),
		Amount:    decimal.NewFromInt(10),
	}
}

func newClient(url string) *orderbook.Client {
	return orderbook.NewClient(&config.OrderBookConfig{BaseURL: url})
}

func TestSubmitOrderFilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"fill_price":"1.49","fill_amount":"10","order_ref":"ob-42"}`))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).SubmitOrder(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.OrderRef != "ob-42" || !res.FillPrice.Equal(decimal.NewFromFloat(1.49)) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"rejection":"price out of band"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).SubmitOrder(context.Background(), testRequest())
	var rej *engine.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Reason != "price out of band" {
		t.Errorf("unexpected reason %q", rej.Reason)
	}
}

func TestSubmitOrderSoftRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rejection":"insufficient depth"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).SubmitOrder(context.Background(), testRequest())
	var rej *engine.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError on 200-with-rejection, got %v", err)
	}
}

func TestSubmitOrderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).SubmitOrder(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected an error")
	}
	var rej *engine.RejectionError
	if errors.As(err, &rej) {
		t.Fatal("a 5xx is a transport failure, not a rejection")
	}
}
