package pricing

import (
	"errors"
	"testing"

	"github.com/brightlane/portal/internal/app/ds"
)

func ptr(v int64) *int64 { return &v }

func TestQuote(t *testing.T) {
	web := ds.Service{ID: 1, Name: "Website", BasePrice: 200000}
	seo := ds.ServiceAddOn{ID: 10, ServiceID: 1, Name: "SEO", PricingType: ds.AddOnPricingFixed, Price: 15000}
	rush := ds.ServiceAddOn{ID: 11, ServiceID: 1, Name: "Rush", PricingType: ds.AddOnPricingPercentage, Percentage: 25}
	audit := ds.Service{ID: 2, Name: "Analytics audit", BasePrice: 50000}

	tests := []struct {
		name    string
		in      []Selection
		total   int64
		wantErr error
	}{
		{
			name:  "base price only",
			in:    []Selection{{Service: web}},
			total: 200000,
		},
		{
			name:  "fixed and percentage add-ons",
			in:    []Selection{{Service: web, AddOns: []ds.ServiceAddOn{seo, rush}}},
			total: 200000 + 15000 + 50000,
		},
		{
			name:  "percentage follows custom price",
			in:    []Selection{{Service: web, CustomPrice: ptr(100000), AddOns: []ds.ServiceAddOn{rush}}},
			total: 125000,
		},
		{
			name:  "duplicate add-on counted once",
			in:    []Selection{{Service: web, AddOns: []ds.ServiceAddOn{seo, seo}}},
			total: 215000,
		},
		{
			name:  "two services",
			in:    []Selection{{Service: web}, {Service: audit}},
			total: 250000,
		},
		{
			name:    "empty",
			in:      nil,
			wantErr: ErrEmptySelection,
		},
		{
			name:    "duplicate service",
			in:      []Selection{{Service: web}, {Service: web}},
			wantErr: ErrDuplicateService,
		},
		{
			name:    "negative custom price",
			in:      []Selection{{Service: web, CustomPrice: ptr(-1)}},
			wantErr: ErrNegativePrice,
		},
		{
			name:    "add-on from another service",
			in:      []Selection{{Service: audit, AddOns: []ds.ServiceAddOn{seo}}},
			wantErr: ErrForeignAddOn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Quote(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Total != tt.total {
				t.Fatalf("total = %d, want %d", got.Total, tt.total)
			}
		})
	}
}

func TestAddOnPriceRounding(t *testing.T) {
	addOn := ds.ServiceAddOn{PricingType: ds.AddOnPricingPercentage, Percentage: 12.5}
	got, err := AddOnPrice(addOn, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 124.875 -> 125
	if got != 125 {
		t.Fatalf("got %d, want 125", got)
	}
}

func TestQuoteLines(t *testing.T) {
	web := ds.Service{ID: 1, Name: "Website", BasePrice: 1000}
	seo := ds.ServiceAddOn{ID: 10, ServiceID: 1, Name: "SEO", Price: 300}

	got, err := Quote([]Selection{{Service: web, AddOns: []ds.ServiceAddOn{seo}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Lines) != 1 || len(got.Lines[0].AddOns) != 1 {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if got.Lines[0].Subtotal != 1300 {
		t.Fatalf("subtotal = %d, want 1300", got.Lines[0].Subtotal)
	}
}
