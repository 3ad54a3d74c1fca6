package render

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/storebuilder/internal/catalog"
	"git.home.luguber.info/inful/storebuilder/internal/tenant"
)

func testSnapshot() *tenant.Snapshot {
	return &tenant.Snapshot{
		TenantID: "acme",
		Version:  "7",
		Name:     "Acme Parts",
		BaseURL:  "https://acme.example",
		Branding: tenant.Branding{
			PrimaryColor: "#123456", AccentColor: "#aa3300", TextColor: "#111111", BackgroundColor: "#ffffff",
			FontFamily: "Inter, sans-serif", LogoAsset: "logo", HeroAsset: "hero", Tagline: "Parts that fit",
		},
		Features:   tenant.Features{Search: true, Reviews: true, FAQ: true, Compatibility: true},
		Commerce:   tenant.Commerce{Currency: "USD", Locale: "en-US"},
		TemplateID: "classic",
		About:      "# Our story\n\nWe sell **parts**.",
		FAQ:        []tenant.FAQEntry{{Question: "Do you ship?", Answer: "Yes, *worldwide*."}},
	}
}

func testCatalog(n int) *catalog.Catalog {
	products := make([]catalog.Product, 0, n)
	for i := 0; i < n; i++ {
		products = append(products, catalog.Product{
			ID:            fmt.Sprintf("p%03d", i),
			Name:          fmt.Sprintf("Widget %d", i),
			Description:   fmt.Sprintf("A sturdy widget number %d for every bench.", i),
			Category:      []string{"tools", "spares"}[i%2],
			PriceMinor:    int64(1000 + i*250),
			ImageIDs:      []string{fmt.Sprintf("img-%d", i)},
			Compatibility: 0.5,
			Rating:        4.5,
			Reviews:       []catalog.Review{{Author: "Sam", Rating: 4.5, Body: "Good <b>fit</b>"}},
			InStock:       i%3 != 0,
		})
	}
	mem := catalog.NewMemoryProvider()
	mem.Put("acme", "v1", products)
	return mustFetch(mem)
}

func testInput(n int) *Input {
	return &Input{
		Snapshot:        testSnapshot(),
		Catalog:         testCatalog(n),
		Locale:          "en-US",
		Currency:        "USD",
		Now:             time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ProductsPerPage: 2,
	}
}

func mustFetch(p catalog.Provider) *catalog.Catalog {
	c, err := catalog.FetchAll(context.Background(), p, "acme", "v1", 100)
	if err != nil {
		panic(err)
	}
	return c
}
