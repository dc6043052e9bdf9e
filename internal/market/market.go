// Package market holds the registry of Amazon marketplaces the portal can
// export rankings for.
package market

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Market describes one marketplace the portal exports rankings for.
type Market struct {
	// Code is the two-letter code used on the CLI (US, CA, UK, ...).
	Code string `yaml:"code"`
	// MarketplaceID is the marketplaces-table UUID rows are keyed by.
	MarketplaceID string `yaml:"marketplace_id"`
	// PortalCode is the country code the portal download URL expects.
	PortalCode string `yaml:"portal_code"`
	// MinFileSize is the smallest plausible export in bytes. Anything
	// smaller is an HTML error page, not a workbook.
	MinFileSize int64 `yaml:"min_file_size"`
}

// defaults lists the supported marketplaces in processing order.
var defaults = []Market{
	{Code: "US", MarketplaceID: "f47ac10b-58cc-4372-a567-0e02b2c3d479", PortalCode: "US", MinFileSize: 500 * 1024},
	{Code: "CA", MarketplaceID: "a1b2c3d4-58cc-4372-a567-0e02b2c3d480", PortalCode: "CA", MinFileSize: 100 * 1024},
	{Code: "UK", MarketplaceID: "b2c3d4e5-58cc-4372-a567-0e02b2c3d481", PortalCode: "UK", MinFileSize: 100 * 1024},
	{Code: "DE", MarketplaceID: "c3d4e5f6-58cc-4372-a567-0e02b2c3d482", PortalCode: "DE", MinFileSize: 50 * 1024},
	{Code: "FR", MarketplaceID: "d4e5f6a7-58cc-4372-a567-0e02b2c3d483", PortalCode: "FR", MinFileSize: 20 * 1024},
	{Code: "AU", MarketplaceID: "f6a7b8c9-58cc-4372-a567-0e02b2c3d485", PortalCode: "AU", MinFileSize: 20 * 1024},
}

// Registry resolves market codes to Market definitions.
type Registry struct {
	markets []Market
	byCode  map[string]Market
}

func newRegistry(markets []Market) *Registry {
	r := &Registry{markets: markets, byCode: make(map[string]Market, len(markets))}
	for _, m := range markets {
		r.byCode[strings.ToUpper(m.Code)] = m
	}
	return r
}

// DefaultRegistry returns the built-in marketplace set.
func DefaultRegistry() *Registry {
	return newRegistry(defaults)
}

// LoadRegistry reads a marketplace list from a YAML file, replacing the
// built-in set. Used when marketplace UUIDs differ between environments.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "market: read registry %s", path)
	}

	var doc struct {
		Markets []Market `yaml:"markets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "market: parse registry %s", path)
	}
	if len(doc.Markets) == 0 {
		return nil, eris.Errorf("market: registry %s defines no markets", path)
	}

	for i, m := range doc.Markets {
		if m.Code == "" || m.MarketplaceID == "" {
			return nil, eris.Errorf("market: registry %s entry %d missing code or marketplace_id", path, i)
		}
		if doc.Markets[i].PortalCode == "" {
			doc.Markets[i].PortalCode = strings.ToUpper(m.Code)
		}
	}

	return newRegistry(doc.Markets), nil
}

// All returns every market in processing order.
func (r *Registry) All() []Market {
	return r.markets
}

// Get looks up a market by its code, case-insensitively.
func (r *Registry) Get(code string) (Market, bool) {
	m, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return m, ok
}

// Select resolves the requested codes, or all markets when codes is empty.
func (r *Registry) Select(codes []string) ([]Market, error) {
	if len(codes) == 0 {
		return r.All(), nil
	}

	selected := make([]Market, 0, len(codes))
	for _, code := range codes {
		m, ok := r.Get(code)
		if !ok {
			valid := make([]string, 0, len(r.markets))
			for _, vm := range r.markets {
				valid = append(valid, vm.Code)
			}
			return nil, eris.Errorf("market: unknown market %q (valid: %s)", code, strings.Join(valid, ", "))
		}
		selected = append(selected, m)
	}
	return selected, nil
}
