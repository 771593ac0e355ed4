package checkout

// Package describes a purchasable credit bundle.
type Package struct {
	Name       string
	Credits    int64
	PriceCents int64
}

// Catalog maps package names to their bundles. Settlement re-derives the
// credit amount from here instead of trusting checkout metadata, so a
// tampered session cannot inflate a grant for a known package.
type Catalog map[string]Package

// DefaultCatalog returns the packages sold through checkout.
func DefaultCatalog() Catalog {
	return Catalog{
		"starter":   {Name: "starter", Credits: 10, PriceCents: 999},
		"standard":  {Name: "standard", Credits: 30, PriceCents: 2499},
		"intensive": {Name: "intensive", Credits: 60, PriceCents: 4499},
	}
}

// CreditsFor resolves the credit amount for a known package name.
func (catalog Catalog) CreditsFor(name string) (int64, bool) {
	bundle, ok := catalog[name]
	if !ok {
		return 0, false
	}
	return bundle.Credits, true
}
