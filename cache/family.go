package cache

// Family is the entity kind an entry belongs to. The family decides key
// naming, stream naming and TTL policy.
type Family string

const (
	FamilyProduct Family = "product"
	FamilyPrice   Family = "price"
	FamilyStock   Family = "stock"
	FamilyHero    Family = "hero"
	FamilyBundle  Family = "bundle"
	FamilyHome    Family = "home"
	FamilyMessage Family = "message"
)

// Families lists every known family in a stable order.
var Families = []Family{
	FamilyProduct,
	FamilyPrice,
	FamilyStock,
	FamilyHero,
	FamilyBundle,
	FamilyHome,
	FamilyMessage,
}

// Valid reports whether f names a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyProduct, FamilyPrice, FamilyStock, FamilyHero, FamilyBundle, FamilyHome, FamilyMessage:
		return true
	}
	return false
}

// Singleton reports whether the family has exactly one global entity whose
// id is the family name itself.
func (f Family) Singleton() bool {
	switch f {
	case FamilyHero, FamilyBundle, FamilyHome:
		return true
	}
	return false
}

// HashKey is the field-map cache record key for an entity.
func HashKey(f Family, id string) string {
	return "hash:" + string(f) + ":" + id
}

// SimpleKey is the plain app-facing record key for an entity. Client and
// admin tooling depend on these names, so they are fixed: the stock family
// keeps its legacy "availability:" prefix.
func SimpleKey(f Family, id string) string {
	if f == FamilyStock {
		return "availability:" + id
	}
	return string(f) + ":" + id
}
