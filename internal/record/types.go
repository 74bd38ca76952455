// Package record turns raw archive lines into sale records.
//
// Source lines are tagged: "B" lines carry a sale, "C" lines carry the
// legal description of a sale in the current schema. Parsing is two-pass so
// that a "C" line may appear anywhere relative to its "B" line, even in a
// different archive.
package record

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Key identifies a sale across "B" and "C" lines.
type Key struct {
	District    string
	PropertyID  string
	SaleCounter string
}

// SchemaKind names the positional layout a "B" line follows.
type SchemaKind int

const (
	SchemaCurrent SchemaKind = iota
	SchemaArchived
)

func (k SchemaKind) String() string {
	switch k {
	case SchemaCurrent:
		return "current"
	case SchemaArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Raw is a mapped sale before type coercion. Every attribute is text;
// Valid=false marks an attribute the source schema does not carry.
type Raw struct {
	Schema SchemaKind

	DistrictCode      pgtype.Text
	PropertyID        pgtype.Text
	SaleCounter       pgtype.Text
	DownloadTimestamp pgtype.Text
	PropertyName      pgtype.Text
	UnitNumber        pgtype.Text
	HouseNumber       pgtype.Text
	StreetName        pgtype.Text
	Locality          pgtype.Text
	Postcode          pgtype.Text
	Area              pgtype.Text
	AreaType          pgtype.Text
	ContractDate      pgtype.Text
	SettlementDate    pgtype.Text
	PurchasePrice     pgtype.Text
	Zoning            pgtype.Text
	NatureOfProperty  pgtype.Text
	PrimaryPurpose    pgtype.Text
	StrataLotNumber   pgtype.Text
	DealingNumber     pgtype.Text
	LegalDescription  pgtype.Text
}

// Key returns the linkage key of r.
func (r Raw) Key() Key {
	return Key{
		District:    r.DistrictCode.String,
		PropertyID:  r.PropertyID.String,
		SaleCounter: r.SaleCounter.String,
	}
}

// Area units.
const (
	UnitSquareMetres = "M"
	UnitHectares     = "H"
)

// Canonical is one output row.
type Canonical struct {
	Schema SchemaKind

	DistrictCode      pgtype.Text
	PropertyID        pgtype.Text
	SaleCounter       pgtype.Text
	DownloadTimestamp pgtype.Text
	PropertyName      pgtype.Text
	UnitNumber        pgtype.Text
	HouseNumber       pgtype.Text
	StreetName        pgtype.Text
	Locality          pgtype.Text
	Postcode          pgtype.Float8
	Area              pgtype.Float8
	AreaType          pgtype.Text
	ContractDate      pgtype.Date
	SettlementDate    pgtype.Date
	PurchasePrice     pgtype.Float8
	Zoning            pgtype.Text
	NatureOfProperty  pgtype.Text
	PrimaryPurpose    pgtype.Text
	StrataLotNumber   pgtype.Text
	DealingNumber     pgtype.Text
	LegalDescription  pgtype.Text

	// AreaUnit is the unit Area is currently expressed in. It starts as the
	// source area type and becomes UnitSquareMetres once converted, so
	// conversion is applied at most once. Not exported as a column.
	AreaUnit string
}

// Columns is the export column order shared by every sink.
var Columns = []string{
	"district_code",
	"property_id",
	"sale_counter",
	"download_timestamp",
	"property_name",
	"unit_number",
	"house_number",
	"street_name",
	"locality",
	"postcode",
	"area",
	"area_type",
	"contract_date",
	"settlement_date",
	"purchase_price",
	"zoning",
	"nature_of_property",
	"primary_purpose",
	"strata_lot_number",
	"dealing_number",
	"legal_description",
}

// Values returns the row's attributes in Columns order. Every value is a
// pgtype value, so the slice can be handed to database/sql or pgx directly.
func (c Canonical) Values() []any {
	return []any{
		c.DistrictCode,
		c.PropertyID,
		c.SaleCounter,
		c.DownloadTimestamp,
		c.PropertyName,
		c.UnitNumber,
		c.HouseNumber,
		c.StreetName,
		c.Locality,
		c.Postcode,
		c.Area,
		c.AreaType,
		c.ContractDate,
		c.SettlementDate,
		c.PurchasePrice,
		c.Zoning,
		c.NatureOfProperty,
		c.PrimaryPurpose,
		c.StrataLotNumber,
		c.DealingNumber,
		c.LegalDescription,
	}
}

// text wraps an already trimmed field; empty means null.
func text(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
