package record

import (
	"time"
	"unicode"
)

// Minimum field counts per schema. Shorter "B" lines are dropped.
const (
	CurrentMinFields  = 25
	ArchivedMinFields = 18
)

// Date encodings on the wire.
const (
	canonicalDateLayout = "20060102"
	archivedDateLayout  = "2/1/2006"
)

// Schema maps the fields of a "B" line onto a Raw record.
type Schema interface {
	Kind() SchemaKind
	MinFields() int
	// Interpret maps fields. It returns false when fields is shorter than
	// MinFields.
	Interpret(fields []string) (Raw, bool)
}

// Classify decides which schema a split "B" line follows. A line is archived
// when it has more than two fields and its third field is a non-empty run of
// letters; everything else is current.
//
// This is a heuristic over observed data. The source carries no version
// marker.
func Classify(fields []string) SchemaKind {
	if len(fields) <= 2 || fields[2] == "" {
		return SchemaCurrent
	}
	for _, r := range fields[2] {
		if !unicode.IsLetter(r) {
			return SchemaCurrent
		}
	}
	return SchemaArchived
}

// SchemaFor returns the mapper for kind.
func SchemaFor(kind SchemaKind) Schema {
	if kind == SchemaArchived {
		return ArchivedSchema{}
	}
	return CurrentSchema{}
}

// Interpret classifies fields and maps them with the matching schema.
func Interpret(fields []string) (Raw, bool) {
	return SchemaFor(Classify(fields)).Interpret(fields)
}

// CurrentSchema is the newer layout: numeric identifiers, YYYYMMDD dates and
// legal descriptions carried on separate "C" lines.
type CurrentSchema struct{}

func (CurrentSchema) Kind() SchemaKind { return SchemaCurrent }
func (CurrentSchema) MinFields() int   { return CurrentMinFields }

// Interpret maps fields by position. LegalDescription is left null; the
// parser fills it from the supplementary index. Fields 20-22 (component
// code, sale code, interest of sale) are not part of the output.
func (s CurrentSchema) Interpret(f []string) (Raw, bool) {
	if len(f) < s.MinFields() {
		return Raw{}, false
	}
	return Raw{
		Schema:            SchemaCurrent,
		DistrictCode:      text(f[1]),
		PropertyID:        text(f[2]),
		SaleCounter:       text(f[3]),
		DownloadTimestamp: text(f[4]),
		PropertyName:      text(f[5]),
		UnitNumber:        text(f[6]),
		HouseNumber:       text(f[7]),
		StreetName:        text(f[8]),
		Locality:          text(f[9]),
		Postcode:          text(f[10]),
		Area:              text(f[11]),
		AreaType:          text(f[12]),
		ContractDate:      text(f[13]),
		SettlementDate:    text(f[14]),
		PurchasePrice:     text(f[15]),
		Zoning:            text(f[16]),
		NatureOfProperty:  text(f[17]),
		PrimaryPurpose:    text(f[18]),
		StrataLotNumber:   text(f[19]),
		DealingNumber:     text(f[23]),
	}, true
}

// ArchivedSchema is the older layout: an alphabetic source marker in field
// 2, DD/MM/YYYY contract dates and an inline legal description.
type ArchivedSchema struct{}

func (ArchivedSchema) Kind() SchemaKind { return SchemaArchived }
func (ArchivedSchema) MinFields() int   { return ArchivedMinFields }

// Interpret maps the archived positions. Attributes the layout does not
// carry stay null.
func (s ArchivedSchema) Interpret(f []string) (Raw, bool) {
	if len(f) < s.MinFields() {
		return Raw{}, false
	}
	return Raw{
		Schema:           SchemaArchived,
		DistrictCode:     text(f[1]),
		PropertyID:       text(f[4]),
		UnitNumber:       text(f[5]),
		HouseNumber:      text(f[6]),
		StreetName:       text(f[7]),
		Locality:         text(f[8]),
		Postcode:         text(f[9]),
		ContractDate:     text(reencodeArchivedDate(f[10])),
		PurchasePrice:    text(f[11]),
		LegalDescription: text(f[12]),
		Area:             text(f[13]),
		AreaType:         text(f[14]),
		Zoning:           text(f[17]),
	}, true
}

// reencodeArchivedDate turns DD/MM/YYYY into YYYYMMDD. Values that do not
// parse pass through unchanged and are nulled later by date coercion.
func reencodeArchivedDate(s string) string {
	t, err := time.Parse(archivedDateLayout, s)
	if err != nil {
		return s
	}
	return t.Format(canonicalDateLayout)
}
