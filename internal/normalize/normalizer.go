// Package normalize coerces mapped sale records into typed canonical rows
// and cleans them: date-range filtering, hectare conversion, text casing,
// zoning code remapping and duplicate removal.
//
// No step fails a run. Unparseable values become null and out-of-range
// records are dropped and counted.
package normalize

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/record"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultEarliest is the default earliest contract date kept.
var DefaultEarliest = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// Options controls Clean.
type Options struct {
	// HectareMarker is the area_type value meaning the area is in hectares.
	HectareMarker string

	FilterFuture   bool
	FilterEarliest bool
	Earliest       time.Time

	Deduplicate bool

	RemapZoning bool
	ZoningRules []Rule

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions enables every step with the standard settings.
func DefaultOptions() Options {
	return Options{
		HectareMarker:  record.UnitHectares,
		FilterFuture:   true,
		FilterEarliest: true,
		Earliest:       DefaultEarliest,
		Deduplicate:    true,
		RemapZoning:    true,
		ZoningRules:    DefaultZoningRules(),
	}
}

// Stats counts the effect of each step.
type Stats struct {
	Input              int `json:"input"`
	BadDates           int `json:"bad_dates"`
	BadNumbers         int `json:"bad_numbers"`
	FutureDropped      int `json:"future_dropped"`
	PreBoundaryDropped int `json:"pre_boundary_dropped"`
	DuplicatesDropped  int `json:"duplicates_dropped"`
	HectaresConverted  int `json:"hectares_converted"`
	ZoningRemapped     int `json:"zoning_remapped"`
	Output             int `json:"output"`
}

// Normalizer turns Raw records into canonical rows.
type Normalizer struct {
	Options Options
	Logger  *slog.Logger
}

// New returns a Normalizer using opts.
func New(opts Options, logger *slog.Logger) *Normalizer {
	return &Normalizer{Options: opts, Logger: logger}
}

// Normalize coerces and cleans raws.
func (n *Normalizer) Normalize(raws []record.Raw) ([]record.Canonical, Stats) {
	rows, coerced := n.Coerce(raws)
	out, cleaned := n.Clean(rows)

	cleaned.Input = coerced.Input
	cleaned.BadDates = coerced.BadDates
	cleaned.BadNumbers = coerced.BadNumbers

	logging.OrDefault(n.Logger).Info("records normalized",
		"input", cleaned.Input,
		"output", cleaned.Output,
		"future_dropped", cleaned.FutureDropped,
		"pre_boundary_dropped", cleaned.PreBoundaryDropped,
		"duplicates_dropped", cleaned.DuplicatesDropped,
		"hectares_converted", cleaned.HectaresConverted,
	)
	return out, cleaned
}

// Coerce parses dates and numbers. Each attribute fails to null on its own,
// so a bad price never affects the area of the same record.
func (n *Normalizer) Coerce(raws []record.Raw) ([]record.Canonical, Stats) {
	stats := Stats{Input: len(raws)}
	rows := make([]record.Canonical, 0, len(raws))

	for _, r := range raws {
		c := record.Canonical{
			Schema:            r.Schema,
			DistrictCode:      r.DistrictCode,
			PropertyID:        r.PropertyID,
			SaleCounter:       r.SaleCounter,
			DownloadTimestamp: r.DownloadTimestamp,
			PropertyName:      r.PropertyName,
			UnitNumber:        r.UnitNumber,
			HouseNumber:       r.HouseNumber,
			StreetName:        r.StreetName,
			Locality:          r.Locality,
			AreaType:          r.AreaType,
			Zoning:            r.Zoning,
			NatureOfProperty:  r.NatureOfProperty,
			PrimaryPurpose:    r.PrimaryPurpose,
			StrataLotNumber:   r.StrataLotNumber,
			DealingNumber:     r.DealingNumber,
			LegalDescription:  r.LegalDescription,

			ContractDate:   ToDate(r.ContractDate),
			SettlementDate: ToDate(r.SettlementDate),
			PurchasePrice:  ToFloat8(r.PurchasePrice),
			Area:           ToFloat8(r.Area),
			Postcode:       ToFloat8(r.Postcode),
			AreaUnit:       r.AreaType.String,
		}

		if badText(r.ContractDate, c.ContractDate.Valid) {
			stats.BadDates++
		}
		if badText(r.SettlementDate, c.SettlementDate.Valid) {
			stats.BadDates++
		}
		for _, bad := range []bool{
			badText(r.PurchasePrice, c.PurchasePrice.Valid),
			badText(r.Area, c.Area.Valid),
			badText(r.Postcode, c.Postcode.Valid),
		} {
			if bad {
				stats.BadNumbers++
			}
		}

		rows = append(rows, c)
	}

	return rows, stats
}

// Clean filters and tidies typed rows. Running it twice is the same as
// running it once.
func (n *Normalizer) Clean(rows []record.Canonical) ([]record.Canonical, Stats) {
	opts := n.Options
	stats := Stats{Input: len(rows)}

	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	earliest := truncateDay(opts.Earliest)
	caser := cases.Title(language.English)

	var seen map[dedupKey]struct{}
	if opts.Deduplicate {
		seen = make(map[dedupKey]struct{}, len(rows))
	}

	out := make([]record.Canonical, 0, len(rows))
	for _, c := range rows {
		if opts.FilterFuture && c.ContractDate.Valid && truncateDay(c.ContractDate.Time).After(today) {
			stats.FutureDropped++
			continue
		}
		if opts.FilterEarliest && c.ContractDate.Valid && truncateDay(c.ContractDate.Time).Before(earliest) {
			stats.PreBoundaryDropped++
			continue
		}

		if opts.HectareMarker != "" && c.AreaUnit == opts.HectareMarker {
			if c.Area.Valid {
				c.Area.Float64 *= 10000
				stats.HectaresConverted++
			}
			c.AreaUnit = record.UnitSquareMetres
		}
		if c.Area.Valid {
			c.Area.Float64 = math.Round(c.Area.Float64*100) / 100
		}

		c.PropertyName = titleCase(caser, c.PropertyName)
		c.StreetName = titleCase(caser, c.StreetName)
		c.Locality = titleCase(caser, c.Locality)
		c.PrimaryPurpose = titleCase(caser, c.PrimaryPurpose)

		if opts.RemapZoning && remapZoning(&c, opts.ZoningRules) {
			stats.ZoningRemapped++
		}

		if seen != nil {
			k := keyOf(c)
			if _, dup := seen[k]; dup {
				stats.DuplicatesDropped++
				continue
			}
			seen[k] = struct{}{}
		}

		out = append(out, c)
	}

	stats.Output = len(out)
	return out, stats
}

// titleCase also capitalises the letter after an apostrophe, so O'CONNELL
// becomes O'Connell.
func titleCase(caser cases.Caser, t pgtype.Text) pgtype.Text {
	if !t.Valid {
		return t
	}
	parts := strings.Split(t.String, "'")
	for i, p := range parts {
		parts[i] = caser.String(p)
	}
	t.String = strings.Join(parts, "'")
	return t
}

// remapZoning applies the first matching rule. Rows without a contract date
// are left alone.
func remapZoning(c *record.Canonical, rules []Rule) bool {
	if !c.Zoning.Valid || !c.ContractDate.Valid {
		return false
	}
	for _, r := range rules {
		if c.Zoning.String == r.From && c.ContractDate.Time.Before(r.Before) {
			c.Zoning.String = r.To
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dedupKey is every exported attribute except download_timestamp.
type dedupKey struct {
	district, property, counter       pgtype.Text
	name, unit, house, street, suburb pgtype.Text
	postcode, area, price             pgtype.Float8
	areaType, zoning, nature, purpose pgtype.Text
	strata, dealing, legal            pgtype.Text
	contract, settlement              string
}

func keyOf(c record.Canonical) dedupKey {
	return dedupKey{
		district:   c.DistrictCode,
		property:   c.PropertyID,
		counter:    c.SaleCounter,
		name:       c.PropertyName,
		unit:       c.UnitNumber,
		house:      c.HouseNumber,
		street:     c.StreetName,
		suburb:     c.Locality,
		postcode:   c.Postcode,
		area:       c.Area,
		price:      c.PurchasePrice,
		areaType:   c.AreaType,
		zoning:     c.Zoning,
		nature:     c.NatureOfProperty,
		purpose:    c.PrimaryPurpose,
		strata:     c.StrataLotNumber,
		dealing:    c.DealingNumber,
		legal:      c.LegalDescription,
		contract:   dateKey(c.ContractDate),
		settlement: dateKey(c.SettlementDate),
	}
}

func dateKey(d pgtype.Date) string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(DateLayout)
}
