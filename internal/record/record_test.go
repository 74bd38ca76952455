package record

import (
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// currentFields returns a 25-field current-schema "B" line split on ';'.
func currentFields(district, property, counter string) []string {
	return []string{
		"B", district, property, counter, "20240101 01:02", "",
		"", "12", "SMITH ST", "NEWTOWN", "2042", "450", "M",
		"20230315", "20230401", "1250000", "R2", "R", "RESIDENCE", "",
		"", "", "", "AB123456", "",
	}
}

// archivedFields returns an 18-field archived-schema "B" line split on ';'.
func archivedFields(date string) []string {
	return []string{
		"B", "010", "V", "", "777", "", "3", "KING ST", "SYDNEY", "2000",
		date, "250000", "LOT 1 DP 1", "2.5", "H", "", "", "R2",
	}
}

func line(fields []string) string { return strings.Join(fields, ";") }

func newTestParser() *Parser { return &Parser{Logger: logging.Discard()} }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   SchemaKind
	}{
		{"numeric third field", currentFields("010", "12345", "1"), SchemaCurrent},
		{"alphabetic third field", archivedFields("15/03/1995"), SchemaArchived},
		{"mixed third field", []string{"B", "1", "A1"}, SchemaCurrent},
		{"empty third field", []string{"B", "1", ""}, SchemaCurrent},
		{"two fields", []string{"B", "ABC"}, SchemaCurrent},
		{"short but alphabetic", []string{"B", "1", "ABC"}, SchemaArchived},
		{"unicode letters", []string{"B", "1", "Ñandú"}, SchemaArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.fields))
			// Pure: a second call on the same input agrees.
			assert.Equal(t, Classify(tt.fields), Classify(append([]string(nil), tt.fields...)))
		})
	}
}

func TestCurrentSchema_Interpret(t *testing.T) {
	raw, ok := Interpret(currentFields("010", "12345", "1"))
	require.True(t, ok)

	assert.Equal(t, SchemaCurrent, raw.Schema)
	assert.Equal(t, "010", raw.DistrictCode.String)
	assert.Equal(t, "12345", raw.PropertyID.String)
	assert.Equal(t, "1", raw.SaleCounter.String)
	assert.Equal(t, "SMITH ST", raw.StreetName.String)
	assert.Equal(t, "20230315", raw.ContractDate.String)
	assert.Equal(t, "20230401", raw.SettlementDate.String)
	assert.Equal(t, "AB123456", raw.DealingNumber.String)
	assert.False(t, raw.PropertyName.Valid, "empty field should be null")
	assert.False(t, raw.LegalDescription.Valid)
}

func TestArchivedSchema_Interpret(t *testing.T) {
	raw, ok := Interpret(archivedFields("15/03/1995"))
	require.True(t, ok)

	assert.Equal(t, SchemaArchived, raw.Schema)
	assert.Equal(t, "010", raw.DistrictCode.String)
	assert.Equal(t, "777", raw.PropertyID.String)
	assert.Equal(t, "19950315", raw.ContractDate.String)
	assert.Equal(t, "LOT 1 DP 1", raw.LegalDescription.String)
	assert.Equal(t, "2.5", raw.Area.String)
	assert.Equal(t, "H", raw.AreaType.String)
	assert.Equal(t, "R2", raw.Zoning.String)

	for name, v := range map[string]bool{
		"sale_counter":       raw.SaleCounter.Valid,
		"download_timestamp": raw.DownloadTimestamp.Valid,
		"settlement_date":    raw.SettlementDate.Valid,
		"property_name":      raw.PropertyName.Valid,
		"nature_of_property": raw.NatureOfProperty.Valid,
		"primary_purpose":    raw.PrimaryPurpose.Valid,
		"strata_lot_number":  raw.StrataLotNumber.Valid,
		"dealing_number":     raw.DealingNumber.Valid,
	} {
		assert.False(t, v, "%s should be null in the archived schema", name)
	}
}

func TestArchivedSchema_DateReencoding(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"15/03/1995", "19950315"},
		{"5/3/1995", "19950305"},
		{"31/02/1995", "31/02/1995"},
		{"1995-03-15", "1995-03-15"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := reencodeArchivedDate(tt.in); got != tt.want {
			t.Errorf("reencodeArchivedDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterpret_ShortLines(t *testing.T) {
	_, ok := Interpret(currentFields("010", "1", "1")[:24])
	assert.False(t, ok, "24-field current line must be rejected")

	_, ok = Interpret(archivedFields("15/03/1995")[:17])
	assert.False(t, ok, "17-field archived line must be rejected")
}

func TestBuildIndex(t *testing.T) {
	lines := []string{
		"C;010;12345;1;x;LOT 5 DP 123456;",
		"C;010;12345;1;x;LOT 6 DP 123456;",
		"C;020;1;1;x; ;",
		"C;short;line",
		"B;010;12345;1",
	}

	ix, overwritten := BuildIndex(lines)

	assert.Equal(t, 1, overwritten)
	assert.Len(t, ix, 1)
	assert.Equal(t, "LOT 6 DP 123456", ix.Lookup(Key{"010", "12345", "1"}).String)
	assert.False(t, ix.Lookup(Key{"020", "1", "1"}).Valid, "empty description is not indexed")
}

func TestParse_LinksRegardlessOfOrder(t *testing.T) {
	b := line(currentFields("010", "12345", "1"))
	c := "C;010;12345;1;x;LOT 5 DP 123456;"

	for name, lines := range map[string][]string{
		"C before B": {c, b},
		"C after B":  {b, c},
	} {
		t.Run(name, func(t *testing.T) {
			records, stats, err := newTestParser().Parse(context.Background(), lines)
			require.NoError(t, err)
			require.Len(t, records, 1)

			assert.Equal(t, "LOT 5 DP 123456", records[0].LegalDescription.String)
			assert.Equal(t, 1, stats.Linked)
			assert.Equal(t, 0, stats.Unlinked)
		})
	}
}

func TestParse_UnmatchedKeyLeavesDescriptionNull(t *testing.T) {
	lines := []string{
		line(currentFields("010", "12345", "1")),
		"C;010;99999;1;x;LOT 5 DP 123456;",
	}

	records, stats, err := newTestParser().Parse(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.False(t, records[0].LegalDescription.Valid)
	assert.Equal(t, 1, stats.Unlinked)
}

func TestParse_EmptyDescriptionCountedNotIndexed(t *testing.T) {
	lines := []string{
		line(currentFields("010", "12345", "1")),
		"C;010;12345;1;x;LOT 5 DP 123456;",
		"C;010;12345;1;x;   ;",
	}

	records, stats, err := newTestParser().Parse(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "LOT 5 DP 123456", records[0].LegalDescription.String)
	assert.Equal(t, 1, stats.EmptySupplementary)
	assert.Zero(t, stats.DuplicateSupplementary)
}

func TestParse_Counts(t *testing.T) {
	lines := []string{
		"A;header;line",
		line(currentFields("010", "1", "1")),
		line(archivedFields("15/03/1995")),
		"B;1;2;3;4;5;6;7;8;9",
		"B;1;ABC;3;4;5;6;7;8;9",
		"C;010;1;1;x;DESC;",
		"C;010;1;1;x;DESC2;",
		"C;tiny",
		"Z;trailer",
		"",
	}

	records, stats, err := newTestParser().Parse(context.Background(), lines)
	require.NoError(t, err)

	assert.Len(t, records, 2)
	assert.Equal(t, Stats{
		Lines:                  10,
		BaseLines:              4,
		SupplementaryLines:     3,
		IgnoredLines:           3,
		ShortSupplementary:     1,
		DuplicateSupplementary: 1,
		Current:                1,
		Archived:               1,
		ShortCurrent:           1,
		ShortArchived:          1,
		Linked:                 1,
	}, stats)
	assert.Equal(t, 2, stats.Dropped())
	assert.Equal(t, 2, stats.Parsed())
}

func TestParse_TenFieldLineDropped(t *testing.T) {
	records, stats, err := newTestParser().Parse(context.Background(), []string{"B;1;2;3;4;5;6;7;8;9"})
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Dropped())
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, _, err := newTestParser().Parse(ctx, []string{line(currentFields("010", "1", "1"))})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, records)
}

func TestCanonicalValues_MatchColumns(t *testing.T) {
	assert.Len(t, Canonical{}.Values(), len(Columns))
}
