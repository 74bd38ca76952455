package record

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Line tags.
const (
	TagBase          = "B;"
	TagSupplementary = "C;"
)

// supplementaryMinFields is the shortest "C" line that carries a key and a
// description.
const supplementaryMinFields = 6

// Index maps a sale key to its legal description. It is built from every "C"
// line before any "B" line is resolved and is read-only afterwards.
type Index map[Key]string

// Lookup returns the description for k, null when absent.
func (ix Index) Lookup(k Key) pgtype.Text {
	desc, ok := ix[k]
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: desc, Valid: true}
}

// BuildIndex indexes every "C" line in lines. On key collision the later
// line wins; overwritten counts how often that happened.
func BuildIndex(lines []string) (ix Index, overwritten int) {
	ix = make(Index)
	for _, line := range lines {
		if !strings.HasPrefix(line, TagSupplementary) {
			continue
		}
		if ix.add(line) == addOverwrote {
			overwritten++
		}
	}
	return ix, overwritten
}

type addResult int

const (
	addInserted addResult = iota
	addOverwrote
	addShort
	addEmpty
)

// add indexes one "C" line.
func (ix Index) add(line string) addResult {
	fields := strings.Split(line, ";")
	if len(fields) < supplementaryMinFields {
		return addShort
	}

	desc := strings.TrimSpace(fields[5])
	if desc == "" {
		return addEmpty
	}

	k := Key{
		District:    strings.TrimSpace(fields[1]),
		PropertyID:  strings.TrimSpace(fields[2]),
		SaleCounter: strings.TrimSpace(fields[3]),
	}
	_, existed := ix[k]
	ix[k] = desc
	if existed {
		return addOverwrote
	}
	return addInserted
}
