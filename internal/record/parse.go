package record

import (
	"context"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/propertysales/internal/logging"
)

// ContextCheckInterval is how many lines are processed between checks for
// cancellation.
const ContextCheckInterval = 10000

// Stats counts what happened to each line of one parse.
type Stats struct {
	Lines                  int `json:"lines"`
	BaseLines              int `json:"base_lines"`
	SupplementaryLines     int `json:"supplementary_lines"`
	IgnoredLines           int `json:"ignored_lines"`
	ShortSupplementary     int `json:"short_supplementary"`
	DuplicateSupplementary int `json:"duplicate_supplementary"`
	EmptySupplementary     int `json:"empty_supplementary"`
	Current                int `json:"current"`
	Archived               int `json:"archived"`
	ShortCurrent           int `json:"short_current"`
	ShortArchived          int `json:"short_archived"`
	Linked                 int `json:"linked"`
	Unlinked               int `json:"unlinked"`
}

// Parsed is the number of records produced.
func (s Stats) Parsed() int { return s.Current + s.Archived }

// Dropped is the number of "B" lines rejected for being too short.
func (s Stats) Dropped() int { return s.ShortCurrent + s.ShortArchived }

// Parser links and maps the lines of one run.
type Parser struct {
	Logger *slog.Logger
}

// Parse runs both passes over lines. The only error is cancellation, in
// which case no records are returned.
func (p *Parser) Parse(ctx context.Context, lines []string) ([]Raw, Stats, error) {
	logger := logging.OrDefault(p.Logger)
	stats := Stats{Lines: len(lines)}

	// Pass one: supplementary index.
	ix := make(Index)
	for i, line := range lines {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Stats{}, err
			}
		}

		switch {
		case strings.HasPrefix(line, TagSupplementary):
			stats.SupplementaryLines++
			switch ix.add(line) {
			case addShort:
				stats.ShortSupplementary++
			case addOverwrote:
				stats.DuplicateSupplementary++
			case addEmpty:
				stats.EmptySupplementary++
			}
		case strings.HasPrefix(line, TagBase):
			stats.BaseLines++
		default:
			stats.IgnoredLines++
		}
	}

	logger.Debug("supplementary index built",
		"entries", len(ix),
		"overwritten", stats.DuplicateSupplementary,
		"empty", stats.EmptySupplementary,
	)

	// Pass two: base records.
	records := make([]Raw, 0, stats.BaseLines)
	for i, line := range lines {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Stats{}, err
			}
		}
		if !strings.HasPrefix(line, TagBase) {
			continue
		}

		fields := splitFields(line)
		schema := SchemaFor(Classify(fields))
		raw, ok := schema.Interpret(fields)
		if !ok {
			if schema.Kind() == SchemaArchived {
				stats.ShortArchived++
			} else {
				stats.ShortCurrent++
			}
			logger.Debug("dropping short base line",
				"schema", schema.Kind().String(),
				"fields", len(fields),
				"min_fields", schema.MinFields(),
			)
			continue
		}

		if raw.Schema == SchemaCurrent {
			stats.Current++
			raw.LegalDescription = ix.Lookup(raw.Key())
			if raw.LegalDescription.Valid {
				stats.Linked++
			} else {
				stats.Unlinked++
			}
		} else {
			stats.Archived++
		}

		records = append(records, raw)
	}

	logger.Info("lines parsed",
		"lines", stats.Lines,
		"records", stats.Parsed(),
		"current", stats.Current,
		"archived", stats.Archived,
		"dropped", stats.Dropped(),
		"linked", stats.Linked,
	)

	return records, stats, nil
}

// splitFields splits a line on ';' and trims every field.
func splitFields(line string) []string {
	fields := strings.Split(line, ";")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}
