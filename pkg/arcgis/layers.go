package arcgis

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnmappedPeriod reports a period key with no layer mapping. It indicates
// the static mapping table was not extended for a new month, so callers must
// treat it as a configuration failure rather than retry.
var ErrUnmappedPeriod = eris.New("arcgis: no layer mapping for period")

// LayerRange maps a contiguous run of calendar months to a MapServer service
// and a starting layer index. Consecutive months within the range occupy
// consecutive layer indexes, which is how the DC GIS yearly services are laid
// out.
type LayerRange struct {
	From       string // first period key, inclusive (e.g. "2024-09")
	To         string // last period key, inclusive
	ServiceURL string // MapServer base URL
	FirstLayer int    // layer index of the From month
}

// DefaultLayerRanges returns the known month-to-layer mapping for the DC
// moving violations services. Each calendar year is published as its own
// versioned MapServer.
func DefaultLayerRanges() []LayerRange {
	return []LayerRange{
		{
			From:       "2024-09",
			To:         "2024-12",
			ServiceURL: "https://maps2.dcgis.dc.gov/dcgis/rest/services/DCGIS_DATA/Violations_Moving_2024/MapServer",
			FirstLayer: 8,
		},
		{
			From:       "2025-01",
			To:         "2025-12",
			ServiceURL: "https://maps2.dcgis.dc.gov/dcgis/rest/services/DCGIS_DATA/Violations_Moving_2025/MapServer",
			FirstLayer: 0,
		},
	}
}

// Locator resolves period keys to MapServer layer addresses.
type Locator struct {
	ranges []LayerRange
}

// NewLocator validates the given ranges and returns a Locator. Validation
// fails fast on malformed period keys, inverted ranges, and overlaps so a bad
// mapping table is caught at startup instead of mid-run.
func NewLocator(ranges []LayerRange) (*Locator, error) {
	if len(ranges) == 0 {
		return nil, eris.New("arcgis: locator requires at least one layer range")
	}

	seen := make(map[int]string)
	for _, r := range ranges {
		from, err := monthIndex(r.From)
		if err != nil {
			return nil, eris.Wrapf(err, "arcgis: layer range %q-%q", r.From, r.To)
		}
		to, err := monthIndex(r.To)
		if err != nil {
			return nil, eris.Wrapf(err, "arcgis: layer range %q-%q", r.From, r.To)
		}
		if from > to {
			return nil, eris.Errorf("arcgis: layer range %q-%q is inverted", r.From, r.To)
		}
		if r.ServiceURL == "" {
			return nil, eris.Errorf("arcgis: layer range %q-%q has no service URL", r.From, r.To)
		}
		for m := from; m <= to; m++ {
			if prev, ok := seen[m]; ok {
				return nil, eris.Errorf("arcgis: layer ranges %q-%q and %s overlap", r.From, r.To, prev)
			}
			seen[m] = r.From + "-" + r.To
		}
	}

	return &Locator{ranges: ranges}, nil
}

// Resolve maps a period key (YYYY-MM) to its MapServer URL and layer index.
// Unknown periods return ErrUnmappedPeriod.
func (l *Locator) Resolve(periodKey string) (string, int, error) {
	key, err := monthIndex(periodKey)
	if err != nil {
		return "", 0, eris.Wrapf(err, "arcgis: resolve %q", periodKey)
	}

	for _, r := range l.ranges {
		from, _ := monthIndex(r.From)
		to, _ := monthIndex(r.To)
		if key >= from && key <= to {
			return r.ServiceURL, r.FirstLayer + (key - from), nil
		}
	}

	return "", 0, eris.Wrapf(ErrUnmappedPeriod, "period %s", periodKey)
}

// PeriodKey formats a date as its YYYY-MM period key.
func PeriodKey(d time.Time) string {
	return d.Format("2006-01")
}

// monthIndex converts a YYYY-MM period key into a comparable month ordinal.
func monthIndex(periodKey string) (int, error) {
	t, err := time.Parse("2006-01", periodKey)
	if err != nil {
		return 0, eris.Wrapf(err, "parse period key %q", periodKey)
	}
	return t.Year()*12 + int(t.Month()) - 1, nil
}
