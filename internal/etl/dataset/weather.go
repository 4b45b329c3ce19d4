package dataset

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/visualcrossing"
)

// weatherColumns is the canonical row shape of etl.weather_daily, in insert order.
var weatherColumns = []string{
	"weather_date",
	"tempmax",
	"tempmin",
	"temp",
	"precip",
	"humidity",
	"windspeed",
	"conditions",
	"is_rain",
}

// missingConditions marks calendar days the upstream had no observation for.
// The engine never leaves a gap: absent days still get a placeholder row.
const missingConditions = "missing_from_api"

// backfillChunkDays bounds the size of ranged timeline requests.
const backfillChunkDays = 15

// Weather syncs daily observations from the Visual Crossing timeline API.
type Weather struct {
	client *visualcrossing.Client
	epoch  time.Time
}

// NewWeather creates the weather dataset.
func NewWeather(client *visualcrossing.Client, epoch time.Time) *Weather {
	return &Weather{client: client, epoch: epoch}
}

func (d *Weather) Name() string       { return "weather" }
func (d *Weather) Table() string      { return "etl.weather_daily" }
func (d *Weather) DateColumn() string { return "weather_date" }
func (d *Weather) Epoch() time.Time   { return d.epoch }

// SyncDay fetches one day's observation and overwrites on conflict; upstream
// corrections are expected and desired, so weather is always fully replaced.
func (d *Weather) SyncDay(ctx context.Context, pool db.Pool, day time.Time) (int64, error) {
	obs, err := d.client.FetchDay(ctx, day)
	if err != nil {
		return 0, eris.Wrapf(err, "weather: fetch %s", day.Format("2006-01-02"))
	}

	row := normalizeWeatherDay(day, obs)

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        d.Table(),
		Columns:      weatherColumns,
		ConflictKeys: []string{"weather_date"},
		Policy:       db.ConflictOverwrite,
	}, [][]any{row})
	if err != nil {
		return 0, eris.Wrapf(err, "weather: write %s", day.Format("2006-01-02"))
	}
	return n, nil
}

// Backfill fetches the range in bounded chunks of ranged timeline requests,
// emitting a placeholder row for any day the upstream omits.
func (d *Weather) Backfill(ctx context.Context, pool db.Pool, start, end time.Time) (int64, error) {
	log := zap.L().With(zap.String("dataset", d.Name()))

	var total int64
	for cur := dateOnly(start); !cur.After(end); {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		chunkEnd := cur.AddDate(0, 0, backfillChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = dateOnly(end)
		}

		days, err := d.client.FetchRange(ctx, cur, chunkEnd)
		if err != nil {
			return total, eris.Wrapf(err, "weather: backfill %s to %s",
				cur.Format("2006-01-02"), chunkEnd.Format("2006-01-02"))
		}

		rows := normalizeWeatherRange(cur, chunkEnd, days)

		n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Table:        d.Table(),
			Columns:      weatherColumns,
			ConflictKeys: []string{"weather_date"},
			Policy:       db.ConflictOverwrite,
		}, rows)
		if err != nil {
			return total, eris.Wrapf(err, "weather: backfill write %s", cur.Format("2006-01-02"))
		}
		total += n

		log.Info("backfilled weather chunk",
			zap.String("from", cur.Format("2006-01-02")),
			zap.String("to", chunkEnd.Format("2006-01-02")),
			zap.Int64("rows", n),
		)

		cur = chunkEnd.AddDate(0, 0, 1)
	}

	return total, nil
}

// normalizeWeatherRange maps the upstream day list onto every calendar day of
// the chunk, filling placeholders for days the response omits.
func normalizeWeatherRange(start, end time.Time, days []visualcrossing.Day) [][]any {
	byDate := make(map[string]visualcrossing.Day, len(days))
	for _, day := range days {
		byDate[day.Datetime] = day
	}

	var rows [][]any
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		if day, ok := byDate[cur.Format("2006-01-02")]; ok {
			rows = append(rows, normalizeWeatherDay(cur, &day))
		} else {
			rows = append(rows, normalizeWeatherDay(cur, nil))
		}
	}
	return rows
}

// normalizeWeatherDay maps one daily observation to the canonical
// weather_daily row. A nil observation produces the placeholder row: all
// measurements null, sentinel conditions, is_rain false.
func normalizeWeatherDay(date time.Time, day *visualcrossing.Day) []any {
	if day == nil {
		return []any{dateOnly(date), nil, nil, nil, nil, nil, nil, missingConditions, int16(0)}
	}

	return []any{
		dateOnly(date),
		day.TempMax,
		day.TempMin,
		day.Temp,
		day.Precip,
		day.Humidity,
		day.WindSpeed,
		day.Conditions,
		isRain(day.Precip, day.Conditions),
	}
}

// isRain reports a rainy day when precipitation is positive or the free-text
// conditions mention rain.
func isRain(precip *float64, conditions string) int16 {
	if precip != nil && *precip > 0 {
		return 1
	}
	if strings.Contains(strings.ToLower(conditions), "rain") {
		return 1
	}
	return 0
}
