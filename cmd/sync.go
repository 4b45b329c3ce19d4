package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl/dataset"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/fetcher"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/arcgis"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/visualcrossing"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Dataset sync pipeline",
	Long:  "Incrementally syncs the violations and weather datasets into etl.* Postgres tables.",
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// storePool creates a pgxpool.Pool from cfg.Store.DatabaseURL.
func storePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		return nil, eris.New("sync: no database_url configured (set store.database_url or DCETL_STORE_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sync: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "sync: ping database")
	}

	return pool, nil
}

// buildEngine assembles the shared fetcher, the upstream clients, and the
// sync engine. The weather dataset is only registered when an API key is
// configured; requesting it anyway fails with an unknown-dataset error.
func buildEngine(pool *pgxpool.Pool) (*dataset.Engine, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetcher.UserAgent,
		MaxRetries: cfg.Fetcher.MaxRetries,
	})

	gis, err := arcgis.NewClient(f, arcgis.Options{
		ChunkSize:    cfg.ArcGIS.ChunkSize,
		DayTimeout:   time.Duration(cfg.ArcGIS.DayTimeoutSecs) * time.Second,
		MonthTimeout: time.Duration(cfg.ArcGIS.MonthTimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sync: build arcgis client")
	}

	violationsEpoch, err := cfg.Sync.ViolationsEpochDate()
	if err != nil {
		return nil, err
	}

	datasets := []dataset.Dataset{
		dataset.NewViolations(gis, violationsEpoch),
	}

	if cfg.Weather.APIKey != "" {
		vc, err := visualcrossing.NewClient(f, visualcrossing.Options{
			APIKey:    cfg.Weather.APIKey,
			Location:  cfg.Weather.Location,
			UnitGroup: cfg.Weather.UnitGroup,
			BaseURL:   cfg.Weather.BaseURL,
		})
		if err != nil {
			return nil, eris.Wrap(err, "sync: build weather client")
		}

		weatherEpoch, err := cfg.Sync.WeatherEpochDate()
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, dataset.NewWeather(vc, weatherEpoch))
	} else {
		zap.L().Warn("weather.api_key not configured, weather dataset disabled")
	}

	return dataset.NewEngine(pool, etl.NewSyncLog(pool), datasets), nil
}

// splitDatasets parses a comma-separated --datasets flag value.
func splitDatasets(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDay parses a YYYY-MM-DD flag value.
func parseDay(flag, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sync: parse --%s %q (want YYYY-MM-DD)", flag, value)
	}
	return t, nil
}

// printReport writes the per-dataset run outcome to stdout.
func printReport(report *dataset.RunReport) {
	fmt.Println(report.Message())
}
