// export-stats writes the per-occurrence reservation statistics as a Shift_JIS CSV to a
// Cloud Storage bucket. It is meant to run from a scheduler once a week.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/config"
	"github.com/shinyyama/komemarche-backend/internal/db"
	"github.com/shinyyama/komemarche-backend/internal/report"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/service"
	"google.golang.org/api/option"
)

func main() {
	days := flag.Int("days", 7, "number of days ending today to export")
	out := flag.String("out", "", "write to this local file instead of the bucket")
	flag.Parse()

	if err := run(*days, *out); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

func run(days int, out string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	loc := clock.MustLocation(cfg.Reservation.Timezone)
	now := clock.New(loc).Now()
	to := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
	from := to.AddDate(0, 0, -days)

	stats := service.NewStatsService(repository.NewReservationRepository(gdb), loc)
	rows, err := stats.ByOccurrence(ctx, repository.StatsFilter{From: from, To: to})
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	var buf bytes.Buffer
	if err := report.WriteStatsCSV(&buf, rows, true); err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	name := report.StatsFilename(from, to)

	if out != "" {
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return err
		}
		log.Printf("wrote %s rows=%d", out, len(rows))
		return nil
	}
	if cfg.ExportBucket == "" {
		return fmt.Errorf("EXPORT_BUCKET is not set")
	}
	return upload(ctx, cfg.ExportBucket, "stats/"+name, buf.Bytes(), len(rows))
}

func upload(ctx context.Context, bucket, objectPath string, data []byte, rows int) error {
	var opts []option.ClientOption
	if cred := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); cred != "" {
		opts = append(opts, option.WithCredentialsFile(cred))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer client.Close()

	w := client.Bucket(bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "text/csv; charset=Shift_JIS"
	w.Metadata = map[string]string{"rows": fmt.Sprint(rows)}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	log.Printf("uploaded gs://%s/%s rows=%d", bucket, objectPath, rows)
	return nil
}
