package recon

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"rafflenet/native/ticket"
	"rafflenet/storage"
)

// Summary describes one written ledger snapshot.
type Summary struct {
	Directory         string    `json:"directory"`
	PrizeRows         int       `json:"prize_rows"`
	ParticipationRows int       `json:"participation_rows"`
	LockedTotal       string    `json:"locked_total"`
	RaisedTotal       string    `json:"raised_total"`
	WinnerGaps        int       `json:"winner_gaps"`
	CreatedAt         time.Time `json:"created_at"`
}

// Reconciler materialises point-in-time exports joining prize custody and
// ticket sales so operators can cross-check the two controller sides offline.
type Reconciler struct {
	prizes  *storage.PrizeLedger
	tickets *storage.TicketLedger
	outDir  string
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a reconciler writing snapshots under outDir.
func New(prizes *storage.PrizeLedger, tickets *storage.TicketLedger, outDir string, logger *slog.Logger) (*Reconciler, error) {
	if prizes == nil || tickets == nil {
		return nil, errors.New("recon: both ledgers required")
	}
	if strings.TrimSpace(outDir) == "" {
		return nil, errors.New("recon: output directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		prizes:  prizes,
		tickets: tickets,
		outDir:  outDir,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetNowFunc pins the snapshot clock. Intended for tests.
func (r *Reconciler) SetNowFunc(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Snapshot writes CSV and Parquet exports of both ledgers into a fresh
// timestamped directory and reports totals plus any raffles whose propagated
// winner never reached the prize side.
func (r *Reconciler) Snapshot(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	now := r.now().UTC()
	dir := filepath.Join(r.outDir, now.Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("recon: ensure output dir: %w", err)
	}

	prizeCSV, prizeRows, lockedTotal, err := r.prizes.ExportCSV()
	if err != nil {
		return Summary{}, fmt.Errorf("recon: export prizes: %w", err)
	}
	if err := writeEncodedCSV(filepath.Join(dir, "prizes.csv"), prizeCSV); err != nil {
		return Summary{}, err
	}
	participationCSV, participationRows, raisedTotal, err := r.tickets.ExportParticipationsCSV()
	if err != nil {
		return Summary{}, fmt.Errorf("recon: export participations: %w", err)
	}
	if err := writeEncodedCSV(filepath.Join(dir, "participations.csv"), participationCSV); err != nil {
		return Summary{}, err
	}

	if err := r.writePrizeParquet(filepath.Join(dir, "prizes.parquet")); err != nil {
		return Summary{}, err
	}
	if err := r.writeParticipationParquet(filepath.Join(dir, "participations.parquet")); err != nil {
		return Summary{}, err
	}

	gaps, err := r.winnerGaps()
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Directory:         dir,
		PrizeRows:         prizeRows,
		ParticipationRows: participationRows,
		LockedTotal:       lockedTotal.String(),
		RaisedTotal:       raisedTotal.String(),
		WinnerGaps:        gaps,
		CreatedAt:         now,
	}
	r.logger.Info("ledger snapshot written",
		"directory", dir,
		"prize_rows", prizeRows,
		"participation_rows", participationRows,
		"winner_gaps", gaps,
	)
	return summary, nil
}

// Run drives periodic snapshots until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Snapshot(ctx); err != nil {
				r.logger.Error("ledger snapshot failed", "error", err)
			}
		}
	}
}

// winnerGaps counts propagated raffles whose winner is missing on the prize
// side. A non-zero count means a winner notification was lost in transit.
func (r *Reconciler) winnerGaps() (int, error) {
	raffles, err := r.tickets.Raffles()
	if err != nil {
		return 0, fmt.Errorf("recon: load raffles: %w", err)
	}
	gaps := 0
	for _, raffle := range raffles {
		if raffle.Status != ticket.StatusPropagated {
			continue
		}
		if _, ok := r.prizes.WinnerGet(raffle.ID); !ok {
			gaps++
			r.logger.Warn("propagated winner missing on prize side", "raffle_id", raffle.ID)
		}
	}
	return gaps, nil
}

func writeEncodedCSV(path, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("recon: decode csv: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("recon: write csv: %w", err)
	}
	return nil
}

type prizeRow struct {
	RaffleID   string `parquet:"name=raffle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Collection string `parquet:"name=collection, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenID    string `parquet:"name=token_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token      string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Claimed    bool   `parquet:"name=claimed, type=BOOLEAN"`
	LockedAt   int64  `parquet:"name=locked_at, type=INT64"`
	Winner     string `parquet:"name=winner, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (r *Reconciler) writePrizeParquet(path string) error {
	records, err := r.prizes.PrizeRecords()
	if err != nil {
		return fmt.Errorf("recon: load prize records: %w", err)
	}
	rows := make([]*prizeRow, 0, len(records))
	for _, record := range records {
		tokenID := ""
		if record.TokenID != nil {
			tokenID = record.TokenID.String()
		}
		amount := "0"
		if record.Amount != nil {
			amount = record.Amount.String()
		}
		winner := ""
		if w, ok := r.prizes.WinnerGet(record.RaffleID); ok {
			winner = hex.EncodeToString(w[:])
		}
		rows = append(rows, &prizeRow{
			RaffleID:   strconv.FormatUint(record.RaffleID, 10),
			Kind:       record.Kind.String(),
			Collection: hex.EncodeToString(record.Collection[:]),
			TokenID:    tokenID,
			Token:      hex.EncodeToString(record.Token[:]),
			Amount:     amount,
			Claimed:    record.Claimed,
			LockedAt:   record.LockedAt,
			Winner:     winner,
		})
	}
	return writeParquet(path, new(prizeRow), func(pw *writer.ParquetWriter) error {
		for _, row := range rows {
			if err := pw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

type participationRow struct {
	RaffleID  string `parquet:"name=raffle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Player    string `parquet:"name=player, type=BYTE_ARRAY, convertedtype=UTF8"`
	Spent     string `parquet:"name=spent, type=BYTE_ARRAY, convertedtype=UTF8"`
	Purchased int32  `parquet:"name=purchased, type=INT32"`
	Refunded  bool   `parquet:"name=refunded, type=BOOLEAN"`
	Status    string `parquet:"name=raffle_status, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (r *Reconciler) writeParticipationParquet(path string) error {
	raffles, err := r.tickets.Raffles()
	if err != nil {
		return fmt.Errorf("recon: load raffles: %w", err)
	}
	rows := make([]*participationRow, 0)
	for _, raffle := range raffles {
		players, err := r.tickets.Participants(raffle.ID)
		if err != nil {
			return fmt.Errorf("recon: load participants: %w", err)
		}
		for _, player := range players {
			part, ok := r.tickets.ParticipationGet(raffle.ID, player)
			if !ok {
				continue
			}
			rows = append(rows, &participationRow{
				RaffleID:  strconv.FormatUint(raffle.ID, 10),
				Player:    hex.EncodeToString(player[:]),
				Spent:     strconv.FormatUint(part.Spent, 10),
				Purchased: int32(part.Purchased),
				Refunded:  part.Refunded,
				Status:    raffle.Status.String(),
			})
		}
	}
	return writeParquet(path, new(participationRow), func(pw *writer.ParquetWriter) error {
		for _, row := range rows {
			if err := pw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeParquet(path string, schema interface{}, writeRows func(*writer.ParquetWriter) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	if err := writeRows(pw); err != nil {
		pw.WriteStop()
		file.Close()
		return fmt.Errorf("recon: parquet write: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
