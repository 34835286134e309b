package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"peerlend/core/state"
	"peerlend/crypto"
	"peerlend/native/lending"
	"peerlend/storage"
)

type loanRow struct {
	ID              int64  `parquet:"name=id, type=INT64" json:"id"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8" json:"status"`
	PoolID          string `parquet:"name=pool_id, type=BYTE_ARRAY, convertedtype=UTF8" json:"poolId"`
	Lender          string `parquet:"name=lender, type=BYTE_ARRAY, convertedtype=UTF8" json:"lender"`
	Borrower        string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8" json:"borrower"`
	LoanToken       string `parquet:"name=loan_token, type=BYTE_ARRAY, convertedtype=UTF8" json:"loanToken"`
	CollateralToken string `parquet:"name=collateral_token, type=BYTE_ARRAY, convertedtype=UTF8" json:"collateralToken"`
	Debt            string `parquet:"name=debt, type=BYTE_ARRAY, convertedtype=UTF8" json:"debt"`
	Collateral      string `parquet:"name=collateral, type=BYTE_ARRAY, convertedtype=UTF8" json:"collateral"`
	InterestRate    int64  `parquet:"name=interest_rate, type=INT64" json:"interestRate"`
	StartTimestamp  int64  `parquet:"name=start_timestamp, type=INT64" json:"startTimestamp"`
	AuctionActive   bool   `parquet:"name=auction_active, type=BOOLEAN" json:"auctionActive"`
	AuctionStarted  int64  `parquet:"name=auction_started, type=INT64" json:"auctionStarted"`
	AuctionLength   int64  `parquet:"name=auction_length, type=INT64" json:"auctionLength"`
}

type poolRow struct {
	ID               string `json:"id"`
	Lender           string `json:"lender"`
	LoanToken        string `json:"loanToken"`
	CollateralToken  string `json:"collateralToken"`
	MinLoanSize      string `json:"minLoanSize"`
	PoolBalance      string `json:"poolBalance"`
	MaxLoanRatio     string `json:"maxLoanRatio"`
	AuctionLength    uint64 `json:"auctionLength"`
	InterestRate     uint64 `json:"interestRate"`
	OutstandingLoans string `json:"outstandingLoans"`
}

type snapshot struct {
	Pools []poolRow `json:"pools"`
	Loans []loanRow `json:"loans"`
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	backend := fs.String("backend", storage.BackendLevelDB, "Storage backend (leveldb|bolt)")
	path := fs.String("db", "", "Path to the ledger database")
	format := fs.String("format", "parquet", "Output format (parquet|json)")
	output := fs.String("out", "", "Output file; json defaults to stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *backend == storage.BackendMemory || strings.TrimSpace(*backend) == "" {
		return fmt.Errorf("export needs a persistent backend")
	}
	if strings.TrimSpace(*path) == "" {
		return fmt.Errorf("--db is required")
	}
	db, err := storage.Open(*backend, *path)
	if err != nil {
		return err
	}
	defer db.Close()
	snap, err := readSnapshot(state.NewManager(db))
	if err != nil {
		return err
	}

	switch strings.ToLower(*format) {
	case "json":
		if *output == "" {
			return writeJSON(out, snap)
		}
		file, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer file.Close()
		return writeJSON(file, snap)
	case "parquet":
		if *output == "" {
			return fmt.Errorf("--out is required for parquet")
		}
		if err := writeParquet(*output, snap.Loans); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d loans to %s\n", len(snap.Loans), filepath.Clean(*output))
		return nil
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func readSnapshot(mgr *state.Manager) (*snapshot, error) {
	pools, err := mgr.Pools()
	if err != nil {
		return nil, err
	}
	count, err := mgr.LoanCount()
	if err != nil {
		return nil, err
	}
	snap := &snapshot{Pools: make([]poolRow, 0, len(pools)), Loans: make([]loanRow, 0, count)}
	for _, pool := range pools {
		snap.Pools = append(snap.Pools, poolRow{
			ID:               pool.ID().String(),
			Lender:           crypto.FormatAddress(pool.Lender),
			LoanToken:        crypto.FormatAddress(pool.LoanToken),
			CollateralToken:  crypto.FormatAddress(pool.CollateralToken),
			MinLoanSize:      pool.MinLoanSize.String(),
			PoolBalance:      pool.PoolBalance.String(),
			MaxLoanRatio:     pool.MaxLoanRatio.String(),
			AuctionLength:    pool.AuctionLength,
			InterestRate:     pool.InterestRate,
			OutstandingLoans: pool.OutstandingLoans.String(),
		})
	}
	for id := uint64(0); id < count; id++ {
		loan, ok, err := mgr.GetLoan(id)
		if err != nil {
			return nil, fmt.Errorf("loan %d: %w", id, err)
		}
		if !ok {
			continue
		}
		snap.Loans = append(snap.Loans, toLoanRow(id, loan))
	}
	return snap, nil
}

func toLoanRow(id uint64, loan *lending.Loan) loanRow {
	row := loanRow{
		ID:             int64(id),
		Status:         loan.Status.String(),
		Debt:           loan.Debt.String(),
		Collateral:     loan.Collateral.String(),
		InterestRate:   int64(loan.InterestRate),
		StartTimestamp: int64(loan.StartTimestamp),
		AuctionActive:  loan.Auction.Active,
		AuctionStarted: int64(loan.Auction.StartedAt),
		AuctionLength:  int64(loan.AuctionLength),
	}
	if loan.IsActive() {
		row.PoolID = loan.PoolID().String()
		row.Lender = crypto.FormatAddress(loan.Lender)
		row.Borrower = crypto.FormatAddress(loan.Borrower)
		row.LoanToken = crypto.FormatAddress(loan.LoanToken)
		row.CollateralToken = crypto.FormatAddress(loan.CollateralToken)
	}
	return row
}

func writeJSON(w io.Writer, snap *snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func writeParquet(path string, rows []loanRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	defer file.Close()
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(loanRow), 1)
	if err != nil {
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return fmt.Errorf("export: write row %d: %w", rows[i].ID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("export: finalize parquet: %w", err)
	}
	return nil
}
