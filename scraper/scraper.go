package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aluiziolira/planete-oui-connector/config"
	"github.com/aluiziolira/planete-oui-connector/models"
	"github.com/aluiziolira/planete-oui-connector/parser"
	"github.com/aluiziolira/planete-oui-connector/pipeline"
)

// Scraper drives one connector run: sign in, walk the accounts, normalize
// their bills and stream the records into a pipeline.
type Scraper struct {
	cfg       *config.Config
	session   *Session
	assembler *parser.Assembler
	Metrics   *Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	session, err := NewSession(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return &Scraper{
		cfg:       cfg,
		session:   session,
		assembler: parser.NewAssembler(cfg.BaseURL, cfg.MultiAccount()),
		Metrics:   metrics,
	}, nil
}

// Session exposes the underlying portal session.
func (s *Scraper) Session() *Session {
	return s.session
}

// Run performs the full scrape. Accounts are processed one at a time, their
// documents are saved into the account folder, and a failed fetch aborts the run.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.RunResult{
		StartTime: time.Now(),
		Dropped:   make(map[string]int),
	}
	defer func() {
		result.EndTime = time.Now()
		result.RequestCount = s.session.RequestCount()
		result.ErrorCount = s.session.ErrorCount()
		result.ErrorsByType = s.session.snapshotErrors()
	}()

	if err := s.session.Authenticate(ctx, s.cfg.Login, s.cfg.Password); err != nil {
		var authErr ErrAuthentication
		if errors.As(err, &authErr) {
			s.session.recordFailure(errorTypeLabel(authErr))
		}
		return result, fmt.Errorf("authenticate: %w", err)
	}
	slog.Info("signed in", slog.String("base_url", s.cfg.BaseURL))

	accounts, err := s.accounts(ctx)
	if err != nil {
		return result, err
	}

	if err := pipeline.EnsureFolder(s.cfg.FolderPath); err != nil {
		return result, err
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.scrapeAccount(ctx, account, p, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *Scraper) accounts(ctx context.Context) ([]*models.Account, error) {
	if !s.cfg.MultiAccount() {
		return []*models.Account{nil}, nil
	}

	accounts, err := s.session.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		slog.Warn("no sub-accounts listed, scraping the current account only")
		return []*models.Account{nil}, nil
	}
	slog.Info("accounts listed", slog.Int("count", len(accounts)))
	return accounts, nil
}

func (s *Scraper) scrapeAccount(ctx context.Context, account *models.Account, p *pipeline.Pipeline, result *models.RunResult) error {
	folder := pipeline.AccountFolder(s.cfg.FolderPath, account)
	if err := pipeline.EnsureFolder(folder); err != nil {
		return err
	}

	rows, err := s.session.FetchBills(ctx, account)
	if err != nil {
		return err
	}

	records, stats := s.assembler.Assemble(account, folder, rows)
	result.Accounts++
	result.RowsScraped += stats.Rows
	result.RecordsEmitted += stats.Emitted
	for reason, n := range stats.Dropped {
		result.Dropped[reason] += n
		s.Metrics.AddDropped(reason, n)
	}
	s.Metrics.IncAccounts()
	s.Metrics.AddRecords(stats.Emitted)

	downloaded, present, err := s.saveDocuments(ctx, records)
	result.Downloaded += downloaded
	result.AlreadyPresent += present
	if err != nil {
		return err
	}

	attrs := []any{
		slog.Int("rows", stats.Rows),
		slog.Int("records", stats.Emitted),
		slog.Int("downloaded", downloaded),
		slog.Int("already_present", present),
		slog.Int("invalid_amounts", stats.InvalidAmounts),
		slog.String("folder", folder),
	}
	if account != nil {
		attrs = append(attrs, slog.String("account", account.ID))
	}
	slog.Info("account scraped", attrs...)

	if len(records) == 0 {
		return nil
	}
	if err := p.Process(records...); err != nil {
		return fmt.Errorf("hand records to sink: %w", err)
	}
	return nil
}

// saveDocuments fetches each record's file into Folder/Filename, one at a
// time. Files already on disk are kept, so a re-scrape only fetches new bills.
func (s *Scraper) saveDocuments(ctx context.Context, records []*models.BillingRecord) (downloaded, present int, err error) {
	for _, r := range records {
		dest := filepath.Join(r.Folder, r.Filename)
		fetched, err := s.session.Download(ctx, r.FileURL, dest)
		if err != nil {
			return downloaded, present, fmt.Errorf("download %s: %w", r.Filename, err)
		}
		if fetched {
			downloaded++
			s.Metrics.IncDocument("downloaded")
			slog.Debug("document saved", slog.String("path", dest))
			continue
		}
		present++
		s.Metrics.IncDocument("present")
	}
	return downloaded, present, nil
}
