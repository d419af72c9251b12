package marketintel

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const (
	defaultYahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	defaultStooqBaseURL = "https://stooq.com/q/d/l/"
	stooqWindow         = 22
	anchorHits          = 5
)

var (
	marketKeywords = []string{
		"market", "compare", "pricing", "price", "competitor", "vs",
		"рынок", "сравни", "цена", "стоимост", "тариф", "конкурент",
	}
	priceAnchors   = []string{"price", "pricing", "цен", "стоим", "тариф"}
	pricePattern   = regexp.MustCompile(`\b\d{2,7}(?:[.,]\d{1,2})?\b`)
	errNoQuotes    = errors.New("not enough close prices")
	defaultTickers = []string{"CRWD", "PANW", "FTNT", "CHKP"}
)

type Config struct {
	Enabled      bool
	Timeout      time.Duration
	Tickers      []string
	YahooBaseURL string
	StooqBaseURL string
}

// Snapshot is a 30 day view of one public ticker.
type Snapshot struct {
	Ticker    string
	LastClose float64
	Return30d float64
	Currency  string
}

// Service builds a market comparison block for pricing and competitor
// questions. It never fails the request; feed errors degrade to an
// internal-only chart.
type Service struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

func New(cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if len(cfg.Tickers) == 0 {
		cfg.Tickers = defaultTickers
	}
	if cfg.YahooBaseURL == "" {
		cfg.YahooBaseURL = defaultYahooBaseURL
	}
	if cfg.StooqBaseURL == "" {
		cfg.StooqBaseURL = defaultStooqBaseURL
	}
	cfg.YahooBaseURL = strings.TrimRight(cfg.YahooBaseURL, "/")
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

func ShouldEnrich(question string) bool {
	q := strings.ToLower(question)
	for _, keyword := range marketKeywords {
		if strings.Contains(q, keyword) {
			return true
		}
	}
	return false
}

func (s *Service) BuildBlock(ctx context.Context, question string, hits []domain.Hit) string {
	if !s.cfg.Enabled || !ShouldEnrich(question) {
		return ""
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	snapshots := s.fetchSnapshots(fetchCtx)
	internalPrice, hasPrice := InternalPrice(hits)

	lines := []string{"Market comparison (auto):"}
	if hasPrice {
		lines = append(lines, fmt.Sprintf("- By your documents: indicative internal price/value is about %.2f.", internalPrice))
	} else {
		lines = append(lines, "- By your documents: no explicit numeric price anchor found.")
	}

	var chart string
	if len(snapshots) > 0 {
		var sumClose, sumReturn float64
		for _, snapshot := range snapshots {
			sumClose += snapshot.LastClose
			sumReturn += snapshot.Return30d
		}
		n := float64(len(snapshots))
		lines = append(lines, fmt.Sprintf(
			"- Market benchmark (public analogs): avg close price %.2f, avg 30d return %+.2f%%.",
			sumClose/n, sumReturn/n,
		))
		chart = returnsChart(snapshots)
	} else {
		lines = append(lines, "- Market benchmark data is temporarily unavailable, showing internal-only fallback view.")
		chart = fallbackChart(internalPrice)
	}

	lines = append(lines,
		"",
		"```mermaid",
		chart,
		"```",
		"",
		fmt.Sprintf("_Market data source: Yahoo Finance / Stooq, updated %s_", s.now().UTC().Format("2006-01-02 15:04 UTC")),
	)
	return strings.Join(lines, "\n")
}

// fetchSnapshots keeps ticker order; failed tickers are skipped.
func (s *Service) fetchSnapshots(ctx context.Context) []Snapshot {
	results := make([]*Snapshot, len(s.cfg.Tickers))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, ticker := range s.cfg.Tickers {
		group.Go(func() error {
			snapshot, err := s.fetchOne(groupCtx, ticker)
			if err != nil {
				slog.Warn("market_intel_fetch_failed", "ticker", ticker, "error", err)
				return nil
			}
			results[i] = snapshot
			return nil
		})
	}
	_ = group.Wait()

	out := make([]Snapshot, 0, len(results))
	for _, snapshot := range results {
		if snapshot != nil {
			out = append(out, *snapshot)
		}
	}
	return out
}

func (s *Service) fetchOne(ctx context.Context, ticker string) (*Snapshot, error) {
	snapshot, err := s.fetchYahoo(ctx, ticker)
	if err == nil {
		return snapshot, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	fallback, stooqErr := s.fetchStooq(ctx, ticker)
	if stooqErr != nil {
		return nil, errors.Join(err, stooqErr)
	}
	return fallback, nil
}

func (s *Service) fetchYahoo(ctx context.Context, ticker string) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/%s?range=1mo&interval=1d", s.cfg.YahooBaseURL, url.PathEscape(ticker))
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart: %w", err)
	}
	defer body.Close()

	var payload struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Currency string `json:"currency"`
				} `json:"meta"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode yahoo chart: %w", err)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errNoQuotes
	}

	result := payload.Chart.Result[0]
	closes := make([]float64, 0, len(result.Indicators.Quote[0].Close))
	for _, v := range result.Indicators.Quote[0].Close {
		if v != nil {
			closes = append(closes, *v)
		}
	}
	if len(closes) < 2 {
		return nil, errNoQuotes
	}
	currency := result.Meta.Currency
	if currency == "" {
		currency = "USD"
	}
	return newSnapshot(ticker, closes, currency), nil
}

func (s *Service) fetchStooq(ctx context.Context, ticker string) (*Snapshot, error) {
	query := url.Values{"s": {strings.ToLower(ticker) + ".us"}, "i": {"d"}}
	body, err := s.get(ctx, s.cfg.StooqBaseURL+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("stooq csv: %w", err)
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode stooq csv: %w", err)
	}
	if len(rows) < 3 {
		return nil, errNoQuotes
	}

	closes := make([]float64, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 5 {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			continue
		}
		closes = append(closes, value)
	}
	if len(closes) < 3 {
		return nil, errNoQuotes
	}
	if len(closes) > stooqWindow {
		closes = closes[len(closes)-stooqWindow:]
	}
	return newSnapshot(ticker, closes, "USD"), nil
}

func (s *Service) get(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "sales-tech-rag/1.0")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func newSnapshot(ticker string, closes []float64, currency string) *Snapshot {
	first, last := closes[0], closes[len(closes)-1]
	ret := 0.0
	if first != 0 {
		ret = (last - first) / first * 100
	}
	return &Snapshot{Ticker: ticker, LastClose: last, Return30d: ret, Currency: currency}
}

// InternalPrice returns the first plausible price found in the top hits that
// mention pricing.
func InternalPrice(hits []domain.Hit) (float64, bool) {
	for i, hit := range hits {
		if i >= anchorHits {
			break
		}
		text := strings.ToLower(hit.Text)
		if !containsAny(text, priceAnchors) {
			continue
		}
		for _, raw := range pricePattern.FindAllString(text, -1) {
			value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
			if err != nil {
				continue
			}
			if value >= 10 && value <= 1_000_000 {
				return value, true
			}
		}
	}
	return 0, false
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

func returnsChart(snapshots []Snapshot) string {
	labels := make([]string, len(snapshots))
	values := make([]string, len(snapshots))
	lo, hi := snapshots[0].Return30d, snapshots[0].Return30d
	for i, snapshot := range snapshots {
		labels[i] = strconv.Quote(snapshot.Ticker)
		values[i] = fmt.Sprintf("%.2f", snapshot.Return30d)
		lo = min(lo, snapshot.Return30d)
		hi = max(hi, snapshot.Return30d)
	}
	yMin := int(min(-25, lo-5))
	yMax := int(max(25, hi+5))
	return fmt.Sprintf(
		"xychart-beta\n    title \"Market Return 30d (%%)\"\n    x-axis [%s]\n    y-axis \"Return %%\" %d --> %d\n    bar [%s]",
		strings.Join(labels, ", "), yMin, yMax, strings.Join(values, ", "),
	)
}

func fallbackChart(internalPrice float64) string {
	return fmt.Sprintf(
		"xychart-beta\n    title \"Internal Benchmark\"\n    x-axis [\"Internal\"]\n    y-axis \"Value\" 0 --> 1000000\n    bar [%.2f]",
		internalPrice,
	)
}
