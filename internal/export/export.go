// Package export converts the statistics table to and from the tracker
// workbook layout.
package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names of the tracker workbook.
const (
	PriceSheet = "Price_AB_Stats"
	OfferSheet = "Offer_Stats"
)

// ContentType is the xlsx media type.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var priceHeaders = []string{
	"segment", "platform", "weekday", "variant", "price", "month",
	"links_issued", "clicks", "unique_clickers", "click_rate",
	"conversions_total", "conv_rate_links", "click_cvr",
	"conv_purchase", "conv_coupon", "conv_revisit", "ev_links", "ev_clickers",
}

var offerHeaders = []string{
	"segment", "platform", "weekday", "season", "offer_code", "offer_days", "price", "month",
	"links_issued", "clicks", "unique_clickers", "click_rate",
	"conversions_total", "conv_rate_links", "click_cvr",
	"conv_purchase", "conv_coupon", "conv_revisit", "ev_links", "ev_clickers",
}

// ImportResult summarizes a workbook import.
type ImportResult struct {
	Runs    []*models.AggregationRun `json:"runs"`
	Skipped int                      `json:"skipped"`
}

// Service streams statistics out as xlsx and loads tracker workbooks in.
type Service struct {
	stats  storage.StatsRepo
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(stats storage.StatsRepo, clock func() time.Time, logger *zap.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{stats: stats, clock: clock, logger: logger}
}

// Export writes both sheets for month, or for every month when month is empty.
func (s *Service) Export(ctx context.Context, w io.Writer, month string) error {
	price, err := s.stats.Query(ctx, models.StatsFilter{Kind: models.StatsPrice, Month: month})
	if err != nil {
		return fmt.Errorf("failed to query price stats: %w", err)
	}
	offer, err := s.stats.Query(ctx, models.StatsFilter{Kind: models.StatsOffer, Month: month})
	if err != nil {
		return fmt.Errorf("failed to query offer stats: %w", err)
	}
	return WriteWorkbook(w, price, offer)
}

// Import loads a workbook and replaces every (kind, month) it contains.
// Rows without a segment, platform or valid month are skipped.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	price, offer, skipped, err := ReadWorkbook(r)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed workbook rows", zap.Int("skipped", skipped))
	}

	res := &ImportResult{Skipped: skipped}
	for _, group := range [][]*models.StatsCell{price, offer} {
		months, order := byMonth(group)
		for _, month := range order {
			cells := months[month]
			run := models.AggregationRun{
				Kind:       cells[0].Kind,
				Month:      month,
				Rows:       len(cells),
				ComputedAt: s.clock().Truncate(time.Microsecond),
			}
			storage.SortCells(cells)
			if err := s.stats.ReplaceMonth(ctx, run, cells); err != nil {
				return res, fmt.Errorf("failed to import %s stats for %s: %w", run.Kind, month, err)
			}
			res.Runs = append(res.Runs, &run)
		}
	}

	s.logger.Info("statistics workbook imported",
		zap.Int("price_rows", len(price)),
		zap.Int("offer_rows", len(offer)),
	)
	return res, nil
}

func byMonth(cells []*models.StatsCell) (map[string][]*models.StatsCell, []string) {
	out := make(map[string][]*models.StatsCell)
	var order []string
	for _, c := range cells {
		if _, ok := out[c.Month]; !ok {
			order = append(order, c.Month)
		}
		out[c.Month] = append(out[c.Month], c)
	}
	return out, order
}

// WriteWorkbook renders price and offer cells into an xlsx stream.
func WriteWorkbook(w io.Writer, price, offer []*models.StatsCell) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", PriceSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(OfferSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	priceRows := make([][]interface{}, 0, len(price))
	for _, c := range price {
		priceRows = append(priceRows, []interface{}{
			c.Segment, c.Platform, c.Weekday, c.Variant, c.Price, c.Month,
			c.LinksIssued, c.Clicks, c.UniqueClickers, c.ClickRate,
			c.ConversionsTotal, c.ConvRateLinks, c.ClickCVR,
			c.ConvPurchase, c.ConvCoupon, c.ConvRevisit, c.EVLinks, c.EVClickers,
		})
	}
	if err := writeSheet(f, PriceSheet, priceHeaders, priceRows, headerStyle); err != nil {
		return err
	}

	offerRows := make([][]interface{}, 0, len(offer))
	for _, c := range offer {
		offerRows = append(offerRows, []interface{}{
			c.Segment, c.Platform, c.Weekday, c.Season, c.OfferCode, c.OfferDays, c.Price, c.Month,
			c.LinksIssued, c.Clicks, c.UniqueClickers, c.ClickRate,
			c.ConversionsTotal, c.ConvRateLinks, c.ClickCVR,
			c.ConvPurchase, c.ConvCoupon, c.ConvRevisit, c.EVLinks, c.EVClickers,
		})
	}
	if err := writeSheet(f, OfferSheet, offerHeaders, offerRows, headerStyle); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, style int) error {
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 15)
}

// ReadWorkbook parses both sheets by header name, so column order and extra
// columns do not matter. A missing sheet yields no rows.
func ReadWorkbook(r io.Reader) (price, offer []*models.StatsCell, skipped int, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	price, n, err := readSheet(f, PriceSheet, models.StatsPrice)
	if err != nil {
		return nil, nil, 0, err
	}
	skipped += n
	offer, n, err = readSheet(f, OfferSheet, models.StatsOffer)
	if err != nil {
		return nil, nil, 0, err
	}
	skipped += n
	return price, offer, skipped, nil
}

func readSheet(f *excelize.File, sheet string, kind models.StatsKind) ([]*models.StatsCell, int, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, 0, nil
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			col[h] = i
		}
	}
	row := rowReader{col: col}

	var (
		cells   []*models.StatsCell
		skipped int
	)
	for _, r := range rows[1:] {
		row.values = r
		if row.empty() {
			continue
		}
		c := &models.StatsCell{
			Kind:     kind,
			Segment:  strings.ToLower(row.str("segment")),
			Platform: strings.ToLower(row.str("platform")),
			Weekday:  row.str("weekday"),
			Season:   strings.ToLower(row.str("season")),
			Price:    row.integer("price"),
			Month:    row.str("month"),

			LinksIssued:      row.integer("links_issued"),
			Clicks:           row.integer("clicks"),
			UniqueClickers:   row.integer("unique_clickers"),
			ClickRate:        row.decimal("click_rate"),
			ConversionsTotal: row.integer("conversions_total"),
			ConvRateLinks:    row.decimal("conv_rate_links"),
			ClickCVR:         row.decimal("click_cvr"),
			ConvPurchase:     row.integer("conv_purchase"),
			ConvCoupon:       row.integer("conv_coupon"),
			ConvRevisit:      row.integer("conv_revisit"),
			EVLinks:          row.decimal("ev_links"),
			EVClickers:       row.decimal("ev_clickers"),
		}
		if kind == models.StatsPrice {
			c.Season = ""
			c.Variant = strings.ToUpper(row.str("variant"))
			if c.Variant == "" {
				c.Variant = "A"
			}
		} else {
			c.OfferDays = int(row.integer("offer_days"))
			c.OfferCode = strings.ToUpper(row.str("offer_code"))
			if c.OfferCode == "" {
				switch c.OfferDays {
				case 7, 14, 21:
					c.OfferCode = "D" + strconv.Itoa(c.OfferDays)
				}
			}
		}

		if !validRow(c) {
			skipped++
			continue
		}
		cells = append(cells, c)
	}
	return cells, skipped, nil
}

func validRow(c *models.StatsCell) bool {
	if c.Segment == "" || c.Platform == "" || c.Weekday == "" || c.Arm() == "" {
		return false
	}
	_, err := time.Parse("2006-01", c.Month)
	return err == nil
}

type rowReader struct {
	col    map[string]int
	values []string
}

func (r rowReader) empty() bool {
	for _, v := range r.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (r rowReader) str(name string) string {
	i, ok := r.col[name]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func (r rowReader) decimal(name string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(r.str(name), ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

func (r rowReader) integer(name string) int64 {
	return int64(r.decimal(name))
}
