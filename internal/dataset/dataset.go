package dataset

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
)

// RowError describes a row that was skipped or partially loaded
type RowError struct {
	Line int    // 1-based, the header is line 1
	ID   string
	Err  error
}

func (e RowError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.ID, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// StoreRow is the CSV layout of a store. Every field is text so one bad value
// never fails the whole file.
type StoreRow struct {
	ID           string `csv:"store_id"`
	Brand        string `csv:"brand"`
	Name         string `csv:"name"`
	Address      string `csv:"address"`
	Category     string `csv:"category"`
	ProvinceCode string `csv:"province_code"`
	CityCode     string `csv:"city_code"`
	DistrictCode string `csv:"district_code"`
	Lat          string `csv:"lat"`
	Lng          string `csv:"lng"`
	MallID       string `csv:"mall_id"`
	DistanceKm   string `csv:"distance_km"`
	Inactive     string `csv:"inactive"`
}

// MallRow is the CSV layout of a mall
type MallRow struct {
	ID           string `csv:"mall_id"`
	Name         string `csv:"name"`
	OriginalName string `csv:"original_name"`
	ProvinceCode string `csv:"province_code"`
	CityCode     string `csv:"city_code"`
	DistrictCode string `csv:"district_code"`
	Lat          string `csv:"lat"`
	Lng          string `csv:"lng"`
	StoreCount   string `csv:"store_count"`
}

// ReviewRow is one candidate of a queued store
type ReviewRow struct {
	StoreID           string `csv:"store_id"`
	CandidateMallID   string `csv:"candidate_mall_id"`
	CandidateMallName string `csv:"candidate_mall_name"`
	DistanceKm        string `csv:"distance_km"`
	NameSimilarity    string `csv:"name_similarity"`
	ConfidenceTier    string `csv:"confidence_tier"`
	Reason            string `csv:"reason"`
}

func readRows[T any](fs afero.Fs, path string) ([]*T, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", path).Msg("failed to close csv file")
		}
	}()

	var rows []*T
	if err := gocsv.Unmarshal(file, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

func writeRows[T any](fs afero.Fs, path string, rows []*T) error {
	tmp := path + ".tmp"
	file, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := gocsv.Marshal(rows, file); err != nil {
		_ = file.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// ReadStores loads stores from a CSV file. Rows without an id or with a
// duplicate id are skipped; unusable coordinates are dropped from the store.
// Both cases are reported as row errors.
func ReadStores(fs afero.Fs, path string) ([]*models.Store, []RowError, error) {
	rows, err := readRows[StoreRow](fs, path)
	if err != nil {
		return nil, nil, err
	}

	var stores []*models.Store
	var rowErrs []RowError
	seen := make(map[string]bool, len(rows))

	for i, r := range rows {
		line := i + 2
		id := strings.TrimSpace(r.ID)
		if id == "" {
			rowErrs = append(rowErrs, RowError{Line: line, Err: errors.New("missing store_id")})
			continue
		}
		if seen[id] {
			rowErrs = append(rowErrs, RowError{Line: line, ID: id, Err: errors.New("duplicate store_id")})
			continue
		}
		seen[id] = true

		s := &models.Store{
			ID:       id,
			Brand:    strings.TrimSpace(r.Brand),
			Name:     strings.TrimSpace(r.Name),
			Address:  strings.TrimSpace(r.Address),
			Category: strings.TrimSpace(r.Category),
			Region:   regionCodes(r.ProvinceCode, r.CityCode, r.DistrictCode),
			MallID:   strings.TrimSpace(r.MallID),
			Inactive: parseBool(r.Inactive),
		}

		loc, err := parseLocation(r.Lat, r.Lng)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, ID: id, Err: err})
		}
		s.Location = loc

		if d, ok := parseOptionalFloat(r.DistanceKm); ok {
			s.DistanceKm = &d
		}

		stores = append(stores, s)
	}

	return stores, rowErrs, nil
}

// ReadMalls loads malls from a CSV file with the same row rules as ReadStores
func ReadMalls(fs afero.Fs, path string) ([]*models.Mall, []RowError, error) {
	rows, err := readRows[MallRow](fs, path)
	if err != nil {
		return nil, nil, err
	}

	var malls []*models.Mall
	var rowErrs []RowError
	seen := make(map[string]bool, len(rows))

	for i, r := range rows {
		line := i + 2
		id := strings.TrimSpace(r.ID)
		if id == "" {
			rowErrs = append(rowErrs, RowError{Line: line, Err: errors.New("missing mall_id")})
			continue
		}
		if seen[id] {
			rowErrs = append(rowErrs, RowError{Line: line, ID: id, Err: errors.New("duplicate mall_id")})
			continue
		}
		seen[id] = true

		m := &models.Mall{
			ID:           id,
			Name:         strings.TrimSpace(r.Name),
			OriginalName: strings.TrimSpace(r.OriginalName),
			Region:       regionCodes(r.ProvinceCode, r.CityCode, r.DistrictCode),
		}
		if m.OriginalName == "" {
			m.OriginalName = m.Name
		}

		loc, err := parseLocation(r.Lat, r.Lng)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, ID: id, Err: err})
		}
		m.Location = loc

		malls = append(malls, m)
	}

	return malls, rowErrs, nil
}

// ReadLabels loads known store-to-mall answers for threshold tuning
func ReadLabels(fs afero.Fs, path string) ([]match.Label, error) {
	rows, err := readRows[match.Label](fs, path)
	if err != nil {
		return nil, err
	}
	labels := make([]match.Label, 0, len(rows))
	for _, r := range rows {
		if id := strings.TrimSpace(r.StoreID); id != "" {
			labels = append(labels, match.Label{StoreID: id, MallID: strings.TrimSpace(r.MallID)})
		}
	}
	return labels, nil
}

// WriteStores saves stores with their assignments
func WriteStores(fs afero.Fs, path string, stores []*models.Store) error {
	rows := make([]*StoreRow, 0, len(stores))
	for _, s := range stores {
		r := &StoreRow{
			ID:           s.ID,
			Brand:        s.Brand,
			Name:         s.Name,
			Address:      s.Address,
			Category:     s.Category,
			ProvinceCode: s.Region.Province,
			CityCode:     s.Region.City,
			DistrictCode: s.Region.District,
			MallID:       s.MallID,
		}
		if s.Location != nil {
			r.Lat = formatCoord(s.Location.Lat)
			r.Lng = formatCoord(s.Location.Lng)
		}
		if s.DistanceKm != nil {
			r.DistanceKm = strconv.FormatFloat(*s.DistanceKm, 'f', 4, 64)
		}
		if s.Inactive {
			r.Inactive = "true"
		}
		rows = append(rows, r)
	}
	return writeRows(fs, path, rows)
}

// WriteMalls saves malls with their store counts
func WriteMalls(fs afero.Fs, path string, malls []*models.Mall) error {
	rows := make([]*MallRow, 0, len(malls))
	for _, m := range malls {
		r := &MallRow{
			ID:           m.ID,
			Name:         m.Name,
			OriginalName: m.OriginalName,
			ProvinceCode: m.Region.Province,
			CityCode:     m.Region.City,
			DistrictCode: m.Region.District,
			StoreCount:   strconv.Itoa(m.StoreCount),
		}
		if m.Location != nil {
			r.Lat = formatCoord(m.Location.Lat)
			r.Lng = formatCoord(m.Location.Lng)
		}
		rows = append(rows, r)
	}
	return writeRows(fs, path, rows)
}

// WriteReview saves a review queue with one row per candidate. A store without
// candidates gets one row with empty candidate columns.
func WriteReview(fs afero.Fs, path string, items []match.QueueItem) error {
	return writeRows(fs, path, ReviewRows(items))
}

// ReviewRows flattens queue items into review rows
func ReviewRows(items []match.QueueItem) []*ReviewRow {
	var rows []*ReviewRow
	for _, item := range items {
		if len(item.Candidates) == 0 {
			rows = append(rows, &ReviewRow{
				StoreID:        item.Store.ID,
				ConfidenceTier: string(item.Tier),
				Reason:         item.Reason,
			})
			continue
		}
		for _, c := range item.Candidates {
			reason := c.Reason
			if reason == "" {
				reason = item.Reason
			}
			rows = append(rows, &ReviewRow{
				StoreID:           item.Store.ID,
				CandidateMallID:   c.MallID,
				CandidateMallName: c.MallName,
				DistanceKm:        strconv.FormatFloat(c.DistanceKm, 'f', 4, 64),
				NameSimilarity:    strconv.FormatFloat(c.NameSimilarity, 'f', 1, 64),
				ConfidenceTier:    string(c.Tier),
				Reason:            reason,
			})
		}
	}
	return rows
}

// MarshalReview writes review rows as CSV to w
func MarshalReview(items []match.QueueItem, w io.Writer) error {
	return gocsv.Marshal(ReviewRows(items), w)
}

func regionCodes(province, city, district string) models.RegionCodes {
	return models.RegionCodes{
		Province: normalize.RegionCode(province, normalize.Province),
		City:     normalize.RegionCode(city, normalize.City),
		District: normalize.RegionCode(district, normalize.District),
	}
}

func parseLocation(latStr, lngStr string) (*geo.Point, error) {
	latStr, lngStr = strings.TrimSpace(latStr), strings.TrimSpace(lngStr)
	if latStr == "" && lngStr == "" {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lat %q", latStr)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lng %q", lngStr)
	}

	p, err := geo.NewPoint(lat, lng)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func parseOptionalFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
