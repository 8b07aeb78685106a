package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"wheelhouse-etl/models"
)

var (
	floatColumns = map[string]func(*models.MetricsRow, float64){
		"value":            func(r *models.MetricsRow, v float64) { r.Value = &v },
		"price":            func(r *models.MetricsRow, v float64) { r.Price = &v },
		"recommendedprice": func(r *models.MetricsRow, v float64) { r.RecommendedPrice = &v },
		"baseprice":        func(r *models.MetricsRow, v float64) { r.BasePrice = &v },
		"minprice":         func(r *models.MetricsRow, v float64) { r.MinPrice = &v },
		"maxprice":         func(r *models.MetricsRow, v float64) { r.MaxPrice = &v },
		"occupancy":        func(r *models.MetricsRow, v float64) { r.Occupancy = &v },
		"adr":              func(r *models.MetricsRow, v float64) { r.ADR = &v },
		"revpar":           func(r *models.MetricsRow, v float64) { r.RevPAR = &v },
		"revenue":          func(r *models.MetricsRow, v float64) { r.Revenue = &v },
	}
	intColumns = map[string]func(*models.MetricsRow, int64){
		"bookednights":    func(r *models.MetricsRow, v int64) { r.BookedNights = &v },
		"availablenights": func(r *models.MetricsRow, v int64) { r.AvailableNights = &v },
		"minstay":         func(r *models.MetricsRow, v int64) { r.MinStay = &v },
	}

	errNullRow = errors.New("row is null")
)

// CoerceRows validates raw API items against the fixed MetricsRow shape.
// Every row is stamped with the listing id and target date.
func CoerceRows(listingID string, date time.Time, items []json.RawMessage) ([]models.MetricsRow, error) {
	day := models.FormatDate(date)
	rows := make([]models.MetricsRow, 0, len(items))
	for i, item := range items {
		row, err := coerceRow(listingID, day, item)
		if err != nil {
			err.Row = i + 1
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func coerceRow(listingID, day string, item json.RawMessage) (models.MetricsRow, *MalformedResponseError) {
	fields, err := decodeObject(item)
	if err != nil {
		return models.MetricsRow{}, &MalformedResponseError{ListingID: listingID, Reason: "row is not a JSON object", Err: err}
	}

	row := models.MetricsRow{ListingID: listingID, Date: day}
	extra := make(map[string]any)

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	claimed := make(map[string]string)
	for _, key := range keys {
		value := fields[key]
		name := normaliseKey(key)
		// listing id fields are only checked, so repeats of them are harmless
		if knownColumn(name) && name != "listingid" && name != "listing" {
			if prev, dup := claimed[name]; dup {
				return row, malformed(listingID, key, "same column as field "+prev)
			}
			claimed[name] = key
		}
		if value == nil {
			if !knownColumn(name) {
				extra[key] = nil
			}
			continue
		}

		switch {
		case name == "date":
			s, ok := getString(value)
			if !ok {
				return row, malformed(listingID, key, "date is not a string")
			}
			d, perr := parseRowDate(s)
			if perr != nil {
				return row, &MalformedResponseError{ListingID: listingID, Field: key, Reason: "unparseable date", Err: perr}
			}
			if d != day {
				return row, malformed(listingID, key, "row date "+d+" does not match target date "+day)
			}
		case name == "listingid" || name == "listing":
			s, ok := getString(value)
			if !ok {
				return row, malformed(listingID, key, "listing id is not a string or number")
			}
			if s != listingID {
				return row, malformed(listingID, key, "row belongs to listing "+s)
			}
		case name == "currency":
			s, ok := value.(string)
			if !ok {
				return row, malformed(listingID, key, "currency is not a string")
			}
			s = strings.ToUpper(strings.TrimSpace(s))
			row.Currency = &s
		default:
			if set, ok := floatColumns[name]; ok {
				f, ok := getFloat(value)
				if !ok {
					return row, malformed(listingID, key, "expected a number")
				}
				set(&row, f)
				continue
			}
			if set, ok := intColumns[name]; ok {
				n, ok := getInt(value)
				if !ok {
					return row, malformed(listingID, key, "expected an integer")
				}
				set(&row, n)
				continue
			}
			extra[key] = value
		}
	}

	encoded, err := json.Marshal(extra)
	if err != nil {
		return row, &MalformedResponseError{ListingID: listingID, Reason: "unencodable extra fields", Err: err}
	}
	row.Extra = string(encoded)
	return row, nil
}

func malformed(listingID, field, reason string) *MalformedResponseError {
	return &MalformedResponseError{ListingID: listingID, Field: field, Reason: reason}
}

func knownColumn(name string) bool {
	switch name {
	case "date", "listingid", "listing", "currency":
		return true
	}
	_, isFloat := floatColumns[name]
	_, isInt := intColumns[name]
	return isFloat || isInt
}

func decodeObject(item json.RawMessage) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(item))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNullRow
	}
	return fields, nil
}

// normaliseKey folds "RevPAR", "bookedNights", "booked_nights" and
// "booked-nights" onto the same lookup key.
func normaliseKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseRowDate accepts a calendar date or an RFC 3339 timestamp and returns
// its calendar date.
func parseRowDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(models.DateLayout, s); err == nil {
		return d.Format(models.DateLayout), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", err
	}
	return ts.Format(models.DateLayout), nil
}

func getString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	default:
		return "", false
	}
}

func getFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(typed), "%"))
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func getInt(value any) (int64, bool) {
	switch typed := value.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, true
		}
		f, err := typed.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
