// Package csvfile reads and writes the CSV files used by the batch evaluation
// tool. Column order is free; columns are located by header name.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
)

type row struct {
	line   int
	fields map[string]string
}

func (r row) ref() string { return fmt.Sprintf("line %d", r.line) }

func (r row) get(col string) string { return r.fields[col] }

// readRows parses a headed CSV and checks that every required column exists.
// Rows keep their physical line number for fault reports.
func readRows(r io.Reader, required ...string) ([]row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("read csv: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	present := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		header[i] = h
		present[h] = true
	}
	for _, col := range required {
		if !present[col] {
			return nil, fmt.Errorf("read csv: missing column %q", col)
		}
	}

	var rows []row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		line, _ := cr.FieldPos(0)
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(rec) {
				fields[h] = strings.TrimSpace(rec[j])
			}
		}
		rows = append(rows, row{line: line, fields: fields})
	}
	return rows, nil
}

// ReadObservations reads a `date,t_max` file. Rows that fail to parse are
// returned as faults; a blank t_max is a fault too, not a zero.
func ReadObservations(r io.Reader) ([]domain.DailyObservation, []domain.RecordError, error) {
	rows, err := readRows(r, "date", "t_max")
	if err != nil {
		return nil, nil, err
	}

	obs := make([]domain.DailyObservation, 0, len(rows))
	var faults []domain.RecordError
	for _, rw := range rows {
		date, err := domain.ParseDate(rw.get("date"))
		if err != nil {
			faults = append(faults, domain.RecordError{Ref: rw.ref(), Err: err})
			continue
		}
		tmax, err := domain.ParseTemperature(rw.get("t_max"))
		if err != nil {
			faults = append(faults, domain.RecordError{Date: date, Ref: rw.ref(), Err: err})
			continue
		}
		obs = append(obs, domain.DailyObservation{Date: date, TMax: tmax})
	}
	return obs, faults, nil
}

// ReadDailyCounts reads a `date,count` file.
func ReadDailyCounts(r io.Reader) ([]domain.HistoricalCountRecord, []domain.RecordError, error) {
	rows, err := readRows(r, "date", "count")
	if err != nil {
		return nil, nil, err
	}

	recs := make([]domain.HistoricalCountRecord, 0, len(rows))
	var faults []domain.RecordError
	for _, rw := range rows {
		date, err := domain.ParseDate(rw.get("date"))
		if err != nil {
			faults = append(faults, domain.RecordError{Ref: rw.ref(), Err: err})
			continue
		}
		n, err := domain.ParseCount(rw.get("count"))
		if err != nil {
			faults = append(faults, domain.RecordError{Date: date, Ref: rw.ref(), Err: err})
			continue
		}
		recs = append(recs, domain.HistoricalCountRecord{Date: date, Count: n})
	}
	return recs, faults, nil
}

// ReadDeathRecords reads individual death records with columns
// date, age_type, age_value and optionally region and diagnosis.
func ReadDeathRecords(r io.Reader) ([]domain.DeathRecord, []domain.RecordError, error) {
	rows, err := readRows(r, "date", "age_type", "age_value")
	if err != nil {
		return nil, nil, err
	}

	recs := make([]domain.DeathRecord, 0, len(rows))
	var faults []domain.RecordError
	for _, rw := range rows {
		reading, err := domain.ParseRawReading(domain.RawReading{
			Kind:      string(domain.KindDeath),
			Date:      rw.get("date"),
			AgeType:   rw.get("age_type"),
			AgeValue:  rw.get("age_value"),
			Region:    rw.get("region"),
			Diagnosis: rw.get("diagnosis"),
		})
		if err != nil {
			date, _ := domain.ParseDate(rw.get("date"))
			faults = append(faults, domain.RecordError{Date: date, Ref: rw.ref(), Err: err})
			continue
		}
		recs = append(recs, reading.Death)
	}
	return recs, faults, nil
}

// LoadObservations opens path and reads it with ReadObservations.
func LoadObservations(path string) ([]domain.DailyObservation, []domain.RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return ReadObservations(f)
}

// LoadDailyCounts opens path and reads it with ReadDailyCounts.
func LoadDailyCounts(path string) ([]domain.HistoricalCountRecord, []domain.RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return ReadDailyCounts(f)
}

// LoadDeathRecords opens path and reads it with ReadDeathRecords.
func LoadDeathRecords(path string) ([]domain.DeathRecord, []domain.RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return ReadDeathRecords(f)
}
