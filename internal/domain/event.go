package domain

import (
	"context"
	"fmt"
	"time"
)

// ReadingKind discriminates source messages.
type ReadingKind string

const (
	KindTemperature ReadingKind = "temperature"
	KindDeath       ReadingKind = "death"
)

// RawReading is the flat JSON published by the collectors. Values stay strings
// so a bad field is reported as a fault instead of failing the whole decode.
type RawReading struct {
	Kind      string `json:"kind"`
	Date      string `json:"date"`                // YYYY-MM-DD
	TMax      string `json:"t_max,omitempty"`     // °C, temperature readings
	AgeType   string `json:"age_type,omitempty"`  // 1 years, 2 months, 3 days, 4 hours
	AgeValue  string `json:"age_value,omitempty"` // age in AgeType units
	Region    string `json:"region,omitempty"`    // region of residence code
	Diagnosis string `json:"diagnosis,omitempty"` // ICD-10 code
}

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Position identifies the message within its log as topic/partition/offset.
// It is empty for events that did not come from a topic.
func (e RawEvent) Position() string {
	if e.Topic == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d/%d", e.Topic, e.Partition, e.Offset)
}

// Reading is a parsed source record. Exactly one of Temperature or Death is set,
// according to Kind. Ref is the source position of the message the reading
// was parsed from; a redelivered message carries the same Ref.
type Reading struct {
	Ref         string
	Kind        ReadingKind
	Temperature DailyObservation
	Death       DeathRecord
}

// Date returns the calendar day the reading refers to.
func (r Reading) Date() time.Time {
	if r.Kind == KindDeath {
		return r.Death.Date
	}
	return r.Temperature.Date
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
