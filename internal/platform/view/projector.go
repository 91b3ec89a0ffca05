// Package view shapes entities into the field sets each audience may see.
// Every view other than full is built from an explicit allow-list; fields
// are copied in, never filtered out, so unknown input fields cannot leak.
package view

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/medqr/medqr/internal/platform/access"
)

// Name identifies a view.
type Name string

const (
	Full              Name = "full"
	EmergencySnapshot Name = "emergency_snapshot"
	RecordSummary     Name = "record_summary"
)

// MaxRecordSummaries caps the public record summary list.
const MaxRecordSummaries = 5

// ErrUnknownView is returned for a view name the projector does not define.
var ErrUnknownView = errors.New("unknown view")

// PartialView is the JSON-ready projection of an entity.
type PartialView map[string]any

// Projector projects entity snapshots. It performs no store access.
type Projector struct {
	now func() time.Time
}

// NewProjector creates a Projector. now is used for age computation and
// defaults to time.Now.
func NewProjector(now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{now: now}
}

// Project returns the named view of entity. entity may be any value that
// marshals to a JSON object, or a map[string]any.
func (p *Projector) Project(entity any, name Name) (PartialView, error) {
	switch name {
	case Full, EmergencySnapshot, RecordSummary:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, name)
	}

	doc, err := toDocument(entity)
	if err != nil {
		return nil, err
	}

	switch name {
	case EmergencySnapshot:
		return p.emergencySnapshot(doc), nil
	case RecordSummary:
		return recordSummary(doc), nil
	}
	return PartialView(doc), nil
}

// RecordSummaries builds the public record list for a patient. It refuses
// the whole view for patients whose access level is emergency_only;
// otherwise it returns at most MaxRecordSummaries non-archived records,
// most recent visit first.
func (p *Projector) RecordSummaries(patient any, records any) ([]PartialView, error) {
	pdoc, err := toDocument(patient)
	if err != nil {
		return nil, err
	}
	if level, _ := pdoc["access_level"].(string); level == "emergency_only" {
		return nil, access.Deny(access.Read(access.KindMedicalRecord), access.ReasonRestrictedAccessLevel)
	}

	type dated struct {
		doc  document
		when time.Time
	}
	docs, err := toDocuments(records)
	if err != nil {
		return nil, err
	}
	var kept []dated
	for _, doc := range docs {
		if status, _ := doc["status"].(string); status == "archived" {
			continue
		}
		kept = append(kept, dated{doc: doc, when: recordTime(doc)})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].when.After(kept[j].when)
	})
	if len(kept) > MaxRecordSummaries {
		kept = kept[:MaxRecordSummaries]
	}

	out := make([]PartialView, 0, len(kept))
	for _, k := range kept {
		out = append(out, recordSummary(k.doc))
	}
	return out, nil
}

func (p *Projector) emergencySnapshot(doc document) PartialView {
	bio := doc.object("biodata")
	history := doc.object("medical_history")

	v := PartialView{}
	copyScalars(v, bio, "first_name", "last_name", "gender", "blood_group", "genotype")
	if dob, ok := parseDate(bio["date_of_birth"]); ok {
		v["age"] = ageAt(dob, p.now())
	}

	v["allergies"] = pickEach(history.list("allergies"), nil, "allergen", "reaction", "severity")
	v["chronic_illnesses"] = pickEach(history.list("chronic_illnesses"), func(m document) bool {
		active, _ := m["active"].(bool)
		return active
	}, "condition", "severity", "active")

	sub := PartialView{}
	for _, k := range []string{"subscribed", "ambulance_service", "emergency_care", "notify_contact"} {
		b, _ := doc.object("emergency_subscription")[k].(bool)
		sub[k] = b
	}
	v["emergency_subscription"] = sub

	contact := PartialView{}
	copyScalars(contact, doc.object("emergency_contact"), "name", "relationship", "phone")
	v["emergency_contact"] = contact

	return v
}

func recordSummary(doc document) PartialView {
	visit := doc.object("visit_info")
	v := PartialView{}
	copyScalars(v, visit, "visit_date", "visit_type", "chief_complaint")

	diag := doc.object("assessment").object("diagnosis")
	d := PartialView{}
	copyScalars(d, diag, "primary")
	if secondary := scalarList(diag["secondary"]); secondary != nil {
		d["secondary"] = secondary
	}
	v["diagnosis"] = d

	vitals := PartialView{}
	copyScalars(vitals, doc.object("vital_signs"),
		"blood_pressure", "heart_rate", "temperature", "respiratory_rate", "oxygen_saturation")
	v["vital_signs"] = vitals

	v["medications"] = pickEach(doc.object("treatment").list("medications"), nil, "name", "dosage", "frequency")

	discharge := PartialView{}
	copyScalars(discharge, doc.object("discharge"), "discharge_date", "summary", "condition", "follow_up_date")
	v["discharge"] = discharge

	return v
}

// recordTime is the visit date, falling back to the creation time.
func recordTime(doc document) time.Time {
	if t, ok := parseDate(doc.object("visit_info")["visit_date"]); ok {
		return t
	}
	t, _ := parseDate(doc["created_at"])
	return t
}

func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toDocument(entity any) (document, error) {
	if entity == nil {
		return document{}, nil
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("project: encode entity: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("project: entity is not an object: %w", err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

func toDocuments(list any) ([]document, error) {
	if list == nil {
		return nil, nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("project: encode list: %w", err)
	}
	var docs []document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("project: not a list of objects: %w", err)
	}
	return docs, nil
}
