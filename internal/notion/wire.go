package notion

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

const purchaseDateLayout = "2006-01-02"

// Page body sent to POST /pages

type pageObject struct {
	Parent     pageParent     `json:"parent"`
	Properties pageProperties `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type pageProperties struct {
	ID           titleProperty       `json:"Id"`
	Store        multiSelectProperty `json:"Store"`
	PurchaseDate dateProperty        `json:"Purchase Date"`
	Category     multiSelectProperty `json:"Category"`
	Price        numberProperty      `json:"Price"`
	Image        urlProperty         `json:"Image"`
}

type titleProperty struct {
	Title []richText `json:"title"`
}

type richText struct {
	Text textContent `json:"text"`
}

type textContent struct {
	Content string `json:"content"`
}

type multiSelectProperty struct {
	MultiSelect []selectOption `json:"multi_select"`
}

type selectOption struct {
	Name string `json:"name"`
}

type dateProperty struct {
	Date dateValue `json:"date"`
}

type dateValue struct {
	Start string `json:"start"`
}

type numberProperty struct {
	Number int `json:"number"`
}

type urlProperty struct {
	URL string `json:"url"`
}

// Query body sent to POST /databases/{id}/query

type queryRequest struct {
	Filter      queryFilter `json:"filter"`
	StartCursor string      `json:"start_cursor,omitempty"`
}

type queryFilter struct {
	And []checkboxCondition `json:"and"`
}

type checkboxCondition struct {
	Property string         `json:"property"`
	Checkbox checkboxEquals `json:"checkbox"`
}

type checkboxEquals struct {
	Equals bool `json:"equals"`
}

// validityProperty is the checkbox set once a receipt has been reviewed
const validityProperty = "Validity"

// unvalidatedFilter selects receipts that have not been reviewed yet
func unvalidatedFilter() queryFilter {
	return queryFilter{
		And: []checkboxCondition{
			{Property: validityProperty, Checkbox: checkboxEquals{Equals: false}},
		},
	}
}

// object is a loosely decoded JSON object; every accessor reports presence
// and type separately so a bad field never aborts the surrounding parse.
type object map[string]json.RawMessage

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeObject(raw []byte) (object, bool) {
	if !present(raw) {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	return o, o != nil
}

func (o object) object(key string) (object, bool) {
	return decodeObject(o[key])
}

func (o object) str(key string) (string, bool) {
	raw := o[key]
	if !present(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (o object) array(key string) ([]json.RawMessage, bool) {
	raw := o[key]
	if !present(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (o object) boolean(key string) (bool, bool) {
	raw := o[key]
	if !present(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// integer accepts whole JSON numbers only
func (o object) integer(key string) (int, bool) {
	raw := o[key]
	if !present(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

// firstObject returns the first element of an array field when it is an object
func (o object) firstObject(key string) (object, bool) {
	items, ok := o.array(key)
	if !ok || len(items) == 0 {
		return nil, false
	}
	return decodeObject(items[0])
}

func parseTimestamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parsePurchaseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(purchaseDateLayout, s); err == nil {
		return t, true
	}
	return parseTimestamp(s)
}
