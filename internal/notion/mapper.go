package notion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ToWireObject builds the JSON body that creates rec as a page in the database
func ToWireObject(rec Record, databaseID string) ([]byte, error) {
	if databaseID == "" {
		return nil, ErrDatabaseIDMissing
	}

	if err := validate.Struct(rec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.StructField() == "ID" {
					return nil, ErrRecordIDMissing
				}
			}
		}
		return nil, fmt.Errorf("validating record: %w", err)
	}

	page := pageObject{
		Parent: pageParent{DatabaseID: databaseID},
		Properties: pageProperties{
			ID: titleProperty{
				Title: []richText{{Text: textContent{Content: rec.ID}}},
			},
			Store: multiSelectProperty{
				MultiSelect: []selectOption{{Name: rec.Store}},
			},
			PurchaseDate: dateProperty{
				Date: dateValue{Start: rec.PurchaseDate.Format(purchaseDateLayout)},
			},
			Category: multiSelectProperty{
				MultiSelect: []selectOption{{Name: rec.Category}},
			},
			Price: numberProperty{Number: rec.Price},
			Image: urlProperty{URL: rec.ImageURL},
		},
	}

	data, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWireObject, err)
	}
	return data, nil
}

// queryBody builds the body for one page of the unvalidated receipts query
func queryBody(cursor string) ([]byte, error) {
	data, err := json.Marshal(queryRequest{
		Filter:      unvalidatedFilter(),
		StartCursor: cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWireObject, err)
	}
	return data, nil
}

// ParseDatabase extracts schema metadata from a database object.
// Fields that are missing or of the wrong type are left empty.
func ParseDatabase(body []byte) (*DatabaseMetadata, error) {
	root, ok := decodeObject(body)
	if !ok {
		return nil, ErrInvalidResponse
	}

	meta := &DatabaseMetadata{MultiSelects: make(map[string]*MultiSelect)}

	if id, ok := root.str("id"); ok {
		meta.ID = id
	}

	if parent, ok := root.object("parent"); ok {
		if kind, ok := parent.str("type"); ok {
			meta.Parent = kind
			if ref, ok := parent.str(kind); ok {
				meta.ParentID = ref
			}
		}
	}

	if created, ok := root.str("created_time"); ok {
		if t, ok := parseTimestamp(created); ok {
			meta.CreatedTime = &t
		}
	}

	if edited, ok := root.str("last_edited_time"); ok {
		if t, ok := parseTimestamp(edited); ok {
			meta.LastEditedTime = &t
		}
	}

	if title, ok := root.firstObject("title"); ok {
		if text, ok := title.str("plain_text"); ok {
			meta.Title = text
		}
	}

	if props, ok := root.object("properties"); ok {
		for _, name := range []string{StoreProperty, CategoryProperty} {
			addMultiSelectOptions(meta, props, name)
		}
	}

	return meta, nil
}

func addMultiSelectOptions(meta *DatabaseMetadata, props object, name string) {
	prop, ok := props.object(name)
	if !ok {
		return
	}
	ms, ok := prop.object("multi_select")
	if !ok {
		return
	}
	options, ok := ms.array("options")
	if !ok {
		return
	}
	for _, raw := range options {
		opt, ok := decodeObject(raw)
		if !ok {
			continue
		}
		color, hasColor := opt.str("color")
		id, hasID := opt.str("id")
		optName, hasName := opt.str("name")
		if !hasColor || !hasID || !hasName {
			continue
		}
		meta.AddOption(name, Option{Color: color, ID: id, Name: optName})
	}
}

// ParseRecords extracts receipt records from a query response.
// A malformed entry keeps zero values for the fields it lacks.
func ParseRecords(body []byte) ([]Record, error) {
	records, _, err := parseRecordPage(body)
	return records, err
}

// parseRecordPage also returns the cursor of the next page, empty on the last one
func parseRecordPage(body []byte) ([]Record, string, error) {
	root, ok := decodeObject(body)
	if !ok {
		return nil, "", ErrInvalidResponse
	}

	records := make([]Record, 0)
	results, _ := root.array("results")
	for i, raw := range results {
		entry, ok := decodeObject(raw)
		if !ok {
			slog.Warn("Skipping malformed receipt entry", "index", i)
			continue
		}
		records = append(records, parseRecord(entry))
	}

	var next string
	if more, _ := root.boolean("has_more"); more {
		next, _ = root.str("next_cursor")
	}

	return records, next, nil
}

func parseRecord(entry object) Record {
	var rec Record

	if id, ok := entry.str("id"); ok {
		rec.ID = id
	}

	props, ok := entry.object("properties")
	if !ok {
		return rec
	}

	if category, ok := firstOptionName(props, CategoryProperty); ok {
		rec.Category = category
	}
	if store, ok := firstOptionName(props, StoreProperty); ok {
		rec.Store = store
	}

	if prop, ok := props.object("Purchase Date"); ok {
		if date, ok := prop.object("date"); ok {
			if start, ok := date.str("start"); ok {
				if t, ok := parsePurchaseDate(start); ok {
					rec.PurchaseDate = t
				}
			}
		}
	}

	if prop, ok := props.object("Price"); ok {
		if price, ok := prop.integer("number"); ok {
			rec.Price = price
		}
	}

	if prop, ok := props.object("Image"); ok {
		if url, ok := prop.str("url"); ok {
			rec.ImageURL = url
		}
	}

	return rec
}

func firstOptionName(props object, name string) (string, bool) {
	prop, ok := props.object(name)
	if !ok {
		return "", false
	}
	opt, ok := prop.firstObject("multi_select")
	if !ok {
		return "", false
	}
	return opt.str("name")
}
