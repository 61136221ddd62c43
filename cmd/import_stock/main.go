// Command import_stock ingests supplier delivery notes and books the received
// quantities into the stock ledger. It accepts the CSV export most suppliers
// provide and, for the ones that only send PDFs, extracts the line items from
// the document text. Every accepted row is one receiving audit entry; bad
// rows are skipped and reported, never aborting the rest of the note.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"larder/internal/audit"
	"larder/internal/config"
	"larder/internal/db"
	"larder/internal/inventory"
	"larder/internal/units"
	"larder/models"
)

// pdfLinePattern matches delivery note lines like
// "Bread Flour 25 kg @ 1.85" or "Whole Milk 10 l 0.95".
var pdfLinePattern = regexp.MustCompile(`^(.+?)\s+(\d+(?:\.\d+)?)\s*([A-Za-z]+)(?:\s+@?\s*\$?(\d+(?:\.\d+)?))?\s*$`)

type deliveryRow struct {
	Name         string
	Quantity     float64
	Unit         string
	UnitCost     decimal.Decimal
	HasUnitCost  bool
	MinimumStock float64
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: import_stock <delivery-note.csv|pdf>")
		os.Exit(1)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(notePath string) error {
	if strings.TrimSpace(notePath) == "" {
		return fmt.Errorf("delivery note path must not be empty")
	}
	if _, err := os.Stat(notePath); err != nil {
		return fmt.Errorf("locate delivery note: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Configure(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	rows, parseErrs, err := parseDeliveryNote(notePath)
	if err != nil {
		return fmt.Errorf("parse delivery note: %w", err)
	}

	ledger := audit.NewLedger(database, cfg.Compliance)
	actor := resolveActor()
	note := filepath.Base(notePath)

	imported := 0
	skipped := len(parseErrs)
	for _, parseErr := range parseErrs {
		fmt.Fprintf(os.Stderr, "skipped: %v\n", parseErr)
	}

	for idx, row := range rows {
		reference := fmt.Sprintf("%s#%d", note, idx+1)
		if err := receiveRow(context.Background(), database, ledger, reference, row, actor); err != nil {
			fmt.Fprintf(os.Stderr, "skipped %q: %v\n", row.Name, err)
			skipped++
			continue
		}
		imported++
	}

	fmt.Fprintf(os.Stdout, "Imported %d rows from %s (%d skipped)\n", imported, note, skipped)
	return nil
}

func resolveActor() string {
	if actor := strings.TrimSpace(os.Getenv("LARDER_IMPORT_ACTOR")); actor != "" {
		return actor
	}
	return "receiving-import"
}

// receiveRow books one delivery line: the ingredient upsert, the stock
// increment, and the receiving audit entry commit together or not at all.
func receiveRow(ctx context.Context, database *gorm.DB, ledger *audit.Ledger, reference string, row deliveryRow, actor string) error {
	return database.Transaction(func(tx *gorm.DB) error {
		store := inventory.NewStore(tx)

		existing, err := store.IngredientByName(ctx, row.Name)
		switch {
		case err == nil:
			received := row.Quantity
			if row.Unit != existing.Unit {
				converted, ok := units.Convert(row.Quantity, row.Unit, existing.Unit)
				if !ok {
					return fmt.Errorf("cannot convert %s to stock unit %s", row.Unit, existing.Unit)
				}
				received = converted
			}

			line := audit.Line{IngredientID: existing.ID, Delta: received, Reason: "supplier delivery"}
			if _, err := ledger.Record(ctx, tx, reference, models.AuditReceiving, []audit.Line{line}, actor, audit.Options{Notes: "delivery note " + reference}); err != nil {
				return err
			}

			updates := map[string]any{"quantity": gorm.Expr("quantity + ?", received)}
			if row.HasUnitCost {
				updates["unit_cost"] = row.UnitCost
			}
			if err := tx.Model(&models.Ingredient{}).Where("id = ?", existing.ID).UpdateColumns(updates).Error; err != nil {
				return fmt.Errorf("increment stock for %q: %w", row.Name, err)
			}
			return nil

		case errors.Is(err, inventory.ErrIngredientNotFound):
			ingredient := models.Ingredient{
				Name:         row.Name,
				Unit:         row.Unit,
				Quantity:     0,
				MinimumStock: row.MinimumStock,
			}
			if row.HasUnitCost {
				ingredient.UnitCost = row.UnitCost
			}
			if err := store.SaveIngredient(ctx, &ingredient); err != nil {
				return err
			}

			line := audit.Line{IngredientID: ingredient.ID, Delta: row.Quantity, Reason: "supplier delivery, new ingredient"}
			if _, err := ledger.Record(ctx, tx, reference, models.AuditReceiving, []audit.Line{line}, actor, audit.Options{Notes: "delivery note " + reference}); err != nil {
				return err
			}

			if err := tx.Model(&models.Ingredient{}).Where("id = ?", ingredient.ID).
				UpdateColumn("quantity", gorm.Expr("quantity + ?", row.Quantity)).Error; err != nil {
				return fmt.Errorf("set stock for %q: %w", row.Name, err)
			}
			return nil

		default:
			return err
		}
	})
}

func parseDeliveryNote(path string) ([]deliveryRow, []error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer file.Close()
		return parseCSV(file)
	case ".pdf":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		text, err := extractTextFromPDF(data)
		if err != nil {
			return nil, nil, err
		}
		rows, parseErrs := parseNoteText(text)
		return rows, parseErrs, nil
	default:
		return nil, nil, fmt.Errorf("unsupported delivery note format %q", filepath.Ext(path))
	}
}

// parseCSV reads rows with a Name,Quantity,Unit[,Unit Cost][,Minimum Stock]
// header. Rows that fail validation become errors in the second return value.
func parseCSV(r *os.File) ([]deliveryRow, []error, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errors.New("csv is empty")
	}

	header := make(map[string]int, len(records[0]))
	for idx, key := range records[0] {
		header[strings.ToLower(strings.TrimSpace(key))] = idx
	}
	for _, required := range []string{"name", "quantity", "unit"} {
		if _, ok := header[required]; !ok {
			return nil, nil, fmt.Errorf("csv is missing the %q column", required)
		}
	}

	field := func(row []string, key string) string {
		idx, ok := header[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var rows []deliveryRow
	var parseErrs []error
	for lineNo, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		row, err := buildRow(field(record, "name"), field(record, "quantity"), field(record, "unit"), field(record, "unit cost"), field(record, "minimum stock"))
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("line %d: %w", lineNo+2, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, parseErrs, nil
}

// parseNoteText scans extracted PDF text line by line for item rows. Lines
// that match no known layout are ignored silently, since delivery notes carry
// addresses, totals, and boilerplate around the items.
func parseNoteText(text string) ([]deliveryRow, []error) {
	var rows []deliveryRow
	var parseErrs []error

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		match := pdfLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if !units.Known(match[3]) {
			continue
		}

		row, err := buildRow(match[1], match[2], match[3], match[4], "")
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("line %q: %w", line, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, parseErrs
}

func buildRow(name, quantity, unit, unitCost, minimumStock string) (deliveryRow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return deliveryRow{}, errors.New("name must not be empty")
	}

	qty, err := strconv.ParseFloat(strings.TrimSpace(quantity), 64)
	if err != nil || qty <= 0 {
		return deliveryRow{}, fmt.Errorf("quantity %q must be a positive number", quantity)
	}

	unit = strings.ToLower(strings.TrimSpace(unit))
	if !units.Known(unit) {
		return deliveryRow{}, fmt.Errorf("unknown unit %q", unit)
	}

	row := deliveryRow{Name: name, Quantity: qty, Unit: units.Normalize(unit)}

	if trimmed := strings.TrimSpace(unitCost); trimmed != "" {
		cost, err := decimal.NewFromString(trimmed)
		if err != nil || cost.IsNegative() {
			return deliveryRow{}, fmt.Errorf("unit cost %q must be a non-negative number", unitCost)
		}
		row.UnitCost = cost
		row.HasUnitCost = true
	}
	if trimmed := strings.TrimSpace(minimumStock); trimmed != "" {
		minStock, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || minStock < 0 {
			return deliveryRow{}, fmt.Errorf("minimum stock %q must be a non-negative number", minimumStock)
		}
		row.MinimumStock = minStock
	}
	return row, nil
}

func extractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
