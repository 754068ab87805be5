package records

import (
	"time"

	"campi/internal/core"
	"campi/internal/sheets"
)

// Table layouts. Column order is the on-sheet order and must not change.
var (
	PlotSchema = sheets.Schema{
		Name:  "Campi",
		Color: "#2E7D32",
		Columns: []sheets.Column{
			{Header: "Nome Campo", Kind: sheets.KindText},
			{Header: "Ettari", Kind: sheets.KindNumber},
			{Header: "N. Piante", Kind: sheets.KindNumber},
			{Header: "Varieta Olivo", Kind: sheets.KindText},
			{Header: "Anno Impianto", Kind: sheets.KindNumber},
			{Header: "Comune / Localita", Kind: sheets.KindText},
			{Header: "Note", Kind: sheets.KindText},
		},
	}

	OperationSchema = sheets.Schema{
		Name:  "Lavorazioni",
		Color: "#1565C0",
		Columns: []sheets.Column{
			{Header: "Data", Kind: sheets.KindDate},
			{Header: "Campo", Kind: sheets.KindText},
			{Header: "Tipo Operazione", Kind: sheets.KindText},
			{Header: "Descrizione / Note", Kind: sheets.KindText},
			{Header: "Prodotto Usato", Kind: sheets.KindText},
			{Header: "Quantita", Kind: sheets.KindNumber},
			{Header: "Unita", Kind: sheets.KindText},
			{Header: "Operatore", Kind: sheets.KindText},
			{Header: "Costo €", Kind: sheets.KindCurrency},
		},
	}

	CostSchema = sheets.Schema{
		Name:  "Costi",
		Color: "#6A1B9A",
		Columns: []sheets.Column{
			{Header: "Data", Kind: sheets.KindDate},
			{Header: "Campo", Kind: sheets.KindText},
			{Header: "Categoria", Kind: sheets.KindText},
			{Header: "Descrizione", Kind: sheets.KindText},
			{Header: "Quantita", Kind: sheets.KindNumber},
			{Header: "Unita", Kind: sheets.KindText},
			{Header: "Costo Unitario €", Kind: sheets.KindCurrency},
			{Header: "Totale €", Kind: sheets.KindCurrency},
			{Header: "Fornitore", Kind: sheets.KindText},
			{Header: "Note", Kind: sheets.KindText},
		},
	}

	HarvestSchema = sheets.Schema{
		Name:  "Raccolta",
		Color: "#E65100",
		Columns: []sheets.Column{
			{Header: "Anno", Kind: sheets.KindNumber},
			{Header: "Campo", Kind: sheets.KindText},
			{Header: "Data Inizio", Kind: sheets.KindDate},
			{Header: "Data Fine", Kind: sheets.KindDate},
			{Header: "KG Raccolti", Kind: sheets.KindNumber},
			{Header: "KG / Ha", Kind: sheets.KindNumber},
			{Header: "Destinazione", Kind: sheets.KindText},
			{Header: "Note", Kind: sheets.KindText},
		},
	}
)

// Schemas lists every table in setup order.
func Schemas() []sheets.Schema {
	return []sheets.Schema{PlotSchema, OperationSchema, CostSchema, HarvestSchema}
}

// cells reads typed values out of a normalized row.
type cells []any

func (c cells) at(i int) any {
	if i < len(c) {
		return c[i]
	}
	return nil
}

func (c cells) text(i int) string {
	return sheets.CellString(c.at(i))
}

func (c cells) number(i int) core.Number {
	return core.NumberFromCell(c.at(i))
}

func (c cells) date(i int) core.Date {
	if t, ok := c.at(i).(time.Time); ok {
		return core.DateOf(t)
	}
	return core.Date{}
}

func numberCell(n core.Number) any {
	if !n.Valid {
		return nil
	}
	return n.Value
}

func dateCell(d core.Date) any {
	if d.IsBlank() {
		return nil
	}
	return d.Time
}

func textCell(s string) any {
	return s
}

func decodePlot(id int64, c cells) core.Plot {
	return core.Plot{
		ID:           core.RecordID(id),
		Name:         c.text(0),
		Hectares:     c.number(1),
		TreeCount:    c.number(2),
		Variety:      c.text(3),
		PlantingYear: c.number(4),
		Locality:     c.text(5),
		Notes:        c.text(6),
	}
}

func encodePlot(p core.Plot) []any {
	return []any{
		textCell(p.Name),
		numberCell(p.Hectares),
		numberCell(p.TreeCount),
		textCell(p.Variety),
		numberCell(p.PlantingYear),
		textCell(p.Locality),
		textCell(p.Notes),
	}
}

func decodeOperation(id int64, c cells) core.Operation {
	return core.Operation{
		ID:          core.RecordID(id),
		Date:        c.date(0),
		PlotName:    c.text(1),
		Type:        c.text(2),
		Description: c.text(3),
		Product:     c.text(4),
		Quantity:    c.number(5),
		Unit:        c.text(6),
		Operator:    c.text(7),
		Cost:        c.number(8),
	}
}

func encodeOperation(o core.Operation) []any {
	return []any{
		dateCell(o.Date),
		textCell(o.PlotName),
		textCell(o.Type),
		textCell(o.Description),
		textCell(o.Product),
		numberCell(o.Quantity),
		textCell(o.Unit),
		textCell(o.Operator),
		numberCell(o.Cost),
	}
}

func decodeCost(id int64, c cells) core.Cost {
	return core.Cost{
		ID:          core.RecordID(id),
		Date:        c.date(0),
		PlotName:    c.text(1),
		Category:    c.text(2),
		Description: c.text(3),
		Quantity:    c.number(4),
		Unit:        c.text(5),
		UnitCost:    c.number(6),
		Total:       c.number(7),
		Supplier:    c.text(8),
		Notes:       c.text(9),
	}
}

func encodeCost(k core.Cost) []any {
	return []any{
		dateCell(k.Date),
		textCell(k.PlotName),
		textCell(k.Category),
		textCell(k.Description),
		numberCell(k.Quantity),
		textCell(k.Unit),
		numberCell(k.UnitCost),
		numberCell(k.Total),
		textCell(k.Supplier),
		textCell(k.Notes),
	}
}

func decodeHarvest(id int64, c cells) core.Harvest {
	return core.Harvest{
		ID:           core.RecordID(id),
		Year:         c.number(0),
		PlotName:     c.text(1),
		StartDate:    c.date(2),
		EndDate:      c.date(3),
		Kg:           c.number(4),
		KgPerHectare: c.number(5),
		Destination:  c.text(6),
		Notes:        c.text(7),
	}
}

func encodeHarvest(h core.Harvest) []any {
	return []any{
		numberCell(h.Year),
		textCell(h.PlotName),
		dateCell(h.StartDate),
		dateCell(h.EndDate),
		numberCell(h.Kg),
		numberCell(h.KgPerHectare),
		textCell(h.Destination),
		textCell(h.Notes),
	}
}
