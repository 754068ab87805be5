package core

import (
	"errors"
	"strings"
)

// Operation types tracked by the overview.
const (
	OpPruning       = "Potatura"
	OpTreatment     = "Trattamento Fitosanitario"
	OpFertilization = "Concimazione"
)

type (
	// Plot is a cultivated parcel. Name is the key other records join on.
	Plot struct {
		ID           RecordID `json:"id,omitempty"`
		Name         string   `json:"nome"`
		Hectares     Number   `json:"ettari"`
		TreeCount    Number   `json:"numPiante"`
		Variety      string   `json:"varieta"`
		PlantingYear Number   `json:"annoImpianto"`
		Locality     string   `json:"comune"`
		Notes        string   `json:"note"`
	}

	// Operation is a logged field activity.
	Operation struct {
		ID          RecordID `json:"id,omitempty"`
		Date        Date     `json:"data"`
		PlotName    string   `json:"campo"`
		Type        string   `json:"tipo"`
		Description string   `json:"descrizione"`
		Product     string   `json:"prodotto"`
		Quantity    Number   `json:"quantita"`
		Unit        string   `json:"unita"`
		Operator    string   `json:"operatore"`
		Cost        Number   `json:"costo"`
	}

	// Cost is a logged expenditure. Total is computed when the cost is saved.
	Cost struct {
		ID          RecordID `json:"id,omitempty"`
		Date        Date     `json:"data"`
		PlotName    string   `json:"campo"`
		Category    string   `json:"categoria"`
		Description string   `json:"descrizione"`
		Quantity    Number   `json:"quantita"`
		Unit        string   `json:"unita"`
		UnitCost    Number   `json:"costoUnitario"`
		Total       Number   `json:"totale"`
		Supplier    string   `json:"fornitore"`
		Notes       string   `json:"note"`
	}

	// Harvest is the yield of a plot for one season.
	Harvest struct {
		ID           RecordID `json:"id,omitempty"`
		Year         Number   `json:"anno"`
		PlotName     string   `json:"campo"`
		StartDate    Date     `json:"dataInizio"`
		EndDate      Date     `json:"dataFine"`
		Kg           Number   `json:"kg"`
		KgPerHectare Number   `json:"kgHa"`
		Destination  string   `json:"destinazione"`
		Notes        string   `json:"note"`
	}
)

var (
	ErrEmptyName   = errors.New("empty plot name")
	ErrMissingDate = errors.New("missing or invalid date")
	ErrMissingYear = errors.New("missing or invalid year")
	ErrInvalidID   = errors.New("invalid id")
)

func (p Plot) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (o Operation) Validate() error {
	if o.Date.IsBlank() {
		return ErrMissingDate
	}
	return nil
}

func (c Cost) Validate() error {
	if c.Date.IsBlank() {
		return ErrMissingDate
	}
	return nil
}

func (h Harvest) Validate() error {
	if !h.Year.Valid {
		return ErrMissingYear
	}
	return nil
}

// WithTotal returns the cost with Total = Quantity × UnitCost. Blank or
// invalid inputs count as 0 and are stored as 0.
func (c Cost) WithTotal() Cost {
	qty := c.Quantity.Or(0)
	unit := c.UnitCost.Or(0)
	c.Quantity = NumberOf(qty)
	c.UnitCost = NumberOf(unit)
	c.Total = NumberOf(qty * unit)
	return c
}

// WithDefaultYear fills a blank Year with year.
func (h Harvest) WithDefaultYear(year int) Harvest {
	if !h.Year.Valid {
		h.Year = NumberOf(float64(year))
	}
	return h
}
