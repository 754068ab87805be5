package core

// HarvestRef is the compact projection of a harvest shown in the overview.
type HarvestRef struct {
	Year Number `json:"anno"`
	Kg   Number `json:"kg"`
}

// PlotSummary is a plot with the values derived from its related records.
// Nil pointers mean "no matching record".
type PlotSummary struct {
	Plot
	LatestPruning       *Date       `json:"ultimaPotatura"`
	LatestTreatment     *Date       `json:"ultimoTrattamento"`
	LatestFertilization *Date       `json:"ultimaConcimazione"`
	CurrentYearCosts    float64     `json:"costiAnno"`
	LatestHarvest       *HarvestRef `json:"ultimaRaccolta"`
}
