package models

import "time"

// BankImportStats is the per-bank share of ImportStats
type BankImportStats struct {
	Imports    int `json:"imports"`
	Rows       int `json:"rows"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// ErrorCount is one aggregated error message
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ImportStats aggregates import logs over a period
type ImportStats struct {
	TotalImports int                        `json:"total_imports"`
	SuccessRate  float64                    `json:"success_rate"` // completed / total, 0..1
	AvgParseTime time.Duration              `json:"avg_parse_time"`
	PerBank      map[string]BankImportStats `json:"per_bank"`
	TopErrors    []ErrorCount               `json:"top_errors"`
}
