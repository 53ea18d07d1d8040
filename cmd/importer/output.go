package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/service"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

func header(text string) {
	line := strings.Repeat("=", 60)
	green.Printf("\n%s\n%s\n%s\n\n", line, text, line)
}

func success(text string) {
	green.Printf("  → %s\n", text)
}

func warning(text string) {
	yellow.Printf("  ⚠ %s\n", text)
}

func failure(text string) {
	red.Printf("Error: %s\n", text)
}

func statusColor(status models.ImportStatus) *color.Color {
	switch status {
	case models.ImportCompleted:
		return green
	case models.ImportPartial:
		return yellow
	default:
		return red
	}
}

func printImport(file string, res *models.ImportResult, entry *models.ImportLog) {
	bold.Printf("%s ", file)
	statusColor(entry.Status).Printf("[%s]\n", entry.Status)
	success(fmt.Sprintf("%d created, %d duplicates, %d failed (%d rows, parsed in %s)",
		res.Created, res.Duplicates, res.Failed, entry.TotalRows, entry.ParseTime))
	for _, msg := range res.Errors {
		warning(msg)
	}
}

func printPreview(file string, p *service.Preview) {
	bold.Printf("%s ", file)
	fmt.Printf("(%s, %d rows)\n", p.Format, p.TotalRows)
	var fresh, dup int
	for _, row := range p.Rows {
		switch {
		case row.Error != "":
			warning(fmt.Sprintf("%s %s %s: %s", row.Record.Date, row.Record.Amount, row.Record.Currency, row.Error))
		case row.Duplicate:
			dup++
		default:
			fresh++
		}
	}
	for _, msg := range p.RowErrors {
		warning(msg)
	}
	success(fmt.Sprintf("%d new, %d already imported", fresh, dup))
}
