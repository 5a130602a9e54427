package core

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/itassets/internal/store"
)

// TemplateSheet is the data sheet of the downloadable template.
const TemplateSheet = "Assets"

const templateDataRows = 1000

var columnNotes = map[string]string{
	ColAssetNo:        "Required. Unique asset number",
	ColAssetName:      "Required",
	ColStatus:         "IN_USE, INVENTORY, MAINTENANCE or RETIRED. Blank means INVENTORY",
	ColCategoryL1:     "Blank means Uncategorized",
	ColCategoryL2:     "Requires Category L1",
	ColCategoryL3:     "Requires Category L1 and L2",
	ColNewDataCenter:  "Fill the New columns to record a move",
	ColContractNo:     "Warranty contract; an existing contract is updated",
	ColWarrantyStart:  "Date. Blank means the import day",
	ColWarrantyEnd:    "Date. Blank means one year after start",
	ColLifeYears:      "Whole years. Blank means 5",
	ColAcceptanceDate: "Date",
}

// TemplateWorkbook builds the import template: a header row on the first
// sheet and a second sheet describing each column.
func (s *Service) TemplateWorkbook() ([]byte, error) {
	return TemplateWorkbook()
}

func TemplateWorkbook() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TemplateSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, col := range TemplateColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(TemplateSheet, cell, col)
		_ = f.SetCellStyle(TemplateSheet, cell, cell, bold)
	}
	last, _ := excelize.ColumnNumberToName(len(TemplateColumns))
	_ = f.SetColWidth(TemplateSheet, "A", last, 18)
	_ = f.SetPanes(TemplateSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	statusCol, _ := excelize.ColumnNumberToName(columnIndex(ColStatus) + 1)
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", statusCol, statusCol, templateDataRows+1)
	if err := dv.SetDropList([]string{store.StatusInUse, store.StatusInventory, store.StatusMaintenance, store.StatusRetired}); err != nil {
		return nil, fmt.Errorf("status list: %w", err)
	}
	if err := f.AddDataValidation(TemplateSheet, dv); err != nil {
		return nil, fmt.Errorf("status validation: %w", err)
	}

	const notes = "Columns"
	if _, err := f.NewSheet(notes); err != nil {
		return nil, fmt.Errorf("notes sheet: %w", err)
	}
	_ = f.SetCellValue(notes, "A1", "Column")
	_ = f.SetCellValue(notes, "B1", "Notes")
	_ = f.SetCellStyle(notes, "A1", "B1", bold)
	for i, col := range TemplateColumns {
		row := i + 2
		_ = f.SetCellValue(notes, fmt.Sprintf("A%d", row), col)
		_ = f.SetCellValue(notes, fmt.Sprintf("B%d", row), columnNotes[col])
	}
	_ = f.SetColWidth(notes, "A", "A", 20)
	_ = f.SetColWidth(notes, "B", "B", 64)

	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func columnIndex(col string) int {
	for i, c := range TemplateColumns {
		if c == col {
			return i
		}
	}
	return -1
}
