package core

import "strings"

// Canonical column names of the asset import template.
const (
	ColAssetNo        = "Asset No"
	ColAssetName      = "Asset Name"
	ColStatus         = "Status"
	ColCategoryL1     = "Category L1"
	ColCategoryL2     = "Category L2"
	ColCategoryL3     = "Category L3"
	ColSerialNo       = "Serial No"
	ColModel          = "Model"
	ColDataCenter     = "Data Center"
	ColRoom           = "Room"
	ColCabinet        = "Cabinet"
	ColUPosition      = "U Position"
	ColNewDataCenter  = "New Data Center"
	ColNewRoom        = "New Room"
	ColNewCabinet     = "New Cabinet"
	ColNewUPosition   = "New U Position"
	ColContractNo     = "Contract No"
	ColWarrantyStart  = "Warranty Start"
	ColWarrantyEnd    = "Warranty End"
	ColProvider       = "Provider"
	ColWarrantyStatus = "Warranty Status"
	ColLifeYears      = "Life Years"
	ColAcceptanceDate = "Acceptance Date"
)

// TemplateColumns is the header row of the downloadable template, in order.
var TemplateColumns = []string{
	ColAssetNo, ColAssetName, ColStatus,
	ColCategoryL1, ColCategoryL2, ColCategoryL3,
	ColSerialNo, ColModel,
	ColDataCenter, ColRoom, ColCabinet, ColUPosition,
	ColNewDataCenter, ColNewRoom, ColNewCabinet, ColNewUPosition,
	ColContractNo, ColWarrantyStart, ColWarrantyEnd, ColProvider, ColWarrantyStatus,
	ColLifeYears, ColAcceptanceDate,
}

// RequiredColumns must appear in every uploaded header row.
var RequiredColumns = []string{ColAssetNo, ColAssetName}

// legacyHeaders maps the headers of the older Chinese template.
var legacyHeaders = map[string]string{
	"资产编号":      ColAssetNo,
	"资产名称":      ColAssetName,
	"资产状态":      ColStatus,
	"一级分类":      ColCategoryL1,
	"二级分类":      ColCategoryL2,
	"三级分类":      ColCategoryL3,
	"序列号":       ColSerialNo,
	"型号":        ColModel,
	"数据中心":      ColDataCenter,
	"机房":        ColRoom,
	"机柜":        ColCabinet,
	"U位":        ColUPosition,
	"变更后数据中心":   ColNewDataCenter,
	"变更后机房":     ColNewRoom,
	"变更后机柜":     ColNewCabinet,
	"变更后U位":     ColNewUPosition,
	"合同号":       ColContractNo,
	"维保开始日期":    ColWarrantyStart,
	"维保结束日期":    ColWarrantyEnd,
	"维保提供商":     ColProvider,
	"维保状态":      ColWarrantyStatus,
	"资产使用年限(年)": ColLifeYears,
	"资产使用年限（年）": ColLifeYears,
	"到货验收日期":    ColAcceptanceDate,
}

// canonicalHeaders indexes TemplateColumns case-insensitively.
var canonicalHeaders = func() map[string]string {
	m := make(map[string]string, len(TemplateColumns))
	for _, c := range TemplateColumns {
		m[strings.ToLower(c)] = c
	}
	return m
}()

// CanonicalColumn maps a header cell to its canonical column name.
// Unknown headers are returned trimmed.
func CanonicalColumn(header string) string {
	h := strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	if c, ok := legacyHeaders[h]; ok {
		return c
	}
	if c, ok := canonicalHeaders[strings.ToLower(h)]; ok {
		return c
	}
	return h
}
