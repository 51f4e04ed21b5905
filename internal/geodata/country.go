package geodata

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// CountryNameFor：由 ISO 3166-1 两位国家码推导国家名
// 背景：部分提供商只回传国家码；展示与聚合需要统一的国家名
// 约束：名称语言由 GEO_LOCALE 类环境在上层决定，这里固定英文命名器；未知码返回空串
func CountryNameFor(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return ""
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return ""
	}
	return display.English.Regions().Name(region)
}
