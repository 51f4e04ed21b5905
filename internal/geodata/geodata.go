// 包 geodata：归属地记录的归一化结构与解析链路的区分性错误类型
// 背景：各提供商返回字段命名与精度差异很大，统一为一个部分填充的值类型供缓存与下游消费
// 约束：字段缺失表示未知而非错误；结构一经产出不再修改
package geodata

import (
	"fmt"
	"time"
)

// LocationData：单个地址的归属地记录
// 约束：字符串零值与数值零值均表示未知；经纬度 0,0 视为未填充（海上原点不在业务范围内）
type LocationData struct {
	CountryCode string  `json:"country_code,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	RegionCode  string  `json:"region_code,omitempty"`
	RegionName  string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Org         string  `json:"org,omitempty"`
	ASN         int     `json:"asn,omitempty"`
}

// IsEmpty：全字段未知；用于识别“确定未命中”的占位缓存记录
func (l LocationData) IsEmpty() bool {
	return l == LocationData{}
}

// QuotaExceededError：配额耗尽信号
// 背景：与普通传输/解析失败区分，编排层据此决定向调用方升级“稍后重试”而非静默返回未知
type QuotaExceededError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s quota exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s quota exceeded", e.Provider)
}
