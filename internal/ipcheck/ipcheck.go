// 包 ipcheck：判断地址是否适合发起外部归属地查询（公网可路由）
// 背景：私网/环回/链路本地地址查外部数据源只会浪费配额并污染缓存，所有提供商共享同一判定
// 约束：沿用字符前缀与段值近似而非精确 CIDR 计算；不匹配任何排除规则的畸形输入按可查处理
package ipcheck

import (
	"strconv"
	"strings"
)

// IsPubliclyLookupable：纯函数，无副作用
// 排除：空串；IPv6 环回/未指定/ULA(fc,fd)/链路本地(fe80)/黑洞前缀(100::)；
// IPv4 127/8、10/8、172.16/12、192.168/16、100.64/10、169.254/16
func IsPubliclyLookupable(addr string) bool {
	if addr == "" {
		return false
	}
	lower := strings.ToLower(addr)
	if strings.Contains(lower, ":") {
		return ipv6Lookupable(lower)
	}
	return ipv4Lookupable(lower)
}

func ipv6Lookupable(addr string) bool {
	if addr == "::1" || addr == "::" {
		return false
	}
	// 唯一本地地址：仅匹配前两个字符，近似 fc00::/7
	if strings.HasPrefix(addr, "fc") || strings.HasPrefix(addr, "fd") {
		return false
	}
	if strings.HasPrefix(addr, "fe80:") {
		return false
	}
	// 黑洞前缀 100::/64 的文本近似
	if strings.HasPrefix(addr, "100::") {
		return false
	}
	return true
}

func ipv4Lookupable(addr string) bool {
	if strings.HasPrefix(addr, "127.") {
		return false
	}
	if strings.HasPrefix(addr, "10.") {
		return false
	}
	if strings.HasPrefix(addr, "192.168.") {
		return false
	}
	if strings.HasPrefix(addr, "169.254.") {
		return false
	}
	// 172.16.0.0/12：第二段 16..31
	if strings.HasPrefix(addr, "172.") {
		if o, ok := secondOctet(addr); ok && o >= 16 && o <= 31 {
			return false
		}
	}
	// 运营商级 NAT 100.64.0.0/10：第二段 64..127
	if strings.HasPrefix(addr, "100.") {
		if o, ok := secondOctet(addr); ok && o >= 64 && o <= 127 {
			return false
		}
	}
	return true
}

// secondOctet：提取点分文本的第二段数值；解析失败时视为不匹配排除规则
func secondOctet(addr string) (int, bool) {
	parts := strings.SplitN(addr, ".", 3)
	if len(parts) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
