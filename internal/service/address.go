package service

import (
	"math/rand"
	"strings"

	"mailrelay/backend/internal/domain"
)

// 地址本地部分的字符集与长度
const (
	addressAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
	addressLocalLength = 8
)

// AddressGenerator 生成随机的一次性邮箱地址。
//
// 不检查唯一性，也不做持久化；36^8 的空间下碰撞概率可以忽略。
type AddressGenerator struct {
	intN func(n int) int
}

// NewAddressGenerator 创建地址生成器，使用并发安全的全局随机源。
func NewAddressGenerator() *AddressGenerator {
	return &AddressGenerator{intN: rand.Intn}
}

// Generate 返回 "<8 位小写字母数字>@<domain>"。
func (g *AddressGenerator) Generate(mailDomain string) (string, error) {
	mailDomain = strings.ToLower(strings.TrimSpace(mailDomain))
	if mailDomain == "" {
		return "", domain.ErrDomainNotConfigured
	}

	var b strings.Builder
	b.Grow(addressLocalLength + 1 + len(mailDomain))
	for i := 0; i < addressLocalLength; i++ {
		b.WriteByte(addressAlphabet[g.intN(len(addressAlphabet))])
	}
	b.WriteByte('@')
	b.WriteString(mailDomain)
	return b.String(), nil
}
