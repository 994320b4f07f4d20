package domain

import (
	"regexp"
	"strings"
)

// MaxDomainLength 域名最大长度（RFC 1035）
const MaxDomainLength = 253

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// InboundMessage 是入站邮件事件的原始载荷。
//
// 指针字段用于区分“未提供”和“提供了空字符串”。
type InboundMessage struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Subject string  `json:"subject"`
	Text    *string `json:"text,omitempty"`
	Content *string `json:"content,omitempty"`
	HTML    *string `json:"html,omitempty"`
}

// NormalizeAddress 将地址转为小写并去除首尾空白，存储与查询必须使用同一规则。
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Normalize 校验入站邮件并转换为可入库的记录。
//
// 不分配 ID 和 ReceivedAt，两者由存储层在插入时赋值。
func Normalize(in InboundMessage) (*Message, error) {
	if strings.TrimSpace(in.From) == "" {
		return nil, NewMissingField("from")
	}
	to := NormalizeAddress(in.To)
	if to == "" {
		return nil, NewMissingField("to")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, NewMissingField("subject")
	}

	content := deref(in.Content)
	text := content
	if in.Text != nil {
		text = *in.Text
	}

	return &Message{
		MailboxAddress: to,
		From:           in.From,
		Subject:        in.Subject,
		Text:           text,
		HTML:           deref(in.HTML),
		Content:        content,
	}, nil
}

// ValidateDomain 校验邮箱域名格式。
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}
	return domainRegex.MatchString(domain)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
