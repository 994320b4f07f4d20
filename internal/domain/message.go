package domain

import "unicode/utf8"

const (
	// PreviewLength 邮件预览的最大字符数（按 rune 计）
	PreviewLength = 100
	// NoContentPreview 正文和主题都为空时使用的占位预览
	NoContentPreview = "(no content)"
)

// Message 表示一封已入库的临时邮件，入库后不可修改。
//
// ID 与 ReceivedAt 由存储层在插入时分配，调用方提供的值会被覆盖。
type Message struct {
	ID             int64  `json:"id" db:"id" gorm:"primaryKey;autoIncrement"`
	MailboxAddress string `json:"to" db:"mailbox_address" gorm:"type:varchar(255);not null;index:idx_messages_address_received,priority:1"`
	From           string `json:"from" db:"sender" gorm:"column:sender;type:varchar(255);not null"`
	Subject        string `json:"subject" db:"subject" gorm:"type:varchar(998);not null"`
	Text           string `json:"text" db:"text_body" gorm:"column:text_body;type:text"`
	HTML           string `json:"html" db:"html_body" gorm:"column:html_body;type:text"`
	Content        string `json:"content" db:"raw_content" gorm:"column:raw_content;type:text"`
	ReceivedAt     int64  `json:"receivedAt" db:"received_at" gorm:"not null;index:idx_messages_address_received,priority:2;index:idx_messages_received"`
}

// TableName 固定表名，供 GORM 迁移使用。
func (Message) TableName() string {
	return "messages"
}

// MessageView 是返回给轮询客户端的邮件视图，附带派生的预览文本。
type MessageView struct {
	Message
	Preview string `json:"preview"`
}

// NewMessageView 根据邮件生成视图。
func NewMessageView(m Message) MessageView {
	return MessageView{Message: m, Preview: Preview(m)}
}

// Preview 派生预览：优先取正文前 100 个字符，其次主题，最后是占位文本。
func Preview(m Message) string {
	if m.Text != "" {
		return truncateRunes(m.Text, PreviewLength)
	}
	if m.Subject != "" {
		return m.Subject
	}
	return NoContentPreview
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
