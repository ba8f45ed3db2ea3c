package models

import "time"

// TicketMessage is an immutable chat entry attached to a ticket.
type TicketMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TicketID  uint64    `gorm:"not null;index:idx_messages_ticket_created,priority:1;<-:create" json:"ticket_id"`
	Sender    string    `gorm:"type:varchar(255);not null;<-:create" json:"sender"`
	Body      string    `gorm:"type:text;not null;<-:create" json:"body"`
	CreatedAt time.Time `gorm:"index:idx_messages_ticket_created,priority:2;<-:create" json:"created_at"`

	Ticket *Ticket `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName pins the table name used by change feed filters.
func (TicketMessage) TableName() string {
	return "messages"
}
