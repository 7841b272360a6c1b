package models

import (
	"time"
)

// Origin classifies where an alert came from, for routing downstream.
type Origin string

const (
	OriginSystem Origin = "system"
	OriginGlobal Origin = "global"
	OriginCustom Origin = "custom"
)

// AlertType groups raw events when combining messages.
type AlertType string

const (
	TypeDirection AlertType = "direction"
	TypeTarget    AlertType = "target"
	TypeLevel     AlertType = "level"
	TypeZone      AlertType = "zone"
	TypeField     AlertType = "field"
)

// RawAlertEvent is one condition that became true during an evaluation pass.
type RawAlertEvent struct {
	Symbol    string
	Message   string
	Type      AlertType
	Key       string
	Origin    Origin
	Owner     string
	Direction string
	Target    int
	Timestamp time.Time
}

// AlertMessage is a rendered notification ready to persist and deliver.
type AlertMessage struct {
	ID        string
	SourceID  int64
	Symbol    string
	Text      string
	Origin    Origin
	Owner     string
	Types     []AlertType
	Keys      []string
	CreatedAt time.Time
	Notified  bool
}

// AlertGroup is the set of messages of one data source, as handed to delivery.
type AlertGroup struct {
	SourceID int64
	Source   string
	Messages []AlertMessage
}
