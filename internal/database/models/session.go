package models

import (
	"time"
)

// Session is one load-balancer session, either an HTTP request or a raw TCP
// connection. Only lines that parsed successfully are stored; the HTTP-only
// columns stay at their zero values for TCP sessions.
type Session struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SourceName string    `gorm:"not null;index"`
	LogType    string    `gorm:"not null;index:idx_log_type"` // "http" or "tcp"
	AcceptTime time.Time `gorm:"not null;index:idx_accept_time"`

	// Client info
	ClientIP   string `gorm:"not null;index:idx_client_ip"`
	ClientPort int
	// First captured request header when present, client IP otherwise.
	// Carries the real client through a reverse-proxy chain.
	ResolvedIP string `gorm:"index:idx_resolved_ip"`

	// Routing
	FrontendName string `gorm:"not null;index:idx_frontend"`
	BackendName  string `gorm:"not null;index:idx_backend"`
	ServerName   string `gorm:"not null;index:idx_server"`

	// Timers in milliseconds; -1 marks a phase that was aborted before
	// completion. TimeWaitRequest and TimeWaitResponse are HTTP only.
	TimeWaitRequest   int
	TimeWaitQueue     int
	TimeConnectServer int
	TimeWaitResponse  int
	TotalTime         int `gorm:"index:idx_total_time"`

	// Response info. StatusCode keeps the raw token so aborted transfers
	// ("-1") survive; BytesRead is numeric for traffic aggregation.
	StatusCode string `gorm:"index:idx_status"`
	BytesRead  int64

	// Request info, HTTP only. The "invalid" sentinel marks a request line
	// the grammar could not split.
	Method   string `gorm:"index:idx_method"`
	Path     string
	Protocol string
	HTTPS    bool

	CapturedRequestHeaders  string
	CapturedResponseHeaders string

	// Connection state at accept time
	ConnectionsActive   int
	ConnectionsFrontend int
	ConnectionsBackend  int
	ConnectionsServer   int
	Retries             string // "+" prefix marks a redispatch
	QueueServer         int
	QueueBackend        int

	// GeoIP enrichment
	GeoCountry string `gorm:"index:idx_geo_country"`
	GeoCity    string
	GeoLat     float64
	GeoLon     float64
	ASN        int
	ASNOrg     string

	CreatedAt time.Time `gorm:"autoCreateTime"`

	// Foreign key
	LogSource LogSource `gorm:"foreignKey:SourceName;references:Name"`
}

func (Session) TableName() string {
	return "sessions"
}
