package model

import "time"

// SiteStatus is the liveness of a mirror site.
type SiteStatus string

const (
	SiteOnline  SiteStatus = "online"
	SiteOffline SiteStatus = "offline"
)

// Site is a registered mirror reporting stats back to the admin panel.
type Site struct {
	SiteID        string     `json:"siteId"`        // site_ prefixed identifier
	Name          string     `json:"name"`          // Display name
	Domain        string     `json:"domain"`        // Public domain of the mirror
	APIKey        string     `json:"apiKey"`        // Secret used by the mirror to report
	Status        SiteStatus `json:"status"`        // online or offline
	LastHeartbeat *time.Time `json:"lastHeartbeat"` // nil until the first heartbeat
	Stats         SiteStats  `json:"stats"`         // Reported counters
	CreatedAt     time.Time  `json:"createdAt"`     // Registration time
}

// SiteStats are the counters a mirror reports.
type SiteStats struct {
	OnlineNow   int    `json:"onlineNow"`
	ViewsToday  int64  `json:"viewsToday"`
	ViewsTotal  int64  `json:"viewsTotal"`
	EventsTotal int64  `json:"eventsTotal"`
	StatsDay    string `json:"statsDay,omitempty"` // UTC date viewsToday belongs to
}

// Redacted returns a copy safe for listings: the API key is cut to a prefix.
func (s Site) Redacted() Site {
	s.APIKey = s.APIKey[:min(8, len(s.APIKey))] + "..."
	return s
}

// AggregateStats sums all mirror sites for the admin dashboard.
type AggregateStats struct {
	TotalSites       int   `json:"totalSites"`
	OnlineSites      int   `json:"onlineSites"`
	TotalOnlineUsers int   `json:"totalOnlineUsers"`
	ViewsToday       int64 `json:"viewsToday"`
	ViewsTotal       int64 `json:"viewsTotal"`
}
