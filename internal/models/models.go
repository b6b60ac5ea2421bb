package models

import (
	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// Channel identifiers as they appear in Braze API payloads.
const (
	ChannelIOSPush     = "ios_push"
	ChannelAndroidPush = "android_push"
	ChannelWebhook     = "webhook"
	ChannelEmail       = "email"
	ChannelInAppMsg    = "trigger_in_app_message"
)

// Coarse channel groups used when bucketing campaign details.
const (
	GroupPush     = "push"
	GroupInAppMsg = "inappmsg"
)

// ControlGroupName is the variation label Braze assigns to conversion
// holdout groups. Holdouts never produce analytics records.
const ControlGroupName = "Control Group"

// External API Response Structures

type CampaignListResponse struct {
	Message   string     `json:"message"`
	Campaigns []Campaign `json:"campaigns"`
}

type Campaign struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	IsAPICampaign bool     `json:"is_api_campaign"`
	Tags          []string `json:"tags"`
	LastEdited    string   `json:"last_edited"`
}

// CampaignDetailResponse is the raw /campaigns/details payload. The
// messages object is kept only long enough to be counted; the oversized
// message field is never decoded.
type CampaignDetailResponse struct {
	Message      string                 `json:"message"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
	Archived     bool                   `json:"archived"`
	Draft        bool                   `json:"draft"`
	ScheduleType string                 `json:"schedule_type"`
	Channels     []string               `json:"channels"`
	FirstSent    string                 `json:"first_sent"`
	LastSent     string                 `json:"last_sent"`
	Tags         []string               `json:"tags"`
	Messages     map[string]interface{} `json:"messages"`
}

// CampaignDetail is the trimmed detail record: the messages object is
// replaced by its element count.
type CampaignDetail struct {
	ID           string
	Name         string
	CreatedAt    string
	UpdatedAt    string
	ScheduleType string
	Channels     []string
	FirstSent    string
	LastSent     string
	Tags         []string
	MessageCount int
}

// DataSeriesResponse is the raw /campaigns/data_series payload for a
// single-day window (length=1).
type DataSeriesResponse struct {
	Message string        `json:"message"`
	Data    []SeriesDatum `json:"data"`
}

// SeriesDatum is one day of campaign analytics. Messages maps a channel
// name to its variation entries; entries are kept untyped because Braze
// returns a different field set per channel and occasionally encodes
// counters as strings.
type SeriesDatum struct {
	Time              string                           `json:"time"`
	Messages          map[string][]map[string]interface{} `json:"messages"`
	Conversions       interface{}                      `json:"conversions"`
	Conversions1      interface{}                      `json:"conversions1"`
	Conversions2      interface{}                      `json:"conversions2"`
	Conversions3      interface{}                      `json:"conversions3"`
	UniqueRecipients  interface{}                      `json:"unique_recipients"`
	Revenue           interface{}                      `json:"revenue"`
}

// UTM is the $-delimited suffix parsed from a campaign display name.
type UTM struct {
	Source string
	Medium string
	Name   string
}

// IDName is a (campaign id, display name) pair read back from the
// directory table for diffing and one-off scans.
type IDName struct {
	ID   string `bigquery:"id"`
	Name string `bigquery:"name"`
}

// PushMetrics is the per-channel metric set for ios_push/android_push.
// Nil means the source field was absent or zero-valued, and must reach
// the warehouse as NULL, never 0.
type PushMetrics struct {
	Sent        *int64
	DirectOpens *int64
	TotalOpens  *int64
	Bounces     *int64
	BodyClicks  *int64
}

// AnalyticsRecord is the flat output unit of normalization, keyed by
// (date, campaign id, channel, variation name). Pointer metrics encode
// the absent-vs-zero distinction end to end.
type AnalyticsRecord struct {
	Date          civil.Date
	ID            string
	OriginalName  string
	UTMSource     string
	UTMMedium     string
	UTMName       string
	Channel       string
	VariationName string

	IOSPush     *PushMetrics
	AndroidPush *PushMetrics

	Sent               *int64
	Opens              *int64
	UniqueOpens        *int64
	Clicks             *int64
	UniqueClicks       *int64
	Delivered          *int64
	Impressions        *int64
	FirstButtonClicks  *int64
	SecondButtonClicks *int64

	Conversions      *int64
	Conversions1     *int64
	Conversions2     *int64
	Conversions3     *int64
	UniqueRecipients *int64
	Revenue          *float64
}

func (m *PushMetrics) row() map[string]bigquery.Value {
	row := map[string]bigquery.Value{}
	putInt(row, "sent", m.Sent)
	putInt(row, "direct_opens", m.DirectOpens)
	putInt(row, "total_opens", m.TotalOpens)
	putInt(row, "bounces", m.Bounces)
	putInt(row, "body_clicks", m.BodyClicks)
	return row
}

// Save implements bigquery.ValueSaver. Absent metrics are omitted from
// the row so BigQuery stores NULL for them.
func (r *AnalyticsRecord) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"date":                  r.Date,
		"id":                    r.ID,
		"original_name":         r.OriginalName,
		"utm_campaign_source":   r.UTMSource,
		"utm_campaign_medium":   r.UTMMedium,
		"utm_campaign_name":     r.UTMName,
		"channel":               r.Channel,
		"variation_name":        r.VariationName,
	}
	if r.IOSPush != nil {
		row["ios_push"] = r.IOSPush.row()
	}
	if r.AndroidPush != nil {
		row["android_push"] = r.AndroidPush.row()
	}
	putInt(row, "sent", r.Sent)
	putInt(row, "opens", r.Opens)
	putInt(row, "unique_opens", r.UniqueOpens)
	putInt(row, "clicks", r.Clicks)
	putInt(row, "unique_clicks", r.UniqueClicks)
	putInt(row, "delivered", r.Delivered)
	putInt(row, "impressions", r.Impressions)
	putInt(row, "first_button_clicks", r.FirstButtonClicks)
	putInt(row, "second_button_clicks", r.SecondButtonClicks)
	putInt(row, "conversions", r.Conversions)
	putInt(row, "conversions1", r.Conversions1)
	putInt(row, "conversions2", r.Conversions2)
	putInt(row, "conversions3", r.Conversions3)
	putInt(row, "unique_recipients", r.UniqueRecipients)
	if r.Revenue != nil {
		row["revenue"] = *r.Revenue
	}
	// No insert id: the load is append-only by design and reloads are
	// reconciled upstream, not deduplicated here.
	return row, "", nil
}

func putInt(row map[string]bigquery.Value, name string, v *int64) {
	if v != nil {
		row[name] = *v
	}
}
