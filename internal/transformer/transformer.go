package transformer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"braze-etl/internal/models"
)

// Transformer turns raw Braze payloads into flat warehouse records. It
// owns the display-name conventions: the $-delimited UTM suffix and the
// YYMMDD_ prefix marking one-off campaigns.
type Transformer struct {
	oneOffPattern *regexp.Regexp
	logger        *logrus.Logger
}

func New(logger *logrus.Logger) *Transformer {
	return &Transformer{
		oneOffPattern: regexp.MustCompile(`^\d{6}_.+`),
		logger:        logger,
	}
}

// ParseUTM splits a campaign display name on $ and takes the last three
// tokens as (source, medium, name). Names with fewer than three tokens
// are malformed: all three fields come back empty and a warning is
// logged, but downstream records are still produced.
func (t *Transformer) ParseUTM(name string) models.UTM {
	tokens := strings.Split(name, "$")
	if len(tokens) < 3 {
		t.logger.WithField("name", name).Warn("UTM naming convention is wrong")
		return models.UTM{}
	}
	return models.UTM{
		Source: tokens[len(tokens)-3],
		Medium: tokens[len(tokens)-2],
		Name:   tokens[len(tokens)-1],
	}
}

// IsOneOff reports whether a campaign name carries the YYMMDD_ prefix
// of a single-run campaign. This rule is independent of the UTM suffix.
func (t *Transformer) IsOneOff(name string) bool {
	return t.oneOffPattern.MatchString(name)
}

// MatchesOneOffDay reports whether a one-off campaign name belongs to
// the given reporting day.
func (t *Transformer) MatchesOneOffDay(name string, day time.Time) bool {
	return t.IsOneOff(name) && strings.HasPrefix(name, day.Format("060102"))
}

// NormalizeDayAnalytics flattens one campaign's single-day data series
// into zero or more analytics records, one per (channel, variation).
//
// The payload comes in two disjoint shapes, resolved once up front:
// more than one channel group means a combined android+ios send with no
// per-variation breakdown and yields at most one record; exactly one
// channel group is the per-variation case and yields one record per
// surviving variation entry.
func (t *Transformer) NormalizeDayAnalytics(campaignID, campaignName string, day civil.Date, series *models.DataSeriesResponse) []*models.AnalyticsRecord {
	if series == nil || len(series.Data) == 0 {
		return nil
	}
	datum := series.Data[0]
	if len(datum.Messages) == 0 {
		return nil
	}

	utm := t.ParseUTM(campaignName)
	abtest := strings.Split(utm.Name, ",")

	base := models.AnalyticsRecord{
		Date:         day,
		ID:           campaignID,
		OriginalName: campaignName,
		UTMSource:    utm.Source,
		UTMMedium:    utm.Medium,
		UTMName:      utm.Name,
	}

	if len(datum.Messages) > 1 {
		if record := t.normalizeCombined(&datum, base); record != nil {
			return []*models.AnalyticsRecord{record}
		}
		return nil
	}
	return t.normalizeVariations(&datum, base, abtest)
}

// normalizeCombined handles the android+ios shape: per channel only the
// zero-th entry counts, channels that sent nothing are skipped, and the
// day-level shared metrics are merged once onto the single record.
func (t *Transformer) normalizeCombined(datum *models.SeriesDatum, base models.AnalyticsRecord) *models.AnalyticsRecord {
	record := base

	channels := make([]string, 0, len(datum.Messages))
	for channel := range datum.Messages {
		channels = append(channels, channel)
	}
	// JSON object order is not observable through a Go map, so the
	// comma-joined channel list is sorted to keep reloads stable.
	sort.Strings(channels)
	record.Channel = strings.Join(channels, ",")

	for _, channel := range channels {
		entries := datum.Messages[channel]
		if len(entries) == 0 {
			break
		}
		sent, ok := asInt(entries[0]["sent"])
		if !ok || sent == 0 {
			t.logger.WithField("channel", channel).Debug("Not sent, no data today")
			continue
		}
		switch channel {
		case models.ChannelIOSPush:
			record.IOSPush = pushMetricsFrom(entries[0])
		case models.ChannelAndroidPush:
			record.AndroidPush = pushMetricsFrom(entries[0])
		}
	}

	record.Conversions = intValue(datum.Conversions)
	record.Conversions1 = intValue(datum.Conversions1)
	record.Conversions2 = intValue(datum.Conversions2)
	record.Conversions3 = intValue(datum.Conversions3)
	record.UniqueRecipients = intValue(datum.UniqueRecipients)
	record.Revenue = floatValue(datum.Revenue)

	if record.IOSPush == nil && record.AndroidPush == nil {
		return nil
	}
	return &record
}

// normalizeVariations handles the single-channel shape, iterating the
// variation entries in API order. Control Group holdouts and variations
// with a zero or absent primary counter never emit a record. A
// variation whose name matches one of the comma-split UTM name tokens
// overrides the record's utm_campaign_name.
func (t *Transformer) normalizeVariations(datum *models.SeriesDatum, base models.AnalyticsRecord, abtest []string) []*models.AnalyticsRecord {
	var channel string
	for name := range datum.Messages {
		channel = name
	}
	entries := datum.Messages[channel]

	primaryField := "sent"
	if channel == models.ChannelInAppMsg {
		primaryField = "impressions"
	}

	var records []*models.AnalyticsRecord
	for _, entry := range entries {
		variationName := ""
		utmName := base.UTMName
		if name, ok := asString(entry["variation_name"]); ok && name != "" {
			if name == models.ControlGroupName {
				t.logger.Debug("Control Group, no analytics data")
				continue
			}
			variationName = name
			for _, label := range abtest {
				if label == name {
					utmName = name
					break
				}
			}
		} else {
			t.logger.WithField("channel", channel).Debug("No variation name")
		}

		primary, ok := asInt(entry[primaryField])
		if !ok || primary == 0 {
			t.logger.WithFields(logrus.Fields{
				"channel":   channel,
				"variation": variationName,
			}).Debug("No activity, no data today")
			continue
		}

		record := base
		record.Channel = channel
		record.VariationName = variationName
		record.UTMName = utmName

		switch channel {
		case models.ChannelIOSPush:
			record.IOSPush = pushMetricsFrom(entry)
		case models.ChannelAndroidPush:
			record.AndroidPush = pushMetricsFrom(entry)
		case models.ChannelWebhook:
			record.Sent = intField(entry, "sent")
		case models.ChannelEmail:
			record.Sent = intField(entry, "sent")
			record.Opens = intField(entry, "opens")
			record.UniqueOpens = intField(entry, "unique_opens")
			record.Clicks = intField(entry, "clicks")
			record.UniqueClicks = intField(entry, "unique_clicks")
			record.Delivered = intField(entry, "delivered")
		case models.ChannelInAppMsg:
			record.Impressions = intField(entry, "impressions")
			record.Clicks = intField(entry, "clicks")
			record.FirstButtonClicks = intField(entry, "first_button_clicks")
			record.SecondButtonClicks = intField(entry, "second_button_clicks")
		default:
			// Raw channel identifier: only the shared metrics and the
			// primary counter apply.
			record.Sent = intField(entry, "sent")
		}

		record.Conversions = intField(entry, "conversions")
		record.Conversions1 = intField(entry, "conversions1")
		record.Conversions2 = intField(entry, "conversions2")
		record.Conversions3 = intField(entry, "conversions3")
		record.UniqueRecipients = intField(entry, "unique_recipients")
		record.Revenue = floatField(entry, "revenue")

		records = append(records, &record)
	}
	return records
}

// BucketDetailsForDay keeps only campaigns whose last_sent timestamp
// falls inside the reporting-day window [day-2 15:00, day-1 15:00) and
// groups them by coarse channel: ios/android push merge into "push",
// in-app-message triggers into "inappmsg", anything else keeps its
// first channel name literally. Campaigns with no last_sent or outside
// the window are silently excluded.
func (t *Transformer) BucketDetailsForDay(details []*models.CampaignDetail, day time.Time) map[string][]*models.CampaignDetail {
	windowStart := time.Date(day.Year(), day.Month(), day.Day(), 15, 0, 0, 0, time.UTC).AddDate(0, 0, -2)
	windowEnd := windowStart.AddDate(0, 0, 1)

	buckets := make(map[string][]*models.CampaignDetail)
	for _, detail := range details {
		if detail.LastSent == "" {
			continue
		}
		lastSent, ok := parseSendTime(detail.LastSent)
		if !ok {
			continue
		}
		if lastSent.Before(windowStart) || !lastSent.Before(windowEnd) {
			continue
		}
		if len(detail.Channels) == 0 {
			t.logger.WithField("id", detail.ID).Warn("Campaign has no channels, skipping")
			continue
		}

		group := detail.Channels[0]
		for _, channel := range detail.Channels {
			if channel == models.ChannelIOSPush || channel == models.ChannelAndroidPush {
				group = models.GroupPush
				break
			}
			if channel == models.ChannelInAppMsg {
				group = models.GroupInAppMsg
				break
			}
		}
		buckets[group] = append(buckets[group], detail)
	}
	return buckets
}

// parseSendTime reads a Braze send timestamp as wall-clock time,
// discarding the zone offset the way the upstream day boundary does.
func parseSendTime(value string) (time.Time, bool) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC), true
}

// Metric coercion. Braze encodes counters inconsistently (numbers,
// numeric strings); a field that is absent, null, uncoercible, or zero
// becomes nil and must surface as a warehouse NULL, never 0.

func pushMetricsFrom(entry map[string]interface{}) *models.PushMetrics {
	return &models.PushMetrics{
		Sent:        intField(entry, "sent"),
		DirectOpens: intField(entry, "direct_opens"),
		TotalOpens:  intField(entry, "total_opens"),
		Bounces:     intField(entry, "bounces"),
		BodyClicks:  intField(entry, "body_clicks"),
	}
}

func intField(entry map[string]interface{}, key string) *int64 {
	return intValue(entry[key])
}

func intValue(value interface{}) *int64 {
	parsed, ok := asInt(value)
	if !ok || parsed == 0 {
		return nil
	}
	return &parsed
}

func floatField(entry map[string]interface{}, key string) *float64 {
	return floatValue(entry[key])
}

func floatValue(value interface{}) *float64 {
	parsed, ok := asFloat(value)
	if !ok || parsed == 0 {
		return nil
	}
	return &parsed
}

func asInt(value interface{}) (int64, bool) {
	parsed, ok := asFloat(value)
	if !ok {
		return 0, false
	}
	return int64(parsed), true
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asString(value interface{}) (string, bool) {
	s, ok := value.(string)
	return s, ok
}
