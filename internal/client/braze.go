package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"braze-etl/internal/config"
	"braze-etl/internal/models"
)

// BrazeClient talks to the Braze REST API with bearer-token auth and a
// small retry loop. One request is outstanding at a time; there is no
// bulk endpoint upstream so details and data series go id by id.
type BrazeClient struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	retryAttempts int
	logger        *logrus.Logger
}

func NewBrazeClient(cfg *config.Config, logger *logrus.Logger) *BrazeClient {
	return &BrazeClient{
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		baseURL:       cfg.BrazeRESTURL,
		apiKey:        cfg.BrazeAPIKey,
		retryAttempts: cfg.RetryAttempts,
		logger:        logger,
	}
}

// ListCampaigns pages through /campaigns/list until a page comes back
// with no campaigns. A response without a campaigns key counts as an
// empty page and ends pagination; that matches the upstream behavior
// for the last page and is deliberately lenient (see DESIGN.md).
//
// When since is non-zero, every page request is filtered server-side to
// campaigns edited after 15:00 UTC on that date, aligning Braze's day
// boundary with the reporting day.
func (c *BrazeClient) ListCampaigns(ctx context.Context, since time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign

	for page := 0; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			query.Set("last_edit.time[gt]", since.Format("2006-01-02")+"T15:00:00")
		}

		var listResponse models.CampaignListResponse
		if err := c.getJSON(ctx, "/campaigns/list", query, &listResponse); err != nil {
			return nil, fmt.Errorf("failed to fetch campaign list page %d: %w", page, err)
		}

		if len(listResponse.Campaigns) == 0 {
			break
		}
		campaigns = append(campaigns, listResponse.Campaigns...)
	}

	c.logger.WithField("campaigns", len(campaigns)).Info("Fetched campaign list")
	return campaigns, nil
}

// GetCampaignDetails fetches one campaign's detail payload and trims
// it: the messages object is replaced by its element count and the
// message field is never decoded at all.
func (c *BrazeClient) GetCampaignDetails(ctx context.Context, campaignID string) (*models.CampaignDetail, error) {
	query := url.Values{}
	query.Set("campaign_id", campaignID)

	var detailResponse models.CampaignDetailResponse
	if err := c.getJSON(ctx, "/campaigns/details", query, &detailResponse); err != nil {
		return nil, fmt.Errorf("failed to fetch details for campaign %s: %w", campaignID, err)
	}

	return &models.CampaignDetail{
		ID:           campaignID,
		Name:         detailResponse.Name,
		CreatedAt:    detailResponse.CreatedAt,
		UpdatedAt:    detailResponse.UpdatedAt,
		ScheduleType: detailResponse.ScheduleType,
		Channels:     detailResponse.Channels,
		FirstSent:    detailResponse.FirstSent,
		LastSent:     detailResponse.LastSent,
		Tags:         detailResponse.Tags,
		MessageCount: len(detailResponse.Messages),
	}, nil
}

// GetDataSeries fetches the single-day analytics window ending at day
// (YYYY-MM-DD) for one campaign.
func (c *BrazeClient) GetDataSeries(ctx context.Context, campaignID, day string) (*models.DataSeriesResponse, error) {
	query := url.Values{}
	query.Set("campaign_id", campaignID)
	query.Set("length", "1")
	query.Set("ending_at", day)

	var seriesResponse models.DataSeriesResponse
	if err := c.getJSON(ctx, "/campaigns/data_series", query, &seriesResponse); err != nil {
		return nil, fmt.Errorf("failed to fetch data series for campaign %s: %w", campaignID, err)
	}

	return &seriesResponse, nil
}

func (c *BrazeClient) getJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	requestURL := c.baseURL + path + "?" + query.Encode()
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoffTime := time.Duration(attempt*attempt) * time.Second
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoffTime,
				"url":     requestURL,
			}).Warn("Retrying request after backoff")
			time.Sleep(backoffTime)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("client error: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			lastErr = err
			continue
		}

		if err := json.Unmarshal(body, target); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
}
