package recon

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braze-etl/internal/config"
	"braze-etl/internal/models"
	"braze-etl/internal/schema"
	"braze-etl/internal/transformer"
)

type fakeAPI struct {
	campaigns []models.Campaign
	details   map[string]*models.CampaignDetail
	series    map[string]*models.DataSeriesResponse
	seriesErr map[string]error

	listedSince  []time.Time
	seriesCalled []string
}

func (f *fakeAPI) ListCampaigns(_ context.Context, since time.Time) ([]models.Campaign, error) {
	f.listedSince = append(f.listedSince, since)
	return f.campaigns, nil
}

func (f *fakeAPI) GetCampaignDetails(_ context.Context, campaignID string) (*models.CampaignDetail, error) {
	detail, ok := f.details[campaignID]
	if !ok {
		return nil, fmt.Errorf("no such campaign %s", campaignID)
	}
	return detail, nil
}

func (f *fakeAPI) GetDataSeries(_ context.Context, campaignID, day string) (*models.DataSeriesResponse, error) {
	f.seriesCalled = append(f.seriesCalled, campaignID)
	if err := f.seriesErr[campaignID]; err != nil {
		return nil, err
	}
	return f.series[campaignID], nil
}

type fakeWarehouse struct {
	ids   []string
	pairs []models.IDName

	ensured        []string
	inserted       []models.Campaign
	listUpdated    []models.Campaign
	detailUpdated  []*models.CampaignDetail
	loaded         []*models.AnalyticsRecord
	joinedForDates []time.Time
}

func (f *fakeWarehouse) EnsureTable(_ context.Context, table schema.Table) error {
	f.ensured = append(f.ensured, table.ID)
	return nil
}

func (f *fakeWarehouse) InsertCampaign(_ context.Context, campaign models.Campaign) error {
	f.inserted = append(f.inserted, campaign)
	f.ids = append(f.ids, campaign.ID)
	return nil
}

func (f *fakeWarehouse) SelectAllIDs(context.Context) ([]string, error) {
	return f.ids, nil
}

func (f *fakeWarehouse) SelectIDNamePairs(context.Context) ([]models.IDName, error) {
	return f.pairs, nil
}

func (f *fakeWarehouse) UpdateCampaignDetail(_ context.Context, detail *models.CampaignDetail) error {
	f.detailUpdated = append(f.detailUpdated, detail)
	return nil
}

func (f *fakeWarehouse) UpdateCampaignList(_ context.Context, campaign models.Campaign) error {
	f.listUpdated = append(f.listUpdated, campaign)
	return nil
}

func (f *fakeWarehouse) LoadAnalytics(_ context.Context, records []*models.AnalyticsRecord) error {
	f.loaded = append(f.loaded, records...)
	return nil
}

func (f *fakeWarehouse) InsertJoinedForDate(_ context.Context, day time.Time) error {
	f.joinedForDates = append(f.joinedForDates, day)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Dataset:        "braze_campaigns",
		DirectoryTable: "campaigns_list",
		AnalyticsTable: "campaign_analytics",
		JoinedTable:    "ga_bi_joined_analytics",
	}
}

func testTables() []schema.Table {
	return []schema.Table{
		{ID: "braze_campaigns.campaigns_list"},
		{ID: "braze_campaigns.campaign_analytics"},
		{ID: "braze_campaigns.ga_bi_joined_analytics"},
	}
}

func newTestDriver(api *fakeAPI, wh *fakeWarehouse) *Driver {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewDriver(api, wh, transformer.New(logger), testConfig(), testTables(), logger)
}

func TestRunInsertsOnlyMissingCampaigns(t *testing.T) {
	day := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		campaigns: []models.Campaign{
			{ID: "c1", Name: "known$s$m$n"},
			{ID: "c2", Name: "fresh$s$m$n"},
			{ID: "", Name: "bogus"},
		},
	}
	wh := &fakeWarehouse{ids: []string{"c1"}}

	require.NoError(t, newTestDriver(api, wh).Run(context.Background(), day))

	require.Len(t, wh.inserted, 1)
	assert.Equal(t, "c2", wh.inserted[0].ID)
	require.Len(t, wh.listUpdated, 1)
	assert.Equal(t, "c1", wh.listUpdated[0].ID)

	// The listing was filtered to edits since two days before the day.
	require.Len(t, api.listedSince, 1)
	assert.Equal(t, day.AddDate(0, 0, -2), api.listedSince[0])

	// Re-running the same day inserts nothing new.
	api.listedSince = nil
	require.NoError(t, newTestDriver(api, wh).Run(context.Background(), day))
	assert.Len(t, wh.inserted, 1)
}

func TestRunBackfillsOneOffAnalytics(t *testing.T) {
	day := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		series: map[string]*models.DataSeriesResponse{
			"a": {Data: []models.SeriesDatum{{
				Messages: map[string][]map[string]interface{}{
					"email": {{"variation_name": "A", "sent": float64(10), "opens": float64(3)}},
				},
			}}},
		},
	}
	wh := &fakeWarehouse{
		pairs: []models.IDName{
			{ID: "a", Name: "220601_promo$src$med$A"},
			{ID: "b", Name: "always_on$src$med$n"},
			{ID: "c", Name: "220531_promo$src$med$n"},
		},
	}

	require.NoError(t, newTestDriver(api, wh).Run(context.Background(), day))

	// Only the one-off matching the day was fetched.
	assert.Equal(t, []string{"a"}, api.seriesCalled)
	require.Len(t, wh.loaded, 1)
	assert.Equal(t, "a", wh.loaded[0].ID)
	assert.Equal(t, "email", wh.loaded[0].Channel)

	require.Len(t, wh.joinedForDates, 1)
	assert.Equal(t, day, wh.joinedForDates[0])

	assert.Contains(t, wh.ensured, "braze_campaigns.campaigns_list")
	assert.Contains(t, wh.ensured, "braze_campaigns.campaign_analytics")
	assert.Contains(t, wh.ensured, "braze_campaigns.ga_bi_joined_analytics")
}

func TestRunSkipsCampaignOnSeriesError(t *testing.T) {
	day := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		seriesErr: map[string]error{"bad": fmt.Errorf("upstream down")},
		series: map[string]*models.DataSeriesResponse{
			"good": {Data: []models.SeriesDatum{{
				Messages: map[string][]map[string]interface{}{
					"webhook": {{"sent": float64(2)}},
				},
			}}},
		},
	}
	wh := &fakeWarehouse{
		pairs: []models.IDName{
			{ID: "bad", Name: "220601_bad"},
			{ID: "good", Name: "220601_good"},
		},
	}

	require.NoError(t, newTestDriver(api, wh).Run(context.Background(), day))

	// The failing campaign is skipped, the rest of the batch loads.
	require.Len(t, wh.loaded, 1)
	assert.Equal(t, "good", wh.loaded[0].ID)
}

func TestSyncDetailsUpdatesWatermarks(t *testing.T) {
	now := time.Date(2022, 6, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		details: map[string]*models.CampaignDetail{
			"in": {ID: "in", LastSent: "2022-05-30T18:00:00Z", UpdatedAt: "2022-05-30T18:00:00Z",
				Channels: []string{"ios_push"}},
			"out": {ID: "out", LastSent: "2022-05-01T18:00:00Z", UpdatedAt: "2022-05-01T18:00:00Z",
				Channels: []string{"email"}},
		},
	}
	wh := &fakeWarehouse{ids: []string{"in", "out", "gone"}}

	require.NoError(t, newTestDriver(api, wh).SyncDetails(context.Background(), now))

	// Only the campaign sent inside the reporting window gets its
	// watermark pushed; the fetch error for "gone" is skipped.
	require.Len(t, wh.detailUpdated, 1)
	assert.Equal(t, "in", wh.detailUpdated[0].ID)
}
