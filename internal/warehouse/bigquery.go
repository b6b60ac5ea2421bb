package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"braze-etl/internal/config"
	"braze-etl/internal/models"
	"braze-etl/internal/schema"
)

// Client is a thin parameterized-SQL gateway over the three warehouse
// tables. It owns the BigQuery connection for the life of the process
// and no business logic.
type Client struct {
	bq     *bigquery.Client
	config *config.Config
	logger *logrus.Logger
}

func NewClient(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	bq, err := bigquery.NewClient(ctx, cfg.GCPProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return &Client{bq: bq, config: cfg, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.bq.Close()
}

// EnsureTable checks that a table from the declarative schema file
// exists and creates it from its column description when the check
// comes back 404. The table id is dataset-qualified ("dataset.table").
func (c *Client) EnsureTable(ctx context.Context, table schema.Table) error {
	datasetID, tableID, ok := strings.Cut(table.ID, ".")
	if !ok {
		return fmt.Errorf("invalid table id %q, want dataset.table", table.ID)
	}
	tableRef := c.bq.Dataset(datasetID).Table(tableID)
	_, err := tableRef.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check table %s: %w", table.ID, err)
	}

	c.logger.WithField("table", table.ID).Warn("Creating table")
	metadata := &bigquery.TableMetadata{Schema: schema.Build(table.Schema)}
	if err := tableRef.Create(ctx, metadata); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.ID, err)
	}
	return nil
}

// InsertCampaign appends one newly discovered campaign to the
// directory table.
func (c *Client) InsertCampaign(ctx context.Context, campaign models.Campaign) error {
	queryString := fmt.Sprintf(`INSERT INTO %s
		(id, name, tags, last_edited, is_api_campaign)
		VALUES (@id, @name, @tags, @last_edited, @is_api_campaign)`,
		c.directoryTable())

	query := c.bq.Query(queryString)
	tags := campaign.Tags
	if tags == nil {
		tags = []string{}
	}
	query.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: campaign.ID},
		{Name: "name", Value: campaign.Name},
		{Name: "tags", Value: tags},
		{Name: "last_edited", Value: campaign.LastEdited},
		{Name: "is_api_campaign", Value: campaign.IsAPICampaign},
	}
	if err := c.runDML(ctx, query); err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", campaign.ID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"id":   campaign.ID,
		"name": campaign.Name,
	}).Info("Inserted campaign into directory table")
	return nil
}

// SelectAllIDs reads every campaign id from the directory table. A
// missing table reads as empty, matching first-run behavior before the
// directory has been bootstrapped.
func (c *Client) SelectAllIDs(ctx context.Context) ([]string, error) {
	query := c.bq.Query(fmt.Sprintf("SELECT id FROM %s", c.directoryTable()))
	it, err := query.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select campaign ids: %w", err)
	}

	var ids []string
	for {
		var row struct {
			ID string `bigquery:"id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read campaign id row: %w", err)
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// SelectIDNamePairs reads (id, name) pairs from the directory table for
// the one-off reconciliation scan.
func (c *Client) SelectIDNamePairs(ctx context.Context) ([]models.IDName, error) {
	query := c.bq.Query(fmt.Sprintf("SELECT id, name FROM %s", c.directoryTable()))
	it, err := query.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select campaign id/name pairs: %w", err)
	}

	var pairs []models.IDName
	for {
		var row models.IDName
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read campaign id/name row: %w", err)
		}
		pairs = append(pairs, row)
	}
	return pairs, nil
}

// UpdateCampaignDetail merges send watermarks into the directory table
// row: last_sent and updated_at only ever move forward, so replaying a
// day can never rewind them.
func (c *Client) UpdateCampaignDetail(ctx context.Context, detail *models.CampaignDetail) error {
	queryString := fmt.Sprintf(`UPDATE %s
		SET last_sent = (CASE
			WHEN last_sent IS NULL THEN @last_sent
			WHEN last_sent < @last_sent THEN @last_sent
			ELSE last_sent END),
		updated_at = (CASE
			WHEN updated_at IS NULL THEN @updated_at
			WHEN updated_at < @updated_at THEN @updated_at
			ELSE updated_at END)
		WHERE id = @id`, c.directoryTable())

	query := c.bq.Query(queryString)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "last_sent", Value: detail.LastSent},
		{Name: "updated_at", Value: detail.UpdatedAt},
		{Name: "id", Value: detail.ID},
	}
	if err := c.runDML(ctx, query); err != nil {
		return fmt.Errorf("failed to update detail for campaign %s: %w", detail.ID, err)
	}
	return nil
}

// UpdateCampaignList refreshes a known campaign's name and last_edited
// timestamp, recording the old name as a tag when it changed.
func (c *Client) UpdateCampaignList(ctx context.Context, campaign models.Campaign) error {
	queryString := fmt.Sprintf(`UPDATE %s
		SET tags = (CASE
			WHEN name != @name THEN ARRAY_CONCAT(tags, [CONCAT("Name changes: ", name)])
			ELSE tags END),
		name = @name,
		last_edited = @last_edited
		WHERE id = @id`, c.directoryTable())

	query := c.bq.Query(queryString)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "name", Value: campaign.Name},
		{Name: "last_edited", Value: campaign.LastEdited},
		{Name: "id", Value: campaign.ID},
	}
	if err := c.runDML(ctx, query); err != nil {
		return fmt.Errorf("failed to update list row for campaign %s: %w", campaign.ID, err)
	}
	return nil
}

// LoadAnalytics appends a batch of analytics records. The load is
// append-only with no dedup key: replaying a day that already loaded
// will duplicate rows, a known gap reconciled by hand upstream.
func (c *Client) LoadAnalytics(ctx context.Context, records []*models.AnalyticsRecord) error {
	if len(records) == 0 {
		return nil
	}
	inserter := c.bq.Dataset(c.config.Dataset).Table(c.config.AnalyticsTable).Inserter()
	if err := inserter.Put(ctx, records); err != nil {
		return fmt.Errorf("failed to load analytics records: %w", err)
	}
	c.logger.WithField("records", len(records)).Info("Loaded analytics records")
	return nil
}

// InsertJoinedForDate merges the day's analytics with the GA sessions
// export and the internal BI table into the joined reporting table,
// keyed on the UTM triplet plus date. GA session counters aggregate;
// descriptive columns take any non-null value within the group.
func (c *Client) InsertJoinedForDate(ctx context.Context, day time.Time) error {
	gaTable := fmt.Sprintf("`%s.%s.%s%s`",
		c.config.GCPProject, c.config.GADataset, c.config.GATablePrefix, day.Format("20060102"))

	queryString := fmt.Sprintf(`INSERT INTO %s
		(date, id, original_name, utm_campaign_source, utm_campaign_medium, utm_campaign_name, channel,
		ios_push, android_push, sent, opens, unique_opens, unique_clicks, delivered,
		impressions, clicks, first_button_clicks, second_button_clicks,
		conversions, conversions1, conversions2, conversions3,
		unique_recipients, revenue, GA_visit, GA_bounces, GA_transaction, GA_revenue, BI_conversion, BI_revenue)

		WITH ga AS ( SELECT * FROM %s ),
			braze AS ( SELECT * FROM %s WHERE date = @day ),
			bi AS ( SELECT * FROM %s )

		SELECT braze.date, id, original_name, utm_campaign_source, utm_campaign_medium, utm_campaign_name, ANY_VALUE(braze.channel) AS channel,
			ANY_VALUE(ios_push) AS ios_push, ANY_VALUE(android_push) AS android_push,
			ANY_VALUE(sent) AS sent, ANY_VALUE(opens) AS opens, ANY_VALUE(unique_opens) AS unique_opens, ANY_VALUE(unique_clicks) AS unique_clicks, ANY_VALUE(delivered) AS delivered,
			ANY_VALUE(impressions) AS impressions, ANY_VALUE(clicks) AS clicks, ANY_VALUE(first_button_clicks) AS first_button_clicks, ANY_VALUE(second_button_clicks) AS second_button_clicks,
			ANY_VALUE(conversions) AS conversions, ANY_VALUE(conversions1) AS conversions1, ANY_VALUE(conversions2) AS conversions2, ANY_VALUE(conversions3) AS conversions3,
			ANY_VALUE(unique_recipients) AS unique_recipients, ANY_VALUE(revenue) AS revenue,
			COUNT(totals.visits) AS GA_visit, COUNT(totals.bounces) AS GA_bounces, COUNT(totals.transactions) AS GA_transaction, SUM(totals.totalTransactionRevenue) AS GA_revenue,
			ANY_VALUE(bi.conversion) AS BI_conversion, ANY_VALUE(bi.conversion_revenue) AS BI_revenue
		FROM braze
		LEFT JOIN ga
			ON braze.utm_campaign_source = ga.trafficSource.source
			AND braze.utm_campaign_medium = ga.trafficSource.medium
			AND braze.utm_campaign_name = ga.trafficSource.campaign
			AND braze.date = PARSE_DATE("%%Y%%m%%d", ga.date)
		LEFT JOIN bi
			ON braze.utm_campaign_source = bi.chnl_no
			AND braze.utm_campaign_name = bi.chnl_detail_no_num
			AND braze.date = bi.date
		GROUP BY braze.date, id, original_name, utm_campaign_source, utm_campaign_medium, utm_campaign_name
		ORDER BY date ASC`,
		c.joinedTable(), gaTable, c.analyticsTable(), c.biTable())

	query := c.bq.Query(queryString)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "day", Value: civil.DateOf(day)},
	}
	if err := c.runDML(ctx, query); err != nil {
		return fmt.Errorf("failed to insert joined rows for %s: %w", day.Format("2006-01-02"), err)
	}

	c.logger.WithField("date", day.Format("2006-01-02")).Info("Merged joined reporting table")
	return nil
}

// MergeWatermark is the pure form of the monotonic update rule used by
// UpdateCampaignDetail: the new value wins only when the old one is
// absent or older.
func MergeWatermark(old *string, updated string) string {
	if old == nil || *old < updated {
		return updated
	}
	return *old
}

func (c *Client) runDML(ctx context.Context, query *bigquery.Query) error {
	job, err := query.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (c *Client) directoryTable() string {
	return fmt.Sprintf("`%s.%s.%s`", c.config.GCPProject, c.config.Dataset, c.config.DirectoryTable)
}

func (c *Client) analyticsTable() string {
	return fmt.Sprintf("`%s.%s.%s`", c.config.GCPProject, c.config.Dataset, c.config.AnalyticsTable)
}

func (c *Client) joinedTable() string {
	return fmt.Sprintf("`%s.%s.%s`", c.config.GCPProject, c.config.Dataset, c.config.JoinedTable)
}

func (c *Client) biTable() string {
	return fmt.Sprintf("`%s.%s`", c.config.GCPProject, c.config.BITable)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
