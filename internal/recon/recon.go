package recon

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"braze-etl/internal/config"
	"braze-etl/internal/models"
	"braze-etl/internal/schema"
	"braze-etl/internal/transformer"
)

// CampaignAPI is the slice of the Braze client the driver needs.
type CampaignAPI interface {
	ListCampaigns(ctx context.Context, since time.Time) ([]models.Campaign, error)
	GetCampaignDetails(ctx context.Context, campaignID string) (*models.CampaignDetail, error)
	GetDataSeries(ctx context.Context, campaignID, day string) (*models.DataSeriesResponse, error)
}

// Warehouse is the slice of the BigQuery gateway the driver needs.
type Warehouse interface {
	EnsureTable(ctx context.Context, table schema.Table) error
	InsertCampaign(ctx context.Context, campaign models.Campaign) error
	SelectAllIDs(ctx context.Context) ([]string, error)
	SelectIDNamePairs(ctx context.Context) ([]models.IDName, error)
	UpdateCampaignDetail(ctx context.Context, detail *models.CampaignDetail) error
	UpdateCampaignList(ctx context.Context, campaign models.Campaign) error
	LoadAnalytics(ctx context.Context, records []*models.AnalyticsRecord) error
	InsertJoinedForDate(ctx context.Context, day time.Time) error
}

// Driver sequences the reconciliation passes for one reporting day:
// directory sync, one-off analytics backfill, joined-table merge. Every
// pass is safe to re-run; directory rows are id-deduplicated, the
// joined merge replaces nothing but inserts the day's grouping, and the
// analytics load is append-only (duplicates on replay are a known gap,
// resolved by deleting the day's rows before re-running).
type Driver struct {
	api         CampaignAPI
	warehouse   Warehouse
	transformer *transformer.Transformer
	config      *config.Config
	tables      []schema.Table
	logger      *logrus.Logger
}

func NewDriver(api CampaignAPI, wh Warehouse, tr *transformer.Transformer, cfg *config.Config, tables []schema.Table, logger *logrus.Logger) *Driver {
	return &Driver{
		api:         api,
		warehouse:   wh,
		transformer: tr,
		config:      cfg,
		tables:      tables,
		logger:      logger,
	}
}

// Run reconciles one historical reporting day: (a) re-list campaigns
// edited since two days before the day and fill directory gaps,
// (b) re-fetch analytics for that day's one-off campaigns, (c) re-run
// the joined-table merge.
func (d *Driver) Run(ctx context.Context, day time.Time) error {
	d.logger.WithField("date", day.Format("2006-01-02")).Info("Starting reconciliation run")

	if err := d.syncDirectory(ctx, day); err != nil {
		return err
	}
	if err := d.backfillOneOffs(ctx, day); err != nil {
		return err
	}
	if err := d.ensureTableFor(ctx, d.config.JoinedTable); err != nil {
		return err
	}
	if err := d.warehouse.InsertJoinedForDate(ctx, day); err != nil {
		return err
	}

	d.logger.WithField("date", day.Format("2006-01-02")).Info("Reconciliation run finished")
	return nil
}

// RunDaily is the steady-state job: the same passes as Run, pointed at
// yesterday, plus the send-watermark sync for campaigns that went out
// in the last platform day.
func (d *Driver) RunDaily(ctx context.Context) error {
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)

	if err := d.Run(ctx, yesterday); err != nil {
		return err
	}
	return d.SyncDetails(ctx, now)
}

func (d *Driver) syncDirectory(ctx context.Context, day time.Time) error {
	if err := d.ensureTableFor(ctx, d.config.DirectoryTable); err != nil {
		return err
	}

	campaigns, err := d.api.ListCampaigns(ctx, day.AddDate(0, 0, -2))
	if err != nil {
		return err
	}
	existingIDs, err := d.warehouse.SelectAllIDs(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(existingIDs))
	for _, id := range existingIDs {
		known[id] = true
	}

	inserted := 0
	for _, campaign := range campaigns {
		if campaign.ID == "" {
			continue
		}
		if known[campaign.ID] {
			// Already in the directory: refresh name/last_edited so
			// renamed campaigns keep their history as a tag.
			if err := d.warehouse.UpdateCampaignList(ctx, campaign); err != nil {
				return err
			}
			continue
		}
		if err := d.warehouse.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		inserted++
	}

	d.logger.WithFields(logrus.Fields{
		"updated_campaigns": len(campaigns),
		"inserted":          inserted,
	}).Info("Directory sync finished")
	return nil
}

func (d *Driver) backfillOneOffs(ctx context.Context, day time.Time) error {
	if err := d.ensureTableFor(ctx, d.config.AnalyticsTable); err != nil {
		return err
	}

	pairs, err := d.warehouse.SelectIDNamePairs(ctx)
	if err != nil {
		return err
	}

	dayString := day.Format("2006-01-02")
	loaded := 0
	for _, pair := range pairs {
		if !d.transformer.MatchesOneOffDay(pair.Name, day) {
			continue
		}
		d.logger.WithFields(logrus.Fields{
			"id":   pair.ID,
			"name": pair.Name,
		}).Info("Fetching analytics for one-off campaign")

		series, err := d.api.GetDataSeries(ctx, pair.ID, dayString)
		if err != nil {
			// One bad campaign must not sink the batch.
			d.logger.WithError(err).WithField("id", pair.ID).Error("Failed to fetch data series, skipping campaign")
			continue
		}
		records := d.transformer.NormalizeDayAnalytics(pair.ID, pair.Name, civil.DateOf(day), series)
		if len(records) == 0 {
			continue
		}
		if err := d.warehouse.LoadAnalytics(ctx, records); err != nil {
			return err
		}
		loaded += len(records)
	}

	d.logger.WithFields(logrus.Fields{
		"date":    dayString,
		"records": loaded,
	}).Info("One-off analytics backfill finished")
	return nil
}

// SyncDetails fetches details for every directory campaign, keeps the
// ones sent within the last platform day relative to now, and pushes
// their last_sent/updated_at watermarks into the directory table.
func (d *Driver) SyncDetails(ctx context.Context, now time.Time) error {
	ids, err := d.warehouse.SelectAllIDs(ctx)
	if err != nil {
		return err
	}

	var details []*models.CampaignDetail
	for _, id := range ids {
		detail, err := d.api.GetCampaignDetails(ctx, id)
		if err != nil {
			d.logger.WithError(err).WithField("id", id).Error("Failed to fetch campaign details, skipping")
			continue
		}
		details = append(details, detail)
	}

	buckets := d.transformer.BucketDetailsForDay(details, now)
	for group, grouped := range buckets {
		d.logger.WithFields(logrus.Fields{
			"channel":   group,
			"campaigns": len(grouped),
		}).Info("Campaigns sent in window")
		for _, detail := range grouped {
			if err := d.warehouse.UpdateCampaignDetail(ctx, detail); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) ensureTableFor(ctx context.Context, tableName string) error {
	tableID := d.config.Dataset + "." + tableName
	for _, table := range d.tables {
		if table.ID == tableID {
			return d.warehouse.EnsureTable(ctx, table)
		}
	}
	return fmt.Errorf("no schema defined for table %s", tableID)
}
