package packet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	"github.com/smallbiznis/surge/internal/observability/metrics"
	"github.com/smallbiznis/surge/internal/providers/pdf"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"github.com/smallbiznis/surge/internal/warning"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrStorePacket = errors.New("packet_store_failed")

// ProgressFunc is called once per attempted source.
type ProgressFunc func()

type AssemblerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Storage    storage.Storage
	Renderer   pdf.Renderer
	Merger     pdf.Merger
	Reports    reportdomain.Repository
	Households householddomain.Repository
	Surges     surgedomain.Repository
	Pipeline   *config.PipelineConfigHolder
	Metrics    *metrics.PipelineMetrics `optional:"true"`
}

// Assembler builds one household's packet for a surge.
type Assembler struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	storage  storage.Storage
	renderer pdf.Renderer
	merger   pdf.Merger

	reportRepo    reportdomain.Repository
	householdRepo householddomain.Repository
	surgeRepo     surgedomain.Repository

	pipeline *config.PipelineConfigHolder
	metrics  *metrics.PipelineMetrics
	tracer   trace.Tracer
}

func NewAssembler(p AssemblerParams) *Assembler {
	return &Assembler{
		db:       p.DB,
		log:      p.Log.Named("packet.assembler"),
		genID:    p.GenID,
		clock:    p.Clock,
		storage:  p.Storage,
		renderer: p.Renderer,
		merger:   p.Merger,

		reportRepo:    p.Reports,
		householdRepo: p.Households,
		surgeRepo:     p.Surges,

		pipeline: p.Pipeline,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("surge/packet"),
	}
}

// Build assembles, stores and snapshots the packet of one household. Missing
// records, render failures and missing uploads only shrink the packet; a
// failed packet write fails the build and leaves the previous snapshot alone.
func (a *Assembler) Build(ctx context.Context, s *surgedomain.Surge, householdID snowflake.ID, progress ProgressFunc) (*surgedomain.Snapshot, error) {
	if s == nil {
		return nil, surgedomain.ErrSurgeNotFound
	}
	if progress == nil {
		progress = func() {}
	}

	ctx, cancel := context.WithTimeout(ctx, a.pipeline.Get().BuildTimeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "packet.build", trace.WithAttributes(
		attribute.String("surge.id", s.ID.String()),
		attribute.String("household.id", householdID.String()),
	))
	defer span.End()

	started := time.Now()
	snapshot, err := a.build(ctx, s, householdID, progress)
	a.metrics.RecordPacketBuild(err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("packet.size_bytes", snapshot.SizeBytes))
	return snapshot, nil
}

func (a *Assembler) build(ctx context.Context, s *surgedomain.Surge, householdID snowflake.ID, progress ProgressFunc) (*surgedomain.Snapshot, error) {
	log := a.log.With(
		zap.String("surge_id", s.ID.String()),
		zap.String("household_id", householdID.String()),
	)

	household, err := a.householdRepo.FindByID(ctx, a.db, householdID)
	if err != nil {
		log.Error("packet.household.load_failed", zap.Error(err))
		return nil, err
	}
	if household == nil || household.OrgID != s.OrgID {
		log.Error("packet.household.not_found")
		return nil, householddomain.ErrHouseholdNotFound
	}

	a.seedRecords(ctx, log, s, household)
	records := a.loadRecords(ctx, log, householdID)

	var (
		docs     [][]byte
		captures []surgedomain.ReportCapture
	)
	for _, source := range ResolveSurge(s) {
		switch source.Kind {
		case SourceReport:
			doc, capture, ok := a.renderReport(ctx, log, records[source.ReportType])
			if ok {
				docs = append(docs, doc)
				captures = append(captures, capture)
			} else {
				log.Warn("packet.entry.skipped", zap.String("source", source.String()))
			}
			a.metrics.RecordEntry(string(source.Kind), ok)
		case SourceUpload:
			doc, err := a.storage.Get(ctx, source.Upload.StorageKey)
			ok := err == nil
			if ok {
				docs = append(docs, doc)
			} else {
				log.Warn("packet.entry.skipped", zap.String("source", source.String()), zap.Error(err))
			}
			a.metrics.RecordEntry(string(source.Kind), ok)
		}
		progress()
	}

	merged, err := a.merger.Merge(docs)
	if err != nil {
		log.Error("packet.merge_failed", zap.Int("documents", len(docs)), zap.Error(err))
		return nil, err
	}

	key := surgedomain.PacketKey(s.ID, householdID)
	if err := a.storage.Put(ctx, key, merged); err != nil {
		log.Error("packet.store_failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStorePacket, err)
	}

	warnings, err := warning.Evaluate(household, s)
	if err != nil {
		log.Error("packet.warnings_failed", zap.Error(err))
		return nil, err
	}

	now := a.clock.Now()
	snapshot := &surgedomain.Snapshot{
		ID:          a.genID.Generate(),
		OrgID:       s.OrgID,
		SurgeID:     s.ID,
		HouseholdID: householdID,
		StorageKey:  key,
		FileName:    FileName(household.Name, s.Name, householdID),
		SizeBytes:   int64(len(merged)),
		PreparedAt:  now,
		Reports:     datatypes.NewJSONSlice(captures),
		Warnings:    datatypes.NewJSONSlice(warnings),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.surgeRepo.UpsertSnapshot(ctx, a.db, snapshot); err != nil {
		log.Error("packet.snapshot_failed", zap.Error(err))
		return nil, err
	}

	stored, err := a.surgeRepo.FindSnapshot(ctx, a.db, s.ID, householdID)
	if err != nil || stored == nil {
		stored = snapshot
	}
	log.Info("packet.built",
		zap.Int("documents", len(docs)),
		zap.Int64("size_bytes", stored.SizeBytes),
		zap.Int("warnings", len(warnings)),
	)
	return stored, nil
}

func (a *Assembler) seedRecords(ctx context.Context, log *zap.Logger, s *surgedomain.Surge, household *householddomain.Household) {
	if len(s.ReportTypes) == 0 {
		return
	}
	now := a.clock.Now()
	seeds := make([]*reportdomain.ReportRecord, 0, len(s.ReportTypes))
	for _, t := range s.ReportTypes {
		seeds = append(seeds, &reportdomain.ReportRecord{
			ID:          a.genID.Generate(),
			OrgID:       household.OrgID,
			HouseholdID: household.ID,
			Type:        t,
			Data:        datatypes.JSONMap(reportdomain.DefaultData(t)),
			Warnings:    datatypes.NewJSONSlice([]string{}),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if err := a.reportRepo.InsertMissing(ctx, a.db, seeds); err != nil {
		log.Warn("packet.seed_failed", zap.Error(err))
	}
}

func (a *Assembler) loadRecords(ctx context.Context, log *zap.Logger, householdID snowflake.ID) map[reportdomain.ReportType]*reportdomain.ReportRecord {
	records, err := a.reportRepo.ListByHousehold(ctx, a.db, householdID)
	if err != nil {
		log.Warn("packet.records.load_failed", zap.Error(err))
		return nil
	}
	byType := make(map[reportdomain.ReportType]*reportdomain.ReportRecord, len(records))
	for _, record := range records {
		byType[record.Type] = record
	}
	return byType
}

func (a *Assembler) renderReport(ctx context.Context, log *zap.Logger, record *reportdomain.ReportRecord) ([]byte, surgedomain.ReportCapture, bool) {
	if record == nil {
		return nil, surgedomain.ReportCapture{}, false
	}
	doc, err := a.renderer.Render(ctx, *record)
	if err != nil {
		log.Warn("packet.render_failed",
			zap.String("report_type", string(record.Type)),
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
		return nil, surgedomain.ReportCapture{}, false
	}
	return doc, surgedomain.ReportCapture{
		Type:     record.Type,
		Data:     map[string]any(record.Data),
		Warnings: append([]string(nil), record.Warnings...),
	}, true
}

// FileName is the download name of a household's packet.
// FileName is the display name of a packet file, e.g.
// "Smith Family - Q3 Review.pdf". Path separators and characters reserved on
// common filesystems are replaced.
func FileName(householdName, surgeName string, householdID snowflake.ID) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{householdName, surgeName} {
		if clean := cleanFileName(part); clean != "" {
			parts = append(parts, clean)
		}
	}
	if len(parts) == 0 {
		return "packet-" + householdID.String() + ".pdf"
	}
	return strings.Join(parts, " - ") + ".pdf"
}

var reservedFileChars = strings.NewReplacer(
	"/", " ", "\\", " ", ":", " ", "*", " ", "?", " ",
	"\"", " ", "<", " ", ">", " ", "|", " ",
)

func cleanFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, reservedFileChars.Replace(name))
	return strings.Trim(strings.Join(strings.Fields(name), " "), ". ")
}
