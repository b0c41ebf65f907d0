package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/surge/internal/config"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	"github.com/smallbiznis/surge/internal/observability/metrics"
	"github.com/smallbiznis/surge/internal/packet"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrEmptyArchive = errors.New("archive_empty")

// Ref locates a built archive. URL is signed and stops working at ExpiresAt.
type Ref struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Storage    storage.Storage
	Signer     *storage.Signer
	Surges     surgedomain.Repository
	Households householddomain.Repository
	Metrics    *metrics.PipelineMetrics `optional:"true"`
}

// Aggregator bundles stored packets into one zip object.
type Aggregator struct {
	db      *gorm.DB
	log     *zap.Logger
	ttl     time.Duration
	storage storage.Storage
	signer  *storage.Signer

	surgeRepo     surgedomain.Repository
	householdRepo householddomain.Repository

	metrics *metrics.PipelineMetrics
	tracer  trace.Tracer
}

func New(p Params) *Aggregator {
	ttl := p.Config.Storage.ArchiveURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Aggregator{
		db:      p.DB,
		log:     p.Log.Named("archive.aggregator"),
		ttl:     ttl,
		storage: p.Storage,
		signer:  p.Signer,

		surgeRepo:     p.Surges,
		householdRepo: p.Households,

		metrics: p.Metrics,
		tracer:  otel.Tracer("surge/archive"),
	}
}

type entry struct {
	householdID snowflake.ID
	key         string
	name        string
}

// BuildArchive streams each household's packet into a new zip object and
// returns a signed retrieval reference. Households without a stored packet
// are left out.
func (a *Aggregator) BuildArchive(ctx context.Context, surgeID snowflake.ID, householdIDs []snowflake.ID) (ref Ref, err error) {
	ctx, span := a.tracer.Start(ctx, "archive.build", trace.WithAttributes(
		attribute.String("surge.id", surgeID.String()),
		attribute.Int("archive.households", len(householdIDs)),
	))
	defer func() {
		a.metrics.RecordArchive(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := a.log.With(zap.String("surge_id", surgeID.String()))

	s, err := a.surgeRepo.FindByID(ctx, a.db, surgeID)
	if err != nil {
		return Ref{}, err
	}
	if s == nil {
		return Ref{}, surgedomain.ErrSurgeNotFound
	}

	entries, err := a.plan(ctx, log, s, householdIDs)
	if err != nil {
		return Ref{}, err
	}

	archiveID := strings.ToLower(ulid.Make().String())
	if name := slug.Make(s.Name); name != "" {
		archiveID = name + "-" + archiveID
	}
	key := surgedomain.ArchiveKey(s.ID, archiveID)
	written, err := a.write(ctx, log, key, entries)
	if err != nil {
		_ = a.storage.Delete(context.WithoutCancel(ctx), key)
		log.Warn("archive.failed", zap.String("key", key), zap.Error(err))
		return Ref{}, err
	}

	url, expiresAt, err := a.signer.Sign(key, a.ttl)
	if err != nil {
		return Ref{}, err
	}
	span.SetAttributes(attribute.Int("archive.entries", written))
	log.Info("archive.built",
		zap.String("key", key),
		zap.Int("entries", written),
		zap.Int("requested", len(householdIDs)),
	)
	return Ref{Key: key, URL: url, ExpiresAt: expiresAt}, nil
}

// plan resolves entry names in request order. Snapshot file names win;
// households without one fall back to a name built from their display name.
func (a *Aggregator) plan(ctx context.Context, log *zap.Logger, s *surgedomain.Surge, householdIDs []snowflake.ID) ([]entry, error) {
	snapshots, err := a.surgeRepo.ListSnapshots(ctx, a.db, s.ID)
	if err != nil {
		return nil, err
	}
	bySnapshot := make(map[snowflake.ID]*surgedomain.Snapshot, len(snapshots))
	for _, snapshot := range snapshots {
		bySnapshot[snapshot.HouseholdID] = snapshot
	}

	households, err := a.householdRepo.ListByIDs(ctx, a.db, householdIDs)
	if err != nil {
		return nil, err
	}
	byHousehold := make(map[snowflake.ID]*householddomain.Household, len(households))
	for _, h := range households {
		byHousehold[h.ID] = h
	}

	names := newNameSet()
	seen := make(map[snowflake.ID]struct{}, len(householdIDs))
	entries := make([]entry, 0, len(householdIDs))
	for _, id := range householdIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		e := entry{householdID: id, key: surgedomain.PacketKey(s.ID, id)}
		switch snapshot, h := bySnapshot[id], byHousehold[id]; {
		case snapshot != nil:
			e.key = snapshot.StorageKey
			e.name = snapshot.FileName
		case h != nil && h.OrgID == s.OrgID:
			e.name = packet.FileName(h.Name, s.Name, id)
		default:
			log.Warn("archive.entry.skipped", zap.String("household_id", id.String()), zap.String("reason", "household_not_found"))
			continue
		}
		e.name = names.claim(e.name)
		entries = append(entries, e)
	}
	return entries, nil
}

func (a *Aggregator) write(ctx context.Context, log *zap.Logger, key string, entries []entry) (int, error) {
	out, err := a.storage.Create(ctx, key)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(out)

	written := 0
	for _, e := range entries {
		ok, err := a.copyEntry(ctx, zw, e)
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return 0, err
		}
		if !ok {
			log.Warn("archive.entry.skipped",
				zap.String("household_id", e.householdID.String()),
				zap.String("reason", "packet_not_found"),
			)
			continue
		}
		written++
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if written == 0 {
		return 0, ErrEmptyArchive
	}
	return written, nil
}

// copyEntry reports false when the packet object does not exist.
func (a *Aggregator) copyEntry(ctx context.Context, zw *zip.Writer, e entry) (bool, error) {
	src, err := a.storage.Open(ctx, e.key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer src.Close()

	dst, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		return false, fmt.Errorf("copy %s: %w", e.key, err)
	}
	return true, nil
}

// nameSet hands out unique entry names, suffixing repeats with " (n)".
type nameSet map[string]int

func newNameSet() nameSet {
	return nameSet{}
}

func (n nameSet) claim(name string) string {
	count := n[name]
	n[name] = count + 1
	if count == 0 {
		return name
	}
	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for {
		count++
		candidate := fmt.Sprintf("%s (%d)%s", base, count, ext)
		if _, taken := n[candidate]; !taken {
			n[name] = count
			n[candidate] = 1
			return candidate
		}
	}
}
