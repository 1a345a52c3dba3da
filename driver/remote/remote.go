// Package remote implements rendering backend on top of hosted presentation
// editing API. Working copies live in the configured shared drive, every
// mutation chunk is a single batch update request.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/slides/v1"

	"cardgen/card"
	"cardgen/common"
	"cardgen/driver"
	"cardgen/fontfit"
)

// Options of the remote driver.
type Options struct {
	Log             *zap.Logger
	CredentialsFile string
	CredentialsJSON []byte
	// SharedDriveID is parent folder of working copies.
	SharedDriveID string
	// Endpoint overrides API location.
	Endpoint          string
	BatchCeiling      int
	RequestsPerMinute int
	ReadRetries       uint64
	RetryBase         time.Duration
	// ClientOptions are added to API client options as is.
	ClientOptions []option.ClientOption
}

// Driver is a remote rendering backend.
type Driver struct {
	opts    Options
	log     *zap.Logger
	slides  *slides.Service
	drive   *drive.Service
	limiter *rate.Limiter
}

// New creates API clients. No requests are made.
func New(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}

	copts := []option.ClientOption{option.WithScopes(slides.PresentationsScope, drive.DriveScope)}
	switch {
	case len(opts.CredentialsJSON) > 0:
		copts = append(copts, option.WithCredentialsJSON(opts.CredentialsJSON))
	case len(opts.CredentialsFile) > 0:
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if len(opts.Endpoint) > 0 {
		copts = append(copts, option.WithEndpoint(opts.Endpoint))
	}
	copts = append(copts, opts.ClientOptions...)

	ss, err := slides.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create presentations client: %w", err)
	}
	ds, err := drive.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create drive client: %w", err)
	}

	return &Driver{
		opts:   opts,
		log:    opts.Log.Named("driver.remote"),
		slides: ss,
		drive:  ds,
		// requests are spread evenly, no bursts
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
	}, nil
}

// remoteCopy is driver state of a working copy.
type remoteCopy struct {
	mu sync.Mutex
	// content container object of every known unit
	containers map[driver.UnitID]string
	geometry   map[driver.UnitID]*fontfit.Geometry
}

func state(h *driver.Handle) (*remoteCopy, error) {
	rc, ok := h.Private.(*remoteCopy)
	if !ok {
		return nil, fmt.Errorf("working copy %s does not belong to remote driver", h.ID)
	}
	return rc, nil
}

func (d *Driver) Name() string {
	return "remote"
}

// Limits reports every card substitution as one request per placeholder plus
// font size update.
func (d *Driver) Limits() driver.Limits {
	return driver.Limits{BatchCeiling: d.opts.BatchCeiling, SubstitutionOps: len(card.Placeholders) + 1}
}

// newObjectID returns object id acceptable by the API: 5 to 50 characters,
// starting with a word character.
func newObjectID() string {
	return "cg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// read runs idempotent call retrying transient failures.
func (d *Driver) read(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(d.opts.ReadRetries, retry.NewExponential(d.opts.RetryBase))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil && transient(err) {
			d.log.Debug("Retrying request", zap.String("request", what), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// write runs mutation exactly once.
func (d *Driver) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func transient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return false
}

// classify maps API errors onto driver errors.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	if gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", driver.ErrNotFound, err)
	}
	for _, item := range gerr.Errors {
		if item.Reason == "exportSizeLimitExceeded" {
			return fmt.Errorf("%w: %w", driver.ErrSizeLimit, err)
		}
	}
	if strings.Contains(strings.ToLower(gerr.Message), "too large") {
		return fmt.Errorf("%w: %w", driver.ErrSizeLimit, err)
	}
	return err
}

// Open copies template into shared drive and reads its slides.
func (d *Driver) Open(ctx context.Context, templateID, title string) (*driver.Handle, error) {
	f := &drive.File{Name: title}
	if len(d.opts.SharedDriveID) > 0 {
		f.Parents = []string{d.opts.SharedDriveID}
	}
	var copied *drive.File
	err := d.write(ctx, func(ctx context.Context) (err error) {
		copied, err = d.drive.Files.Copy(templateID, f).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to copy template %s: %w", templateID, classify(err))
	}
	h := &driver.Handle{ID: copied.Id, Title: title}
	d.log.Debug("Working copy created", zap.String("template", templateID), zap.String("copy", h.ID))

	var pres *slides.Presentation
	err = d.read(ctx, "get", func(ctx context.Context) (err error) {
		pres, err = d.slides.Presentations.Get(h.ID).Context(ctx).Do()
		return err
	})
	if err != nil {
		// copy exists and is left for inspection
		return nil, fmt.Errorf("unable to read working copy %s: %w", h.ID, classify(err))
	}

	rc := &remoteCopy{
		containers: make(map[driver.UnitID]string),
		geometry:   make(map[driver.UnitID]*fontfit.Geometry),
	}
	for _, page := range pres.Slides {
		id := driver.UnitID(page.ObjectId)
		h.Units = append(h.Units, id)
		if el := contentShape(page); el != nil {
			rc.containers[id] = el.ObjectId
			rc.geometry[id] = geometry(el)
		}
	}
	h.Private = rc
	return h, nil
}

func shapeText(el *slides.PageElement) string {
	if el.Shape == nil || el.Shape.Text == nil {
		return ""
	}
	var sb strings.Builder
	for _, te := range el.Shape.Text.TextElements {
		if te.TextRun != nil {
			sb.WriteString(te.TextRun.Content)
		}
	}
	return sb.String()
}

// contentShape finds shape holding card content on the page.
func contentShape(page *slides.Page) *slides.PageElement {
	for _, el := range page.PageElements {
		text := shapeText(el)
		for _, ph := range card.ContentPlaceholders {
			if strings.Contains(text, string(ph)) {
				return el
			}
		}
	}
	return nil
}

func emu(dim *slides.Dimension, scale float64) float64 {
	if dim == nil {
		return 0
	}
	if scale == 0 {
		scale = 1
	}
	v := dim.Magnitude * scale
	if dim.Unit == "PT" {
		v *= fontfit.EMUPerInch / 72
	}
	return v
}

// geometry is element size scaled by its transform, unknown dimensions are
// zero.
func geometry(el *slides.PageElement) *fontfit.Geometry {
	if el.Size == nil {
		return &fontfit.Geometry{}
	}
	var sx, sy float64
	if el.Transform != nil {
		sx, sy = el.Transform.ScaleX, el.Transform.ScaleY
	}
	g := fontfit.GeometryFromEMU(emu(el.Size.Width, sx), emu(el.Size.Height, sy))
	return &g
}

func (d *Driver) batchUpdate(ctx context.Context, h *driver.Handle, reqs []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
	var resp *slides.BatchUpdatePresentationResponse
	err := d.write(ctx, func(ctx context.Context) (err error) {
		resp, err = d.slides.Presentations.BatchUpdate(h.ID, &slides.BatchUpdatePresentationRequest{Requests: reqs}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// Duplicate assigns object ids to copies of slides and their content
// containers, so copies could be addressed without reading presentation.
func (d *Driver) Duplicate(ctx context.Context, h *driver.Handle, srcs []driver.UnitID) ([]driver.UnitID, error) {
	rc, err := state(h)
	if err != nil {
		return nil, err
	}

	ids := make([]driver.UnitID, 0, len(srcs))
	containers := make(map[driver.UnitID]string, len(srcs))
	reqs := make([]*slides.Request, 0, len(srcs))

	rc.mu.Lock()
	for _, src := range srcs {
		id := driver.UnitID(newObjectID())
		objectIDs := map[string]string{string(src): string(id)}
		if cid, ok := rc.containers[src]; ok {
			containers[id] = newObjectID()
			objectIDs[cid] = containers[id]
		}
		ids = append(ids, id)
		reqs = append(reqs, &slides.Request{DuplicateObject: &slides.DuplicateObjectRequest{ObjectId: string(src), ObjectIds: objectIDs}})
	}
	rc.mu.Unlock()

	if _, err := d.batchUpdate(ctx, h, reqs); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	for i, id := range ids {
		if cid, ok := containers[id]; ok {
			rc.containers[id] = cid
			rc.geometry[id] = rc.geometry[srcs[i]]
		}
	}
	return ids, nil
}

// Measure returns geometry learned when working copy was read, copies share
// geometry of their source.
func (d *Driver) Measure(ctx context.Context, h *driver.Handle, unit driver.UnitID) (*fontfit.Geometry, error) {
	rc, err := state(h)
	if err != nil {
		return nil, err
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.geometry[unit], nil
}

func (d *Driver) Substitute(ctx context.Context, h *driver.Handle, subs []driver.Substitution) error {
	rc, err := state(h)
	if err != nil {
		return err
	}

	reqs := make([]*slides.Request, 0, len(subs)*(len(card.Placeholders)+1))
	rc.mu.Lock()
	for _, sub := range subs {
		for _, ph := range card.Placeholders {
			r := &slides.ReplaceAllTextRequest{
				ContainsText:  &slides.SubstringMatchCriteria{Text: string(ph), MatchCase: true},
				ReplaceText:   sub.Fields[ph],
				PageObjectIds: []string{string(sub.Unit)},
			}
			if len(r.ReplaceText) == 0 {
				r.ForceSendFields = []string{"ReplaceText"}
			}
			reqs = append(reqs, &slides.Request{ReplaceAllText: r})
		}
		cid, ok := rc.containers[sub.Unit]
		if !ok || sub.FontSize <= 0 {
			continue
		}
		reqs = append(reqs, &slides.Request{UpdateTextStyle: &slides.UpdateTextStyleRequest{
			ObjectId:  cid,
			Style:     &slides.TextStyle{FontSize: &slides.Dimension{Magnitude: sub.FontSize, Unit: "PT"}},
			TextRange: &slides.Range{Type: "ALL"},
			Fields:    "fontSize",
		}})
	}
	rc.mu.Unlock()

	_, err = d.batchUpdate(ctx, h, reqs)
	return err
}

func (d *Driver) Reorder(ctx context.Context, h *driver.Handle, units []driver.UnitID, start int) error {
	reqs := make([]*slides.Request, 0, len(units))
	for i, u := range units {
		r := &slides.UpdateSlidesPositionRequest{SlideObjectIds: []string{string(u)}, InsertionIndex: int64(start + i)}
		if r.InsertionIndex == 0 {
			r.ForceSendFields = []string{"InsertionIndex"}
		}
		reqs = append(reqs, &slides.Request{UpdateSlidesPosition: r})
	}
	_, err := d.batchUpdate(ctx, h, reqs)
	return err
}

func (d *Driver) Delete(ctx context.Context, h *driver.Handle, units []driver.UnitID) error {
	reqs := make([]*slides.Request, 0, len(units))
	for _, u := range units {
		reqs = append(reqs, &slides.Request{DeleteObject: &slides.DeleteObjectRequest{ObjectId: string(u)}})
	}
	_, err := d.batchUpdate(ctx, h, reqs)
	return err
}

func (d *Driver) Export(ctx context.Context, h *driver.Handle, f common.ExportFmt) ([]byte, error) {
	switch f {
	case common.ExportFmtPptx, common.ExportFmtPdf:
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedFmt, f)
	}

	var data []byte
	err := d.read(ctx, "export", func(ctx context.Context) error {
		resp, err := d.drive.Files.Export(h.ID, f.MIME()).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

// Dispose moves working copy to trash.
func (d *Driver) Dispose(ctx context.Context, h *driver.Handle) error {
	err := d.write(ctx, func(ctx context.Context) error {
		_, err := d.drive.Files.Update(h.ID, &drive.File{Trashed: true}).SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("unable to trash working copy %s: %w", h.ID, classify(err))
	}
	d.log.Debug("Working copy trashed", zap.String("copy", h.ID))
	return nil
}

// Release leaves working copy in the shared drive.
func (d *Driver) Release(ctx context.Context, h *driver.Handle) error {
	d.log.Info("Working copy kept", zap.String("copy", h.ID), zap.String("title", h.Title))
	return nil
}
