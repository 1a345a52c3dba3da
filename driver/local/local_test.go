package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"cardgen/archive"
	"cardgen/card"
	"cardgen/common"
	"cardgen/driver"
	"cardgen/fontfit"
	"cardgen/render"
	"cardgen/variant"
)

const (
	nsA = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"`
	nsP = `xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`
	nsR = `xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`
)

// slideXML has content container split into several runs and a greeting
// shape without geometry.
func slideXML(label string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld ` + nsA + ` ` + nsP + ` ` + nsR + `><p:cSld><p:spTree>
<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title"/></p:nvSpPr><p:spPr/><p:txBody><a:bodyPr/>
<a:p><a:r><a:rPr lang="en-US"/><a:t>` + label + ` {{NET_ID}}</a:t></a:r></a:p></p:txBody></p:sp>
<p:sp><p:nvSpPr><p:cNvPr id="3" name="Content"/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="5376672" cy="2752344"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/>
<a:p><a:r><a:rPr lang="en-US" sz="1400"/><a:t>To: {{RECIPIENT_</a:t></a:r><a:r><a:rPr lang="en-US" b="1"/><a:t>NAME}}</a:t></a:r><a:endParaRPr lang="en-US"/></a:p>
<a:p><a:r><a:t>{{MESSAGE}}</a:t></a:r></a:p>
<a:p><a:r><a:rPr lang="en-US"/><a:t>From: {{SENDER_NAME}}</a:t></a:r></a:p>
</p:txBody></p:sp>
</p:spTree></p:cSld></p:sld>`
}

const emptySlideXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld ` + nsA + ` ` + nsP + `><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>Nothing here</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`

func slideRels(n int) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
<Relationship Id="rId2" Type="` + relTypeNotes + `" Target="../notesSlides/notesSlide` + fmt.Sprint(n) + `.xml"/>
</Relationships>`
}

// writeTemplate creates presentation package with given slides.
func writeTemplate(t *testing.T, slides ...string) string {
	t.Helper()

	var ct, lst, rels strings.Builder
	ct.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	ct.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/>`)
	ct.WriteString(`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>`)
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	rels.WriteString(`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>`)

	parts := []archive.Part{{Name: partContentTypes}}
	for i, s := range slides {
		n := i + 1
		fmt.Fprintf(&ct, `<Override PartName="/ppt/slides/slide%d.xml" ContentType="%s"/>`, n, ctSlide)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="%s" Target="slides/slide%d.xml"/>`, n+1, relTypeSlide, n)
		fmt.Fprintf(&lst, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n+1)
		parts = append(parts,
			archive.Part{Name: fmt.Sprintf("ppt/slides/slide%d.xml", n), Data: []byte(s)},
			archive.Part{Name: fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n), Data: []byte(slideRels(n))},
			archive.Part{Name: fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", n), Data: []byte(`<p:notes ` + nsP + `/>`)},
		)
	}
	ct.WriteString(`</Types>`)
	rels.WriteString(`</Relationships>`)
	parts[0].Data = []byte(ct.String())
	parts = append(parts,
		archive.Part{Name: "_rels/.rels", Data: []byte(`<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`)},
		archive.Part{Name: partPresentation, Data: []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><p:presentation ` + nsP + ` ` + nsR + `><p:sldIdLst>` + lst.String() + `</p:sldIdLst><p:sldSz cx="9144000" cy="6858000"/></p:presentation>`)},
		archive.Part{Name: partPresRels, Data: []byte(rels.String())},
	)

	buf := new(bytes.Buffer)
	if err := archive.WriteParts(buf, parts); err != nil {
		t.Fatalf("failed to build template: %v", err)
	}
	path := filepath.Join(t.TempDir(), "template.pptx")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	return path
}

func newTestDriver(t *testing.T, opts Options) *Driver {
	t.Helper()
	opts.Log = zaptest.NewLogger(t)
	if opts.BatchCeiling == 0 {
		opts.BatchCeiling = 2
	}
	d := New(opts)
	d.convert = func(ctx context.Context, in, outDir string) error {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		if _, err := archive.ReadParts(data); err != nil {
			return fmt.Errorf("converter got broken package: %w", err)
		}
		return os.WriteFile(filepath.Join(outDir, "document.pdf"), []byte("%PDF-1.4\n%%EOF\n"), 0644)
	}
	return d
}

func openCopy(t *testing.T, d *Driver, path string) *driver.Handle {
	t.Helper()
	h, err := d.Open(context.Background(), path, "test")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { d.Dispose(context.Background(), h) })
	return h
}

// texts returns content text of every slide in order.
func texts(t *testing.T, data []byte) []string {
	t.Helper()
	doc, units, err := loadDocument(data)
	if err != nil {
		t.Fatalf("loadDocument() error: %v", err)
	}
	var res []string
	for _, u := range units {
		// placeholders are gone, content is the second shape
		res = append(res, shapeText(doc.slides[u].doc.FindElements("//p:sp")[1]))
	}
	return res
}

func TestOpen(t *testing.T) {
	d := newTestDriver(t, Options{})
	path := writeTemplate(t, slideXML("Default"), slideXML("Faculty"))

	h := openCopy(t, d, path)
	if diff := cmp.Diff([]driver.UnitID{"256", "257"}, h.Units); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}

	before, _ := os.ReadFile(path)
	if _, err := d.Duplicate(context.Background(), h, h.Units); err != nil {
		t.Fatalf("Duplicate() error: %v", err)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Errorf("template must never be modified")
	}
}

func TestOpen_NotFound(t *testing.T) {
	d := newTestDriver(t, Options{})
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "missing.pptx"), "x")
	if !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("Open() error = %v, want not found", err)
	}
	// failed open must not hold instance
	h := openCopy(t, d, writeTemplate(t, slideXML("Default")))
	if h == nil {
		t.Fatalf("no handle")
	}
}

func TestOpen_SingleInstance(t *testing.T) {
	d := newTestDriver(t, Options{})
	path := writeTemplate(t, slideXML("Default"))

	h, err := d.Open(context.Background(), path, "first")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.Open(ctx, path, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Open() error = %v, want deadline exceeded", err)
	}

	if err := d.Dispose(context.Background(), h); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	// second dispose is no-op and must not release instance twice
	if err := d.Dispose(context.Background(), h); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	openCopy(t, d, path)

	if _, err := d.Duplicate(context.Background(), h, h.Units); !errors.Is(err, errClosed) {
		t.Errorf("Duplicate() on disposed copy error = %v", err)
	}
}

func TestMeasure(t *testing.T) {
	d := newTestDriver(t, Options{})
	h := openCopy(t, d, writeTemplate(t, slideXML("Default"), emptySlideXML))

	g, err := d.Measure(context.Background(), h, h.Units[0])
	if err != nil {
		t.Fatalf("Measure() error: %v", err)
	}
	if g == nil || g.Width < 5.879 || g.Width > 5.881 || g.Height < 3.009 || g.Height > 3.011 {
		t.Errorf("Measure() = %v, want base box", g)
	}

	g, err = d.Measure(context.Background(), h, h.Units[1])
	if err != nil {
		t.Fatalf("Measure() error: %v", err)
	}
	if g != nil {
		t.Errorf("Measure() = %v, want nil for slide without container", g)
	}

	if _, err := d.Measure(context.Background(), h, "999"); !errors.Is(err, driver.ErrUnknownUnit) {
		t.Errorf("Measure() error = %v, want unknown unit", err)
	}
}

func TestDuplicate(t *testing.T) {
	d := newTestDriver(t, Options{})
	h := openCopy(t, d, writeTemplate(t, slideXML("Default"), slideXML("Faculty")))

	ids, err := d.Duplicate(context.Background(), h, []driver.UnitID{h.Units[1], h.Units[0], h.Units[1]})
	if err != nil {
		t.Fatalf("Duplicate() error: %v", err)
	}
	if diff := cmp.Diff([]driver.UnitID{"258", "259", "260"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	data, err := d.Export(context.Background(), h, common.ExportFmtPptx)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	doc, units, err := loadDocument(data)
	if err != nil {
		t.Fatalf("loadDocument() error: %v", err)
	}
	if diff := cmp.Diff([]driver.UnitID{"256", "257", "258", "259", "260"}, units); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}
	copied := doc.slides["258"]
	if copied.part != "ppt/slides/slide3.xml" {
		t.Errorf("copy part = %s", copied.part)
	}
	if copied.rels == nil || len(copied.rels.FindElements("//Relationship")) != 1 {
		t.Errorf("copy must keep layout relationship and drop notes")
	}
	if got := shapeText(copied.doc.FindElements("//p:sp")[0]); !strings.HasPrefix(got, "Faculty") {
		t.Errorf("copy of wrong slide: %q", got)
	}
}

func TestSubstitute(t *testing.T) {
	d := newTestDriver(t, Options{})
	h := openCopy(t, d, writeTemplate(t, slideXML("Dear")))

	ids, err := d.Duplicate(context.Background(), h, h.Units)
	if err != nil {
		t.Fatalf("Duplicate() error: %v", err)
	}
	c := card.Card{RecipientName: "Ann", RecipientEmail: "ann@example.edu", SenderName: "Bob", Message: "Thank you\nfor everything"}
	err = d.Substitute(context.Background(), h, []driver.Substitution{{Unit: ids[0], Fields: c.Fields(), FontSize: 10.5}})
	if err != nil {
		t.Fatalf("Substitute() error: %v", err)
	}

	var doc *etree.Document
	with(h, func(d *document) error {
		doc = d.slides[ids[0]].doc
		return nil
	})
	shapes := doc.FindElements("//p:sp")
	if got := shapeText(shapes[0]); got != "Dear ann" {
		t.Errorf("title = %q", got)
	}
	if got, want := shapeText(shapes[1]), "To: Ann\nThank you\nfor everything\nFrom: Bob"; got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
	for _, rpr := range shapes[1].FindElements(".//a:rPr") {
		if sz := rpr.SelectAttrValue("sz", ""); sz != "1050" {
			t.Errorf("run size = %q, want 1050", sz)
		}
	}
	// first run properties are kept
	if lang := shapes[1].FindElement(".//a:r/a:rPr").SelectAttrValue("lang", ""); lang != "en-US" {
		t.Errorf("run properties lost, lang = %q", lang)
	}
	if n := len(shapes[1].FindElements(".//a:br")); n != 1 {
		t.Errorf("expected one line break, got %d", n)
	}
	// title is not a content container
	for _, rpr := range shapes[0].FindElements(".//a:rPr") {
		if rpr.SelectAttr("sz") != nil {
			t.Errorf("title font must not change")
		}
	}

	// template unit is untouched
	with(h, func(d *document) error {
		if got := shapeText(container(d.slides[h.Units[0]].doc)); !strings.Contains(got, "{{MESSAGE}}") {
			t.Errorf("template unit modified: %q", got)
		}
		return nil
	})
}

func TestReorderAndDelete(t *testing.T) {
	d := newTestDriver(t, Options{})
	h := openCopy(t, d, writeTemplate(t, slideXML("A"), slideXML("B")))

	ids, err := d.Duplicate(context.Background(), h, []driver.UnitID{h.Units[0], h.Units[1], h.Units[0]})
	if err != nil {
		t.Fatalf("Duplicate() error: %v", err)
	}
	if err := d.Reorder(context.Background(), h, ids[:2], 0); err != nil {
		t.Fatalf("Reorder() error: %v", err)
	}
	if err := d.Reorder(context.Background(), h, ids[2:], 2); err != nil {
		t.Fatalf("Reorder() error: %v", err)
	}
	var got []driver.UnitID
	with(h, func(d *document) error {
		got = d.units()
		return nil
	})
	if diff := cmp.Diff([]driver.UnitID{ids[0], ids[1], ids[2], "256", "257"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if err := d.Delete(context.Background(), h, h.Units); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	data, err := d.Export(context.Background(), h, common.ExportFmtPptx)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	parts, err := archive.ReadParts(data)
	if err != nil {
		t.Fatalf("ReadParts() error: %v", err)
	}
	for _, p := range parts {
		if p.Name == "ppt/slides/slide1.xml" || p.Name == "ppt/slides/slide2.xml" {
			t.Errorf("deleted part %s is still in package", p.Name)
		}
		if p.Name == partContentTypes && strings.Contains(string(p.Data), "/ppt/slides/slide1.xml") {
			t.Errorf("deleted part still has content type override")
		}
	}
	if diff := cmp.Diff([]string{"A {{NET_ID}}", "B {{NET_ID}}", "A {{NET_ID}}"}, titles(t, data)); diff != "" {
		t.Errorf("slides mismatch (-want +got):\n%s", diff)
	}

	if err := d.Delete(context.Background(), h, h.Units[:1]); !errors.Is(err, driver.ErrUnknownUnit) {
		t.Errorf("second Delete() error = %v, want unknown unit", err)
	}
}

func titles(t *testing.T, data []byte) []string {
	t.Helper()
	doc, units, err := loadDocument(data)
	if err != nil {
		t.Fatalf("loadDocument() error: %v", err)
	}
	var res []string
	for _, u := range units {
		res = append(res, shapeText(doc.slides[u].doc.FindElements("//p:sp")[0]))
	}
	return res
}

func TestExport(t *testing.T) {
	for _, fix := range []bool{false, true} {
		t.Run(fmt.Sprintf("fix_zip=%v", fix), func(t *testing.T) {
			d := newTestDriver(t, Options{FixZip: fix})
			h := openCopy(t, d, writeTemplate(t, slideXML("A")))

			pptx, err := d.Export(context.Background(), h, common.ExportFmtPptx)
			if err != nil {
				t.Fatalf("Export(pptx) error: %v", err)
			}
			if _, err := archive.ReadParts(pptx); err != nil {
				t.Errorf("exported package is broken: %v", err)
			}
			pdf, err := d.Export(context.Background(), h, common.ExportFmtPdf)
			if err != nil {
				t.Fatalf("Export(pdf) error: %v", err)
			}
			if !bytes.HasPrefix(pdf, []byte("%PDF")) {
				t.Errorf("unexpected pdf content %q", pdf)
			}
			if _, err := d.Export(context.Background(), h, common.ExportFmtCsv); !errors.Is(err, driver.ErrUnsupportedFmt) {
				t.Errorf("Export(csv) error = %v", err)
			}
		})
	}
}

func TestExport_ConverterFailure(t *testing.T) {
	d := newTestDriver(t, Options{Timeout: time.Second})
	d.convert = func(ctx context.Context, in, outDir string) error {
		return nil
	}
	h := openCopy(t, d, writeTemplate(t, slideXML("A")))
	if _, err := d.Export(context.Background(), h, common.ExportFmtPdf); err == nil {
		t.Errorf("Export() should fail when converter produced nothing")
	}
}

func TestRelease(t *testing.T) {
	work := t.TempDir()
	d := newTestDriver(t, Options{WorkDir: work})
	h, err := d.Open(context.Background(), writeTemplate(t, slideXML("A")), "job one")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := d.Release(context.Background(), h); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	kept, _ := filepath.Glob(filepath.Join(work, "job one *.pptx"))
	if len(kept) != 1 {
		t.Errorf("expected kept working copy, got %v", kept)
	}
	// instance is free again
	openCopy(t, d, writeTemplate(t, slideXML("A")))
}

func TestPipeline(t *testing.T) {
	d := newTestDriver(t, Options{BatchCeiling: 2})
	path := writeTemplate(t, slideXML("Default"), slideXML("Faculty"))

	vm, err := variant.New("faculty")
	if err != nil {
		t.Fatal(err)
	}
	cards := []card.Card{
		{ID: "1", RecipientName: "Ann", RecipientEmail: "ann@x.edu", SenderName: "Bob", Message: "one"},
		{ID: "2", RecipientName: "Cid", RecipientEmail: "cid@x.edu", SenderName: "Dan", Message: "two", VariantID: "faculty"},
		{ID: "3", RecipientName: "Eve", RecipientEmail: "eve@x.edu", SenderName: "Fay", Message: "three"},
	}

	out := filepath.Join(t.TempDir(), "job")
	r := render.New(d, render.Options{Log: zaptest.NewLogger(t), Fitter: fontfit.Default()})
	res, err := r.Render(context.Background(), render.Job{Cards: cards, TemplateID: path, Variants: vm, Output: out, Flags: render.Flags{ExportEditable: true}})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if len(res.Artifacts) != 3 {
		t.Errorf("artifacts = %v", res.Artifacts)
	}

	data, err := os.ReadFile(out + ".pptx")
	if err != nil {
		t.Fatalf("failed to read editable export: %v", err)
	}
	want := []string{"To: Ann\none\nFrom: Bob", "To: Cid\ntwo\nFrom: Dan", "To: Eve\nthree\nFrom: Fay"}
	if diff := cmp.Diff(want, texts(t, data)); diff != "" {
		t.Errorf("rendered cards mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Default ann", "Faculty cid", "Default eve"}, titles(t, data)); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}

	// bulk copy is released, instance is free
	openCopy(t, d, path)
}
