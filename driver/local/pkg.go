package local

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"cardgen/archive"
	"cardgen/driver"
)

const (
	partContentTypes = "[Content_Types].xml"
	partPresentation = "ppt/presentation.xml"
	partPresRels     = "ppt/_rels/presentation.xml.rels"

	relTypeSlide = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"
	relTypeNotes = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/notesSlide"
	ctSlide      = "application/vnd.openxmlformats-officedocument.presentationml.slide+xml"

	// slide ids below this value are reserved
	minSlideID = 256
)

var reSlidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type slide struct {
	id   driver.UnitID
	rid  string
	part string
	doc  *etree.Document
	// relationships of the slide part, may be nil
	rels *etree.Document
}

func relsPart(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// document is an unpacked presentation package. Parts the driver edits are
// kept parsed, everything else is carried over as is.
type document struct {
	parts    []archive.Part
	ct       *etree.Document
	pres     *etree.Document
	presRels *etree.Document
	slides   map[driver.UnitID]*slide
	// removed parts
	dropped map[string]bool
}

func parseXML(data []byte, name string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", name, err)
	}
	return doc, nil
}

// loadDocument reads presentation package and returns it together with
// template units in presentation order.
func loadDocument(data []byte) (*document, []driver.UnitID, error) {
	parts, err := archive.ReadParts(data)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read presentation package: %w", err)
	}
	d := &document{parts: parts, slides: make(map[driver.UnitID]*slide), dropped: make(map[string]bool)}

	get := func(name string) ([]byte, bool) {
		idx := slices.IndexFunc(d.parts, func(p archive.Part) bool { return p.Name == name })
		if idx < 0 {
			return nil, false
		}
		return d.parts[idx].Data, true
	}
	load := func(name string) (*etree.Document, error) {
		data, ok := get(name)
		if !ok {
			return nil, fmt.Errorf("presentation package has no %s", name)
		}
		return parseXML(data, name)
	}

	if d.ct, err = load(partContentTypes); err != nil {
		return nil, nil, err
	}
	if d.pres, err = load(partPresentation); err != nil {
		return nil, nil, err
	}
	if d.presRels, err = load(partPresRels); err != nil {
		return nil, nil, err
	}

	targets := make(map[string]string)
	for _, rel := range d.presRels.FindElements("//Relationship") {
		targets[rel.SelectAttrValue("Id", "")] = rel.SelectAttrValue("Target", "")
	}

	var units []driver.UnitID
	for _, el := range d.pres.FindElements("//p:sldIdLst/p:sldId") {
		s := &slide{
			id:  driver.UnitID(el.SelectAttrValue("id", "")),
			rid: el.SelectAttrValue("r:id", ""),
		}
		target, ok := targets[s.rid]
		if !ok || len(s.id) == 0 {
			return nil, nil, fmt.Errorf("slide %q has no relationship %q", s.id, s.rid)
		}
		s.part = path.Clean(path.Join("ppt", target))
		if s.doc, err = load(s.part); err != nil {
			return nil, nil, err
		}
		if data, ok := get(relsPart(s.part)); ok {
			if s.rels, err = parseXML(data, relsPart(s.part)); err != nil {
				return nil, nil, err
			}
		}
		d.slides[s.id] = s
		units = append(units, s.id)
	}
	return d, units, nil
}

func (d *document) slide(id driver.UnitID) (*slide, error) {
	s, ok := d.slides[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownUnit, id)
	}
	return s, nil
}

func (d *document) sldIdLst() (*etree.Element, error) {
	lst := d.pres.FindElement("//p:sldIdLst")
	if lst == nil {
		return nil, fmt.Errorf("presentation has no slide list")
	}
	return lst, nil
}

func (d *document) nextSlideNumber() int {
	n := 0
	for _, s := range d.slides {
		if m := reSlidePart.FindStringSubmatch(s.part); m != nil {
			v, _ := strconv.Atoi(m[1])
			n = max(n, v)
		}
	}
	for _, p := range d.parts {
		if m := reSlidePart.FindStringSubmatch(p.Name); m != nil {
			v, _ := strconv.Atoi(m[1])
			n = max(n, v)
		}
	}
	return n + 1
}

func (d *document) nextSlideID() int {
	id := minSlideID - 1
	for uid := range d.slides {
		v, _ := strconv.Atoi(string(uid))
		id = max(id, v)
	}
	return id + 1
}

func (d *document) nextRelID() string {
	n := 0
	for _, rel := range d.presRels.FindElements("//Relationship") {
		if v, err := strconv.Atoi(strings.TrimPrefix(rel.SelectAttrValue("Id", ""), "rId")); err == nil {
			n = max(n, v)
		}
	}
	return "rId" + strconv.Itoa(n+1)
}

// duplicate copies slide appending it to the end of presentation. Notes are
// not carried over to the copy.
func (d *document) duplicate(src driver.UnitID) (driver.UnitID, error) {
	s, err := d.slide(src)
	if err != nil {
		return "", err
	}
	lst, err := d.sldIdLst()
	if err != nil {
		return "", err
	}

	n := &slide{
		id:   driver.UnitID(strconv.Itoa(d.nextSlideID())),
		rid:  d.nextRelID(),
		part: fmt.Sprintf("ppt/slides/slide%d.xml", d.nextSlideNumber()),
		doc:  s.doc.Copy(),
	}
	if s.rels != nil {
		n.rels = s.rels.Copy()
		for _, rel := range n.rels.FindElements("//Relationship") {
			if rel.SelectAttrValue("Type", "") == relTypeNotes {
				rel.Parent().RemoveChild(rel)
			}
		}
	}

	override := d.ct.Root().CreateElement("Override")
	override.CreateAttr("PartName", "/"+n.part)
	override.CreateAttr("ContentType", ctSlide)

	rel := d.presRels.Root().CreateElement("Relationship")
	rel.CreateAttr("Id", n.rid)
	rel.CreateAttr("Type", relTypeSlide)
	rel.CreateAttr("Target", strings.TrimPrefix(n.part, "ppt/"))

	el := lst.CreateElement("p:sldId")
	el.CreateAttr("id", string(n.id))
	el.CreateAttr("r:id", n.rid)

	d.slides[n.id] = n
	delete(d.dropped, n.part)
	delete(d.dropped, relsPart(n.part))
	return n.id, nil
}

// move puts slide at position in the slide list.
func (d *document) move(id driver.UnitID, pos int) error {
	if _, err := d.slide(id); err != nil {
		return err
	}
	lst, err := d.sldIdLst()
	if err != nil {
		return err
	}
	entries := lst.SelectElements("p:sldId")
	idx := slices.IndexFunc(entries, func(e *etree.Element) bool { return e.SelectAttrValue("id", "") == string(id) })
	if idx < 0 {
		return fmt.Errorf("%w: %s is not in slide list", driver.ErrUnknownUnit, id)
	}
	el := entries[idx]
	lst.RemoveChild(el)
	entries = slices.Delete(entries, idx, idx+1)

	if pos >= len(entries) {
		lst.AddChild(el)
		return nil
	}
	lst.InsertChildAt(entries[max(pos, 0)].Index(), el)
	return nil
}

// remove deletes slide, its relationships and content type override.
func (d *document) remove(id driver.UnitID) error {
	s, err := d.slide(id)
	if err != nil {
		return err
	}
	lst, err := d.sldIdLst()
	if err != nil {
		return err
	}
	for _, e := range lst.SelectElements("p:sldId") {
		if e.SelectAttrValue("id", "") == string(id) {
			lst.RemoveChild(e)
		}
	}
	for _, rel := range d.presRels.FindElements("//Relationship") {
		if rel.SelectAttrValue("Id", "") == s.rid {
			rel.Parent().RemoveChild(rel)
		}
	}
	for _, o := range d.ct.FindElements("//Override") {
		if o.SelectAttrValue("PartName", "") == "/"+s.part {
			o.Parent().RemoveChild(o)
		}
	}
	delete(d.slides, id)
	d.dropped[s.part] = true
	d.dropped[relsPart(s.part)] = true
	return nil
}

func (d *document) units() []driver.UnitID {
	lst, err := d.sldIdLst()
	if err != nil {
		return nil
	}
	var res []driver.UnitID
	for _, e := range lst.SelectElements("p:sldId") {
		res = append(res, driver.UnitID(e.SelectAttrValue("id", "")))
	}
	return res
}

// serialize writes package, parsed parts replace their original content.
func (d *document) serialize() ([]byte, error) {
	edited := map[string]*etree.Document{
		partContentTypes: d.ct,
		partPresentation: d.pres,
		partPresRels:     d.presRels,
	}
	for _, s := range d.slides {
		edited[s.part] = s.doc
		if s.rels != nil {
			edited[relsPart(s.part)] = s.rels
		}
	}

	parts := make([]archive.Part, 0, len(d.parts)+len(d.slides))
	seen := make(map[string]bool)
	emit := func(name string, method uint16, orig []byte) error {
		seen[name] = true
		if doc, ok := edited[name]; ok {
			data, err := doc.WriteToBytes()
			if err != nil {
				return fmt.Errorf("unable to serialize %s: %w", name, err)
			}
			parts = append(parts, archive.Part{Name: name, Method: method, Data: data})
			return nil
		}
		parts = append(parts, archive.Part{Name: name, Method: method, Data: orig})
		return nil
	}

	for _, p := range d.parts {
		if d.dropped[p.Name] && edited[p.Name] == nil {
			continue
		}
		if err := emit(p.Name, p.Method, p.Data); err != nil {
			return nil, err
		}
	}
	// new parts in stable order
	added := make([]string, 0)
	for name := range edited {
		if !seen[name] {
			added = append(added, name)
		}
	}
	slices.Sort(added)
	for _, name := range added {
		if err := emit(name, zip.Deflate, nil); err != nil {
			return nil, err
		}
	}

	buf := new(bytes.Buffer)
	if err := archive.WriteParts(buf, parts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
