package local

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"cardgen/card"
	"cardgen/fontfit"
)

// shapeText returns text of the shape, paragraphs separated by new lines.
func shapeText(sp *etree.Element) string {
	var sb strings.Builder
	for i, p := range sp.FindElements(".//a:p") {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(paragraphText(p))
	}
	return sb.String()
}

func paragraphText(p *etree.Element) string {
	var sb strings.Builder
	for _, el := range p.ChildElements() {
		switch el.FullTag() {
		case "a:r", "a:fld":
			if t := el.SelectElement("a:t"); t != nil {
				sb.WriteString(t.Text())
			}
		case "a:br":
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func isContainer(text string) bool {
	for _, ph := range card.ContentPlaceholders {
		if strings.Contains(text, string(ph)) {
			return true
		}
	}
	return false
}

// container returns shape holding card content.
func container(doc *etree.Document) *etree.Element {
	for _, sp := range doc.FindElements("//p:sp") {
		if isContainer(shapeText(sp)) {
			return sp
		}
	}
	return nil
}

// measure returns geometry of content container, zero geometry when shape
// inherits its position from layout.
func measure(doc *etree.Document) *fontfit.Geometry {
	sp := container(doc)
	if sp == nil {
		return nil
	}
	ext := sp.FindElement("./p:spPr/a:xfrm/a:ext")
	if ext == nil {
		return &fontfit.Geometry{}
	}
	cx, _ := strconv.ParseFloat(ext.SelectAttrValue("cx", "0"), 64)
	cy, _ := strconv.ParseFloat(ext.SelectAttrValue("cy", "0"), 64)
	g := fontfit.GeometryFromEMU(cx, cy)
	return &g
}

func replaceFields(text string, fields map[card.Placeholder]string) string {
	for _, ph := range card.Placeholders {
		if v, ok := fields[ph]; ok {
			text = strings.ReplaceAll(text, string(ph), v)
		}
	}
	return text
}

// substitute replaces placeholders on the slide and sets font size of
// content container runs. Placeholders may be split between runs, affected
// paragraph is rebuilt using properties of its first run.
func substitute(doc *etree.Document, fields map[card.Placeholder]string, size float64) {
	for _, sp := range doc.FindElements("//p:sp") {
		content := isContainer(shapeText(sp))
		for _, p := range sp.FindElements(".//a:p") {
			text := paragraphText(p)
			if !strings.Contains(text, "{{") {
				continue
			}
			if replaced := replaceFields(text, fields); replaced != text {
				rebuild(p, replaced)
			}
		}
		if content && size > 0 {
			setSize(sp, size)
		}
	}
}

func rebuild(p *etree.Element, text string) {
	var props *etree.Element
	if r := p.SelectElement("a:r"); r != nil {
		if rpr := r.SelectElement("a:rPr"); rpr != nil {
			props = rpr.Copy()
		}
	}
	for _, el := range p.ChildElements() {
		switch el.FullTag() {
		case "a:r", "a:br", "a:fld":
			p.RemoveChild(el)
		}
	}

	// runs go before paragraph end properties
	pos := len(p.Child)
	if end := p.SelectElement("a:endParaRPr"); end != nil {
		pos = end.Index()
	}
	insert := func(el *etree.Element) {
		p.InsertChildAt(pos, el)
		pos++
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			br := etree.NewElement("a:br")
			if props != nil {
				br.AddChild(props.Copy())
			}
			insert(br)
		}
		r := etree.NewElement("a:r")
		if props != nil {
			r.AddChild(props.Copy())
		}
		r.CreateElement("a:t").SetText(line)
		insert(r)
	}
}

// setSize sets font size in hundredths of a point on every run of the shape.
func setSize(sp *etree.Element, size float64) {
	sz := strconv.Itoa(int(size * 100))
	for _, p := range sp.FindElements(".//a:p") {
		for _, el := range p.ChildElements() {
			switch el.FullTag() {
			case "a:r", "a:br", "a:fld":
				rpr := el.SelectElement("a:rPr")
				if rpr == nil {
					rpr = etree.NewElement("a:rPr")
					el.InsertChildAt(0, rpr)
				}
				rpr.CreateAttr("sz", sz)
			case "a:endParaRPr":
				el.CreateAttr("sz", sz)
			}
		}
	}
}
