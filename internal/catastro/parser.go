package catastro

import (
	"bytes"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/hogarfamiliar/catastro-cli/internal/model"
)

// Namespaces used by the two response dialects. The legacy error structure
// (lerr/err/des) carries no namespace.
var Namespaces = map[string]string{
	"cat":  "http://www.catastro.meh.es/",
	"atom": "http://www.w3.org/2005/Atom",
	"gml":  "http://www.opengis.net/gml",
	"coor": "http://www.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCoordenadas",
}

// query is an ordered list of alternative expressions; the first one that
// matches anything wins.
type query []*xpath.Expr

func q(exprs ...string) query {
	out := make(query, 0, len(exprs))
	for _, e := range exprs {
		var (
			expr *xpath.Expr
			err  error
		)
		if strings.Contains(e, ":") {
			expr, err = xpath.CompileWithNS(e, Namespaces)
		} else {
			expr, err = xpath.Compile(e)
		}
		if err != nil {
			panic("catastro: bad xpath " + e + ": " + err.Error())
		}
		out = append(out, expr)
	}
	return out
}

func (qs query) all(n *xmlquery.Node) []*xmlquery.Node {
	for _, expr := range qs {
		if nodes := xmlquery.QuerySelectorAll(n, expr); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

func (qs query) first(n *xmlquery.Node) *xmlquery.Node {
	for _, expr := range qs {
		if node := xmlquery.QuerySelector(n, expr); node != nil {
			return node
		}
	}
	return nil
}

// text returns the normalized text of the first match, or def.
func (qs query) text(n *xmlquery.Node, def string) string {
	if node := qs.first(n); node != nil {
		return normalizeString(node.InnerText())
	}
	return def
}

func (qs query) integer(n *xmlquery.Node) int {
	if node := qs.first(n); node != nil {
		return atoiLenient(node.InnerText())
	}
	return 0
}

func (qs query) number(n *xmlquery.Node) *float64 {
	node := qs.first(n)
	if node == nil {
		return nil
	}
	f, ok := parseCoordinate(node.InnerText())
	if !ok {
		return nil
	}
	return &f
}

// Extraction strategies, tried in order.
var (
	errorNode = q(`//cat:err/cat:des`, `//lerr/err/des`)

	propertyNodes = q(`//cat:bico/cat:bi`, `//cat:control/cat:bico/cat:bi`)
	rootProperty  = q(`/cat:consulta_dnp/cat:bico`)

	rcNode       = q(`.//cat:idbi/cat:rc`, `.//cat:rc`)
	rcParts      = []string{"pc1", "pc2", "car", "cc1", "cc2"}
	ldtNode      = q(`.//cat:ldt`)
	dirParts     = q(`.//cat:dir/cat:tv | .//cat:dir/cat:nv | .//cat:dir/cat:pnp | .//cat:dir/cat:plp`)
	latNode      = q(`.//cat:geo/cat:ycen`)
	lonNode      = q(`.//cat:geo/cat:xcen`)
	useNode      = q(`.//cat:debi/cat:luso`)
	builtArea    = q(`.//cat:debi/cat:sfc`)
	yearNode     = q(`.//cat:debi/cat:ant`)
	destination  = q(`.//cat:loine/cat:lcd`, `.//cat:lcons/cat:cons/cat:lcd`)
	parcelArea   = q(`.//cat:dfp/cat:sfc`, `.//cat:finca/cat:dff/cat:ssf`)
	floorsNode   = q(`.//cat:cons/cat:plb`)
	consNodes    = q(`.//cat:lcons/cat:cons`)
	consDoor     = q(`.//cat:lourb/cat:lo/cat:pu`, `.//cat:loint/cat:pu`)
	consFloor    = q(`.//cat:lourb/cat:lo/cat:pt`, `.//cat:loint/cat:pt`)
	consUse      = q(`.//cat:lourb/cat:lo/cat:lour/cat:cd`, `./cat:lcd`)
	consArea     = q(`.//cat:lourb/cat:lo/cat:lour/cat:sfc`, `.//cat:dfcons/cat:stl`)
	coordX       = q(`//coor:pc/coor:geo/coor:xcen`, `//cat:coord/cat:geo/cat:xcen`)
	coordY       = q(`//coor:pc/coor:geo/coor:ycen`, `//cat:coord/cat:geo/cat:ycen`)
	bicoParent   = q(`parent::cat:bico`)
	bicoChildren = q(`./cat:bi`)
)

// Parser extracts normalized records from Catastro XML payloads. It holds no
// state and is safe for concurrent use.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse turns a DNPRC payload from either dialect into property records. It
// returns at least one record or an *Error of kind KindMalformed,
// KindUpstreamData or KindNoData.
func (p *Parser) Parse(data []byte) ([]model.Property, error) {
	doc, err := load(data)
	if err != nil {
		return nil, err
	}

	if node := errorNode.first(doc); node != nil {
		return nil, newError(KindUpstreamData, collapseWhitespace(node.InnerText()))
	}

	nodes := propertyNodes.all(doc)
	if len(nodes) == 0 {
		nodes = rootProperty.all(doc)
	}
	if len(nodes) == 0 {
		return nil, newError(KindNoData, "no property records found in response")
	}

	out := make([]model.Property, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, parseProperty(n))
	}
	return out, nil
}

// ParseCoordinates reads the (x, y) pair of a RCCOOR payload. x is the
// longitude and y the latitude. It reports false on malformed XML or when
// either value is missing or not numeric.
func (p *Parser) ParseCoordinates(data []byte) (model.Coordinates, bool) {
	doc, err := load(data)
	if err != nil {
		return model.Coordinates{}, false
	}

	x, y := coordX.first(doc), coordY.first(doc)
	if x == nil || y == nil {
		return model.Coordinates{}, false
	}
	lon, okX := parseCoordinate(x.InnerText())
	lat, okY := parseCoordinate(y.InnerText())
	if !okX || !okY {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Latitude: lat, Longitude: lon}, true
}

// UpstreamMessage returns the error text an upstream payload carries, if any.
func (p *Parser) UpstreamMessage(data []byte) (string, bool) {
	doc, err := load(data)
	if err != nil {
		return "", false
	}
	node := errorNode.first(doc)
	if node == nil {
		return "", false
	}
	msg := collapseWhitespace(node.InnerText())
	return msg, msg != ""
}

func load(data []byte) (*xmlquery.Node, error) {
	data = toUTF8(data)
	if problems := wellFormed(data); len(problems) > 0 {
		return nil, newError(KindMalformed, "malformed XML: "+strings.Join(problems, "; "))
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, newError(KindMalformed, "malformed XML: "+strings.TrimSpace(err.Error()))
	}
	return doc, nil
}

// scope widens a lone bi node to its enclosing bico, where the REST dialect
// keeps the construction list next to the property.
func scope(n *xmlquery.Node) *xmlquery.Node {
	parent := bicoParent.first(n)
	if parent == nil {
		return n
	}
	if len(bicoChildren.all(parent)) == 1 {
		return parent
	}
	return n
}

func parseProperty(n *xmlquery.Node) model.Property {
	s := scope(n)

	return model.Property{
		Identifier:       identifier(s),
		Address:          address(s),
		PrimaryUse:       useNode.text(s, ""),
		BuiltArea:        builtArea.integer(s),
		ConstructionYear: yearNode.integer(s),
		Latitude:         latNode.number(s),
		Longitude:        lonNode.number(s),
		Additional: model.AdditionalData{
			Destination: destination.text(s, ""),
			ParcelArea:  parcelArea.integer(s),
			Floors:      floorsNode.text(s, "N/D"),
			Elements:    elements(s),
		},
	}
}

func identifier(n *xmlquery.Node) string {
	rc := rcNode.first(n)
	if rc == nil {
		return ""
	}
	found := make(map[string]string, len(rcParts))
	for c := rc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if _, seen := found[c.Data]; !seen {
			found[c.Data] = strings.TrimSpace(c.InnerText())
		}
	}
	var b strings.Builder
	for _, part := range rcParts {
		b.WriteString(found[part])
	}
	return normalizeString(b.String())
}

func address(n *xmlquery.Node) string {
	if ldt := ldtNode.first(n); ldt != nil {
		if s := normalizeString(ldt.InnerText()); s != "" {
			return s
		}
	}
	var parts []string
	for _, node := range dirParts.all(n) {
		if s := normalizeString(node.InnerText()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func elements(n *xmlquery.Node) []model.ConstructionElement {
	nodes := consNodes.all(n)
	out := make([]model.ConstructionElement, 0, len(nodes))
	for _, c := range nodes {
		out = append(out, model.ConstructionElement{
			Door:  consDoor.text(c, ""),
			Floor: consFloor.text(c, ""),
			Use:   consUse.text(c, ""),
			Area:  consArea.integer(c),
		})
	}
	return out
}
