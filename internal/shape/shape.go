// Package shape defines the drawable objects that travel through the
// replicated document: a closed set of variants plus their shared style.
package shape

import "github.com/google/uuid"

// Kind enumerates the drawable variants.
type Kind int

const (
	KindRectangle Kind = iota
	KindEllipse
	KindLine
	KindArrow
	KindFreehand
	KindText
	KindGroup
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindRectangle:
		return "rectangle"
	case KindEllipse:
		return "ellipse"
	case KindLine:
		return "line"
	case KindArrow:
		return "arrow"
	case KindFreehand:
		return "freehand"
	case KindText:
		return "text"
	case KindGroup:
		return "group"
	case KindImage:
		return "image"
	}
	return "unknown"
}

// Object is implemented by every drawable variant.
type Object interface {
	Kind() Kind
	ObjectID() uuid.UUID
}

// Point is a position on the canvas.
type Point struct {
	X float64
	Y float64
}

// Color is an 8-bit RGBA color.
type Color struct {
	R uint8
	G uint8
	B uint8
	A uint8
}

// Sloppiness controls how rough the hand-drawn rendering looks.
type Sloppiness int

const (
	SloppinessArchitect Sloppiness = iota
	SloppinessArtist
	SloppinessCartoonist
)

// FontFamily enumerates the editor's font choices.
type FontFamily int

const (
	FamilySketch FontFamily = iota
	FamilySans
	FamilySerif
)

// FontWeight enumerates the editor's weight choices.
type FontWeight int

const (
	WeightLight FontWeight = iota
	WeightRegular
	WeightHeavy
)

// ImageFormat tags the encoding of embedded image payloads.
type ImageFormat int

const (
	FormatPNG ImageFormat = iota
	FormatJPEG
	FormatWebP
)

// Style carries the shared stroke and fill attributes. Seed drives the
// rough-rendering randomness and must survive replication verbatim so every
// peer draws the same squiggle.
type Style struct {
	StrokeColor Color
	StrokeWidth float64
	FillColor   *Color
	Sloppiness  Sloppiness
	Seed        uint32
}

// DefaultStyle returns the style applied to freshly drawn objects.
func DefaultStyle(seed uint32) Style {
	return Style{
		StrokeColor: Color{A: 255},
		StrokeWidth: 2,
		Sloppiness:  SloppinessArtist,
		Seed:        seed,
	}
}

// Rectangle is an axis-aligned box with optional rounded corners.
type Rectangle struct {
	ID           uuid.UUID
	Position     Point
	Width        float64
	Height       float64
	CornerRadius float64
	Style        Style
}

func (r *Rectangle) Kind() Kind          { return KindRectangle }
func (r *Rectangle) ObjectID() uuid.UUID { return r.ID }

// Ellipse is described by its center and two radii.
type Ellipse struct {
	ID      uuid.UUID
	Center  Point
	RadiusX float64
	RadiusY float64
	Style   Style
}

func (e *Ellipse) Kind() Kind          { return KindEllipse }
func (e *Ellipse) ObjectID() uuid.UUID { return e.ID }

// Line is a straight segment between two points.
type Line struct {
	ID    uuid.UUID
	Start Point
	End   Point
	Style Style
}

func (l *Line) Kind() Kind          { return KindLine }
func (l *Line) ObjectID() uuid.UUID { return l.ID }

// Arrow is a line with an arrowhead at the end point.
type Arrow struct {
	ID    uuid.UUID
	Start Point
	End   Point
	Style Style
}

func (a *Arrow) Kind() Kind          { return KindArrow }
func (a *Arrow) ObjectID() uuid.UUID { return a.ID }

// Freehand is a raw polyline captured from pointer movement.
type Freehand struct {
	ID     uuid.UUID
	Points []Point
	Style  Style
}

func (f *Freehand) Kind() Kind          { return KindFreehand }
func (f *Freehand) ObjectID() uuid.UUID { return f.ID }

// Text is a positioned text run.
type Text struct {
	ID         uuid.UUID
	Position   Point
	Content    string
	FontSize   float64
	FontFamily FontFamily
	FontWeight FontWeight
	Style      Style
}

func (t *Text) Kind() Kind          { return KindText }
func (t *Text) ObjectID() uuid.UUID { return t.ID }

// Group embeds its member objects. Members travel with the group record, so
// grouping then deleting a member on another peer resolves to whichever
// snapshot wins.
type Group struct {
	ID       uuid.UUID
	Children []Object
}

func (g *Group) Kind() Kind          { return KindGroup }
func (g *Group) ObjectID() uuid.UUID { return g.ID }

// Image embeds a raster payload, base64-encoded, together with its display
// box and intrinsic source dimensions.
type Image struct {
	ID           uuid.UUID
	Position     Point
	Width        float64
	Height       float64
	SourceWidth  int64
	SourceHeight int64
	Format       ImageFormat
	DataBase64   string
	Style        Style
}

func (i *Image) Kind() Kind          { return KindImage }
func (i *Image) ObjectID() uuid.UUID { return i.ID }
