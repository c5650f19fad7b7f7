package crdt

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/example/boardsync/internal/shape"
)

// Record type tags.
const (
	typeRectangle = "rectangle"
	typeEllipse   = "ellipse"
	typeLine      = "line"
	typeArrow     = "arrow"
	typeFreehand  = "freehand"
	typeText      = "text"
	typeGroup     = "group"
	typeImage     = "image"
)

// Record field keys. These are the wire-level contract with non-Go peers
// and must not change.
const (
	keyType = "type"
	keyID   = "id"

	keyStrokeR     = "stroke_r"
	keyStrokeG     = "stroke_g"
	keyStrokeB     = "stroke_b"
	keyStrokeA     = "stroke_a"
	keyStrokeWidth = "stroke_width"
	keyFillR       = "fill_r"
	keyFillG       = "fill_g"
	keyFillB       = "fill_b"
	keyFillA       = "fill_a"
	keyHasFill     = "has_fill"
	keySloppiness  = "sloppiness"
	keySeed        = "seed"

	keyX            = "x"
	keyY            = "y"
	keyWidth        = "width"
	keyHeight       = "height"
	keyCornerRadius = "corner_radius"

	keyStartX = "start_x"
	keyStartY = "start_y"
	keyEndX   = "end_x"
	keyEndY   = "end_y"

	keyPoints   = "points"
	keyChildren = "children"

	keyContent    = "content"
	keyFontSize   = "font_size"
	keyFontFamily = "font_family"
	keyFontWeight = "font_weight"

	keySourceWidth  = "source_width"
	keySourceHeight = "source_height"
	keyFormat       = "format"
	keyDataBase64   = "data_base64"
)

// EncodeShape converts a drawable object into its replicated record form.
func EncodeShape(obj shape.Object) Record {
	rec := Record{}
	switch s := obj.(type) {
	case *shape.Rectangle:
		rec[keyType] = typeRectangle
		rec[keyID] = s.ID.String()
		rec[keyX] = s.Position.X
		rec[keyY] = s.Position.Y
		rec[keyWidth] = s.Width
		rec[keyHeight] = s.Height
		rec[keyCornerRadius] = s.CornerRadius
		encodeStyle(s.Style, rec)
	case *shape.Ellipse:
		rec[keyType] = typeEllipse
		rec[keyID] = s.ID.String()
		rec[keyX] = s.Center.X
		rec[keyY] = s.Center.Y
		rec[keyWidth] = s.RadiusX
		rec[keyHeight] = s.RadiusY
		encodeStyle(s.Style, rec)
	case *shape.Line:
		rec[keyType] = typeLine
		rec[keyID] = s.ID.String()
		rec[keyStartX] = s.Start.X
		rec[keyStartY] = s.Start.Y
		rec[keyEndX] = s.End.X
		rec[keyEndY] = s.End.Y
		encodeStyle(s.Style, rec)
	case *shape.Arrow:
		rec[keyType] = typeArrow
		rec[keyID] = s.ID.String()
		rec[keyStartX] = s.Start.X
		rec[keyStartY] = s.Start.Y
		rec[keyEndX] = s.End.X
		rec[keyEndY] = s.End.Y
		encodeStyle(s.Style, rec)
	case *shape.Freehand:
		rec[keyType] = typeFreehand
		rec[keyID] = s.ID.String()
		points := make([]any, 0, len(s.Points))
		for _, p := range s.Points {
			points = append(points, []any{p.X, p.Y})
		}
		rec[keyPoints] = points
		encodeStyle(s.Style, rec)
	case *shape.Text:
		rec[keyType] = typeText
		rec[keyID] = s.ID.String()
		rec[keyX] = s.Position.X
		rec[keyY] = s.Position.Y
		rec[keyContent] = s.Content
		rec[keyFontSize] = s.FontSize
		rec[keyFontFamily] = int64(s.FontFamily)
		rec[keyFontWeight] = int64(s.FontWeight)
		encodeStyle(s.Style, rec)
	case *shape.Group:
		rec[keyType] = typeGroup
		rec[keyID] = s.ID.String()
		children := make([]any, 0, len(s.Children))
		for _, child := range s.Children {
			children = append(children, map[string]any(EncodeShape(child)))
		}
		rec[keyChildren] = children
	case *shape.Image:
		rec[keyType] = typeImage
		rec[keyID] = s.ID.String()
		rec[keyX] = s.Position.X
		rec[keyY] = s.Position.Y
		rec[keyWidth] = s.Width
		rec[keyHeight] = s.Height
		rec[keySourceWidth] = s.SourceWidth
		rec[keySourceHeight] = s.SourceHeight
		rec[keyFormat] = int64(s.Format)
		rec[keyDataBase64] = s.DataBase64
		encodeStyle(s.Style, rec)
	}
	return rec
}

func encodeStyle(st shape.Style, rec Record) {
	rec[keyStrokeR] = int64(st.StrokeColor.R)
	rec[keyStrokeG] = int64(st.StrokeColor.G)
	rec[keyStrokeB] = int64(st.StrokeColor.B)
	rec[keyStrokeA] = int64(st.StrokeColor.A)
	rec[keyStrokeWidth] = st.StrokeWidth
	rec[keySloppiness] = int64(st.Sloppiness)
	rec[keySeed] = int64(st.Seed)
	if st.FillColor != nil {
		rec[keyHasFill] = true
		rec[keyFillR] = int64(st.FillColor.R)
		rec[keyFillG] = int64(st.FillColor.G)
		rec[keyFillB] = int64(st.FillColor.B)
		rec[keyFillA] = int64(st.FillColor.A)
	} else {
		rec[keyHasFill] = false
	}
}

// DecodeShape converts a replicated record back into a drawable object.
// Malformed records decode to (nil, false) rather than failing the whole
// snapshot; the caller skips them.
func DecodeShape(rec Record) (shape.Object, bool) {
	typ, ok := rec.String(keyType)
	if !ok {
		decodeFailures.WithLabelValues("unknown").Inc()
		return nil, false
	}
	obj, ok := decodeTyped(rec, typ)
	if !ok {
		decodeFailures.WithLabelValues(typ).Inc()
	}
	return obj, ok
}

func decodeTyped(rec Record, typ string) (shape.Object, bool) {
	switch typ {
	case typeRectangle:
		return decodeRectangle(rec)
	case typeEllipse:
		return decodeEllipse(rec)
	case typeLine, typeArrow:
		return decodeSegment(rec, typ)
	case typeFreehand:
		return decodeFreehand(rec)
	case typeText:
		return decodeText(rec)
	case typeGroup:
		return decodeGroup(rec)
	case typeImage:
		return decodeImage(rec)
	}
	return nil, false
}

func decodeID(rec Record) (uuid.UUID, bool) {
	raw, ok := rec.String(keyID)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func decodeRectangle(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	x, okX := rec.Float(keyX)
	y, okY := rec.Float(keyY)
	w, okW := rec.Float(keyWidth)
	h, okH := rec.Float(keyHeight)
	if !okX || !okY || !okW || !okH {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	radius, _ := rec.Float(keyCornerRadius)
	return &shape.Rectangle{
		ID:           id,
		Position:     shape.Point{X: x, Y: y},
		Width:        w,
		Height:       h,
		CornerRadius: radius,
		Style:        st,
	}, true
}

func decodeEllipse(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	x, okX := rec.Float(keyX)
	y, okY := rec.Float(keyY)
	rx, okRX := rec.Float(keyWidth)
	ry, okRY := rec.Float(keyHeight)
	if !okX || !okY || !okRX || !okRY {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	return &shape.Ellipse{
		ID:      id,
		Center:  shape.Point{X: x, Y: y},
		RadiusX: rx,
		RadiusY: ry,
		Style:   st,
	}, true
}

func decodeSegment(rec Record, typ string) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	sx, okSX := rec.Float(keyStartX)
	sy, okSY := rec.Float(keyStartY)
	ex, okEX := rec.Float(keyEndX)
	ey, okEY := rec.Float(keyEndY)
	if !okSX || !okSY || !okEX || !okEY {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	start := shape.Point{X: sx, Y: sy}
	end := shape.Point{X: ex, Y: ey}
	if typ == typeArrow {
		return &shape.Arrow{ID: id, Start: start, End: end, Style: st}, true
	}
	return &shape.Line{ID: id, Start: start, End: end, Style: st}, true
}

func decodeFreehand(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	var points []shape.Point
	if raw, ok := rec.List(keyPoints); ok {
		for _, entry := range raw {
			pair, ok := entry.([]any)
			if !ok || len(pair) < 2 {
				continue
			}
			x, okX := asFloat(pair[0])
			y, okY := asFloat(pair[1])
			if !okX || !okY {
				continue
			}
			points = append(points, shape.Point{X: x, Y: y})
		}
	}
	return &shape.Freehand{ID: id, Points: points, Style: st}, true
}

func decodeText(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	x, okX := rec.Float(keyX)
	y, okY := rec.Float(keyY)
	content, okC := rec.String(keyContent)
	if !okX || !okY || !okC {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	size, ok := rec.Float(keyFontSize)
	if !ok {
		size = 20
	}
	family := shape.FamilySketch
	if v, ok := rec.Int(keyFontFamily); ok {
		family = decodeFontFamily(v)
	}
	weight := shape.WeightRegular
	if v, ok := rec.Int(keyFontWeight); ok {
		weight = decodeFontWeight(v)
	}
	return &shape.Text{
		ID:         id,
		Position:   shape.Point{X: x, Y: y},
		Content:    content,
		FontSize:   size,
		FontFamily: family,
		FontWeight: weight,
		Style:      st,
	}, true
}

func decodeGroup(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	raw, ok := rec.List(keyChildren)
	if !ok {
		return nil, false
	}
	var children []shape.Object
	for _, entry := range raw {
		childMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if child, ok := DecodeShape(Record(childMap)); ok {
			children = append(children, child)
		}
	}
	return &shape.Group{ID: id, Children: children}, true
}

func decodeImage(rec Record) (shape.Object, bool) {
	id, ok := decodeID(rec)
	if !ok {
		return nil, false
	}
	x, okX := rec.Float(keyX)
	y, okY := rec.Float(keyY)
	w, okW := rec.Float(keyWidth)
	h, okH := rec.Float(keyHeight)
	srcW, okSW := rec.Int(keySourceWidth)
	srcH, okSH := rec.Int(keySourceHeight)
	data, okD := rec.String(keyDataBase64)
	if !okX || !okY || !okW || !okH || !okSW || !okSH || !okD {
		return nil, false
	}
	st, ok := decodeStyle(rec)
	if !ok {
		return nil, false
	}
	format := shape.FormatPNG
	if v, ok := rec.Int(keyFormat); ok {
		format = decodeImageFormat(v)
	}
	return &shape.Image{
		ID:           id,
		Position:     shape.Point{X: x, Y: y},
		Width:        w,
		Height:       h,
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Format:       format,
		DataBase64:   data,
		Style:        st,
	}, true
}

func decodeStyle(rec Record) (shape.Style, bool) {
	r, okR := rec.Int(keyStrokeR)
	g, okG := rec.Int(keyStrokeG)
	b, okB := rec.Int(keyStrokeB)
	a, okA := rec.Int(keyStrokeA)
	width, okW := rec.Float(keyStrokeWidth)
	if !okR || !okG || !okB || !okA || !okW {
		return shape.Style{}, false
	}
	st := shape.Style{
		StrokeColor: shape.Color{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)},
		StrokeWidth: width,
		Sloppiness:  shape.SloppinessArtist,
	}
	if v, ok := rec.Int(keySloppiness); ok {
		st.Sloppiness = decodeSloppiness(v)
	}
	if v, ok := rec.Int(keySeed); ok {
		st.Seed = uint32(v)
	} else {
		// Old records predate seeds; backfill so rendering stays stable.
		st.Seed = nextSeed()
	}
	if hasFill, _ := rec.Bool(keyHasFill); hasFill {
		fr, _ := rec.Int(keyFillR)
		fg, _ := rec.Int(keyFillG)
		fb, _ := rec.Int(keyFillB)
		fa, ok := rec.Int(keyFillA)
		if !ok {
			fa = 255
		}
		st.FillColor = &shape.Color{R: uint8(fr), G: uint8(fg), B: uint8(fb), A: uint8(fa)}
	}
	return st, true
}

func decodeSloppiness(v int64) shape.Sloppiness {
	switch v {
	case 0:
		return shape.SloppinessArchitect
	case 1:
		return shape.SloppinessArtist
	}
	return shape.SloppinessCartoonist
}

func decodeFontFamily(v int64) shape.FontFamily {
	switch v {
	case 0:
		return shape.FamilySketch
	case 1:
		return shape.FamilySans
	}
	return shape.FamilySerif
}

func decodeFontWeight(v int64) shape.FontWeight {
	switch v {
	case 0:
		return shape.WeightLight
	case 1:
		return shape.WeightRegular
	}
	return shape.WeightHeavy
}

func decodeImageFormat(v int64) shape.ImageFormat {
	switch v {
	case 0:
		return shape.FormatPNG
	case 1:
		return shape.FormatJPEG
	}
	return shape.FormatWebP
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

var seedCounter atomic.Uint32

func nextSeed() uint32 {
	x := seedCounter.Add(1) * 0x9E3779B9
	x ^= x >> 16
	x *= 0x85EBCA6B
	x ^= x >> 13
	return x
}
