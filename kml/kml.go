// Package kml extracts timestamped point observations from KML 2.2
// documents.
//
// Only two things are read from each Placemark: the first Point coordinates
// and the first TimeStamp instant found among its descendants. Placemarks
// missing either of them are skipped, but a value that is present and cannot
// be parsed fails the whole document.
package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Namespace is the XML namespace of KML 2.2 documents.
const Namespace = "http://www.opengis.net/kml/2.2"

// PointRecord is a single observation.
type PointRecord struct {
	Longitude  float64
	Latitude   float64
	ObservedAt time.Time
}

// ParseError reports a malformed coordinate or timestamp value.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("kml: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// node is a generic element tree used to search the Placemark descendants.
type node struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
	Nodes   []node `xml:",any"`
}

// Parse returns the point records of the document in document order.
func Parse(blob []byte) ([]PointRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(blob))
	var records []PointRecord
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "kml: XML decode")
		}
		el, ok := tok.(xml.StartElement)
		if !ok || !isKML(el.Name, "Placemark") {
			continue
		}
		var pm node
		if err := dec.DecodeElement(&pm, &el); err != nil {
			return nil, errors.Wrap(err, "kml: Placemark decode")
		}
		rec, ok, err := placemark(&pm)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// placemark turns a decoded Placemark into a record. The boolean is false
// when the Placemark has no point coordinates or no timestamp.
func placemark(pm *node) (PointRecord, bool, error) {
	coords := pm.find("Point", "coordinates")
	when := pm.find("TimeStamp", "when")
	if coords == nil || when == nil {
		return PointRecord{}, false, nil
	}
	lon, lat, err := ParseCoordinates(coords.Text)
	if err != nil {
		return PointRecord{}, false, err
	}
	ts, err := ParseTimestamp(when.Text)
	if err != nil {
		return PointRecord{}, false, err
	}
	return PointRecord{Longitude: lon, Latitude: lat, ObservedAt: ts}, true, nil
}

// find returns the first descendant named parent having a direct child named
// child, in document order.
func (n *node) find(parent, child string) *node {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if isKML(c.XMLName, parent) {
			for j := range c.Nodes {
				if isKML(c.Nodes[j].XMLName, child) {
					return &c.Nodes[j]
				}
			}
		}
		if found := c.find(parent, child); found != nil {
			return found
		}
	}
	return nil
}

func isKML(name xml.Name, local string) bool {
	return name.Space == Namespace && name.Local == local
}

// ParseCoordinates reads "lon,lat[,alt]". The altitude is ignored.
func ParseCoordinates(text string) (lon, lat float64, err error) {
	text = strings.TrimSpace(text)
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return 0, 0, &ParseError{Field: "coordinates", Value: text, Err: errors.New("expected lon,lat")}
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, &ParseError{Field: "longitude", Value: parts[0], Err: err}
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, &ParseError{Field: "latitude", Value: parts[1], Err: err}
	}
	return lon, lat, nil
}

// Accepted ISO-8601 layouts. Values without a zone offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp reads an ISO-8601 instant. A trailing "Z" means UTC.
func ParseTimestamp(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	value := text
	if strings.HasSuffix(value, "Z") {
		value = strings.TrimSuffix(value, "Z") + "+00:00"
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Field: "timestamp", Value: text, Err: lastErr}
}
