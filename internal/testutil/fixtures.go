package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io/ioutil"
	"path"
	"runtime"
	"strings"
	"testing"
	"time"
)

// Placemark describes one entry of a generated KML document. Empty fields
// leave the corresponding element out.
type Placemark struct {
	Name        string
	Coordinates string
	When        string
}

// Observation returns a well-formed Placemark for the given point.
func Observation(lon, lat float64, at time.Time) Placemark {
	return Placemark{
		Coordinates: fmt.Sprintf("%g,%g,0", lon, lat),
		When:        at.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// KML renders a KML 2.2 document with the given placemarks.
func KML(placemarks ...Placemark) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<kml xmlns="http://www.opengis.net/kml/2.2"><Document><Folder>` + "\n")
	for i, pm := range placemarks {
		name := pm.Name
		if name == "" {
			name = fmt.Sprintf("obs-%d", i)
		}
		fmt.Fprintf(&b, "<Placemark><name>%s</name>", name)
		if pm.When != "" {
			fmt.Fprintf(&b, "<TimeStamp><when>%s</when></TimeStamp>", pm.When)
		}
		if pm.Coordinates != "" {
			fmt.Fprintf(&b, "<Point><coordinates>%s</coordinates></Point>", pm.Coordinates)
		}
		b.WriteString("</Placemark>\n")
	}
	b.WriteString("</Folder></Document></kml>\n")
	return []byte(b.String())
}

// Entry is a file stored in a generated archive.
type Entry struct {
	Name string
	Body []byte
}

// KMZ packs the entries into a zip archive, in order.
func KMZ(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("error creating archive entry %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Body); err != nil {
			t.Fatalf("error writing archive entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("error closing archive: %v", err)
	}
	return buf.Bytes()
}

// Fixture loads a file from the testdata directory at the repository root.
func Fixture(t testing.TB, relPath string) []byte {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("error loading caller")
	}

	p := path.Join(path.Dir(filename), "../../", "testdata", relPath)

	bytes, err := ioutil.ReadFile(p)
	if err != nil {
		t.Fatalf("error loading fixture %s: %v", p, err)
	}

	return bytes
}
