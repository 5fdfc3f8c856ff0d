package feed

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io/ioutil"
	"strings"
)

// MarkupExtension identifies the KML document inside a KMZ archive.
const MarkupExtension = ".kml"

// Extract returns the decompressed contents of the first entry, in directory
// order, whose name ends with MarkupExtension.
func Extract(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, &ExtractionError{Reason: "archive is malformed", Err: err}
	}
	for _, zf := range zr.File {
		if !strings.HasSuffix(zf.Name, MarkupExtension) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("cannot open %s", zf.Name), Err: err}
		}
		blob, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("cannot read %s", zf.Name), Err: err}
		}
		return blob, nil
	}
	return nil, &ExtractionError{Reason: fmt.Sprintf("no %s document found", MarkupExtension)}
}
