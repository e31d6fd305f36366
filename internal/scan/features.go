// Package scan screens uploaded PDFs for malicious structure before any
// of their content is indexed.
package scan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdfsearch/internal/apperr"
	"pdfsearch/internal/text"
)

func init() {
	// pdfcpu otherwise creates a config dir under the user's home on first use
	api.DisableConfigDir()
}

// Feature is one named entry of a FeatureVector.
type Feature struct {
	Name  string
	Value float64
}

// FeatureVector is the structural profile of a PDF that the classifier
// consumes. It is derived from the file bytes alone and never stored.
type FeatureVector struct {
	PDFSize       int64
	MetadataSize  int
	Pages         int
	XrefLength    int
	IsEncrypted   bool
	EmbeddedFiles int
	Images        int
	Text          bool
	Header        bool
	Obj           int
	Endobj        int
	Stream        int
	Endstream     int
	Xref          int
	Trailer       int
	Startxref     int
	PageNo        int
	Encrypt       int
	ObjStm        int
	JavaScript    bool
	AA            bool
	OpenAction    bool
	AcroForm      bool
	JBIG2Decode   bool
	RichMedia     bool
	Launch        bool
	EmbeddedFile  bool
	XFA           bool
	Colors        int
}

// FeatureNames is the order in which features are presented to the
// classifier.
var FeatureNames = []string{
	"pdfsize", "metadata_size", "pages", "xref_length", "is_encrypted",
	"embedded_files", "images", "text", "header",
	"obj", "endobj", "stream", "endstream", "xref", "trailer", "startxref",
	"pageno", "encrypt", "objstm", "javascript", "aa", "openaction",
	"acroform", "jbig2decode", "richmedia", "launch", "embeddedfile", "xfa",
	"colors",
}

// Fields returns the features in FeatureNames order.
func (v FeatureVector) Fields() []Feature {
	values := []float64{
		float64(v.PDFSize), float64(v.MetadataSize), float64(v.Pages), float64(v.XrefLength), flag(v.IsEncrypted),
		float64(v.EmbeddedFiles), float64(v.Images), flag(v.Text), flag(v.Header),
		float64(v.Obj), float64(v.Endobj), float64(v.Stream), float64(v.Endstream), float64(v.Xref), float64(v.Trailer), float64(v.Startxref),
		float64(v.PageNo), float64(v.Encrypt), float64(v.ObjStm), flag(v.JavaScript), flag(v.AA), flag(v.OpenAction),
		flag(v.AcroForm), flag(v.JBIG2Decode), flag(v.RichMedia), flag(v.Launch), flag(v.EmbeddedFile), flag(v.XFA),
		float64(v.Colors),
	}
	fields := make([]Feature, len(FeatureNames))
	for i, name := range FeatureNames {
		fields[i] = Feature{Name: name, Value: values[i]}
	}
	return fields
}

// Map is the name-keyed view of Fields.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(FeatureNames))
	for _, f := range v.Fields() {
		m[f.Name] = f.Value
	}
	return m
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var headerPattern = regexp.MustCompile(`%PDF-\d\.\d`)

// ExtractFeatures profiles raw PDF bytes. Structural fields come from a
// relaxed pdfcpu parse; token counts are taken from the raw bytes so that
// obfuscated or damaged objects still show up. A file pdfcpu cannot read
// at all yields an ErrScan error and no vector.
func ExtractFeatures(data []byte) (FeatureVector, error) {
	if len(data) == 0 {
		return FeatureVector{}, apperr.Scan("empty file", nil)
	}

	info, err := readStructure(bytes.NewReader(data))
	if err != nil {
		return FeatureVector{}, apperr.Scan("parse pdf structure", err)
	}

	head := data[:min(len(data), 10)]
	v := FeatureVector{
		PDFSize:      int64(len(data)),
		MetadataSize: info.metadataSize,
		Pages:        info.pages,
		XrefLength:   info.xrefLength,
		IsEncrypted:  info.encrypted,
		Header:       headerPattern.Match(head),

		Obj:       bytes.Count(data, []byte("obj")),
		Endobj:    bytes.Count(data, []byte("endobj")),
		Stream:    bytes.Count(data, []byte("stream")),
		Endstream: bytes.Count(data, []byte("endstream")),
		Xref:      bytes.Count(data, []byte("xref")),
		Trailer:   bytes.Count(data, []byte("trailer")),
		Startxref: bytes.Count(data, []byte("startxref")),
		PageNo:    info.pages,

		Encrypt:       bytes.Count(data, []byte("/Encrypt")),
		ObjStm:        bytes.Count(data, []byte("/ObjStm")),
		EmbeddedFiles: bytes.Count(data, []byte("/EmbeddedFiles")),
		Images:        bytes.Count(data, []byte("/Image")),
		Colors:        bytes.Count(data, []byte("/Colors")),

		JavaScript:   bytes.Contains(data, []byte("/JS")) || bytes.Contains(data, []byte("/JavaScript")),
		AA:           bytes.Contains(data, []byte("/AA")),
		OpenAction:   bytes.Contains(data, []byte("/OpenAction")),
		AcroForm:     bytes.Contains(data, []byte("/AcroForm")),
		JBIG2Decode:  bytes.Contains(data, []byte("/JBIG2Decode")),
		RichMedia:    bytes.Contains(data, []byte("/RichMedia")),
		Launch:       bytes.Contains(data, []byte("/Launch")),
		EmbeddedFile: bytes.Contains(data, []byte("/EmbeddedFile")),
		XFA:          bytes.Contains(data, []byte("/XFA")),
	}

	if doc, err := text.Extract(data); err == nil && strings.TrimSpace(doc.Text) != "" {
		v.Text = true
	}

	return v, nil
}

func ExtractFeaturesFromFile(path string) (FeatureVector, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a server-side temp file
	if err != nil {
		return FeatureVector{}, apperr.Scan("read file", err)
	}
	return ExtractFeatures(data)
}

type structure struct {
	pages        int
	xrefLength   int
	metadataSize int
	encrypted    bool
}

func readStructure(rs io.ReadSeeker) (s structure, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadAndValidate(rs, conf)
	if err != nil {
		return structure{}, err
	}

	s.pages = ctx.PageCount
	s.xrefLength = len(ctx.Table)
	s.encrypted = ctx.Encrypt != nil
	// Configuration also has a CreationDate; the document info lives in the xref table
	x := ctx.XRefTable
	for _, field := range []string{x.Title, x.Author, x.Subject, x.Creator, x.Producer, x.CreationDate, x.ModDate} {
		s.metadataSize += len(field)
	}
	return s, nil
}
