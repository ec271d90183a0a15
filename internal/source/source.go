package source

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Source is a paged visual asset: a PDF or a single image
type Source interface {
	PageCount() int
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	if index < 0 || index >= f.doc.NumPage() {
		return nil, fmt.Errorf("%s: page %d out of range (1-%d)", f.path, index+1, f.doc.NumPage())
	}
	return f.doc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}

// Open picks the source implementation by extension
func Open(path string) (Source, error) {
	if IsPDF(path) {
		return NewFitzPDFSource(path)
	}
	return NewImageSource(path)
}

func IsPDF(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}

// SplitRef splits "deck.pdf#3" into the file and a zero-based page index.
// References without a page select the first page.
func SplitRef(ref string) (string, int) {
	path, frag, ok := strings.Cut(ref, "#")
	if !ok {
		return ref, 0
	}
	page, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(frag), "page="))
	if err != nil || page < 1 {
		return path, 0
	}
	return path, page - 1
}

// LoadRef decodes one page or image referenced by content
func LoadRef(ref string, dpi int) (image.Image, error) {
	path, page := SplitRef(ref)
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if page >= src.PageCount() {
		return nil, fmt.Errorf("%s: page %d out of range (1-%d)", path, page+1, src.PageCount())
	}
	return src.RenderPage(page, dpi)
}
