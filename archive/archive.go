// Package archive opens a software update archive and resolves its two
// layers of indirection: index.xml maps short names to archive-internal
// paths, and the manifest (itself located through the index) enumerates the
// logical blocks, their signatures and the order they are applied in.
package archive

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	log "log/slog"

	"github.com/fwbank/swupdate"
)

const (
	// indexName is the fixed path of the index document inside the archive.
	indexName = "index.xml"
	// manifestShortName is the reserved index entry locating the manifest.
	manifestShortName = "update_manifest"
	// manifestNamespace qualifies the manifest's logical block elements.
	manifestNamespace = "logical_blocks"
)

// LogicalBlockInfo is one manifest record: a logical block's id, short name,
// base64 RSA-PSS signature and resolved path inside the archive.
type LogicalBlockInfo struct {
	ID            string
	ShortName     string
	Signature     string
	PathInArchive string
}

// String renders the block for logs.
func (b LogicalBlockInfo) String() string {
	return fmt.Sprintf("%s logical block (id: 0x%s, signature: %s)", b.ShortName, b.ID, b.Signature)
}

// Archive is an opened software update archive. It is read-only; readers
// handed out by OpenReader are independent of each other. The archive must
// outlive all of them.
type Archive struct {
	path    string
	zr      *zip.ReadCloser
	entries map[string]*zip.File
	blocks  []LogicalBlockInfo
}

// indexDoc mirrors index.xml: a flat sequence of children, each carrying a
// short_name attribute and a namespaced path element.
type indexDoc struct {
	Entries []indexEntry `xml:",any"`
}

type indexEntry struct {
	ShortName string `xml:"short_name,attr"`
	Path      string `xml:"file_list path"`
}

// manifestDoc mirrors the manifest: a sequence of logical block elements in
// the logical_blocks namespace.
type manifestDoc struct {
	Blocks []manifestEntry `xml:",any"`
}

type manifestEntry struct {
	ID        string `xml:"logical_blocks id"`
	ShortName string `xml:"logical_blocks short_name"`
	Signature string `xml:"logical_blocks signature"`
}

// Open opens the archive at path and resolves index and manifest into the
// ordered logical block list. A missing index.xml, a missing update_manifest
// index entry, a manifest short name absent from the index or manifest
// elements outside the logical_blocks namespace are all fatal.
func Open(ctx context.Context, path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening software archive %s failed: %w", path, err)
	}
	a := &Archive{
		path:    path,
		zr:      zr,
		entries: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.entries[f.Name] = f
	}
	if err := a.indexLogicalBlocks(); err != nil {
		zr.Close()
		return nil, err
	}
	log.Debug(fmt.Sprintf("software archive %s: %d logical blocks indexed", path, len(a.blocks)))
	return a, nil
}

func (a *Archive) indexLogicalBlocks() error {
	index, err := a.readIndex()
	if err != nil {
		return err
	}
	manifest, err := a.readManifest(index)
	if err != nil {
		return err
	}
	return a.joinManifestAndIndex(manifest, index)
}

func (a *Archive) readIndex() (*indexDoc, error) {
	content, err := a.entryContent(indexName)
	if err != nil {
		return nil, fmt.Errorf("software archive %s has no readable %s: %w", a.path, indexName, err)
	}
	var index indexDoc
	if err := xml.Unmarshal(content, &index); err != nil {
		return nil, fmt.Errorf("parsing %s failed: %w", indexName, err)
	}
	return &index, nil
}

func (a *Archive) readManifest(index *indexDoc) (*manifestDoc, error) {
	manifestPath, err := index.pathOf(manifestShortName)
	if err != nil {
		return nil, err
	}
	content, err := a.entryContent(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s failed: %w", manifestPath, err)
	}
	var manifest manifestDoc
	if err := xml.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest %s failed: %w", manifestPath, err)
	}
	return &manifest, nil
}

// joinManifestAndIndex resolves each manifest record's archive path through
// the index, preserving manifest order.
func (a *Archive) joinManifestAndIndex(manifest *manifestDoc, index *indexDoc) error {
	a.blocks = make([]LogicalBlockInfo, 0, len(manifest.Blocks))
	for _, mb := range manifest.Blocks {
		if mb.ID == "" || mb.ShortName == "" {
			// Elements outside the expected namespace unmarshal to empty fields.
			return fmt.Errorf("manifest entry is missing id or short_name in namespace %q", manifestNamespace)
		}
		pathInArchive, err := index.pathOf(mb.ShortName)
		if err != nil {
			return err
		}
		a.blocks = append(a.blocks, LogicalBlockInfo{
			ID:            mb.ID,
			ShortName:     mb.ShortName,
			Signature:     mb.Signature,
			PathInArchive: pathInArchive,
		})
	}
	return nil
}

func (d *indexDoc) pathOf(shortName string) (string, error) {
	for _, e := range d.Entries {
		if e.ShortName == shortName {
			if e.Path == "" {
				return "", fmt.Errorf("index entry %s has no path in namespace file_list", shortName)
			}
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("short name %s is not listed in %s", shortName, indexName)
}

// entryContent extracts a whole (small) archive entry, used for the XML documents.
func (a *Archive) entryContent(name string) ([]byte, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("archive entry %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// LogicalBlocks returns the manifest's logical blocks in declared order.
func (a *Archive) LogicalBlocks() []LogicalBlockInfo {
	out := make([]LogicalBlockInfo, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// OpenReader hands out a fresh, linearly consumable decompressed stream of
// the block's archive entry. Callers own closing it. Two readers for the
// same entry are independent.
func (a *Archive) OpenReader(info LogicalBlockInfo) (io.ReadCloser, error) {
	f, ok := a.entries[info.PathInArchive]
	if !ok {
		return nil, swerrRead(info.ID, fmt.Errorf("archive entry %s not found", info.PathInArchive))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, swerrRead(info.ID, err)
	}
	return rc, nil
}

// Path returns the archive's filesystem path, letting concurrent workers
// open their own handles instead of sharing this one.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the underlying archive file. Readers handed out earlier
// must not be used afterwards.
func (a *Archive) Close() error {
	return a.zr.Close()
}

func swerrRead(id string, err error) error {
	return swupdate.Error{Code: swupdate.LogicalBlockRead, LogicalBlockID: id, Err: err}
}
